package saconsensus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto"
)

// VoteSignBytesSize is the length of the output of [VoteSignBytes].
const VoteSignBytesSize = 8 + 1 + HashSize

// VoteSignBytes returns the exact bytes every vote signs:
//
//	round (LE u64) || step (u8) || block_hash (32 bytes)
//
// Verifiers rebuild this layout from the message header.
func VoteSignBytes(round uint64, step uint8, blockHash Hash) []byte {
	out := make([]byte, VoteSignBytesSize)
	binary.LittleEndian.PutUint64(out[:8], round)
	out[8] = step
	copy(out[9:], blockHash[:])
	return out
}

// SignHeader signs the vote bytes of h with s.
func SignHeader(ctx context.Context, s gcrypto.Signer, h Header) ([]byte, error) {
	sig, err := s.Sign(ctx, VoteSignBytes(h.Round, h.Step, h.BlockHash))
	if err != nil {
		return nil, fmt.Errorf("failed to sign vote: %w", err)
	}
	return sig, nil
}
