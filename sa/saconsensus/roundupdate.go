package saconsensus

import (
	"bytes"

	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
)

// RoundUpdate is the immutable description of a round,
// created once when the round starts.
type RoundUpdate struct {
	Round uint64

	// Seed is the sortition seed for the round,
	// i.e. the seed field of the previous block.
	Seed []byte

	// Hash of the previous block.
	Hash Hash

	Timestamp int64

	// Signer holds the local provisioner's secret key.
	Signer gblsminsig.Signer

	pubKeyBytes []byte
}

// NewRoundUpdate returns a RoundUpdate with the public key bytes precomputed.
func NewRoundUpdate(round uint64, seed []byte, prevHash Hash, timestamp int64, signer gblsminsig.Signer) RoundUpdate {
	return RoundUpdate{
		Round:     round,
		Seed:      bytes.Clone(seed),
		Hash:      prevHash,
		Timestamp: timestamp,
		Signer:    signer,

		pubKeyBytes: signer.BLSPubKey().PubKeyBytes(),
	}
}

// PubKey returns the local provisioner's public key.
func (ru RoundUpdate) PubKey() gblsminsig.PubKey {
	return ru.Signer.BLSPubKey()
}

// PubKeyBytes returns the compressed local public key.
func (ru RoundUpdate) PubKeyBytes() []byte {
	if ru.pubKeyBytes == nil {
		return ru.Signer.BLSPubKey().PubKeyBytes()
	}
	return ru.pubKeyBytes
}

// NextRoundUpdate returns the RoundUpdate for the round following prev,
// seeded by prev's header.
func NextRoundUpdate(prev Block, signer gblsminsig.Signer) RoundUpdate {
	return NewRoundUpdate(prev.Header.Height+1, prev.Header.Seed, prev.Hash(), prev.Header.Timestamp, signer)
}
