package saconsensus

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/sha3"
)

// BlockVersion is the only header version this engine produces.
const BlockVersion uint8 = 1

// BlockHeader is the hashed part of a block.
type BlockHeader struct {
	Version       uint8
	Height        uint64
	Timestamp     int64
	PrevBlockHash Hash

	// Seed is the generator's signature over the previous seed.
	Seed []byte

	StateHash       Hash
	GeneratorPubKey []byte
	Iteration       uint8
	TxRoot          Hash

	FailedIterations IterationsInfo
}

// Block is a candidate block and, once decided, its Attestation.
type Block struct {
	Header BlockHeader
	Txs    [][]byte

	// Attestation is set only on a winning block.
	// It is not covered by the block hash.
	Attestation *Attestation
}

// Hash returns the SHA3-256 of the header's canonical hashing layout.
func (h BlockHeader) Hash() Hash {
	w := sha3.New256()

	var buf [8]byte
	writeU8(w, h.Version)
	writeU64(w, &buf, h.Height)
	writeU64(w, &buf, uint64(h.Timestamp))
	_, _ = w.Write(h.PrevBlockHash[:])
	writeBytes(w, &buf, h.Seed)
	_, _ = w.Write(h.StateHash[:])
	writeBytes(w, &buf, h.GeneratorPubKey)
	writeU8(w, h.Iteration)
	_, _ = w.Write(h.TxRoot[:])

	atts := h.FailedIterations.Attestations
	writeU64(w, &buf, uint64(len(atts)))
	for _, a := range atts {
		if a == nil {
			writeU8(w, 0)
			continue
		}
		writeU8(w, 1)
		_, _ = w.Write(a.BlockHash[:])
		writeStepVotes(w, &buf, a.FirstReduction)
		writeStepVotes(w, &buf, a.SecondReduction)
	}

	var out Hash
	w.Sum(out[:0])
	return out
}

// Hash is shorthand for b.Header.Hash().
func (b Block) Hash() Hash {
	return b.Header.Hash()
}

// TxRoot returns the commitment to txs stored in [BlockHeader.TxRoot].
func TxRoot(txs [][]byte) Hash {
	w := sha3.New256()
	var buf [8]byte
	writeU64(w, &buf, uint64(len(txs)))
	for _, tx := range txs {
		writeBytes(w, &buf, tx)
	}

	var out Hash
	w.Sum(out[:0])
	return out
}

func writeU8(w hash.Hash, v uint8) {
	_, _ = w.Write([]byte{v})
}

func writeU64(w hash.Hash, buf *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = w.Write(buf[:])
}

func writeBytes(w hash.Hash, buf *[8]byte, b []byte) {
	writeU64(w, buf, uint64(len(b)))
	_, _ = w.Write(b)
}

func writeStepVotes(w hash.Hash, buf *[8]byte, sv StepVotes) {
	writeU64(w, buf, sv.Bitset)
	writeBytes(w, buf, sv.AggregateSignature)
}
