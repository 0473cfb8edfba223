package saconsensus

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the length in bytes of block hashes.
const HashSize = 32

// Hash identifies a candidate block.
// The zero Hash means "no candidate".
type Hash [HashSize]byte

// HashFromBytes copies b into a new Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether h is the empty hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first four bytes of h in hex, for log output.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}
