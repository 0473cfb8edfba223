package saconsensus

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"
	"slices"

	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
)

// StakeUnit is the amount of stake a single sortition extraction consumes.
// A provisioner bonding N units may be extracted up to N times,
// each extraction adding one unit of voting weight in the committee.
const StakeUnit uint64 = 1_000_000_000

// Stake is the bonded amount of a provisioner.
type Stake struct {
	Value uint64

	// EligibleSince is the first round in which the stake takes part in sortition.
	EligibleSince uint64
}

// Provisioner is a stake-bonded participant eligible for sortition.
type Provisioner struct {
	PubKey gblsminsig.PubKey
	Stake  Stake

	keyBytes string
}

// KeyBytes returns the compressed public key as a string,
// suitable as a map key.
func (p Provisioner) KeyBytes() string {
	return p.keyBytes
}

// Provisioners is an immutable snapshot of the provisioner set for one round,
// ordered by compressed public key.
// A provisioner's position is its index in that order.
type Provisioners struct {
	members []Provisioner
	byKey   map[string]int
}

// NewProvisioners sorts ps by public key and returns the snapshot.
// Duplicate keys, or total stake overflowing a uint64, are errors.
func NewProvisioners(ps []Provisioner) (*Provisioners, error) {
	members := make([]Provisioner, len(ps))
	for i, p := range ps {
		p.keyBytes = string(p.PubKey.PubKeyBytes())
		members[i] = p
	}

	slices.SortFunc(members, func(a, b Provisioner) int {
		return bytes.Compare([]byte(a.keyBytes), []byte(b.keyBytes))
	})

	byKey := make(map[string]int, len(members))
	var total uint64
	for i, p := range members {
		if _, ok := byKey[p.keyBytes]; ok {
			return nil, fmt.Errorf("duplicate provisioner key %x", p.keyBytes)
		}
		byKey[p.keyBytes] = i

		var carry uint64
		total, carry = bits.Add64(total, p.Stake.Value, 0)
		if carry != 0 {
			return nil, errors.New("total provisioner stake overflows uint64")
		}
	}

	return &Provisioners{
		members: members,
		byKey:   byKey,
	}, nil
}

// Len returns the number of provisioners.
func (p *Provisioners) Len() int {
	return len(p.members)
}

// At returns the provisioner at position i.
func (p *Provisioners) At(i int) Provisioner {
	return p.members[i]
}

// Get looks up a provisioner by its compressed public key.
func (p *Provisioners) Get(keyBytes []byte) (Provisioner, bool) {
	i, ok := p.byKey[string(keyBytes)]
	if !ok {
		return Provisioner{}, false
	}
	return p.members[i], true
}

// EligibleWeight returns the sum of stake eligible in the given round.
func (p *Provisioners) EligibleWeight(round uint64) uint64 {
	var total uint64
	for _, m := range p.members {
		if m.Stake.EligibleSince <= round {
			total += m.Stake.Value
		}
	}
	return total
}
