package saconsensus

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
)

// Committee is the set of provisioners selected for one (round, step).
//
// Members are ordered by public key,
// and a member's position in that order is its bit in positional bitsets.
// Committees are immutable once extracted.
type Committee struct {
	cfg SortitionConfig

	members []committeeMember
	index   map[string]int

	total uint64
}

type committeeMember struct {
	key      gblsminsig.PubKey
	keyBytes string
	weight   uint64
}

func newCommittee(p *Provisioners, cfg SortitionConfig, weights map[int]uint64) *Committee {
	c := &Committee{
		cfg:     cfg,
		members: make([]committeeMember, 0, len(weights)),
		index:   make(map[string]int, len(weights)),
	}

	// Provisioners are already sorted by key,
	// so iterating in provisioner order keeps the committee sorted too.
	for i := range p.members {
		w, ok := weights[i]
		if !ok {
			continue
		}

		pv := p.members[i]
		c.index[pv.keyBytes] = len(c.members)
		c.members = append(c.members, committeeMember{
			key:      pv.PubKey,
			keyBytes: pv.keyBytes,
			weight:   w,
		})
		c.total += w
	}

	return c
}

// Config returns the sortition config the committee was extracted from.
func (c *Committee) Config() SortitionConfig {
	return c.cfg
}

// Size returns the number of distinct members.
func (c *Committee) Size() int {
	return len(c.members)
}

// TotalWeight is the sum of every member's voting weight.
func (c *Committee) TotalWeight() uint64 {
	return c.total
}

// QuorumWeight returns the minimal cumulative weight certifying an outcome:
// strictly more than two thirds of the total weight.
// An empty committee reports a quorum of 1, which no vote can satisfy.
func (c *Committee) QuorumWeight() uint64 {
	return c.total*2/3 + 1
}

// IsMember reports whether the compressed public key is in the committee.
func (c *Committee) IsMember(keyBytes []byte) bool {
	_, ok := c.index[string(keyBytes)]
	return ok
}

// VotesFor returns the voting weight of the given key,
// or zero if the key is not a member.
func (c *Committee) VotesFor(keyBytes []byte) uint64 {
	i, ok := c.index[string(keyBytes)]
	if !ok {
		return 0
	}
	return c.members[i].weight
}

// Position returns the member's bit position.
func (c *Committee) Position(keyBytes []byte) (int, bool) {
	i, ok := c.index[string(keyBytes)]
	return i, ok
}

// PubKeyAt returns the key of the member at the given position.
func (c *Committee) PubKeyAt(pos int) gblsminsig.PubKey {
	return c.members[pos].key
}

// WeightAt returns the weight of the member at the given position.
func (c *Committee) WeightAt(pos int) uint64 {
	return c.members[pos].weight
}

// Bits returns the positional bitset of the given voters.
// Keys that are not members are ignored.
func (c *Committee) Bits(voters [][]byte) uint64 {
	bs := bitset.New(uint(len(c.members)))
	for _, v := range voters {
		if i, ok := c.index[string(v)]; ok {
			bs.Set(uint(i))
		}
	}
	return PackBitset(bs)
}

// SubCommittee is the result of [Committee.Intersect].
type SubCommittee struct {
	Keys   []gblsminsig.PubKey
	Weight uint64
}

// Intersect returns the members whose positions are set in bits.
// Bits beyond the committee size are ignored;
// callers that must reject them should check [Committee.ValidBits] first.
func (c *Committee) Intersect(bits uint64) SubCommittee {
	bs := UnpackBitset(bits)

	var sc SubCommittee
	for u, ok := bs.NextSet(0); ok && int(u) < len(c.members); u, ok = bs.NextSet(u + 1) {
		m := c.members[u]
		sc.Keys = append(sc.Keys, m.key)
		sc.Weight += m.weight
	}
	return sc
}

// ValidBits reports whether bits only references positions within the committee.
func (c *Committee) ValidBits(bits uint64) bool {
	if len(c.members) >= 64 {
		return true
	}
	return bits>>uint(len(c.members)) == 0
}

// PackBitset converts a bitset of at most 64 positions to its wire form.
func PackBitset(bs *bitset.BitSet) uint64 {
	var out uint64
	for u, ok := bs.NextSet(0); ok && u < 64; u, ok = bs.NextSet(u + 1) {
		out |= 1 << u
	}
	return out
}

// UnpackBitset is the inverse of [PackBitset].
func UnpackBitset(bits uint64) *bitset.BitSet {
	return bitset.From([]uint64{bits})
}
