package saconsensus

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// MaxCommitteeSize bounds committee sizes,
// so that a committee's positional bitset fits in a uint64.
const MaxCommitteeSize = 64

// SortitionConfig is the full input to committee extraction,
// besides the provisioner set.
type SortitionConfig struct {
	Seed          []byte
	Round         uint64
	Step          uint8
	CommitteeSize int
}

// SortitionHash returns the hash used for the i-th extraction:
//
//	SHA3-256(round LE u64 || i LE u32 || step u8 || seed)
func SortitionHash(cfg SortitionConfig, i uint32) [32]byte {
	var prefix [8 + 4 + 1]byte
	binary.LittleEndian.PutUint64(prefix[:8], cfg.Round)
	binary.LittleEndian.PutUint32(prefix[8:12], i)
	prefix[12] = cfg.Step

	h := sha3.New256()
	_, _ = h.Write(prefix[:]) // Hash writes never fail.
	_, _ = h.Write(cfg.Seed)

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// ExtractCommittee deterministically selects the committee for cfg.
//
// Each extraction scores the sortition hash modulo the remaining eligible stake,
// walks the provisioners in order to find the one covering that score,
// and subtracts up to one [StakeUnit] from that provisioner.
// Repeated extractions of one provisioner accumulate as voting weight
// rather than as extra seats.
//
// An empty provisioner set, or one without eligible stake,
// yields an empty committee whose quorum can never be reached.
func ExtractCommittee(p *Provisioners, cfg SortitionConfig) *Committee {
	size := min(cfg.CommitteeSize, MaxCommitteeSize)

	remaining := make([]uint64, p.Len())
	var total uint64
	for i, m := range p.members {
		if m.Stake.EligibleSince <= cfg.Round {
			remaining[i] = m.Stake.Value
			total += m.Stake.Value
		}
	}

	weights := make(map[int]uint64, size)

	var hashInt, totalInt, score big.Int
	var counter uint32
	for extracted := 0; extracted < size && total > 0; extracted++ {
		h := SortitionHash(cfg, counter)
		counter++

		hashInt.SetBytes(h[:])
		totalInt.SetUint64(total)
		s := score.Mod(&hashInt, &totalInt).Uint64()

		idx := -1
		for i, r := range remaining {
			if r == 0 {
				continue
			}
			if s < r {
				idx = i
				break
			}
			s -= r
		}

		if idx < 0 {
			// Impossible while s < total, which the modulus guarantees.
			break
		}

		sub := min(StakeUnit, remaining[idx])
		remaining[idx] -= sub
		total -= sub
		weights[idx]++
	}

	return newCommittee(p, cfg, weights)
}
