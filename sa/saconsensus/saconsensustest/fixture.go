// Package saconsensustest contains fixtures for tests
// that need provisioners, committees, and signed messages.
package saconsensustest

import (
	"context"
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
	"github.com/gordian-engine/gsa/gcrypto/gblsminsig/gblsminsigtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Fixture is a set of deterministic provisioners with their signers.
type Fixture struct {
	Signers      []gblsminsig.Signer
	Provisioners *saconsensus.Provisioners

	// Seed used by RoundUpdate and Committee.
	Seed []byte

	byKey map[string]int
}

// NewFixture returns a fixture of n provisioners,
// each bonding stakeUnits whole units of stake eligible from round 0.
//
// With stakeUnits == 1 and a committee size of at least n,
// every provisioner is extracted exactly once with weight 1.
func NewFixture(n int, stakeUnits uint64) *Fixture {
	signers := gblsminsigtest.DeterministicSigners(n)

	ps := make([]saconsensus.Provisioner, n)
	byKey := make(map[string]int, n)
	for i, s := range signers {
		ps[i] = saconsensus.Provisioner{
			PubKey: s.BLSPubKey(),
			Stake: saconsensus.Stake{
				Value: stakeUnits * saconsensus.StakeUnit,
			},
		}
		byKey[string(s.BLSPubKey().PubKeyBytes())] = i
	}

	p, err := saconsensus.NewProvisioners(ps)
	if err != nil {
		panic(fmt.Errorf("failed to build provisioners: %w", err))
	}

	return &Fixture{
		Signers:      signers,
		Provisioners: p,
		Seed:         []byte("fixture seed"),
		byKey:        byKey,
	}
}

// RoundUpdate returns the round update for the signer at index i.
func (f *Fixture) RoundUpdate(i int, round uint64) saconsensus.RoundUpdate {
	return saconsensus.NewRoundUpdate(round, f.Seed, saconsensus.Hash{}, 0, f.Signers[i])
}

// Committee extracts the committee for the given round and step.
func (f *Fixture) Committee(round uint64, step uint8, size int) *saconsensus.Committee {
	return saconsensus.ExtractCommittee(f.Provisioners, saconsensus.SortitionConfig{
		Seed:          f.Seed,
		Round:         round,
		Step:          step,
		CommitteeSize: size,
	})
}

// SignerFor returns the signer owning the compressed public key.
func (f *Fixture) SignerFor(keyBytes []byte) gblsminsig.Signer {
	i, ok := f.byKey[string(keyBytes)]
	if !ok {
		panic(fmt.Errorf("no signer for key %x", keyBytes))
	}
	return f.Signers[i]
}

// CommitteeSigners returns the signers of every committee member, in position order.
func (f *Fixture) CommitteeSigners(c *saconsensus.Committee) []gblsminsig.Signer {
	out := make([]gblsminsig.Signer, c.Size())
	for i := range out {
		out[i] = f.SignerFor(c.PubKeyAt(i).PubKeyBytes())
	}
	return out
}

// Reduction returns a signed reduction vote.
func (f *Fixture) Reduction(s gblsminsig.Signer, round uint64, step uint8, hash saconsensus.Hash) saconsensus.Message {
	h := saconsensus.Header{
		PubKeyBLS: s.BLSPubKey().PubKeyBytes(),
		Round:     round,
		Step:      step,
		BlockHash: hash,
	}
	return saconsensus.NewMessage(h, saconsensus.Reduction{Signature: f.sign(s, h)})
}

// Agreement returns a signed agreement carrying the given step votes.
func (f *Fixture) Agreement(
	s gblsminsig.Signer, round uint64, step uint8, hash saconsensus.Hash,
	first, second saconsensus.StepVotes,
) saconsensus.Message {
	h := saconsensus.Header{
		PubKeyBLS: s.BLSPubKey().PubKeyBytes(),
		Round:     round,
		Step:      step,
		BlockHash: hash,
	}
	return saconsensus.NewMessage(h, saconsensus.Agreement{
		Signature:       f.sign(s, h),
		FirstReduction:  first,
		SecondReduction: second,
	})
}

// StepVotes returns step votes signed by every member of the committee for (round, step),
// which always satisfies the committee's quorum.
func (f *Fixture) StepVotes(round uint64, step uint8, size int, hash saconsensus.Hash) saconsensus.StepVotes {
	c := f.Committee(round, step, size)
	msg := saconsensus.VoteSignBytes(round, step, hash)

	var voters [][]byte
	var sigs [][]byte
	for _, s := range f.CommitteeSigners(c) {
		sig, err := s.Sign(context.Background(), msg)
		if err != nil {
			panic(err)
		}
		sigs = append(sigs, sig)
		voters = append(voters, s.BLSPubKey().PubKeyBytes())
	}

	agg, err := gblsminsig.AggregateSignatures(sigs)
	if err != nil {
		panic(err)
	}

	return saconsensus.StepVotes{
		Bitset:             c.Bits(voters),
		AggregateSignature: agg,
	}
}

func (f *Fixture) sign(s gblsminsig.Signer, h saconsensus.Header) []byte {
	sig, err := saconsensus.SignHeader(context.Background(), s, h)
	if err != nil {
		panic(err)
	}
	return sig
}
