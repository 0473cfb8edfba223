// Package saagreement runs the per-round agreement task
// and builds and verifies aggregated agreements.
package saagreement

import (
	"fmt"

	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/internal/sacommittee"
)

// Sizes are the committee sizes needed to check agreements.
type Sizes struct {
	Reduction int
	Agreement int
}

// Verifier checks Agreement and AggrAgreement messages for one round.
type Verifier struct {
	ru    saconsensus.RoundUpdate
	prov  *saconsensus.Provisioners
	cache *sacommittee.Cache
	sizes Sizes
}

func NewVerifier(
	ru saconsensus.RoundUpdate,
	prov *saconsensus.Provisioners,
	cache *sacommittee.Cache,
	sizes Sizes,
) *Verifier {
	return &Verifier{ru: ru, prov: prov, cache: cache, sizes: sizes}
}

func (v *Verifier) committee(step uint8, size int) *saconsensus.Committee {
	return v.cache.Committee(v.prov, saconsensus.SortitionConfig{
		Seed:          v.ru.Seed,
		Round:         v.ru.Round,
		Step:          step,
		CommitteeSize: size,
	})
}

// AgreementCommittee returns the committee voting agreements at step.
func (v *Verifier) AgreementCommittee(step uint8) *saconsensus.Committee {
	return v.committee(step, v.sizes.Agreement)
}

func checkAgreementStep(step uint8) error {
	if step < saconsensus.StepsPerIteration ||
		step > saconsensus.MaxSteps ||
		saconsensus.KindForStep(step) != saconsensus.StepSecondReduction {
		return fmt.Errorf("%w: agreement at step %d", saconsensus.ErrInvalidMsgType, step)
	}
	return nil
}

// VerifyStepVotes checks that sv carries a quorum of the committee for step
// with a valid aggregate signature over hash.
func (v *Verifier) VerifyStepVotes(step uint8, hash saconsensus.Hash, sv saconsensus.StepVotes) error {
	if sv.IsEmpty() {
		return fmt.Errorf("%w: empty step votes for step %d", saconsensus.ErrInvalidSignature, step)
	}

	c := v.committee(step, v.sizes.Reduction)
	return verifyQuorumAggregate(c, v.ru.Round, step, hash, sv.Bitset, sv.AggregateSignature)
}

func verifyQuorumAggregate(
	c *saconsensus.Committee,
	round uint64, step uint8, hash saconsensus.Hash,
	bits uint64, sig []byte,
) error {
	if !c.ValidBits(bits) {
		return fmt.Errorf("%w: bitset %#x exceeds committee of %d", saconsensus.ErrInvalidSignature, bits, c.Size())
	}

	sc := c.Intersect(bits)
	if sc.Weight < c.QuorumWeight() {
		return fmt.Errorf(
			"%w: step %d voters weigh %d, quorum is %d",
			saconsensus.ErrInvalidSignature, step, sc.Weight, c.QuorumWeight(),
		)
	}

	if !gblsminsig.VerifyAggregate(sc.Keys, saconsensus.VoteSignBytes(round, step, hash), sig) {
		return fmt.Errorf("%w: aggregate for step %d", saconsensus.ErrInvalidSignature, step)
	}
	return nil
}

// VerifyAgreement checks a single Agreement message for the current round:
// its step, the sender's membership and signature,
// and both embedded reduction quorums.
func (v *Verifier) VerifyAgreement(m saconsensus.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	a, ok := m.Payload.(saconsensus.Agreement)
	if !ok {
		return fmt.Errorf("%w: expected agreement, got %s", saconsensus.ErrInvalidMsgType, m.Header.Topic)
	}

	h := m.Header
	if err := checkAgreementStep(h.Step); err != nil {
		return err
	}

	c := v.AgreementCommittee(h.Step)
	pos, ok := c.Position(h.PubKeyBLS)
	if !ok {
		return fmt.Errorf("%w: agreement at step %d", saconsensus.ErrNotCommitteeMember, h.Step)
	}
	if !c.PubKeyAt(pos).Verify(h.SignBytes(), a.Signature) {
		return saconsensus.ErrInvalidSignature
	}

	return v.verifyReductions(h.Step, h.BlockHash, a)
}

func (v *Verifier) verifyReductions(step uint8, hash saconsensus.Hash, a saconsensus.Agreement) error {
	if err := v.VerifyStepVotes(step-1, hash, a.FirstReduction); err != nil {
		return fmt.Errorf("invalid first reduction: %w", err)
	}
	if err := v.VerifyStepVotes(step, hash, a.SecondReduction); err != nil {
		return fmt.Errorf("invalid second reduction: %w", err)
	}
	return nil
}

// VerifyAggrAgreement checks the embedded reduction quorums
// and the aggregate agreement signature against the agreement committee
// restricted to the claimed bitset.
// Any failure rejects the whole message.
func (v *Verifier) VerifyAggrAgreement(m saconsensus.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	aa, ok := m.Payload.(saconsensus.AggrAgreement)
	if !ok {
		return fmt.Errorf("%w: expected aggregated agreement, got %s", saconsensus.ErrInvalidMsgType, m.Header.Topic)
	}

	h := m.Header
	if err := checkAgreementStep(h.Step); err != nil {
		return err
	}

	if err := v.verifyReductions(h.Step, h.BlockHash, aa.Agreement); err != nil {
		return err
	}

	c := v.AgreementCommittee(h.Step)
	if err := verifyQuorumAggregate(c, v.ru.Round, h.Step, h.BlockHash, aa.Bitset, aa.AggregateSignature); err != nil {
		return fmt.Errorf("invalid agreement aggregate: %w", err)
	}
	return nil
}
