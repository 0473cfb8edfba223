package saphase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/internal/savotes"
	"github.com/gordian-engine/gsa/sa/sastore"
)

// MsgHandler applies the message life-cycle for a single step.
type MsgHandler struct {
	log *slog.Logger

	ru        saconsensus.RoundUpdate
	ph        phase
	committee *saconsensus.Committee

	store sastore.CandidateStore

	// Reductions only.
	acc    *savotes.Accumulator
	accOut chan savotes.Result
}

func newMsgHandler(
	log *slog.Logger,
	ru saconsensus.RoundUpdate,
	ph phase,
	committee *saconsensus.Committee,
	store sastore.CandidateStore,
) *MsgHandler {
	h := &MsgHandler{
		log: log,

		ru:        ru,
		ph:        ph,
		committee: committee,

		store: store,
	}

	if ph.kind != saconsensus.StepSelection {
		h.accOut = make(chan savotes.Result, 1)
		h.acc = savotes.New(committee, committee.QuorumWeight(), h.accOut)
	}

	return h
}

// Handle runs m through the full life-cycle.
//
// It returns ErrPastEvent or ErrFutureEvent for messages outside this step,
// ErrNotCommitteeMember for senders outside the step's committee,
// and a verification error for messages that fail the phase's checks.
// When done is true, the step is complete with the returned result.
func (h *MsgHandler) Handle(ctx context.Context, m saconsensus.Message) (res StepResult, done bool, err error) {
	if err := h.Validate(m); err != nil {
		return StepResult{}, false, err
	}
	if err := h.Verify(m); err != nil {
		return StepResult{}, false, err
	}
	return h.Collect(ctx, m)
}

// Validate compares m's round and step to this step
// and checks the sender's committee membership.
func (h *MsgHandler) Validate(m saconsensus.Message) error {
	switch m.Header.Compare(h.ru.Round, h.ph.step) {
	case -1:
		return fmt.Errorf(
			"%w: message at %d/%d, handler at %d/%d",
			saconsensus.ErrPastEvent, m.Header.Round, m.Header.Step, h.ru.Round, h.ph.step,
		)
	case 1:
		return fmt.Errorf(
			"%w: message at %d/%d, handler at %d/%d",
			saconsensus.ErrFutureEvent, m.Header.Round, m.Header.Step, h.ru.Round, h.ph.step,
		)
	}

	if !h.committee.IsMember(m.Header.PubKeyBLS) {
		return fmt.Errorf("%w: %s step %d", saconsensus.ErrNotCommitteeMember, h.ph.kind, h.ph.step)
	}
	return nil
}

// Verify performs the phase-specific shape and signature checks.
// Validate must have succeeded first.
func (h *MsgHandler) Verify(m saconsensus.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	switch h.ph.kind {
	case saconsensus.StepSelection:
		nb, ok := m.Payload.(saconsensus.NewBlock)
		if !ok {
			return fmt.Errorf("%w: %s in selection", saconsensus.ErrInvalidMsgType, m.Header.Topic)
		}
		return h.verifyNewBlock(m.Header, nb)

	case saconsensus.StepFirstReduction, saconsensus.StepSecondReduction:
		red, ok := m.Payload.(saconsensus.Reduction)
		if !ok {
			return fmt.Errorf("%w: %s in %s", saconsensus.ErrInvalidMsgType, m.Header.Topic, h.ph.kind)
		}
		if m.Header.BlockHash.IsZero() {
			return fmt.Errorf("%w: vote for empty hash", saconsensus.ErrInvalidBlock)
		}
		if !h.senderVerifies(m.Header, red.Signature) {
			return saconsensus.ErrInvalidSignature
		}
		return nil

	default:
		panic(fmt.Errorf("BUG: unhandled step kind %d", h.ph.kind))
	}
}

func (h *MsgHandler) senderVerifies(hdr saconsensus.Header, sig []byte) bool {
	pos, ok := h.committee.Position(hdr.PubKeyBLS)
	if !ok {
		return false
	}
	return h.committee.PubKeyAt(pos).Verify(hdr.SignBytes(), sig)
}

func (h *MsgHandler) verifyNewBlock(hdr saconsensus.Header, nb saconsensus.NewBlock) error {
	if !h.senderVerifies(hdr, nb.Signature) {
		return saconsensus.ErrInvalidSignature
	}

	b := nb.Candidate
	bh := b.Header
	switch {
	case b.Hash() != hdr.BlockHash:
		return fmt.Errorf("%w: header hash does not match candidate", saconsensus.ErrInvalidBlock)
	case bh.Height != h.ru.Round:
		return fmt.Errorf("%w: height %d in round %d", saconsensus.ErrInvalidBlock, bh.Height, h.ru.Round)
	case bh.PrevBlockHash != h.ru.Hash:
		return fmt.Errorf("%w: unexpected previous block hash", saconsensus.ErrInvalidBlock)
	case !bytes.Equal(bh.GeneratorPubKey, hdr.PubKeyBLS):
		return fmt.Errorf("%w: generator key does not match sender", saconsensus.ErrInvalidBlock)
	case bh.Iteration != h.ph.iteration:
		return fmt.Errorf("%w: iteration %d in iteration %d", saconsensus.ErrInvalidBlock, bh.Iteration, h.ph.iteration)
	case saconsensus.TxRoot(b.Txs) != bh.TxRoot:
		return fmt.Errorf("%w: transaction root mismatch", saconsensus.ErrInvalidBlock)
	case b.Attestation != nil:
		return fmt.Errorf("%w: candidate carries an attestation", saconsensus.ErrInvalidBlock)
	}

	// The new seed is the generator's signature over the round seed.
	pos, _ := h.committee.Position(hdr.PubKeyBLS)
	if !h.committee.PubKeyAt(pos).Verify(h.ru.Seed, bh.Seed) {
		return fmt.Errorf("%w: invalid seed", saconsensus.ErrInvalidBlock)
	}

	return nil
}

// Collect records a verified message.
// Selection completes immediately on a valid candidate;
// reductions feed the accumulator, whose result arrives on [MsgHandler.Votes].
func (h *MsgHandler) Collect(ctx context.Context, m saconsensus.Message) (StepResult, bool, error) {
	switch h.ph.kind {
	case saconsensus.StepSelection:
		nb := m.Payload.(saconsensus.NewBlock)
		if err := h.store.StoreCandidateBlock(ctx, nb.Candidate); err != nil {
			// Still usable for this step; the agreement task just cannot find it later.
			h.log.Warn("Failed to store candidate", "hash", m.Header.BlockHash.Short(), "err", err)
		}
		b := nb.Candidate
		return StepResult{Hash: m.Header.BlockHash, Candidate: &b}, true, nil

	case saconsensus.StepFirstReduction, saconsensus.StepSecondReduction:
		switch out := h.acc.Process(m); out {
		case savotes.OutcomeCounted, savotes.OutcomeQuorum, savotes.OutcomeDecided, savotes.OutcomeDuplicate:
			h.log.Debug(
				"Collected vote",
				"step", h.ph.step,
				"hash", m.Header.BlockHash.Short(),
				"outcome", out,
				"weight", h.acc.Weight(m.Header.BlockHash),
			)
			return StepResult{}, false, nil
		case savotes.OutcomeNotMember:
			return StepResult{}, false, saconsensus.ErrNotCommitteeMember
		default:
			return StepResult{}, false, fmt.Errorf("%w: accumulator outcome %s", saconsensus.ErrInvalidSignature, out)
		}

	default:
		panic(fmt.Errorf("BUG: unhandled step kind %d", h.ph.kind))
	}
}

// Votes returns the accumulator output for reductions, or nil for Selection.
func (h *MsgHandler) Votes() <-chan savotes.Result {
	return h.accOut
}

// HandleTimeout returns the empty outcome of a step whose deadline elapsed.
func (h *MsgHandler) HandleTimeout() StepResult {
	h.log.Debug("Step timed out", "kind", h.ph.kind, "step", h.ph.step)
	return StepResult{TimedOut: true}
}

func (h *MsgHandler) votesResult(r savotes.Result) StepResult {
	return StepResult{Hash: r.Hash, StepVotes: r.StepVotes}
}
