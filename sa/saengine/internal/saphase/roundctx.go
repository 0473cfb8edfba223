package saphase

import (
	"context"
	"log/slog"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// IterationResult is what the local node observed in the two reductions of one iteration.
type IterationResult struct {
	CandidateHash saconsensus.Hash

	FirstReduction  saconsensus.StepVotes
	SecondReduction saconsensus.StepVotes

	// Invalid is set when the two reductions reached quorum on different hashes.
	// An invalid iteration never produces an Agreement.
	Invalid bool

	minted bool
}

// Ready reports whether both reductions have non-empty votes for CandidateHash.
func (r *IterationResult) Ready() bool {
	return !r.Invalid && !r.FirstReduction.IsEmpty() && !r.SecondReduction.IsEmpty()
}

// RoundCtx collects reduction outcomes for every iteration of one round,
// and mints the local Agreement once an iteration's reductions match.
//
// RoundCtx is owned by the phase machine and is not safe for concurrent use.
type RoundCtx struct {
	log *slog.Logger

	ru saconsensus.RoundUpdate

	results [saconsensus.MaxIterations]*IterationResult
}

func NewRoundCtx(log *slog.Logger, ru saconsensus.RoundUpdate) *RoundCtx {
	return &RoundCtx{log: log, ru: ru}
}

// AddStepVotes records a reduction quorum for hash at step.
//
// It returns a signed Agreement message the first time
// both reductions of the step's iteration hold non-empty votes for the same hash.
// A hash that differs from one already recorded for the iteration
// marks the iteration invalid; no Agreement is produced for it afterwards.
func (rc *RoundCtx) AddStepVotes(
	ctx context.Context,
	step uint8,
	hash saconsensus.Hash,
	sv saconsensus.StepVotes,
	isFirstReduction bool,
) (saconsensus.Message, bool) {
	if step == 0 || step > saconsensus.MaxSteps {
		rc.log.Warn("Ignoring step votes for out-of-range step", "step", step)
		return saconsensus.Message{}, false
	}
	if hash.IsZero() || sv.IsEmpty() {
		return saconsensus.Message{}, false
	}

	iter := saconsensus.IterationForStep(step)
	r := rc.results[iter-1]
	if r == nil {
		r = &IterationResult{CandidateHash: hash}
		rc.results[iter-1] = r
	}

	if r.Invalid {
		return saconsensus.Message{}, false
	}

	if r.CandidateHash != hash {
		r.Invalid = true
		rc.log.Info(
			"Reductions disagree on block hash; abandoning iteration",
			"iteration", iter,
			"recorded", r.CandidateHash.Short(),
			"got", hash.Short(),
		)
		return saconsensus.Message{}, false
	}

	if isFirstReduction {
		r.FirstReduction = sv
	} else {
		r.SecondReduction = sv
	}

	if !r.Ready() || r.minted {
		return saconsensus.Message{}, false
	}

	h := saconsensus.Header{
		PubKeyBLS: rc.ru.PubKeyBytes(),
		Round:     rc.ru.Round,
		Step:      iter * saconsensus.StepsPerIteration,
		BlockHash: hash,
	}
	sig, err := saconsensus.SignHeader(ctx, rc.ru.Signer, h)
	if err != nil {
		rc.log.Warn("Failed to sign agreement", "iteration", iter, "err", err)
		return saconsensus.Message{}, false
	}

	r.minted = true
	return saconsensus.NewMessage(h, saconsensus.Agreement{
		Signature:       sig,
		FirstReduction:  r.FirstReduction,
		SecondReduction: r.SecondReduction,
	}), true
}

// Result returns the recorded result for the 1-based iteration, or nil.
func (rc *RoundCtx) Result(iteration uint8) *IterationResult {
	if iteration == 0 || iteration > saconsensus.MaxIterations {
		return nil
	}
	return rc.results[iteration-1]
}

// IterationsInfo returns what was recorded for the iterations before the given one,
// with a nil slot for each iteration where nothing reached quorum.
// Trailing empty slots are trimmed.
func (rc *RoundCtx) IterationsInfo(iteration uint8) saconsensus.IterationsInfo {
	if iteration <= 1 {
		return saconsensus.IterationsInfo{}
	}
	if iteration > saconsensus.MaxIterations+1 {
		iteration = saconsensus.MaxIterations + 1
	}

	atts := make([]*saconsensus.IterationAttestation, iteration-1)
	last := -1
	for i := range atts {
		r := rc.results[i]
		if r == nil {
			continue
		}
		atts[i] = &saconsensus.IterationAttestation{
			BlockHash:       r.CandidateHash,
			FirstReduction:  r.FirstReduction,
			SecondReduction: r.SecondReduction,
		}
		last = i
	}

	if last < 0 {
		return saconsensus.IterationsInfo{}
	}
	return saconsensus.IterationsInfo{Attestations: atts[:last+1]}
}
