package saphase

import (
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// phase is the tagged variant over the three step kinds.
// Only the fields relevant to kind are set.
type phase struct {
	kind      saconsensus.StepKind
	iteration uint8
	step      uint8

	// Input to the first reduction: the Selection outcome, possibly nil.
	candidate *saconsensus.Block

	// Input to the second reduction: the first reduction's quorum hash, possibly zero.
	hash saconsensus.Hash
}

func selectionPhase(iteration uint8) phase {
	return phase{
		kind:      saconsensus.StepSelection,
		iteration: iteration,
		step:      saconsensus.SelectionStep(iteration),
	}
}

func firstReductionPhase(iteration uint8, candidate *saconsensus.Block) phase {
	return phase{
		kind:      saconsensus.StepFirstReduction,
		iteration: iteration,
		step:      saconsensus.SelectionStep(iteration) + 1,
		candidate: candidate,
	}
}

func secondReductionPhase(iteration uint8, hash saconsensus.Hash) phase {
	return phase{
		kind:      saconsensus.StepSecondReduction,
		iteration: iteration,
		step:      saconsensus.SelectionStep(iteration) + 2,
		hash:      hash,
	}
}

// StepResult is the outcome of one step.
// A timed-out step has a zero Hash and empty StepVotes.
type StepResult struct {
	Hash saconsensus.Hash

	// Candidate is set only by Selection.
	Candidate *saconsensus.Block

	// StepVotes is set only by the reductions.
	StepVotes saconsensus.StepVotes

	TimedOut bool
}
