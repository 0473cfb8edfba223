// Package savotes contains the vote accumulator used by each reduction step
// and by the agreement task.
package savotes

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// Result is emitted once, when a block hash first reaches quorum.
type Result struct {
	Hash saconsensus.Hash

	// StepVotes holds the voters' positional bitset within the committee
	// and the aggregate of their signatures.
	StepVotes saconsensus.StepVotes

	// Messages are the counted votes, in the order they were processed.
	Messages []saconsensus.Message
}

// Outcome is the result of [*Accumulator.Process].
type Outcome uint8

const (
	// Invalid outcome, indicating a bug.
	OutcomeInvalid Outcome = iota

	// The vote was counted but quorum has not been reached.
	OutcomeCounted

	// The vote was counted and brought its hash to quorum.
	// The accumulator emitted its Result and is now decided.
	OutcomeQuorum

	// The sender already voted for this hash.
	OutcomeDuplicate

	// The sender is not a committee member.
	OutcomeNotMember

	// The accumulator had already emitted a Result.
	OutcomeDecided

	// The signature could not be aggregated.
	OutcomeBadSignature
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCounted:
		return "counted"
	case OutcomeQuorum:
		return "quorum"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNotMember:
		return "not member"
	case OutcomeDecided:
		return "decided"
	case OutcomeBadSignature:
		return "bad signature"
	default:
		return "invalid"
	}
}

// Accumulator tallies votes for one committee, grouped by block hash.
//
// Each committee position counts at most once per hash.
// The first hash to reach the quorum weight wins;
// every vote processed afterwards is ignored.
// A member voting for two different hashes is counted for both;
// penalizing equivocation is outside the accumulator.
//
// Accumulator is not safe for concurrent use.
type Accumulator struct {
	committee *saconsensus.Committee
	quorum    uint64

	out chan<- Result

	tallies map[saconsensus.Hash]*tally
	decided bool
}

type tally struct {
	voters *bitset.BitSet
	weight uint64

	sigs [][]byte
	msgs []saconsensus.Message
}

// New returns an Accumulator that emits on out when a hash reaches quorum.
// At most one value is ever sent on out,
// and out must have a buffer of at least one
// so that Process never blocks.
func New(c *saconsensus.Committee, quorum uint64, out chan<- Result) *Accumulator {
	if cap(out) < 1 {
		panic("BUG: accumulator output channel must be buffered")
	}

	return &Accumulator{
		committee: c,
		quorum:    quorum,
		out:       out,
		tallies:   make(map[saconsensus.Hash]*tally),
	}
}

// Process counts m, whose signature the caller has already verified.
// The vote's weight is the sender's weight in the committee.
func (a *Accumulator) Process(m saconsensus.Message) Outcome {
	if a.decided {
		return OutcomeDecided
	}

	pos, ok := a.committee.Position(m.Header.PubKeyBLS)
	if !ok {
		return OutcomeNotMember
	}

	sig := m.Signature()
	if len(sig) != gblsminsig.SignatureSize {
		return OutcomeBadSignature
	}

	h := m.Header.BlockHash
	t := a.tallies[h]
	if t == nil {
		t = &tally{voters: bitset.New(uint(a.committee.Size()))}
		a.tallies[h] = t
	}

	if t.voters.Test(uint(pos)) {
		return OutcomeDuplicate
	}

	t.voters.Set(uint(pos))
	t.weight += a.committee.WeightAt(pos)
	t.sigs = append(t.sigs, sig)
	t.msgs = append(t.msgs, m)

	if t.weight < a.quorum {
		return OutcomeCounted
	}

	agg, err := gblsminsig.AggregateSignatures(t.sigs)
	if err != nil {
		// Undo the vote so that a later valid vote can still complete the quorum.
		t.voters.Clear(uint(pos))
		t.weight -= a.committee.WeightAt(pos)
		t.sigs = t.sigs[:len(t.sigs)-1]
		t.msgs = t.msgs[:len(t.msgs)-1]
		return OutcomeBadSignature
	}

	a.decided = true
	a.out <- Result{
		Hash: h,
		StepVotes: saconsensus.StepVotes{
			Bitset:             saconsensus.PackBitset(t.voters),
			AggregateSignature: agg,
		},
		Messages: t.msgs,
	}
	a.tallies = nil

	return OutcomeQuorum
}

// Weight returns the weight accumulated so far for h.
func (a *Accumulator) Weight(h saconsensus.Hash) uint64 {
	if t := a.tallies[h]; t != nil {
		return t.weight
	}
	return 0
}

// Decided reports whether a Result has been emitted.
func (a *Accumulator) Decided() bool {
	return a.decided
}
