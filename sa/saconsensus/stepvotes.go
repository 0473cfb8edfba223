package saconsensus

// StepVotes is the compact proof that a quorum voted in one step:
// the positional bitset of voters within the step's committee,
// and the aggregate of their signatures.
type StepVotes struct {
	Bitset             uint64
	AggregateSignature []byte
}

// IsEmpty reports whether sv carries no votes.
func (sv StepVotes) IsEmpty() bool {
	if sv.Bitset == 0 {
		return true
	}
	for _, b := range sv.AggregateSignature {
		if b != 0 {
			return false
		}
	}
	return true
}

// Attestation is the pair of reduction StepVotes certifying a winning hash.
type Attestation struct {
	FirstReduction  StepVotes
	SecondReduction StepVotes
}

// IterationAttestation records what a node observed for one iteration of a round.
// Either StepVotes may be empty for an iteration that did not complete.
type IterationAttestation struct {
	BlockHash       Hash
	FirstReduction  StepVotes
	SecondReduction StepVotes
}

// IterationsInfo is the ordered list of per-iteration attestations
// for the iterations preceding a block's own iteration.
// A nil entry means nothing was recorded for that iteration;
// positions are significant and preserved on the wire.
type IterationsInfo struct {
	Attestations []*IterationAttestation
}
