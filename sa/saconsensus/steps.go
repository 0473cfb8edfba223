package saconsensus

// StepsPerIteration is the number of voting steps in one iteration:
// Selection, Reduction-1, and Reduction-2.
const StepsPerIteration = 3

// MaxSteps is the last step a round may reach
// before the round attempt is abandoned with [ErrMaxStepReached].
const MaxSteps uint8 = 213

// MaxIterations is the number of iterations that fit in [MaxSteps].
const MaxIterations = MaxSteps / StepsPerIteration

// Default committee sizes.
const (
	SelectionCommitteeSize = 1
	ReductionCommitteeSize = 64
	AgreementCommitteeSize = 64
)

// StepKind distinguishes the three steps of an iteration.
type StepKind uint8

const (
	StepSelection StepKind = iota
	StepFirstReduction
	StepSecondReduction
)

func (k StepKind) String() string {
	switch k {
	case StepSelection:
		return "selection"
	case StepFirstReduction:
		return "reduction1"
	case StepSecondReduction:
		return "reduction2"
	default:
		return "unknown"
	}
}

// KindForStep returns the kind of the given 1-based step.
func KindForStep(step uint8) StepKind {
	return StepKind((step - 1) % StepsPerIteration)
}

// IterationForStep maps a 1-based step to its 1-based iteration.
func IterationForStep(step uint8) uint8 {
	return (step-1)/StepsPerIteration + 1
}

// SelectionStep returns the Selection step of the given 1-based iteration.
// The two reductions follow at SelectionStep+1 and SelectionStep+2.
func SelectionStep(iteration uint8) uint8 {
	return (iteration-1)*StepsPerIteration + 1
}
