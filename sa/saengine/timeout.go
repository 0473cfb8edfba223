package saengine

import "time"

// TimeoutStrategy decides how long each step of an iteration may run
// before the phase machine moves on without a quorum.
type TimeoutStrategy interface {
	StepTimeout(round uint64, iteration uint8) time.Duration
}

// ExponentialTimeoutStrategy doubles the step timeout on every iteration,
// starting at Base and never exceeding Max.
type ExponentialTimeoutStrategy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultTimeoutStrategy is used when [WithTimeoutStrategy] is not given.
var DefaultTimeoutStrategy = ExponentialTimeoutStrategy{
	Base: 5 * time.Second,
	Max:  60 * time.Second,
}

func (s ExponentialTimeoutStrategy) StepTimeout(_ uint64, iteration uint8) time.Duration {
	d := s.Base
	for i := uint8(1); i < iteration; i++ {
		if d >= s.Max {
			break
		}
		d *= 2
	}
	if s.Max > 0 && d > s.Max {
		d = s.Max
	}
	return d
}
