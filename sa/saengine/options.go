package saengine

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/saemetrics"
	"github.com/gordian-engine/gsa/sa/sap2p"
	"github.com/gordian-engine/gsa/sa/sastore"
)

// Opt is an option for [New].
type Opt func(*Engine) error

// CommitteeSizes are the sortition sizes for each committee kind.
type CommitteeSizes struct {
	Selection int
	Reduction int
	Agreement int
}

// DefaultCommitteeSizes are the protocol committee sizes.
var DefaultCommitteeSizes = CommitteeSizes{
	Selection: saconsensus.SelectionCommitteeSize,
	Reduction: saconsensus.ReductionCommitteeSize,
	Agreement: saconsensus.AgreementCommitteeSize,
}

func (s CommitteeSizes) validate() error {
	for _, v := range []struct {
		name string
		size int
	}{
		{"selection", s.Selection},
		{"reduction", s.Reduction},
		{"agreement", s.Agreement},
	} {
		if v.size <= 0 || v.size > saconsensus.MaxCommitteeSize {
			return fmt.Errorf(
				"%s committee size must be in [1, %d] (got %d)",
				v.name, saconsensus.MaxCommitteeSize, v.size,
			)
		}
	}
	return nil
}

// WithOperations sets the state-transition collaborator. Required.
func WithOperations(ops saconsensus.Operations) Opt {
	return func(e *Engine) error {
		e.ops = ops
		return nil
	}
}

// WithCandidateStore sets the store for candidate blocks. Required.
func WithCandidateStore(s sastore.CandidateStore) Opt {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithQueues sets the transport queues. Required.
func WithQueues(q sap2p.Queues) Opt {
	return func(e *Engine) error {
		if q.Inbound == nil || q.Outbound == nil {
			return errors.New("both inbound and outbound queues must be set")
		}
		e.q = q
		return nil
	}
}

// WithTimeoutStrategy overrides [DefaultTimeoutStrategy].
func WithTimeoutStrategy(s TimeoutStrategy) Opt {
	return func(e *Engine) error {
		e.timeouts = s
		return nil
	}
}

// WithCommitteeSizes overrides [DefaultCommitteeSizes].
func WithCommitteeSizes(s CommitteeSizes) Opt {
	return func(e *Engine) error {
		if err := s.validate(); err != nil {
			return err
		}
		e.sizes = s
		return nil
	}
}

// WithMetricsCollector sets where engine metrics are recorded.
// Without it, metrics are discarded.
func WithMetricsCollector(c *saemetrics.Collector) Opt {
	return func(e *Engine) error {
		e.metrics = c
		return nil
	}
}

// WithCommitteeCacheSize sets how many extracted committees are retained.
func WithCommitteeCacheSize(n int) Opt {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("committee cache size must be positive (got %d)", n)
		}
		e.cacheSize = n
		return nil
	}
}

// WithBlockGasLimit sets the gas limit passed to [saconsensus.Operations].
func WithBlockGasLimit(limit uint64) Opt {
	return func(e *Engine) error {
		e.gasLimit = limit
		return nil
	}
}

// WithFutureQueueLimit bounds how many messages are held
// for each future (round, step) pair.
func WithFutureQueueLimit(n int) Opt {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("future queue limit must be positive (got %d)", n)
		}
		e.futureLimit = n
		return nil
	}
}
