// Package saemetrics exposes engine metrics through Prometheus.
//
// A nil *Collector is valid and discards every observation,
// so engine internals can report unconditionally.
package saemetrics

import (
	"errors"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gsa"

// Collector records engine activity.
type Collector struct {
	roundsFinalized  prometheus.Counter
	roundsAbandoned  prometheus.Counter
	iterations       prometheus.Counter
	stepTimeouts     *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	agreementsMinted prometheus.Counter
	aggrAgreements   *prometheus.CounterVec
	futureQueued     prometheus.Counter
	higherRound      prometheus.Counter
}

// NewCollector creates the engine metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		roundsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_finalized_total",
			Help:      "Rounds that ended with a winning block.",
		}),
		roundsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_abandoned_total",
			Help:      "Round attempts that reached the maximum step without a winner.",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_started_total",
			Help:      "Iterations started across all rounds.",
		}),
		stepTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_timeouts_total",
			Help:      "Steps that ended by timeout, by phase.",
		}, []string{"phase"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		agreementsMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agreements_minted_total",
			Help:      "Agreement messages produced locally.",
		}),
		aggrAgreements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggr_agreements_total",
			Help:      "Aggregated agreements, by whether they were built locally or received.",
		}, []string{"source"}),
		futureQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "future_messages_queued_total",
			Help:      "Messages held for a later round or step.",
		}),
		higherRound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "higher_round_observed_total",
			Help:      "Rounds during which a message for a later round arrived.",
		}),
	}

	var err error
	for _, col := range []prometheus.Collector{
		c.roundsFinalized,
		c.roundsAbandoned,
		c.iterations,
		c.stepTimeouts,
		c.rejected,
		c.agreementsMinted,
		c.aggrAgreements,
		c.futureQueued,
		c.higherRound,
	} {
		err = errors.Join(err, reg.Register(col))
	}
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Collector) RoundFinalized() {
	if c == nil {
		return
	}
	c.roundsFinalized.Inc()
}

func (c *Collector) RoundAbandoned() {
	if c == nil {
		return
	}
	c.roundsAbandoned.Inc()
}

func (c *Collector) IterationStarted() {
	if c == nil {
		return
	}
	c.iterations.Inc()
}

func (c *Collector) StepTimedOut(kind saconsensus.StepKind) {
	if c == nil {
		return
	}
	c.stepTimeouts.WithLabelValues(kind.String()).Inc()
}

// MessageRejected counts a dropped message, labeled by the sentinel error in err.
func (c *Collector) MessageRejected(err error) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(RejectReason(err)).Inc()
}

func (c *Collector) AgreementMinted() {
	if c == nil {
		return
	}
	c.agreementsMinted.Inc()
}

// AggrAgreement counts an aggregated agreement;
// local is true when this node built it.
func (c *Collector) AggrAgreement(local bool) {
	if c == nil {
		return
	}
	src := "received"
	if local {
		src = "local"
	}
	c.aggrAgreements.WithLabelValues(src).Inc()
}

func (c *Collector) FutureQueued() {
	if c == nil {
		return
	}
	c.futureQueued.Inc()
}

// HigherRoundObserved counts a round in which the network was seen ahead of this node.
func (c *Collector) HigherRoundObserved() {
	if c == nil {
		return
	}
	c.higherRound.Inc()
}

// RejectReason maps err to a low-cardinality label value.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, saconsensus.ErrPastEvent):
		return "past_event"
	case errors.Is(err, saconsensus.ErrFutureEvent):
		return "future_event"
	case errors.Is(err, saconsensus.ErrNotCommitteeMember):
		return "not_committee_member"
	case errors.Is(err, saconsensus.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, saconsensus.ErrInvalidBlock):
		return "invalid_block"
	case errors.Is(err, saconsensus.ErrInvalidMsgType):
		return "invalid_msg_type"
	default:
		return "other"
	}
}
