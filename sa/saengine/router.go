package saengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/internal/safuture"
	"github.com/gordian-engine/gsa/sa/saengine/saemetrics"
)

// maxFutureRounds is how far ahead of the current round messages are still held.
const maxFutureRounds = 16

// router fans inbound messages out to the round's phase machine and agreement task,
// holding messages for later rounds in the future queues.
type router struct {
	log     *slog.Logger
	round   uint64
	in      <-chan saconsensus.Message
	metrics *saemetrics.Collector

	phase     chan<- saconsensus.Message
	agreement chan<- saconsensus.Message

	// Closed once the phase machine has stopped for a decided round.
	phaseDone <-chan struct{}

	phaseFuture     *safuture.Queue
	agreementFuture *safuture.Queue

	// Set after the first message for a later round is seen.
	sawHigherRound bool
}

// Run routes messages until ctx is canceled.
// A closed inbound queue ends the round with [saconsensus.ErrChildTaskTerminated].
func (r *router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-r.in:
			if !ok {
				return fmt.Errorf("%w: inbound queue closed", saconsensus.ErrChildTaskTerminated)
			}
			r.route(ctx, m)
		}
	}
}

func (r *router) route(ctx context.Context, m saconsensus.Message) {
	if err := m.Validate(); err != nil {
		r.reject(m, err)
		return
	}

	var (
		dst    chan<- saconsensus.Message
		done   <-chan struct{}
		future *safuture.Queue
	)
	switch m.Payload.(type) {
	case saconsensus.NewBlock, saconsensus.Reduction:
		dst, done, future = r.phase, r.phaseDone, r.phaseFuture
	case saconsensus.Agreement, saconsensus.AggrAgreement, saconsensus.Candidate:
		dst, future = r.agreement, r.agreementFuture
	default:
		r.reject(m, fmt.Errorf("%w: %s", saconsensus.ErrInvalidMsgType, m.Header.Topic))
		return
	}

	if m.Header.Round > r.round {
		r.observeHigherRound(m)
	}

	switch {
	case m.Header.Round < r.round:
		r.reject(m, fmt.Errorf("%w: round %d", saconsensus.ErrPastEvent, m.Header.Round))
		return

	case m.Header.Round > r.round+maxFutureRounds:
		r.reject(m, fmt.Errorf("%w: round %d is too far ahead", saconsensus.ErrFutureEvent, m.Header.Round))
		return

	case m.Header.Round > r.round:
		if !future.Put(m) {
			r.log.Debug(
				"Future queue full; dropping message",
				"topic", m.Header.Topic,
				"msg_round", m.Header.Round,
				"msg_step", m.Header.Step,
			)
			return
		}
		r.metrics.FutureQueued()
		return
	}

	select {
	case <-done:
		return
	case dst <- m:
		return
	default:
	}

	r.log.Warn("Round task falling behind; blocking on route", "topic", m.Header.Topic)
	select {
	case <-ctx.Done():
	case <-done:
	case dst <- m:
	}
}

// observeHigherRound reports, once per round, that peers are already past this round.
func (r *router) observeHigherRound(m saconsensus.Message) {
	if r.sawHigherRound {
		return
	}
	r.sawHigherRound = true

	r.metrics.HigherRoundObserved()
	r.log.Warn(
		"Observed message for a higher round; node may be falling behind",
		"topic", m.Header.Topic,
		"msg_round", m.Header.Round,
		"msg_step", m.Header.Step,
	)
}

func (r *router) reject(m saconsensus.Message, err error) {
	r.metrics.MessageRejected(err)
	r.log.Debug(
		"Dropping message",
		"topic", m.Header.Topic,
		"msg_round", m.Header.Round,
		"msg_step", m.Header.Step,
		"reason", saemetrics.RejectReason(err),
	)
}
