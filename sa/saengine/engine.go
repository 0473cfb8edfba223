package saengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/internal/saagreement"
	"github.com/gordian-engine/gsa/sa/saengine/internal/sacommittee"
	"github.com/gordian-engine/gsa/sa/saengine/internal/safuture"
	"github.com/gordian-engine/gsa/sa/saengine/internal/saphase"
	"github.com/gordian-engine/gsa/sa/saengine/saemetrics"
	"github.com/gordian-engine/gsa/sa/sap2p"
	"github.com/gordian-engine/gsa/sa/sastore"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCommitteeCacheSize = 256
	defaultFutureQueueLimit   = 128

	// Capacity of the per-round channels between the router and the round tasks.
	roundQueueSize = 256
)

// errRoundDecided is the cancellation cause once the agreement task has a winner.
var errRoundDecided = errors.New("round decided")

// Engine runs consensus rounds for a single provisioner.
//
// RunRound must not be called concurrently.
type Engine struct {
	log *slog.Logger

	ops   saconsensus.Operations
	store sastore.CandidateStore
	q     sap2p.Queues

	timeouts TimeoutStrategy
	sizes    CommitteeSizes
	metrics  *saemetrics.Collector
	gasLimit uint64

	cacheSize   int
	futureLimit int

	committees *sacommittee.Cache

	// Messages for rounds not yet started,
	// split by which round task will consume them.
	phaseFuture     *safuture.Queue
	agreementFuture *safuture.Queue
}

// New returns an Engine configured by opts.
// [WithOperations], [WithCandidateStore], and [WithQueues] are required.
func New(log *slog.Logger, opts ...Opt) (*Engine, error) {
	e := &Engine{
		log: log,

		timeouts: DefaultTimeoutStrategy,
		sizes:    DefaultCommitteeSizes,

		cacheSize:   defaultCommitteeCacheSize,
		futureLimit: defaultFutureQueueLimit,
	}

	var err error
	for _, opt := range opts {
		err = errors.Join(err, opt(e))
	}
	if err != nil {
		return nil, err
	}

	if e.ops == nil {
		err = errors.Join(err, errors.New("no operations set (use saengine.WithOperations)"))
	}
	if e.store == nil {
		err = errors.Join(err, errors.New("no candidate store set (use saengine.WithCandidateStore)"))
	}
	if e.q.Inbound == nil {
		err = errors.Join(err, errors.New("no queues set (use saengine.WithQueues)"))
	}
	if err != nil {
		return nil, err
	}

	e.committees, err = sacommittee.New(e.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create committee cache: %w", err)
	}

	e.phaseFuture = safuture.New(e.futureLimit)
	e.agreementFuture = safuture.New(e.futureLimit)

	return e, nil
}

// RunRound runs one round to completion and returns the winning block,
// after it has been accepted and finalized through the engine's operations.
//
// If the last step passes without a winner,
// RunRound returns an error wrapping [saconsensus.ErrMaxStepReached];
// the caller should start the round again with a fresh RoundUpdate.
// If ctx is canceled, the error wraps [saconsensus.ErrCanceled].
func (e *Engine) RunRound(
	ctx context.Context,
	ru saconsensus.RoundUpdate,
	prov *saconsensus.Provisioners,
) (saconsensus.Block, error) {
	log := e.log.With("round", ru.Round)
	log.Info(
		"Starting round",
		"provisioners", prov.Len(),
		"eligible_weight", prov.EligibleWeight(ru.Round),
	)

	// The round is over once any task fails or the winner is known.
	g, gCtx := errgroup.WithContext(ctx)
	roundCtx, cancel := context.WithCancelCause(gCtx)
	defer cancel(nil)

	// The phase machine stops as soon as the winning hash is known,
	// while the agreement task may still wait for the block body.
	phaseCtx, cancelPhase := context.WithCancelCause(roundCtx)
	defer cancelPhase(nil)

	phaseIn := make(chan saconsensus.Message, roundQueueSize)
	agreementIn := make(chan saconsensus.Message, roundQueueSize)

	r := &router{
		log:     log.With("sys", "router"),
		round:   ru.Round,
		in:      e.q.Inbound,
		metrics: e.metrics,

		phase:     phaseIn,
		agreement: agreementIn,
		phaseDone: phaseCtx.Done(),

		phaseFuture:     e.phaseFuture,
		agreementFuture: e.agreementFuture,
	}
	g.Go(func() error {
		return r.Run(roundCtx)
	})

	m := saphase.NewMachine(log.With("sys", "phase"), saphase.MachineConfig{
		RoundUpdate:  ru,
		Provisioners: prov,

		Committees: e.committees,
		Sizes: saphase.CommitteeSizes{
			Selection: e.sizes.Selection,
			Reduction: e.sizes.Reduction,
		},

		Operations:    e.ops,
		BlockGasLimit: e.gasLimit,

		Store:  e.store,
		Future: e.phaseFuture,

		Inbound:    phaseIn,
		Outbound:   e.q.Outbound,
		Agreements: agreementIn,

		Timeouts: e.timeouts,
		Metrics:  e.metrics,
	})
	g.Go(func() error {
		err := m.Run(phaseCtx)
		if errors.Is(err, saconsensus.ErrCanceled) || errors.Is(context.Cause(phaseCtx), errRoundDecided) {
			return nil
		}
		return err
	})

	var winner saconsensus.Block
	g.Go(func() error {
		b, err := saagreement.Run(roundCtx, log.With("sys", "agreement"), saagreement.Config{
			RoundUpdate:  ru,
			Provisioners: prov,

			Committees: e.committees,
			Sizes: saagreement.Sizes{
				Reduction: e.sizes.Reduction,
				Agreement: e.sizes.Agreement,
			},

			Store:  e.store,
			Future: e.agreementFuture,

			Inbound:  agreementIn,
			Outbound: e.q.Outbound,

			Decided: func(saconsensus.Hash) {
				cancelPhase(errRoundDecided)
			},

			Metrics: e.metrics,
		})
		if err != nil {
			if errors.Is(err, saconsensus.ErrCanceled) {
				return nil
			}
			return fmt.Errorf("%w: agreement: %w", saconsensus.ErrChildTaskTerminated, err)
		}

		winner = b
		cancel(errRoundDecided)
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, saconsensus.ErrMaxStepReached) {
			e.metrics.RoundAbandoned()
			log.Warn("Round abandoned without a winner", "err", err)
		}
		return saconsensus.Block{}, err
	}

	if !errors.Is(context.Cause(roundCtx), errRoundDecided) {
		return saconsensus.Block{}, fmt.Errorf("%w: %w", saconsensus.ErrCanceled, context.Cause(ctx))
	}

	if err := e.finalize(ctx, log, ru, winner); err != nil {
		return saconsensus.Block{}, err
	}
	return winner, nil
}

// finalize applies the winning block and drops state that belongs to the finished round.
func (e *Engine) finalize(ctx context.Context, log *slog.Logger, ru saconsensus.RoundUpdate, b saconsensus.Block) error {
	params := saconsensus.CallParams{
		Round:           ru.Round,
		BlockGasLimit:   e.gasLimit,
		GeneratorPubKey: b.Header.GeneratorPubKey,
	}

	out, err := e.ops.Accept(ctx, params, b.Txs)
	if err != nil {
		return fmt.Errorf("failed to accept block %s: %w", b.Hash().Short(), err)
	}
	if out.StateRoot != b.Header.StateHash {
		log.Warn(
			"Accepted state root differs from block",
			"got", out.StateRoot.Short(),
			"want", b.Header.StateHash.Short(),
		)
	}

	if _, err := e.ops.Finalize(ctx, params, b.Txs); err != nil {
		return fmt.Errorf("failed to finalize block %s: %w", b.Hash().Short(), err)
	}

	if err := e.store.DeleteCandidateBlocks(ctx, ru.Round); err != nil {
		// Stale candidates are harmless, so keep going.
		log.Warn("Failed to delete candidate blocks", "err", err)
	}

	dropped := e.phaseFuture.Clear(ru.Round+1) + e.agreementFuture.Clear(ru.Round+1)

	e.metrics.RoundFinalized()
	log.Info(
		"Round finalized",
		"hash", b.Hash().Short(),
		"iteration", b.Header.Iteration,
		"txs", len(b.Txs),
		"dropped_future", dropped,
	)
	return nil
}
