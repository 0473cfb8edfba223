package saagreement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/internal/sacommittee"
	"github.com/gordian-engine/gsa/sa/saengine/internal/safuture"
	"github.com/gordian-engine/gsa/sa/saengine/internal/savotes"
	"github.com/gordian-engine/gsa/sa/saengine/saemetrics"
	"github.com/gordian-engine/gsa/sa/sastore"
)

// candidatePollInterval is how often a decided task re-checks the store
// while it waits for the winning block's body.
const candidatePollInterval = 25 * time.Millisecond

// Config is the configuration for [Run].
type Config struct {
	RoundUpdate  saconsensus.RoundUpdate
	Provisioners *saconsensus.Provisioners

	Committees *sacommittee.Cache
	Sizes      Sizes

	Store sastore.CandidateStore

	// Future holds Agreement, AggrAgreement, and Candidate messages
	// that arrived before this round started.
	Future *safuture.Queue

	// Inbound carries this round's Agreement, AggrAgreement, and Candidate messages,
	// including agreements minted by the local phase machine.
	Inbound <-chan saconsensus.Message

	Outbound chan<- saconsensus.Message

	// Decided, if set, is called with the winning hash
	// as soon as the round is decided,
	// before Run waits for the block body.
	Decided func(saconsensus.Hash)

	Metrics *saemetrics.Collector
}

type stepAccumulator struct {
	acc *savotes.Accumulator
	out chan savotes.Result
}

type task struct {
	log *slog.Logger
	cfg Config
	v   *Verifier

	accs map[uint8]*stepAccumulator
}

// Run collects agreements until the round is decided,
// then returns the winning block with its attestation.
// It returns early only when ctx is canceled.
func Run(ctx context.Context, log *slog.Logger, cfg Config) (saconsensus.Block, error) {
	t := &task{
		log: log,
		cfg: cfg,
		v:   NewVerifier(cfg.RoundUpdate, cfg.Provisioners, cfg.Committees, cfg.Sizes),

		accs: make(map[uint8]*stepAccumulator),
	}

	hash, att, ok := t.collect(ctx)
	if !ok {
		return saconsensus.Block{}, fmt.Errorf("%w: %w", saconsensus.ErrCanceled, context.Cause(ctx))
	}

	if cfg.Decided != nil {
		cfg.Decided(hash)
	}

	return t.awaitCandidate(ctx, hash, att)
}

// collect returns the winning hash and its attestation.
func (t *task) collect(ctx context.Context) (saconsensus.Hash, saconsensus.Attestation, bool) {
	for _, m := range t.cfg.Future.DrainRound(t.cfg.RoundUpdate.Round) {
		if hash, att, done := t.handle(ctx, m); done {
			return hash, att, true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return saconsensus.Hash{}, saconsensus.Attestation{}, false
		case m := <-t.cfg.Inbound:
			if hash, att, done := t.handle(ctx, m); done {
				return hash, att, true
			}
		}
	}
}

func (t *task) handle(ctx context.Context, m saconsensus.Message) (saconsensus.Hash, saconsensus.Attestation, bool) {
	round := t.cfg.RoundUpdate.Round
	switch {
	case m.Header.Round < round:
		t.reject(m, fmt.Errorf("%w: round %d", saconsensus.ErrPastEvent, m.Header.Round))
		return saconsensus.Hash{}, saconsensus.Attestation{}, false
	case m.Header.Round > round:
		if t.cfg.Future.Put(m) {
			t.cfg.Metrics.FutureQueued()
		}
		return saconsensus.Hash{}, saconsensus.Attestation{}, false
	}

	switch p := m.Payload.(type) {
	case saconsensus.Agreement:
		return t.handleAgreement(ctx, m, p)

	case saconsensus.AggrAgreement:
		if err := t.v.VerifyAggrAgreement(m); err != nil {
			t.reject(m, err)
			return saconsensus.Hash{}, saconsensus.Attestation{}, false
		}
		t.cfg.Metrics.AggrAgreement(false)
		t.log.Info("Round decided by received aggregated agreement", "step", m.Header.Step, "hash", m.Header.BlockHash.Short())
		return m.Header.BlockHash, saconsensus.Attestation{
			FirstReduction:  p.Agreement.FirstReduction,
			SecondReduction: p.Agreement.SecondReduction,
		}, true

	case saconsensus.Candidate:
		t.storeCandidate(ctx, m, p)
		return saconsensus.Hash{}, saconsensus.Attestation{}, false

	default:
		t.reject(m, fmt.Errorf("%w: %s in agreement task", saconsensus.ErrInvalidMsgType, m.Header.Topic))
		return saconsensus.Hash{}, saconsensus.Attestation{}, false
	}
}

func (t *task) handleAgreement(
	ctx context.Context, m saconsensus.Message, a saconsensus.Agreement,
) (saconsensus.Hash, saconsensus.Attestation, bool) {
	if err := t.v.VerifyAgreement(m); err != nil {
		t.reject(m, err)
		return saconsensus.Hash{}, saconsensus.Attestation{}, false
	}

	step := m.Header.Step
	sa := t.accs[step]
	if sa == nil {
		c := t.v.AgreementCommittee(step)
		out := make(chan savotes.Result, 1)
		sa = &stepAccumulator{
			acc: savotes.New(c, c.QuorumWeight(), out),
			out: out,
		}
		t.accs[step] = sa
	}

	outcome := sa.acc.Process(m)
	t.log.Debug(
		"Processed agreement",
		"step", step,
		"hash", m.Header.BlockHash.Short(),
		"outcome", outcome,
	)
	if outcome != savotes.OutcomeQuorum {
		return saconsensus.Hash{}, saconsensus.Attestation{}, false
	}

	res := <-sa.out
	t.publishAggregate(ctx, step, res)

	return res.Hash, saconsensus.Attestation{
		FirstReduction:  a.FirstReduction,
		SecondReduction: a.SecondReduction,
	}, true
}

// publishAggregate broadcasts the aggregated agreement for a decided step,
// followed by the winning candidate when it is available locally.
func (t *task) publishAggregate(ctx context.Context, step uint8, res savotes.Result) {
	c := t.v.AgreementCommittee(step)
	aggr, err := Aggregate(c, t.cfg.RoundUpdate.PubKeyBytes(), res.Messages)
	if err != nil {
		t.log.Warn("Failed to aggregate agreements", "step", step, "err", err)
		return
	}

	t.cfg.Metrics.AggrAgreement(true)
	t.log.Info("Round decided by agreement quorum", "step", step, "hash", res.Hash.Short(), "voters", len(res.Messages))

	t.send(ctx, aggr)

	b, err := t.cfg.Store.GetCandidateBlockByHash(ctx, res.Hash)
	if err != nil {
		// Someone else will relay it.
		return
	}
	t.send(ctx, saconsensus.NewMessage(saconsensus.Header{
		PubKeyBLS: t.cfg.RoundUpdate.PubKeyBytes(),
		Round:     t.cfg.RoundUpdate.Round,
		Step:      step,
		BlockHash: res.Hash,
	}, saconsensus.Candidate{Block: b}))
}

func (t *task) send(ctx context.Context, m saconsensus.Message) {
	select {
	case t.cfg.Outbound <- m:
		return
	default:
	}

	go func() {
		select {
		case <-ctx.Done():
		case t.cfg.Outbound <- m:
		}
	}()
}

// storeCandidate saves a relayed block if it matches its header hash.
// Blocks are content-addressed, so no sender check is needed.
func (t *task) storeCandidate(ctx context.Context, m saconsensus.Message, c saconsensus.Candidate) bool {
	if c.Block.Hash() != m.Header.BlockHash {
		t.reject(m, fmt.Errorf("%w: relayed candidate hash mismatch", saconsensus.ErrInvalidBlock))
		return false
	}
	if c.Block.Header.Height != t.cfg.RoundUpdate.Round {
		t.reject(m, fmt.Errorf("%w: relayed candidate at height %d", saconsensus.ErrInvalidBlock, c.Block.Header.Height))
		return false
	}

	b := c.Block
	b.Attestation = nil
	if err := t.cfg.Store.StoreCandidateBlock(ctx, b); err != nil {
		t.log.Warn("Failed to store relayed candidate", "hash", m.Header.BlockHash.Short(), "err", err)
		return false
	}
	return true
}

// awaitCandidate returns the stored block for hash,
// waiting for a Candidate relay or the phase machine to store it.
func (t *task) awaitCandidate(
	ctx context.Context, hash saconsensus.Hash, att saconsensus.Attestation,
) (saconsensus.Block, error) {
	var ticker *time.Ticker
	for {
		b, err := t.cfg.Store.GetCandidateBlockByHash(ctx, hash)
		if err == nil {
			b.Attestation = &att
			return b, nil
		}
		if !errors.Is(err, sastore.ErrCandidateNotFound) {
			return saconsensus.Block{}, fmt.Errorf("failed to load winning candidate: %w", err)
		}

		if ticker == nil {
			t.log.Info("Waiting for winning candidate", "hash", hash.Short())
			ticker = time.NewTicker(candidatePollInterval)
			defer ticker.Stop()
		}

		select {
		case <-ctx.Done():
			return saconsensus.Block{}, fmt.Errorf("%w: %w", saconsensus.ErrCanceled, context.Cause(ctx))
		case <-ticker.C:
		case m := <-t.cfg.Inbound:
			if c, ok := m.Payload.(saconsensus.Candidate); ok && m.Header.Round == t.cfg.RoundUpdate.Round {
				t.storeCandidate(ctx, m, c)
			}
		}
	}
}

func (t *task) reject(m saconsensus.Message, err error) {
	t.cfg.Metrics.MessageRejected(err)
	t.log.Debug(
		"Dropping message",
		"topic", m.Header.Topic,
		"msg_round", m.Header.Round,
		"msg_step", m.Header.Step,
		"reason", saemetrics.RejectReason(err),
		"err", err,
	)
}
