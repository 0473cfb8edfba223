package saphase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/internal/sacommittee"
	"github.com/gordian-engine/gsa/sa/saengine/internal/safuture"
	"github.com/gordian-engine/gsa/sa/saengine/saemetrics"
	"github.com/gordian-engine/gsa/sa/sastore"
)

// TimeoutStrategy decides how long each step of an iteration may run.
type TimeoutStrategy interface {
	StepTimeout(round uint64, iteration uint8) time.Duration
}

// CommitteeSizes are the sortition sizes for the phase committees.
type CommitteeSizes struct {
	Selection int
	Reduction int
}

// MachineConfig is the configuration for a [Machine].
type MachineConfig struct {
	RoundUpdate  saconsensus.RoundUpdate
	Provisioners *saconsensus.Provisioners

	Committees *sacommittee.Cache
	Sizes      CommitteeSizes

	Operations    saconsensus.Operations
	BlockGasLimit uint64

	Store sastore.CandidateStore

	// Future holds NewBlock and Reduction messages for later steps of this round
	// or later rounds. The machine drains it at the start of each step.
	Future *safuture.Queue

	// Inbound carries NewBlock and Reduction messages for the current round.
	Inbound <-chan saconsensus.Message

	// Outbound is the broadcast queue.
	Outbound chan<- saconsensus.Message

	// Agreements receives every locally minted Agreement.
	Agreements chan<- saconsensus.Message

	Timeouts TimeoutStrategy

	Metrics *saemetrics.Collector

	// Now returns the timestamp for generated blocks. Defaults to time.Now.
	Now func() time.Time
}

// Machine drives Selection, Reduction-1, and Reduction-2
// for each iteration of a single round.
type Machine struct {
	log *slog.Logger

	cfg MachineConfig
	rc  *RoundCtx
}

func NewMachine(log *slog.Logger, cfg MachineConfig) *Machine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Machine{
		log: log,
		cfg: cfg,
		rc:  NewRoundCtx(log.With("m_sys", "roundctx"), cfg.RoundUpdate),
	}
}

// Run executes iterations until ctx is canceled,
// returning an error wrapping [saconsensus.ErrCanceled],
// or until the last step passes without the round being decided,
// returning [saconsensus.ErrMaxStepReached].
func (m *Machine) Run(ctx context.Context) error {
	for iter := uint8(1); iter <= saconsensus.MaxIterations; iter++ {
		if err := canceled(ctx); err != nil {
			return err
		}

		m.cfg.Metrics.IterationStarted()
		m.log.Debug("Starting iteration", "iteration", iter)

		sel, err := m.runStep(ctx, selectionPhase(iter))
		if err != nil {
			return err
		}

		r1Phase := firstReductionPhase(iter, sel.Candidate)
		r1, err := m.runStep(ctx, r1Phase)
		if err != nil {
			return err
		}
		if !r1.TimedOut {
			if err := m.addStepVotes(ctx, r1Phase.step, r1, true); err != nil {
				return err
			}
		}

		r2Phase := secondReductionPhase(iter, r1.Hash)
		r2, err := m.runStep(ctx, r2Phase)
		if err != nil {
			return err
		}
		if !r2.TimedOut {
			if err := m.addStepVotes(ctx, r2Phase.step, r2, false); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("%w: round %d", saconsensus.ErrMaxStepReached, m.cfg.RoundUpdate.Round)
}

// canceled returns an error wrapping [saconsensus.ErrCanceled] once ctx is done.
func canceled(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", saconsensus.ErrCanceled, context.Cause(ctx))
}

func (m *Machine) addStepVotes(ctx context.Context, step uint8, res StepResult, isFirst bool) error {
	msg, ok := m.rc.AddStepVotes(ctx, step, res.Hash, res.StepVotes, isFirst)
	if !ok {
		return canceled(ctx)
	}

	m.cfg.Metrics.AgreementMinted()
	m.log.Info(
		"Minted agreement",
		"iteration", saconsensus.IterationForStep(step),
		"hash", res.Hash.Short(),
	)

	// The local agreement task counts our own agreement first.
	select {
	case <-ctx.Done():
		return canceled(ctx)
	case m.cfg.Agreements <- msg:
	}
	m.broadcast(ctx, msg)
	return canceled(ctx)
}

func (m *Machine) runStep(ctx context.Context, ph phase) (StepResult, error) {
	ru := m.cfg.RoundUpdate

	size := m.cfg.Sizes.Reduction
	if ph.kind == saconsensus.StepSelection {
		size = m.cfg.Sizes.Selection
	}
	committee := m.cfg.Committees.Committee(m.cfg.Provisioners, saconsensus.SortitionConfig{
		Seed:          ru.Seed,
		Round:         ru.Round,
		Step:          ph.step,
		CommitteeSize: size,
	})

	log := m.log.With("step", ph.step, "kind", ph.kind)
	h := newMsgHandler(log, ru, ph, committee, m.cfg.Store)

	timer := time.NewTimer(m.cfg.Timeouts.StepTimeout(ru.Round, ph.iteration))
	defer timer.Stop()

	if err := canceled(ctx); err != nil {
		return StepResult{}, err
	}
	if res, done := m.act(ctx, h); done {
		return res, canceled(ctx)
	}

	// Messages that arrived early for this step go before any fresh input.
	for _, msg := range m.cfg.Future.Drain(ru.Round, ph.step) {
		if res, done := m.handle(ctx, h, msg); done {
			return res, canceled(ctx)
		}
	}

	votes := h.Votes()
	for {
		if err := canceled(ctx); err != nil {
			return StepResult{}, err
		}

		// Locally available results take priority over network input.
		select {
		case r := <-votes:
			return h.votesResult(r), nil
		default:
		}

		select {
		case <-ctx.Done():
			return StepResult{}, canceled(ctx)

		case r := <-votes:
			return h.votesResult(r), nil

		case msg := <-m.cfg.Inbound:
			if res, done := m.handle(ctx, h, msg); done {
				return res, nil
			}

		case <-timer.C:
			m.cfg.Metrics.StepTimedOut(ph.kind)
			return h.HandleTimeout(), nil
		}
	}
}

func (m *Machine) handle(ctx context.Context, h *MsgHandler, msg saconsensus.Message) (StepResult, bool) {
	res, done, err := h.Handle(ctx, msg)
	if err == nil {
		return res, done
	}

	if errors.Is(err, saconsensus.ErrFutureEvent) {
		if m.cfg.Future.Put(msg) {
			m.cfg.Metrics.FutureQueued()
		} else {
			m.log.Debug("Future queue full; dropping message", "round", msg.Header.Round, "step", msg.Header.Step)
		}
		return StepResult{}, false
	}

	m.cfg.Metrics.MessageRejected(err)
	lvl := slog.LevelDebug
	if !saconsensus.IsDroppable(err) {
		// Anything else is a local failure.
		lvl = slog.LevelWarn
	}
	m.log.Log(
		ctx, lvl,
		"Dropping message",
		"topic", msg.Header.Topic,
		"msg_step", msg.Header.Step,
		"reason", saemetrics.RejectReason(err),
		"err", err,
	)
	return StepResult{}, false
}

// act performs the local node's own duty for the step, if it is a committee member:
// generating the candidate in Selection or casting a vote in a reduction.
func (m *Machine) act(ctx context.Context, h *MsgHandler) (StepResult, bool) {
	ru := m.cfg.RoundUpdate
	if !h.committee.IsMember(ru.PubKeyBytes()) {
		return StepResult{}, false
	}

	switch h.ph.kind {
	case saconsensus.StepSelection:
		b, msg, err := m.generate(ctx, h.ph)
		if err != nil {
			m.log.Warn("Failed to generate candidate", "iteration", h.ph.iteration, "err", err)
			return StepResult{}, false
		}
		m.broadcast(ctx, msg)
		return StepResult{Hash: msg.Header.BlockHash, Candidate: &b}, true

	case saconsensus.StepFirstReduction:
		if h.ph.candidate == nil {
			return StepResult{}, false
		}
		if err := m.verifyCandidate(ctx, *h.ph.candidate); err != nil {
			m.log.Info(
				"Not voting for candidate",
				"hash", h.ph.candidate.Hash().Short(),
				"err", err,
			)
			return StepResult{}, false
		}
		m.vote(ctx, h, h.ph.candidate.Hash())
		return StepResult{}, false

	case saconsensus.StepSecondReduction:
		if h.ph.hash.IsZero() {
			return StepResult{}, false
		}
		m.vote(ctx, h, h.ph.hash)
		return StepResult{}, false

	default:
		panic(fmt.Errorf("BUG: unhandled step kind %d", h.ph.kind))
	}
}

func (m *Machine) vote(ctx context.Context, h *MsgHandler, hash saconsensus.Hash) {
	ru := m.cfg.RoundUpdate
	hdr := saconsensus.Header{
		PubKeyBLS: ru.PubKeyBytes(),
		Round:     ru.Round,
		Step:      h.ph.step,
		BlockHash: hash,
	}
	sig, err := saconsensus.SignHeader(ctx, ru.Signer, hdr)
	if err != nil {
		m.log.Warn("Failed to sign vote", "step", h.ph.step, "err", err)
		return
	}

	msg := saconsensus.NewMessage(hdr, saconsensus.Reduction{Signature: sig})

	// Count our own vote before anyone else's.
	h.acc.Process(msg)
	m.broadcast(ctx, msg)
}

// verifyCandidate decides whether the local node votes for b in the first reduction.
func (m *Machine) verifyCandidate(ctx context.Context, b saconsensus.Block) error {
	out, err := m.cfg.Operations.VerifyStateTransition(ctx, saconsensus.CallParams{
		Round:           m.cfg.RoundUpdate.Round,
		BlockGasLimit:   m.cfg.BlockGasLimit,
		GeneratorPubKey: b.Header.GeneratorPubKey,
	}, b.Txs)
	if err != nil {
		return fmt.Errorf("state transition rejected: %w", err)
	}
	if out.StateRoot != b.Header.StateHash {
		return fmt.Errorf(
			"%w: state root %s, candidate claims %s",
			saconsensus.ErrInvalidBlock, out.StateRoot.Short(), b.Header.StateHash.Short(),
		)
	}
	return nil
}

// generate builds, stores, and signs a new candidate as the Selection generator.
func (m *Machine) generate(ctx context.Context, ph phase) (saconsensus.Block, saconsensus.Message, error) {
	ru := m.cfg.RoundUpdate

	txs, out, err := m.cfg.Operations.ExecuteStateTransition(ctx, saconsensus.CallParams{
		Round:           ru.Round,
		BlockGasLimit:   m.cfg.BlockGasLimit,
		GeneratorPubKey: ru.PubKeyBytes(),
	})
	if err != nil {
		return saconsensus.Block{}, saconsensus.Message{}, fmt.Errorf("failed to execute state transition: %w", err)
	}

	seed, err := ru.Signer.Sign(ctx, ru.Seed)
	if err != nil {
		return saconsensus.Block{}, saconsensus.Message{}, fmt.Errorf("failed to sign seed: %w", err)
	}

	b := saconsensus.Block{
		Header: saconsensus.BlockHeader{
			Version:          saconsensus.BlockVersion,
			Height:           ru.Round,
			Timestamp:        m.cfg.Now().Unix(),
			PrevBlockHash:    ru.Hash,
			Seed:             seed,
			StateHash:        out.StateRoot,
			GeneratorPubKey:  ru.PubKeyBytes(),
			Iteration:        ph.iteration,
			TxRoot:           saconsensus.TxRoot(txs),
			FailedIterations: m.rc.IterationsInfo(ph.iteration),
		},
		Txs: txs,
	}

	if err := m.cfg.Store.StoreCandidateBlock(ctx, b); err != nil {
		return saconsensus.Block{}, saconsensus.Message{}, fmt.Errorf("failed to store candidate: %w", err)
	}

	hdr := saconsensus.Header{
		PubKeyBLS: ru.PubKeyBytes(),
		Round:     ru.Round,
		Step:      ph.step,
		BlockHash: b.Hash(),
	}
	sig, err := saconsensus.SignHeader(ctx, ru.Signer, hdr)
	if err != nil {
		return saconsensus.Block{}, saconsensus.Message{}, err
	}

	m.log.Info("Generated candidate", "iteration", ph.iteration, "hash", hdr.BlockHash.Short(), "txs", len(txs))

	return b, saconsensus.NewMessage(hdr, saconsensus.NewBlock{Candidate: b, Signature: sig}), nil
}

// broadcast sends msg on the outbound queue from a short-lived goroutine,
// so that a slow transport never stalls the step.
func (m *Machine) broadcast(ctx context.Context, msg saconsensus.Message) {
	// Messages already queued survive the round ending.
	select {
	case m.cfg.Outbound <- msg:
		return
	default:
	}

	go func() {
		select {
		case <-ctx.Done():
		case m.cfg.Outbound <- msg:
		}
	}()
}
