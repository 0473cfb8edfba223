package saphase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/saengine/internal/sacommittee"
	"github.com/gordian-engine/gsa/sa/saengine/internal/safuture"
	"github.com/gordian-engine/gsa/sa/saengine/internal/saphase"
	"github.com/gordian-engine/gsa/sa/saoptest"
	"github.com/gordian-engine/gsa/sa/sastore/sainmem"
	"github.com/stretchr/testify/require"
)

type fixedTimeouts time.Duration

func (d fixedTimeouts) StepTimeout(uint64, uint8) time.Duration {
	return time.Duration(d)
}

type machineFixture struct {
	Fx *saconsensustest.Fixture
	RU saconsensus.RoundUpdate

	Ops    *saoptest.Operations
	Future *safuture.Queue

	Inbound    chan saconsensus.Message
	Outbound   chan saconsensus.Message
	Agreements chan saconsensus.Message

	Machine *saphase.Machine
}

func newMachineFixture(t *testing.T, fx *saconsensustest.Fixture, self int, round uint64, timeout time.Duration) *machineFixture {
	t.Helper()

	cache, err := sacommittee.New(64)
	require.NoError(t, err)

	mf := &machineFixture{
		Fx: fx,
		RU: fx.RoundUpdate(self, round),

		Ops:    saoptest.NewOperations(),
		Future: safuture.New(256),

		Inbound:    make(chan saconsensus.Message, 64),
		Outbound:   make(chan saconsensus.Message, 64),
		Agreements: make(chan saconsensus.Message, 4),
	}

	mf.Machine = saphase.NewMachine(gtest.NewLogger(t), saphase.MachineConfig{
		RoundUpdate:  mf.RU,
		Provisioners: fx.Provisioners,

		Committees: cache,
		Sizes: saphase.CommitteeSizes{
			Selection: saconsensus.SelectionCommitteeSize,
			Reduction: saconsensus.ReductionCommitteeSize,
		},

		Operations: mf.Ops,
		Store:      sainmem.NewCandidateStore(),

		Future: mf.Future,

		Inbound:    mf.Inbound,
		Outbound:   mf.Outbound,
		Agreements: mf.Agreements,

		Timeouts: fixedTimeouts(timeout),
	})

	return mf
}

// nextOutbound skips broadcasts until one matches topic and step.
func nextOutbound(t *testing.T, ch <-chan saconsensus.Message, topic saconsensus.Topic, step uint8) saconsensus.Message {
	t.Helper()

	deadline := time.After(gtest.ScaleMs(2000))
	for {
		select {
		case m := <-ch:
			if m.Header.Topic == topic && m.Header.Step == step {
				return m
			}
		case <-deadline:
			t.Fatalf("no %s broadcast for step %d", topic, step)
		}
	}
}

func TestMachine_singleProvisionerMintsAgreement(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mf := newMachineFixture(t, saconsensustest.NewFixture(1, 1), 0, 1, time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- mf.Machine.Run(ctx) }()

	nb := nextOutbound(t, mf.Outbound, saconsensus.TopicNewBlock, 1)
	cand := nb.Payload.(saconsensus.NewBlock).Candidate
	require.Equal(t, uint64(1), cand.Header.Height)
	require.Equal(t, uint8(1), cand.Header.Iteration)

	a := gtest.ReceiveSoon(t, mf.Agreements)
	require.Equal(t, nb.Header.BlockHash, a.Header.BlockHash)
	require.Equal(t, uint8(3), a.Header.Step)

	cancel()
	err := gtest.ReceiveSoon(t, errCh)
	require.ErrorIs(t, err, saconsensus.ErrCanceled)
}

func TestMachine_observesCancelWithLocalResultsReady(t *testing.T) {
	t.Parallel()

	decided := errors.New("decided elsewhere")

	t.Run("before the first step", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(decided)

		mf := newMachineFixture(t, saconsensustest.NewFixture(1, 1), 0, 1, time.Minute)

		err := mf.Machine.Run(ctx)
		require.ErrorIs(t, err, saconsensus.ErrCanceled)
		require.ErrorIs(t, err, decided)

		// The local node is the generator but never acts.
		gtest.NotSending(t, mf.Outbound)
		gtest.NotSending(t, mf.Agreements)
	})

	t.Run("after minting", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancelCause(context.Background())
		defer cancel(nil)

		mf := newMachineFixture(t, saconsensustest.NewFixture(1, 1), 0, 1, time.Minute)

		errCh := make(chan error, 1)
		go func() { errCh <- mf.Machine.Run(ctx) }()

		_ = gtest.ReceiveSoon(t, mf.Agreements)
		cancel(decided)

		// Every later step completes locally at once,
		// so only a cancel check ahead of them ends the run.
		err := gtest.ReceiveSoon(t, errCh)
		require.ErrorIs(t, err, saconsensus.ErrCanceled)
		require.ErrorIs(t, err, decided)
		require.NotErrorIs(t, err, saconsensus.ErrMaxStepReached)
	})
}

func TestMachine_rejectedCandidateGetsNoVote(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mf := newMachineFixture(t, saconsensustest.NewFixture(1, 1), 0, 1, 20*time.Millisecond)
	mf.Ops.RejectWhen(func([][]byte) bool { return true })

	go func() { _ = mf.Machine.Run(ctx) }()

	// Iteration 1 produces a candidate, no votes, and then iteration 2 starts.
	seen := map[saconsensus.Topic]int{}
	deadline := time.After(gtest.ScaleMs(2000))
	for {
		var m saconsensus.Message
		select {
		case m = <-mf.Outbound:
		case <-deadline:
			t.Fatal("iteration 2 did not start")
		}
		if m.Header.Topic == saconsensus.TopicNewBlock && m.Header.Step == 4 {
			break
		}
		seen[m.Header.Topic]++
	}

	require.Equal(t, 1, seen[saconsensus.TopicNewBlock])
	require.Zero(t, seen[saconsensus.TopicReduction])
	gtest.NotSending(t, mf.Agreements)
}

func TestMachine_maxStepReached(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mf := newMachineFixture(t, saconsensustest.NewFixture(1, 1), 0, 1, time.Millisecond)
	mf.Ops.RejectWhen(func([][]byte) bool { return true })

	// Drain broadcasts so nothing backs up.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-mf.Outbound:
			}
		}
	}()

	err := mf.Machine.Run(ctx)
	require.ErrorIs(t, err, saconsensus.ErrMaxStepReached)
}

func TestMachine_futureQueueDrainedBeforeLiveInput(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := saconsensustest.NewFixture(4, 1)
	const round = 2

	// Run as a node that is not the iteration-1 generator,
	// so it casts no first-reduction vote of its own.
	gen := fx.Committee(round, 1, saconsensus.SelectionCommitteeSize).PubKeyAt(0).PubKeyBytes()
	self := -1
	for i, s := range fx.Signers {
		if string(s.BLSPubKey().PubKeyBytes()) != string(gen) {
			self = i
			break
		}
	}
	require.GreaterOrEqual(t, self, 0)

	mf := newMachineFixture(t, fx, self, round, 50*time.Millisecond)

	r1 := fx.Committee(round, 2, saconsensus.ReductionCommitteeSize)
	signers := fx.CommitteeSigners(r1)
	queued := saconsensus.Hash{0xA}
	live := saconsensus.Hash{0xB}

	// A quorum for one hash was queued while the node was still in an earlier round.
	for _, s := range signers[:3] {
		require.True(t, mf.Future.Put(fx.Reduction(s, round, 2, queued)))
	}
	// A competing quorum arrives fresh, while the node is in Selection.
	for _, s := range signers[1:] {
		mf.Inbound <- fx.Reduction(s, round, 2, live)
	}

	go func() { _ = mf.Machine.Run(ctx) }()

	// The second reduction vote reveals which hash won the first reduction.
	v := nextOutbound(t, mf.Outbound, saconsensus.TopicReduction, 3)
	require.Equal(t, queued, v.Header.BlockHash)
}
