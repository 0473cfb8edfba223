package saphase

import (
	"context"
	"testing"

	"github.com/gordian-engine/gsa/gcrypto/gblsminsig"
	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/gordian-engine/gsa/sa/sastore/sainmem"
	"github.com/stretchr/testify/require"
)

func reductionHandler(t *testing.T, fx *saconsensustest.Fixture, round uint64, iter uint8, size int) *MsgHandler {
	t.Helper()

	ph := firstReductionPhase(iter, nil)
	c := fx.Committee(round, ph.step, size)
	return newMsgHandler(gtest.NewLogger(t), fx.RoundUpdate(0, round), ph, c, sainmem.NewCandidateStore())
}

func TestMsgHandler_pastEventAlwaysRejected(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(4, 1)
	h := reductionHandler(t, fx, 5, 1, 64)
	s := fx.CommitteeSigners(h.committee)[0]

	hash := saconsensus.Hash{1}
	for _, m := range []saconsensus.Message{
		// Previous round, same step: perfectly valid for that round.
		fx.Reduction(s, 4, 2, hash),
		// Same round, previous step.
		fx.Reduction(s, 5, 1, hash),
		// Far past.
		fx.Reduction(s, 0, 200, hash),
	} {
		_, done, err := h.Handle(context.Background(), m)
		require.ErrorIs(t, err, saconsensus.ErrPastEvent)
		require.False(t, done)
	}
	require.Zero(t, h.acc.Weight(hash))
}

func TestMsgHandler_futureEvent(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(4, 1)
	h := reductionHandler(t, fx, 5, 1, 64)
	s := fx.Signers[0]

	_, _, err := h.Handle(context.Background(), fx.Reduction(s, 6, 1, saconsensus.Hash{1}))
	require.ErrorIs(t, err, saconsensus.ErrFutureEvent)

	_, _, err = h.Handle(context.Background(), fx.Reduction(s, 5, 3, saconsensus.Hash{1}))
	require.ErrorIs(t, err, saconsensus.ErrFutureEvent)
}

func TestMsgHandler_rejections(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(10, 1)
	h := reductionHandler(t, fx, 5, 1, 3)
	require.Equal(t, 3, h.committee.Size())

	var member, outsider gblsminsig.Signer
	foundOutsider := false
	for _, s := range fx.Signers {
		if h.committee.IsMember(s.BLSPubKey().PubKeyBytes()) {
			member = s
		} else {
			outsider = s
			foundOutsider = true
		}
	}
	require.True(t, foundOutsider)

	ctx := context.Background()
	hash := saconsensus.Hash{3}

	t.Run("not a member", func(t *testing.T) {
		_, _, err := h.Handle(ctx, fx.Reduction(outsider, 5, 2, hash))
		require.ErrorIs(t, err, saconsensus.ErrNotCommitteeMember)
	})

	t.Run("signature over different hash", func(t *testing.T) {
		m := fx.Reduction(member, 5, 2, hash)
		m.Header.BlockHash = saconsensus.Hash{4}
		_, _, err := h.Handle(ctx, m)
		require.ErrorIs(t, err, saconsensus.ErrInvalidSignature)
	})

	t.Run("empty hash", func(t *testing.T) {
		_, _, err := h.Handle(ctx, fx.Reduction(member, 5, 2, saconsensus.Hash{}))
		require.ErrorIs(t, err, saconsensus.ErrInvalidBlock)
	})

	t.Run("wrong payload for phase", func(t *testing.T) {
		m := fx.Agreement(member, 5, 2, hash, saconsensus.StepVotes{}, saconsensus.StepVotes{})
		_, _, err := h.Handle(ctx, m)
		require.ErrorIs(t, err, saconsensus.ErrInvalidMsgType)
	})

	t.Run("topic mismatch", func(t *testing.T) {
		m := fx.Reduction(member, 5, 2, hash)
		m.Header.Topic = saconsensus.TopicAgreement
		_, _, err := h.Handle(ctx, m)
		require.ErrorIs(t, err, saconsensus.ErrInvalidMsgType)
	})

	t.Run("valid vote is counted", func(t *testing.T) {
		_, done, err := h.Handle(ctx, fx.Reduction(member, 5, 2, hash))
		require.NoError(t, err)
		require.False(t, done)
		require.Equal(t, h.committee.VotesFor(member.BLSPubKey().PubKeyBytes()), h.acc.Weight(hash))
	})
}

func TestMsgHandler_reductionQuorum(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(4, 1)
	h := reductionHandler(t, fx, 5, 1, 64)
	hash := saconsensus.Hash{9}

	for _, s := range fx.CommitteeSigners(h.committee)[:3] {
		_, _, err := h.Handle(context.Background(), fx.Reduction(s, 5, 2, hash))
		require.NoError(t, err)
	}

	r := gtest.ReceiveSoon(t, h.Votes())
	res := h.votesResult(r)
	require.Equal(t, hash, res.Hash)
	require.False(t, res.StepVotes.IsEmpty())
}

// newBlockMsg builds a NewBlock from the generator for the given round update and phase.
func newBlockMsg(
	t *testing.T,
	gen gblsminsig.Signer,
	ru saconsensus.RoundUpdate,
	ph phase,
	mutate func(*saconsensus.Block),
) saconsensus.Message {
	t.Helper()

	ctx := context.Background()
	seed, err := gen.Sign(ctx, ru.Seed)
	require.NoError(t, err)

	txs := [][]byte{[]byte("tx")}
	b := saconsensus.Block{
		Header: saconsensus.BlockHeader{
			Version:         saconsensus.BlockVersion,
			Height:          ru.Round,
			PrevBlockHash:   ru.Hash,
			Seed:            seed,
			GeneratorPubKey: gen.BLSPubKey().PubKeyBytes(),
			Iteration:       ph.iteration,
			TxRoot:          saconsensus.TxRoot(txs),
		},
		Txs: txs,
	}
	if mutate != nil {
		mutate(&b)
	}

	hdr := saconsensus.Header{
		PubKeyBLS: gen.BLSPubKey().PubKeyBytes(),
		Round:     ru.Round,
		Step:      ph.step,
		BlockHash: b.Hash(),
	}
	sig, err := saconsensus.SignHeader(ctx, gen, hdr)
	require.NoError(t, err)

	return saconsensus.NewMessage(hdr, saconsensus.NewBlock{Candidate: b, Signature: sig})
}

func TestMsgHandler_selection(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(4, 1)
	ru := fx.RoundUpdate(0, 8)
	ph := selectionPhase(2)
	c := fx.Committee(8, ph.step, saconsensus.SelectionCommitteeSize)
	require.Equal(t, 1, c.Size())
	gen := fx.CommitteeSigners(c)[0]

	ctx := context.Background()

	for name, mutate := range map[string]func(*saconsensus.Block){
		"wrong height":    func(b *saconsensus.Block) { b.Header.Height++ },
		"wrong prev hash": func(b *saconsensus.Block) { b.Header.PrevBlockHash = saconsensus.Hash{1} },
		"wrong iteration": func(b *saconsensus.Block) { b.Header.Iteration = 1 },
		"wrong tx root":   func(b *saconsensus.Block) { b.Txs = append(b.Txs, []byte("extra")) },
		"bad seed":        func(b *saconsensus.Block) { b.Header.Seed = append([]byte(nil), b.Header.Seed[:47]...) },
		"attested":        func(b *saconsensus.Block) { b.Attestation = &saconsensus.Attestation{} },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := sainmem.NewCandidateStore()
			h := newMsgHandler(gtest.NewLogger(t), ru, ph, c, store)

			m := newBlockMsg(t, gen, ru, ph, mutate)
			_, done, err := h.Handle(ctx, m)
			require.ErrorIs(t, err, saconsensus.ErrInvalidBlock)
			require.False(t, done)

			_, err = store.GetCandidateBlockByHash(ctx, m.Header.BlockHash)
			require.ErrorIs(t, err, sastore.ErrCandidateNotFound)
		})
	}

	t.Run("valid candidate", func(t *testing.T) {
		t.Parallel()

		store := sainmem.NewCandidateStore()
		h := newMsgHandler(gtest.NewLogger(t), ru, ph, c, store)

		m := newBlockMsg(t, gen, ru, ph, nil)
		res, done, err := h.Handle(ctx, m)
		require.NoError(t, err)
		require.True(t, done)
		require.Equal(t, m.Header.BlockHash, res.Hash)
		require.NotNil(t, res.Candidate)

		got, err := store.GetCandidateBlockByHash(ctx, m.Header.BlockHash)
		require.NoError(t, err)
		require.Equal(t, *res.Candidate, got)
	})

	t.Run("reduction in selection", func(t *testing.T) {
		t.Parallel()

		h := newMsgHandler(gtest.NewLogger(t), ru, ph, c, sainmem.NewCandidateStore())
		_, _, err := h.Handle(ctx, fx.Reduction(gen, 8, ph.step, saconsensus.Hash{1}))
		require.ErrorIs(t, err, saconsensus.ErrInvalidMsgType)
	})
}
