package saphase_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/saengine/internal/saphase"
	"github.com/stretchr/testify/require"
)

func TestRoundCtx_matchingReductionsMintOnce(t *testing.T) {
	t.Parallel()

	for name, firstReductionFirst := range map[string]bool{
		"first then second": true,
		"second then first": false,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			fx := saconsensustest.NewFixture(4, 1)
			ru := fx.RoundUpdate(0, 9)
			rc := saphase.NewRoundCtx(gtest.NewLogger(t), ru)

			h := saconsensus.Hash{0xAA}
			first := fx.StepVotes(9, 5, 64, h)
			second := fx.StepVotes(9, 6, 64, h)

			var msg saconsensus.Message
			var ok bool
			if firstReductionFirst {
				_, ok = rc.AddStepVotes(ctx, 5, h, first, true)
				require.False(t, ok)
				msg, ok = rc.AddStepVotes(ctx, 6, h, second, false)
			} else {
				_, ok = rc.AddStepVotes(ctx, 6, h, second, false)
				require.False(t, ok)
				msg, ok = rc.AddStepVotes(ctx, 5, h, first, true)
			}
			require.True(t, ok)

			require.Equal(t, saconsensus.TopicAgreement, msg.Header.Topic)
			require.Equal(t, uint64(9), msg.Header.Round)
			require.Equal(t, uint8(6), msg.Header.Step)
			require.Equal(t, h, msg.Header.BlockHash)
			require.Equal(t, ru.PubKeyBytes(), msg.Header.PubKeyBLS)

			a := msg.Payload.(saconsensus.Agreement)
			require.Equal(t, first, a.FirstReduction)
			require.Equal(t, second, a.SecondReduction)
			require.True(t, ru.PubKey().Verify(msg.Header.SignBytes(), a.Signature))

			// Replays never mint a second agreement.
			_, ok = rc.AddStepVotes(ctx, 5, h, first, true)
			require.False(t, ok)
			_, ok = rc.AddStepVotes(ctx, 6, h, second, false)
			require.False(t, ok)
		})
	}
}

func TestRoundCtx_mismatchAbandonsIteration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := saconsensustest.NewFixture(4, 1)
	rc := saphase.NewRoundCtx(gtest.NewLogger(t), fx.RoundUpdate(0, 3))

	h1 := saconsensus.Hash{1}
	h2 := saconsensus.Hash{2}

	_, ok := rc.AddStepVotes(ctx, 2, h1, fx.StepVotes(3, 2, 64, h1), true)
	require.False(t, ok)
	_, ok = rc.AddStepVotes(ctx, 3, h2, fx.StepVotes(3, 3, 64, h2), false)
	require.False(t, ok)

	require.True(t, rc.Result(1).Invalid)

	// Even a matching second reduction cannot revive the iteration.
	_, ok = rc.AddStepVotes(ctx, 3, h1, fx.StepVotes(3, 3, 64, h1), false)
	require.False(t, ok)
}

func TestRoundCtx_ignoresEmptyVotes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := saconsensustest.NewFixture(4, 1)
	rc := saphase.NewRoundCtx(gtest.NewLogger(t), fx.RoundUpdate(0, 3))

	h := saconsensus.Hash{1}
	_, ok := rc.AddStepVotes(ctx, 2, h, saconsensus.StepVotes{}, true)
	require.False(t, ok)
	require.Nil(t, rc.Result(1))

	_, ok = rc.AddStepVotes(ctx, 2, saconsensus.Hash{}, fx.StepVotes(3, 2, 64, h), true)
	require.False(t, ok)
	require.Nil(t, rc.Result(1))
}

func TestRoundCtx_iterationsInfo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := saconsensustest.NewFixture(4, 1)
	rc := saphase.NewRoundCtx(gtest.NewLogger(t), fx.RoundUpdate(0, 3))

	require.Empty(t, rc.IterationsInfo(1).Attestations)
	require.Empty(t, rc.IterationsInfo(3).Attestations)

	// Iteration 2 reaches only the first reduction.
	h := saconsensus.Hash{7}
	sv := fx.StepVotes(3, 5, 64, h)
	_, ok := rc.AddStepVotes(ctx, 5, h, sv, true)
	require.False(t, ok)

	info := rc.IterationsInfo(4)
	require.Len(t, info.Attestations, 2)
	require.Nil(t, info.Attestations[0])
	require.Equal(t, &saconsensus.IterationAttestation{
		BlockHash:      h,
		FirstReduction: sv,
	}, info.Attestations[1])

	// Only earlier iterations are reported.
	require.Empty(t, rc.IterationsInfo(2).Attestations)
}
