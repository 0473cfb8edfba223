package safuture_test

import (
	"testing"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saengine/internal/safuture"
	"github.com/stretchr/testify/require"
)

func msg(round uint64, step uint8, tag byte) saconsensus.Message {
	return saconsensus.NewMessage(saconsensus.Header{
		Round:     round,
		Step:      step,
		BlockHash: saconsensus.Hash{tag},
	}, saconsensus.Reduction{})
}

func TestQueue_drainPreservesArrivalOrder(t *testing.T) {
	t.Parallel()

	q := safuture.New(16)
	require.True(t, q.Put(msg(5, 2, 1)))
	require.True(t, q.Put(msg(5, 3, 9)))
	require.True(t, q.Put(msg(5, 2, 2)))
	require.True(t, q.Put(msg(5, 2, 3)))

	got := q.Drain(5, 2)
	require.Len(t, got, 3)
	for i, m := range got {
		require.Equal(t, byte(i+1), m.Header.BlockHash[0])
	}

	// Drained exactly once.
	require.Empty(t, q.Drain(5, 2))
	require.Equal(t, 1, q.Len())
}

func TestQueue_perKeyLimit(t *testing.T) {
	t.Parallel()

	q := safuture.New(2)
	require.True(t, q.Put(msg(1, 1, 1)))
	require.True(t, q.Put(msg(1, 1, 2)))
	require.False(t, q.Put(msg(1, 1, 3)))

	// Other keys are unaffected.
	require.True(t, q.Put(msg(1, 2, 1)))

	require.Len(t, q.Drain(1, 1), 2)
}

func TestQueue_drainRoundOrdersBySteps(t *testing.T) {
	t.Parallel()

	q := safuture.New(8)
	q.Put(msg(7, 6, 60))
	q.Put(msg(7, 3, 30))
	q.Put(msg(8, 1, 99))
	q.Put(msg(7, 3, 31))

	got := q.DrainRound(7)
	require.Len(t, got, 3)
	require.Equal(t, byte(30), got[0].Header.BlockHash[0])
	require.Equal(t, byte(31), got[1].Header.BlockHash[0])
	require.Equal(t, byte(60), got[2].Header.BlockHash[0])

	require.Equal(t, 1, q.Len())
}

func TestQueue_clear(t *testing.T) {
	t.Parallel()

	q := safuture.New(8)
	q.Put(msg(3, 1, 1))
	q.Put(msg(4, 1, 1))
	q.Put(msg(4, 2, 1))
	q.Put(msg(5, 1, 1))

	require.Equal(t, 3, q.Clear(5))
	require.Equal(t, 1, q.Len())
	require.Len(t, q.Drain(5, 1), 1)
}
