package saengine_test

import (
	"testing"
	"time"

	"github.com/gordian-engine/gsa/sa/saengine"
	"github.com/stretchr/testify/require"
)

func TestExponentialTimeoutStrategy(t *testing.T) {
	t.Parallel()

	s := saengine.ExponentialTimeoutStrategy{
		Base: time.Second,
		Max:  10 * time.Second,
	}

	require.Equal(t, time.Second, s.StepTimeout(1, 1))
	require.Equal(t, 2*time.Second, s.StepTimeout(1, 2))
	require.Equal(t, 8*time.Second, s.StepTimeout(1, 4))
	require.Equal(t, 10*time.Second, s.StepTimeout(1, 5))
	require.Equal(t, 10*time.Second, s.StepTimeout(1, 71))
}
