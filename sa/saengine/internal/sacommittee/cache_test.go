package sacommittee_test

import (
	"testing"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/saengine/internal/sacommittee"
	"github.com/stretchr/testify/require"
)

func TestCache_returnsSameCommittee(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(10, 3)
	c, err := sacommittee.New(8)
	require.NoError(t, err)

	cfg := saconsensus.SortitionConfig{
		Seed:          fx.Seed,
		Round:         4,
		Step:          2,
		CommitteeSize: 5,
	}

	a := c.Committee(fx.Provisioners, cfg)
	b := c.Committee(fx.Provisioners, cfg)
	require.Same(t, a, b)
	require.Equal(t, 1, c.Len())
	require.Equal(t, cfg, a.Config())

	// Matches a fresh extraction.
	fresh := saconsensus.ExtractCommittee(fx.Provisioners, cfg)
	require.Equal(t, fresh.Size(), a.Size())
	for i := 0; i < a.Size(); i++ {
		require.True(t, fresh.PubKeyAt(i).Equal(a.PubKeyAt(i)))
		require.Equal(t, fresh.WeightAt(i), a.WeightAt(i))
	}
}

func TestCache_keysOnEveryField(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(10, 3)
	c, err := sacommittee.New(16)
	require.NoError(t, err)

	base := saconsensus.SortitionConfig{Seed: fx.Seed, Round: 4, Step: 2, CommitteeSize: 5}
	c.Committee(fx.Provisioners, base)

	for _, cfg := range []saconsensus.SortitionConfig{
		{Seed: []byte("other"), Round: 4, Step: 2, CommitteeSize: 5},
		{Seed: fx.Seed, Round: 5, Step: 2, CommitteeSize: 5},
		{Seed: fx.Seed, Round: 4, Step: 3, CommitteeSize: 5},
		{Seed: fx.Seed, Round: 4, Step: 2, CommitteeSize: 6},
	} {
		c.Committee(fx.Provisioners, cfg)
	}
	require.Equal(t, 5, c.Len())
}

func TestCache_evicts(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(4, 1)
	c, err := sacommittee.New(2)
	require.NoError(t, err)

	for step := uint8(1); step <= 5; step++ {
		c.Committee(fx.Provisioners, saconsensus.SortitionConfig{
			Seed: fx.Seed, Round: 1, Step: step, CommitteeSize: 64,
		})
	}
	require.Equal(t, 2, c.Len())
}
