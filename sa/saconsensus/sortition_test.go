package saconsensus_test

import (
	"testing"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/stretchr/testify/require"
)

func TestExtractCommittee_deterministic(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(8, 5)

	for step := uint8(1); step <= 9; step++ {
		a := fx.Committee(3, step, 16)
		b := fx.Committee(3, step, 16)

		require.Equal(t, a.Size(), b.Size())
		require.Equal(t, a.TotalWeight(), b.TotalWeight())
		for i := range a.Size() {
			require.True(t, a.PubKeyAt(i).Equal(b.PubKeyAt(i)))
			require.Equal(t, a.WeightAt(i), b.WeightAt(i))
		}
	}
}

func TestExtractCommittee_boundedBySize(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(8, 100)

	c := fx.Committee(1, 2, 16)
	require.Equal(t, uint64(16), c.TotalWeight())
	require.LessOrEqual(t, c.Size(), 8)
}

func TestExtractCommittee_weightCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	// Each provisioner holds 10 units; a committee of 64 exhausts all 40 units,
	// so every provisioner is extracted exactly 10 times.
	fx := saconsensustest.NewFixture(4, 10)

	c := fx.Committee(1, 2, 64)
	require.Equal(t, 4, c.Size())
	require.Equal(t, uint64(40), c.TotalWeight())
	for i := range c.Size() {
		require.Equal(t, uint64(10), c.WeightAt(i))
	}
	require.Equal(t, uint64(27), c.QuorumWeight())
}

func TestExtractCommittee_empty(t *testing.T) {
	t.Parallel()

	p, err := saconsensus.NewProvisioners(nil)
	require.NoError(t, err)

	c := saconsensus.ExtractCommittee(p, saconsensus.SortitionConfig{
		Seed: []byte("seed"), Round: 1, Step: 1, CommitteeSize: 64,
	})
	require.Zero(t, c.Size())
	require.Zero(t, c.TotalWeight())

	// Quorum is never reachable on an empty committee.
	require.Greater(t, c.QuorumWeight(), c.TotalWeight())
	require.Empty(t, c.Intersect(^uint64(0)).Keys)
}

func TestExtractCommittee_ineligibleStake(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(2, 1)

	ps := make([]saconsensus.Provisioner, fx.Provisioners.Len())
	for i := range ps {
		ps[i] = fx.Provisioners.At(i)
		ps[i].Stake.EligibleSince = 10
	}
	p, err := saconsensus.NewProvisioners(ps)
	require.NoError(t, err)

	require.Zero(t, p.EligibleWeight(9))
	require.Equal(t, fx.Provisioners.EligibleWeight(1), p.EligibleWeight(10))
	require.NotZero(t, p.EligibleWeight(10))

	c := saconsensus.ExtractCommittee(p, saconsensus.SortitionConfig{
		Seed: fx.Seed, Round: 9, Step: 1, CommitteeSize: 1,
	})
	require.Zero(t, c.Size())

	c = saconsensus.ExtractCommittee(p, saconsensus.SortitionConfig{
		Seed: fx.Seed, Round: 10, Step: 1, CommitteeSize: 1,
	})
	require.Equal(t, 1, c.Size())
}

func TestExtractCommittee_singleGenerator(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(4, 1)

	for round := uint64(1); round <= 5; round++ {
		for step := uint8(1); step <= 30; step += saconsensus.StepsPerIteration {
			c := fx.Committee(round, step, saconsensus.SelectionCommitteeSize)
			require.Equal(t, 1, c.Size())
			require.Equal(t, uint64(1), c.TotalWeight())
			require.Equal(t, uint64(1), c.QuorumWeight())

			again := fx.Committee(round, step, saconsensus.SelectionCommitteeSize)
			require.True(t, c.PubKeyAt(0).Equal(again.PubKeyAt(0)))
		}
	}
}

func TestNewProvisioners_duplicate(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(1, 1)
	p := fx.Provisioners.At(0)

	_, err := saconsensus.NewProvisioners([]saconsensus.Provisioner{p, p})
	require.Error(t, err)
}
