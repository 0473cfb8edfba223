package saleveldb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/gordian-engine/gsa/sa/sastore/saleveldb"
	"github.com/gordian-engine/gsa/sa/sastore/sastoretest"
	"github.com/stretchr/testify/require"
)

func TestCandidateStoreCompliance(t *testing.T) {
	t.Parallel()

	sastoretest.TestCandidateStoreCompliance(t, func(cleanup func(func())) (sastore.CandidateStore, error) {
		s, err := saleveldb.NewMemCandidateStore()
		if err != nil {
			return nil, err
		}
		cleanup(func() { _ = s.Close() })
		return s, nil
	})
}

func TestCandidateStore_reopen(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "candidates")
	fx := saconsensustest.NewFixture(1, 1)
	b := sastoretest.CandidateBlock(fx, 7, "persisted")

	s, err := saleveldb.OpenCandidateStore(path)
	require.NoError(t, err)
	require.NoError(t, s.StoreCandidateBlock(ctx, b))
	require.NoError(t, s.Close())

	s, err = saleveldb.OpenCandidateStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetCandidateBlockByHash(ctx, b.Hash())
	require.NoError(t, err)
	require.Equal(t, b, got)
}
