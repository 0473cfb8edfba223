package sastoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/stretchr/testify/require"
)

// CandidateStoreFactory returns a fresh, empty store.
// The cleanup function registers work to run when the test completes,
// such as closing a database handle.
type CandidateStoreFactory func(cleanup func(func())) (sastore.CandidateStore, error)

// TestCandidateStoreCompliance runs the behavior every [sastore.CandidateStore] must exhibit.
func TestCandidateStoreCompliance(t *testing.T, f CandidateStoreFactory) {
	t.Helper()

	fx := saconsensustest.NewFixture(2, 1)

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		b := CandidateBlock(fx, 3, "a")
		require.NoError(t, s.StoreCandidateBlock(ctx, b))

		got, err := s.GetCandidateBlockByHash(ctx, b.Hash())
		require.NoError(t, err)
		require.Equal(t, b, got)
		require.Equal(t, b.Hash(), got.Hash())
	})

	t.Run("attestation is preserved", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		b := CandidateBlock(fx, 3, "attested")
		b.Attestation = &saconsensus.Attestation{
			FirstReduction:  fx.StepVotes(3, 2, 64, b.Hash()),
			SecondReduction: fx.StepVotes(3, 3, 64, b.Hash()),
		}
		require.NoError(t, s.StoreCandidateBlock(ctx, b))

		got, err := s.GetCandidateBlockByHash(ctx, b.Hash())
		require.NoError(t, err)
		require.Equal(t, b, got)
	})

	t.Run("missing hash", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		_, err = s.GetCandidateBlockByHash(ctx, saconsensus.Hash{1})
		require.ErrorIs(t, err, sastore.ErrCandidateNotFound)
	})

	t.Run("storing twice is idempotent", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		b := CandidateBlock(fx, 3, "dup")
		require.NoError(t, s.StoreCandidateBlock(ctx, b))
		require.NoError(t, s.StoreCandidateBlock(ctx, b))

		got, err := s.GetCandidateBlockByHash(ctx, b.Hash())
		require.NoError(t, err)
		require.Equal(t, b, got)
	})

	t.Run("delete by height", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		var blocks []saconsensus.Block
		for h := uint64(1); h <= 4; h++ {
			for _, tag := range []string{"x", "y"} {
				b := CandidateBlock(fx, h, tag)
				require.NoError(t, s.StoreCandidateBlock(ctx, b))
				blocks = append(blocks, b)
			}
		}

		require.NoError(t, s.DeleteCandidateBlocks(ctx, 2))

		for _, b := range blocks {
			_, err := s.GetCandidateBlockByHash(ctx, b.Hash())
			if b.Header.Height <= 2 {
				require.ErrorIs(t, err, sastore.ErrCandidateNotFound)
			} else {
				require.NoError(t, err)
			}
		}

		// Deleting when nothing matches is fine.
		require.NoError(t, s.DeleteCandidateBlocks(ctx, 1))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := f(t.Cleanup)
		require.NoError(t, err)

		const n = 8
		blocks := make([]saconsensus.Block, n)
		for i := range blocks {
			blocks[i] = CandidateBlock(fx, 5, fmt.Sprintf("w%d", i))
		}

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for _, b := range blocks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.StoreCandidateBlock(ctx, b)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		for _, b := range blocks {
			_, err := s.GetCandidateBlockByHash(ctx, b.Hash())
			require.NoError(t, err)
		}
	})
}

// CandidateBlock returns a distinct candidate at the given height.
// Different tags produce different hashes.
func CandidateBlock(fx *saconsensustest.Fixture, height uint64, tag string) saconsensus.Block {
	txs := [][]byte{[]byte("tx-" + tag)}
	return saconsensus.Block{
		Header: saconsensus.BlockHeader{
			Version:         saconsensus.BlockVersion,
			Height:          height,
			Timestamp:       int64(height) * 10,
			PrevBlockHash:   saconsensus.Hash{byte(height)},
			Seed:            []byte("seed-" + tag),
			GeneratorPubKey: fx.Signers[0].BLSPubKey().PubKeyBytes(),
			Iteration:       1,
			TxRoot:          saconsensus.TxRoot(txs),
		},
		Txs: txs,
	}
}
