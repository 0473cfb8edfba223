package saconsensus_test

import (
	"testing"

	"github.com/gordian-engine/gsa/gcrypto/gblsminsig/gblsminsigtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/stretchr/testify/require"
)

func TestNextRoundUpdate(t *testing.T) {
	t.Parallel()

	signer := gblsminsigtest.DeterministicSigners(1)[0]
	prev := saconsensus.Block{
		Header: saconsensus.BlockHeader{
			Version:   saconsensus.BlockVersion,
			Height:    7,
			Timestamp: 70,
			Seed:      []byte("prev seed"),
		},
	}

	ru := saconsensus.NextRoundUpdate(prev, signer)
	require.Equal(t, uint64(8), ru.Round)
	require.Equal(t, []byte("prev seed"), ru.Seed)
	require.Equal(t, prev.Hash(), ru.Hash)
	require.Equal(t, signer.BLSPubKey().PubKeyBytes(), ru.PubKeyBytes())

	// The seed is copied.
	prev.Header.Seed[0] = 'x'
	require.Equal(t, []byte("prev seed"), ru.Seed)
}
