package salibp2p_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/sap2p/salibp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"
)

func TestGossip_relay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mn, err := mocknet.FullMeshLinked(3)
	require.NoError(t, err)
	defer mn.Close()

	log := gtest.NewLogger(t)

	gossips := make([]*salibp2p.Gossip, 3)
	for i, h := range mn.Hosts() {
		ps, err := pubsub.NewGossipSub(ctx, h)
		require.NoError(t, err)

		g, err := salibp2p.NewGossip(ctx, log.With("idx", i), ps, h.ID(), salibp2p.DefaultTopic, 16)
		require.NoError(t, err)
		gossips[i] = g
	}
	defer func() {
		cancel()
		for _, g := range gossips {
			_ = g.Wait()
		}
	}()

	require.NoError(t, mn.ConnectAllButSelf())

	fx := saconsensustest.NewFixture(1, 1)
	m := fx.Reduction(fx.Signers[0], 9, 2, saconsensus.Hash{3})

	// Gossipsub meshes take a moment to form after connecting,
	// so republish until the first peer sees the message.
	var got saconsensus.Message
	require.Eventually(t, func() bool {
		gossips[0].Queues().Outbound <- m
		select {
		case got = <-gossips[1].Queues().Inbound:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 100*time.Millisecond)
	require.Equal(t, m, got)

	got = gtest.ReceiveOrTimeout(t, gossips[2].Queues().Inbound, gtest.ScaleMs(5000))
	require.Equal(t, m, got)
}
