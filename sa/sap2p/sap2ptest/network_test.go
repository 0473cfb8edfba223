package sap2ptest_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gsa/internal/gtest"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/gordian-engine/gsa/sa/sap2p/sap2ptest"
	"github.com/stretchr/testify/require"
)

func TestNetwork_broadcast(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := sap2ptest.NewNetwork(ctx, gtest.NewLogger(t))
	defer n.Wait()
	defer cancel()

	q0 := n.Connect("a")
	q1 := n.Connect("b")
	q2 := n.Connect("c")

	fx := saconsensustest.NewFixture(1, 1)
	m := fx.Reduction(fx.Signers[0], 3, 2, saconsensus.Hash{7})

	q0.Outbound <- m

	for _, in := range []<-chan saconsensus.Message{q1.Inbound, q2.Inbound} {
		got := gtest.ReceiveSoon(t, in)
		require.Equal(t, m, got)
	}

	// No echo to the sender.
	gtest.NotSending(t, q0.Inbound)
}

func TestNetwork_filter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := sap2ptest.NewNetwork(ctx, gtest.NewLogger(t))
	defer n.Wait()
	defer cancel()

	q0 := n.Connect("a")
	q1 := n.Connect("b")
	q2 := n.Connect("c")

	n.SetFilter(func(from, to int, _ saconsensus.Message) bool {
		return to != 2
	})

	fx := saconsensustest.NewFixture(1, 1)
	m := fx.Reduction(fx.Signers[0], 3, 2, saconsensus.Hash{7})
	q0.Outbound <- m

	_ = gtest.ReceiveSoon(t, q1.Inbound)

	select {
	case <-q2.Inbound:
		t.Fatal("filtered node received message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNetwork_preservesOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := sap2ptest.NewNetwork(ctx, gtest.NewLogger(t))
	defer n.Wait()
	defer cancel()

	q0 := n.Connect("a")
	q1 := n.Connect("b")

	fx := saconsensustest.NewFixture(1, 1)
	for step := uint8(1); step <= 20; step++ {
		q0.Outbound <- fx.Reduction(fx.Signers[0], 1, step, saconsensus.Hash{step})
	}
	for step := uint8(1); step <= 20; step++ {
		got := gtest.ReceiveSoon(t, q1.Inbound)
		require.Equal(t, step, got.Header.Step)
	}
}
