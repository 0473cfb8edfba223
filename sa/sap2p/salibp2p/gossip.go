// Package salibp2p connects engine queues to a libp2p gossipsub topic.
package salibp2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/sap2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// DefaultTopic is the gossipsub topic consensus messages are published on.
const DefaultTopic = "gsa/consensus/1"

// Gossip relays consensus messages over one gossipsub topic.
type Gossip struct {
	log *slog.Logger

	self  peer.ID
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	queues sap2p.Queues

	wg sync.WaitGroup
}

// NewGossip joins topicName on ps and starts the relay goroutines.
// They stop when ctx is canceled; call Wait to join them and release the topic.
func NewGossip(
	ctx context.Context,
	log *slog.Logger,
	ps *pubsub.PubSub,
	self peer.ID,
	topicName string,
	queueSize int,
) (*Gossip, error) {
	topic, err := ps.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %q: %w", topicName, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %q: %w", topicName, err)
	}

	q, out, in := sap2p.NewQueues(queueSize)

	g := &Gossip{
		log: log,

		self:  self,
		topic: topic,
		sub:   sub,

		queues: q,
	}

	g.wg.Add(2)
	go g.publishLoop(ctx, out)
	go g.receiveLoop(ctx, in)

	return g, nil
}

// Queues returns the engine side of the relay.
func (g *Gossip) Queues() sap2p.Queues {
	return g.queues
}

// Wait blocks until both relay goroutines have stopped,
// then closes the topic.
func (g *Gossip) Wait() error {
	g.wg.Wait()
	g.sub.Cancel()
	return g.topic.Close()
}

func (g *Gossip) publishLoop(ctx context.Context, out <-chan saconsensus.Message) {
	defer g.wg.Done()

	for {
		var m saconsensus.Message
		select {
		case <-ctx.Done():
			return
		case m = <-out:
		}

		b, err := sacodec.EncodeMessage(m)
		if err != nil {
			g.log.Warn("Failed to encode outbound message", "topic", m.Header.Topic, "err", err)
			continue
		}

		if err := g.topic.Publish(ctx, b); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			g.log.Warn("Failed to publish message", "topic", m.Header.Topic, "err", err)
		}
	}
}

func (g *Gossip) receiveLoop(ctx context.Context, in chan<- saconsensus.Message) {
	defer g.wg.Done()

	for {
		pm, err := g.sub.Next(ctx)
		if err != nil {
			// Only returns an error when the context is canceled
			// or the subscription was canceled.
			return
		}

		if pm.ReceivedFrom == g.self {
			continue
		}

		m, err := sacodec.DecodeMessage(pm.Data)
		if err != nil {
			g.log.Debug("Dropping undecodable message", "from", pm.ReceivedFrom, "err", err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case in <- m:
		}
	}
}
