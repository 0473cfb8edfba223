// Package sap2ptest contains an in-memory network for engine tests.
package sap2ptest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/sap2p"
)

// Filter reports whether a message from one node should be delivered to another.
// Node indices are in connection order.
type Filter func(from, to int, m saconsensus.Message) bool

// Network is a full-mesh in-memory network.
//
// Every message is passed through the wire codec,
// so recipients never share memory with the sender.
type Network struct {
	log *slog.Logger
	ctx context.Context

	mu     sync.RWMutex
	nodes  []*node
	filter Filter

	wg sync.WaitGroup
}

type node struct {
	idx  int
	name string

	out <-chan saconsensus.Message
	box *mailbox
}

// NewNetwork returns an empty network.
// Background work stops when ctx is canceled; call Wait to join it.
func NewNetwork(ctx context.Context, log *slog.Logger) *Network {
	return &Network{log: log, ctx: ctx}
}

// Connect adds a participant and returns its queues.
func (n *Network) Connect(name string) sap2p.Queues {
	q, out, in := sap2p.NewQueues(64)

	n.mu.Lock()
	nd := &node{
		idx:  len(n.nodes),
		name: name,
		out:  out,
		box:  newMailbox(),
	}
	n.nodes = append(n.nodes, nd)
	n.mu.Unlock()

	n.wg.Add(2)
	go n.broadcastLoop(nd)
	go n.deliverLoop(nd, in)

	return q
}

// SetFilter installs f for all later deliveries. A nil filter delivers everything.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = f
}

// Wait blocks until every background goroutine has returned.
func (n *Network) Wait() {
	n.wg.Wait()
}

func (n *Network) broadcastLoop(from *node) {
	defer n.wg.Done()

	log := n.log.With("node", from.name)

	for {
		var m saconsensus.Message
		select {
		case <-n.ctx.Done():
			return
		case m = <-from.out:
		}

		b, err := sacodec.EncodeMessage(m)
		if err != nil {
			log.Warn("Dropping unencodable message", "topic", m.Header.Topic, "err", err)
			continue
		}

		n.mu.RLock()
		for _, to := range n.nodes {
			if to == from {
				continue
			}
			if n.filter != nil && !n.filter(from.idx, to.idx, m) {
				continue
			}
			to.box.push(b)
		}
		n.mu.RUnlock()
	}
}

func (n *Network) deliverLoop(to *node, in chan<- saconsensus.Message) {
	defer n.wg.Done()

	log := n.log.With("node", to.name)

	for {
		b, ok := to.box.pop(n.ctx)
		if !ok {
			return
		}

		m, err := sacodec.DecodeMessage(b)
		if err != nil {
			log.Warn("Dropping undecodable message", "err", err)
			continue
		}

		select {
		case <-n.ctx.Done():
			return
		case in <- m:
		}
	}
}

// mailbox is an unbounded FIFO,
// so that a slow reader never blocks the broadcaster.
type mailbox struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (b *mailbox) push(item []byte) {
	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *mailbox) pop(ctx context.Context) ([]byte, bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			item := b.items[0]
			b.items[0] = nil
			b.items = b.items[1:]
			b.mu.Unlock()
			return item, true
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-b.ready:
		}
	}
}
