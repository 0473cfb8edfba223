// Package safuture contains the queue holding messages
// that arrived before the engine reached their round or step.
package safuture

import (
	"sync"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

type key struct {
	round uint64
	step  uint8
}

// Queue buffers messages by (round, step), preserving arrival order within a key.
//
// The number of messages held for any one key is bounded,
// so a peer flooding a future step cannot grow the queue without limit.
// Queue methods are safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	items map[key][]saconsensus.Message

	perKeyLimit int
}

// New returns an empty queue that holds at most perKeyLimit messages for each (round, step).
func New(perKeyLimit int) *Queue {
	return &Queue{
		items:       make(map[key][]saconsensus.Message),
		perKeyLimit: perKeyLimit,
	}
}

// Put appends m under its header's round and step.
// It reports false if the key was full and m was dropped.
func (q *Queue) Put(m saconsensus.Message) bool {
	k := key{round: m.Header.Round, step: m.Header.Step}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items[k]) >= q.perKeyLimit {
		return false
	}
	q.items[k] = append(q.items[k], m)
	return true
}

// Drain removes and returns the messages for (round, step) in arrival order.
func (q *Queue) Drain(round uint64, step uint8) []saconsensus.Message {
	k := key{round: round, step: step}

	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.items[k]
	delete(q.items, k)
	return msgs
}

// DrainRound removes and returns every message for round,
// ordered by step and then by arrival.
func (q *Queue) DrainRound(round uint64) []saconsensus.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []saconsensus.Message
	for step := 0; step <= 0xFF; step++ {
		k := key{round: round, step: uint8(step)}
		if msgs, ok := q.items[k]; ok {
			out = append(out, msgs...)
			delete(q.items, k)
		}
	}
	return out
}

// Clear drops every message whose round is below round.
// It returns the number of messages dropped.
func (q *Queue) Clear(round uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for k, msgs := range q.items {
		if k.round < round {
			n += len(msgs)
			delete(q.items, k)
		}
	}
	return n
}

// Len returns the total number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, msgs := range q.items {
		n += len(msgs)
	}
	return n
}
