// Package sap2p declares how the consensus engine exchanges messages with peers.
//
// The engine does not own a transport.
// It reads decoded messages from an inbound channel
// and writes messages to broadcast on an outbound channel;
// adapters in subpackages connect those channels to a real or simulated network.
package sap2p

import "github.com/gordian-engine/gsa/sa/saconsensus"

// Queues is the pair of channels connecting an engine to its transport.
//
// Messages sent on Outbound are broadcast to every other participant.
// Transports do not echo a node's own messages back on Inbound;
// the engine processes its own votes locally.
type Queues struct {
	Outbound chan<- saconsensus.Message
	Inbound  <-chan saconsensus.Message
}

// NewQueues returns Queues for an engine,
// plus the opposite ends of the same channels for the transport side.
func NewQueues(size int) (q Queues, outbound <-chan saconsensus.Message, inbound chan<- saconsensus.Message) {
	out := make(chan saconsensus.Message, size)
	in := make(chan saconsensus.Message, size)
	return Queues{Outbound: out, Inbound: in}, out, in
}
