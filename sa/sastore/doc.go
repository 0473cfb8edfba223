// Package sastore declares the storage interfaces used by the consensus engine.
//
// Implementations live in subpackages:
// [github.com/gordian-engine/gsa/sa/sastore/sainmem] for tests and simulations,
// and the leveldb and sqlite backends for nodes that restart mid-round.
// Every implementation is checked against [github.com/gordian-engine/gsa/sa/sastore/sastoretest].
package sastore
