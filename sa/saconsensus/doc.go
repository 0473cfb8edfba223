// Package saconsensus holds the data model shared by every part of the
// stake-weighted agreement engine:
// round updates, provisioners, sortition and committees,
// consensus messages, step votes, candidate blocks,
// and the collaborator interfaces the engine consumes.
//
// Nothing in this package blocks or starts goroutines;
// the values here are either immutable snapshots or plain data.
package saconsensus
