package sastore

import (
	"context"
	"errors"

	"github.com/gordian-engine/gsa/sa/saconsensus"
)

// ErrCandidateNotFound is returned by [CandidateStore.GetCandidateBlockByHash]
// when no candidate with the given hash has been stored.
var ErrCandidateNotFound = errors.New("candidate block not found")

// CandidateStore holds candidate blocks seen during a round,
// so that a node can finalize a winning block
// regardless of whether it was still in the Selection step when the block arrived.
//
// Stores must be safe for concurrent use.
type CandidateStore interface {
	// StoreCandidateBlock saves b keyed by its hash.
	// Storing the same block twice is not an error.
	StoreCandidateBlock(ctx context.Context, b saconsensus.Block) error

	// GetCandidateBlockByHash returns the block with the given hash,
	// or an error wrapping ErrCandidateNotFound.
	GetCandidateBlockByHash(ctx context.Context, hash saconsensus.Hash) (saconsensus.Block, error)

	// DeleteCandidateBlocks removes every candidate whose height is at most maxHeight.
	DeleteCandidateBlocks(ctx context.Context, maxHeight uint64) error
}
