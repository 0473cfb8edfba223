package sainmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/sastore"
)

// CandidateStore is an in-memory [sastore.CandidateStore].
type CandidateStore struct {
	mu     sync.RWMutex
	blocks map[saconsensus.Hash]saconsensus.Block
}

func NewCandidateStore() *CandidateStore {
	return &CandidateStore{
		blocks: make(map[saconsensus.Hash]saconsensus.Block),
	}
}

func (s *CandidateStore) StoreCandidateBlock(_ context.Context, b saconsensus.Block) error {
	h := b.Hash()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[h] = b
	return nil
}

func (s *CandidateStore) GetCandidateBlockByHash(_ context.Context, hash saconsensus.Hash) (saconsensus.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blocks[hash]
	if !ok {
		return saconsensus.Block{}, fmt.Errorf("%w: %s", sastore.ErrCandidateNotFound, hash)
	}
	return b, nil
}

func (s *CandidateStore) DeleteCandidateBlocks(_ context.Context, maxHeight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, b := range s.blocks {
		if b.Header.Height <= maxHeight {
			delete(s.blocks, h)
		}
	}
	return nil
}
