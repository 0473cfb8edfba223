// Package saleveldb provides sastore implementations backed by goleveldb.
package saleveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes.
// Blocks are stored under blockPrefix || hash,
// and a height index entry under heightPrefix || height (BE u64) || hash
// lets DeleteCandidateBlocks scan in height order.
const (
	blockPrefix  = 'b'
	heightPrefix = 'h'
)

// CandidateStore is a [sastore.CandidateStore] persisted in a leveldb database.
type CandidateStore struct {
	db *leveldb.DB
}

// OpenCandidateStore opens or creates the database at path.
func OpenCandidateStore(path string) (*CandidateStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     8 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %q: %w", path, err)
	}
	return &CandidateStore{db: db}, nil
}

// NewMemCandidateStore returns a store over an in-memory leveldb storage.
func NewMemCandidateStore() (*CandidateStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory leveldb: %w", err)
	}
	return &CandidateStore{db: db}, nil
}

func (s *CandidateStore) Close() error {
	return s.db.Close()
}

func (s *CandidateStore) StoreCandidateBlock(_ context.Context, b saconsensus.Block) error {
	enc, err := sacodec.EncodeBlock(b)
	if err != nil {
		return fmt.Errorf("failed to encode candidate: %w", err)
	}

	h := b.Hash()

	batch := new(leveldb.Batch)
	batch.Put(blockKey(h), enc)
	batch.Put(heightKey(b.Header.Height, h), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to write candidate %s: %w", h.Short(), err)
	}
	return nil
}

func (s *CandidateStore) GetCandidateBlockByHash(_ context.Context, hash saconsensus.Hash) (saconsensus.Block, error) {
	enc, err := s.db.Get(blockKey(hash), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return saconsensus.Block{}, fmt.Errorf("%w: %s", sastore.ErrCandidateNotFound, hash)
		}
		return saconsensus.Block{}, fmt.Errorf("failed to read candidate %s: %w", hash.Short(), err)
	}

	b, err := sacodec.DecodeBlock(enc)
	if err != nil {
		return saconsensus.Block{}, fmt.Errorf("failed to decode candidate %s: %w", hash.Short(), err)
	}
	return b, nil
}

func (s *CandidateStore) DeleteCandidateBlocks(_ context.Context, maxHeight uint64) error {
	r := &util.Range{Start: []byte{heightPrefix}}
	if maxHeight == ^uint64(0) {
		r.Limit = []byte{heightPrefix + 1}
	} else {
		r.Limit = heightKey(maxHeight+1, saconsensus.Hash{})
	}

	iter := s.db.NewIterator(r, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		k := iter.Key()
		var h saconsensus.Hash
		copy(h[:], k[1+8:])

		batch.Delete(blockKey(h))
		batch.Delete(append([]byte(nil), k...))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan height index: %w", err)
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to delete candidates: %w", err)
	}
	return nil
}

func blockKey(h saconsensus.Hash) []byte {
	k := make([]byte, 1+saconsensus.HashSize)
	k[0] = blockPrefix
	copy(k[1:], h[:])
	return k
}

func heightKey(height uint64, h saconsensus.Hash) []byte {
	k := make([]byte, 1+8+saconsensus.HashSize)
	k[0] = heightPrefix
	binary.BigEndian.PutUint64(k[1:9], height)
	copy(k[9:], h[:])
	return k
}
