// Package sasqlite provides sastore implementations backed by SQLite,
// using the pure-Go modernc.org/sqlite driver.
package sasqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/sastore"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS candidate_blocks (
	hash BLOB NOT NULL PRIMARY KEY,
	height INTEGER NOT NULL,
	encoded BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS candidate_blocks_height ON candidate_blocks(height);
`

// CandidateStore is a [sastore.CandidateStore] in a SQLite database.
type CandidateStore struct {
	db *sql.DB
}

// NewCandidateStore opens the database at dsn and creates the schema if needed.
// Use ":memory:" for a private in-memory database.
func NewCandidateStore(ctx context.Context, dsn string) (*CandidateStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers anyway,
	// and each connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &CandidateStore{db: db}, nil
}

func (s *CandidateStore) Close() error {
	return s.db.Close()
}

func (s *CandidateStore) StoreCandidateBlock(ctx context.Context, b saconsensus.Block) error {
	enc, err := sacodec.EncodeBlock(b)
	if err != nil {
		return fmt.Errorf("failed to encode candidate: %w", err)
	}

	h := b.Hash()
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO candidate_blocks(hash, height, encoded) VALUES (?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET encoded = excluded.encoded`,
		h[:], int64(b.Header.Height), enc,
	); err != nil {
		return fmt.Errorf("failed to insert candidate %s: %w", h.Short(), err)
	}
	return nil
}

func (s *CandidateStore) GetCandidateBlockByHash(ctx context.Context, hash saconsensus.Hash) (saconsensus.Block, error) {
	var enc []byte
	err := s.db.QueryRowContext(
		ctx,
		`SELECT encoded FROM candidate_blocks WHERE hash = ?`,
		hash[:],
	).Scan(&enc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saconsensus.Block{}, fmt.Errorf("%w: %s", sastore.ErrCandidateNotFound, hash)
		}
		return saconsensus.Block{}, fmt.Errorf("failed to select candidate %s: %w", hash.Short(), err)
	}

	b, err := sacodec.DecodeBlock(enc)
	if err != nil {
		return saconsensus.Block{}, fmt.Errorf("failed to decode candidate %s: %w", hash.Short(), err)
	}
	return b, nil
}

func (s *CandidateStore) DeleteCandidateBlocks(ctx context.Context, maxHeight uint64) error {
	// SQLite integers are signed 64-bit;
	// anything past that range means "everything".
	var err error
	if maxHeight > 1<<63-1 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM candidate_blocks`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM candidate_blocks WHERE height <= ?`, int64(maxHeight))
	}
	if err != nil {
		return fmt.Errorf("failed to delete candidates: %w", err)
	}
	return nil
}
