// Package store persists per-request bookkeeping rows.
//
// DESIGN: One SQLite database (modernc.org/sqlite, no cgo) holding a single
// requests table: provider, model, token usage, and the compression outcome
// when the TOON pass ran. Rows are written after finality, off the hot path;
// a write failure is logged and never fails the request.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modelrelay/modelrelay/internal/canonical"
	"github.com/modelrelay/modelrelay/internal/transform"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id             TEXT PRIMARY KEY,
	provider       TEXT NOT NULL,
	model          TEXT NOT NULL,
	streaming      INTEGER NOT NULL DEFAULT 0,
	input_tokens   INTEGER NOT NULL DEFAULT 0,
	output_tokens  INTEGER NOT NULL DEFAULT 0,
	stop_reason    TEXT NOT NULL DEFAULT '',
	tokens_before  INTEGER,
	tokens_after   INTEGER,
	cost_savings   REAL,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_provider ON requests(provider, created_at);
`

// RequestRecord is one completed request.
type RequestRecord struct {
	ID         string
	Provider   string
	Model      string
	Streaming  bool
	Usage      canonical.Usage
	StopReason string

	// Compression is nil when the TOON pass didn't run.
	Compression *transform.CompressionStats
}

// Totals is the aggregate view over recorded requests.
type Totals struct {
	Requests     int
	InputTokens  int
	OutputTokens int
	CostSavings  float64
}

// Store is a SQLite-backed request recorder. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent recorders.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordRequest inserts one completed request row.
func (s *Store) RecordRequest(ctx context.Context, rec RequestRecord) error {
	var tokensBefore, tokensAfter sql.NullInt64
	var costSavings sql.NullFloat64
	if rec.Compression != nil {
		tokensBefore = sql.NullInt64{Int64: int64(rec.Compression.TokensBefore), Valid: true}
		tokensAfter = sql.NullInt64{Int64: int64(rec.Compression.TokensAfter), Valid: true}
		costSavings = sql.NullFloat64{Float64: rec.Compression.CostSavings, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests
			(id, provider, model, streaming, input_tokens, output_tokens,
			 stop_reason, tokens_before, tokens_after, cost_savings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.Model, rec.Streaming,
		rec.Usage.InputTokens, rec.Usage.OutputTokens,
		rec.StopReason, tokensBefore, tokensAfter, costSavings,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// Totals aggregates all recorded requests.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost_savings), 0)
		FROM requests`)
	if err := row.Scan(&t.Requests, &t.InputTokens, &t.OutputTokens, &t.CostSavings); err != nil {
		return Totals{}, fmt.Errorf("failed to aggregate requests: %w", err)
	}
	return t, nil
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RequestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, model, streaming, input_tokens, output_tokens,
		       stop_reason, tokens_before, tokens_after, cost_savings
		FROM requests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []RequestRecord
	for rows.Next() {
		var rec RequestRecord
		var tokensBefore, tokensAfter sql.NullInt64
		var costSavings sql.NullFloat64
		err := rows.Scan(&rec.ID, &rec.Provider, &rec.Model, &rec.Streaming,
			&rec.Usage.InputTokens, &rec.Usage.OutputTokens,
			&rec.StopReason, &tokensBefore, &tokensAfter, &costSavings)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request row: %w", err)
		}
		if tokensBefore.Valid {
			rec.Compression = &transform.CompressionStats{
				TokensBefore: int(tokensBefore.Int64),
				TokensAfter:  int(tokensAfter.Int64),
				CostSavings:  costSavings.Float64,
				WasEffective: tokensAfter.Int64 < tokensBefore.Int64,
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
