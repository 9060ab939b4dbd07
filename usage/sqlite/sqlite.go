// Package sqlite stores usage in a local SQLite database for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

const schema = `
CREATE TABLE IF NOT EXISTS key_usage (
	key_id INTEGER PRIMARY KEY,
	usage REAL NOT NULL DEFAULT 0,
	requests INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS usage_log (
	id TEXT PRIMARY KEY,
	bucket_key TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	key_id INTEGER NOT NULL DEFAULT 0,
	model_id TEXT NOT NULL,
	modality TEXT NOT NULL,
	estimated_tokens INTEGER NOT NULL,
	weighted_cost REAL NOT NULL,
	status TEXT NOT NULL,
	request_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_log_bucket_idx ON usage_log (bucket_key, created_at);
`

// Sink is a SQLite-backed UsageSink.
type Sink struct {
	db *sql.DB
}

var _ cloudgpt.UsageSink = (*Sink)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cloudgpt/sqlite: open %q: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &Sink{db: db}
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already open database.
func New(db *sql.DB) *Sink {
	return &Sink{db: db}
}

// EnsureSchema creates the tables if they don't exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode=wal", "PRAGMA busy_timeout=1000"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("cloudgpt/sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("cloudgpt/sqlite: schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) IncrementKeyUsage(ctx context.Context, keyID int64, weight float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO key_usage (key_id, usage, requests, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (key_id) DO UPDATE
		SET usage = usage + excluded.usage,
		    requests = requests + 1,
		    updated_at = excluded.updated_at`,
		keyID, weight, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("cloudgpt/sqlite: increment key usage: %w", err)
	}
	return nil
}

func (s *Sink) AppendUsage(ctx context.Context, rec cloudgpt.UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_log (id, bucket_key, user_id, key_id, model_id, modality,
			estimated_tokens, weighted_cost, status, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BucketKey, rec.UserID, rec.KeyID, rec.ModelID, string(rec.Modality),
		rec.EstimatedTokens, rec.WeightedCost, rec.Status, rec.RequestID,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("cloudgpt/sqlite: append usage: %w", err)
	}
	return nil
}

// KeyUsage returns the accumulated weighted usage and request count of a key.
func (s *Sink) KeyUsage(ctx context.Context, keyID int64) (usage float64, requests int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT usage, requests FROM key_usage WHERE key_id = ?`, keyID).
		Scan(&usage, &requests)
	if err != nil {
		return 0, 0, fmt.Errorf("cloudgpt/sqlite: key usage: %w", err)
	}
	return usage, requests, nil
}

// CountUsage returns the number of usage records for a bucket.
func (s *Sink) CountUsage(ctx context.Context, bucketKey string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_log WHERE bucket_key = ?`, bucketKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cloudgpt/sqlite: count usage: %w", err)
	}
	return n, nil
}
