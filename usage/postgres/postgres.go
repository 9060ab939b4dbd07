// Package postgres stores usage records and per-key usage counters in
// PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// Sink is a PostgreSQL-backed UsageSink.
type Sink struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ cloudgpt.UsageSink = (*Sink)(nil)

// Option configures Sink.
type Option func(*Sink)

// WithTablePrefix sets the table name prefix (default "cloudgpt_").
func WithTablePrefix(prefix string) Option {
	return func(s *Sink) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL usage sink.
func New(pool *pgxpool.Pool, opts ...Option) *Sink {
	s := &Sink{pool: pool, tablePrefix: "cloudgpt_"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) keyUsageTable() string { return s.tablePrefix + "key_usage" }
func (s *Sink) usageLogTable() string { return s.tablePrefix + "usage_log" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key_id BIGINT PRIMARY KEY,
			usage DOUBLE PRECISION NOT NULL DEFAULT 0,
			requests BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			bucket_key TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			key_id BIGINT NOT NULL DEFAULT 0,
			model_id TEXT NOT NULL,
			modality TEXT NOT NULL,
			estimated_tokens BIGINT NOT NULL,
			weighted_cost DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			request_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s_bucket_idx ON %s (bucket_key, created_at);
	`, s.keyUsageTable(), s.usageLogTable(), s.usageLogTable(), s.usageLogTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("cloudgpt/postgres: ensure usage schema: %w", err)
	}
	return nil
}

// IncrementKeyUsage adds weight to the key's counter in one upsert.
func (s *Sink) IncrementKeyUsage(ctx context.Context, keyID int64, weight float64) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s (key_id, usage, requests, updated_at)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (key_id) DO UPDATE
			SET usage = %s.usage + EXCLUDED.usage,
			    requests = %s.requests + 1,
			    updated_at = now()
		`, s.keyUsageTable(), s.keyUsageTable(), s.keyUsageTable()),
		keyID, weight,
	)
	if err != nil {
		return fmt.Errorf("cloudgpt/postgres: increment key usage: %w", err)
	}
	return nil
}

func (s *Sink) AppendUsage(ctx context.Context, rec cloudgpt.UsageRecord) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s (id, bucket_key, user_id, key_id, model_id, modality,
				estimated_tokens, weighted_cost, status, request_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, s.usageLogTable()),
		rec.ID, rec.BucketKey, rec.UserID, rec.KeyID, rec.ModelID, string(rec.Modality),
		rec.EstimatedTokens, rec.WeightedCost, rec.Status, rec.RequestID, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("cloudgpt/postgres: append usage: %w", err)
	}
	return nil
}

// KeyUsage returns the accumulated weighted usage and request count of a key.
func (s *Sink) KeyUsage(ctx context.Context, keyID int64) (usage float64, requests int64, err error) {
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT usage, requests FROM %s WHERE key_id = $1`, s.keyUsageTable()),
		keyID,
	).Scan(&usage, &requests)
	if err != nil {
		return 0, 0, fmt.Errorf("cloudgpt/postgres: key usage: %w", err)
	}
	return usage, requests, nil
}
