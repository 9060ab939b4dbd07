// Package postgres provides a PostgreSQL-backed QuotaStore for cloudgpt.
//
// Every bucket is one row. Hit is a single INSERT ... ON CONFLICT DO UPDATE
// statement that rolls the window over and increments under the row lock, so
// concurrent instances never over-admit.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// Store is a PostgreSQL-backed QuotaStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	now         func() time.Time
}

var _ cloudgpt.QuotaStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "cloudgpt_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed QuotaStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "cloudgpt_",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bucketsTable() string { return s.tablePrefix + "quota_buckets" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			bucket_key TEXT PRIMARY KEY,
			count BIGINT NOT NULL DEFAULT 0,
			reset_at TIMESTAMPTZ NOT NULL
		);
	`, s.bucketsTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("cloudgpt/postgres: ensure schema: %w", err)
	}
	return nil
}

// Hit counts one request if the bucket is under limit.
func (s *Store) Hit(ctx context.Context, key string, limit int64, w cloudgpt.Window) (cloudgpt.QuotaResult, error) {
	now := s.now().UTC()
	if limit <= 0 {
		return cloudgpt.QuotaResult{Limit: limit, ResetAt: w.ResetAt(now)}, nil
	}

	t := s.bucketsTable()
	var (
		count   int64
		resetAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s AS b (bucket_key, count, reset_at) VALUES ($1, 1, $3)
			ON CONFLICT (bucket_key) DO UPDATE SET
				count = CASE WHEN b.reset_at <= $2 THEN 1 ELSE b.count + 1 END,
				reset_at = CASE WHEN b.reset_at <= $2 THEN $3 ELSE b.reset_at END
			WHERE b.reset_at <= $2 OR b.count < $4
			RETURNING count, reset_at`, t),
		key, now, w.ResetAt(now), limit,
	).Scan(&count, &resetAt)
	if err == nil {
		return result(true, count, limit, resetAt), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return cloudgpt.QuotaResult{}, fmt.Errorf("cloudgpt/postgres: hit: %w", err)
	}

	// Over limit: the conflicting row was left untouched.
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count, reset_at FROM %s WHERE bucket_key = $1`, t),
		key,
	).Scan(&count, &resetAt)
	if err != nil {
		return cloudgpt.QuotaResult{}, fmt.Errorf("cloudgpt/postgres: read bucket: %w", err)
	}
	return result(false, count, limit, resetAt), nil
}

// Peek reads a bucket without counting.
func (s *Store) Peek(ctx context.Context, key string, limit int64, w cloudgpt.Window) (cloudgpt.QuotaResult, error) {
	now := s.now().UTC()

	var (
		count   int64
		resetAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count, reset_at FROM %s WHERE bucket_key = $1`, s.bucketsTable()),
		key,
	).Scan(&count, &resetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return result(limit > 0, 0, limit, w.ResetAt(now)), nil
	}
	if err != nil {
		return cloudgpt.QuotaResult{}, fmt.Errorf("cloudgpt/postgres: peek: %w", err)
	}
	if !now.Before(resetAt) {
		return result(limit > 0, 0, limit, w.ResetAt(now)), nil
	}
	return result(count < limit, count, limit, resetAt), nil
}

// DeleteExpired removes buckets whose window closed before olderThan ago.
func (s *Store) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE reset_at < $1`, s.bucketsTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cloudgpt/postgres: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func result(allowed bool, count, limit int64, resetAt time.Time) cloudgpt.QuotaResult {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return cloudgpt.QuotaResult{Allowed: allowed, Remaining: remaining, Limit: limit, ResetAt: resetAt}
}
