package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// PostgresStore looks up API keys and profiles in PostgreSQL. Keys are
// stored as SHA-256 hex digests.
type PostgresStore struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ KeyLookup     = (*PostgresStore)(nil)
	_ ProfileLookup = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store using tables named with prefix
// (default "cloudgpt_").
func NewPostgresStore(pool *pgxpool.Pool, prefix string) *PostgresStore {
	if prefix == "" {
		prefix = "cloudgpt_"
	}
	return &PostgresStore{pool: pool, tablePrefix: prefix}
}

func (s *PostgresStore) keysTable() string     { return s.tablePrefix + "api_keys" }
func (s *PostgresStore) profilesTable() string { return s.tablePrefix + "profiles" }

// HashKey returns the stored form of key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// EnsureSchema creates the key and profile tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			key_hash TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			plan TEXT NOT NULL DEFAULT 'free',
			custom_rpm BIGINT NOT NULL DEFAULT 0,
			custom_rpd BIGINT NOT NULL DEFAULT 0,
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			plan TEXT NOT NULL DEFAULT 'free'
		);
	`, s.keysTable(), s.profilesTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("cloudgpt/postgres: ensure auth schema: %w", err)
	}
	return nil
}

// CreateKey stores key for userID and returns its id.
func (s *PostgresStore) CreateKey(ctx context.Context, key, userID string, plan cloudgpt.Plan) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (key_hash, user_id, plan) VALUES ($1, $2, $3) RETURNING id`, s.keysTable()),
		HashKey(key), userID, string(plan),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("cloudgpt/postgres: create key: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) LookupKey(ctx context.Context, key string) (KeyRecord, error) {
	var rec KeyRecord
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, user_id, plan, custom_rpm, custom_rpd FROM %s WHERE key_hash = $1 AND NOT revoked`, s.keysTable()),
		HashKey(key),
	).Scan(&rec.ID, &rec.UserID, &rec.Plan, &rec.CustomRPM, &rec.CustomRPD)
	if errors.Is(err, pgx.ErrNoRows) {
		return KeyRecord{}, ErrKeyNotFound
	}
	if err != nil {
		return KeyRecord{}, fmt.Errorf("cloudgpt/postgres: lookup key: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) LookupPlan(ctx context.Context, userID string) (cloudgpt.Plan, error) {
	var plan string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT plan FROM %s WHERE user_id = $1`, s.profilesTable()),
		userID,
	).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return cloudgpt.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("cloudgpt/postgres: lookup profile: %w", err)
	}
	return cloudgpt.ParsePlan(plan), nil
}
