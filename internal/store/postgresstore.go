// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists entries in Postgres for multi-instance deployments
// where several server processes coordinate through the same database.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// PostgresStoreConfig carries connection settings for NewPostgresStore.
type PostgresStoreConfig struct {
	// DSN is a pgx-compatible connection string.
	DSN string
	// Table overrides the default table name "kv_entries".
	Table string
}

// NewPostgresStore connects via the pgx stdlib driver and ensures the schema.
func NewPostgresStore(cfg PostgresStoreConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	table := cfg.Table
	if table == "" {
		table = "kv_entries"
	}
	s := &PostgresStore{db: db, table: table}
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		expires_at BIGINT NOT NULL DEFAULT 0
	)`, table)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: create schema: %w", err)
	}
	return s, nil
}

// newPostgresStoreWithDB is used by tests to inject a mocked *sql.DB.
func newPostgresStoreWithDB(db *sql.DB, table string) *PostgresStore {
	if table == "" {
		table = "kv_entries"
	}
	return &PostgresStore{db: db, table: table}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = $1`, s.table), key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres store: get %s: %w", key, err)
	}
	if expiresAt != 0 && time.Now().UnixNano() > expiresAt {
		_, _ = s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE key = $1 AND expires_at = $2`, s.table), key, expiresAt)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, s.table),
		key, value, expiryNanos(ttl))
	if err != nil {
		return fmt.Errorf("postgres store: set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := time.Now().UnixNano()
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE key = $1 AND expires_at != 0 AND expires_at < $2`, s.table), key, now); err != nil {
		return false, fmt.Errorf("postgres store: expire %s: %w", key, err)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO NOTHING`, s.table),
		key, value, expiryNanos(ttl))
	if err != nil {
		return false, fmt.Errorf("postgres store: set-if-absent %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET value = $1, expires_at = $2
		 WHERE key = $3 AND value = $4 AND (expires_at = 0 OR expires_at >= $5)`, s.table),
		new, expiryNanos(ttl), key, old, time.Now().UnixNano())
	if err != nil {
		return false, fmt.Errorf("postgres store: cas %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), key); err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT key FROM %s
		 WHERE key LIKE $1 || '%%' AND (expires_at = 0 OR expires_at >= $2)
		 ORDER BY key`, s.table),
		prefix, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("postgres store: keys %s: %w", prefix, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
