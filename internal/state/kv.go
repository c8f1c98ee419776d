package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type KVKey string

// KVEntry is one key/value row with its bookkeeping timestamps.
type KVEntry struct {
	Key       KVKey
	Value     string
	CreatedAt time.Time
	LastUsed  time.Time
}

// KVStore is a small persistent scratch space for cross-run data that does
// not deserve its own table, like cached remote lookups.
type KVStore struct {
	db *DB
}

// NewKVStore creates the store and ensures the table exists.
func NewKVStore(ctx context.Context, database *DB) (*KVStore, error) {
	if database == nil {
		return nil, fmt.Errorf("kv store: nil database")
	}
	s := &KVStore{db: database}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *KVStore) ensureSchema(ctx context.Context) error {
	const createTable = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_used  INTEGER NOT NULL
);
`
	if _, err := s.db.Raw().ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("kv store: ensure schema: %w", err)
	}
	return nil
}

// Get returns the entry for key. found == false means no row. A hit bumps
// last_used.
func (s *KVStore) Get(ctx context.Context, key KVKey) (entry KVEntry, found bool, err error) {
	const q = `
SELECT key, value, created_at, last_used
FROM kv_store
WHERE key = ?
`
	row := s.db.Raw().QueryRowContext(ctx, q, key)

	var createdAtUnix, lastUsedUnix int64
	if err = row.Scan(&entry.Key, &entry.Value, &createdAtUnix, &lastUsedUnix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return KVEntry{}, false, nil
		}
		return KVEntry{}, false, fmt.Errorf("kv store: get: %w", err)
	}

	entry.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	entry.LastUsed = time.Unix(lastUsedUnix, 0).UTC()

	_ = s.Touch(ctx, key)

	return entry, true, nil
}

// Upsert sets value for key, inserting or replacing as needed.
func (s *KVStore) Upsert(ctx context.Context, key KVKey, value string) error {
	const stmt = `
INSERT INTO kv_store (key, value, created_at, last_used)
VALUES (?, ?, strftime('%s','now'), strftime('%s','now'))
ON CONFLICT(key) DO UPDATE SET
	value = excluded.value,
	last_used = strftime('%s','now');
`
	if _, err := s.db.Raw().ExecContext(ctx, stmt, key, value); err != nil {
		return fmt.Errorf("kv store: upsert: %w", err)
	}
	return nil
}

// Touch bumps last_used for key. No-op when the row does not exist.
func (s *KVStore) Touch(ctx context.Context, key KVKey) error {
	const stmt = `
UPDATE kv_store
SET last_used = strftime('%s','now')
WHERE key = ?;
`
	if _, err := s.db.Raw().ExecContext(ctx, stmt, key); err != nil {
		return fmt.Errorf("kv store: touch: %w", err)
	}
	return nil
}

// Delete removes the entry for key, if any.
func (s *KVStore) Delete(ctx context.Context, key KVKey) error {
	const stmt = `DELETE FROM kv_store WHERE key = ?`
	if _, err := s.db.Raw().ExecContext(ctx, stmt, key); err != nil {
		return fmt.Errorf("kv store: delete: %w", err)
	}
	return nil
}

// DeleteUnusedBefore evicts entries that have not been read since cutoff.
func (s *KVStore) DeleteUnusedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const stmt = `
DELETE FROM kv_store
WHERE last_used < ?;
`
	res, err := s.db.Raw().ExecContext(ctx, stmt, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("kv store: delete unused: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
