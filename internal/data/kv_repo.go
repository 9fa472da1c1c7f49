package data

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// KEY-VALUE REPOSITORY
// =============================================================================

// KVStore keeps small JSON records such as saved carts.
type KVStore struct {
	db *DB
}

func NewKVStore(db *DB) *KVStore {
	return &KVStore{db: db}
}

// Get returns the value and its last update time, or ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	var value, updatedAt string
	err := s.db.queryRowDB(ctx, []interface{}{&value, &updatedAt},
		`SELECT value, updated_at FROM kv_store WHERE key = ?`, key)
	if err != nil {
		return nil, time.Time{}, err
	}

	ts, err := parseTime(updatedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse updated_at for %s: %w", key, err)
	}
	return []byte(value), ts, nil
}

// SetAt upserts the value with an explicit update time.
func (s *KVStore) SetAt(ctx context.Context, key string, value []byte, at time.Time) error {
	const stmt = `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := s.db.execDB(ctx, stmt, key, string(value), formatTime(at)); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.execDB(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// PurgeOlderThan deletes keys starting with prefix last written before cutoff.
func (s *KVStore) PurgeOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	const stmt = `DELETE FROM kv_store WHERE key LIKE ? ESCAPE '\' AND updated_at < ?`

	result, err := s.db.execDB(ctx, stmt, escapeLike(prefix)+"%", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s records: %w", prefix, err)
	}
	return result.RowsAffected()
}
