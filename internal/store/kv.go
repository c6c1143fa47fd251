package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Keys of the cache-age stamps in the kv namespace.
const (
	KeyMenuCachedAt  = "menu_cached_at"
	KeyKDSSnapshotAt = "kds_snapshot_at"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SetValue stores value under key, replacing any previous value.
func (s *Store) SetValue(ctx context.Context, key, value string) error {
	if err := setValue(ctx, s.db, key, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	return nil
}

// Value returns the value stored under key. ok is false when the key is absent.
func (s *Store) Value(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read value %s: %w", key, err)
	}
	return value, true, nil
}

func setValue(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// stamp records the current time under key as an RFC 3339 string.
func (s *Store) stamp(ctx context.Context, ex execer, key string) error {
	return setValue(ctx, ex, key, s.clock.Now().UTC().Format(time.RFC3339Nano))
}

// stampedAt returns the time recorded under key, or nil if never stamped.
func (s *Store) stampedAt(ctx context.Context, key string) (*time.Time, error) {
	raw, ok, err := s.Value(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, corrupt("kv", key, err)
	}
	return &t, nil
}
