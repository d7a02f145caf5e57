// Package settings persists namespaced application settings as JSON values.
//
// Keys are addressed by (namespace, key), for example ("core", "multiuser:enabled").
// A missing key is not an error: callers supply the default.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store reads and writes settings.
type Store interface {
	// Get decodes the stored value into dst. It reports false when the key has never been set.
	Get(ctx context.Context, namespace, key string, dst any) (bool, error)
	// Set encodes value as JSON and stores it, replacing any previous value.
	Set(ctx context.Context, namespace, key string, value any) error
}

// SQLiteStore implements Store over the settings table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a settings store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading setting %s/%s: %w", namespace, key, err)
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decoding setting %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding setting %s/%s: %w", namespace, key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, string(raw), s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing setting %s/%s: %w", namespace, key, err)
	}
	return nil
}

// GetBool returns the boolean stored at (namespace, key), or def when unset.
func GetBool(ctx context.Context, s Store, namespace, key string, def bool) (bool, error) {
	v := def
	if _, err := s.Get(ctx, namespace, key, &v); err != nil {
		return def, err
	}
	return v, nil
}

// GetInt returns the integer stored at (namespace, key), or def when unset.
func GetInt(ctx context.Context, s Store, namespace, key string, def int) (int, error) {
	v := def
	if _, err := s.Get(ctx, namespace, key, &v); err != nil {
		return def, err
	}
	return v, nil
}
