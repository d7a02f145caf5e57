package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// StoredToken is the persisted form of a session token.
type StoredToken struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
}

// TokenStore defines the interface for session token persistence.
// A user has at most one stored token; Replace overwrites it.
type TokenStore interface {
	Replace(ctx context.Context, token StoredToken) error
	Lookup(ctx context.Context, userID string) (StoredToken, bool, error)
	Delete(ctx context.Context, userID, tokenHash string) error
	DeleteAll(ctx context.Context, userID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw tokens are never stored, only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// SQLiteTokenStore implements TokenStore using SQLite.
// expires_at is stored as Unix milliseconds.
type SQLiteTokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a new SQLite-backed token store.
func NewTokenStore(db *sql.DB) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db}
}

// Replace stores the token, discarding any previous token of the same user.
func (r *SQLiteTokenStore) Replace(ctx context.Context, token StoredToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_tokens (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   token_hash = excluded.token_hash,
		   expires_at = excluded.expires_at,
		   created_at = excluded.created_at`,
		token.UserID, token.TokenHash, token.ExpiresAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: storing session token: %w", ErrStoreFailure, err)
	}
	return nil
}

// Lookup returns the stored token of a user, if any. Expiry is not checked here.
func (r *SQLiteTokenStore) Lookup(ctx context.Context, userID string) (StoredToken, bool, error) {
	t := StoredToken{UserID: userID}
	var expiresAt int64

	err := r.db.QueryRowContext(ctx,
		"SELECT token_hash, expires_at FROM session_tokens WHERE user_id = ?", userID,
	).Scan(&t.TokenHash, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredToken{}, false, nil
		}
		return StoredToken{}, false, fmt.Errorf("%w: reading session token: %w", ErrStoreFailure, err)
	}

	t.ExpiresAt = time.UnixMilli(expiresAt)
	return t, true, nil
}

// Delete removes the user's token only if it matches tokenHash.
// Deleting a token that is not stored is not an error.
func (r *SQLiteTokenStore) Delete(ctx context.Context, userID, tokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM session_tokens WHERE user_id = ? AND token_hash = ?", userID, tokenHash)
	if err != nil {
		return fmt.Errorf("%w: deleting session token: %w", ErrStoreFailure, err)
	}
	return nil
}

// DeleteAll removes any token of the user.
func (r *SQLiteTokenStore) DeleteAll(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM session_tokens WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("%w: deleting session tokens: %w", ErrStoreFailure, err)
	}
	return nil
}

// PurgeExpired removes tokens that expired at or before now.
// Returns the number of deleted rows.
func (r *SQLiteTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM session_tokens WHERE expires_at <= ?", now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%w: deleting expired tokens: %w", ErrStoreFailure, err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}
