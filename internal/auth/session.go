package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/settings"
)

// Session lifetime setting.
const (
	SettingsNamespace     = "core"
	SessionTimeoutKey     = "gui:sessiontimeout"
	DefaultSessionTimeout = 3600 // seconds
)

// tokenBytes is the number of random bytes in a raw session token (256-bit).
const tokenBytes = 32

// SessionManager issues, validates and revokes session tokens.
// Expiry is lazy: an expired token simply fails Validate.
type SessionManager struct {
	store          TokenStore
	settings       settings.Store
	defaultTimeout int
	now            func() time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithClock replaces the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// WithDefaultTimeout sets the lifetime in seconds used when the
// core/gui:sessiontimeout setting is missing or not positive.
func WithDefaultTimeout(seconds int) SessionOption {
	return func(m *SessionManager) {
		if seconds > 0 {
			m.defaultTimeout = seconds
		}
	}
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(store TokenStore, s settings.Store, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:          store,
		settings:       s,
		defaultTimeout: DefaultSessionTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lifetime returns the configured session lifetime.
func (m *SessionManager) Lifetime(ctx context.Context) (time.Duration, error) {
	seconds, err := settings.GetInt(ctx, m.settings, SettingsNamespace, SessionTimeoutKey, m.defaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: reading session timeout: %w", ErrStoreFailure, err)
	}
	if seconds <= 0 {
		seconds = m.defaultTimeout
	}
	return time.Duration(seconds) * time.Second, nil
}

// Issue mints a new token for uuid, replacing any previous one.
func (m *SessionManager) Issue(ctx context.Context, uuid string) (*Session, error) {
	if uuid == "" {
		return nil, fmt.Errorf("%w: uuid is required", ErrValidation)
	}

	lifetime, err := m.Lifetime(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := generateToken()
	if err != nil {
		return nil, err
	}

	// Stored at millisecond precision; truncate so the returned expiry matches.
	expiresAt := m.now().Add(lifetime).Truncate(time.Millisecond)

	if err := m.store.Replace(ctx, StoredToken{
		UserID:    uuid,
		TokenHash: HashToken(raw),
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, err
	}

	return &Session{UUID: uuid, Token: raw, ExpiresAt: expiresAt}, nil
}

// Validate reports whether token is the live token of uuid.
// Unknown, mismatched and expired tokens all return false.
func (m *SessionManager) Validate(ctx context.Context, uuid, token string) (bool, error) {
	if uuid == "" || token == "" {
		return false, nil
	}

	stored, found, err := m.store.Lookup(ctx, uuid)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	if subtle.ConstantTimeCompare([]byte(stored.TokenHash), []byte(HashToken(token))) != 1 {
		return false, nil
	}
	return m.now().Before(stored.ExpiresAt), nil
}

// Revoke deletes the token if it is the one stored for uuid. Idempotent.
func (m *SessionManager) Revoke(ctx context.Context, uuid, token string) error {
	if uuid == "" || token == "" {
		return nil
	}
	return m.store.Delete(ctx, uuid, HashToken(token))
}

// RevokeAll deletes any token of uuid.
func (m *SessionManager) RevokeAll(ctx context.Context, uuid string) error {
	return m.store.DeleteAll(ctx, uuid)
}

// PurgeExpired deletes expired tokens and returns how many were removed.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.PurgeExpired(ctx, m.now())
}

// generateToken creates a cryptographically random opaque token.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
