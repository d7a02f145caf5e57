package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// emailPattern is a loose check: something@something.tld,
// no whitespace, at most 254 characters.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// maxEmailLength is the maximum allowed email length (RFC 5321 path limit).
const maxEmailLength = 254

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail checks if a normalised email meets format requirements.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// IdentityType classifies a resolved identity.
type IdentityType string

const (
	// IdentityToken is an identity proven by a validated session token.
	IdentityToken IdentityType = "token"

	// IdentityCore is the deployment's built-in operator identity.
	IdentityCore IdentityType = "core"

	// IdentityUser is a registered user selected without a token.
	IdentityUser IdentityType = "user"
)

// Identity is the acting principal of a request.
// The zero value means no identity could be resolved.
type Identity struct {
	Type IdentityType `json:"type,omitempty"`
	UUID string       `json:"uuid,omitempty"`
}

// Resolved reports whether an identity was selected.
func (i Identity) Resolved() bool {
	return i.Type != ""
}

// TokenClaim is a (uuid, token) pair presented by a caller.
// It only counts as authenticated once SessionManager.Validate accepts it.
type TokenClaim struct {
	UUID  string
	Token string
}

// User represents a stored credential record.
type User struct {
	ID           string    `json:"uuid"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never serialised
	TOTPSecret   string    `json:"-"` // never serialised
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasPassword reports whether the user can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasSecondFactor reports whether a TOTP secret is enrolled.
func (u *User) HasSecondFactor() bool {
	return u.TOTPSecret != ""
}

// Session is a freshly issued session token. Token is only ever returned
// here; the store keeps its hash.
type Session struct {
	UUID      string    `json:"uuid"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiry"`
}

// Sentinel errors for auth operations.
var (
	ErrValidation          = errors.New("invalid input")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrInvalidSecondFactor = errors.New("invalid second factor code")
	ErrAlreadyExists       = errors.New("user already exists")
	ErrNotFound            = errors.New("user not found")
	ErrUnauthorized        = errors.New("operation permitted from local host only")
	ErrStoreFailure        = errors.New("store failure")
	ErrRateLimited         = errors.New("too many login attempts")
)
