package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/ratelimit"
)

// dummyPassword is hashed once so that logins for unknown emails spend the
// same argon2id time as real ones.
const dummyPassword = "graylogic-identity-dummy-password"

// LoginRequest carries a password login attempt.
type LoginRequest struct {
	Email      string
	Password   string
	Code       string // second-factor code, required only when enrolled
	SourceAddr string
}

// Credentials verifies and maintains user credentials.
type Credentials struct {
	users     UserRepository
	hasher    *Hasher
	sessions  *SessionManager
	resolver  *Resolver
	factor    *SecondFactor
	limiter   ratelimit.Limiter
	events    audit.Sink
	logger    *slog.Logger
	coreUUID  string
	dummyHash string
	now       func() time.Time
}

// CredentialsConfig groups the collaborators of Credentials.
// Hasher, Factor, Limiter, Events and Logger are optional.
type CredentialsConfig struct {
	Users    UserRepository
	Hasher   *Hasher
	Sessions *SessionManager
	Resolver *Resolver
	Factor   *SecondFactor
	Limiter  ratelimit.Limiter
	Events   audit.Sink
	Logger   *slog.Logger
	CoreUUID string
}

// NewCredentials creates a Credentials verifier.
func NewCredentials(cfg CredentialsConfig) (*Credentials, error) {
	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Unlimited{}
	}
	if cfg.Events == nil {
		cfg.Events = audit.NoOpSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Factor == nil {
		cfg.Factor = NewSecondFactor(cfg.Users, cfg.Events, "", 1)
	}

	dummy, err := cfg.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("preparing dummy hash: %w", err)
	}

	return &Credentials{
		users:     cfg.Users,
		hasher:    cfg.Hasher,
		sessions:  cfg.Sessions,
		resolver:  cfg.Resolver,
		factor:    cfg.Factor,
		limiter:   cfg.Limiter,
		events:    cfg.Events,
		logger:    cfg.Logger,
		coreUUID:  cfg.CoreUUID,
		dummyHash: dummy,
		now:       time.Now,
	}, nil
}

// Register creates a new user with a password.
func (c *Credentials) Register(ctx context.Context, email, password string) (*User, error) {
	email, err := validEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}

	hash, err := c.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &User{ID: uuid.NewString(), Email: email, PasswordHash: hash}
	if err := c.users.Create(ctx, user); err != nil {
		return nil, err
	}

	c.emit(ctx, audit.Event{Action: audit.ActionRegister, Level: audit.LevelSuccess, UserID: user.ID, Message: "user registered"})
	return user, nil
}

// Login verifies a password (and second factor when enrolled) and issues a session.
func (c *Credentials) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	email := NormalizeEmail(req.Email)
	key := limiterKey(req.SourceAddr, email)

	allowed, err := c.limiter.Allow(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: checking login limit: %w", ErrStoreFailure, err)
	}
	if !allowed {
		c.emit(ctx, audit.Event{Action: audit.ActionLoginRateLimited, Level: audit.LevelWarning, Source: req.SourceAddr, Message: "login rate limited"})
		return nil, ErrRateLimited
	}

	user, err := c.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if user == nil || !user.HasPassword() || req.Password == "" {
		c.hasher.Verify(req.Password, c.dummyHash) //nolint:errcheck // timing equalisation only
		c.loginFailed(ctx, user, req.SourceAddr, "unknown email or no password")
		return nil, ErrAuthFailed
	}

	ok, err := c.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		c.logger.Error("stored password hash is unreadable", "user_id", user.ID, "error", err)
	}
	if !ok {
		c.loginFailed(ctx, user, req.SourceAddr, "wrong password")
		return nil, ErrAuthFailed
	}

	if user.HasSecondFactor() && !c.factor.VerifyBySecret(user.TOTPSecret, req.Code) {
		c.loginFailed(ctx, user, req.SourceAddr, "wrong second factor code")
		return nil, ErrInvalidSecondFactor
	}

	if err := c.limiter.Reset(ctx, key); err != nil {
		c.logger.Warn("resetting login limit failed", "error", err)
	}
	c.upgradeHash(ctx, user, req.Password)

	session, err := c.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("session issued", "user_id", user.ID, "token_ref", logging.Redact(session.Token))

	c.emit(ctx, audit.Event{Action: audit.ActionLogin, Level: audit.LevelSuccess, UserID: user.ID, Source: req.SourceAddr, Message: "login successful"})
	return session, nil
}

// upgradeHash re-hashes a verified password whose stored hash was made with
// an older cost. Failure only costs another attempt at the next login.
func (c *Credentials) upgradeHash(ctx context.Context, user *User, password string) {
	if !c.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := c.hasher.Hash(password)
	if err == nil {
		err = c.users.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		c.logger.Warn("password hash upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	c.logger.Info("password hash upgraded", "user_id", user.ID)
}

// Logout revokes the claim's token. Idempotent.
func (c *Credentials) Logout(ctx context.Context, claim TokenClaim) error {
	if err := c.sessions.Revoke(ctx, claim.UUID, claim.Token); err != nil {
		return err
	}
	c.emit(ctx, audit.Event{Action: audit.ActionLogout, Level: audit.LevelNotice, UserID: claim.UUID, Message: "logged out"})
	return nil
}

// ChangePassword replaces the acting user's password after checking the old one.
func (c *Credentials) ChangePassword(ctx context.Context, explicitUUID string, claim *TokenClaim, oldPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrValidation)
	}

	id, err := c.resolver.Resolve(ctx, explicitUUID, claim)
	if err != nil {
		return err
	}
	if !id.Resolved() {
		return ErrNotFound
	}

	user, err := c.users.GetByID(ctx, id.UUID)
	if err != nil {
		return err
	}

	ok, err := c.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrAuthFailed
	}

	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := c.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	c.emit(ctx, audit.Event{Action: audit.ActionPasswordChanged, Level: audit.LevelSuccess, UserID: user.ID, Message: "password changed"})
	return nil
}

// ResetPassword overwrites a user's password. Only a loopback source may do this.
func (c *Credentials) ResetPassword(ctx context.Context, sourceAddr, email, newPassword string) error {
	if !IsLoopback(sourceAddr) {
		return ErrUnauthorized
	}
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrValidation)
	}

	user, err := c.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return err
	}

	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := c.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	c.emit(ctx, audit.Event{Action: audit.ActionPasswordReset, Level: audit.LevelWarning, UserID: user.ID, Source: sourceAddr, Message: "password reset"})
	return nil
}

// InstallCore inserts or replaces the core identity's credential. Replacing
// it clears the core user's second factor.
func (c *Credentials) InstallCore(ctx context.Context, email, password string) error {
	email, err := validEmail(email)
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}

	hash, err := c.hasher.Hash(password)
	if err != nil {
		return err
	}

	if err := c.users.Upsert(ctx, &User{ID: c.coreUUID, Email: email, PasswordHash: hash}); err != nil {
		return err
	}

	c.emit(ctx, audit.Event{Action: audit.ActionCoreInstalled, Level: audit.LevelWarning, UserID: c.coreUUID, Message: "core credential installed"})
	return nil
}

// Add creates a user without a password and returns its UUID. If the email is
// already registered, the existing UUID is returned.
func (c *Credentials) Add(ctx context.Context, email string) (string, error) {
	email, err := validEmail(email)
	if err != nil {
		return "", err
	}

	existing, err := c.users.GetByEmail(ctx, email)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	user := &User{ID: uuid.NewString(), Email: email}
	if err := c.users.Create(ctx, user); err != nil {
		return "", err
	}

	c.emit(ctx, audit.Event{Action: audit.ActionUserAdded, Level: audit.LevelNotice, UserID: user.ID, Message: "user added"})
	return user.ID, nil
}

// Delete removes a user and revokes their session.
func (c *Credentials) Delete(ctx context.Context, id string) error {
	if err := c.users.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.sessions.RevokeAll(ctx, id); err != nil {
		return err
	}

	c.emit(ctx, audit.Event{Action: audit.ActionUserDeleted, Level: audit.LevelWarning, UserID: id, Message: "user deleted"})
	return nil
}

// List returns all users.
func (c *Credentials) List(ctx context.Context) ([]User, error) {
	return c.users.List(ctx)
}

// Get returns the user with the given UUID, or ErrNotFound.
func (c *Credentials) Get(ctx context.Context, id string) (*User, error) {
	return c.users.GetByID(ctx, id)
}

// Exists reports whether the email is registered.
func (c *Credentials) Exists(ctx context.Context, email string) (bool, error) {
	_, err := c.users.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// UUIDByEmail returns the UUID registered for email, or ErrNotFound.
func (c *Credentials) UUIDByEmail(ctx context.Context, email string) (string, error) {
	u, err := c.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// NoUsersYet reports whether no user record exists at all.
func (c *Credentials) NoUsersYet(ctx context.Context) (bool, error) {
	n, err := c.users.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (c *Credentials) loginFailed(ctx context.Context, user *User, source, reason string) {
	ev := audit.Event{Action: audit.ActionLoginFailed, Level: audit.LevelWarning, Source: source, Message: "login failed: " + reason}
	if user != nil {
		ev.UserID = user.ID
	}
	c.emit(ctx, ev)
}

func (c *Credentials) emit(ctx context.Context, ev audit.Event) {
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	if err := c.events.Emit(ctx, ev); err != nil {
		c.logger.Warn("identity event not delivered", "action", ev.Action, "error", err)
	}
}

// validEmail normalises email and rejects malformed addresses.
func validEmail(email string) (string, error) {
	email = NormalizeEmail(email)
	if !IsValidEmail(email) {
		return "", fmt.Errorf("%w: malformed email", ErrValidation)
	}
	return email, nil
}

// limiterKey scopes login attempts to the source host and the email.
func limiterKey(sourceAddr, email string) string {
	host := sourceAddr
	if h, _, err := net.SplitHostPort(sourceAddr); err == nil {
		host = h
	}
	return "login:" + host + ":" + email
}
