package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/ratelimit"
)

func TestCredentials_Register(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	u, err := fx.creds.Register(ctx, "  Alice@Example.com ", "pw1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("Email = %q, want normalised %q", u.Email, "alice@example.com")
	}
	if u.ID == "" || u.ID == fx.coreUUID {
		t.Errorf("ID = %q, want a fresh uuid", u.ID)
	}
	if u.PasswordHash == "pw1" || !u.HasPassword() {
		t.Error("password must be stored hashed")
	}

	if _, err := fx.creds.Register(ctx, "ALICE@example.com", "other"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Register(duplicate) error = %v, want ErrAlreadyExists", err)
	}

	tests := []struct {
		name, email, password string
	}{
		{"empty password", "bob@example.com", ""},
		{"malformed email", "bob", "pw"},
		{"empty email", "", "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.creds.Register(ctx, tt.email, tt.password); !errors.Is(err, ErrValidation) {
				t.Errorf("Register() error = %v, want ErrValidation", err)
			}
		})
	}

	if !fx.events.has(audit.ActionRegister) {
		t.Errorf("events = %v, want register", fx.events.actions())
	}
}

func TestCredentials_Login(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	u := fx.register(t, "alice@example.com", "pw1")

	tests := []struct {
		name    string
		req     LoginRequest
		wantErr error
	}{
		{"success", LoginRequest{Email: "alice@example.com", Password: "pw1"}, nil},
		{"email case-insensitive", LoginRequest{Email: "ALICE@example.com", Password: "pw1"}, nil},
		{"wrong password", LoginRequest{Email: "alice@example.com", Password: "wrong"}, ErrAuthFailed},
		{"unknown email", LoginRequest{Email: "nobody@example.com", Password: "pw1"}, ErrAuthFailed},
		{"empty password", LoginRequest{Email: "alice@example.com"}, ErrAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := fx.creds.Login(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if s != nil {
					t.Error("Login() returned a session on failure")
				}
				return
			}
			if s.UUID != u.ID {
				t.Errorf("session UUID = %q, want %q", s.UUID, u.ID)
			}
			if ok, _ := fx.sessions.Validate(ctx, s.UUID, s.Token); !ok {
				t.Error("issued token does not validate")
			}
		})
	}

	if !fx.events.has(audit.ActionLogin) || !fx.events.has(audit.ActionLoginFailed) {
		t.Errorf("events = %v, want login and login_failed", fx.events.actions())
	}
}

func TestCredentials_LoginUpgradesHash(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	u := fx.register(t, "alice@example.com", "pw1")

	old, err := NewHasher(4*1024, 1, 1).Hash("pw1")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if err := fx.users.UpdatePassword(ctx, u.ID, old); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}

	if _, err := fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "pw1"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	stored, err := fx.users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.PasswordHash == old {
		t.Error("stored hash not upgraded")
	}
	if testHasher().NeedsRehash(stored.PasswordHash) {
		t.Error("upgraded hash does not carry the current cost")
	}
	if ok, _ := testHasher().Verify("pw1", stored.PasswordHash); !ok {
		t.Error("upgraded hash does not verify")
	}
}

func TestCredentials_LoginUserWithoutPassword(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.creds.Add(ctx, "nopw@example.com"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := fx.creds.Login(ctx, LoginRequest{Email: "nopw@example.com", Password: ""}); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Login() error = %v, want ErrAuthFailed", err)
	}
	if _, err := fx.creds.Login(ctx, LoginRequest{Email: "nopw@example.com", Password: "anything"}); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Login() error = %v, want ErrAuthFailed", err)
	}
}

func TestCredentials_LoginSecondFactor(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	u := fx.register(t, "alice@example.com", "pw1")

	e, err := fx.factor.Enroll(u.Email)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if err := fx.factor.Enable(ctx, u.ID, e.Secret, codeAt(t, e.Secret, fx.clock.Now())); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	_, err = fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "pw1"})
	if !errors.Is(err, ErrInvalidSecondFactor) {
		t.Errorf("Login(no code) error = %v, want ErrInvalidSecondFactor", err)
	}

	_, err = fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "pw1", Code: "000000"})
	if !errors.Is(err, ErrInvalidSecondFactor) {
		t.Errorf("Login(bad code) error = %v, want ErrInvalidSecondFactor", err)
	}

	// The password is checked first: a wrong password never reveals the second factor.
	_, err = fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "wrong", Code: codeAt(t, e.Secret, fx.clock.Now())})
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Login(wrong password) error = %v, want ErrAuthFailed", err)
	}

	s, err := fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "pw1", Code: codeAt(t, e.Secret, fx.clock.Now())})
	if err != nil {
		t.Fatalf("Login(valid code) error = %v", err)
	}
	if s.UUID != u.ID {
		t.Errorf("session UUID = %q, want %q", s.UUID, u.ID)
	}
}

func TestCredentials_LoginRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(2, time.Hour)
	fx := newFixtureWithLimiter(t, limiter)
	ctx := context.Background()
	fx.register(t, "alice@example.com", "pw1")

	req := LoginRequest{Email: "alice@example.com", Password: "wrong", SourceAddr: "10.0.0.9:1234"}
	for i := 0; i < 2; i++ {
		if _, err := fx.creds.Login(ctx, req); !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("attempt %d error = %v, want ErrAuthFailed", i+1, err)
		}
	}

	req.Password = "pw1"
	if _, err := fx.creds.Login(ctx, req); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third attempt error = %v, want ErrRateLimited", err)
	}

	// Another source is limited separately.
	other := LoginRequest{Email: "alice@example.com", Password: "pw1", SourceAddr: "10.0.0.10:1234"}
	if _, err := fx.creds.Login(ctx, other); err != nil {
		t.Errorf("Login() from another source error = %v", err)
	}

	if !fx.events.has(audit.ActionLoginRateLimited) {
		t.Errorf("events = %v, want login_rate_limited", fx.events.actions())
	}
}

func TestCredentials_Logout(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.register(t, "alice@example.com", "pw1")

	s, err := fx.creds.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "pw1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	claim := TokenClaim{UUID: s.UUID, Token: s.Token}
	if err := fx.creds.Logout(ctx, claim); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if ok, _ := fx.sessions.Validate(ctx, s.UUID, s.Token); ok {
		t.Error("token still valid after Logout")
	}
	if err := fx.creds.Logout(ctx, claim); err != nil {
		t.Errorf("second Logout() error = %v, want nil", err)
	}
}

func TestCredentials_ChangePassword(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	u := fx.register(t, "alice@example.com", "pw1")
	claim := &TokenClaim{UUID: u.ID, Token: "validated-upstream"}

	if err := fx.creds.ChangePassword(ctx, "", claim, "wrong", "pw2"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("ChangePassword(wrong old) error = %v, want ErrAuthFailed", err)
	}
	if err := fx.creds.ChangePassword(ctx, "", claim, "pw1", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("ChangePassword(empty new) error = %v, want ErrValidation", err)
	}
	if err := fx.creds.ChangePassword(ctx, "", claim, "pw1", "pw2"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	if _, err := fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "pw1"}); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Login(old password) error = %v, want ErrAuthFailed", err)
	}
	if _, err := fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "pw2"}); err != nil {
		t.Errorf("Login(new password) error = %v", err)
	}

	// An explicit uuid of an unknown user.
	if err := fx.creds.ChangePassword(ctx, "missing", nil, "pw", "pw2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ChangePassword(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestCredentials_ChangePasswordUnresolved(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.mode.Enable(ctx, "core@example.com", "core-pw"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if err := fx.creds.ChangePassword(ctx, "", nil, "core-pw", "new"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ChangePassword(unresolved) error = %v, want ErrNotFound", err)
	}
}

func TestCredentials_ChangePasswordCoreInSingleUser(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.creds.InstallCore(ctx, "core@example.com", "core-pw"); err != nil {
		t.Fatalf("InstallCore() error = %v", err)
	}
	if err := fx.creds.ChangePassword(ctx, "", nil, "core-pw", "core-pw2"); err != nil {
		t.Fatalf("ChangePassword(core) error = %v", err)
	}
	if _, err := fx.creds.Login(ctx, LoginRequest{Email: "core@example.com", Password: "core-pw2"}); err != nil {
		t.Errorf("Login(core new password) error = %v", err)
	}
}

func TestCredentials_ResetPassword(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	u := fx.register(t, "alice@example.com", "pw1")

	if err := fx.creds.ResetPassword(ctx, "192.168.1.20:5000", u.Email, "pw9"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("ResetPassword(remote) error = %v, want ErrUnauthorized", err)
	}
	if err := fx.creds.ResetPassword(ctx, "127.0.0.1:5000", "missing@example.com", "pw9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResetPassword(unknown) error = %v, want ErrNotFound", err)
	}
	if err := fx.creds.ResetPassword(ctx, "127.0.0.1:5000", u.Email, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("ResetPassword(empty) error = %v, want ErrValidation", err)
	}

	if err := fx.creds.ResetPassword(ctx, "::1", "Alice@Example.com", "pw9"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if _, err := fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "pw9"}); err != nil {
		t.Errorf("Login(reset password) error = %v", err)
	}
}

func TestCredentials_InstallCore(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.creds.InstallCore(ctx, "core@example.com", "pw"); err != nil {
		t.Fatalf("InstallCore() error = %v", err)
	}

	// Give the core a second factor, then replace the credential.
	e, err := fx.factor.Enroll("core@example.com")
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if err := fx.factor.Enable(ctx, fx.coreUUID, e.Secret, codeAt(t, e.Secret, fx.clock.Now())); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}

	if err := fx.creds.InstallCore(ctx, "root@example.com", "pw2"); err != nil {
		t.Fatalf("InstallCore(replace) error = %v", err)
	}

	users, err := fx.creds.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 1 || users[0].ID != fx.coreUUID || users[0].Email != "root@example.com" {
		t.Errorf("List() = %+v, want the single replaced core record", users)
	}
	if st, _ := fx.factor.Status(ctx, fx.coreUUID); st.Enabled {
		t.Error("second factor should be cleared when the core credential is replaced")
	}

	fx.register(t, "alice@example.com", "pw1")
	if err := fx.creds.InstallCore(ctx, "alice@example.com", "pw3"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("InstallCore(other user's email) error = %v, want ErrAlreadyExists", err)
	}
}

func TestCredentials_UserManagement(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	empty, err := fx.creds.NoUsersYet(ctx)
	if err != nil {
		t.Fatalf("NoUsersYet() error = %v", err)
	}
	if !empty {
		t.Error("NoUsersYet() = false on a fresh store")
	}

	id, err := fx.creds.Add(ctx, "Bob@Example.com")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	again, err := fx.creds.Add(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("Add(existing) error = %v", err)
	}
	if again != id {
		t.Errorf("Add(existing) = %q, want existing %q", again, id)
	}
	if _, err := fx.creds.Add(ctx, "bad"); !errors.Is(err, ErrValidation) {
		t.Errorf("Add(bad) error = %v, want ErrValidation", err)
	}

	exists, err := fx.creds.Exists(ctx, "BOB@example.com")
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v; want true", exists, err)
	}
	exists, err = fx.creds.Exists(ctx, "nobody@example.com")
	if err != nil || exists {
		t.Errorf("Exists(nobody) = %v, %v; want false", exists, err)
	}

	got, err := fx.creds.UUIDByEmail(ctx, "bob@example.com")
	if err != nil || got != id {
		t.Errorf("UUIDByEmail() = %q, %v; want %q", got, err, id)
	}
	if _, err := fx.creds.UUIDByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UUIDByEmail(nobody) error = %v, want ErrNotFound", err)
	}

	empty, _ = fx.creds.NoUsersYet(ctx)
	if empty {
		t.Error("NoUsersYet() = true after Add")
	}
}

func TestCredentials_DeleteRevokesSession(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	u := fx.register(t, "alice@example.com", "pw1")

	s, err := fx.creds.Login(ctx, LoginRequest{Email: u.Email, Password: "pw1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := fx.creds.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := fx.sessions.Validate(ctx, s.UUID, s.Token); ok {
		t.Error("token still valid after Delete")
	}
	if err := fx.creds.Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(again) error = %v, want ErrNotFound", err)
	}
	if !fx.events.has(audit.ActionUserDeleted) {
		t.Errorf("events = %v, want user_deleted", fx.events.actions())
	}
}

func TestCredentials_EventsNeverCarrySecrets(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.register(t, "alice@example.com", "pw-secret-1")

	s, err := fx.creds.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "pw-secret-1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	fx.creds.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "pw-secret-2"}) //nolint:errcheck // failure is the point

	fx.events.mu.Lock()
	defer fx.events.mu.Unlock()
	for _, ev := range fx.events.events {
		for _, v := range []string{ev.Message, ev.Source} {
			for _, secret := range []string{"pw-secret-1", "pw-secret-2", s.Token} {
				if v != "" && strings.Contains(v, secret) {
					t.Errorf("event %s leaks a secret: %q", ev.Action, v)
				}
			}
		}
	}
}
