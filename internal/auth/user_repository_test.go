package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	u := &User{ID: "u-1", Email: "alice@example.com", PasswordHash: "h"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if u.CreatedAt.IsZero() {
		t.Error("Create() should set CreatedAt")
	}

	got, err := repo.GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if got.ID != "u-1" || got.PasswordHash != "h" {
		t.Errorf("GetByEmail() = %+v, want id u-1 hash h", got)
	}
	if got.HasSecondFactor() {
		t.Error("new user should not have a second factor")
	}

	byID, err := repo.GetByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Errorf("GetByID().Email = %q, want %q", byID.Email, "alice@example.com")
	}
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, &User{ID: "u-1", Email: "a@example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, &User{ID: "u-2", Email: "a@example.com"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Create() duplicate email error = %v, want ErrAlreadyExists", err)
	}

	err = repo.Create(ctx, &User{ID: "u-1", Email: "b@example.com"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Create() duplicate id error = %v, want ErrAlreadyExists", err)
	}
}

func TestUserRepository_NotFound(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrNotFound", err)
	}
	if err := repo.UpdatePassword(ctx, "missing", "h"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdatePassword() error = %v, want ErrNotFound", err)
	}
	if err := repo.SetTOTPSecret(ctx, "missing", "S"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetTOTPSecret() error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestUserRepository_Upsert(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	core := &User{ID: "core", Email: "core@example.com", PasswordHash: "h1"}
	if err := repo.Upsert(ctx, core); err != nil {
		t.Fatalf("Upsert() insert error = %v", err)
	}
	if err := repo.SetTOTPSecret(ctx, "core", "SECRET"); err != nil {
		t.Fatalf("SetTOTPSecret() error = %v", err)
	}

	replaced := &User{ID: "core", Email: "new@example.com", PasswordHash: "h2"}
	if err := repo.Upsert(ctx, replaced); err != nil {
		t.Fatalf("Upsert() replace error = %v", err)
	}
	if replaced.Email != "new@example.com" || replaced.PasswordHash != "h2" {
		t.Errorf("Upsert() = %+v, want replaced email and hash", replaced)
	}
	if replaced.HasSecondFactor() {
		t.Error("Upsert() should clear the second factor of a replaced record")
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	// The email of another record cannot be taken over.
	if err := repo.Create(ctx, &User{ID: "u-2", Email: "taken@example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err = repo.Upsert(ctx, &User{ID: "core", Email: "taken@example.com", PasswordHash: "h3"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Upsert() email clash error = %v, want ErrAlreadyExists", err)
	}
}

func TestUserRepository_SecondFactorAndPassword(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, &User{ID: "u-1", Email: "a@example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.SetTOTPSecret(ctx, "u-1", "JBSWY3DPEHPK3PXP"); err != nil {
		t.Fatalf("SetTOTPSecret() error = %v", err)
	}
	if err := repo.UpdatePassword(ctx, "u-1", "newhash"); err != nil {
		t.Fatalf("UpdatePassword() error = %v", err)
	}

	u, err := repo.GetByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if u.TOTPSecret != "JBSWY3DPEHPK3PXP" {
		t.Errorf("TOTPSecret = %q, want enrolled secret", u.TOTPSecret)
	}
	if u.PasswordHash != "newhash" {
		t.Errorf("PasswordHash = %q, want %q", u.PasswordHash, "newhash")
	}

	if err := repo.SetTOTPSecret(ctx, "u-1", ""); err != nil {
		t.Fatalf("SetTOTPSecret(clear) error = %v", err)
	}
	u, err = repo.GetByID(ctx, "u-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if u.HasSecondFactor() {
		t.Error("second factor should be cleared")
	}
}

func TestUserRepository_ListAndDelete(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := context.Background()

	users, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if users == nil || len(users) != 0 {
		t.Errorf("List() on empty db = %v, want empty non-nil slice", users)
	}

	for _, e := range []string{"b@example.com", "a@example.com"} {
		if err := repo.Create(ctx, &User{ID: "id-" + e, Email: e}); err != nil {
			t.Fatalf("Create(%q) error = %v", e, err)
		}
	}

	users, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("List() returned %d users, want 2", len(users))
	}

	if err := repo.Delete(ctx, "id-a@example.com"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() after delete = %d, want 1", n)
	}
}

func TestUserRepository_StoreFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	boom := errors.New("disk I/O error")
	mock.ExpectQuery("SELECT .* FROM users WHERE email").WillReturnError(boom)
	mock.ExpectExec("INSERT INTO users").WillReturnError(boom)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(boom)

	repo := NewUserRepository(db)
	ctx := context.Background()

	if _, err := repo.GetByEmail(ctx, "a@example.com"); !errors.Is(err, ErrStoreFailure) || !errors.Is(err, boom) {
		t.Errorf("GetByEmail() error = %v, want ErrStoreFailure wrapping cause", err)
	}
	if err := repo.Create(ctx, &User{ID: "u", Email: "a@example.com"}); !errors.Is(err, ErrStoreFailure) {
		t.Errorf("Create() error = %v, want ErrStoreFailure", err)
	}
	if _, err := repo.Count(ctx); !errors.Is(err, ErrStoreFailure) {
		t.Errorf("Count() error = %v, want ErrStoreFailure", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
