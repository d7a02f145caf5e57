package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserRepository persists credential records. Emails are stored as given;
// callers pass NormalizeEmail output.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	Upsert(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetTOTPSecret(ctx context.Context, id, secret string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository stores users in the users table. Timestamps are unix
// milliseconds.
type SQLiteUserRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserRepository returns a repository over db.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db, now: time.Now}
}

const (
	userColumns = "id, email, password_hash, totp_secret, created_at, updated_at"
	selectUsers = "SELECT " + userColumns + " FROM users"
)

func (r *SQLiteUserRepository) stamp() (time.Time, int64) {
	t := r.now().UTC().Truncate(time.Millisecond)
	return t, t.UnixMilli()
}

// Create inserts user, whose ID must be set, and fills in its timestamps.
// A taken ID or email is ErrAlreadyExists.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	t, ms := r.stamp()

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Email, user.PasswordHash, optional(user.TOTPSecret), ms, ms)
	if err := classify("creating user", err); err != nil {
		return err
	}
	user.CreatedAt, user.UpdatedAt = t, t
	return nil
}

// Upsert writes the email and password of the record with user.ID, creating
// it if absent. Replacing a record clears its second factor. user is
// refreshed from the stored row.
func (r *SQLiteUserRepository) Upsert(ctx context.Context, user *User) error {
	_, ms := r.stamp()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, NULL, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email = excluded.email,
		   password_hash = excluded.password_hash,
		   totp_secret = NULL,
		   updated_at = excluded.updated_at`,
		user.ID, user.Email, user.PasswordHash, ms, ms)
	if err := classify("upserting user", err); err != nil {
		return err
	}

	stored, err := r.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

// GetByID returns the user with id or ErrNotFound.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUsers+" WHERE id = ?", id))
}

// GetByEmail returns the user with email or ErrNotFound.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUsers+" WHERE email = ?", email))
}

// List returns every user, oldest first. The result is never nil.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, selectUsers+" ORDER BY created_at, email")
	if err != nil {
		return nil, fmt.Errorf("%w: listing users: %w", ErrStoreFailure, err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing users: %w", ErrStoreFailure, err)
	}
	return users, nil
}

// UpdatePassword replaces the stored hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, ms := r.stamp()
	return r.touch(ctx, "updating password",
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?", passwordHash, ms, id)
}

// SetTOTPSecret stores the second-factor secret; "" removes it.
func (r *SQLiteUserRepository) SetTOTPSecret(ctx context.Context, id, secret string) error {
	_, ms := r.stamp()
	return r.touch(ctx, "updating second factor",
		"UPDATE users SET totp_secret = ?, updated_at = ? WHERE id = ?", optional(secret), ms, id)
}

// Delete removes the record. Session tokens are revoked separately.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	return r.touch(ctx, "deleting user", "DELETE FROM users WHERE id = ?", id)
}

// Count returns the number of records, the core credential included.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting users: %w", ErrStoreFailure, err)
	}
	return n, nil
}

// touch runs a statement aimed at exactly one row; no row is ErrNotFound.
func (r *SQLiteUserRepository) touch(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // both SQLite drivers report it
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                User
		totp             sql.NullString
		created, updated int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &totp, &created, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: reading user: %w", ErrStoreFailure, err)
	}

	u.TOTPSecret = totp.String
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.UpdatedAt = time.UnixMilli(updated).UTC()
	return &u, nil
}

// optional stores "" as NULL.
func optional(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// classify maps a write error: constraint violations on id or email become
// ErrAlreadyExists, anything else is a store failure. Both SQLite drivers
// use the same message text.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return ErrAlreadyExists
	default:
		return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
	}
}
