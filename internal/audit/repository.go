// Package audit records identity activity per user and fans identity
// events out to the audit log, the message bus and metrics.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level classifies an audit entry.
type Level string

// Audit levels, in the order the log view filters them.
const (
	LevelDebug   Level = "debug"
	LevelNotice  Level = "notice"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// AllLevels is the default filter for Log.
var AllLevels = []Level{LevelDebug, LevelNotice, LevelWarning, LevelError, LevelSuccess}

// Query limits.
const (
	LogLimit  = 1000
	TailLimit = 500
)

// ParseLevels parses a comma-separated level filter such as "warning,error".
// Unknown names are ignored; an empty or fully unknown filter selects AllLevels.
func ParseLevels(s string) []Level {
	var out []Level
	for _, part := range strings.Split(s, ",") {
		l := Level(strings.TrimSpace(strings.ToLower(part)))
		for _, known := range AllLevels {
			if l == known {
				out = append(out, l)
				break
			}
		}
	}
	if len(out) == 0 {
		return AllLevels
	}
	return out
}

// Entry is one row of a user's audit log.
type Entry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Level     Level          `json:"level"`
	Action    string         `json:"action"`
	Message   string         `json:"message,omitempty"`
	Source    string         `json:"source,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}

// Repository defines the interface for audit log operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	Log(ctx context.Context, userID string, levels []Level) ([]Entry, error)
	Tail(ctx context.Context, userID string, since time.Time) ([]Entry, error)
}

// SQLiteRepository stores audit entries in the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new audit entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = LevelNotice
	}

	var detailsJSON *string
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, level, action, message, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullableString(e.UserID), string(e.Level), e.Action,
		e.Message, e.Source, detailsJSON,
		e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Log returns up to LogLimit entries for userID whose level is in levels,
// most recent first.
func (r *SQLiteRepository) Log(ctx context.Context, userID string, levels []Level) ([]Entry, error) {
	if len(levels) == 0 {
		levels = AllLevels
	}

	placeholders := make([]string, len(levels))
	args := make([]any, 0, len(levels)+2) //nolint:mnd // user_id + limit
	args = append(args, userID)
	for i, l := range levels {
		placeholders[i] = "?"
		args = append(args, string(l))
	}
	args = append(args, LogLimit)

	query := fmt.Sprintf( //nolint:gosec // only ? placeholders are interpolated
		`SELECT id, user_id, level, action, message, source, details, created_at
		 FROM audit_logs WHERE user_id = ? AND level IN (%s)
		 ORDER BY created_at DESC, id LIMIT ?`,
		strings.Join(placeholders, ", "),
	)

	return r.query(ctx, query, args...)
}

// Tail returns up to TailLimit entries for userID created strictly after since,
// oldest first so that callers can append them to a view.
func (r *SQLiteRepository) Tail(ctx context.Context, userID string, since time.Time) ([]Entry, error) {
	return r.query(ctx,
		`SELECT id, user_id, level, action, message, source, details, created_at
		 FROM audit_logs WHERE user_id = ? AND created_at > ?
		 ORDER BY created_at ASC, id LIMIT ?`,
		userID, since.UnixMilli(), TailLimit,
	)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var userID, detailsJSON sql.NullString
		var level string
		var createdAt int64

		if err := rows.Scan(&e.ID, &userID, &level, &e.Action,
			&e.Message, &e.Source, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}

		e.Level = Level(level)
		if userID.Valid {
			e.UserID = userID.String
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				e.Details = details
			}
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return entries, nil
}
