package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
)

// MigrationsFS is the source of the goose SQL files. The top-level
// migrations package assigns its embedded files here from init, so any
// binary importing it carries its own schema.
var MigrationsFS fs.FS

// MigrationsDir is where the .sql files sit inside MigrationsFS.
var MigrationsDir = "migrations"

// MigrationStatus describes one migration known to the provider.
type MigrationStatus struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// newProvider builds a goose provider over MigrationsFS.
// A nil provider with a nil error means there is nothing to migrate.
func (db *DB) newProvider() (*goose.Provider, error) {
	if MigrationsFS == nil {
		return nil, nil
	}

	fsys, err := fs.Sub(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("opening migrations dir %q: %w", MigrationsDir, err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, fsys)
	if err != nil {
		if errors.Is(err, goose.ErrNoMigrations) {
			return nil, nil
		}
		return nil, fmt.Errorf("creating migration provider: %w", err)
	}
	return provider, nil
}

// Migrate brings the schema up to the newest version. goose wraps each
// file in its own transaction, so a failure leaves earlier files applied
// and a later call resumes at the failed one.
func (db *DB) Migrate(ctx context.Context) error {
	provider, err := db.newProvider()
	if err != nil || provider == nil {
		return err
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// MigrateDown reverts the newest applied file; with none applied it does
// nothing.
func (db *DB) MigrateDown(ctx context.Context) error {
	provider, err := db.newProvider()
	if err != nil || provider == nil {
		return err
	}

	if _, err := provider.Down(ctx); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil
		}
		return fmt.Errorf("rolling back migration: %w", err)
	}
	return nil
}

// GetMigrationStatus splits the known files into applied and pending,
// each in version order.
func (db *DB) GetMigrationStatus(ctx context.Context) (applied, pending []MigrationStatus, err error) {
	provider, err := db.newProvider()
	if err != nil || provider == nil {
		return nil, nil, err
	}

	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading migration status: %w", err)
	}

	for _, s := range statuses {
		ms := MigrationStatus{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		}
		if ms.Applied {
			applied = append(applied, ms)
		} else {
			pending = append(pending, ms)
		}
	}
	return applied, pending, nil
}
