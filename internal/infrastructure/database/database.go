package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"
	_ "modernc.org/sqlite"          // registers "sqlite"
)

// Supported driver names.
const (
	DriverCGO  = "sqlite3"
	DriverPure = "sqlite"
)

const (
	dirMode  = 0o750
	fileMode = 0o600

	pingTimeout = 5 * time.Second
	maxIdleTime = 30 * time.Minute
	maxLifetime = time.Hour
)

// pragmaStyle renders one pragma in a driver's DSN dialect.
type pragmaStyle func(name, value string) string

var dialects = map[string]pragmaStyle{
	DriverCGO: func(name, value string) string {
		return "_" + name + "=" + value
	},
	DriverPure: func(name, value string) string {
		return "_pragma=" + name + "(" + value + ")"
	},
}

// DB is the identity store's SQLite handle. It embeds *sql.DB; repositories
// take db.DB directly.
type DB struct {
	*sql.DB
	path   string
	driver string
}

// Config maps the database section of config.yaml.
type Config struct {
	// Driver is DriverCGO or DriverPure. Empty means DriverCGO.
	Driver string
	// Path of the database file. Missing parent directories are created.
	Path string
	// WALMode switches the journal to write-ahead logging.
	WALMode bool
	// BusyTimeout is how long a writer waits for the lock, in seconds.
	BusyTimeout int
}

// Open opens (creating if needed) the SQLite file at cfg.Path with foreign
// keys enforced and pings it before returning.
func Open(cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverCGO
	}
	dsn, err := buildConnString(driver, cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: SQLite has a single writer and the pragmas are
	// per connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	sqlDB.SetConnMaxIdleTime(maxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Password hashes and token digests live here.
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // the file may not exist until the first write

	return &DB{DB: sqlDB, path: cfg.Path, driver: driver}, nil
}

// buildConnString renders the DSN for driver.
func buildConnString(driver string, cfg Config) (string, error) {
	pragma, ok := dialects[driver]
	if !ok {
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}

	params := []string{
		pragma("busy_timeout", fmt.Sprint(cfg.BusyTimeout*int(time.Second/time.Millisecond))),
	}
	if driver == DriverCGO {
		params = append(params, pragma("foreign_keys", "on"))
	} else {
		params = append(params, pragma("foreign_keys", "1"))
	}
	if cfg.WALMode {
		params = append(params, pragma("journal_mode", "WAL"), pragma("synchronous", "NORMAL"))
	}
	return "file:" + cfg.Path + "?" + strings.Join(params, "&"), nil
}

// Close closes the handle. Closing a zero DB is a no-op.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Driver returns the driver the handle was opened with.
func (db *DB) Driver() string { return db.driver }

// HealthCheck runs a trivial query against the store.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
