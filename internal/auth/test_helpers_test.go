package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-identity/internal/ratelimit"
	"github.com/nerrad567/gray-logic-identity/internal/settings"
	_ "github.com/nerrad567/gray-logic-identity/migrations"
)

const testCoreSeed = "test-site"

// testHasher returns a cheap Argon2id hasher so tests stay fast.
func testHasher() *Hasher {
	return NewHasher(8*1024, 1, 1)
}

// testDB creates a temporary SQLite database with the real migrations applied.
// The database is closed when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// testClock is a settable time source shared by all components of a fixture.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingSink captures emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Action)
	}
	return out
}

func (s *recordingSink) has(action string) bool {
	for _, a := range s.actions() {
		if a == action {
			return true
		}
	}
	return false
}

// fixture wires every auth component against one temporary database.
type fixture struct {
	db       *sql.DB
	users    *SQLiteUserRepository
	settings *settings.SQLiteStore
	tokens   *SQLiteTokenStore
	sessions *SessionManager
	mode     *ModeSwitch
	resolver *Resolver
	factor   *SecondFactor
	creds    *Credentials
	events   *recordingSink
	clock    *testClock
	coreUUID string
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLimiter(t, nil)
}

func newFixtureWithLimiter(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()

	db := testDB(t)
	fx := &fixture{
		db:       db,
		users:    NewUserRepository(db),
		settings: settings.NewSQLiteStore(db),
		tokens:   NewTokenStore(db),
		events:   &recordingSink{},
		clock:    newTestClock(),
		coreUUID: CoreUUID(testCoreSeed),
	}

	fx.sessions = NewSessionManager(fx.tokens, fx.settings, WithClock(fx.clock.Now))
	fx.mode = NewModeSwitch(fx.settings, nil, fx.events, 0)
	fx.mode.now = fx.clock.Now
	fx.resolver = NewResolver(fx.mode, fx.coreUUID)
	fx.factor = NewSecondFactor(fx.users, fx.events, "Test", 1)
	fx.factor.now = fx.clock.Now

	creds, err := NewCredentials(CredentialsConfig{
		Users:    fx.users,
		Hasher:   testHasher(),
		Sessions: fx.sessions,
		Resolver: fx.resolver,
		Factor:   fx.factor,
		Limiter:  limiter,
		Events:   fx.events,
		CoreUUID: fx.coreUUID,
	})
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	creds.now = fx.clock.Now
	fx.creds = creds
	fx.mode.SetInstaller(creds)

	if err := fx.mode.Load(context.Background()); err != nil {
		t.Fatalf("ModeSwitch.Load() error = %v", err)
	}
	return fx
}

// register creates a user with a password and fails the test on error.
func (fx *fixture) register(t *testing.T, email, password string) *User {
	t.Helper()
	u, err := fx.creds.Register(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Register(%q) error = %v", email, err)
	}
	return u
}
