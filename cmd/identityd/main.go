// Gray Logic Identity - credential and session service
//
// This is the main entry point for the Gray Logic identity service. It owns
// user credentials, session tokens, the second factor and the single-user /
// multiuser mode switch for a Gray Logic site.
//
// Single-user sites act as the site's core identity without logging in.
// Enabling multiuser mode (from the local host only) installs a core
// credential and requires every other caller to present a session token.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-identity/migrations"

	"github.com/nerrad567/gray-logic-identity/internal/api"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/redis"
	"github.com/nerrad567/gray-logic-identity/internal/ratelimit"
	"github.com/nerrad567/gray-logic-identity/internal/settings"
)

// Build metadata, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	eventQueueSize    = 256
	eventDrainTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "identityd: %v\n", err)
		os.Exit(1)
	}
}

// run starts the service and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting identity service", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	if err := b.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Events reach the audit log, the bus and the counters off the request
	// path; once the queue is full new events are dropped.
	auditRepo := audit.NewSQLiteRepository(b.db.DB)
	events := audit.NewAsyncSink(eventSinks(cfg, auditRepo, b), eventQueueSize, log)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), eventDrainTimeout)
		defer cancel()
		if err := events.Close(drainCtx); err != nil {
			log.Warn("identity events not fully delivered", "error", err, "dropped", events.Dropped())
		}
	}()

	id, err := buildIdentity(ctx, cfg, b.db, b.redis, events, log)
	if err != nil {
		return err
	}
	if _, err := auth.SeedCore(ctx, id.creds, log.Logger); err != nil {
		return fmt.Errorf("seeding core credential: %w", err)
	}

	go purgeLoop(ctx, cfg, id, b.influx, log)

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		Security:     cfg.Security,
		Logger:       log,
		Credentials:  id.creds,
		Sessions:     id.sessions,
		Mode:         id.mode,
		Resolver:     id.resolver,
		SecondFactor: id.factor,
		AuditLog:     auditRepo,
		Database:     b.db,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Error("closing API server failed", "error", err)
		}
	}()

	log.Info("identity service ready", "core_uuid", id.resolver.CoreUUID())
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// backends holds the store and the optional clients. Nil clients are
// disabled in config.
type backends struct {
	db     *database.DB
	redis  *redis.Client
	mqtt   *mqtt.Client
	influx *influxdb.Client

	closers []func() error
	names   []string
}

func (b *backends) onClose(name string, fn func() error) {
	b.names = append(b.names, name)
	b.closers = append(b.closers, fn)
}

// close releases everything in reverse order of opening.
func (b *backends) close(log *logging.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Error("closing backend failed", "backend", b.names[i], "error", err)
		}
	}
}

// openBackends opens the database, applies migrations and connects every
// enabled optional client. On error whatever was opened is closed again.
func openBackends(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.close(log)
		}
	}()

	b.db, err = database.Open(database.Config{
		Driver:      cfg.Database.Driver,
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	b.onClose("database", b.db.Close)
	if err := b.db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("identity store ready", "path", b.db.Path(), "driver", b.db.Driver())

	if cfg.Redis.Enabled {
		if b.redis, err = redis.Connect(cfg.Redis); err != nil {
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		b.onClose("redis", b.redis.Close)
		log.Info("redis connected", "addr", cfg.Redis.Addr, "session_store", cfg.Redis.SessionStore)
	}

	if cfg.MQTT.Enabled {
		if b.mqtt, err = mqtt.Connect(cfg.MQTT); err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		b.onClose("mqtt", b.mqtt.Close)
		b.mqtt.SetLogger(log)
		b.mqtt.SetOnConnect(func() { log.Info("event broker reconnected") })
		log.Info("event broker connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"topic_prefix", cfg.MQTT.TopicPrefix,
		)
	}

	if cfg.InfluxDB.Enabled {
		if b.influx, err = influxdb.Connect(cfg.InfluxDB); err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		b.onClose("influxdb", b.influx.Close)
		b.influx.SetOnError(func(err error) { log.Warn("counter write failed", "error", err) })
		log.Info("counters enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	return b, nil
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck checks the store and every connected client.
func (b *backends) healthCheck(ctx context.Context) error {
	checks := map[string]healthChecker{"database": b.db}
	if b.redis != nil {
		checks["redis"] = b.redis
	}
	if b.mqtt != nil {
		checks["mqtt"] = b.mqtt
	}
	if b.influx != nil {
		checks["influxdb"] = b.influx
	}
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// identity groups the wired auth components.
type identity struct {
	sessions *auth.SessionManager
	mode     *auth.ModeSwitch
	resolver *auth.Resolver
	factor   *auth.SecondFactor
	creds    *auth.Credentials
	limiter  ratelimit.Limiter
}

// buildIdentity wires the auth components against the configured stores.
func buildIdentity(ctx context.Context, cfg *config.Config, db *database.DB, redisClient *redis.Client, events audit.Sink, log *logging.Logger) (*identity, error) {
	store := settings.NewSQLiteStore(db.DB)
	users := auth.NewUserRepository(db.DB)
	coreUUID := auth.CoreUUID(cfg.CoreSeed())

	var tokens auth.TokenStore = auth.NewTokenStore(db.DB)
	if redisClient != nil && cfg.Redis.SessionStore {
		tokens = auth.NewRedisTokenStore(redisClient.Redis(), cfg.Redis.KeyPrefix)
	}

	sessions := auth.NewSessionManager(tokens, store, auth.WithDefaultTimeout(cfg.Identity.SessionTimeout))
	mode := auth.NewModeSwitch(store, nil, events, cfg.Identity.ModeCache())
	resolver := auth.NewResolver(mode, coreUUID)
	factor := auth.NewSecondFactor(users, events, cfg.Identity.TOTP.Issuer, cfg.Identity.TOTP.Skew)
	limiter := loginLimiter(cfg, redisClient)

	creds, err := auth.NewCredentials(auth.CredentialsConfig{
		Users: users,
		Hasher: auth.NewHasher(
			cfg.Identity.Password.Memory,
			cfg.Identity.Password.Iterations,
			cfg.Identity.Password.Parallelism,
		),
		Sessions: sessions,
		Resolver: resolver,
		Factor:   factor,
		Limiter:  limiter,
		Events:   events,
		Logger:   log.Logger,
		CoreUUID: coreUUID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating credential verifier: %w", err)
	}
	mode.SetInstaller(creds)

	if err := mode.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading multiuser flag: %w", err)
	}
	multiuser, err := mode.IsEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading multiuser flag: %w", err)
	}
	log.Info("identity initialised",
		"multiuser", multiuser,
		"session_store", fmt.Sprintf("%T", tokens),
	)

	return &identity{
		sessions: sessions,
		mode:     mode,
		resolver: resolver,
		factor:   factor,
		creds:    creds,
		limiter:  limiter,
	}, nil
}

// loginLimiter selects the login attempt limiter: Redis when available so
// that the budget is shared between instances, otherwise in-process.
func loginLimiter(cfg *config.Config, redisClient *redis.Client) ratelimit.Limiter {
	limit := cfg.Identity.LoginLimit
	if !limit.Enabled {
		return ratelimit.Unlimited{}
	}
	if redisClient != nil {
		return ratelimit.NewRedisLimiter(redisClient.Redis(), cfg.Redis.KeyPrefix, limit.MaxAttempts, limit.WindowDuration())
	}
	return ratelimit.NewMemoryLimiter(limit.MaxAttempts, limit.WindowDuration())
}

// eventSinks fans identity events out to every configured destination.
func eventSinks(cfg *config.Config, repo audit.Repository, b *backends) audit.Sink {
	sinks := audit.MultiSink{audit.RepositorySink{Repo: repo}}
	if b.mqtt != nil {
		sinks = append(sinks, audit.PublisherSink{Publisher: b.mqtt})
	}
	if b.influx != nil {
		sinks = append(sinks, audit.MetricsSink{Writer: b.influx, Site: cfg.Site.ID})
	}
	return sinks
}

// purgeLoop periodically deletes expired sessions and idle limiter buckets
// until ctx is cancelled.
func purgeLoop(ctx context.Context, cfg *config.Config, id *identity, influxClient *influxdb.Client, log *logging.Logger) {
	every := cfg.Identity.PurgeEvery()
	if every <= 0 {
		log.Info("session purge disabled")
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := id.sessions.PurgeExpired(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Error("purging expired sessions failed", "error", err)
				}
				continue
			}
			if purged > 0 {
				log.Debug("expired sessions purged", "count", purged)
			}
			if influxClient != nil {
				influxClient.WriteSessionsPurged(cfg.Site.ID, purged)
			}

			if mem, ok := id.limiter.(*ratelimit.MemoryLimiter); ok {
				mem.Prune(time.Now().Add(-cfg.Identity.LoginLimit.WindowDuration()))
			}
		}
	}
}

// getConfigPath returns $GRAYLOGIC_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
