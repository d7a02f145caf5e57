package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors config.yaml. Every section has defaults; see defaultConfig.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Identity IdentityConfig `yaml:"identity"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// SiteConfig names the deployment.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// IdentityConfig holds the credential, session and second-factor settings.
// Durations are whole seconds.
type IdentityConfig struct {
	// CoreSeed derives the core identity UUID; empty falls back to the site
	// ID. Changing it orphans the existing core record.
	CoreSeed string `yaml:"core_seed"`

	// SessionTimeout applies until core/gui:sessiontimeout is first written.
	SessionTimeout int `yaml:"session_timeout"`

	// ModeCacheTTL bounds how stale the cached multiuser flag may be.
	// 0 reads the setting on every request.
	ModeCacheTTL int `yaml:"mode_cache_ttl"`

	// PurgeInterval spaces the expired-session sweeps; 0 turns them off.
	PurgeInterval int `yaml:"purge_interval"`

	TOTP       TOTPConfig       `yaml:"totp"`
	Password   PasswordConfig   `yaml:"password"`
	LoginLimit LoginLimitConfig `yaml:"login_limit"`
}

// ModeCache returns ModeCacheTTL as a duration.
func (c IdentityConfig) ModeCache() time.Duration { return seconds(c.ModeCacheTTL) }

// PurgeEvery returns PurgeInterval as a duration.
func (c IdentityConfig) PurgeEvery() time.Duration { return seconds(c.PurgeInterval) }

// TOTPConfig sets the issuer shown by authenticator apps and the accepted
// clock skew in 30 second steps.
type TOTPConfig struct {
	Issuer string `yaml:"issuer"`
	Skew   uint   `yaml:"skew"`
}

// PasswordConfig holds the Argon2id cost. Memory is in KiB.
type PasswordConfig struct {
	Memory      uint32 `yaml:"memory"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
}

// LoginLimitConfig caps failed logins per source and email.
type LoginLimitConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxAttempts int  `yaml:"max_attempts"`
	Window      int  `yaml:"window"`
}

// WindowDuration returns Window as a duration.
func (c LoginLimitConfig) WindowDuration() time.Duration { return seconds(c.Window) }

// DatabaseConfig locates the SQLite identity store.
type DatabaseConfig struct {
	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisConfig points at the optional shared cache.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`

	// SessionStore moves session tokens from SQLite to Redis.
	SessionStore bool `yaml:"session_store"`
}

// MQTTConfig configures the identity event publisher.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig is the broker endpoint.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials. Both may be empty.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig enables HTTPS with the given key pair.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds the http.Server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout returns Read as a duration.
func (c APITimeoutConfig) ReadTimeout() time.Duration { return seconds(c.Read) }

// WriteTimeout returns Write as a duration.
func (c APITimeoutConfig) WriteTimeout() time.Duration { return seconds(c.Write) }

// IdleTimeout returns Idle as a duration.
func (c APITimeoutConfig) IdleTimeout() time.Duration { return seconds(c.Idle) }

// CORSConfig lists what browsers may send cross-origin. Empty origins
// disables CORS headers entirely.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig configures the optional counters writer.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, format (json, text) and output (stdout, stderr).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig groups secrets.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds the HMAC key for bearer envelopes.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Load builds a Config from defaults, then the YAML file at path, then
// GRAYLOGIC_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig is the configuration before the file is applied.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Identity: IdentityConfig{
			SessionTimeout: 3600,
			ModeCacheTTL:   5,
			PurgeInterval:  3600,
			TOTP: TOTPConfig{
				Issuer: "Gray Logic",
				Skew:   1,
			},
			Password: PasswordConfig{
				Memory:      64 * 1024,
				Iterations:  3,
				Parallelism: 1,
			},
			LoginLimit: LoginLimitConfig{
				Enabled:     true,
				MaxAttempts: 10,
				Window:      900,
			},
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			Path:        "./data/identity.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "graylogic:identity:",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-identity",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "graylogic/identity",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// envOverrides maps each supported variable to the field it sets. Unset or
// empty variables leave the field alone, as do unparsable booleans.
var envOverrides = map[string]func(*Config, string){
	"GRAYLOGIC_IDENTITY_CORE_SEED": func(c *Config, v string) { c.Identity.CoreSeed = v },
	"GRAYLOGIC_DATABASE_DRIVER":    func(c *Config, v string) { c.Database.Driver = v },
	"GRAYLOGIC_DATABASE_PATH":      func(c *Config, v string) { c.Database.Path = v },
	"GRAYLOGIC_REDIS_ADDR":         func(c *Config, v string) { c.Redis.Addr = v },
	"GRAYLOGIC_REDIS_PASSWORD":     func(c *Config, v string) { c.Redis.Password = v },
	"GRAYLOGIC_REDIS_ENABLED":      func(c *Config, v string) { setBool(&c.Redis.Enabled, v) },
	"GRAYLOGIC_MQTT_ENABLED":       func(c *Config, v string) { setBool(&c.MQTT.Enabled, v) },
	"GRAYLOGIC_MQTT_HOST":          func(c *Config, v string) { c.MQTT.Broker.Host = v },
	"GRAYLOGIC_MQTT_USERNAME":      func(c *Config, v string) { c.MQTT.Auth.Username = v },
	"GRAYLOGIC_MQTT_PASSWORD":      func(c *Config, v string) { c.MQTT.Auth.Password = v },
	"GRAYLOGIC_API_HOST":           func(c *Config, v string) { c.API.Host = v },
	"GRAYLOGIC_INFLUXDB_TOKEN":     func(c *Config, v string) { c.InfluxDB.Token = v },
	"GRAYLOGIC_JWT_SECRET":         func(c *Config, v string) { c.Security.JWT.Secret = v },
}

func applyEnvOverrides(cfg *Config) {
	for key, set := range envOverrides {
		if v := os.Getenv(key); v != "" {
			set(cfg, v)
		}
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

// minJWTSecretLength is the shortest accepted HMAC key.
const minJWTSecretLength = 32

// rules are checked in order; each returns a message when violated.
var rules = []func(*Config) string{
	func(c *Config) string {
		if c.Site.ID == "" {
			return "site.id is required"
		}
		return ""
	},
	func(c *Config) string {
		if c.Identity.SessionTimeout < 0 {
			return "identity.session_timeout must not be negative"
		}
		return ""
	},
	func(c *Config) string {
		l := c.Identity.LoginLimit
		if l.Enabled && (l.MaxAttempts < 1 || l.Window < 1) {
			return "identity.login_limit needs max_attempts and window of at least 1"
		}
		return ""
	},
	func(c *Config) string {
		if c.Database.Path == "" {
			return "database.path is required"
		}
		return ""
	},
	func(c *Config) string {
		switch c.Database.Driver {
		case "", "sqlite3", "sqlite":
			return ""
		}
		return fmt.Sprintf("database.driver %q is not supported (sqlite3, sqlite)", c.Database.Driver)
	},
	func(c *Config) string {
		if c.Redis.Enabled && c.Redis.Addr == "" {
			return "redis.addr is required when redis is enabled"
		}
		return ""
	},
	func(c *Config) string {
		if c.Redis.SessionStore && !c.Redis.Enabled {
			return "redis.session_store requires redis.enabled"
		}
		return ""
	},
	func(c *Config) string {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return "mqtt.qos must be 0, 1 or 2"
		}
		return ""
	},
	func(c *Config) string {
		if c.API.Port < 1 || c.API.Port > 65535 {
			return "api.port must be in 1-65535"
		}
		return ""
	},
	func(c *Config) string {
		// Anyone holding the key can mint an envelope for any user.
		switch n := len(c.Security.JWT.Secret); {
		case n == 0:
			return "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET)"
		case n < minJWTSecretLength:
			return fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength)
		}
		return ""
	},
}

// Validate reports every rule the configuration breaks in one error.
func (c *Config) Validate() error {
	var errs []string
	for _, rule := range rules {
		if msg := rule(c); msg != "" {
			errs = append(errs, msg)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CoreSeed returns the seed used to derive the core identity.
func (c *Config) CoreSeed() string {
	if c.Identity.CoreSeed != "" {
		return c.Identity.CoreSeed
	}
	return c.Site.ID
}
