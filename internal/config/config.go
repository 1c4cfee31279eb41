// Package config provides configuration management for the Unpaywall client.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "UNPAYWALL"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Cache store kinds.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// ExpiryNever disables cache expiration.
const ExpiryNever = "never"

// Config holds all configuration for the Unpaywall client.
type Config struct {
	// API contains remote service settings.
	API APIConfig `mapstructure:"api"`
	// Cache contains response cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Database contains PostgreSQL settings for the postgres cache store.
	Database DatabaseConfig `mapstructure:"database"`
	// Redis contains settings for the redis cache store.
	Redis RedisConfig `mapstructure:"redis"`
	// PDF contains PDF download settings.
	PDF PDFConfig `mapstructure:"pdf"`
	// Server contains HTTP server settings for the serve command.
	Server ServerConfig `mapstructure:"server"`
	// Scheduler contains the expired entry pruning schedule.
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig contains Unpaywall API settings.
type APIConfig struct {
	// BaseURL is the API root, e.g. https://api.unpaywall.org/v2.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// Email is the contact address sent with every request.
	// Loaded from UNPAYWALL_EMAIL only.
	Email string `mapstructure:"-"`
	// MandatoryWaitTime is the pause between two remote requests in seconds.
	MandatoryWaitTime float64 `mapstructure:"mandatory_wait_time" validate:"gte=0"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// MaxRetries is the number of retries on 429 and 5xx answers.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	// UserAgent is sent with every request.
	UserAgent string `mapstructure:"user_agent"`
	// Backend selects cache, remote or snapshot.
	Backend string `mapstructure:"backend" validate:"oneof=cache remote snapshot"`
	// SnapshotPath is the JSON-lines dump used by the snapshot backend.
	SnapshotPath string `mapstructure:"snapshot_path"`
	// ErrorMode is the default error mode, raise or ignore.
	ErrorMode string `mapstructure:"error_mode" validate:"oneof=raise ignore"`
}

// MandatoryWait returns the configured wait time as a duration.
func (c *APIConfig) MandatoryWait() time.Duration {
	return time.Duration(c.MandatoryWaitTime * float64(time.Second))
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	// Store is the persistence backend: file, postgres or redis.
	Store string `mapstructure:"store" validate:"oneof=file postgres redis"`
	// Path is the blob location: a file path, a table row key or a redis key.
	Path string `mapstructure:"path" validate:"required"`
	// Expiry is "never", an integer number of seconds or a Go duration.
	Expiry string `mapstructure:"expiry"`
	// Table is the postgres table holding cache blobs.
	Table string `mapstructure:"table" validate:"required"`
}

// ExpiryDuration parses Expiry. Zero means entries never expire.
func (c *CacheConfig) ExpiryDuration() (time.Duration, error) {
	return ParseExpiry(c.Expiry)
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	// SSLMode is one of disable, require, verify-ca, verify-full.
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	// Zero durations keep the pgxpool defaults.
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime" validate:"gte=0"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time" validate:"gte=0"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period" validate:"gte=0"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
	// MigrationsPath overrides the migrations compiled into the binary.
	MigrationsPath string `mapstructure:"migrations_path"`
	// AutoMigrate applies pending migrations when the postgres store opens.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	// Password is loaded from UNPAYWALL_REDIS_PASSWORD only.
	Password string        `mapstructure:"-"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PDFConfig contains PDF download settings.
type PDFConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxSize   int64         `mapstructure:"max_size" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent"`
	// AllowPrivateNetworks disables the SSRF guard. Tests only.
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the HTTP listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SchedulerConfig contains the cron schedule for pruning expired entries.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// PruneSchedule is a cron spec or descriptor such as "@every 1h".
	PruneSchedule string `mapstructure:"prune_schedule"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console pretty"`
	Output string `mapstructure:"output" validate:"oneof=stdout stderr"`
	// Caller adds the source location to every entry.
	Caller bool `mapstructure:"caller"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace" validate:"required"`
	// Textfile, when set, is written by the CLI on exit in the node exporter format.
	Textfile string `mapstructure:"textfile"`
}

// Load loads configuration from defaults, an optional config.yaml and environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is like Load but reads the given config file when path is not empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The wait time also honours the unprefixed variable used by older deployments.
	if err := v.BindEnv("api.mandatory_wait_time", "UNPAYWALL_API_MANDATORY_WAIT_TIME", "MANDATORY_WAIT_TIME"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/unpaywall")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates credential fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.API.Email = strings.TrimSpace(os.Getenv("UNPAYWALL_EMAIL"))
	cfg.Redis.Password = os.Getenv("UNPAYWALL_REDIS_PASSWORD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "https://api.unpaywall.org/v2")
	v.SetDefault("api.mandatory_wait_time", 1.0)
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.user_agent", "unpaywall-client/1.0")
	v.SetDefault("api.backend", "cache")
	v.SetDefault("api.snapshot_path", "")
	v.SetDefault("api.error_mode", "raise")

	// Cache defaults
	v.SetDefault("cache.store", StoreFile)
	v.SetDefault("cache.path", "unpaywall_cache")
	v.SetDefault("cache.expiry", ExpiryNever)
	v.SetDefault("cache.table", "response_cache_blobs")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "unpaywall")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "unpaywall")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "1m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migrations_path", "")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", "5s")

	// PDF defaults
	v.SetDefault("pdf.timeout", "60s")
	v.SetDefault("pdf.max_size", 100*1024*1024)
	v.SetDefault("pdf.user_agent", "unpaywall-client/1.0")
	v.SetDefault("pdf.allow_private_networks", false)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.prune_schedule", "@every 1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.caller", false)
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "unpaywall")
	v.SetDefault("metrics.textfile", "")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: %q fails %q", strings.ToLower(fe.Namespace()), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return err
	}

	if _, err := c.Cache.ExpiryDuration(); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.Port)
	}

	if c.Cache.Store == StorePostgres {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	}

	if c.Cache.Store == StoreRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.API.Backend == "snapshot" && c.API.SnapshotPath == "" {
		return fmt.Errorf("snapshot path is required for the snapshot backend")
	}

	if c.Scheduler.Enabled && c.Scheduler.PruneSchedule == "" {
		return fmt.Errorf("scheduler prune_schedule is required when the scheduler is enabled")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true,
		"error": true, "fatal": true, "panic": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// ParseExpiry parses a cache expiry setting: "never" (or empty), an integer
// number of seconds, or a Go duration string. Zero means never.
func ParseExpiry(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == ExpiryNever {
		return 0, nil
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs <= 0 || secs > math.MaxInt64/int64(time.Second) {
			return 0, fmt.Errorf("invalid cache expiry: %q", s)
		}
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid cache expiry: %q", s)
	}
	return d, nil
}
