// Package config defines the top-level ambient configuration for the
// copy-trading router and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by COPYROUTER_* environment
// variables.
type Config struct {
	Pool       PoolConfig       `toml:"pool"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Routing    RoutingConfig    `toml:"routing"`
	ControlBus ControlBusConfig `toml:"control_bus"`
	Notify     NotifyConfig     `toml:"notify"`
	Monitor    MonitorConfig    `toml:"monitor"`
	LogLevel   string           `toml:"log_level"`
}

// MonitorConfig selects the position-monitor backend used for every source
// account.
type MonitorConfig struct {
	Mode           string   `toml:"mode"` // "poll" | "stream"
	PollIntervalMs int64    `toml:"poll_interval_ms"`
	StreamSymbols  []string `toml:"stream_symbols"`
}

// PoolConfig addresses the external broker connection-pool service. BaseURL
// is required: its absence is fatal at start.
type PoolConfig struct {
	BaseURL    string   `toml:"base_url"`
	Timeout    duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
}

// RedisConfig holds state-store connection parameters (C1).
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the optional durable-history store's connection
// parameters. The durable store is enabled when either DSN or Host is set;
// Defaults sets Host, so it is off only when both are empty, and the router
// then runs on Redis state alone.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds the optional cold-storage archive target for aged metrics
// and reports. An empty Bucket disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RoutingConfig locates the routing configuration document.
type RoutingConfig struct {
	ConfigPath     string `toml:"config_path"`
	ExamplePath    string `toml:"example_path"`
	RetryIntervalMs int64  `toml:"retry_interval_ms"`
}

// ControlBusConfig configures the optional Redis pub/sub control channel.
type ControlBusConfig struct {
	Enabled    bool   `toml:"enabled"`
	Channel    string `toml:"channel"`
	HMACSecret string `toml:"hmac_secret"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds notification channel credentials. Absence of every
// credential disables C2; workers continue without notifications.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	SpamWindow        duration `toml:"spam_window"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Pool: PoolConfig{
			Timeout:    duration{30 * time.Second},
			MaxRetries: 3,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "copyrouter",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Routing: RoutingConfig{
			ConfigPath:      "routing.json",
			ExamplePath:     "routing.example.json",
			RetryIntervalMs: 60_000,
		},
		ControlBus: ControlBusConfig{
			Enabled: false,
			Channel: "routing:commands",
		},
		Notify: NotifyConfig{
			Events:     []string{"copy_success", "copy_failure", "filter_rejection", "exit", "orphan", "alert"},
			SpamWindow: duration{60 * time.Second},
		},
		Monitor: MonitorConfig{
			Mode:           "poll",
			PollIntervalMs: 1000,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found, rather than failing on
// the first.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Pool.BaseURL == "" {
		errs = append(errs, "pool: base_url must not be empty")
	}
	if c.Pool.MaxRetries < 0 {
		errs = append(errs, "pool: max_retries must be >= 0")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host != "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	if c.Routing.ConfigPath == "" {
		errs = append(errs, "routing: config_path must not be empty")
	}

	if c.ControlBus.Enabled && c.ControlBus.HMACSecret == "" {
		errs = append(errs, "control_bus: hmac_secret is required when control_bus.enabled is true")
	}

	switch c.Monitor.Mode {
	case "poll", "stream":
	default:
		errs = append(errs, fmt.Sprintf("monitor: unknown mode %q (valid: poll, stream)", c.Monitor.Mode))
	}
	if c.Monitor.Mode == "poll" && c.Monitor.PollIntervalMs <= 0 {
		errs = append(errs, "monitor: poll_interval_ms must be > 0 in poll mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
