package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYROUTER_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYROUTER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Pool ──
	setStr(&cfg.Pool.BaseURL, "COPYROUTER_POOL_BASE_URL")
	setDuration(&cfg.Pool.Timeout, "COPYROUTER_POOL_TIMEOUT")
	setInt(&cfg.Pool.MaxRetries, "COPYROUTER_POOL_MAX_RETRIES")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COPYROUTER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYROUTER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYROUTER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYROUTER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYROUTER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYROUTER_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COPYROUTER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COPYROUTER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYROUTER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYROUTER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYROUTER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYROUTER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYROUTER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COPYROUTER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COPYROUTER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COPYROUTER_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COPYROUTER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYROUTER_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYROUTER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYROUTER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYROUTER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPYROUTER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPYROUTER_S3_FORCE_PATH_STYLE")

	// ── Routing ──
	setStr(&cfg.Routing.ConfigPath, "COPYROUTER_ROUTING_CONFIG_PATH")
	setStr(&cfg.Routing.ExamplePath, "COPYROUTER_ROUTING_EXAMPLE_PATH")
	setInt64(&cfg.Routing.RetryIntervalMs, "COPYROUTER_ROUTING_RETRY_INTERVAL_MS")

	// ── Control bus ──
	setBool(&cfg.ControlBus.Enabled, "COPYROUTER_CONTROL_BUS_ENABLED")
	setStr(&cfg.ControlBus.Channel, "COPYROUTER_CONTROL_BUS_CHANNEL")
	setStr(&cfg.ControlBus.HMACSecret, "COPYROUTER_CONTROL_BUS_HMAC_SECRET")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYROUTER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYROUTER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYROUTER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYROUTER_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.SpamWindow, "COPYROUTER_NOTIFY_SPAM_WINDOW")

	// ── Monitor ──
	setStr(&cfg.Monitor.Mode, "COPYROUTER_MONITOR_MODE")
	setInt64(&cfg.Monitor.PollIntervalMs, "COPYROUTER_MONITOR_POLL_INTERVAL_MS")
	setStringSlice(&cfg.Monitor.StreamSymbols, "COPYROUTER_MONITOR_STREAM_SYMBOLS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "COPYROUTER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
