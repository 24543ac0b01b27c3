package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over the built-in defaults, then applies
// .env and DEPTHMAP_* environment overrides. An empty path skips the file.
// The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads DEPTHMAP_* environment variables and overwrites the
// corresponding Config fields when a variable is set and non-empty. PORT and
// SYMBOL are honoured as short aliases.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.Symbol, "SYMBOL")
	setStr(&cfg.Feed.WSURL, "DEPTHMAP_FEED_WS_URL")
	setStr(&cfg.Feed.RESTURL, "DEPTHMAP_FEED_REST_URL")
	setStr(&cfg.Feed.Symbol, "DEPTHMAP_FEED_SYMBOL")
	setStr(&cfg.Feed.UpdateSpeed, "DEPTHMAP_FEED_UPDATE_SPEED")
	setBool(&cfg.Feed.ResyncOnGap, "DEPTHMAP_FEED_RESYNC_ON_GAP")
	setDuration(&cfg.Feed.ReconnectDelay, "DEPTHMAP_FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.MaxReconnectDelay, "DEPTHMAP_FEED_MAX_RECONNECT_DELAY")
	setDuration(&cfg.Feed.DialTimeout, "DEPTHMAP_FEED_DIAL_TIMEOUT")
	setInt(&cfg.Feed.SeedLimit, "DEPTHMAP_FEED_SEED_LIMIT")
	setDuration(&cfg.Feed.SeedTimeout, "DEPTHMAP_FEED_SEED_TIMEOUT")
	cfg.Feed.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Feed.Symbol))

	// ── Book / sampler ──
	setInt(&cfg.Book.PendingCap, "DEPTHMAP_BOOK_PENDING_CAP")
	setInt(&cfg.Book.Depth, "DEPTHMAP_BOOK_DEPTH")
	setDuration(&cfg.Sampler.Interval, "DEPTHMAP_SAMPLER_INTERVAL")
	setInt(&cfg.Sampler.QueueSize, "DEPTHMAP_SAMPLER_QUEUE_SIZE")
	setDuration(&cfg.Sampler.MirrorTTL, "DEPTHMAP_SAMPLER_MIRROR_TTL")

	// ── Retention ──
	setBool(&cfg.Retention.Enabled, "DEPTHMAP_RETENTION_ENABLED")
	setDuration(&cfg.Retention.Interval, "DEPTHMAP_RETENTION_INTERVAL")
	setDuration(&cfg.Retention.MaxAge, "DEPTHMAP_RETENTION_MAX_AGE")
	setDuration(&cfg.Retention.LockTTL, "DEPTHMAP_RETENTION_LOCK_TTL")
	setBool(&cfg.Retention.Archive, "DEPTHMAP_RETENTION_ARCHIVE")
	setInt(&cfg.Retention.ArchivePageSize, "DEPTHMAP_RETENTION_ARCHIVE_PAGE_SIZE")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "DEPTHMAP_STORAGE_DRIVER")
	setStr(&cfg.Postgres.DSN, "DEPTHMAP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DEPTHMAP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEPTHMAP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEPTHMAP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEPTHMAP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEPTHMAP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEPTHMAP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEPTHMAP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEPTHMAP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEPTHMAP_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.SQLite.Path, "DEPTHMAP_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEPTHMAP_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEPTHMAP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEPTHMAP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEPTHMAP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEPTHMAP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEPTHMAP_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "DEPTHMAP_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "DEPTHMAP_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEPTHMAP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEPTHMAP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEPTHMAP_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEPTHMAP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEPTHMAP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEPTHMAP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEPTHMAP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEPTHMAP_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "DEPTHMAP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEPTHMAP_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "DEPTHMAP_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DEPTHMAP_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.CacheTTL, "DEPTHMAP_SERVER_CACHE_TTL")

	// ── Top-level ──
	setBool(&cfg.Metrics.Enabled, "DEPTHMAP_METRICS_ENABLED")
	setStr(&cfg.Mode, "DEPTHMAP_MODE")
	setStr(&cfg.LogLevel, "DEPTHMAP_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
