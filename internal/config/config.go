// Package config defines the configuration of the depth-map service and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEPTHMAP_* environment variables.
type Config struct {
	Feed      FeedConfig      `toml:"feed"`
	Book      BookConfig      `toml:"book"`
	Sampler   SamplerConfig   `toml:"sampler"`
	Retention RetentionConfig `toml:"retention"`
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// FeedConfig selects the exchange stream and how it is kept alive.
type FeedConfig struct {
	WSURL   string `toml:"ws_url"`
	RESTURL string `toml:"rest_url"`
	Symbol  string `toml:"symbol"`
	// UpdateSpeed is "100ms" for the fast diff stream or empty for 1s.
	UpdateSpeed string `toml:"update_speed"`
	ResyncOnGap bool   `toml:"resync_on_gap"`

	ReconnectDelay duration `toml:"reconnect_delay"`
	// MaxReconnectDelay above ReconnectDelay switches to exponential backoff.
	MaxReconnectDelay duration `toml:"max_reconnect_delay"`
	DialTimeout       duration `toml:"dial_timeout"`

	SeedLimit   int      `toml:"seed_limit"`
	SeedTimeout duration `toml:"seed_timeout"`
}

// BookConfig sizes the in-memory replica.
type BookConfig struct {
	PendingCap int `toml:"pending_cap"`
	Depth      int `toml:"depth"`
}

// SamplerConfig controls snapshot materialization.
type SamplerConfig struct {
	Interval  duration `toml:"interval"`
	QueueSize int      `toml:"queue_size"`
	MirrorTTL duration `toml:"mirror_ttl"`
}

// RetentionConfig controls pruning and archiving of old snapshots.
type RetentionConfig struct {
	Enabled         bool     `toml:"enabled"`
	Interval        duration `toml:"interval"`
	MaxAge          duration `toml:"max_age"`
	LockTTL         duration `toml:"lock_ttl"`
	Archive         bool     `toml:"archive"`
	ArchivePageSize int      `toml:"archive_page_size"`
}

// StorageConfig picks the snapshot store.
type StorageConfig struct {
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "500ms", "168h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values. Values from
// a TOML file are decoded on top of these defaults.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			WSURL:          "wss://stream.binance.com:9443",
			RESTURL:        "https://api.binance.com",
			Symbol:         "TRXUSDT",
			ReconnectDelay: duration{2 * time.Second},
			DialTimeout:    duration{15 * time.Second},
			SeedLimit:      1000,
			SeedTimeout:    duration{10 * time.Second},
		},
		Book: BookConfig{
			PendingCap: 1000,
			Depth:      500,
		},
		Sampler: SamplerConfig{
			Interval:  duration{500 * time.Millisecond},
			QueueSize: 64,
			MirrorTTL: duration{30 * time.Second},
		},
		Retention: RetentionConfig{
			Enabled:         true,
			Interval:        duration{time.Hour},
			MaxAge:          duration{7 * 24 * time.Hour},
			LockTTL:         duration{10 * time.Minute},
			ArchivePageSize: 500,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "depthmap",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "orderbook_heatmap.db",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    10,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "depthmap-archive",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        3500,
			CORSOrigins: []string{},
			RateWindow:  duration{time.Second},
			CacheTTL:    duration{5 * time.Second},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"ingest": true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSeedLimits are the depth limits the REST endpoint accepts.
var validSeedLimits = map[int]bool{5: true, 10: true, 20: true, 50: true, 100: true, 500: true, 1000: true, 5000: true}

// Ingests reports whether the mode runs the feed, sampler and pruner.
func (c *Config) Ingests() bool {
	m := strings.ToLower(c.Mode)
	return m == "ingest" || m == "full"
}

// Serves reports whether the mode runs the HTTP API.
func (c *Config) Serves() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: ingest, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if strings.TrimSpace(c.Feed.Symbol) == "" {
		errs = append(errs, "feed: symbol must not be empty")
	}
	if c.Ingests() {
		if c.Feed.WSURL == "" {
			errs = append(errs, "feed: ws_url must not be empty")
		}
		if c.Feed.RESTURL == "" {
			errs = append(errs, "feed: rest_url must not be empty")
		}
		if c.Feed.UpdateSpeed != "" && c.Feed.UpdateSpeed != "100ms" {
			errs = append(errs, fmt.Sprintf("feed: update_speed must be empty or \"100ms\", got %q", c.Feed.UpdateSpeed))
		}
		if c.Feed.ReconnectDelay.Duration <= 0 {
			errs = append(errs, "feed: reconnect_delay must be > 0")
		}
		if c.Feed.DialTimeout.Duration <= 0 {
			errs = append(errs, "feed: dial_timeout must be > 0")
		}
		if !validSeedLimits[c.Feed.SeedLimit] {
			errs = append(errs, fmt.Sprintf("feed: seed_limit %d not accepted by the exchange (5, 10, 20, 50, 100, 500, 1000, 5000)", c.Feed.SeedLimit))
		}
		if c.Feed.SeedTimeout.Duration <= 0 {
			errs = append(errs, "feed: seed_timeout must be > 0")
		}

		// Book and sampler
		if c.Book.PendingCap < 1 {
			errs = append(errs, "book: pending_cap must be >= 1")
		}
		if c.Book.Depth < 1 {
			errs = append(errs, "book: depth must be >= 1")
		}
		if c.Sampler.Interval.Duration <= 0 {
			errs = append(errs, "sampler: interval must be > 0")
		}
		if c.Sampler.QueueSize < 1 {
			errs = append(errs, "sampler: queue_size must be >= 1")
		}

		// Retention
		if c.Retention.Enabled {
			if c.Retention.Interval.Duration <= 0 {
				errs = append(errs, "retention: interval must be > 0")
			}
			if c.Retention.MaxAge.Duration <= 0 {
				errs = append(errs, "retention: max_age must be > 0")
			}
			if c.Retention.Archive && !c.S3.Enabled {
				errs = append(errs, "retention: archive requires s3.enabled")
			}
		}
	}

	// Storage
	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, sqlite)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Serves() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 {
			if !c.Redis.Enabled {
				errs = append(errs, "server: rate_limit requires redis.enabled")
			}
			if c.Server.RateWindow.Duration <= 0 {
				errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
