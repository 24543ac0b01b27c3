package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ─── Helpers ───

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ─── Defaults ───

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.Feed.Symbol != "TRXUSDT" || cfg.Server.Port != 3500 {
		t.Fatalf("unexpected defaults: %s %d", cfg.Feed.Symbol, cfg.Server.Port)
	}
	if cfg.Sampler.Interval.Duration != 500*time.Millisecond {
		t.Fatalf("expected 500ms sampler interval, got %v", cfg.Sampler.Interval.Duration)
	}
	if cfg.Retention.MaxAge.Duration != 7*24*time.Hour {
		t.Fatalf("expected 7d retention, got %v", cfg.Retention.MaxAge.Duration)
	}
	if !cfg.Ingests() || !cfg.Serves() {
		t.Fatal("expected full mode to ingest and serve")
	}
}

// ─── Load ───

func TestLoad_FileOverDefaults(t *testing.T) {
	t.Setenv("SYMBOL", "")
	t.Setenv("DEPTHMAP_FEED_SYMBOL", "")
	t.Setenv("DEPTHMAP_MODE", "")
	path := writeTOML(t, `
mode = "ingest"

[feed]
symbol = "btcusdt"
resync_on_gap = true
reconnect_delay = "5s"

[sampler]
interval = "1s"

[storage]
driver = "postgres"

[postgres]
dsn = "postgres://u:p@db/depthmap"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != "ingest" || cfg.Serves() {
		t.Fatalf("expected ingest mode, got %s", cfg.Mode)
	}
	if cfg.Feed.Symbol != "BTCUSDT" {
		t.Fatalf("expected upper-cased symbol, got %s", cfg.Feed.Symbol)
	}
	if !cfg.Feed.ResyncOnGap || cfg.Feed.ReconnectDelay.Duration != 5*time.Second {
		t.Fatalf("unexpected feed config: %+v", cfg.Feed)
	}
	if cfg.Sampler.Interval.Duration != time.Second {
		t.Fatalf("expected 1s interval, got %v", cfg.Sampler.Interval.Duration)
	}
	// untouched sections keep their defaults
	if cfg.Book.Depth != 500 || cfg.Feed.SeedLimit != 1000 {
		t.Fatalf("expected defaults preserved, got depth=%d seed=%d", cfg.Book.Depth, cfg.Feed.SeedLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DEPTHMAP_SERVER_PORT", "9090")
	t.Setenv("SYMBOL", "ethusdt")
	t.Setenv("DEPTHMAP_RETENTION_MAX_AGE", "72h")
	t.Setenv("DEPTHMAP_SERVER_CORS_ORIGINS", " https://a.example.com , ,https://b.example.com")
	t.Setenv("DEPTHMAP_BOOK_DEPTH", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected prefixed var to win, got %d", cfg.Server.Port)
	}
	if cfg.Feed.Symbol != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT, got %s", cfg.Feed.Symbol)
	}
	if cfg.Retention.MaxAge.Duration != 72*time.Hour {
		t.Fatalf("expected 72h, got %v", cfg.Retention.MaxAge.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
	if cfg.Book.Depth != 500 {
		t.Fatalf("expected unparseable override ignored, got %d", cfg.Book.Depth)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeTOML(t, "[feed]\nsymbl = \"TRXUSDT\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "feed.symbl") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeTOML(t, "[sampler]\ninterval = \"fast\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

// ─── Validate ───

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Feed.SeedLimit = 42
	cfg.Storage.Driver = "mysql"
	cfg.Retention.Archive = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown log_level", "seed_limit 42", "unknown driver", "archive requires s3.enabled"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidate_ServerRules(t *testing.T) {
	cfg := Defaults()
	cfg.Server.RateLimit = 10
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "rate_limit requires redis.enabled") {
		t.Fatalf("expected redis requirement, got %v", err)
	}
	if !strings.Contains(err.Error(), "port must be 1-65535") {
		t.Fatalf("expected port error, got %v", err)
	}
}

func TestValidate_ServerModeSkipsFeedChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Feed.WSURL = ""
	cfg.Feed.SeedLimit = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected server mode to ignore feed settings, got %v", err)
	}
}

// ─── RedactedConfig ───

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "s3cr3t"
	cfg.Server.CORSOrigins = []string{"https://a.example.com"}

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != "***" || out.S3.SecretKey != "***" {
		t.Fatalf("expected secrets redacted, got %+v %+v", out.Postgres, out.S3)
	}
	if out.Redis.Password != "" {
		t.Fatal("expected empty secret to stay empty")
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Fatal("original config was mutated")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] != "https://a.example.com" {
		t.Fatal("origins slice shared with original")
	}
}
