package wizard

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vaenkat/health-ecosystem-hub/internal/config"
	"github.com/vaenkat/health-ecosystem-hub/pkg/cli"
)

func TestWizard_SQLite(t *testing.T) {
	input := strings.Join([]string{
		":9090",               // listen address
		"",                    // token provider: builtin (default)
		"ops@healthhub.dev",   // admin email
		"secretpass",          // admin password
		"1",                   // database: sqlite
		"./data/healthhub.db", // sqlite path
		"1",                   // strategy: sliding
		"120",                 // requests per minute
		"",                    // burst size (default 20)
		"5m",                  // idle client eviction
		"",                    // redis stats: no
	}, "\n") + "\n"

	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(input), Out: out}

	tmpDir := t.TempDir()
	outputPath := filepath.Join(tmpDir, "healthhub.json")

	w := New(p)
	if err := w.Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Auth.Provider != "builtin" {
		t.Errorf("auth.provider = %q, want %q", cfg.Auth.Provider, "builtin")
	}
	if cfg.Auth.JWTSecret == "" {
		t.Error("auth.jwt_secret is empty")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		t.Errorf("auth.jwt_secret length = %d, want >= 32", len(cfg.Auth.JWTSecret))
	}
	if cfg.Auth.InitialAdmin == nil {
		t.Fatal("auth.initial_admin is nil")
	}
	if cfg.Auth.InitialAdmin.Email != "ops@healthhub.dev" {
		t.Errorf("admin email = %q, want %q", cfg.Auth.InitialAdmin.Email, "ops@healthhub.dev")
	}
	if cfg.Auth.InitialAdmin.Password != "secretpass" {
		t.Errorf("admin password = %q, want %q", cfg.Auth.InitialAdmin.Password, "secretpass")
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database.driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if cfg.Database.DSN != "./data/healthhub.db" {
		t.Errorf("database.dsn = %q, want %q", cfg.Database.DSN, "./data/healthhub.db")
	}
	if cfg.RateLimit.Strategy != "sliding" {
		t.Errorf("rate_limit.strategy = %q, want %q", cfg.RateLimit.Strategy, "sliding")
	}
	if cfg.RateLimit.RequestsPerMinute != 120 {
		t.Errorf("rate_limit.requests_per_minute = %d, want 120", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.RateLimit.BurstSize != 20 {
		t.Errorf("rate_limit.burst_size = %d, want 20", cfg.RateLimit.BurstSize)
	}
	if cfg.RateLimit.IdleTTL.Duration != 5*time.Minute {
		t.Errorf("rate_limit.idle_ttl = %v, want 5m", cfg.RateLimit.IdleTTL.Duration)
	}
	if cfg.Redis.URL != "" {
		t.Errorf("redis.url = %q, want empty", cfg.Redis.URL)
	}

	// The generated file must pass the loader's validation as-is.
	if _, err := config.Load(outputPath); err != nil {
		t.Errorf("config.Load on wizard output: %v", err)
	}
}

func TestWizard_TieredPostgres(t *testing.T) {
	input := strings.Join([]string{
		"",     // listen address (default :8000)
		"1",    // token provider: builtin
		"",     // admin email (default)
		"pass123", // admin password
		"2",    // database: postgres
		"postgres://hub:pass@db:5432/healthhub", // DSN
		"2",    // strategy: tiered
		"",     // requests per minute (default 100)
		"",     // burst size (default 20)
		"2000", // requests per hour
		"",     // requests per day (default 10000)
		"0s",   // idle client eviction disabled
		"y",    // redis stats: yes
		"",     // redis URL (default)
	}, "\n") + "\n"

	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(input), Out: out}

	outputPath := filepath.Join(t.TempDir(), "healthhub.json")

	w := New(p)
	if err := w.Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if cfg.Server.Addr != ":8000" {
		t.Errorf("server.addr = %q, want %q", cfg.Server.Addr, ":8000")
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("database.driver = %q, want %q", cfg.Database.Driver, "postgres")
	}
	if cfg.Database.DSN != "postgres://hub:pass@db:5432/healthhub" {
		t.Errorf("database.dsn = %q, want %q", cfg.Database.DSN, "postgres://hub:pass@db:5432/healthhub")
	}
	if cfg.RateLimit.Strategy != "tiered" {
		t.Errorf("rate_limit.strategy = %q, want %q", cfg.RateLimit.Strategy, "tiered")
	}
	if cfg.RateLimit.RequestsPerMinute != 100 {
		t.Errorf("rate_limit.requests_per_minute = %d, want 100", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.RateLimit.RequestsPerHour != 2000 {
		t.Errorf("rate_limit.requests_per_hour = %d, want 2000", cfg.RateLimit.RequestsPerHour)
	}
	if cfg.RateLimit.RequestsPerDay != 10000 {
		t.Errorf("rate_limit.requests_per_day = %d, want 10000", cfg.RateLimit.RequestsPerDay)
	}
	if cfg.RateLimit.IdleTTL.Duration != 0 {
		t.Errorf("rate_limit.idle_ttl = %v, want 0s", cfg.RateLimit.IdleTTL.Duration)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("redis.url = %q, want default", cfg.Redis.URL)
	}
}

func TestWizard_Supabase(t *testing.T) {
	input := strings.Join([]string{
		"",  // listen address
		"2", // token provider: supabase
		"https://proj.supabase.co/auth/v1/.well-known/jwks.json", // JWKS URL
		"https://proj.supabase.co/auth/v1",                       // issuer
		"1", // database: sqlite
		"",  // sqlite path (default)
		"1", // strategy: sliding
		"",  // requests per minute
		"",  // burst size
		"",  // idle client eviction (default)
		"",  // redis stats: no
	}, "\n") + "\n"

	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(input), Out: out}

	outputPath := filepath.Join(t.TempDir(), "healthhub.json")

	w := New(p)
	if err := w.Run(outputPath); err != nil {
		t.Fatalf("wizard.Run() error: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if cfg.Auth.Provider != "supabase" {
		t.Errorf("auth.provider = %q, want %q", cfg.Auth.Provider, "supabase")
	}
	if cfg.Auth.SupabaseJWKSURL != "https://proj.supabase.co/auth/v1/.well-known/jwks.json" {
		t.Errorf("supabase_jwks_url = %q", cfg.Auth.SupabaseJWKSURL)
	}
	if cfg.Auth.SupabaseIssuer != "https://proj.supabase.co/auth/v1" {
		t.Errorf("supabase_issuer = %q", cfg.Auth.SupabaseIssuer)
	}
	if cfg.Auth.JWTSecret != "" {
		t.Errorf("auth.jwt_secret = %q, want empty for supabase", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.InitialAdmin != nil {
		t.Error("auth.initial_admin should be nil for supabase")
	}

	if _, err := config.Load(outputPath); err != nil {
		t.Errorf("config.Load on wizard output: %v", err)
	}
}

func TestWizard_RunDefaults(t *testing.T) {
	t.Setenv("HEALTHHUB_ADDR", ":7001")
	t.Setenv("HEALTHHUB_ADMIN_EMAIL", "root@hospital.org")
	t.Setenv("HEALTHHUB_ADMIN_PASSWORD", "env-pass-123")

	out := &bytes.Buffer{}
	p := &cli.Prompter{In: strings.NewReader(""), Out: out}

	outputPath := filepath.Join(t.TempDir(), "healthhub.json")

	w := New(p)
	if err := w.RunDefaults(outputPath); err != nil {
		t.Fatalf("wizard.RunDefaults() error: %v", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if cfg.Server.Addr != ":7001" {
		t.Errorf("server.addr = %q, want %q", cfg.Server.Addr, ":7001")
	}
	if cfg.Auth.InitialAdmin == nil {
		t.Fatal("auth.initial_admin is nil")
	}
	if cfg.Auth.InitialAdmin.Email != "root@hospital.org" {
		t.Errorf("admin email = %q, want env value", cfg.Auth.InitialAdmin.Email)
	}
	if cfg.Auth.InitialAdmin.Password != "env-pass-123" {
		t.Errorf("admin password = %q, want env value", cfg.Auth.InitialAdmin.Password)
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		t.Errorf("auth.jwt_secret length = %d, want >= 32", len(cfg.Auth.JWTSecret))
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database.driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if cfg.RateLimit.RequestsPerMinute != 100 {
		t.Errorf("rate_limit.requests_per_minute = %d, want 100", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.RateLimit.BurstSize != 20 {
		t.Errorf("rate_limit.burst_size = %d, want 20", cfg.RateLimit.BurstSize)
	}

	if _, err := config.Load(outputPath); err != nil {
		t.Errorf("config.Load on generated output: %v", err)
	}
}

func TestWizard_RunDefaultsPostgresRequiresDSN(t *testing.T) {
	t.Setenv("HEALTHHUB_DB_DRIVER", "postgres")
	t.Setenv("HEALTHHUB_DB_DSN", "")

	p := &cli.Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}

	w := New(p)
	err := w.RunDefaults(filepath.Join(t.TempDir(), "healthhub.json"))
	if err == nil {
		t.Fatal("RunDefaults() with postgres and no DSN should fail")
	}
	if !strings.Contains(err.Error(), "HEALTHHUB_DB_DSN") {
		t.Errorf("error = %v, want mention of HEALTHHUB_DB_DSN", err)
	}
}
