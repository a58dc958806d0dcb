// Package config handles hub configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// knownWeakSecrets is a blocklist of secrets that must never be used in production.
var knownWeakSecrets = map[string]bool{
	"local-dev-secret-for-testing-only-32chars!": true,
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a cryptographically random 64-character hex string
// suitable for use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level hub configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Realtime  RealtimeConfig  `json:"realtime,omitempty"`
	Redis     RedisConfig     `json:"redis,omitempty"`
	Retention RetentionConfig `json:"retention,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// ServerConfig defines the hub's listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`                      // e.g. ":8000"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS + WebSocket origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // max request body size; default 1MB
}

// DatabaseConfig defines database settings.
type DatabaseConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // e.g. "healthhub.db" or ":memory:"
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Provider         string        `json:"provider,omitempty"` // "builtin" (default) or "supabase"
	JWTSecret        string        `json:"jwt_secret,omitempty"`
	JWTExpiry        Duration      `json:"jwt_expiry,omitempty"`
	SupabaseJWKSURL  string        `json:"supabase_jwks_url,omitempty"`  // e.g. "https://<ref>.supabase.co/auth/v1/.well-known/jwks.json"
	SupabaseIssuer   string        `json:"supabase_issuer,omitempty"`    // e.g. "https://<ref>.supabase.co/auth/v1"
	SupabaseAudience string        `json:"supabase_audience,omitempty"`  // default "authenticated"
	InitialAdmin     *InitialAdmin `json:"initial_admin,omitempty"`
}

// InitialAdmin is used to bootstrap the first admin user.
type InitialAdmin struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

// RateLimitConfig defines request admission settings.
//
// RequestsPerMinute and BurstSize must be explicitly configured and positive;
// a non-positive value aborts startup rather than being silently defaulted.
type RateLimitConfig struct {
	Strategy          string   `json:"strategy,omitempty"` // "sliding" (default) or "tiered"
	RequestsPerMinute int      `json:"requests_per_minute"`
	BurstSize         int      `json:"burst_size"`
	RequestsPerHour   int      `json:"requests_per_hour,omitempty"` // tiered strategy only
	RequestsPerDay    int      `json:"requests_per_day,omitempty"`  // tiered strategy only
	IdleTTL           Duration `json:"idle_ttl,omitempty"`          // evict idle client state after this; 0 disables
	CleanupInterval   Duration `json:"cleanup_interval,omitempty"`  // janitor cadence; default 2m
}

// RealtimeConfig defines WebSocket and fan-out behavior.
type RealtimeConfig struct {
	SendTimeout     Duration `json:"send_timeout,omitempty"`      // per-channel write deadline; default 5s
	PingInterval    Duration `json:"ping_interval,omitempty"`     // keepalive ping cadence; default 30s
	PongWait        Duration `json:"pong_wait,omitempty"`         // read deadline after last pong; default 60s
	MaxMessageBytes int64    `json:"max_message_bytes,omitempty"` // max WebSocket message from client; default 64KB
	PresenceRole    string   `json:"presence_role,omitempty"`     // role notified of online/offline; default "hospital_staff"
	FrameRate       float64  `json:"frame_rate,omitempty"`        // inbound frames/sec per connection; default 10
	FrameBurst      int      `json:"frame_burst,omitempty"`       // default 20
}

// RedisConfig enables the optional Redis-backed admission stats sink.
type RedisConfig struct {
	URL         string `json:"url,omitempty"`          // e.g. "redis://localhost:6379/0"; empty disables
	StatsPrefix string `json:"stats_prefix,omitempty"` // default "healthhub:ratelimit"
}

// RetentionConfig defines audit log retention.
type RetentionConfig struct {
	AuditMaxAge   Duration `json:"audit_max_age,omitempty"`  // default 30 days
	PurgeInterval Duration `json:"purge_interval,omitempty"` // default 1h
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	// JWTSecret is only required for the builtin auth provider.
	if (c.Auth.Provider == "" || c.Auth.Provider == "builtin") && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	if c.Auth.Provider == "supabase" {
		if c.Auth.SupabaseJWKSURL == "" {
			return fmt.Errorf("auth.supabase_jwks_url is required when provider is supabase")
		}
		if c.Auth.SupabaseIssuer == "" {
			return fmt.Errorf("auth.supabase_issuer is required when provider is supabase")
		}
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive, got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive, got %d", c.RateLimit.BurstSize)
	}
	switch c.RateLimit.Strategy {
	case "", "sliding":
	case "tiered":
		if c.RateLimit.RequestsPerHour <= 0 {
			return fmt.Errorf("rate_limit.requests_per_hour must be positive for the tiered strategy")
		}
		if c.RateLimit.RequestsPerDay <= 0 {
			return fmt.Errorf("rate_limit.requests_per_day must be positive for the tiered strategy")
		}
	default:
		return fmt.Errorf("rate_limit.strategy must be sliding or tiered, got %q", c.RateLimit.Strategy)
	}
	if c.RateLimit.IdleTTL.Duration < 0 {
		return fmt.Errorf("rate_limit.idle_ttl must not be negative")
	}
	if c.Realtime.PresenceRole != "" && !validRole(c.Realtime.PresenceRole) {
		return fmt.Errorf("realtime.presence_role %q is not a known role", c.Realtime.PresenceRole)
	}
	return nil
}

func validRole(role string) bool {
	switch role {
	case "patient", "hospital_staff", "pharmacy_staff", "admin":
		return true
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Auth.SupabaseAudience == "" {
		c.Auth.SupabaseAudience = "authenticated"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" {
		c.Database.DSN = "healthhub.db"
	}
	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = "sliding"
	}
	if c.RateLimit.CleanupInterval.Duration == 0 {
		c.RateLimit.CleanupInterval.Duration = 2 * time.Minute
	}
	if c.Realtime.SendTimeout.Duration == 0 {
		c.Realtime.SendTimeout.Duration = 5 * time.Second
	}
	if c.Realtime.PingInterval.Duration == 0 {
		c.Realtime.PingInterval.Duration = 30 * time.Second
	}
	if c.Realtime.PongWait.Duration == 0 {
		c.Realtime.PongWait.Duration = 60 * time.Second
	}
	if c.Realtime.MaxMessageBytes == 0 {
		c.Realtime.MaxMessageBytes = 64 * 1024 // 64KB
	}
	if c.Realtime.PresenceRole == "" {
		c.Realtime.PresenceRole = "hospital_staff"
	}
	if c.Realtime.FrameRate == 0 {
		c.Realtime.FrameRate = 10
	}
	if c.Realtime.FrameBurst == 0 {
		c.Realtime.FrameBurst = 20
	}
	if c.Redis.StatsPrefix == "" {
		c.Redis.StatsPrefix = "healthhub:ratelimit"
	}
	if c.Retention.AuditMaxAge.Duration == 0 {
		c.Retention.AuditMaxAge.Duration = 30 * 24 * time.Hour // 30 days
	}
	if c.Retention.PurgeInterval.Duration == 0 {
		c.Retention.PurgeInterval.Duration = 1 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
}
