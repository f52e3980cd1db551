// Package config provides unified configuration for the simplecrm gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Legacy environment variables (PORT, JWT_SECRET, FRONTEND_URL, NODE_ENV, DB_*)
//  4. Environment variable overrides (SIMPLECRM_ prefix)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
//
// The result is read once at startup and never mutated afterwards.
package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/simplecrm/pkg/transport"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all configuration for the simplecrm gateway.
type Config struct {
	Environment   string              `yaml:"environment"` // "development" or "production", default: "development"
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Tenant        TenantConfig        `yaml:"tenant"`
	Storage       StorageConfig       `yaml:"storage"`
	Chat          ChatConfig          `yaml:"chat"`
	CORS          CORSConfig          `yaml:"cors"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 0 (none); chat frames set their own deadline
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 15s
}

// AuthConfig holds credential verification settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`    // "none", "apikey", "jwt", default: "none"
	Timeout   time.Duration   `yaml:"timeout"` // default: 2s
	JWT       JWTConfig       `yaml:"jwt"`
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // also accepted after JWT when type=jwt
	Dev       DevConfig       `yaml:"dev"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Secret      string        `yaml:"secret"`
	SecretFile  string        `yaml:"secret_file"` // _file variant for secret
	JWKSURL     string        `yaml:"jwks_url"`
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	UserClaim   string        `yaml:"user_claim"`   // default: "sub"
	NameClaim   string        `yaml:"name_claim"`   // default: "name"
	TenantClaim string        `yaml:"tenant_claim"` // default: "tenant_id"
	ScopesClaim string        `yaml:"scopes_claim"` // default: "scope"
	Leeway      time.Duration `yaml:"leeway"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	Name        string   `yaml:"name" json:"name"`
	TenantID    string   `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
}

// DevConfig is the identity used when auth.type is "none".
type DevConfig struct {
	Subject  string `yaml:"subject"`
	TenantID string `yaml:"tenant_id"`
}

// RateLimitConfig holds per-tier request budgets.
type RateLimitConfig struct {
	Enabled    bool           `yaml:"enabled"`
	DefaultRPM int            `yaml:"default_rpm"` // default: 600
	Tiers      map[string]int `yaml:"tiers"`       // tier -> requests per minute
}

// TenantConfig holds tenant resolution settings.
type TenantConfig struct {
	Cache          string        `yaml:"cache"`           // "memory" or "redis", default: "memory"
	CacheSize      int           `yaml:"cache_size"`      // memory cache, default: 10000
	CacheTTL       time.Duration `yaml:"cache_ttl"`       // default: 30s, negative disables
	RedisURL       string        `yaml:"redis_url"`       // required for cache=redis
	Timeout        time.Duration `yaml:"timeout"`         // default: 2s
	AttemptTimeout time.Duration `yaml:"attempt_timeout"` // default: 500ms
	MaxAttempts    int           `yaml:"max_attempts"`    // default: 3
	InitialBackoff time.Duration `yaml:"initial_backoff"` // default: 50ms
}

// StorageConfig holds membership store settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
	Seed     []SeedTenant   `yaml:"seed"` // loaded into the memory store at startup
}

// SeedTenant is a tenant with its initial members.
type SeedTenant struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	Members []SeedMember `yaml:"members"`
}

// SeedMember is one membership in a SeedTenant.
type SeedMember struct {
	Subject string `yaml:"subject"`
	Role    string `yaml:"role"`
}

// PostgresConfig holds PostgreSQL-specific settings. Either DSN or the
// discrete connection fields are used.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"` // default: 5432
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PasswordFile   string `yaml:"password_file"` // _file variant for password
	Database       string `yaml:"database"`
	SSLMode        string `yaml:"sslmode"`
	MaxConns       int32  `yaml:"max_conns"` // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// ConnString returns DSN, or a URL built from the discrete fields.
func (p PostgresConfig) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}
	if p.Host == "" {
		return ""
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}

// ChatConfig holds realtime chat gateway settings.
type ChatConfig struct {
	Enabled         bool          `yaml:"enabled"`           // default: true
	AuthTimeout     time.Duration `yaml:"auth_timeout"`      // default: 5s
	IdleTimeout     time.Duration `yaml:"idle_timeout"`      // default: 60s
	PingInterval    time.Duration `yaml:"ping_interval"`     // default: 90% of idle_timeout
	SendQueueSize   int           `yaml:"send_queue_size"`   // default: 64
	MaxMessageBytes int64         `yaml:"max_message_bytes"` // default: 65536
	NATS            NATSConfig    `yaml:"nats"`
}

// NATSConfig enables cross-replica chat relay.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// CORSConfig holds browser origin settings.
type CORSConfig struct {
	FrontendURL    string        `yaml:"frontend_url"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxAge         time.Duration `yaml:"max_age"` // default: 24h
}

// ObservabilityConfig holds monitoring and logging settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			Type:    "none",
			Timeout: 2 * time.Second,
			JWT: JWTConfig{
				UserClaim:   "sub",
				NameClaim:   "name",
				TenantClaim: "tenant_id",
				ScopesClaim: "scope",
			},
			RateLimit: RateLimitConfig{
				DefaultRPM: 600,
			},
		},
		Tenant: TenantConfig{
			Cache:          "memory",
			CacheSize:      10000,
			CacheTTL:       30 * time.Second,
			Timeout:        2 * time.Second,
			AttemptTimeout: 500 * time.Millisecond,
			MaxAttempts:    3,
			InitialBackoff: 50 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				Port:     5432,
				MaxConns: 10,
			},
		},
		Chat: ChatConfig{
			Enabled:         true,
			AuthTimeout:     5 * time.Second,
			IdleTimeout:     60 * time.Second,
			SendQueueSize:   64,
			MaxMessageBytes: 64 * 1024,
		},
		CORS: CORSConfig{
			MaxAge: 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Log: LogConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// IsProduction reports whether the gateway runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Origins returns the exact browser origins allowed in production.
func (c *Config) Origins() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(o string) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" && !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	add(c.CORS.FrontendURL)
	for _, o := range c.CORS.AllowedOrigins {
		add(o)
	}
	return out
}

// CORSPolicy resolves the CORS settings once for the HTTP layer.
// Development accepts any origin; production only the configured list.
func (c *Config) CORSPolicy() transport.CORSConfig {
	return transport.CORSConfig{
		AllowedOrigins: c.Origins(),
		AllowAnyOrigin: !c.IsProduction(),
		MaxAge:         c.CORS.MaxAge,
	}
}
