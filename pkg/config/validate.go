package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rhuss/simplecrm/pkg/api"
	"github.com/rhuss/simplecrm/pkg/storage"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		add("environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Auth.Type {
	case "none":
		if c.IsProduction() {
			add("auth.type \"none\" is not allowed in production")
		}
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			add("auth.api_keys must not be empty when auth.type is \"apikey\"")
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" && c.Auth.JWT.JWKSURL == "" {
			add("auth.jwt.secret or auth.jwt.jwks_url is required when auth.type is \"jwt\"")
		}
	default:
		add("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type)
	}
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" && k.KeyFile == "" {
			add("auth.api_keys[%d].key or key_file is required", i)
		}
		if !api.ValidateSubject(k.Subject) {
			add("auth.api_keys[%d].subject %q is invalid", i, k.Subject)
		}
	}
	if c.Auth.RateLimit.DefaultRPM < 0 {
		add("auth.rate_limit.default_rpm must be >= 0")
	}

	switch c.Tenant.Cache {
	case "memory":
	case "redis":
		if c.Tenant.RedisURL == "" {
			add("tenant.redis_url is required when tenant.cache is \"redis\"")
		}
	default:
		add("tenant.cache must be \"memory\" or \"redis\", got %q", c.Tenant.Cache)
	}
	if c.Tenant.MaxAttempts < 1 {
		add("tenant.max_attempts must be >= 1, got %d", c.Tenant.MaxAttempts)
	}
	if c.Tenant.Timeout <= 0 {
		add("tenant.timeout must be > 0")
	}
	if c.Tenant.InitialBackoff < 0 {
		add("tenant.initial_backoff must be >= 0")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.ConnString() == "" && c.Storage.Postgres.DSNFile == "" {
			add("storage.postgres.dsn, dsn_file, or host is required when storage.type is \"postgres\"")
		}
	default:
		add("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type)
	}
	for i, t := range c.Storage.Seed {
		if !api.ValidateTenantID(t.ID) {
			add("storage.seed[%d].id %q is invalid", i, t.ID)
		}
		for j, m := range t.Members {
			if _, err := storage.ParseRole(m.Role); err != nil {
				add("storage.seed[%d].members[%d]: %v", i, j, err)
			}
		}
	}

	if c.Chat.Enabled {
		if c.Chat.IdleTimeout <= 0 {
			add("chat.idle_timeout must be > 0")
		}
		if c.Chat.PingInterval > 0 && c.Chat.PingInterval >= c.Chat.IdleTimeout {
			add("chat.ping_interval (%v) must be shorter than chat.idle_timeout (%v)", c.Chat.PingInterval, c.Chat.IdleTimeout)
		}
		if c.Chat.SendQueueSize < 1 {
			add("chat.send_queue_size must be >= 1")
		}
	}

	if c.IsProduction() && len(c.Origins()) == 0 {
		add("cors.frontend_url or cors.allowed_origins is required in production")
	}

	switch strings.ToLower(c.Observability.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add("observability.log.level must be one of trace, debug, info, warn, error, got %q", c.Observability.Log.Level)
	}
	switch c.Observability.Log.Format {
	case "text", "json":
	default:
		add("observability.log.format must be \"text\" or \"json\", got %q", c.Observability.Log.Format)
	}

	return errors.Join(errs...)
}
