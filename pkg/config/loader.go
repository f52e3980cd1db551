package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, SIMPLECRM_CONFIG env, ./config.yaml, /etc/simplecrm/config.yaml)
//  3. Legacy environment variables
//  4. SIMPLECRM_* environment variables
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyLegacyEnv(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. SIMPLECRM_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/simplecrm/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("SIMPLECRM_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/simplecrm/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyLegacyEnv maps the variable names earlier deployments of the CRM
// backend used. SIMPLECRM_* variables applied afterwards take precedence.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("NODE_ENV"); v != "" {
		if v == EnvProduction {
			cfg.Environment = EnvProduction
		} else {
			cfg.Environment = EnvDevelopment
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("ignoring malformed PORT", "value", v)
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWT.Secret = v
		if cfg.Auth.Type == "none" {
			cfg.Auth.Type = "jwt"
		}
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.CORS.FrontendURL = v
	}

	pg := &cfg.Storage.Postgres
	if v := os.Getenv("DB_HOST"); v != "" {
		pg.Host = v
		cfg.Storage.Type = "postgres"
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			pg.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		pg.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		pg.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		pg.Database = v
	}
}

// applyEnvOverrides maps SIMPLECRM_* variables to config fields.
func applyEnvOverrides(cfg *Config) error {
	var err error
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" && err == nil {
			var n int
			if n, err = strconv.Atoi(v); err != nil {
				err = fmt.Errorf("%s: %w", name, err)
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" && err == nil {
			var d time.Duration
			if d, err = time.ParseDuration(v); err != nil {
				err = fmt.Errorf("%s: %w", name, err)
				return
			}
			*dst = d
		}
	}

	str("SIMPLECRM_ENVIRONMENT", &cfg.Environment)
	integer("SIMPLECRM_PORT", &cfg.Server.Port)

	str("SIMPLECRM_AUTH_TYPE", &cfg.Auth.Type)
	duration("SIMPLECRM_AUTH_TIMEOUT", &cfg.Auth.Timeout)
	str("SIMPLECRM_JWT_SECRET", &cfg.Auth.JWT.Secret)
	str("SIMPLECRM_JWKS_URL", &cfg.Auth.JWT.JWKSURL)
	str("SIMPLECRM_JWT_ISSUER", &cfg.Auth.JWT.Issuer)
	str("SIMPLECRM_JWT_AUDIENCE", &cfg.Auth.JWT.Audience)
	str("SIMPLECRM_JWT_NAME_CLAIM", &cfg.Auth.JWT.NameClaim)
	str("SIMPLECRM_JWT_SCOPES_CLAIM", &cfg.Auth.JWT.ScopesClaim)

	// SIMPLECRM_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("SIMPLECRM_API_KEYS"); v != "" {
		keys, perr := parseAPIKeysJSON(v)
		if perr != nil {
			return perr
		}
		cfg.Auth.APIKeys = keys
	}

	str("SIMPLECRM_TENANT_CACHE", &cfg.Tenant.Cache)
	duration("SIMPLECRM_TENANT_CACHE_TTL", &cfg.Tenant.CacheTTL)
	str("SIMPLECRM_REDIS_URL", &cfg.Tenant.RedisURL)
	duration("SIMPLECRM_TENANT_INITIAL_BACKOFF", &cfg.Tenant.InitialBackoff)

	str("SIMPLECRM_STORAGE", &cfg.Storage.Type)
	str("SIMPLECRM_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)

	str("SIMPLECRM_NATS_URL", &cfg.Chat.NATS.URL)
	duration("SIMPLECRM_CHAT_IDLE_TIMEOUT", &cfg.Chat.IdleTimeout)

	if v := os.Getenv("SIMPLECRM_CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	str("SIMPLECRM_LOG_FORMAT", &cfg.Observability.Log.Format)

	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing SIMPLECRM_API_KEYS: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
		{"storage.postgres.password_file", cfg.Storage.Postgres.PasswordFile, &cfg.Storage.Postgres.Password},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, struct {
			name  string
			file  string
			value *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
