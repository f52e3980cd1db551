package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/auth/apikey"
	"github.com/rhuss/simplecrm/pkg/auth/jwt"
	"github.com/rhuss/simplecrm/pkg/auth/noop"
	"github.com/rhuss/simplecrm/pkg/chat"
	"github.com/rhuss/simplecrm/pkg/chat/natsrelay"
	"github.com/rhuss/simplecrm/pkg/config"
	"github.com/rhuss/simplecrm/pkg/storage"
	"github.com/rhuss/simplecrm/pkg/storage/memory"
	"github.com/rhuss/simplecrm/pkg/storage/postgres"
	"github.com/rhuss/simplecrm/pkg/tenant"
	"github.com/rhuss/simplecrm/pkg/tenant/rediscache"
	transporthttp "github.com/rhuss/simplecrm/pkg/transport/http"
)

// membershipStore is what the gateway needs from a storage backend.
type membershipStore interface {
	tenant.MembershipReader
	tenant.MembershipWriter
	HealthCheck(ctx context.Context) error
	Close() error
}

type closableCache interface {
	tenant.Cache
	Close() error
}

// nopCloser wraps the in-process cache, which holds no external resources.
type nopCloser struct{ tenant.Cache }

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg *config.Config) (membershipStore, error) {
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.ConnString(),
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres")
		return pg, nil
	default:
		store := memory.New()
		if err := seedStore(ctx, store, cfg.Storage.Seed); err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "memory", "seed_tenants", len(cfg.Storage.Seed))
		return store, nil
	}
}

type seedWriter interface {
	CreateTenant(ctx context.Context, t storage.Tenant) error
	PutMember(ctx context.Context, m storage.Membership) error
}

// seedStore loads configured tenants and members. Tenants that already
// exist keep their data and only receive the listed members.
func seedStore(ctx context.Context, s seedWriter, seed []config.SeedTenant) error {
	for _, t := range seed {
		err := s.CreateTenant(ctx, storage.Tenant{ID: t.ID, Name: t.Name})
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("seeding tenant %q: %w", t.ID, err)
		}
		for _, m := range t.Members {
			role, err := storage.ParseRole(m.Role)
			if err != nil {
				return fmt.Errorf("seeding tenant %q: %w", t.ID, err)
			}
			if err := s.PutMember(ctx, storage.Membership{TenantID: t.ID, Subject: m.Subject, Role: role}); err != nil {
				return fmt.Errorf("seeding member %q of %q: %w", m.Subject, t.ID, err)
			}
		}
	}
	return nil
}

func openCache(ctx context.Context, cfg *config.Config) (closableCache, error) {
	if cfg.Tenant.Cache == "redis" {
		c, err := rediscache.New(ctx, cfg.Tenant.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("opening tenant cache: %w", err)
		}
		slog.Info("tenant cache enabled", "type", "redis", "ttl", cfg.Tenant.CacheTTL)
		return c, nil
	}
	slog.Info("tenant cache enabled", "type", "memory", "size", cfg.Tenant.CacheSize, "ttl", cfg.Tenant.CacheTTL)
	return nopCloser{tenant.NewMemoryCache(cfg.Tenant.CacheSize)}, nil
}

// buildAuthChain creates the credential verifier for the configured
// auth type. API keys are accepted alongside JWTs when both are set.
func buildAuthChain(cfg *config.Config) (*auth.Verifier, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Auth.Type {
	case "none":
		slog.Warn("authentication disabled, every caller is the development identity",
			"subject", cfg.Auth.Dev.Subject, "tenant", cfg.Auth.Dev.TenantID)
		chain.Authenticators = append(chain.Authenticators, noop.New(auth.Identity{
			Subject:       cfg.Auth.Dev.Subject,
			DefaultTenant: cfg.Auth.Dev.TenantID,
		}))
	case "jwt":
		j := cfg.Auth.JWT
		authn, err := jwt.New(jwt.Config{
			Secret:      j.Secret,
			JWKSURL:     j.JWKSURL,
			Issuer:      j.Issuer,
			Audience:    j.Audience,
			UserClaim:   j.UserClaim,
			NameClaim:   j.NameClaim,
			TenantClaim: j.TenantClaim,
			ScopesClaim: j.ScopesClaim,
			Leeway:      j.Leeway,
		})
		if err != nil {
			return nil, fmt.Errorf("creating jwt authenticator: %w", err)
		}
		chain.Authenticators = append(chain.Authenticators, authn)
	}

	if len(cfg.Auth.APIKeys) > 0 && cfg.Auth.Type != "none" {
		chain.Authenticators = append(chain.Authenticators, apikey.New(apiKeyEntries(cfg.Auth.APIKeys)))
	}

	return auth.NewVerifier(chain, cfg.Auth.Timeout), nil
}

func apiKeyEntries(keys []config.APIKeyConfig) []apikey.RawKeyEntry {
	entries := make([]apikey.RawKeyEntry, 0, len(keys))
	for _, k := range keys {
		tier := k.ServiceTier
		if tier == "" {
			tier = "default"
		}
		entries = append(entries, apikey.RawKeyEntry{
			Key: k.Key,
			Identity: auth.Identity{
				Subject:       k.Subject,
				DisplayName:   k.Name,
				DefaultTenant: k.TenantID,
				ServiceTier:   tier,
				Scopes:        k.Scopes,
			},
		})
	}
	return entries
}

// buildRateLimiter returns nil when rate limiting is disabled.
func buildRateLimiter(cfg *config.Config) auth.RateLimiter {
	rl := cfg.Auth.RateLimit
	if !rl.Enabled {
		return nil
	}
	tiers := make(map[string]auth.TierConfig, len(rl.Tiers))
	for name, rpm := range rl.Tiers {
		tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
	}
	return auth.NewInProcessLimiter(tiers, rl.DefaultRPM)
}

// startChat creates the hub and, when NATS is configured, connects the
// cross-replica relay. The returned func closes the relay.
func startChat(cfg *config.Config, ready map[string]transporthttp.HealthChecker) (*chat.Hub, func(), error) {
	hubCfg := chat.Config{
		AuthTimeout:     cfg.Chat.AuthTimeout,
		IdleTimeout:     cfg.Chat.IdleTimeout,
		PingInterval:    cfg.Chat.PingInterval,
		SendQueueSize:   cfg.Chat.SendQueueSize,
		MaxMessageBytes: cfg.Chat.MaxMessageBytes,
	}

	if cfg.Chat.NATS.URL == "" {
		slog.Info("chat enabled", "relay", "none")
		return chat.NewHub(hubCfg, nil), func() {}, nil
	}

	relay, err := natsrelay.Connect(cfg.Chat.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting chat relay: %w", err)
	}
	hub := chat.NewHub(hubCfg, relay)
	if err := relay.Start(hub); err != nil {
		relay.Close()
		return nil, nil, fmt.Errorf("starting chat relay: %w", err)
	}
	ready["relay"] = transporthttp.HealthCheckFunc(func(context.Context) error {
		if !relay.Healthy() {
			return errors.New("nats disconnected")
		}
		return nil
	})
	slog.Info("chat enabled", "relay", "nats", "instance", relay.InstanceID())

	return hub, func() {
		if err := relay.Close(); err != nil {
			slog.Warn("closing chat relay", "error", err)
		}
	}, nil
}

func resolverConfig(c config.TenantConfig) tenant.Config {
	return tenant.Config{
		CacheTTL:       c.CacheTTL,
		Timeout:        c.Timeout,
		AttemptTimeout: c.AttemptTimeout,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
	}
}
