// Command server runs the simplecrm gateway: tenant-aware authorization in
// front of the CRM API and the realtime chat endpoint.
//
// Configuration is read from a YAML file (-config, SIMPLECRM_CONFIG, ./config.yaml
// or /etc/simplecrm/config.yaml) and overridden by SIMPLECRM_* environment
// variables. The legacy variables NODE_ENV, PORT, JWT_SECRET, FRONTEND_URL
// and DB_* are honored as well.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/rhuss/simplecrm/pkg/authz"
	"github.com/rhuss/simplecrm/pkg/chat"
	"github.com/rhuss/simplecrm/pkg/config"
	"github.com/rhuss/simplecrm/pkg/debug"
	"github.com/rhuss/simplecrm/pkg/tenant"
	transporthttp "github.com/rhuss/simplecrm/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	unknown := debug.Init(debug.Settings{
		Categories: cfg.Observability.Log.Debug,
		Level:      cfg.Observability.Log.Level,
		Format:     cfg.Observability.Log.Format,
	})
	if len(unknown) > 0 {
		slog.Warn("unknown debug categories", "categories", unknown, "known", debug.KnownCategories)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	chain, err := buildAuthChain(cfg)
	if err != nil {
		return err
	}

	resolver := tenant.NewResolver(store, cache, resolverConfig(cfg.Tenant))
	identity, full := buildPipelines(cfg, chain, resolver)

	ready := map[string]transporthttp.HealthChecker{"store": store}
	if hc, ok := cache.(transporthttp.HealthChecker); ok {
		ready["cache"] = hc
	}

	deps := transporthttp.Deps{
		Tenant:    full,
		Identity:  identity,
		Directory: tenant.NewDirectory(store, resolver),
		Ready:     ready,
		CORS:      cfg.CORSPolicy(),
		Logger:    slog.Default(),
	}
	if cfg.Observability.Metrics.Enabled {
		deps.MetricsPath = cfg.Observability.Metrics.Path
	}

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithReadTimeout(cfg.Server.ReadTimeout),
		transporthttp.WithWriteTimeout(cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	}

	if cfg.Chat.Enabled {
		hub, closeRelay, err := startChat(cfg, ready)
		if err != nil {
			return err
		}
		defer closeRelay()

		deps.Hub = hub
		deps.Chat = chat.NewGateway(hub, full, deps.CORS.CheckOrigin)
		opts = append(opts, transporthttp.WithShutdownHook(hub.Shutdown))
	}

	router := transporthttp.NewRouter(deps)
	srv := transporthttp.NewServer(router, opts...)

	slog.Info("simplecrm starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"auth", cfg.Auth.Type,
		"storage", cfg.Storage.Type,
		"tenant_cache", cfg.Tenant.Cache,
		"chat", cfg.Chat.Enabled,
	)
	return srv.Run(ctx)
}

// buildPipelines returns the identity-only pipeline and the full
// verify, rate limit, resolve pipeline.
func buildPipelines(cfg *config.Config, chain authz.CredentialVerifier, resolver *tenant.Resolver) (identity, full *authz.Pipeline) {
	gates := []authz.Gate{authz.VerifyCredential(chain)}
	if limiter := buildRateLimiter(cfg); limiter != nil {
		gates = append(gates, authz.RateLimit(limiter))
	}
	identity = authz.NewPipeline(gates...)
	full = authz.NewPipeline(append(slices.Clone(gates), authz.ResolveTenant(resolver))...)
	return identity, full
}
