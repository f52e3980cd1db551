// Package http wires the gateway's HTTP surface: health and metrics
// endpoints, tenant management routes, the chat upgrade endpoint, and
// mounted tenant-scoped resource handlers, all behind the shared
// middleware stack.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/simplecrm/pkg/authz"
	"github.com/rhuss/simplecrm/pkg/chat"
	"github.com/rhuss/simplecrm/pkg/observability"
	"github.com/rhuss/simplecrm/pkg/storage"
	"github.com/rhuss/simplecrm/pkg/tenant"
	"github.com/rhuss/simplecrm/pkg/transport"
)

// HealthChecker reports whether a dependency can serve traffic.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Deps are the collaborators the router serves.
type Deps struct {
	// Tenant authorizes tenant-scoped routes: verify, rate limit, resolve.
	Tenant *authz.Pipeline

	// Identity authorizes routes that need a caller but no tenant.
	Identity *authz.Pipeline

	Directory *tenant.Directory

	// Hub and Chat are nil when chat is disabled.
	Hub  *chat.Hub
	Chat http.Handler

	// Ready lists dependencies checked by /readyz, by name.
	Ready map[string]HealthChecker

	MetricsPath string // empty disables /metrics
	CORS        transport.CORSConfig
	Logger      *slog.Logger
}

// Router is the gateway's HTTP handler.
type Router struct {
	mux        *http.ServeMux
	deps       Deps
	tenantGate transport.Middleware
	handler    http.Handler
}

// NewRouter registers all built-in routes.
func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &Router{
		mux:        http.NewServeMux(),
		deps:       deps,
		tenantGate: authz.Middleware(deps.Tenant),
	}
	identityGate := authz.Middleware(deps.Identity)
	admin := transport.Chain(rt.tenantGate, authz.RequireRole(storage.RoleAdmin))

	rt.mux.HandleFunc("GET /healthz", handleHealthz)
	rt.mux.HandleFunc("GET /readyz", rt.handleReadyz)
	if deps.MetricsPath != "" {
		rt.mux.Handle("GET "+deps.MetricsPath, promhttp.Handler())
	}

	rt.mux.Handle("GET /api/tenants", identityGate(http.HandlerFunc(rt.handleListTenants)))
	rt.mux.Handle("GET /api/tenants/current", rt.tenantGate(http.HandlerFunc(handleCurrent)))
	rt.mux.Handle("PUT /api/tenants/{tenantID}/members/{subject}", admin(http.HandlerFunc(rt.handlePutMember)))
	rt.mux.Handle("DELETE /api/tenants/{tenantID}/members/{subject}", admin(http.HandlerFunc(rt.handleDeleteMember)))

	if deps.Hub != nil && deps.Chat != nil {
		rt.mux.Handle("GET /api/chat/presence", rt.tenantGate(http.HandlerFunc(rt.handlePresence)))
		// The gateway runs the pipeline itself during the handshake.
		rt.mux.Handle("GET /api/chat/ws", deps.Chat)
	}

	rt.handler = transport.Chain(
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(deps.Logger),
		transport.CORS(deps.CORS),
	)(observability.MetricsMiddleware(rt.mux))

	return rt
}

// Mount serves a tenant-scoped resource handler under prefix. Requests
// reach h only with a resolved authorization context.
func (rt *Router) Mount(prefix string, h http.Handler) {
	prefix = "/" + strings.Trim(prefix, "/")
	gated := rt.tenantGate(h)
	rt.mux.Handle(prefix, gated)
	rt.mux.Handle(prefix+"/", gated)
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (rt *Router) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(rt.deps.Ready))
	ready := true
	for name, hc := range rt.deps.Ready {
		if err := hc.HealthCheck(ctx); err != nil {
			rt.deps.Logger.Warn("readiness check failed", "dependency", name, "error", err)
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	transport.WriteJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}
