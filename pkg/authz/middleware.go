package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/simplecrm/pkg/api"
	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/storage"
	"github.com/rhuss/simplecrm/pkg/transport"
)

// TenantHeader carries the tenant a request acts on.
const TenantHeader = "X-Tenant-ID"

// TenantHint returns the tenant named by the request: the {tenantID} path
// value first, then the X-Tenant-ID header.
func TenantHint(r *http.Request) string {
	if v := r.PathValue("tenantID"); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get(TenantHeader))
}

// Middleware authorizes every request through p. Denied requests get the
// structured error for their kind; allowed requests carry the Context.
// Register it per route inside the mux so path values are available.
func Middleware(p *Pipeline) transport.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in := Input{
				Credential: auth.BearerCredential(r),
				TenantHint: TenantHint(r),
			}

			ac, err := p.Authorize(r.Context(), in)
			if err != nil {
				kind := KindOf(err)
				attrs := []any{
					"request_id", transport.RequestIDFromContext(r.Context()),
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"kind", kind.String(),
					"error", err,
				}
				if kind == KindServiceUnavailable {
					slog.Error("authorization unavailable", attrs...)
				} else {
					slog.Warn("authorization denied", attrs...)
				}
				transport.WriteAPIError(w, kind.APIError())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
		})
	}
}

// RequireRole rejects requests whose authorization context lacks min.
// It must run behind Middleware with a tenant gate.
func RequireRole(min storage.Role) transport.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := FromContext(r.Context())
			if ac == nil {
				transport.WriteAPIError(w, KindUnauthenticated.APIError())
				return
			}
			if !ac.HasRole(min) {
				transport.WriteAPIError(w, api.NewForbiddenError("requires role "+string(min)+" or higher"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
