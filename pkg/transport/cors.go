package transport

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/cors"
)

// CORSConfig is resolved once at startup from configuration and never
// mutated afterwards.
type CORSConfig struct {
	// AllowedOrigins lists exact origins (scheme://host[:port]).
	AllowedOrigins []string

	// AllowAnyOrigin reflects every origin. Only set in development.
	AllowAnyOrigin bool

	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

// DefaultCORSMethods and DefaultCORSHeaders cover the CRM API surface.
var (
	DefaultCORSMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	DefaultCORSHeaders = []string{"Content-Type", "Authorization", "X-Requested-With", "X-Tenant-ID", RequestIDHeader}
)

// AllowOrigin reports whether a browser origin may call the API. Requests
// without an Origin header (curl, server-to-server) are always allowed.
func (c CORSConfig) AllowOrigin(origin string) bool {
	if origin == "" || c.AllowAnyOrigin {
		return true
	}
	return slices.Contains(c.AllowedOrigins, strings.TrimRight(origin, "/"))
}

// CheckOrigin adapts AllowOrigin for websocket upgraders.
func (c CORSConfig) CheckOrigin(r *http.Request) bool {
	return c.AllowOrigin(r.Header.Get("Origin"))
}

// CORS returns middleware that answers preflight requests and sets the
// credentialed CORS headers for allowed origins. Disallowed origins get no
// CORS headers, so the browser blocks the response.
func CORS(cfg CORSConfig) Middleware {
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = DefaultCORSMethods
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = DefaultCORSHeaders
	}

	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return cfg.AllowOrigin(origin)
		},
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           int(cfg.MaxAge.Seconds()),
	})
}
