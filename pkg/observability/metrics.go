// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the simplecrm gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route pattern.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplecrm_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simplecrm_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// AuthzDecisionsTotal counts pipeline outcomes. The outcome label is
	// "allowed" or the failure kind.
	AuthzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplecrm_authz_decisions_total",
			Help: "Authorization pipeline decisions",
		},
		[]string{"outcome"},
	)

	// TenantCacheLookupsTotal counts membership cache lookups by result (hit, miss).
	TenantCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplecrm_tenant_cache_lookups_total",
			Help: "Membership cache lookups",
		},
		[]string{"result"},
	)

	// StoreRetriesTotal counts retried membership store calls.
	StoreRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "simplecrm_store_retries_total",
			Help: "Retried membership store calls",
		},
	)

	// ChatConnectionsActive tracks joined chat connections.
	ChatConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "simplecrm_chat_connections_active",
			Help: "Joined chat connections",
		},
	)

	// ChatRoomsActive tracks tenant rooms with at least one member.
	ChatRoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "simplecrm_chat_rooms_active",
			Help: "Active chat rooms",
		},
	)

	// ChatMessagesRelayedTotal counts envelopes fanned out to a room, by origin (local, remote).
	ChatMessagesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplecrm_chat_messages_relayed_total",
			Help: "Chat envelopes relayed",
		},
		[]string{"origin"},
	)

	// ChatMessagesDroppedTotal counts per-recipient deliveries that were dropped.
	ChatMessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplecrm_chat_messages_dropped_total",
			Help: "Chat deliveries dropped",
		},
		[]string{"reason"},
	)

	// ChatClosesTotal counts closed chat connections by close reason.
	ChatClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplecrm_chat_closes_total",
			Help: "Chat connection closes",
		},
		[]string{"reason"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simplecrm_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AuthzDecisionsTotal,
		TenantCacheLookupsTotal,
		StoreRetriesTotal,
		ChatConnectionsActive,
		ChatRoomsActive,
		ChatMessagesRelayedTotal,
		ChatMessagesDroppedTotal,
		ChatClosesTotal,
		RateLimitRejectedTotal,
	)
}
