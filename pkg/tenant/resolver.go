package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rhuss/simplecrm/pkg/api"
	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/debug"
	"github.com/rhuss/simplecrm/pkg/observability"
	"github.com/rhuss/simplecrm/pkg/storage"
)

// MembershipReader is the read side of the membership store.
// GetMembership returns storage.ErrNotFound for non-members; transient
// failures wrap storage.ErrUnavailable.
type MembershipReader interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
	GetMembership(ctx context.Context, tenantID, subject string) (storage.Membership, error)
}

// Config tunes resolution.
type Config struct {
	// CacheTTL bounds how long positive and negative outcomes are reused.
	// Zero disables caching. Default: 30s.
	CacheTTL time.Duration

	// Timeout bounds a whole resolution including retries. Default: 2s.
	Timeout time.Duration

	// AttemptTimeout bounds each store call. Default: 500ms.
	AttemptTimeout time.Duration

	// MaxAttempts is the total number of store attempts. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 50ms.
	InitialBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	} else if c.CacheTTL == 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
}

// Resolver maps an identity and an optional tenant hint to a membership.
type Resolver struct {
	store MembershipReader
	cache Cache
	cfg   Config
}

// NewResolver creates a Resolver. cache may be nil. A negative
// cfg.CacheTTL disables caching.
func NewResolver(store MembershipReader, cache Cache, cfg Config) *Resolver {
	cfg.applyDefaults()
	return &Resolver{store: store, cache: cache, cfg: cfg}
}

// Target returns the tenant a request acts on: the hint when present,
// otherwise the identity's default tenant.
func Target(id *auth.Identity, hint string) string {
	if hint = api.NormalizeTenantID(hint); hint != "" {
		return hint
	}
	if id == nil {
		return ""
	}
	return api.NormalizeTenantID(id.DefaultTenant)
}

// Resolve returns the subject's membership in the target tenant.
//
// Errors: ErrTenantNotFound when no target can be determined or the tenant
// does not exist, ErrForbidden when the subject is not a member, and
// ErrUnavailable when the store could not answer in time.
func (r *Resolver) Resolve(ctx context.Context, id *auth.Identity, hint string) (storage.Membership, error) {
	if id == nil || id.Subject == "" {
		return storage.Membership{}, fmt.Errorf("%w: no verified subject", ErrForbidden)
	}

	tenantID := Target(id, hint)
	if tenantID == "" {
		return storage.Membership{}, fmt.Errorf("%w: no tenant hint and no default tenant", ErrTenantNotFound)
	}
	if !api.ValidateTenantID(tenantID) {
		return storage.Membership{}, fmt.Errorf("%w: malformed tenant id", ErrTenantNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	entry, ok := r.cached(ctx, id.Subject, tenantID)
	if !ok {
		var err error
		entry, err = r.lookup(ctx, id.Subject, tenantID)
		if err != nil {
			return storage.Membership{}, err
		}
		r.remember(ctx, id.Subject, tenantID, entry)
	}

	switch entry.Status {
	case StatusMember:
		return storage.Membership{TenantID: tenantID, Subject: id.Subject, Role: entry.Role}, nil
	case StatusNotMember:
		return storage.Membership{}, fmt.Errorf("%w: %s", ErrForbidden, tenantID)
	default:
		return storage.Membership{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
}

func (r *Resolver) cached(ctx context.Context, subject, tenantID string) (Entry, bool) {
	if r.cache == nil || r.cfg.CacheTTL == 0 {
		return Entry{}, false
	}
	entry, ok, err := r.cache.Get(ctx, subject, tenantID)
	if err != nil {
		slog.Warn("membership cache read failed", "tenant", tenantID, "error", err)
		ok = false
	}
	if ok {
		observability.TenantCacheLookupsTotal.WithLabelValues("hit").Inc()
		debug.Log("tenant", "cache hit", "subject", subject, "tenant", tenantID, "status", entry.Status)
		return entry, true
	}
	observability.TenantCacheLookupsTotal.WithLabelValues("miss").Inc()
	return Entry{}, false
}

func (r *Resolver) remember(ctx context.Context, subject, tenantID string, e Entry) {
	if r.cache == nil || r.cfg.CacheTTL == 0 {
		return
	}
	if err := r.cache.Put(ctx, subject, tenantID, e, r.cfg.CacheTTL); err != nil {
		slog.Warn("membership cache write failed", "tenant", tenantID, "error", err)
	}
}

// lookup asks the store, retrying transient failures.
func (r *Resolver) lookup(ctx context.Context, subject, tenantID string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.InitialBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	op := func() (Entry, error) {
		attempt++
		entry, err := r.lookupOnce(ctx, subject, tenantID)
		if err != nil && !r.retryable(ctx, err) {
			return Entry{}, backoff.Permanent(err)
		}
		return entry, err
	}
	notify := func(err error, wait time.Duration) {
		observability.StoreRetriesTotal.Inc()
		debug.Log("tenant", "retrying membership lookup", "tenant", tenantID, "attempt", attempt, "wait", wait, "error", err)
	}

	entry, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err == nil {
		return entry, nil
	}

	slog.Warn("membership lookup failed",
		"subject", subject,
		"tenant", tenantID,
		"attempts", attempt,
		"error", err,
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
	}
	return Entry{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// lookupOnce performs one bounded pass: tenant existence, then membership.
func (r *Resolver) lookupOnce(ctx context.Context, subject, tenantID string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	exists, err := r.store.TenantExists(ctx, tenantID)
	if err != nil {
		return Entry{}, fmt.Errorf("checking tenant: %w", err)
	}
	if !exists {
		return Entry{Status: StatusUnknownTenant}, nil
	}

	m, err := r.store.GetMembership(ctx, tenantID, subject)
	if errors.Is(err, storage.ErrNotFound) {
		return Entry{Status: StatusNotMember}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading membership: %w", err)
	}
	if !m.Role.Valid() {
		return Entry{}, fmt.Errorf("membership has unknown role %q", m.Role)
	}
	return Entry{Status: StatusMember, Role: m.Role}, nil
}

// retryable reports whether err is transient. A per-attempt deadline counts
// as transient as long as the overall deadline has not passed.
func (r *Resolver) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, storage.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// Invalidate drops the cached outcome for (subject, tenantID).
func (r *Resolver) Invalidate(ctx context.Context, subject, tenantID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, subject, tenantID); err != nil {
		slog.Warn("membership cache invalidation failed", "subject", subject, "tenant", tenantID, "error", err)
	}
}
