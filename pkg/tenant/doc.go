// Package tenant resolves which tenant a request acts on and whether the
// caller may act within it.
//
// The Resolver picks the target tenant from an explicit hint or the
// identity's default tenant, then checks membership against the store. Both
// positive and negative outcomes are cached per (subject, tenant) for a short
// TTL. Transient store failures are retried with exponential backoff and
// reported as ErrUnavailable, which callers must keep distinct from
// ErrForbidden and ErrTenantNotFound.
package tenant
