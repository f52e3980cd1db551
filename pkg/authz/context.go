package authz

import (
	"context"

	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/storage"
)

// Context is the outcome of a successful authorization. It lives for one
// request or one websocket connection and is never persisted.
type Context struct {
	Identity *auth.Identity
	TenantID string // empty when the pipeline has no tenant gate
	Role     storage.Role
}

// HasRole reports whether the caller acts in a tenant with at least min.
func (c *Context) HasRole(min storage.Role) bool {
	return c != nil && c.TenantID != "" && c.Role.AtLeast(min)
}

type contextKey struct{}

// WithContext stores ac in ctx together with the identity and tenant keys
// that pkg/auth and pkg/storage read.
func WithContext(ctx context.Context, ac *Context) context.Context {
	ctx = context.WithValue(ctx, contextKey{}, ac)
	ctx = auth.SetIdentity(ctx, ac.Identity)
	if ac.TenantID != "" {
		ctx = storage.SetTenant(ctx, ac.TenantID)
	}
	return ctx
}

// FromContext returns the authorization context, or nil.
func FromContext(ctx context.Context) *Context {
	if v, ok := ctx.Value(contextKey{}).(*Context); ok {
		return v
	}
	return nil
}
