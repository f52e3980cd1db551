// Package noop provides a development authenticator that accepts every
// caller as a fixed identity. Configuration validation refuses it in
// production.
package noop

import (
	"context"

	"github.com/rhuss/simplecrm/pkg/auth"
)

// DevSubject is the subject assigned when no identity is configured.
const DevSubject = "dev-user"

// Authenticator always returns Yes with its configured identity.
type Authenticator struct {
	Identity auth.Identity
}

// New returns an authenticator for the given development identity. An empty
// subject falls back to DevSubject.
func New(id auth.Identity) *Authenticator {
	if id.Subject == "" {
		id.Subject = DevSubject
	}
	if id.ServiceTier == "" {
		id.ServiceTier = "default"
	}
	return &Authenticator{Identity: id}
}

func (a *Authenticator) Authenticate(_ context.Context, _ auth.Credential) auth.AuthResult {
	id := a.Identity
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}
