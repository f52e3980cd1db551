package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/debug"
	"github.com/rhuss/simplecrm/pkg/observability"
	"github.com/rhuss/simplecrm/pkg/storage"
	"github.com/rhuss/simplecrm/pkg/tenant"
)

// Input is what a caller presents: a credential and an optional tenant hint.
type Input struct {
	Credential auth.Credential
	TenantHint string
}

// State accumulates gate results within one run.
type State struct {
	Identity *auth.Identity
	TenantID string
	Role     storage.Role
}

// Gate is one step of the pipeline. It returns the extended state, or an
// *Error to stop the run.
type Gate func(ctx context.Context, in Input, st State) (State, error)

// CredentialVerifier is satisfied by *auth.Verifier.
type CredentialVerifier interface {
	Verify(ctx context.Context, cred auth.Credential) (*auth.Identity, error)
}

// TenantResolver is satisfied by *tenant.Resolver.
type TenantResolver interface {
	Resolve(ctx context.Context, id *auth.Identity, hint string) (storage.Membership, error)
}

// VerifyCredential turns the input credential into an identity.
func VerifyCredential(v CredentialVerifier) Gate {
	return func(ctx context.Context, in Input, st State) (State, error) {
		id, err := v.Verify(ctx, in.Credential)
		if err != nil {
			return st, fail(KindUnauthenticated, err)
		}
		st.Identity = id
		return st, nil
	}
}

// RateLimit rejects verified callers that exceed their tier budget.
func RateLimit(l auth.RateLimiter) Gate {
	return func(ctx context.Context, in Input, st State) (State, error) {
		if st.Identity == nil {
			return st, fail(KindUnauthenticated, auth.ErrUnauthenticated)
		}
		err := l.Allow(ctx, st.Identity)
		switch {
		case err == nil:
			return st, nil
		case errors.Is(err, auth.ErrTooManyRequests):
			tier := st.Identity.ServiceTier
			if tier == "" {
				tier = "default"
			}
			observability.RateLimitRejectedTotal.WithLabelValues(tier).Inc()
			return st, fail(KindRateLimited, err)
		default:
			return st, fail(KindServiceUnavailable, err)
		}
	}
}

// ResolveTenant establishes the tenant and role for the verified identity.
func ResolveTenant(r TenantResolver) Gate {
	return func(ctx context.Context, in Input, st State) (State, error) {
		if st.Identity == nil {
			return st, fail(KindUnauthenticated, auth.ErrUnauthenticated)
		}
		m, err := r.Resolve(ctx, st.Identity, in.TenantHint)
		switch {
		case err == nil:
			st.TenantID = m.TenantID
			st.Role = m.Role
			return st, nil
		case errors.Is(err, tenant.ErrTenantNotFound):
			return st, fail(KindTenantNotFound, err)
		case errors.Is(err, tenant.ErrForbidden):
			return st, fail(KindForbidden, err)
		default:
			return st, fail(KindServiceUnavailable, err)
		}
	}
}

// Pipeline runs gates in order and stops at the first failure.
type Pipeline struct {
	gates []Gate
}

// NewPipeline creates a pipeline. The first gate must establish an identity.
func NewPipeline(gates ...Gate) *Pipeline {
	return &Pipeline{gates: gates}
}

// Authorize runs every gate. It has no side effects beyond what the gates
// read, so running it twice on the same input yields the same outcome as
// long as the stores have not changed.
func (p *Pipeline) Authorize(ctx context.Context, in Input) (*Context, error) {
	var st State
	for _, gate := range p.gates {
		if err := ctx.Err(); err != nil {
			return nil, p.deny(fail(KindServiceUnavailable, err))
		}
		next, err := gate(ctx, in, st)
		if err != nil {
			var ae *Error
			if !errors.As(err, &ae) {
				ae = fail(KindServiceUnavailable, err)
			}
			return nil, p.deny(ae)
		}
		st = next
	}
	if st.Identity == nil {
		return nil, p.deny(fail(KindUnauthenticated, fmt.Errorf("%w: no identity gate", auth.ErrUnauthenticated)))
	}

	observability.AuthzDecisionsTotal.WithLabelValues("allowed").Inc()
	debug.Log("authz", "allowed", "subject", st.Identity.Subject, "tenant", st.TenantID, "role", st.Role)
	return &Context{Identity: st.Identity, TenantID: st.TenantID, Role: st.Role}, nil
}

func (p *Pipeline) deny(err *Error) *Error {
	observability.AuthzDecisionsTotal.WithLabelValues(err.Kind.String()).Inc()
	debug.Log("authz", "denied", "kind", err.Kind.String(), "error", err.Err)
	return err
}
