package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/auth/apikey"
	"github.com/rhuss/simplecrm/pkg/storage"
	"github.com/rhuss/simplecrm/pkg/storage/memory"
	"github.com/rhuss/simplecrm/pkg/tenant"
)

const (
	aliceKey = "key-alice"
	bobKey   = "key-bob"
)

// fixture builds a pipeline over a real verifier chain and an in-memory
// membership store. alice is owner of acme and member of globex; bob
// belongs to no tenant.
func fixture(t *testing.T) (*Pipeline, *memory.Store) {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	for _, ten := range []storage.Tenant{{ID: "acme", Name: "Acme"}, {ID: "globex", Name: "Globex"}} {
		if err := store.CreateTenant(ctx, ten); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range []storage.Membership{
		{TenantID: "acme", Subject: "alice", Role: storage.RoleOwner},
		{TenantID: "globex", Subject: "alice", Role: storage.RoleMember},
	} {
		if err := store.PutMember(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	chain := &auth.AuthChain{
		Authenticators: []auth.Authenticator{apikey.New([]apikey.RawKeyEntry{
			{Key: aliceKey, Identity: auth.Identity{Subject: "alice", DefaultTenant: "acme"}},
			{Key: bobKey, Identity: auth.Identity{Subject: "bob", DefaultTenant: "acme"}},
		})},
		DefaultDecision: auth.No,
	}
	resolver := tenant.NewResolver(store, tenant.NewMemoryCache(0), tenant.Config{})

	return NewPipeline(
		VerifyCredential(auth.NewVerifier(chain, time.Second)),
		ResolveTenant(resolver),
	), store
}

func bearer(token string) auth.Credential {
	return auth.Credential{Token: token, Source: auth.SourceHeader}
}

func TestAuthorize_DefaultTenant(t *testing.T) {
	p, _ := fixture(t)

	ac, err := p.Authorize(context.Background(), Input{Credential: bearer(aliceKey)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.Identity.Subject != "alice" || ac.TenantID != "acme" || ac.Role != storage.RoleOwner {
		t.Errorf("context = %+v, want alice/acme/owner", ac)
	}
}

func TestAuthorize_HintOverridesDefault(t *testing.T) {
	p, _ := fixture(t)

	ac, err := p.Authorize(context.Background(), Input{Credential: bearer(aliceKey), TenantHint: "globex"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.TenantID != "globex" || ac.Role != storage.RoleMember {
		t.Errorf("context = %+v, want globex/member", ac)
	}
}

func TestAuthorize_Failures(t *testing.T) {
	p, _ := fixture(t)

	tests := []struct {
		name string
		in   Input
		want Kind
	}{
		{"missing credential", Input{}, KindUnauthenticated},
		{"unknown key", Input{Credential: bearer("nope")}, KindUnauthenticated},
		{"not a member", Input{Credential: bearer(bobKey)}, KindForbidden},
		{"unknown tenant", Input{Credential: bearer(aliceKey), TenantHint: "initech"}, KindTenantNotFound},
		{"malformed tenant", Input{Credential: bearer(aliceKey), TenantHint: "../etc"}, KindTenantNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac, err := p.Authorize(context.Background(), tt.in)
			if ac != nil {
				t.Errorf("context = %+v, want nil", ac)
			}
			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("error %v is not *Error", err)
			}
			if ae.Kind != tt.want {
				t.Errorf("kind = %v, want %v", ae.Kind, tt.want)
			}
		})
	}
}

func TestAuthorize_Idempotent(t *testing.T) {
	p, _ := fixture(t)
	in := Input{Credential: bearer(aliceKey), TenantHint: "globex"}

	first, err1 := p.Authorize(context.Background(), in)
	second, err2 := p.Authorize(context.Background(), in)
	if err1 != nil || err2 != nil {
		t.Fatalf("errors: %v, %v", err1, err2)
	}
	if first.TenantID != second.TenantID || first.Role != second.Role || first.Identity.Subject != second.Identity.Subject {
		t.Errorf("runs differ: %+v vs %+v", first, second)
	}
}

// countingResolver records calls and returns a fixed outcome.
type countingResolver struct {
	calls int
	m     storage.Membership
	err   error
}

func (c *countingResolver) Resolve(context.Context, *auth.Identity, string) (storage.Membership, error) {
	c.calls++
	return c.m, c.err
}

type staticVerifier struct {
	id  *auth.Identity
	err error
}

func (s staticVerifier) Verify(context.Context, auth.Credential) (*auth.Identity, error) {
	return s.id, s.err
}

func TestAuthorize_ShortCircuitsBeforeResolver(t *testing.T) {
	res := &countingResolver{}
	p := NewPipeline(
		VerifyCredential(staticVerifier{err: auth.ErrUnauthenticated}),
		ResolveTenant(res),
	)

	_, err := p.Authorize(context.Background(), Input{})
	if KindOf(err) != KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated", KindOf(err))
	}
	if res.calls != 0 {
		t.Errorf("resolver called %d times, want 0", res.calls)
	}
}

func TestAuthorize_StoreUnavailable(t *testing.T) {
	res := &countingResolver{err: fmt.Errorf("%w: connection refused", tenant.ErrUnavailable)}
	p := NewPipeline(
		VerifyCredential(staticVerifier{id: &auth.Identity{Subject: "alice", DefaultTenant: "acme"}}),
		ResolveTenant(res),
	)

	_, err := p.Authorize(context.Background(), Input{})
	if KindOf(err) != KindServiceUnavailable {
		t.Errorf("kind = %v, want service_unavailable", KindOf(err))
	}
	if !errors.Is(err, tenant.ErrUnavailable) {
		t.Error("error should wrap the resolver cause")
	}
}

func TestAuthorize_RateLimited(t *testing.T) {
	limiter := auth.NewInProcessLimiter(map[string]auth.TierConfig{"default": {RequestsPerMinute: 1}}, 0)
	res := &countingResolver{m: storage.Membership{TenantID: "acme", Subject: "alice", Role: storage.RoleMember}}
	p := NewPipeline(
		VerifyCredential(staticVerifier{id: &auth.Identity{Subject: "alice", ServiceTier: "default"}}),
		RateLimit(limiter),
		ResolveTenant(res),
	)

	if _, err := p.Authorize(context.Background(), Input{}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := p.Authorize(context.Background(), Input{})
	if KindOf(err) != KindRateLimited {
		t.Errorf("kind = %v, want too_many_requests", KindOf(err))
	}
	if res.calls != 1 {
		t.Errorf("resolver called %d times, want 1", res.calls)
	}
}

func TestAuthorize_CanceledContext(t *testing.T) {
	p, _ := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Authorize(ctx, Input{Credential: bearer(aliceKey)})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error %v should wrap context.Canceled", err)
	}
}

func TestAuthorize_VerifyOnly(t *testing.T) {
	p := NewPipeline(VerifyCredential(staticVerifier{id: &auth.Identity{Subject: "alice"}}))

	ac, err := p.Authorize(context.Background(), Input{})
	if err != nil {
		t.Fatal(err)
	}
	if ac.TenantID != "" || ac.HasRole(storage.RoleMember) {
		t.Errorf("verify-only context should carry no tenant: %+v", ac)
	}
}

func TestKind_Mapping(t *testing.T) {
	tests := []struct {
		kind   Kind
		code   string
		status int
	}{
		{KindUnauthenticated, "unauthenticated", http.StatusUnauthorized},
		{KindForbidden, "forbidden", http.StatusForbidden},
		{KindTenantNotFound, "tenant_not_found", http.StatusNotFound},
		{KindServiceUnavailable, "service_unavailable", http.StatusServiceUnavailable},
		{KindRateLimited, "too_many_requests", http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		if tt.kind.String() != tt.code {
			t.Errorf("%d.String() = %q, want %q", tt.kind, tt.kind.String(), tt.code)
		}
		if tt.kind.HTTPStatus() != tt.status {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, tt.kind.HTTPStatus(), tt.status)
		}
		if tt.kind.APIError().Code != tt.code {
			t.Errorf("%s.APIError().Code = %q", tt.code, tt.kind.APIError().Code)
		}
	}
	if KindOf(errors.New("plain")) != KindServiceUnavailable {
		t.Error("foreign errors should classify as service_unavailable")
	}
}
