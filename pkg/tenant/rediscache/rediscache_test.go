package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/storage"
	"github.com/rhuss/simplecrm/pkg/tenant"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), "redis://"+srv.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func TestCache_PutGetInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "u1", "acme"); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	want := tenant.Entry{Status: tenant.StatusMember, Role: storage.RoleAdmin}
	if err := c.Put(ctx, "u1", "acme", want, time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := c.Get(ctx, "u1", "acme")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("entry = %+v, want %+v", got, want)
	}

	// Other tenants are separate keys.
	if _, ok, _ := c.Get(ctx, "u1", "globex"); ok {
		t.Error("entry leaked across tenants")
	}

	if err := c.Invalidate(ctx, "u1", "acme"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "u1", "acme"); ok {
		t.Error("entry still present after Invalidate")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "u2", "acme", tenant.Entry{Status: tenant.StatusNotMember}, 5*time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}

	srv.FastForward(6 * time.Second)

	if _, ok, _ := c.Get(ctx, "u2", "acme"); ok {
		t.Error("entry should have expired")
	}
}

func TestCache_CorruptEntry(t *testing.T) {
	c, srv := newTestCache(t)

	if err := srv.Set(key("u1", "acme"), "{not json"); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := c.Get(context.Background(), "u1", "acme"); ok || err == nil {
		t.Errorf("corrupt entry: ok=%v err=%v, want miss with error", ok, err)
	}
}

func TestCache_ServerDown(t *testing.T) {
	c, srv := newTestCache(t)
	srv.Close()

	if _, ok, err := c.Get(context.Background(), "u1", "acme"); ok || err == nil {
		t.Errorf("server down: ok=%v err=%v, want miss with error", ok, err)
	}
}

func TestResolverWithRedisCache(t *testing.T) {
	c, _ := newTestCache(t)

	store := &countingReader{role: storage.RoleMember}
	r := tenant.NewResolver(store, c, tenant.Config{CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), identity("u1"), "acme"); err != nil {
			t.Fatalf("Resolve %d: %v", i, err)
		}
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1 (redis cache not used)", store.calls)
	}
}

// countingReader answers every lookup with the same role and counts
// membership reads.
type countingReader struct {
	role  storage.Role
	calls int
}

func (r *countingReader) TenantExists(context.Context, string) (bool, error) {
	return true, nil
}

func (r *countingReader) GetMembership(_ context.Context, tenantID, subject string) (storage.Membership, error) {
	r.calls++
	return storage.Membership{TenantID: tenantID, Subject: subject, Role: r.role}, nil
}

func identity(subject string) *auth.Identity {
	return &auth.Identity{Subject: subject}
}
