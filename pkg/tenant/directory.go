package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rhuss/simplecrm/pkg/api"
	"github.com/rhuss/simplecrm/pkg/storage"
)

// MembershipWriter is the management side of the membership store.
type MembershipWriter interface {
	GetMembership(ctx context.Context, tenantID, subject string) (storage.Membership, error)
	ListMemberships(ctx context.Context, subject string) ([]storage.Membership, error)
	ListMembers(ctx context.Context, tenantID string) ([]storage.Membership, error)
	PutMember(ctx context.Context, m storage.Membership) error
	RemoveMember(ctx context.Context, tenantID, subject string) error
}

var (
	// ErrInvalidMember is returned for memberships with a malformed subject
	// or an unknown role.
	ErrInvalidMember = errors.New("invalid membership")

	// ErrOwnerRequired is returned when a non-owner grants the owner role or
	// changes or removes an existing owner.
	ErrOwnerRequired = errors.New("owner role required")

	// ErrLastOwner is returned when a change would leave a tenant without
	// an owner.
	ErrLastOwner = errors.New("tenant must keep at least one owner")
)

// Directory manages memberships and keeps the resolver cache coherent.
type Directory struct {
	store    MembershipWriter
	resolver *Resolver

	// mu serializes changes so the owner count checked before a write is
	// still accurate when the write lands. It covers this process only.
	mu sync.Mutex
}

// NewDirectory creates a Directory that invalidates resolver cache entries
// after every membership change.
func NewDirectory(store MembershipWriter, resolver *Resolver) *Directory {
	return &Directory{store: store, resolver: resolver}
}

// Memberships lists the tenants the subject belongs to.
func (d *Directory) Memberships(ctx context.Context, subject string) ([]storage.Membership, error) {
	return d.store.ListMemberships(ctx, subject)
}

// AddMember creates or updates a membership on behalf of a caller holding
// actor in the tenant and returns the stored row. Returns storage.ErrNotFound
// if the tenant does not exist.
func (d *Directory) AddMember(ctx context.Context, actor storage.Role, m storage.Membership) (storage.Membership, error) {
	if !api.ValidateSubject(m.Subject) {
		return storage.Membership{}, fmt.Errorf("%w: malformed subject", ErrInvalidMember)
	}
	if !m.Role.Valid() {
		return storage.Membership{}, fmt.Errorf("%w: unknown role %q", ErrInvalidMember, m.Role)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.current(ctx, m.TenantID, m.Subject)
	if err != nil {
		return storage.Membership{}, err
	}
	if (m.Role == storage.RoleOwner || current == storage.RoleOwner) && !actor.AtLeast(storage.RoleOwner) {
		return storage.Membership{}, ErrOwnerRequired
	}
	if current == storage.RoleOwner && m.Role != storage.RoleOwner {
		if err := d.keepOwner(ctx, m.TenantID); err != nil {
			return storage.Membership{}, err
		}
	}

	if err := d.store.PutMember(ctx, m); err != nil {
		return storage.Membership{}, err
	}
	d.resolver.Invalidate(ctx, m.Subject, m.TenantID)
	return d.store.GetMembership(ctx, m.TenantID, m.Subject)
}

// RemoveMember deletes a membership on behalf of a caller holding actor in
// the tenant. Returns storage.ErrNotFound if it did not exist.
func (d *Directory) RemoveMember(ctx context.Context, actor storage.Role, tenantID, subject string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.current(ctx, tenantID, subject)
	if err != nil {
		return err
	}
	if current == storage.RoleOwner {
		if !actor.AtLeast(storage.RoleOwner) {
			return ErrOwnerRequired
		}
		if err := d.keepOwner(ctx, tenantID); err != nil {
			return err
		}
	}

	if err := d.store.RemoveMember(ctx, tenantID, subject); err != nil {
		return err
	}
	d.resolver.Invalidate(ctx, subject, tenantID)
	return nil
}

// current returns the subject's role in the tenant, or "" for non-members.
func (d *Directory) current(ctx context.Context, tenantID, subject string) (storage.Role, error) {
	m, err := d.store.GetMembership(ctx, tenantID, subject)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// keepOwner fails with ErrLastOwner unless the tenant has another owner
// besides the one about to be demoted or removed.
func (d *Directory) keepOwner(ctx context.Context, tenantID string) error {
	members, err := d.store.ListMembers(ctx, tenantID)
	if err != nil {
		return err
	}
	owners := 0
	for _, m := range members {
		if m.Role == storage.RoleOwner {
			owners++
		}
	}
	if owners < 2 {
		return ErrLastOwner
	}
	return nil
}
