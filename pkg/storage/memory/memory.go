// Package memory provides an in-memory membership store for tests,
// development, and single-node deployments seeded from configuration.
// Data is lost when the process restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/simplecrm/pkg/storage"
)

// Store is an in-memory tenant and membership store.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]storage.Tenant
	members map[string]map[string]storage.Membership // tenant -> subject -> membership
	now     func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tenants: make(map[string]storage.Tenant),
		members: make(map[string]map[string]storage.Membership),
		now:     time.Now,
	}
}

// CreateTenant registers a tenant. Returns ErrConflict if the ID is taken.
func (s *Store) CreateTenant(_ context.Context, t storage.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[t.ID]; exists {
		return storage.ErrConflict
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.tenants[t.ID] = t
	s.members[t.ID] = make(map[string]storage.Membership)
	return nil
}

// TenantExists reports whether a tenant with the given ID exists.
func (s *Store) TenantExists(_ context.Context, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tenants[tenantID]
	return ok, nil
}

// GetMembership returns the subject's membership in the tenant, or
// ErrNotFound when the subject is not a member.
func (s *Store) GetMembership(_ context.Context, tenantID, subject string) (storage.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[tenantID][subject]
	if !ok {
		return storage.Membership{}, storage.ErrNotFound
	}
	return m, nil
}

// ListMemberships returns all memberships of a subject ordered by tenant ID.
func (s *Store) ListMemberships(_ context.Context, subject string) ([]storage.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Membership
	for tenantID, subjects := range s.members {
		if m, ok := subjects[subject]; ok {
			m.TenantName = s.tenants[tenantID].Name
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// ListMembers returns the members of a tenant ordered by subject.
func (s *Store) ListMembers(_ context.Context, tenantID string) ([]storage.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Membership
	for _, m := range s.members[tenantID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}

// PutMember creates or updates a membership. Returns ErrNotFound if the
// tenant does not exist.
func (s *Store) PutMember(_ context.Context, m storage.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subjects, ok := s.members[m.TenantID]
	if !ok {
		return storage.ErrNotFound
	}
	if existing, ok := subjects[m.Subject]; ok {
		m.CreatedAt = existing.CreatedAt
	} else if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.TenantName = ""
	subjects[m.Subject] = m
	return nil
}

// RemoveMember deletes a membership. Returns ErrNotFound if it did not exist.
func (s *Store) RemoveMember(_ context.Context, tenantID, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subjects, ok := s.members[tenantID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := subjects[subject]; !ok {
		return storage.ErrNotFound
	}
	delete(subjects, subject)
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
