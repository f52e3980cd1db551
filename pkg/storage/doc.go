// Package storage provides types shared across the membership store
// implementations (memory, postgres): tenants, memberships, roles, sentinel
// errors, and tenant context helpers.
//
// The read contract consumed by the tenant resolver (tenant.MembershipReader)
// and the management contract used by the HTTP routes are declared by their
// consumers. This package contains only the shared vocabulary.
package storage
