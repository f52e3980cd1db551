package tenant

import "errors"

var (
	// ErrTenantNotFound means no target tenant could be determined or the
	// tenant does not exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrForbidden means the tenant exists but the subject is not a member.
	ErrForbidden = errors.New("not a member of tenant")

	// ErrUnavailable means membership could not be checked because the
	// store kept failing or the lookup ran out of time.
	ErrUnavailable = errors.New("tenant lookup unavailable")
)
