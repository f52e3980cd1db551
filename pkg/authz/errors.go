package authz

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rhuss/simplecrm/pkg/api"
)

// Kind classifies why authorization failed.
type Kind int

const (
	KindUnauthenticated Kind = iota
	KindForbidden
	KindTenantNotFound
	KindServiceUnavailable
	KindRateLimited
)

// String returns the stable wire code for the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return string(api.ErrorTypeUnauthenticated)
	case KindForbidden:
		return string(api.ErrorTypeForbidden)
	case KindTenantNotFound:
		return string(api.ErrorTypeTenantNotFound)
	case KindServiceUnavailable:
		return string(api.ErrorTypeServiceUnavailable)
	case KindRateLimited:
		return string(api.ErrorTypeTooManyRequests)
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HTTPStatus maps the kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTenantNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// APIError returns the client-facing error. Messages are fixed per kind so
// internal causes never reach the wire.
func (k Kind) APIError() *api.APIError {
	switch k {
	case KindUnauthenticated:
		return api.NewUnauthenticatedError("authentication required")
	case KindForbidden:
		return api.NewForbiddenError("access to this tenant is not permitted")
	case KindTenantNotFound:
		return api.NewTenantNotFoundError("tenant not found")
	case KindRateLimited:
		return api.NewTooManyRequestsError("rate limit exceeded")
	default:
		return api.NewServiceUnavailableError("authorization is temporarily unavailable, retry later")
	}
}

// Error is the failure returned by a Pipeline.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "authz: " + e.Kind.String()
	}
	return "authz: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err. Errors that did not come from a
// pipeline are reported as KindServiceUnavailable.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindServiceUnavailable
}

func fail(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
