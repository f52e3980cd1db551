package api

import "fmt"

// ErrorType represents the category of an API error. The values are stable
// and are relied on by clients to tell access failures apart from outages.
type ErrorType string

const (
	ErrorTypeInvalidRequest     ErrorType = "invalid_request"
	ErrorTypeUnauthenticated    ErrorType = "unauthenticated"
	ErrorTypeForbidden          ErrorType = "forbidden"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeTenantNotFound     ErrorType = "tenant_not_found"
	ErrorTypeTooManyRequests    ErrorType = "too_many_requests"
	ErrorTypeServiceUnavailable ErrorType = "service_unavailable"
	ErrorTypeServerError        ErrorType = "server_error"
)

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewUnauthenticatedError creates an APIError for missing or invalid credentials.
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnauthenticated,
		Code:    string(ErrorTypeUnauthenticated),
		Message: message,
	}
}

// NewForbiddenError creates an APIError for callers that are authenticated
// but lack access to the requested tenant or operation.
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeForbidden,
		Code:    string(ErrorTypeForbidden),
		Message: message,
	}
}

// NewTenantNotFoundError creates an APIError for an unresolvable tenant.
func NewTenantNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTenantNotFound,
		Code:    string(ErrorTypeTenantNotFound),
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewConflictError creates an APIError for changes that would break a
// tenant invariant.
func NewConflictError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeConflict,
		Code:    string(ErrorTypeConflict),
		Message: message,
	}
}

// NewServiceUnavailableError creates an APIError for degraded dependencies.
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServiceUnavailable,
		Code:    string(ErrorTypeServiceUnavailable),
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate limiting.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Code:    string(ErrorTypeTooManyRequests),
		Message: message,
	}
}
