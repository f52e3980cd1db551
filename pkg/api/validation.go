package api

import (
	"regexp"
	"strings"
)

// Tenant IDs and subjects arrive from headers, paths, and query strings.
// Both are restricted to a conservative charset so they are safe to use as
// cache keys and message bus subject tokens.
var (
	tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
	subjectPattern  = regexp.MustCompile(`^[a-zA-Z0-9@._:|-]{1,128}$`)
)

// NormalizeTenantID trims surrounding whitespace from a tenant hint.
func NormalizeTenantID(id string) string {
	return strings.TrimSpace(id)
}

// ValidateTenantID reports whether id is a syntactically valid tenant ID.
func ValidateTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// ValidateSubject reports whether s is a syntactically valid subject ID.
func ValidateSubject(s string) bool {
	return subjectPattern.MatchString(s)
}
