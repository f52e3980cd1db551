// Package api defines the wire-level types shared by the simplecrm HTTP and
// realtime boundaries: the structured error body, identifier generation, and
// validation of caller-supplied identifiers such as tenant hints.
//
// The package has no external dependencies and performs no I/O.
//
// Core types:
//   - [APIError]: Structured error with a stable type, code, and message
//   - [ErrorResponse]: Top-level {"error": ...} wrapper written on failures
package api
