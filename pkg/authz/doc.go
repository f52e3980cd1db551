// Package authz composes credential verification, rate limiting, and tenant
// resolution into one authorization pipeline.
//
// A Pipeline is an ordered list of Gate functions. Each gate receives the
// state built by the gates before it and either extends it or fails with a
// typed *Error. The first failure ends the run. A successful run yields a
// Context holding the verified identity and, when a tenant gate ran, the
// tenant and role the caller acts as.
//
// The same pipeline serves HTTP requests (Middleware) and websocket
// handshakes (pkg/chat), so both surfaces share one decision path.
package authz
