// Package transport provides the HTTP plumbing shared by all simplecrm
// routes: the middleware chain, request IDs, access logging, panic
// recovery, CORS, and the structured error body.
//
// Middleware are plain func(http.Handler) http.Handler values composed
// with Chain. Error responses use the {"error":{"type","code","message"}}
// shape from pkg/api so clients can branch on a stable code.
package transport
