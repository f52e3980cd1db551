// Package auth verifies caller credentials for simplecrm.
//
// Verification uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// The Verifier wraps the chain with a timeout and expiry check. It is a pure
// check over the credential and never reads tenant membership; tenant
// resolution happens later in the authorization pipeline.
package auth
