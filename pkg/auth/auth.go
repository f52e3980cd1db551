package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rhuss/simplecrm/pkg/debug"
)

// AuthDecision represents the three possible outcomes of authentication.
type AuthDecision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // populated only when Decision == Yes
	Err      error     // populated only when Decision == No
}

// Identity represents an authenticated caller. It is never mutated after
// verification; copy it before changing anything.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string

	// DisplayName is the human-readable name shown in chat envelopes.
	DisplayName string

	// IssuedAt and ExpiresAt come from the credential. Zero when the
	// credential carries no lifetime (static API keys).
	IssuedAt  time.Time
	ExpiresAt time.Time

	// DefaultTenant is the tenant used when a request carries no tenant hint.
	DefaultTenant string

	// ServiceTier determines rate limits.
	ServiceTier string

	// Scopes lists the authorization scopes granted.
	Scopes []string
}

// Name returns the display name, falling back to the subject.
func (id *Identity) Name() string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	return id.Subject
}

// Expired reports whether the identity's credential lifetime has passed.
func (id *Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

// Authenticator examines a credential and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) AuthResult
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// AuthChain evaluates authenticators in order using three-outcome voting.
type AuthChain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// DefaultDecision is used when all authenticators abstain.
	// Use Yes for development (NoOp behavior) or No for production.
	DefaultDecision AuthDecision
}

// Authenticate runs the chain. Stops on the first Yes or No.
// If all abstain, returns the default decision.
func (c *AuthChain) Authenticate(ctx context.Context, cred Credential) AuthResult {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, cred)
		if result.Decision != Abstain {
			return result
		}
	}

	// All abstained: use default.
	if c.DefaultDecision == Yes {
		return AuthResult{
			Decision: Yes,
			Identity: &Identity{Subject: "anonymous", ServiceTier: "default"},
		}
	}

	return AuthResult{
		Decision: No,
		Err:      ErrUnauthenticated,
	}
}

// Verifier turns a raw credential into an Identity. It never consults the
// membership store, so it can gate every request before any store access.
type Verifier struct {
	chain   *AuthChain
	timeout time.Duration
	now     func() time.Time
}

// NewVerifier creates a Verifier over the chain. A positive timeout bounds
// each verification; an exceeded timeout fails closed.
func NewVerifier(chain *AuthChain, timeout time.Duration) *Verifier {
	return &Verifier{chain: chain, timeout: timeout, now: time.Now}
}

// Verify runs the chain and returns the identity, or an error wrapping
// ErrUnauthenticated when the credential is missing, malformed, has a bad
// signature, is expired, or could not be checked in time.
func (v *Verifier) Verify(ctx context.Context, cred Credential) (*Identity, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	done := make(chan AuthResult, 1)
	go func() {
		done <- v.chain.Authenticate(ctx, cred)
	}()

	var result AuthResult
	select {
	case result = <-done:
	case <-ctx.Done():
	}
	// A result that raced the deadline still fails closed.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: verification aborted: %w", ErrUnauthenticated, err)
	}

	switch {
	case result.Decision == No:
		err := result.Err
		if err == nil {
			err = ErrUnauthenticated
		}
		debug.Log("auth", "credential rejected", "source", cred.Source, "error", err)
		if errors.Is(err, ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	case result.Decision != Yes || result.Identity == nil:
		return nil, ErrUnauthenticated
	case result.Identity.Subject == "":
		return nil, fmt.Errorf("%w: identity has empty subject", ErrUnauthenticated)
	case result.Identity.Expired(v.now()):
		return nil, fmt.Errorf("%w: credential expired", ErrUnauthenticated)
	}

	debug.Log("auth", "credential verified", "subject", result.Identity.Subject, "source", cred.Source)
	return result.Identity, nil
}
