package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/simplecrm/pkg/auth"
)

// testKeyPair holds the RSA key pair used throughout the tests.
var testKeyPair *rsa.PrivateKey

func init() {
	var err error
	testKeyPair, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("generating test RSA key: %v", err))
	}
}

const (
	testKID    = "test-key-1"
	testSecret = "crm-shared-secret"
)

// jwksHandler serves the test public key as a JWKS and counts fetches.
func jwksHandler(fetchCount *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fetchCount != nil {
			fetchCount.Add(1)
		}

		pubKey := testKeyPair.PublicKey
		jwks := map[string]interface{}{
			"keys": []map[string]string{
				{
					"kty": "RSA",
					"kid": testKID,
					"use": "sig",
					"n":   base64.RawURLEncoding.EncodeToString(pubKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pubKey.E)).Bytes()),
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}
}

// createRSAToken creates a JWT signed with the test private key.
func createRSAToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	token.Header["kid"] = testKID

	tokenStr, err := token.SignedString(testKeyPair)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return tokenStr
}

// createHMACToken creates an HS256 token with the given secret.
func createHMACToken(t *testing.T, secret string, claims jwtlib.MapClaims) string {
	t.Helper()
	tokenStr, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return tokenStr
}

func validClaims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub": "user-123",
		"iss": "https://auth.example.com",
		"aud": "my-api",
		"exp": time.Now().Add(1 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func bearer(token string) auth.Credential {
	return auth.Credential{Token: token, Source: auth.SourceHeader}
}

// newTestAuthenticator creates a test JWKS server and a JWT authenticator
// accepting both the shared secret and the JWKS keys.
func newTestAuthenticator(t *testing.T, cfgOverride func(*Config), fetchCount *atomic.Int32) *Authenticator {
	t.Helper()

	server := httptest.NewServer(jwksHandler(fetchCount))
	t.Cleanup(server.Close)

	cfg := Config{
		Secret:   testSecret,
		Issuer:   "https://auth.example.com",
		Audience: "my-api",
		JWKSURL:  server.URL + "/.well-known/jwks.json",
		CacheTTL: 1 * time.Hour,
	}

	if cfgOverride != nil {
		cfgOverride(&cfg)
	}

	authn, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return authn
}

func TestNew_RequiresKeySource(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without secret or JWKS URL")
	}
}

func TestJWT_ValidRSAToken(t *testing.T) {
	authn := newTestAuthenticator(t, nil, nil)

	claims := validClaims()
	claims["name"] = "Ada Lovelace"
	claims["tenant_id"] = "acme"

	result := authn.Authenticate(context.Background(), bearer(createRSAToken(t, claims)))

	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
	}
	id := result.Identity
	if id.Subject != "user-123" {
		t.Errorf("Subject = %q, want %q", id.Subject, "user-123")
	}
	if id.DisplayName != "Ada Lovelace" {
		t.Errorf("DisplayName = %q, want Ada Lovelace", id.DisplayName)
	}
	if id.DefaultTenant != "acme" {
		t.Errorf("DefaultTenant = %q, want acme", id.DefaultTenant)
	}
	if id.ExpiresAt.IsZero() || id.IssuedAt.IsZero() {
		t.Errorf("lifetime not populated: iat=%v exp=%v", id.IssuedAt, id.ExpiresAt)
	}
}

func TestJWT_ValidHMACToken(t *testing.T) {
	authn := newTestAuthenticator(t, nil, nil)

	claims := validClaims()
	claims["sub"] = float64(42)

	result := authn.Authenticate(context.Background(), bearer(createHMACToken(t, testSecret, claims)))

	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
	}
	if result.Identity.Subject != "42" {
		t.Errorf("Subject = %q, want numeric subject formatted as 42", result.Identity.Subject)
	}
}

func TestJWT_Rejections(t *testing.T) {
	authn := newTestAuthenticator(t, nil, nil)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-1 * time.Hour).Unix()

	noExp := validClaims()
	delete(noExp, "exp")

	wrongAud := validClaims()
	wrongAud["aud"] = "wrong-api"

	wrongIss := validClaims()
	wrongIss["iss"] = "https://evil.example.com"

	noSub := validClaims()
	delete(noSub, "sub")

	tamperedSig := createHMACToken(t, "other-secret", validClaims())

	tests := []struct {
		name  string
		token string
	}{
		{"expired", createRSAToken(t, expired)},
		{"missing exp", createRSAToken(t, noExp)},
		{"wrong audience", createRSAToken(t, wrongAud)},
		{"wrong issuer", createRSAToken(t, wrongIss)},
		{"missing sub", createRSAToken(t, noSub)},
		{"wrong secret", tamperedSig},
		{"malformed segments", "eyJhbGciOiJSUzI1NiJ9.invalid.payload"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := authn.Authenticate(context.Background(), bearer(tc.token))
			if result.Decision != auth.No {
				t.Fatalf("Decision = %d, want No", result.Decision)
			}
			if result.Err == nil {
				t.Error("expected an error on No")
			}
		})
	}
}

func TestJWT_AbstainsOnNonJWT(t *testing.T) {
	authn := newTestAuthenticator(t, nil, nil)

	for _, token := range []string{"", "sk-live-api-key", "a.b"} {
		t.Run(token, func(t *testing.T) {
			result := authn.Authenticate(context.Background(), bearer(token))
			if result.Decision != auth.Abstain {
				t.Fatalf("Decision = %d, want Abstain", result.Decision)
			}
		})
	}
}

func TestJWT_HMACDisabledWithoutSecret(t *testing.T) {
	authn := newTestAuthenticator(t, func(cfg *Config) { cfg.Secret = "" }, nil)

	result := authn.Authenticate(context.Background(), bearer(createHMACToken(t, testSecret, validClaims())))
	if result.Decision != auth.No {
		t.Fatalf("Decision = %d, want No for HS256 without a configured secret", result.Decision)
	}
}

func TestJWT_ScopesExtraction(t *testing.T) {
	authn := newTestAuthenticator(t, nil, nil)

	tests := []struct {
		name  string
		scope interface{}
		want  []string
	}{
		{"space-separated string", "read write admin", []string{"read", "write", "admin"}},
		{"json array", []interface{}{"read", "write"}, []string{"read", "write"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := validClaims()
			claims["scope"] = tc.scope

			result := authn.Authenticate(context.Background(), bearer(createRSAToken(t, claims)))
			if result.Decision != auth.Yes {
				t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
			}
			if len(result.Identity.Scopes) != len(tc.want) {
				t.Fatalf("Scopes = %v, want %v", result.Identity.Scopes, tc.want)
			}
			for i, s := range tc.want {
				if result.Identity.Scopes[i] != s {
					t.Errorf("Scopes[%d] = %q, want %q", i, result.Identity.Scopes[i], s)
				}
			}
		})
	}
}

func TestJWT_JWKSCaching(t *testing.T) {
	var fetchCount atomic.Int32
	authn := newTestAuthenticator(t, nil, &fetchCount)

	token := createRSAToken(t, validClaims())

	for i := 0; i < 5; i++ {
		result := authn.Authenticate(context.Background(), bearer(token))
		if result.Decision != auth.Yes {
			t.Fatalf("request %d: Decision = %d, want Yes; err=%v", i, result.Decision, result.Err)
		}
	}

	if count := fetchCount.Load(); count != 1 {
		t.Errorf("JWKS fetch count = %d, want 1 (caching broken)", count)
	}
}

func TestJWT_UnknownKidThrottled(t *testing.T) {
	var fetchCount atomic.Int32
	authn := newTestAuthenticator(t, nil, &fetchCount)

	// Prime the cache.
	authn.Authenticate(context.Background(), bearer(createRSAToken(t, validClaims())))

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, validClaims())
	token.Header["kid"] = "rotated-away"
	tokenStr, err := token.SignedString(testKeyPair)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if result := authn.Authenticate(context.Background(), bearer(tokenStr)); result.Decision != auth.No {
			t.Fatalf("Decision = %d, want No for unknown kid", result.Decision)
		}
	}

	if count := fetchCount.Load(); count != 1 {
		t.Errorf("JWKS fetch count = %d, want 1 (unknown kid should not force refetch)", count)
	}
}

func TestJWT_CustomClaims(t *testing.T) {
	authn := newTestAuthenticator(t, func(cfg *Config) {
		cfg.UserClaim = "email"
		cfg.NameClaim = "display"
		cfg.TenantClaim = "org_id"
		cfg.ScopesClaim = "permissions"
	}, nil)

	claims := validClaims()
	delete(claims, "sub")
	claims["email"] = "alice@example.com"
	claims["display"] = "Alice"
	claims["org_id"] = "org-custom"
	claims["permissions"] = "read write"

	result := authn.Authenticate(context.Background(), bearer(createRSAToken(t, claims)))

	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
	}
	if result.Identity.Subject != "alice@example.com" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "alice@example.com")
	}
	if result.Identity.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", result.Identity.DisplayName)
	}
	if result.Identity.DefaultTenant != "org-custom" {
		t.Errorf("DefaultTenant = %q, want %q", result.Identity.DefaultTenant, "org-custom")
	}
	if len(result.Identity.Scopes) != 2 {
		t.Errorf("Scopes = %v, want [read write]", result.Identity.Scopes)
	}
}

func TestJWT_NoIssuerOrAudienceValidation(t *testing.T) {
	authn := newTestAuthenticator(t, func(cfg *Config) {
		cfg.Issuer = ""
		cfg.Audience = ""
	}, nil)

	claims := validClaims()
	claims["iss"] = "https://any-issuer.example.com"
	claims["aud"] = "any-api"

	result := authn.Authenticate(context.Background(), bearer(createRSAToken(t, claims)))
	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
	}
}
