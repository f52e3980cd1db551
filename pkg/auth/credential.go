package auth

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// CredentialSource records where a credential was found.
type CredentialSource string

const (
	SourceNone        CredentialSource = ""
	SourceHeader      CredentialSource = "header"
	SourceQuery       CredentialSource = "query"
	SourceSubprotocol CredentialSource = "subprotocol"
	SourceMessage     CredentialSource = "message"
)

// BearerSubprotocol is the websocket subprotocol that carries a credential
// for browser clients, which cannot set headers on the handshake. Clients
// offer either "bearer.<base64url token>" or "bearer" followed by the
// encoded token as the next protocol.
const BearerSubprotocol = "bearer"

// Credential is a raw bearer token plus where it came from.
type Credential struct {
	Token  string
	Source CredentialSource
}

// Empty reports whether no token was supplied.
func (c Credential) Empty() bool {
	return c.Token == ""
}

// BearerCredential extracts the token from the Authorization header.
// A non-Bearer scheme yields an empty credential.
func BearerCredential(r *http.Request) Credential {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Credential{}
	}
	return Credential{Token: strings.TrimSpace(token), Source: SourceHeader}
}

// HandshakeCredential extracts a credential from a websocket upgrade
// request. The Authorization header wins, then the bearer subprotocol,
// then the "token" query parameter.
func HandshakeCredential(r *http.Request) Credential {
	if cred := BearerCredential(r); !cred.Empty() {
		return cred
	}
	if token := subprotocolToken(r); token != "" {
		return Credential{Token: token, Source: SourceSubprotocol}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return Credential{Token: token, Source: SourceQuery}
	}
	return Credential{}
}

func subprotocolToken(r *http.Request) string {
	protocols := websocket.Subprotocols(r)
	prefix := BearerSubprotocol + "."
	for i, protocol := range protocols {
		if strings.EqualFold(protocol, BearerSubprotocol) && i+1 < len(protocols) {
			return decodeSubprotocolToken(protocols[i+1])
		}
		if len(protocol) > len(prefix) && strings.EqualFold(protocol[:len(prefix)], prefix) {
			return decodeSubprotocolToken(protocol[len(prefix):])
		}
	}
	return ""
}

// decodeSubprotocolToken accepts unpadded base64url. Anything else is used
// verbatim since JWTs are already subprotocol-safe.
func decodeSubprotocolToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Count(raw, ".") == 2 {
		return raw
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	return raw
}
