package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/simplecrm/pkg/api"
	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/authz"
	"github.com/rhuss/simplecrm/pkg/debug"
	"github.com/rhuss/simplecrm/pkg/transport"
)

// Authorizer is satisfied by *authz.Pipeline.
type Authorizer interface {
	Authorize(ctx context.Context, in authz.Input) (*authz.Context, error)
}

// Gateway upgrades HTTP requests to chat connections.
type Gateway struct {
	hub      *Hub
	authz    Authorizer
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway. checkOrigin decides which browser origins
// may open connections; nil applies gorilla's same-origin check.
func NewGateway(hub *Hub, a Authorizer, checkOrigin func(*http.Request) bool) *Gateway {
	return &Gateway{
		hub:   hub,
		authz: a,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: hub.cfg.AuthTimeout,
			CheckOrigin:      checkOrigin,
		},
	}
}

// ServeHTTP runs one connection from upgrade to close.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.hub.track() {
		transport.WriteAPIError(w, api.NewServiceUnavailableError("chat is shutting down"))
		return
	}
	defer g.hub.untrack()

	var header http.Header
	if p := selectSubprotocol(r); p != "" {
		header = http.Header{"Sec-Websocket-Protocol": {p}}
	}
	ws, err := g.upgrader.Upgrade(w, r, header)
	if err != nil {
		debug.Log("chat", "upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(r.Context(), g.hub, ws)
	c.setState(StateAuthenticating)

	ac, err := g.authenticate(r, c)
	if err != nil {
		kind := authz.KindOf(err)
		slog.Warn("chat authentication failed",
			"request_id", transport.RequestIDFromContext(r.Context()),
			"remote_addr", r.RemoteAddr,
			"kind", kind.String(),
			"error", err,
		)
		c.reject(kind.String(), kind.APIError().Message, CloseAuthFailed)
		return
	}
	c.bind(ac)

	if err := g.hub.join(c); err != nil {
		c.reject(codeShutdown, err.Error(), CloseServerShutdown)
		return
	}

	slog.Info("chat connection joined",
		"conn", c.id,
		"subject", c.identity.Subject,
		"tenant", c.tenantID,
		"remote_addr", r.RemoteAddr,
	)

	go c.writeLoop()
	c.readLoop()

	g.hub.leave(c)
	<-c.writerDone

	slog.Info("chat connection closed",
		"conn", c.id,
		"tenant", c.tenantID,
		"reason", c.reason,
	)
}

// authenticate resolves the connection's authorization context from the
// handshake credential or, failing that, a first "auth" frame.
func (g *Gateway) authenticate(r *http.Request, c *Conn) (*authz.Context, error) {
	timeout := g.hub.cfg.AuthTimeout
	deadline := time.Now().Add(timeout)

	cred := auth.HandshakeCredential(r)
	hint := r.URL.Query().Get("tenant")

	if cred.Empty() {
		msg, err := c.readAuthFrame(deadline)
		if err != nil {
			return nil, &authz.Error{Kind: authz.KindUnauthenticated, Err: err}
		}
		cred = auth.Credential{Token: msg.Token, Source: auth.SourceMessage}
		if msg.TenantID != "" {
			hint = msg.TenantID
		}
	}

	ctx, cancel := context.WithDeadline(r.Context(), deadline)
	defer cancel()
	return g.authz.Authorize(ctx, authz.Input{Credential: cred, TenantHint: hint})
}

// readAuthFrame waits for {"type":"auth","token":...} until deadline.
func (c *Conn) readAuthFrame(deadline time.Time) (*inbound, error) {
	c.ws.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	c.ws.SetReadDeadline(deadline)
	defer c.ws.SetReadDeadline(time.Time{})

	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: no credential within auth timeout", auth.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: reading auth frame: %w", auth.ErrUnauthenticated, err)
	}
	if mt != websocket.TextMessage {
		return nil, fmt.Errorf("%w: auth frame must be text", auth.ErrUnauthenticated)
	}

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != EventAuth {
		return nil, fmt.Errorf("%w: first frame is not an auth frame", auth.ErrUnauthenticated)
	}
	if strings.TrimSpace(msg.Token) == "" {
		return nil, fmt.Errorf("%w: auth frame has no token", auth.ErrUnauthenticated)
	}
	return &msg, nil
}

// reject writes an error frame and a close frame, then drops the
// transport. Used before the writer goroutine exists.
func (c *Conn) reject(code, message string, reason CloseReason) {
	c.Close(reason)
	c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
	_ = c.ws.WriteMessage(websocket.TextMessage, encodeError(code, message))
	c.writeClose(reason)
	c.ws.Close()
}

// selectSubprotocol echoes the bearer subprotocol a client offered, which
// browsers require before they accept the handshake.
func selectSubprotocol(r *http.Request) string {
	prefix := auth.BearerSubprotocol + "."
	for _, p := range websocket.Subprotocols(r) {
		if strings.EqualFold(p, auth.BearerSubprotocol) || strings.HasPrefix(strings.ToLower(p), prefix) {
			return p
		}
	}
	return ""
}
