package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rhuss/simplecrm/pkg/auth"
	"github.com/rhuss/simplecrm/pkg/authz"
	"github.com/rhuss/simplecrm/pkg/debug"
	"github.com/rhuss/simplecrm/pkg/observability"
	"github.com/rhuss/simplecrm/pkg/storage"
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one websocket client. After join it is bound to a single
// tenant room for its whole life.
type Conn struct {
	id  string
	hub *Hub
	ws  *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	// Set once before join, read-only afterwards.
	identity *auth.Identity
	tenantID string
	role     storage.Role
	joinedAt time.Time
	room     *room
	slot     int

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	reason     CloseReason
	state      atomic.Int32

	tsMu   sync.Mutex
	lastTS int64
}

func newConn(ctx context.Context, h *Hub, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		id:         uuid.NewString(),
		hub:        h,
		ws:         ws,
		ctx:        ctx,
		cancel:     cancel,
		slot:       -1,
		send:       make(chan []byte, h.cfg.SendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.setState(StateConnecting)
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// TenantID returns the tenant the connection was authorized for.
func (c *Conn) TenantID() string { return c.tenantID }

// State returns the current lifecycle stage.
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) bind(ac *authz.Context) {
	c.identity = ac.Identity
	c.tenantID = ac.TenantID
	c.role = ac.Role
	c.joinedAt = c.hub.now()
}

func (c *Conn) joinedFrame() []byte {
	data, _ := json.Marshal(joinedEvent{
		Type:         EventJoined,
		TenantID:     c.tenantID,
		ConnectionID: c.id,
		Subject:      c.identity.Subject,
	})
	return data
}

// Broadcast stamps payload with the sender and relays it to every other
// member of the connection's room.
func (c *Conn) Broadcast(payload json.RawMessage) error {
	if c.State() != StateJoined {
		return ErrConnectionClosed
	}
	env := &Envelope{
		SenderID:   c.identity.Subject,
		SenderName: c.identity.Name(),
		TenantID:   c.tenantID,
		Timestamp:  c.nextTimestamp(),
		Payload:    payload,
	}
	return c.hub.publish(c.ctx, c, env)
}

// nextTimestamp returns wall-clock milliseconds, bumped so that values are
// strictly increasing per connection.
func (c *Conn) nextTimestamp() int64 {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()
	ts := c.hub.now().UnixMilli()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// enqueue hands data to the writer without blocking. It reports false
// when the message was dropped.
func (c *Conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		observability.ChatMessagesDroppedTotal.WithLabelValues("closed").Inc()
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		observability.ChatMessagesDroppedTotal.WithLabelValues("queue_full").Inc()
		debug.Log("chat", "send queue full, dropping message", "conn", c.id, "tenant", c.tenantID)
		return false
	}
}

// Close ends the connection with reason. Only the first call has effect.
func (c *Conn) Close(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.reason = reason
		c.setState(StateClosed)
		close(c.done)
		c.cancel()
		observability.ChatClosesTotal.WithLabelValues(string(reason)).Inc()
		debug.Log("chat", "connection closing", "conn", c.id, "tenant", c.tenantID, "reason", reason)
	})
}

// writeLoop is the only writer of data frames once the connection joined.
// Nothing queued is written once Close has been called.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case data := <-c.send:
			if c.closed() {
				c.writeClose(c.reason)
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				debug.Log("chat", "write failed", "conn", c.id, "error", err)
				c.Close(CloseClientDisconnect)
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				c.Close(CloseClientDisconnect)
			}
		case <-c.done:
			c.writeClose(c.reason)
			return
		}
	}
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) writeClose(reason CloseReason) {
	msg := websocket.FormatCloseMessage(reason.code(), string(reason))
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.cfg.WriteTimeout))
}

// readLoop consumes client frames until the transport fails or the idle
// deadline passes.
func (c *Conn) readLoop() {
	idle := c.hub.cfg.IdleTimeout
	c.ws.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				c.Close(CloseIdleTimeout)
			} else {
				c.Close(CloseClientDisconnect)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(idle))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(encodeError(codeBadMessage, "frame is not valid JSON"))
			continue
		}
		// Clients that authenticated in the handshake may still send an
		// auth frame.
		if msg.Type == EventAuth {
			continue
		}
		if len(msg.Payload) == 0 {
			c.enqueue(encodeError(codeBadMessage, "payload is required"))
			continue
		}
		if err := c.Broadcast(msg.Payload); err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				return
			}
			c.enqueue(encodeError(codeBadMessage, "payload could not be relayed"))
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
