package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/simplecrm/pkg/debug"
	"github.com/rhuss/simplecrm/pkg/observability"
)

// Config tunes connection lifetimes and queueing.
type Config struct {
	// AuthTimeout bounds the authentication phase, including waiting for
	// a first-message credential. Default: 5s.
	AuthTimeout time.Duration

	// IdleTimeout closes connections that send neither a message nor a
	// pong for this long. Default: 60s.
	IdleTimeout time.Duration

	// PingInterval is how often the server pings. Must be shorter than
	// IdleTimeout. Default: IdleTimeout * 9 / 10.
	PingInterval time.Duration

	// WriteTimeout bounds each frame write. Default: 10s.
	WriteTimeout time.Duration

	// SendQueueSize is the per-connection outbound buffer. Default: 64.
	SendQueueSize int

	// MaxMessageBytes limits inbound frames. Default: 64 KiB.
	MaxMessageBytes int64
}

func (c *Config) applyDefaults() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout * 9 / 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
}

// Relay forwards locally originated envelopes to other gateway replicas.
type Relay interface {
	Publish(ctx context.Context, env *Envelope) error
}

// Member describes one connection present in a room.
type Member struct {
	ConnectionID string    `json:"connectionId"`
	Subject      string    `json:"subject"`
	DisplayName  string    `json:"displayName"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// room is the set of connections of one tenant. Slots are reused through
// a free list so leaving never shifts other members.
type room struct {
	tenantID string

	mu    sync.RWMutex
	slots []*Conn
	free  []int
	count int
}

func (rm *room) add(c *Conn) int {
	rm.count++
	if n := len(rm.free); n > 0 {
		slot := rm.free[n-1]
		rm.free = rm.free[:n-1]
		rm.slots[slot] = c
		return slot
	}
	rm.slots = append(rm.slots, c)
	return len(rm.slots) - 1
}

func (rm *room) remove(slot int, c *Conn) bool {
	if slot < 0 || slot >= len(rm.slots) || rm.slots[slot] != c {
		return false
	}
	rm.slots[slot] = nil
	rm.free = append(rm.free, slot)
	rm.count--
	return true
}

// Hub owns all rooms. Lock order is hub then room; fan-out takes only the
// room read lock.
type Hub struct {
	cfg   Config
	relay Relay
	now   func() time.Time

	mu      sync.Mutex
	rooms   map[string]*room
	closing bool
	active  sync.WaitGroup
}

// NewHub creates a hub. relay may be nil for single-replica deployments.
func NewHub(cfg Config, relay Relay) *Hub {
	cfg.applyDefaults()
	return &Hub{
		cfg:   cfg,
		relay: relay,
		now:   time.Now,
		rooms: make(map[string]*room),
	}
}

// Config returns the effective configuration.
func (h *Hub) Config() Config {
	return h.cfg
}

// track registers a connection handler so Shutdown can wait for it.
func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.active.Add(1)
	return true
}

func (h *Hub) untrack() {
	h.active.Done()
}

// join places c in the room of its tenant and queues the joined event
// while holding the room lock, so no broadcast can precede it.
func (h *Hub) join(c *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return ErrHubClosed
	}

	rm, ok := h.rooms[c.tenantID]
	if !ok {
		rm = &room{tenantID: c.tenantID}
		h.rooms[c.tenantID] = rm
		observability.ChatRoomsActive.Inc()
		debug.Log("chat", "room created", "tenant", c.tenantID)
	}

	rm.mu.Lock()
	c.room = rm
	c.slot = rm.add(c)
	c.setState(StateJoined)
	c.enqueue(c.joinedFrame())
	rm.mu.Unlock()

	observability.ChatConnectionsActive.Inc()
	return nil
}

// leave removes c from its room and destroys the room when it empties.
func (h *Hub) leave(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm := c.room
	if rm == nil {
		return
	}

	rm.mu.Lock()
	removed := rm.remove(c.slot, c)
	empty := rm.count == 0
	rm.mu.Unlock()

	if !removed {
		return
	}
	observability.ChatConnectionsActive.Dec()

	if empty && h.rooms[rm.tenantID] == rm {
		delete(h.rooms, rm.tenantID)
		observability.ChatRoomsActive.Dec()
		debug.Log("chat", "room destroyed", "tenant", rm.tenantID)
	}
}

// fanout queues data for every member of rm except skip. It never blocks.
func (h *Hub) fanout(rm *room, skip *Conn, data []byte) (delivered int) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for _, c := range rm.slots {
		if c == nil || c == skip {
			continue
		}
		if c.enqueue(data) {
			delivered++
		}
	}
	return delivered
}

// publish sends a locally originated envelope to the local room and, when
// configured, to the other replicas.
func (h *Hub) publish(ctx context.Context, from *Conn, env *Envelope) error {
	data, err := encodeMessage(env)
	if err != nil {
		return err
	}
	n := h.fanout(from.room, from, data)
	observability.ChatMessagesRelayedTotal.WithLabelValues("local").Inc()
	debug.Log("chat", "message relayed", "tenant", env.TenantID, "sender", env.SenderID, "recipients", n)

	if h.relay != nil {
		if err := h.relay.Publish(ctx, env); err != nil {
			slog.Warn("chat relay publish failed", "tenant", env.TenantID, "error", err)
		}
	}
	return nil
}

// Deliver fans out an envelope received from another replica to every
// local member of the envelope's tenant room.
func (h *Hub) Deliver(env *Envelope) {
	if env == nil || env.TenantID == "" {
		return
	}
	data, err := encodeMessage(env)
	if err != nil {
		slog.Warn("chat: dropping undeliverable envelope", "tenant", env.TenantID, "error", err)
		return
	}

	h.mu.Lock()
	rm := h.rooms[env.TenantID]
	h.mu.Unlock()
	if rm == nil {
		return
	}

	n := h.fanout(rm, nil, data)
	observability.ChatMessagesRelayedTotal.WithLabelValues("remote").Inc()
	debug.Log("relay", "remote message delivered", "tenant", env.TenantID, "sender", env.SenderID, "recipients", n)
}

// Members lists the connections present in a tenant's room, ordered by
// join time.
func (h *Hub) Members(tenantID string) []Member {
	h.mu.Lock()
	rm := h.rooms[tenantID]
	h.mu.Unlock()
	if rm == nil {
		return []Member{}
	}

	rm.mu.RLock()
	out := make([]Member, 0, rm.count)
	for _, c := range rm.slots {
		if c == nil {
			continue
		}
		out = append(out, Member{
			ConnectionID: c.id,
			Subject:      c.identity.Subject,
			DisplayName:  c.identity.Name(),
			JoinedAt:     c.joinedAt,
		})
	}
	rm.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Rooms returns the number of live rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown closes every connection with reason server_shutdown, refuses
// new ones, and waits for their handlers to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	var conns []*Conn
	for _, rm := range h.rooms {
		rm.mu.RLock()
		for _, c := range rm.slots {
			if c != nil {
				conns = append(conns, c)
			}
		}
		rm.mu.RUnlock()
	}
	h.mu.Unlock()

	slog.Info("chat hub shutting down", "connections", len(conns))
	for _, c := range conns {
		c.Close(CloseServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
