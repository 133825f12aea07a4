// Package wshub implements WsHub: a per-subscriber filtered fan-out of
// SessionSupervisor events, with a live-updated ACL per connection. The
// connection lifecycle, bounded send channel, heartbeat ticker, and
// broadcast-drop-on-full behavior are generalized from
// internal/streaming/chat_stream_hub.go's ChatStreamHub/ChatSubscriber split;
// unlike that hub, a connection here is scoped by account+ACL rather than by
// chat, and a full send buffer counts toward a disconnect threshold instead
// of only ever being dropped (SPEC_FULL.md §9.1 resolves this as an
// explicitly open design question in favor of drop-then-disconnect).
package wshub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/wadomain"
)

// CloseACLEmpty is the policy close code used when a connection's allowed
// label set becomes empty (SPEC_FULL.md §6.4).
const CloseACLEmpty = 4403

// Filter narrows a subscription beyond a connection's ACL (SPEC_FULL.md §4.6).
type Filter struct {
	Sessions []string
	Types    []string
	Chats    []string
	FromMe   *bool
}

func (f *Filter) matches(evt wadomain.Event) bool {
	if f == nil {
		return true
	}
	if len(f.Sessions) > 0 && !contains(f.Sessions, evt.Label) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, string(evt.Type)) {
		return false
	}
	if len(f.Chats) > 0 {
		if evt.Message == nil || !contains(f.Chats, evt.Message.ChatID) {
			return false
		}
	}
	if f.FromMe != nil {
		if evt.Message == nil || evt.Message.FromMe != *f.FromMe {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Conn is the outbound half of one upgraded connection.
type Conn struct {
	id        string
	accountID string
	conn      *websocket.Conn
	sendCh    chan []byte

	mu      sync.Mutex
	allowed map[string]struct{}
	filter  *Filter

	dropStreak  int
	pingPending bool // true from the moment a ping is sent until its pong arrives

	ctx    chan struct{} // closed on disconnect
	closed bool
}

// Hub is WsHub.
type Hub struct {
	log *logger.Logger

	bufferSize    int
	dropThreshold int
	heartbeat     time.Duration
	maxConns      int

	mu    sync.RWMutex
	conns map[string]*Conn
	wg    sync.WaitGroup
}

// New creates a WsHub.
func New(log *logger.Logger, bufferSize, dropThreshold, maxConns int, heartbeat time.Duration) *Hub {
	return &Hub{
		log:           log.WithComponent("ws_hub"),
		bufferSize:    bufferSize,
		dropThreshold: dropThreshold,
		maxConns:      maxConns,
		heartbeat:     heartbeat,
		conns:         make(map[string]*Conn),
	}
}

// Register adds an upgraded connection with its initial ACL. The caller is
// responsible for having already verified the bearer token and resolved the
// allowed label set (SPEC_FULL.md §4.6 step 1).
func (h *Hub) Register(accountID string, allowed []string, ws *websocket.Conn) (*Conn, error) {
	h.mu.Lock()
	if len(h.conns) >= h.maxConns {
		h.mu.Unlock()
		return nil, errTooManyConnections
	}
	c := &Conn{
		id:        uuid.NewString(),
		accountID: accountID,
		conn:      ws,
		sendCh:    make(chan []byte, h.bufferSize),
		allowed:   toSet(allowed),
		ctx:       make(chan struct{}),
	}
	h.conns[c.id] = c
	h.mu.Unlock()

	ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.pingPending = false
		c.mu.Unlock()
		return nil
	})

	h.wg.Add(1)
	go h.sendLoop(c)

	h.sendHello(c, allowed)
	return c, nil
}

func toSet(labels []string) map[string]struct{} {
	s := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

var errTooManyConnections = &hubError{"wshub: connection limit reached"}

type hubError struct{ msg string }

func (e *hubError) Error() string { return e.msg }

// UpdateACL applies a live ACL change (SPEC_FULL.md §4.6 step 2). An empty
// new ACL closes the connection with CloseACLEmpty.
func (h *Hub) UpdateACL(connID string, allowed []string) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.allowed = toSet(allowed)
	c.mu.Unlock()

	if len(allowed) == 0 {
		h.closeWithCode(c, CloseACLEmpty, "acl empty")
		return
	}
	h.writeJSON(c, map[string]interface{}{"type": "acl_update", "sessions": allowed})
}

func (h *Hub) sendHello(c *Conn, allowed []string) {
	h.writeJSON(c, map[string]interface{}{"type": "hello", "accountId": c.accountID, "sessions": allowed})
}

// SetFilter applies a client-sent subscribe message, narrowing (never
// widening) the connection's visible sessions/types/chats.
func (h *Hub) SetFilter(connID string, f Filter) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	c.mu.Lock()
	narrowed := make([]string, 0, len(f.Sessions))
	for _, s := range f.Sessions {
		if _, allowed := c.allowed[s]; allowed {
			narrowed = append(narrowed, s)
		}
	}
	f.Sessions = narrowed
	c.filter = &f
	c.mu.Unlock()

	h.writeJSON(c, map[string]interface{}{"type": "subscribed", "sessions": f.Sessions, "filters": f})
}

// Broadcast fans an event out to every connection whose ACL and filter
// admit it. Delivery is best-effort and never blocks the emitter
// (SPEC_FULL.md §4.6, §5).
func (h *Hub) Broadcast(evt wadomain.Event) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("failed to marshal event for broadcast", slog.String("error", err.Error()))
		return
	}

	for _, c := range conns {
		if c.accountID != evt.AccountID {
			continue
		}
		c.mu.Lock()
		_, allowed := c.allowed[evt.Label]
		matches := allowed && c.filter.matches(evt)
		c.mu.Unlock()
		if !matches {
			continue
		}
		h.send(c, data)
	}
}

func (h *Hub) writeJSON(c *Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.send(c, data)
}

// send is non-blocking: a full channel counts as a drop, and repeated drops
// past dropThreshold disconnect the subscriber rather than degrade it
// silently forever (SPEC_FULL.md §9.1's drop-then-disconnect resolution).
func (h *Hub) send(c *Conn, data []byte) {
	select {
	case c.sendCh <- data:
		c.mu.Lock()
		c.dropStreak = 0
		c.mu.Unlock()
	default:
		c.mu.Lock()
		c.dropStreak++
		streak := c.dropStreak
		c.mu.Unlock()
		h.log.Warn("subscriber channel full, dropping message", slog.String("conn_id", c.id), slog.Int("drop_streak", streak))
		if streak >= h.dropThreshold {
			h.closeWithCode(c, websocket.CloseMessageTooBig, "too many dropped messages")
		}
	}
}

func (h *Hub) sendLoop(c *Conn) {
	defer h.wg.Done()
	defer h.unregister(c)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			unacked := c.pingPending
			c.pingPending = true
			c.mu.Unlock()
			if unacked {
				h.log.Warn("previous ping unacknowledged, terminating connection", slog.String("conn_id", c.id))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx:
			return
		}
	}
}

func (h *Hub) closeWithCode(c *Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	h.unregister(c)
}

func (h *Hub) unregister(c *Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.ctx)
	c.conn.Close()

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// Unregister removes a connection, e.g. on client disconnect detected by the
// upgrade handler's read loop.
func (h *Hub) Unregister(connID string) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		h.unregister(c)
	}
}

// ID returns a connection's identifier.
func (c *Conn) ID() string { return c.id }

// Close shuts the hub down, disconnecting every subscriber and waiting for
// their send loops to exit.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.unregister(c)
	}
	h.wg.Wait()
}

// ConnectionCount reports the number of live connections (for /metrics).
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
