// Package notify publishes batched VFS change notifications to
// subscribers over WebSocket, adapted from a dashboard metrics
// broadcaster: one goroutine owns the connection set and a ticker
// drives periodic flushes.
package notify

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/worph/meta-sort/internal/observability"
)

const maxConnections = 200

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Change is one VFS change entry inside a batch.
type Change struct {
	Action string `json:"action"`
	Hash   string `json:"hash"`
}

// Batch is the payload flushed to subscribers every interval.
type Batch struct {
	Timestamp int64    `json:"timestamp"`
	Changes   []Change `json:"changes"`
}

// ResetMessage invalidates every downstream cache.
type ResetMessage struct {
	Action string `json:"action"`
}

// Hub fans batched change notifications out to WebSocket subscribers.
type Hub struct {
	mu      sync.Mutex
	pending map[string]string // hash -> last action, dedup by hash
	clients map[*websocket.Conn]bool

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	interval   time.Duration
}

// NewHub constructs a Hub; call Run to start its broadcaster goroutine.
func NewHub(interval time.Duration) *Hub {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		pending:    make(map[string]string),
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		interval:   interval,
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	full := len(h.clients) >= maxConnections
	h.mu.Unlock()
	if full {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notify: upgrade failed: %v", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish records a change, deduplicated by hash (last write wins)
// until the next flush.
func (h *Hub) Publish(action, hash string) {
	h.mu.Lock()
	h.pending[hash] = action
	h.mu.Unlock()
}

// Reset broadcasts an immediate cache-invalidation message.
func (h *Hub) Reset() {
	h.broadcast(ResetMessage{Action: "reset"})
}

// Run drives the registration loop and the periodic flush until stop
// is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		case <-ticker.C:
			h.flush()
		}
	}
}

func (h *Hub) flush() {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		return
	}
	changes := make([]Change, 0, len(h.pending))
	snapshot := make(map[string]string, len(h.pending))
	for hash, action := range h.pending {
		changes = append(changes, Change{Action: action, Hash: hash})
		snapshot[hash] = action
	}
	h.pending = make(map[string]string)
	h.mu.Unlock()

	data, err := json.Marshal(Batch{Timestamp: time.Now().UnixMilli(), Changes: changes})
	if err != nil {
		h.mu.Lock()
		for hash, action := range snapshot {
			if _, still := h.pending[hash]; !still {
				h.pending[hash] = action
			}
		}
		h.mu.Unlock()
		observability.BatchFlushes.WithLabelValues("marshal_error").Inc()
		return
	}
	h.broadcastRaw(data)
	observability.BatchFlushes.WithLabelValues("ok").Inc()
}

func (h *Hub) broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.broadcastRaw(data)
}

func (h *Hub) broadcastRaw(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}
