// Package hub fans workflow state out to websocket viewers.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// PongWait is how long a viewer may stay silent before its read fails.
	PongWait = 60 * time.Second
	// PingPeriod must stay below PongWait so pongs keep idle viewers alive.
	PingPeriod = PongWait * 9 / 10

	writeWait = 10 * time.Second
)

type registration struct {
	conn    *websocket.Conn
	initial []byte
}

// Hub owns every viewer connection; only Run writes to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *zap.Logger
	pingPeriod time.Duration

	// Broadcasts coalesce: viewers only need the newest snapshot.
	latestMu sync.Mutex
	latest   []byte
	pending  chan struct{}
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger.Named("state_hub"),
		pingPeriod: PingPeriod,
		pending:    make(chan struct{}, 1),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case reg := <-h.register:
			h.mutex.Lock()
			h.clients[reg.conn] = true
			total := len(h.clients)
			h.mutex.Unlock()
			if reg.initial != nil {
				h.send(reg.conn, websocket.TextMessage, reg.initial)
			}
			h.logger.Info("viewer connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("viewer disconnected", zap.Int("total", total))

		case <-h.pending:
			h.latestMu.Lock()
			message := h.latest
			h.latest = nil
			h.latestMu.Unlock()
			if message == nil {
				continue
			}
			for _, client := range h.snapshotClients() {
				h.send(client, websocket.TextMessage, message)
			}

		case <-ticker.C:
			for _, client := range h.snapshotClients() {
				h.send(client, websocket.PingMessage, nil)
			}
		}
	}
}

func (h *Hub) snapshotClients() []*websocket.Conn {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) send(client *websocket.Conn, messageType int, message []byte) {
	client.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.WriteMessage(messageType, message); err != nil {
		h.logger.Warn("dropping viewer after failed write", zap.Error(err))
		h.mutex.Lock()
		delete(h.clients, client)
		h.mutex.Unlock()
		client.Close()
	}
}

// Register adds a viewer; initial, when non-nil, is sent to it first.
func (h *Hub) Register(client *websocket.Conn, initial []byte) {
	select {
	case h.register <- registration{conn: client, initial: initial}:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast hands message to Run and never blocks. A message not yet
// written is replaced by a newer one.
func (h *Hub) Broadcast(message []byte) {
	h.latestMu.Lock()
	h.latest = message
	h.latestMu.Unlock()

	select {
	case h.pending <- struct{}{}:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
