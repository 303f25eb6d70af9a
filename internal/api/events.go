package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ti-tracker/internal/engine"
	"ti-tracker/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Loopback server; the dashboard may be served from a dev port.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 64
)

// Hub fans collector notifications out to websocket subscribers. A slow
// client gets dropped rather than backing up the ingest path.
type Hub struct {
	mu      sync.Mutex
	clients map[chan engine.Note]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan engine.Note]struct{})}
}

// Broadcast delivers a note to every subscriber without blocking. Safe to
// call from the collector goroutine.
func (h *Hub) Broadcast(n engine.Note) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- n:
		default:
			// Buffer full: the reader is stuck, cut it loose.
			delete(h.clients, ch)
			close(ch)
		}
	}
}

func (h *Hub) subscribe() chan engine.Note {
	ch := make(chan engine.Note, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan engine.Note) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// ClientCount reports connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("API", "websocket upgrade: %v", err)
		return
	}
	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)
	defer conn.Close()

	// Reader goroutine: we never expect client messages, but reading is
	// how close frames and connection drops surface.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case note, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(note); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
