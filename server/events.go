package server

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/recallkit/recall/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is same-host tooling; no origin allowlist.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub fans memory lifecycle events out to websocket subscribers. It
// implements memory.Notifier, so the manager pushes events as they
// happen. Slow subscribers are dropped rather than backpressuring
// writes.
type hub struct {
	subscribers map[*subscriber]struct{}
	mu          sync.RWMutex
}

type subscriber struct {
	conn   *websocket.Conn
	send   chan core.Event
	userID string // empty subscribes to all users
}

func newHub() *hub {
	return &hub{subscribers: make(map[*subscriber]struct{})}
}

// Notify implements memory.Notifier.
func (h *hub) Notify(event core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if sub.userID != "" && sub.userID != event.UserID {
			continue
		}
		select {
		case sub.send <- event:
		default:
			// Buffer full; the subscriber misses this event.
		}
	}
}

func (h *hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
	close(sub.send)
}

// handleEvents upgrades the connection and streams events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Websocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{
		conn:   conn,
		send:   make(chan core.Event, 64),
		userID: r.URL.Query().Get("user_id"),
	}
	s.hub.add(sub)

	// Reader loop detects disconnects; inbound frames are discarded.
	go func() {
		defer func() {
			s.hub.remove(sub)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		for event := range sub.send {
			if err := conn.WriteJSON(event); err != nil {
				conn.Close()
				return
			}
		}
	}()
}
