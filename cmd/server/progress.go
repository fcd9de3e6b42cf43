package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"docfill/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same policy as the CORS middleware
	},
}

const writeWait = 10 * time.Second

// progressMessage is the websocket frame: a status snapshot on connect,
// then one event per pipeline notification.
type progressMessage struct {
	Type string      `json:"type"` // "status" or "event"
	Data interface{} `json:"data"`
}

// progressHub fans pipeline events out to websocket subscribers. A
// subscriber that falls behind loses events rather than stalling the run.
type progressHub struct {
	mu      sync.Mutex
	clients map[chan pipeline.Event]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{clients: make(map[chan pipeline.Event]struct{})}
}

func (h *progressHub) subscribe() chan pipeline.Event {
	ch := make(chan pipeline.Event, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *progressHub) unsubscribe(ch chan pipeline.Event) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *progressHub) broadcast(ev pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events := s.hub.subscribe()
	defer s.hub.unsubscribe(events)

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(progressMessage{Type: "status", Data: s.status.snapshot()}); err != nil {
		return
	}

	// The client never sends anything meaningful; reading only detects close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(progressMessage{Type: "event", Data: ev}); err != nil {
				log.Printf("Error sending progress: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
