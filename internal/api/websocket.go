package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/tapestry/internal/executor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// eventHub fans execution events out to websocket subscribers. Subscribers
// that cannot keep up are dropped rather than blocking the executor.
type eventHub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	send chan executor.Event
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[*subscriber]struct{})}
}

func (h *eventHub) subscribe() *subscriber {
	sub := &subscriber{send: make(chan executor.Event, 64)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *eventHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

func (h *eventHub) broadcast(ev executor.Event) {
	h.mu.RLock()
	var slow []*subscriber
	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		log.Printf("[API] Dropping slow event subscriber")
		h.unsubscribe(sub)
	}
}

// handleEventStream handles GET /api/v1/events/stream, upgrading to a
// websocket that streams execution state transitions as JSON.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed: %v", err)
		return
	}

	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)
	defer conn.Close()

	// Drain reads so close frames and pings are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.unsubscribe(sub)
				return
			}
		}
	}()

	for ev := range sub.send {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
