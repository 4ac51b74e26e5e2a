// Package transport fans turn events out to WebSocket subscribers of a chat.
package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventDelta    = "delta"
	EventToolCall = "tool_call"
	EventDone     = "done"
	EventError    = "error"

	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// Event is one message delivered to chat subscribers.
type Event struct {
	Type      string         `json:"type"`
	ChatID    string         `json:"chat_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Text      string         `json:"text,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher receives events keyed by chat.
type Publisher interface {
	Publish(chatID string, ev Event)
}

type subscriber struct {
	send chan Event
}

// Hub keeps the live subscribers of every chat. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe registers a listener for chatID. The returned cancel function
// must be called to release it.
func (h *Hub) Subscribe(chatID string) (<-chan Event, func()) {
	s := &subscriber{send: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[*subscriber]struct{})
	}
	h.subs[chatID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.send, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[chatID], s)
			if len(h.subs[chatID]) == 0 {
				delete(h.subs, chatID)
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of listeners for chatID.
func (h *Hub) Subscribers(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chatID])
}

func (h *Hub) Publish(chatID string, ev Event) {
	ev.ChatID = chatID
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[chatID] {
		select {
		case s.send <- ev:
		default:
			slog.Debug("dropping event for slow subscriber", "chat_id", chatID, "type", ev.Type)
		}
	}
}

// Serve upgrades the request and streams chatID's events to the client
// until either side closes. Callers authorize access to the chat first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, chatID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "chat_id", chatID, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Subscribe(chatID)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("websocket write failed", "chat_id", chatID, "error", err)
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
