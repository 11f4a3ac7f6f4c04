package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"decoywatch/internal/hub"
	"decoywatch/internal/store"
	"decoywatch/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay binds to loopback by default and serves read-only data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Handler relays hub notifications to local websocket clients.
type Handler struct {
	hub    *hub.Hub
	logger *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*client
}

type client struct {
	// latest holds at most one undelivered state; a newer one replaces it.
	latest chan hub.State
	topics hub.Topic
	mu     sync.RWMutex
	decoy  string
}

func NewHandler(h *hub.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:    h,
		logger: logger,
		conns:  make(map[*websocket.Conn]*client),
	}
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type eventsPayload struct {
	Version uint64               `json:"version"`
	Events  []models.EventRecord `json:"events"`
}

// ServeWS upgrades the request and streams state changes. The topics
// query parameter ("events", "stats" or both, comma separated) narrows
// the stream.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	topics := parseTopics(r.URL.Query().Get("topics"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{latest: make(chan hub.State, 1), topics: topics, decoy: r.URL.Query().Get("decoy_id")}
	h.mu.Lock()
	h.conns[conn] = c
	h.mu.Unlock()

	token := h.hub.Subscribe(topics, c.offer)

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.hub.Unsubscribe(token)
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	go h.readPump(cancel, conn, c)

	h.writePump(ctx, conn, c)
}

// CloseAll disconnects every client.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func (h *Handler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// offer never blocks the hub dispatcher; a slow client skips to the
// newest state.
func (c *client) offer(s hub.State) {
	for {
		select {
		case c.latest <- s:
			return
		default:
		}
		select {
		case <-c.latest:
		default:
		}
	}
}

func (c *client) filter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decoy
}

func (h *Handler) readPump(cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()
	for {
		var msg wsMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "filter":
			var f struct {
				DecoyID string `json:"decoy_id"`
			}
			if err := json.Unmarshal(msg.Payload, &f); err != nil {
				continue
			}
			c.mu.Lock()
			c.decoy = f.DecoyID
			c.mu.Unlock()
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case s := <-c.latest:
			for _, msg := range h.messages(s, c.topics, c.filter()) {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// messages renders one notification. The initial state (Changed zero)
// carries every subscribed topic.
func (h *Handler) messages(s hub.State, topics hub.Topic, decoy string) []wsMessage {
	changed := s.Changed
	if changed == 0 {
		changed = hub.TopicAll
	}
	changed &= topics

	var out []wsMessage
	if changed&hub.TopicEvents != 0 {
		events := eventsPayload{Version: s.Events.Version, Events: s.Events.Filter(store.Filter{DecoyID: decoy})}
		out = append(out, wsMessage{Type: "events", Payload: h.marshal(events)})
	}
	if changed&hub.TopicStats != 0 {
		out = append(out, wsMessage{Type: "stats", Payload: h.marshal(s.Stats)})
	}
	return out
}

func (h *Handler) marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal relay payload", zap.Error(err))
		return json.RawMessage("{}")
	}
	return data
}

func parseTopics(raw string) hub.Topic {
	var t hub.Topic
	for _, part := range strings.Split(raw, ",") {
		switch strings.TrimSpace(part) {
		case "events":
			t |= hub.TopicEvents
		case "stats":
			t |= hub.TopicStats
		}
	}
	if t == 0 {
		return hub.TopicAll
	}
	return t
}
