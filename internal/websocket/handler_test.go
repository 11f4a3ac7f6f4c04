package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decoywatch/internal/hub"
	"decoywatch/internal/stats"
	"decoywatch/internal/store"
	"decoywatch/pkg/models"
)

func window(version uint64, decoys ...string) store.Window {
	events := make([]models.EventRecord, len(decoys))
	for i, d := range decoys {
		events[i] = models.EventRecord{ID: d + "-ev", EventType: models.EventOpen, DecoyID: d, AccessedPath: "/srv/" + d}
	}
	return store.Window{Events: events, Capacity: 100, Version: version}
}

func dial(t *testing.T, h *Handler, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func decoyFilters(h *Handler) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, c := range h.conns {
		out = append(out, c.filter())
	}
	return out
}

func read(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRelaysEventsAndStats(t *testing.T) {
	hb := hub.New(nil)
	defer hb.Close()
	h := NewHandler(hb, nil)
	conn := dial(t, h, "")
	require.Eventually(t, func() bool { return hb.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hb.PublishEvents(window(1, "D-1", "D-2"))
	msg := read(t, conn)
	assert.Equal(t, "events", msg.Type)
	var ev eventsPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, uint64(1), ev.Version)
	assert.Len(t, ev.Events, 2)

	hb.PublishStats(stats.View{Version: 4, Stale: true})
	msg = read(t, conn)
	assert.Equal(t, "stats", msg.Type)
	var v stats.View
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	assert.True(t, v.Stale)
	assert.Equal(t, uint64(4), v.Version)
}

func TestInitialStateAndTopicFilter(t *testing.T) {
	hb := hub.New(nil)
	defer hb.Close()
	hb.PublishEvents(window(2, "D-1"))
	hb.PublishStats(stats.View{Version: 1})

	conn := dial(t, NewHandler(hb, nil), "?topics=stats")

	msg := read(t, conn)
	assert.Equal(t, "stats", msg.Type, "initial state must honour the topic filter")

	hb.PublishEvents(window(3, "D-1"))
	hb.PublishStats(stats.View{Version: 2})
	msg = read(t, conn)
	assert.Equal(t, "stats", msg.Type)
}

func TestDecoyFilter(t *testing.T) {
	hb := hub.New(nil)
	defer hb.Close()
	h := NewHandler(hb, nil)
	conn := dial(t, h, "?topics=events&decoy_id=D-2")
	require.Eventually(t, func() bool { return hb.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hb.PublishEvents(window(1, "D-1", "D-2", "D-1"))
	var ev eventsPayload
	require.NoError(t, json.Unmarshal(read(t, conn).Payload, &ev))
	require.Len(t, ev.Events, 1)
	assert.Equal(t, "D-2", ev.Events[0].DecoyID)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "filter", "payload": map[string]string{"decoy_id": ""}}))
	require.Eventually(t, func() bool {
		f := decoyFilters(h)
		return len(f) == 1 && f[0] == ""
	}, 2*time.Second, 5*time.Millisecond)

	hb.PublishEvents(window(2, "D-1", "D-2", "D-1"))
	require.NoError(t, json.Unmarshal(read(t, conn).Payload, &ev))
	assert.Len(t, ev.Events, 3)
}

func TestDisconnectUnsubscribes(t *testing.T) {
	hb := hub.New(nil)
	defer hb.Close()
	h := NewHandler(hb, nil)
	conn := dial(t, h, "")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 && hb.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestCloseAll(t *testing.T) {
	hb := hub.New(nil)
	defer hb.Close()
	h := NewHandler(hb, nil)
	conn := dial(t, h, "")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	h.CloseAll()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestClientOfferKeepsLatest(t *testing.T) {
	c := &client{latest: make(chan hub.State, 1)}
	c.offer(hub.State{Seq: 1})
	c.offer(hub.State{Seq: 2})
	c.offer(hub.State{Seq: 3})
	assert.Equal(t, uint64(3), (<-c.latest).Seq)
}

func TestParseTopics(t *testing.T) {
	assert.Equal(t, hub.TopicAll, parseTopics(""))
	assert.Equal(t, hub.TopicEvents, parseTopics("events"))
	assert.Equal(t, hub.TopicAll, parseTopics("events, stats"))
	assert.Equal(t, hub.TopicAll, parseTopics("bogus"))
}
