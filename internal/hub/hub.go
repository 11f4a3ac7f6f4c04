// Package hub fans committed store and stats changes out to independent
// consumers. Bursts of changes are coalesced; the latest state before a
// quiet period is always delivered.
package hub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"decoywatch/internal/metrics"
	"decoywatch/internal/stats"
	"decoywatch/internal/store"
)

type Topic uint8

const (
	TopicEvents Topic = 1 << iota
	TopicStats

	TopicAll = TopicEvents | TopicStats
)

func (t Topic) String() string {
	switch t {
	case TopicEvents:
		return "events"
	case TopicStats:
		return "stats"
	case TopicAll:
		return "all"
	default:
		return "none"
	}
}

// State is what a subscriber receives. Each subscriber gets its own copy.
type State struct {
	Events store.Window
	Stats  stats.View
	// Changed lists the topics that changed since the previous
	// notification. It is zero for the initial delivery to a new
	// subscriber.
	Changed Topic
	// Seq increases by one per dispatched notification.
	Seq uint64
}

func (s State) clone() State {
	out := s
	out.Events.Events = append(s.Events.Events[:0:0], s.Events.Events...)
	out.Stats.Snapshot = s.Stats.Snapshot.Clone()
	return out
}

type Callback func(State)

type Token string

type subscriber struct {
	token  Token
	topics Topic
	fn     Callback
	primed bool
}

type Hub struct {
	mu        sync.Mutex
	subs      []*subscriber
	latest    State
	published bool
	pending   Topic
	seq       uint64
	closed    bool

	// delivering is set while a callback runs on the dispatcher.
	delivering bool

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
	logger *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: logger,
	}
	go h.dispatch()
	return h
}

// Subscribe registers fn for the given topics. If any state has already
// been published, fn first receives the current state.
func (h *Hub) Subscribe(topics Topic, fn Callback) Token {
	token := Token(uuid.NewString())

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return token
	}
	// Nothing to replay until the first publish.
	h.subs = append(h.subs, &subscriber{token: token, topics: topics, fn: fn, primed: !h.published})
	metrics.HubSubscribers.Set(float64(len(h.subs)))
	if h.published {
		h.signal()
	}
	return token
}

// Unsubscribe removes the subscriber. A notification already being
// delivered to it may still complete.
func (h *Hub) Unsubscribe(token Token) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.token == token {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			metrics.HubSubscribers.Set(float64(len(h.subs)))
			return true
		}
	}
	return false
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// PublishEvents records a committed window. It never blocks, so it is
// safe to call with the store lock held.
func (h *Hub) PublishEvents(w store.Window) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest.Events = w
	h.markLocked(TopicEvents)
}

// PublishStats records a committed stats view.
func (h *Hub) PublishStats(v stats.View) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest.Stats = v
	h.markLocked(TopicStats)
}

// Current returns a copy of the latest published state.
func (h *Hub) Current() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.latest.clone()
	s.Seq = h.seq
	return s
}

// Close drops every subscriber and stops the dispatcher. Pending
// notifications are discarded. Close waits for the dispatcher to exit
// unless a callback is running, which is also the case when Close is
// called from a callback; that callback may then still complete.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.subs = nil
	metrics.HubSubscribers.Set(0)
	close(h.done)
	wait := !h.delivering
	h.mu.Unlock()

	if wait {
		<-h.exited
	}
}

func (h *Hub) markLocked(t Topic) {
	h.published = true
	h.pending |= t
	h.signal()
}

func (h *Hub) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

type delivery struct {
	sub   *subscriber
	state State
}

func (h *Hub) dispatch() {
	defer close(h.exited)
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}

		batch := h.collect()
		for _, d := range batch {
			select {
			case <-h.done:
				return
			default:
			}
			h.deliver(d)
		}
	}
}

func (h *Hub) collect() []delivery {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := h.pending
	h.pending = 0

	var out []delivery
	var state State
	built := false
	for _, s := range h.subs {
		initial := !s.primed
		if !initial && s.topics&changed == 0 {
			continue
		}
		if !built {
			h.seq++
			metrics.HubNotifications.Inc()
			state = h.latest
			state.Seq = h.seq
			built = true
		}
		st := state.clone()
		st.Changed = changed
		if initial {
			st.Changed = 0
			s.primed = true
		}
		out = append(out, delivery{sub: s, state: st})
	}
	return out
}

func (h *Hub) deliver(d delivery) {
	h.mu.Lock()
	h.delivering = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.delivering = false
		h.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panicked",
				zap.String("token", string(d.sub.token)),
				zap.Any("panic", r))
		}
	}()
	d.sub.fn(d.state)
}
