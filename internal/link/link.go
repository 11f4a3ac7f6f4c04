// Package link keeps one logical connection to the backend's live event
// feed, reconnecting after a fixed delay until it is closed.
package link

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"decoywatch/internal/clock"
	"decoywatch/internal/metrics"
	"decoywatch/pkg/models"
)

const DefaultReconnectDelay = 3 * time.Second

type Phase int

const (
	Closed Phase = iota
	Connecting
	Open
	Backoff
)

func (p Phase) String() string {
	switch p {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Backoff:
		return "backoff"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the connection state. RetryCount and NextAttemptAt are only
// meaningful in Backoff and Connecting.
type State struct {
	Phase         Phase     `json:"phase"`
	RetryCount    int       `json:"retry_count"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
}

func (s State) String() string {
	if s.Phase == Backoff {
		return fmt.Sprintf("backoff(retry=%d, next=%s)", s.RetryCount, s.NextAttemptAt.Format(time.RFC3339Nano))
	}
	return s.Phase.String()
}

// Conn is the subset of *websocket.Conn the link uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	URL            string
	Dialer         Dialer
	Clock          clock.Clock
	ReconnectDelay time.Duration
	// PingInterval > 0 sends a "ping" text frame while open.
	PingInterval time.Duration
	// OnError receives TransportError and ValidationError values.
	OnError func(error)
	// OnStateChange is called with the link lock held; it must not block
	// or call back into the link.
	OnStateChange func(State)
	Logger        *zap.Logger
}

type Link struct {
	cfg Config

	mu       sync.Mutex
	state    State
	gen      uint64
	timer    *clock.Timer
	cancel   context.CancelFunc
	conn     Conn
	handlers map[uint64]func(models.EventRecord)
	nextID   uint64

	wg sync.WaitGroup
}

func New(cfg Config) *Link {
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Link{
		cfg:      cfg,
		handlers: make(map[uint64]func(models.EventRecord)),
	}
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Subscribe registers fn for every valid inbound event. Handlers run on
// the link's read goroutine in arrival order. The returned func removes
// the handler.
func (l *Link) Subscribe(fn func(models.EventRecord)) (unsubscribe func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}
}

// Connect starts the connect loop. It is a no-op unless the link is
// Closed; a pending reconnect is already an outstanding attempt.
func (l *Link) Connect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Phase != Closed {
		return
	}
	l.state.RetryCount = 0
	l.startLocked()
}

// Close moves to Closed from any state, cancelling the pending reconnect
// timer, an in-flight dial and the open socket. Handlers are kept so a
// later Connect resumes delivery.
func (l *Link) Close() {
	l.mu.Lock()
	if l.state.Phase == Closed {
		l.mu.Unlock()
		return
	}
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	conn := l.conn
	l.conn = nil
	l.setStateLocked(State{Phase: Closed})
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Wait blocks until every goroutine started by the link has returned.
// Call it after Close, never from an event handler.
func (l *Link) Wait() {
	l.wg.Wait()
}

func (l *Link) startLocked() {
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.setStateLocked(State{Phase: Connecting, RetryCount: l.state.RetryCount})

	l.wg.Add(1)
	go l.run(ctx, gen)
}

func (l *Link) run(ctx context.Context, gen uint64) {
	defer l.wg.Done()

	conn, err := l.cfg.Dialer.Dial(ctx, l.cfg.URL)
	if err != nil {
		l.fail(gen, &TransportError{Op: "dial", Err: err})
		return
	}

	l.mu.Lock()
	if gen != l.gen || l.state.Phase != Connecting {
		l.mu.Unlock()
		conn.Close()
		return
	}
	l.conn = conn
	l.setStateLocked(State{Phase: Open})
	l.mu.Unlock()
	l.cfg.Logger.Info("live link open", zap.String("url", l.cfg.URL))

	stopPing := l.startPing(conn)
	defer stopPing()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			l.fail(gen, &TransportError{Op: "read", Err: err})
			return
		}
		l.handle(gen, data)
	}
}

// fail moves a live generation to Backoff and schedules the reconnect.
func (l *Link) fail(gen uint64, err *TransportError) {
	l.mu.Lock()
	if gen != l.gen || l.state.Phase == Closed {
		l.mu.Unlock()
		return
	}
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.conn = nil

	delay := l.cfg.ReconnectDelay
	next := State{
		Phase:         Backoff,
		RetryCount:    l.state.RetryCount + 1,
		NextAttemptAt: l.cfg.Clock.Now().Add(delay),
	}
	l.setStateLocked(next)
	l.timer = l.cfg.Clock.AfterFunc(delay, func() { l.reconnect(gen) })
	l.mu.Unlock()

	l.cfg.Logger.Warn("live link down, reconnect scheduled",
		zap.String("op", err.Op),
		zap.Int("retry", next.RetryCount),
		zap.Duration("delay", delay),
		zap.Error(err.Err))
	l.report(err)
}

func (l *Link) reconnect(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.state.Phase != Backoff {
		return
	}
	l.timer = nil
	l.startLocked()
}

func (l *Link) handle(gen uint64, data []byte) {
	rec, keepalive, err := decodeEnvelope(data)
	switch {
	case keepalive:
		metrics.LinkMessages.WithLabelValues("keepalive").Inc()
		return
	case err != nil:
		metrics.LinkMessages.WithLabelValues("invalid").Inc()
		l.cfg.Logger.Info("dropped live message", zap.Error(err))
		l.report(err)
		return
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	handlers := make([]func(models.EventRecord), 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	metrics.LinkMessages.WithLabelValues("event").Inc()
	for _, h := range handlers {
		h(rec)
	}
}

func (l *Link) startPing(conn Conn) (stop func()) {
	if l.cfg.PingInterval <= 0 {
		return func() {}
	}
	ticker := l.cfg.Clock.NewTicker(l.cfg.PingInterval)
	done := make(chan struct{})

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

func (l *Link) setStateLocked(s State) {
	l.state = s
	metrics.LinkTransitions.WithLabelValues(s.Phase.String()).Inc()
	if l.cfg.OnStateChange != nil {
		l.cfg.OnStateChange(s)
	}
}

func (l *Link) report(err error) {
	if l.cfg.OnError != nil {
		l.cfg.OnError(err)
	}
}
