// Package app wires the event window, stats aggregator, live link and
// subscription hub into one explicitly created and torn down context.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"decoywatch/internal/backend"
	"decoywatch/internal/clock"
	"decoywatch/internal/config"
	"decoywatch/internal/hub"
	"decoywatch/internal/link"
	"decoywatch/internal/logging"
	"decoywatch/internal/retry"
	"decoywatch/internal/stats"
	"decoywatch/internal/store"
	"decoywatch/pkg/models"
)

// Backend is the part of the backend API the application polls.
type Backend interface {
	stats.Fetcher
	EventLogs(ctx context.Context, q backend.LogQuery) ([]models.EventRecord, error)
}

// Deps overrides the collaborators New would otherwise build from the
// configuration.
type Deps struct {
	Backend Backend
	Dialer  link.Dialer
	Clock   clock.Clock
	Logger  *zap.Logger
}

var ErrTornDown = errors.New("app torn down")

type App struct {
	cfg     *config.Config
	clock   clock.Clock
	logger  *zap.Logger
	backend Backend

	store *store.Store
	stats *stats.Aggregator
	hub   *hub.Hub
	link  *link.Link

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	notices  map[Subsystem]Notice
	teardown sync.Once
}

// New builds every component and connects their observers. Nothing is
// fetched or dialed until Init.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Backend == nil {
		deps.Backend = NewBackendClient(cfg, deps.Clock, deps.Logger)
	}

	streamURL, err := StreamURL(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:     cfg,
		clock:   deps.Clock,
		logger:  logging.Component(deps.Logger, "app"),
		backend: deps.Backend,
		store:   store.New(cfg.Store.Capacity),
		stats:   stats.NewAggregator(deps.Backend, deps.Clock),
		hub:     hub.New(logging.Component(deps.Logger, "hub")),
		ctx:     ctx,
		cancel:  cancel,
		notices: make(map[Subsystem]Notice),
	}

	a.link = link.New(link.Config{
		URL:            streamURL,
		Dialer:         deps.Dialer,
		Clock:          deps.Clock,
		ReconnectDelay: cfg.Link.ReconnectDelay,
		PingInterval:   cfg.Link.PingInterval,
		OnError: func(err error) {
			var invalid *link.ValidationError
			if errors.As(err, &invalid) {
				a.report(SubsystemFeed, err)
				return
			}
			a.report(SubsystemLink, err)
		},
		OnStateChange: func(s link.State) {
			if s.Phase == link.Open {
				a.clear(SubsystemLink)
			}
		},
		Logger: logging.Component(deps.Logger, "link"),
	})

	a.store.SetObserver(a.hub.PublishEvents)
	a.stats.SetObserver(a.hub.PublishStats)
	a.link.Subscribe(func(rec models.EventRecord) {
		if a.ctx.Err() != nil {
			return
		}
		a.store.PushOne(rec)
		a.clear(SubsystemFeed)
	})
	return a, nil
}

// StreamURL is the configured live channel URL, derived from the API
// base URL unless set explicitly.
func StreamURL(cfg *config.Config) (string, error) {
	if cfg.Backend.WSURL != "" {
		return cfg.Backend.WSURL, nil
	}
	u, err := backend.StreamURL(cfg.Backend.BaseURL)
	if err != nil {
		return "", fmt.Errorf("derive live channel url: %w", err)
	}
	return u, nil
}

// NewBackendClient builds the HTTP backend client described by cfg.
func NewBackendClient(cfg *config.Config, clk clock.Clock, logger *zap.Logger) *backend.Client {
	opts := []backend.Option{
		backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		backend.WithRetryPolicy(RetryPolicy(cfg, clk)),
		backend.WithLogger(logging.Component(logger, "backend")),
	}
	if cfg.Backend.RateLimit > 0 {
		opts = append(opts, backend.WithRateLimit(rate.Limit(cfg.Backend.RateLimit), cfg.Backend.RateBurst))
	}
	return backend.New(cfg.Backend.BaseURL, opts...)
}

func RetryPolicy(cfg *config.Config, clk clock.Clock) retry.Policy {
	p := retry.DefaultPolicy()
	p.Attempts = cfg.Retry.Attempts
	p.BaseDelay = cfg.Retry.BaseDelay
	if cfg.Retry.Backoff == "exponential" {
		p.Backoff = retry.Exponential(cfg.Retry.MaxDelay)
	}
	if clk != nil {
		p.Clock = clk
	}
	return p
}

func (a *App) Store() *store.Store { return a.store }

func (a *App) Stats() *stats.Aggregator { return a.stats }

func (a *App) Hub() *hub.Hub { return a.hub }

func (a *App) Link() *link.Link { return a.link }

func (a *App) Config() *config.Config { return a.cfg }

// Subscribe registers a consumer of committed state changes.
func (a *App) Subscribe(topics hub.Topic, fn hub.Callback) hub.Token {
	return a.hub.Subscribe(topics, fn)
}

// Init performs the initial bulk loads, connects the live link and
// starts the pollers. A PartialFailure is not fatal: the app keeps
// running with whatever loaded.
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("app already initialised")
	}
	a.started = true
	a.mu.Unlock()

	if a.ctx.Err() != nil {
		return ErrTornDown
	}

	err := a.refresh(ctx, SubsystemStats, SubsystemEngine, SubsystemLogs)

	a.link.Connect()
	a.startPoller(SubsystemEngine, a.cfg.Poll.Monitor)
	a.startPoller(SubsystemLogs, a.cfg.Poll.Logs)
	a.startPoller(SubsystemStats, a.cfg.Poll.Stats)

	a.logger.Info("initialised",
		zap.Int("events", a.store.Len()),
		zap.Bool("stats_stale", a.stats.Stale()))
	return err
}

// Reload refreshes the stats and the event window concurrently. Each
// subsystem fails on its own.
func (a *App) Reload(ctx context.Context) error {
	return a.refresh(ctx, SubsystemStats, SubsystemLogs)
}

func (a *App) refresh(ctx context.Context, subsystems ...Subsystem) error {
	ctx, done := a.scope(ctx)
	defer done()

	errs := make([]error, len(subsystems))
	var g errgroup.Group
	for i, sub := range subsystems {
		g.Go(func() error {
			errs[i] = a.run(ctx, sub)
			return nil
		})
	}
	_ = g.Wait()

	if a.ctx.Err() != nil {
		return ErrTornDown
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	pf := PartialFailure{Attempted: len(subsystems)}
	for i, err := range errs {
		if err != nil {
			pf.Failed = append(pf.Failed, subsystems[i])
			pf.Err = multierr.Append(pf.Err, err)
		}
	}
	if pf.Err == nil {
		return nil
	}
	return &pf
}

// run refreshes one subsystem and records the outcome as a notice.
func (a *App) run(ctx context.Context, sub Subsystem) error {
	var err error
	switch sub {
	case SubsystemStats:
		err = a.stats.Refresh(ctx)
	case SubsystemEngine:
		err = a.stats.RefreshEngine(ctx)
	case SubsystemLogs:
		err = a.loadLogs(ctx)
	default:
		return fmt.Errorf("unknown subsystem %q", sub)
	}

	if ctx.Err() != nil {
		return err
	}
	if err != nil {
		a.report(sub, err)
		return err
	}
	a.clear(sub)
	return nil
}

func (a *App) loadLogs(ctx context.Context) error {
	records, err := a.backend.EventLogs(ctx, backend.LogQuery{
		Limit: min(max(a.cfg.Poll.LogLimit, a.cfg.Store.Capacity), backend.MaxLimit),
		Hours: a.cfg.Poll.LogHours,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("load event logs: %w", err)
	}
	a.store.LoadBulk(records)
	return nil
}

// scope derives a context that also ends on Teardown.
func (a *App) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (a *App) startPoller(sub Subsystem, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := a.clock.NewTicker(every)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				if err := a.run(a.ctx, sub); err != nil {
					a.logger.Debug("poll failed", zap.String("subsystem", string(sub)), zap.Error(err))
				}
			}
		}
	}()
}

func (a *App) report(sub Subsystem, err error) {
	if err == nil {
		return
	}
	level := zap.WarnLevel
	var verr *link.ValidationError
	if errors.As(err, &verr) {
		level = zap.InfoLevel
	}
	a.logger.Check(level, "subsystem error").Write(zap.String("subsystem", string(sub)), zap.Error(err))

	a.mu.Lock()
	a.notices[sub] = Notice{Subsystem: sub, Message: err.Error(), At: a.clock.Now(), Err: err}
	a.mu.Unlock()
}

func (a *App) clear(sub Subsystem) {
	a.mu.Lock()
	delete(a.notices, sub)
	a.mu.Unlock()
}

// Notices returns the latest error of every subsystem that has not
// recovered since, ordered by subsystem name.
func (a *App) Notices() []Notice {
	a.mu.Lock()
	out := make([]Notice, 0, len(a.notices))
	for _, n := range a.notices {
		out = append(out, n)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Subsystem < out[j].Subsystem })
	return out
}

// Teardown closes the link, stops the pollers, cancels in-flight
// fetches and closes the hub. Writes arriving afterwards are discarded.
// It waits for the link goroutines, so it must not be called from a
// live event handler.
func (a *App) Teardown() {
	a.teardown.Do(func() {
		a.cancel()
		a.link.Close()
		a.link.Wait()
		a.wg.Wait()
		a.hub.Close()
		a.logger.Info("torn down")
	})
}
