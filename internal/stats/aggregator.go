// Package stats keeps the last-known-good aggregate statistics and
// marks them stale when a refresh fails.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"decoywatch/internal/clock"
	"decoywatch/internal/metrics"
	"decoywatch/pkg/models"
)

// Fetcher is the read side of the backend the aggregator needs. Both
// calls are expected to retry internally.
type Fetcher interface {
	DashboardStats(ctx context.Context) (models.DashboardStats, error)
	MonitorStatus(ctx context.Context) (models.EngineStatus, error)
}

// View is an immutable copy of the aggregator state.
type View struct {
	Snapshot    models.StatsSnapshot `json:"snapshot"`
	Stale       bool                 `json:"stale"`
	EngineStale bool                 `json:"engine_stale"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Version     uint64               `json:"version"`
}

type Aggregator struct {
	mu          sync.Mutex
	fetcher     Fetcher
	clock       clock.Clock
	snapshot    models.StatsSnapshot
	stale       bool
	engineStale bool
	updatedAt   time.Time
	version     uint64
	observer    func(View)
}

func NewAggregator(fetcher Fetcher, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Aggregator{fetcher: fetcher, clock: clk}
}

// SetObserver installs the change callback, invoked with the lock held
// after every committed change.
func (a *Aggregator) SetObserver(fn func(View)) {
	a.mu.Lock()
	a.observer = fn
	a.mu.Unlock()
}

// Refresh replaces the dashboard counters. On failure the previous
// values are kept, Stale is set and the error is returned. A refresh
// abandoned because ctx ended changes nothing.
func (a *Aggregator) Refresh(ctx context.Context) error {
	ds, err := a.fetcher.DashboardStats(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.stale = true
		a.commitLocked()
		return fmt.Errorf("refresh stats: %w", err)
	}
	a.snapshot.DashboardStats = ds
	a.stale = false
	a.updatedAt = a.clock.Now()
	a.commitLocked()
	return nil
}

// RefreshEngine replaces the monitoring engine status.
func (a *Aggregator) RefreshEngine(ctx context.Context) error {
	es, err := a.fetcher.MonitorStatus(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.engineStale = true
		a.commitLocked()
		return fmt.Errorf("refresh monitor status: %w", err)
	}
	a.snapshot.Engine = es
	a.snapshot.MonitoringStatus = es.Running
	a.engineStale = false
	a.updatedAt = a.clock.Now()
	a.commitLocked()
	return nil
}

func (a *Aggregator) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

func (a *Aggregator) Stale() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stale
}

func (a *Aggregator) commitLocked() {
	a.version++
	if a.stale {
		metrics.StatsStale.Set(1)
	} else {
		metrics.StatsStale.Set(0)
	}
	if a.observer != nil {
		a.observer(a.viewLocked())
	}
}

func (a *Aggregator) viewLocked() View {
	return View{
		Snapshot:    a.snapshot.Clone(),
		Stale:       a.stale,
		EngineStale: a.engineStale,
		UpdatedAt:   a.updatedAt,
		Version:     a.version,
	}
}
