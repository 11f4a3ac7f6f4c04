package stats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decoywatch/internal/clock"
	"decoywatch/internal/retry"
	"decoywatch/pkg/models"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	stats     []models.DashboardStats
	statsErr  []error
	engine    models.EngineStatus
	engineErr error
	calls     int
}

func (f *fakeFetcher) DashboardStats(ctx context.Context) (models.DashboardStats, error) {
	i := f.calls
	f.calls++
	if i < len(f.statsErr) && f.statsErr[i] != nil {
		return models.DashboardStats{}, f.statsErr[i]
	}
	return f.stats[min(i, len(f.stats)-1)], nil
}

func (f *fakeFetcher) MonitorStatus(ctx context.Context) (models.EngineStatus, error) {
	return f.engine, f.engineErr
}

func TestRefresh_ReplacesSnapshot(t *testing.T) {
	clk := clock.NewFake(epoch)
	f := &fakeFetcher{stats: []models.DashboardStats{{TotalHoneyfiles: 3, TotalEvents: 40, AlertsToday: 2, EventsLastHour: 1}}}
	a := NewAggregator(f, clk)

	require.NoError(t, a.Refresh(context.Background()))

	v := a.View()
	assert.False(t, v.Stale)
	assert.Equal(t, 3, v.Snapshot.TotalHoneyfiles)
	assert.Equal(t, 40, v.Snapshot.TotalEvents)
	assert.Equal(t, epoch, v.UpdatedAt)
	assert.Equal(t, uint64(1), v.Version)
}

func TestRefresh_FailureKeepsLastKnownGood(t *testing.T) {
	exhausted := &retry.ExhaustedError{Op: "dashboard.stats", Attempts: 3, Err: errors.New("503")}
	f := &fakeFetcher{
		stats:    []models.DashboardStats{{TotalHoneyfiles: 7, TotalEvents: 99}},
		statsErr: []error{nil, exhausted},
	}
	a := NewAggregator(f, clock.NewFake(epoch))

	require.NoError(t, a.Refresh(context.Background()))
	before := a.View()

	err := a.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrFetchExhausted)

	after := a.View()
	assert.True(t, after.Stale)
	assert.True(t, a.Stale())
	assert.Equal(t, before.Snapshot, after.Snapshot)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestRefresh_RecoveryClearsStale(t *testing.T) {
	f := &fakeFetcher{
		stats:    []models.DashboardStats{{}, {TotalEvents: 5}},
		statsErr: []error{errors.New("down")},
	}
	a := NewAggregator(f, clock.NewFake(epoch))

	require.Error(t, a.Refresh(context.Background()))
	assert.True(t, a.Stale())

	require.NoError(t, a.Refresh(context.Background()))
	assert.False(t, a.Stale())
	assert.Equal(t, 5, a.View().Snapshot.TotalEvents)
}

func TestRefresh_CancelledContextWritesNothing(t *testing.T) {
	f := &fakeFetcher{statsErr: []error{context.Canceled}, stats: []models.DashboardStats{{}}}
	a := NewAggregator(f, clock.NewFake(epoch))

	var notified int
	a.SetObserver(func(View) { notified++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Refresh(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, a.Stale())
	assert.Equal(t, 0, notified)
	assert.Equal(t, uint64(0), a.View().Version)
}

func TestRefreshEngine(t *testing.T) {
	started := models.NewTimestamp(epoch.Add(-time.Hour))
	f := &fakeFetcher{engine: models.EngineStatus{Running: true, StartedAt: &started, TotalEvents: 12}}
	a := NewAggregator(f, clock.NewFake(epoch))

	require.NoError(t, a.RefreshEngine(context.Background()))
	v := a.View()
	assert.True(t, v.Snapshot.Engine.Running)
	assert.True(t, v.Snapshot.MonitoringStatus)
	assert.Equal(t, 12, v.Snapshot.Engine.TotalEvents)

	f.engineErr = fmt.Errorf("wrapped: %w", retry.ErrFetchExhausted)
	require.Error(t, a.RefreshEngine(context.Background()))
	v = a.View()
	assert.True(t, v.EngineStale)
	assert.False(t, v.Stale, "engine failures must not mark the dashboard counters stale")
	assert.True(t, v.Snapshot.Engine.Running)
}

func TestObserver_ReceivesCopies(t *testing.T) {
	f := &fakeFetcher{engine: models.EngineStatus{WatchedDirectories: []string{"/srv"}}}
	a := NewAggregator(f, clock.NewFake(epoch))

	var got View
	a.SetObserver(func(v View) { got = v })
	require.NoError(t, a.RefreshEngine(context.Background()))

	got.Snapshot.Engine.WatchedDirectories[0] = "/tmp"
	assert.Equal(t, "/srv", a.View().Snapshot.Engine.WatchedDirectories[0])
}
