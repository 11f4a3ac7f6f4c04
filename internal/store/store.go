// Package store holds the bounded, newest-first window of event records.
package store

import (
	"sync"
	"time"

	"decoywatch/internal/metrics"
	"decoywatch/pkg/models"
)

const DefaultCapacity = 100

// Window is an immutable, newest-first copy of the store contents.
type Window struct {
	Events   []models.EventRecord
	Capacity int
	// Version increases by one with every committed mutation.
	Version uint64
}

func (w Window) Len() int { return len(w.Events) }

// Observer receives every committed window. It is called with the store
// lock held, so it must not block or call back into the store.
type Observer func(Window)

// Store is mutated only through LoadBulk and PushOne; each call is
// atomic with respect to readers and the observer.
type Store struct {
	mu       sync.RWMutex
	events   []models.EventRecord
	capacity int
	version  uint64
	observer Observer
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		events:   make([]models.EventRecord, 0, capacity),
		capacity: capacity,
	}
}

// SetObserver installs the change callback. It must be set before the
// store is shared.
func (s *Store) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

func (s *Store) Capacity() int { return s.capacity }

// LoadBulk replaces the whole window with records (already newest-first),
// keeping only the first Capacity of them. Live events pushed earlier and
// absent from records are dropped.
func (s *Store) LoadBulk(records []models.EventRecord) {
	n := min(len(records), s.capacity)
	next := make([]models.EventRecord, n, s.capacity)
	copy(next, records[:n])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = next
	s.commitLocked()
}

// PushOne prepends rec and evicts from the back to stay within capacity.
// No deduplication is performed.
func (s *Store) PushOne(rec models.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := min(len(s.events), s.capacity-1)
	if evicted := len(s.events) - keep; evicted > 0 {
		metrics.WindowEvictions.Add(float64(evicted))
	}
	next := make([]models.EventRecord, keep+1, s.capacity)
	next[0] = rec
	copy(next[1:], s.events[:keep])
	s.events = next
	s.commitLocked()
}

func (s *Store) commitLocked() {
	s.version++
	metrics.WindowSize.Set(float64(len(s.events)))
	if s.observer != nil {
		s.observer(s.windowLocked())
	}
}

// Snapshot returns a copy of the current window.
func (s *Store) Snapshot() Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windowLocked()
}

func (s *Store) windowLocked() Window {
	events := make([]models.EventRecord, len(s.events))
	copy(events, s.events)
	return Window{
		Events:   events,
		Capacity: s.capacity,
		Version:  s.version,
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	DecoyID   string
	EventType models.EventType
	Since     time.Time
	Limit     int
}

func (f Filter) Match(rec models.EventRecord) bool {
	if f.DecoyID != "" && rec.DecoyID != f.DecoyID {
		return false
	}
	if f.EventType != "" && rec.EventType != f.EventType {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Query returns the matching records of the current window, newest first.
// It never reaches the backend.
func (s *Store) Query(f Filter) []models.EventRecord {
	return s.Snapshot().Filter(f)
}

func (w Window) Filter(f Filter) []models.EventRecord {
	out := make([]models.EventRecord, 0, len(w.Events))
	for _, rec := range w.Events {
		if !f.Match(rec) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
