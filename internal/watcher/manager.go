package watcher

import (
	"context"
	"sync"

	"github.com/dandantas/tabwatch/internal/bus"
	"github.com/dandantas/tabwatch/internal/poller"
)

// Manager keeps at most one Watcher per job for this process
type Manager struct {
	store   StatusStore
	bus     bus.Bus
	fetcher poller.Fetcher
	opts    []Option

	mu       sync.Mutex
	watchers map[string]*Watcher
	closed   bool
}

// NewManager creates a manager whose watchers share store, bus and fetcher
func NewManager(store StatusStore, b bus.Bus, fetcher poller.Fetcher, opts ...Option) *Manager {
	return &Manager{
		store:    store,
		bus:      b,
		fetcher:  fetcher,
		opts:     opts,
		watchers: make(map[string]*Watcher),
	}
}

// Watch returns the watcher for jobID, starting one if needed. It returns
// nil after Close.
func (m *Manager) Watch(ctx context.Context, jobID string) *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if w, ok := m.watchers[jobID]; ok {
		return w
	}
	w := New(ctx, jobID, m.store, m.bus, m.fetcher, m.opts...)
	m.watchers[jobID] = w
	go m.reap(jobID, w)
	return w
}

// reap drops w from the map once it has shut down
func (m *Manager) reap(jobID string, w *Watcher) {
	<-w.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchers[jobID] == w {
		delete(m.watchers, jobID)
	}
}

// Get returns the running watcher for jobID
func (m *Manager) Get(jobID string) (*Watcher, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watchers[jobID]
	return w, ok
}

// Forget closes and removes the watcher for jobID, if any
func (m *Manager) Forget(jobID string) {
	m.mu.Lock()
	w, ok := m.watchers[jobID]
	delete(m.watchers, jobID)
	m.mu.Unlock()

	if ok {
		w.Close()
	}
}

// Sweep closes the watchers whose job session is no longer stored and
// returns how many it closed
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	jobIDs := make([]string, 0, len(m.watchers))
	for jobID := range m.watchers {
		jobIDs = append(jobIDs, jobID)
	}
	m.mu.Unlock()

	removed := 0
	for _, jobID := range jobIDs {
		if m.store.GetCredential(ctx, jobID) != "" {
			continue
		}
		m.Forget(jobID)
		removed++
	}
	return removed
}

// Len returns the number of running watchers
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

// Close closes every watcher. Later Watch calls return nil.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	watchers := m.watchers
	m.watchers = make(map[string]*Watcher)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w *Watcher) {
			defer wg.Done()
			w.Close()
		}(w)
	}
	wg.Wait()
}
