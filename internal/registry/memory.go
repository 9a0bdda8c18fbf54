package registry

import (
	"context"
	"sync"
)

// Memory keeps snapshots in process.
type Memory struct {
	mu      sync.RWMutex
	latest  map[string]Snapshot
	history map[string]int
	closed  bool
}

// NewMemory creates an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{
		latest:  make(map[string]Snapshot),
		history: make(map[string]int),
	}
}

func (m *Memory) Publish(ctx context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.latest[s.RunID] = s
	m.history[s.RunID]++
	return nil
}

func (m *Memory) Latest(ctx context.Context, runID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	s, ok := m.latest[runID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

// Published returns how many snapshots runID has received.
func (m *Memory) Published(runID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history[runID]
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Publisher = (*Memory)(nil)
