package storage

import (
	"context"
	"sync"
	"time"
)

// memoryStore keeps settings in process. Used by tests and the "memory"
// driver; survives reconfiguration but not restarts.
type memoryStore struct {
	mu    sync.Mutex
	set   bool
	state Settings
}

func newMemory() *memoryStore { return &memoryStore{} }

func (m *memoryStore) SaveSettings(_ context.Context, s Settings) error {
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}
	m.mu.Lock()
	m.state = s
	m.set = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) LoadSettings(context.Context) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.set, nil
}

func (m *memoryStore) Close() error { return nil }
