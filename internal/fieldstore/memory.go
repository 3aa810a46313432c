package fieldstore

import (
	"context"
	"sort"
	"sync"
)

type recordKey struct {
	key     string
	learner string
}

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	records  map[recordKey]Record
	settings map[string]Settings
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[recordKey]Record),
		settings: make(map[string]Settings),
	}
}

func (m *Memory) LoadRecord(_ context.Context, key, learner string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[recordKey{key, learner}]; ok {
		return rec, nil
	}
	return NewRecord(), nil
}

func (m *Memory) SaveRecord(_ context.Context, key, learner string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{key, learner}] = rec
	return nil
}

func (m *Memory) LoadSettings(_ context.Context, key string) (Settings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.settings[key]; ok {
		return s, true, nil
	}
	return DefaultSettings(), false, nil
}

func (m *Memory) SaveSettings(_ context.Context, key string, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = s
	return nil
}

func (m *Memory) Learners(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.records {
		if k.key == key {
			out = append(out, k.learner)
		}
	}
	sort.Strings(out)
	return out, nil
}
