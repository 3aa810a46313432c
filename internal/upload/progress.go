package upload

import (
	"context"
	"sync"
	"time"
)

// DefaultProgressTTL is how long a progress entry survives its last write.
const DefaultProgressTTL = time.Hour

// ProgressState tells pollers whether an upload is being tracked at all.
type ProgressState string

const (
	ProgressUntracked  ProgressState = "untracked"
	ProgressInProgress ProgressState = "in_progress"
	ProgressDone       ProgressState = "done"
)

// ProgressStore maps content keys to the percentage of the store migration
// that has completed. Entries expire after a fixed time from their last write.
type ProgressStore interface {
	Set(ctx context.Context, key string, percent int) error
	// Get returns the stored percentage and its state. Untracked keys read
	// as 100 so clients that ignore the state stop polling.
	Get(ctx context.Context, key string) (int, ProgressState, error)
	Clear(ctx context.Context, key string) error
}

// stateOf folds a lookup into the tri-state reported to pollers.
func stateOf(percent int, tracked bool) (int, ProgressState) {
	switch {
	case !tracked:
		return 100, ProgressUntracked
	case percent >= 100:
		return 100, ProgressDone
	default:
		return percent, ProgressInProgress
	}
}

type progressEntry struct {
	percent int
	expires time.Time
}

// MemoryProgressStore is a process-local ProgressStore.
type MemoryProgressStore struct {
	mu      sync.Mutex
	entries map[string]progressEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryProgressStore creates a store whose entries live for ttl.
func NewMemoryProgressStore(ttl time.Duration) *MemoryProgressStore {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &MemoryProgressStore{
		entries: make(map[string]progressEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Set records percent for key and restarts its lifetime.
func (s *MemoryProgressStore) Set(_ context.Context, key string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = progressEntry{percent: percent, expires: s.now().Add(s.ttl)}
	s.sweepLocked()
	return nil
}

// Get returns the percent for key, or 100 with ProgressUntracked when the
// key is unknown or has expired.
func (s *MemoryProgressStore) Get(_ context.Context, key string) (int, ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && !s.now().Before(e.expires) {
		delete(s.entries, key)
		ok = false
	}
	percent, state := stateOf(e.percent, ok)
	return percent, state, nil
}

// Clear forgets key.
func (s *MemoryProgressStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// sweepLocked drops expired entries so abandoned keys do not accumulate.
func (s *MemoryProgressStore) sweepLocked() {
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}
