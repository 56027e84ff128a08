package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is the in-process counter backend for single-instance
// deployments. Counters do not survive a restart and are not shared
// across replicas.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*windowEntry
	logs    map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*windowEntry),
		logs:    make(map[string][]time.Time),
	}
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.windows[key]
	if !ok || now.After(entry.resetAt) {
		entry = &windowEntry{count: 1, resetAt: now.Add(window)}
		s.windows[key] = entry
		return 1, entry.resetAt, nil
	}

	entry.count++
	return entry.count, entry.resetAt, nil
}

func (s *MemoryStore) DecrWindow(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.windows[key]; ok && entry.count > 0 {
		entry.count--
	}
	return nil
}

func (s *MemoryStore) AppendLog(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	log := s.logs[key]
	kept := log[:0]
	for _, at := range log {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	s.logs[key] = kept

	return int64(len(kept)), kept[0], nil
}

func (s *MemoryStore) TrimNewest(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log := s.logs[key]; len(log) > 0 {
		s.logs[key] = log[:len(log)-1]
	}
	return nil
}

// Sweep evicts lapsed fixed windows and sliding logs whose newest entry is
// older than idle. The background sweeper calls it periodically to bound
// memory; it never runs on a request path.
func (s *MemoryStore) Sweep(idle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.windows {
		if now.After(entry.resetAt) {
			delete(s.windows, key)
		}
	}

	cutoff := now.Add(-idle)
	for key, log := range s.logs {
		if len(log) == 0 || log[len(log)-1].Before(cutoff) {
			delete(s.logs, key)
		}
	}
}
