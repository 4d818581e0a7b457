package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"netcluster/internal/metrics"
)

// MemoryBackend is a concurrency-safe in-process Backend.
//
// Expired keys are dropped lazily on access and in bulk by RemoveExpired,
// which the TTL cleaner calls.
type MemoryBackend struct {
	mu      sync.RWMutex
	data    map[string]entry
	metrics *metrics.Registry
}

func NewMemoryBackend(metricsRegistry *metrics.Registry) *MemoryBackend {
	return &MemoryBackend{
		data:    make(map[string]entry),
		metrics: metricsRegistry,
	}
}

// live returns the entry at key, deleting it if it has expired.
// Callers hold the write lock.
func (m *MemoryBackend) live(key string, now time.Time) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if e.IsExpired(now) {
		delete(m.data, key)
		m.metrics.Inc(metrics.CacheExpiredTotal)
		m.metrics.Add(metrics.CacheKeysTotal, -1)
		return entry{}, false
	}
	return e, true
}

func (m *MemoryBackend) put(key string, e entry, existed bool) {
	if !existed {
		m.metrics.Inc(metrics.CacheKeysTotal)
	}
	m.data[key] = e
}

func (m *MemoryBackend) drop(key string) {
	delete(m.data, key)
	m.metrics.Add(metrics.CacheKeysTotal, -1)
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if e.IsExpired(time.Now()) {
		m.mu.Lock()
		m.live(key, time.Now())
		m.mu.Unlock()
		return "", false, nil
	}
	if e.IsList {
		return "", false, ErrWrongType
	}
	return e.Value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	now := time.Now()
	e := entry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.live(key, now)
	m.put(key, e, existed)
	return nil
}

func (m *MemoryBackend) Push(_ context.Context, key, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, existed := m.live(key, time.Now())
	if existed && !e.IsList {
		return 0, ErrWrongType
	}
	e.IsList = true
	e.List = append(append([]string(nil), e.List...), value)
	m.put(key, e, existed)
	return int64(len(e.List)), nil
}

func (m *MemoryBackend) Range(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key, time.Now())
	if !ok {
		return []string{}, nil
	}
	if !e.IsList {
		return nil, ErrWrongType
	}
	return append([]string(nil), e.List...), nil
}

func (m *MemoryBackend) RemoveFromList(_ context.Context, key, value string, count int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key, time.Now())
	if !ok {
		return 0, nil
	}
	if !e.IsList {
		return 0, ErrWrongType
	}

	kept, removed := removeOccurrences(e.List, value, count)
	if removed == 0 {
		return 0, nil
	}
	if len(kept) == 0 {
		m.drop(key)
		return removed, nil
	}
	e.List = kept
	m.data[key] = e
	return removed, nil
}

// removeOccurrences implements LREM on a copy of list.
func removeOccurrences(list []string, value string, count int64) ([]string, int64) {
	limit := count
	if limit < 0 {
		limit = -limit
	}
	drop := make([]bool, len(list))
	var removed int64

	for n := range list {
		i := n
		if count < 0 {
			i = len(list) - 1 - n
		}
		if list[i] != value {
			continue
		}
		drop[i] = true
		removed++
		if limit != 0 && removed == limit {
			break
		}
	}

	kept := make([]string, 0, len(list)-int(removed))
	for i, v := range list {
		if !drop[i] {
			kept = append(kept, v)
		}
	}
	return kept, removed
}

func (m *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key, time.Now()); !ok {
		return false, nil
	}
	m.drop(key)
	return true, nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	match := prefix + ":"
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for k := range m.data {
		if !strings.HasPrefix(k, match) {
			continue
		}
		if _, ok := m.live(k, now); ok {
			m.drop(k)
			removed++
		}
	}
	return removed, nil
}

// RemoveExpired removes all expired keys.
//
// This is called by the background TTL cleaner.
func (m *MemoryBackend) RemoveExpired() int {
	now := time.Now()
	removed := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.data {
		if e.IsExpired(now) {
			delete(m.data, k)
			removed++
		}
	}

	if removed > 0 {
		m.metrics.Add(metrics.CacheExpiredTotal, int64(removed))
		m.metrics.Add(metrics.CacheKeysTotal, -int64(removed))
	}
	return removed
}
