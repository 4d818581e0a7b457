package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryProvider is a Provider held in process memory.
type MemoryProvider[T any] struct {
	mu   sync.RWMutex
	docs map[string]T
}

func NewMemoryProvider[T any]() *MemoryProvider[T] {
	return &MemoryProvider[T]{docs: make(map[string]T)}
}

func (p *MemoryProvider[T]) Start(context.Context) error { return nil }

func (p *MemoryProvider[T]) Save(_ context.Context, key string, doc T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[key] = doc
	return nil
}

func (p *MemoryProvider[T]) Get(_ context.Context, key string) (T, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	doc, ok := p.docs[key]
	return doc, ok, nil
}

func (p *MemoryProvider[T]) GetAll(context.Context) ([]T, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.docs))
	for k := range p.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.docs[k])
	}
	return out, nil
}
