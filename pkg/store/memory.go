package store

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Backend with in-process state. It is the
// default backend: fast, dependency-free, and lost on restart.
//
// Each key owns its own mutex, so operations on unrelated keys never
// serialize against each other.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu          sync.Mutex
	windowStart int64
	count       int64
	counter     Counter
	touched     time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*memoryEntry),
	}
}

// entry returns the entry for key, creating it if needed.
func (b *MemoryBackend) entry(key string) *memoryEntry {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if ok {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok = b.entries[key]; ok {
		return e
	}
	e = &memoryEntry{}
	b.entries[key] = e
	return e
}

// IncrWindow implements Backend.
func (b *MemoryBackend) IncrWindow(_ context.Context, key string, windowStart int64, limit int64) (int64, bool, error) {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.windowStart != windowStart {
		e.windowStart = windowStart
		e.count = 0
	}
	e.touched = time.Now()

	if e.count+1 > limit {
		return e.count, false, nil
	}
	e.count++
	return e.count, true, nil
}

// Reserve implements Backend.
func (b *MemoryBackend) Reserve(_ context.Context, key string, amount, limit int64) (Counter, bool, error) {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touched = time.Now()
	if e.counter.Used+e.counter.Reserved+amount > limit {
		return e.counter, false, nil
	}
	e.counter.Reserved += amount
	return e.counter, true, nil
}

// Consume implements Backend.
func (b *MemoryBackend) Consume(_ context.Context, key string, reservedAmount, actualAmount int64) error {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touched = time.Now()
	e.counter.Reserved -= reservedAmount
	if e.counter.Reserved < 0 {
		e.counter.Reserved = 0
	}
	e.counter.Used += actualAmount
	return nil
}

// Release implements Backend.
func (b *MemoryBackend) Release(_ context.Context, key string, reservedAmount int64) error {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.touched = time.Now()
	e.counter.Reserved -= reservedAmount
	if e.counter.Reserved < 0 {
		e.counter.Reserved = 0
	}
	return nil
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, key string) (Counter, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return Counter{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter, nil
}

// DeleteBefore implements Backend.
func (b *MemoryBackend) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed int64
	for key, e := range b.entries {
		e.mu.Lock()
		stale := !e.touched.IsZero() && e.touched.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(b.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Close implements Backend. It is a no-op for the memory backend.
func (b *MemoryBackend) Close() error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
