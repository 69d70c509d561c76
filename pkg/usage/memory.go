package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage implements Storage with an in-memory slice. Intended for
// testing and single-process deployments without persistence needs.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStorage creates an in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store persists one event.
func (s *MemoryStorage) Store(ctx context.Context, event *Event) error {
	eventCopy := *event
	s.mu.Lock()
	s.events = append(s.events, &eventCopy)
	s.mu.Unlock()
	return nil
}

// Query returns events matching q, newest first.
func (s *MemoryStorage) Query(ctx context.Context, q *Query) ([]*Event, error) {
	s.mu.RLock()
	var results []*Event
	for _, e := range s.events {
		if q.Matches(e) {
			eventCopy := *e
			results = append(results, &eventCopy)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if q.Offset > 0 {
		if q.Offset >= len(results) {
			return nil, nil
		}
		results = results[q.Offset:]
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// Count returns the number of events matching q.
func (s *MemoryStorage) Count(ctx context.Context, q *Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.events {
		if q.Matches(e) {
			n++
		}
	}
	return n, nil
}

// DeleteBefore removes events older than cutoff.
func (s *MemoryStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// Close releases nothing for the memory backend.
func (s *MemoryStorage) Close() error {
	return nil
}
