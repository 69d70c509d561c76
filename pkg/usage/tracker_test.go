package usage

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitForCount(t *testing.T, storage Storage, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := storage.Count(context.Background(), &Query{})
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	n, _ := storage.Count(context.Background(), &Query{})
	t.Fatalf("stored %d events, want %d", n, want)
}

func TestTrackerRecordsAsync(t *testing.T) {
	storage := NewMemoryStorage()
	tracker := NewTracker(storage, DefaultTrackerConfig())
	defer tracker.Close()

	tracker.Record(&Event{
		RequestID: "req-1",
		UserID:    "alice",
		Provider:  "alpha",
		Outcome:   OutcomeSuccess,
	})

	waitForCount(t, storage, 1)

	events, err := storage.Query(context.Background(), &Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	e := events[0]
	if e.ID == "" {
		t.Error("event ID not assigned")
	}
	if e.Timestamp.IsZero() {
		t.Error("event timestamp not assigned")
	}
	if e.RequestID != "req-1" {
		t.Errorf("RequestID = %q", e.RequestID)
	}
}

func TestTrackerCloseDrainsBuffer(t *testing.T) {
	storage := NewMemoryStorage()
	tracker := NewTracker(storage, DefaultTrackerConfig())

	const n = 50
	for i := 0; i < n; i++ {
		tracker.Record(&Event{RequestID: "req", Outcome: OutcomeSuccess})
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	count, err := storage.Count(context.Background(), &Query{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != n {
		t.Errorf("stored %d events after Close, want %d", count, n)
	}
}

// blockingStorage blocks every Store until released.
type blockingStorage struct {
	MemoryStorage
	release chan struct{}
	once    sync.Once
}

func (s *blockingStorage) Store(ctx context.Context, event *Event) error {
	<-s.release
	return s.MemoryStorage.Store(ctx, event)
}

func (s *blockingStorage) unblock() {
	s.once.Do(func() { close(s.release) })
}

func TestTrackerDropsWhenBufferFull(t *testing.T) {
	storage := &blockingStorage{release: make(chan struct{})}
	cfg := DefaultTrackerConfig()
	cfg.AsyncBuffer = 2
	tracker := NewTracker(storage, cfg)

	// One event is taken by the blocked worker, two fill the buffer; the
	// rest are dropped without blocking this goroutine.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			tracker.Record(&Event{RequestID: "req", Outcome: OutcomeSuccess})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	if tracker.Dropped() == 0 {
		t.Error("Dropped() = 0, want events dropped")
	}

	storage.unblock()
	tracker.Close()
}

func TestTrackerDisabled(t *testing.T) {
	storage := NewMemoryStorage()
	cfg := DefaultTrackerConfig()
	cfg.Enabled = false
	tracker := NewTracker(storage, cfg)

	tracker.Record(&Event{RequestID: "req", Outcome: OutcomeSuccess})
	tracker.Close()

	count, err := storage.Count(context.Background(), &Query{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("stored %d events with tracking disabled, want 0", count)
	}
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	now := time.Now()

	events := []*Event{
		{ID: "1", Timestamp: now, UserID: "alice", Provider: "alpha", TotalTokens: 100, CostMicroUSD: 500, Outcome: OutcomeSuccess},
		{ID: "2", Timestamp: now, UserID: "alice", Provider: "beta", TotalTokens: 200, CostMicroUSD: 900, Outcome: OutcomeSuccess},
		{ID: "3", Timestamp: now, UserID: "bob", Outcome: OutcomeRateLimited},
		{ID: "4", Timestamp: now, UserID: "alice", Outcome: OutcomeCacheHit},
	}
	for _, e := range events {
		if err := storage.Store(ctx, e); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	summary, err := Summarize(ctx, storage, &Query{UserID: "alice"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Events != 3 {
		t.Errorf("Events = %d, want 3", summary.Events)
	}
	if summary.TotalTokens != 300 {
		t.Errorf("TotalTokens = %d, want 300", summary.TotalTokens)
	}
	if summary.CostMicroUSD != 1400 {
		t.Errorf("CostMicroUSD = %d, want 1400", summary.CostMicroUSD)
	}
	if summary.ByOutcome[OutcomeSuccess] != 2 || summary.ByOutcome[OutcomeCacheHit] != 1 {
		t.Errorf("ByOutcome = %v", summary.ByOutcome)
	}
	if summary.ByProvider["alpha"] != 1 || summary.ByProvider["beta"] != 1 {
		t.Errorf("ByProvider = %v", summary.ByProvider)
	}
}
