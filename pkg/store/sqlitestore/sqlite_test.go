package sqlitestore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{Path: filepath.Join(t.TempDir(), "counters.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestReserveConsumeRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	c, ok, err := b.Reserve(ctx, "q:user:u1:tokens:0", 90, 100)
	if err != nil || !ok {
		t.Fatalf("Reserve = (%+v, %v, %v), want success", c, ok, err)
	}

	if _, ok, _ := b.Reserve(ctx, "q:user:u1:tokens:0", 20, 100); ok {
		t.Error("second Reserve succeeded past ceiling")
	}

	if err := b.Consume(ctx, "q:user:u1:tokens:0", 90, 95); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	c, err = b.Get(ctx, "q:user:u1:tokens:0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Used != 95 || c.Reserved != 0 {
		t.Errorf("counter = %+v, want used=95 reserved=0", c)
	}
}

func TestIncrWindowRollover(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, allowed, err := b.IncrWindow(ctx, "rl:global:60", 100, 3)
		if err != nil || !allowed || count != i {
			t.Fatalf("IncrWindow #%d = (%d, %v, %v)", i, count, allowed, err)
		}
	}
	if _, allowed, _ := b.IncrWindow(ctx, "rl:global:60", 100, 3); allowed {
		t.Error("4th increment allowed past limit 3")
	}
	if count, allowed, _ := b.IncrWindow(ctx, "rl:global:60", 160, 3); !allowed || count != 1 {
		t.Errorf("after rollover: (%d, %v), want (1, true)", count, allowed)
	}
}

func TestCountersSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters.db")
	ctx := context.Background()

	b, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok, err := b.Reserve(ctx, "q", 10, 100); err != nil || !ok {
		t.Fatalf("Reserve: ok=%v err=%v", ok, err)
	}
	if err := b.Consume(ctx, "q", 10, 10); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	b.Close()

	b2, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()

	c, err := b2.Get(ctx, "q")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Used != 10 {
		t.Errorf("Used = %d after reopen, want 10", c.Used)
	}
}

func TestConcurrentReserve(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	const n = 20
	const limit = 5

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := b.Reserve(ctx, "q", 1, limit); err == nil && ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != limit {
		t.Errorf("successes = %d, want exactly %d", successes, limit)
	}
}

func TestDeleteBefore(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	b.Reserve(ctx, "old", 1, 10)

	removed, err := b.DeleteBefore(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if c, _ := b.Get(ctx, "old"); c.Reserved != 0 {
		t.Error("swept counter still present")
	}
}
