package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tollgate-ai/tollgate/pkg/scope"
	"tollgate-ai/tollgate/pkg/store"
)

// failingBackend simulates a store outage.
type failingBackend struct {
	store.Backend
}

func (f *failingBackend) IncrWindow(context.Context, string, int64, int64) (int64, bool, error) {
	return 0, false, store.ErrUnavailable
}

func newTestLimiter(rules []Rule) *Limiter {
	l := NewLimiter(store.NewMemoryBackend(), rules, DefaultFailurePolicy())
	base := time.Date(2026, 5, 1, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return base }
	return l
}

func TestFixedWindowFiveThenDeny(t *testing.T) {
	rule := Rule{Scope: scope.Global(), Window: 60 * time.Second, MaxRequests: 5}
	l := newTestLimiter([]Rule{rule})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.CheckAndIncrement(ctx, scope.Global(), rule)
		if err != nil {
			t.Fatalf("CheckAndIncrement: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied below the limit", i+1)
		}
	}

	res, err := l.CheckAndIncrement(ctx, scope.Global(), rule)
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if res.Allowed {
		t.Fatal("6th request allowed past maxRequests=5")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > 60*time.Second {
		t.Errorf("RetryAfter = %v, want in (0, 60s]", res.RetryAfter)
	}
	if res.Scope != scope.Global() {
		t.Errorf("denial scope = %v, want global", res.Scope)
	}
}

func TestWindowRollover(t *testing.T) {
	rule := Rule{Scope: scope.Global(), Window: 60 * time.Second, MaxRequests: 1}
	l := newTestLimiter([]Rule{rule})
	ctx := context.Background()

	if res, _ := l.CheckAndIncrement(ctx, scope.Global(), rule); !res.Allowed {
		t.Fatal("first request denied")
	}
	if res, _ := l.CheckAndIncrement(ctx, scope.Global(), rule); res.Allowed {
		t.Fatal("second request in same window allowed")
	}

	// Advance past the window boundary: counter must reset.
	next := time.Date(2026, 5, 1, 12, 1, 5, 0, time.UTC)
	l.now = func() time.Time { return next }
	if res, _ := l.CheckAndIncrement(ctx, scope.Global(), rule); !res.Allowed {
		t.Error("request after window rollover denied")
	}
}

// Fixed windows knowingly allow a double-rate burst straddling a window
// boundary. This pins that trade-off so it stays a documented choice.
func TestFixedWindowBoundaryBurst(t *testing.T) {
	rule := Rule{Scope: scope.Global(), Window: 60 * time.Second, MaxRequests: 3}
	l := newTestLimiter([]Rule{rule})
	ctx := context.Background()

	// End of one window...
	l.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 59, 0, time.UTC) }
	for i := 0; i < 3; i++ {
		if res, _ := l.CheckAndIncrement(ctx, scope.Global(), rule); !res.Allowed {
			t.Fatalf("request %d denied in first window", i+1)
		}
	}

	// ...and the start of the next: all allowed again.
	l.now = func() time.Time { return time.Date(2026, 5, 1, 12, 1, 0, 0, time.UTC) }
	for i := 0; i < 3; i++ {
		if res, _ := l.CheckAndIncrement(ctx, scope.Global(), rule); !res.Allowed {
			t.Errorf("request %d denied straight after boundary", i+1)
		}
	}
}

func TestCheckOrderUserDeniedNotGlobal(t *testing.T) {
	rules := []Rule{
		{Scope: scope.Global(), Window: time.Minute, MaxRequests: 100},
		{Scope: scope.Scope{Kind: scope.KindUser}, Window: time.Minute, MaxRequests: 1},
	}
	l := newTestLimiter(rules)
	ctx := context.Background()

	scopes := []scope.Scope{scope.Global(), scope.User("u-1")}

	if res, _ := l.Check(ctx, scopes); !res.Allowed {
		t.Fatal("first request denied")
	}
	res, err := l.Check(ctx, scopes)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Allowed {
		t.Fatal("second request allowed past the per-user limit")
	}
	if res.Scope.Kind != scope.KindUser {
		t.Errorf("denial attributed to %v, want the user scope", res.Scope)
	}
}

func TestKindWideRuleIsolatesUsers(t *testing.T) {
	rules := []Rule{
		{Scope: scope.Scope{Kind: scope.KindUser}, Window: time.Minute, MaxRequests: 1},
	}
	l := newTestLimiter(rules)
	ctx := context.Background()

	if res, _ := l.Check(ctx, []scope.Scope{scope.User("alice")}); !res.Allowed {
		t.Fatal("alice's first request denied")
	}
	if res, _ := l.Check(ctx, []scope.Scope{scope.User("alice")}); res.Allowed {
		t.Fatal("alice's second request allowed")
	}
	// A different user has an independent counter.
	if res, _ := l.Check(ctx, []scope.Scope{scope.User("bob")}); !res.Allowed {
		t.Error("bob denied by alice's counter")
	}
}

func TestFailurePolicy(t *testing.T) {
	rules := []Rule{
		{Scope: scope.Global(), Window: time.Minute, MaxRequests: 10},
		{Scope: scope.Scope{Kind: scope.KindUser}, Window: time.Minute, MaxRequests: 10},
	}
	l := NewLimiter(&failingBackend{}, rules, DefaultFailurePolicy())
	ctx := context.Background()

	// Global fails closed during an outage.
	res, err := l.Check(ctx, []scope.Scope{scope.Global()})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Allowed {
		t.Error("global scope failed open during store outage")
	}
	if res.RetryAfter <= 0 {
		t.Error("fail-closed denial must carry a retry hint")
	}

	// User fails open during an outage.
	res, err = l.Check(ctx, []scope.Scope{scope.User("u-1")})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Allowed {
		t.Error("user scope failed closed during store outage")
	}
}

func TestFailurePolicyConfigurable(t *testing.T) {
	rules := []Rule{{Scope: scope.Scope{Kind: scope.KindUser}, Window: time.Minute, MaxRequests: 10}}
	policy := FailurePolicy{Global: FailOpen, Provider: FailOpen, User: FailClosed}
	l := NewLimiter(&failingBackend{}, rules, policy)

	res, err := l.Check(context.Background(), []scope.Scope{scope.User("u-1")})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Allowed {
		t.Error("user scope should fail closed under the inverted policy")
	}
}

func TestConcurrentCheckExactlyLimitAllowed(t *testing.T) {
	rule := Rule{Scope: scope.Global(), Window: time.Minute, MaxRequests: 10}
	l := newTestLimiter([]Rule{rule})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.CheckAndIncrement(ctx, scope.Global(), rule)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want exactly 10", allowed)
	}
}

func TestErrUnavailableSentinel(t *testing.T) {
	f := &failingBackend{}
	_, _, err := f.IncrWindow(context.Background(), "k", 0, 1)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("err = %v, want store.ErrUnavailable", err)
	}
}
