// Package store defines the atomic counter backend used by the rate
// limiter and the quota ledger.
//
// The backend contract is deliberately narrow: every operation is a single
// atomic read-modify-write on one key, so two concurrent callers can never
// both pass a ceiling check that only one of them should pass. Backends are
// keyed by opaque strings; callers encode scope, metric, and period into
// the key so that unrelated scopes never contend with each other.
//
// Three implementations exist:
//
//   - MemoryBackend (this package): per-key mutexes, single-process.
//   - redisstore.Backend: Lua scripts, safe across processes.
//   - sqlitestore.Backend: serialized transactions, durable across restarts.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backend cannot be reached. Callers
// decide whether to fail open or closed; see ratelimit.FailurePolicy.
var ErrUnavailable = errors.New("counter store unavailable")

// Counter is the two-column ledger cell backing one (scope, metric, period)
// tuple.
type Counter struct {
	// Used is the settled consumption in the period.
	Used int64

	// Reserved is the sum of outstanding reservation holds.
	Reserved int64
}

// Backend is the atomic counter capability.
//
// All mutating methods must be linearizable per key. Implementations must
// never hold a lock across anything slower than the operation itself.
type Backend interface {
	// IncrWindow performs an atomic fixed-window check-and-increment on
	// key. If the stored window start differs from windowStart the counter
	// resets to zero first. The counter is incremented only when the
	// post-increment count would not exceed limit; the returned count is
	// the stored value after the operation either way.
	IncrWindow(ctx context.Context, key string, windowStart int64, limit int64) (count int64, allowed bool, err error)

	// Reserve atomically adds amount to Reserved iff
	// Used + Reserved + amount <= limit. Returns the counter after the
	// attempt and whether the hold was applied. A rejected reservation has
	// no side effects.
	Reserve(ctx context.Context, key string, amount, limit int64) (Counter, bool, error)

	// Consume atomically settles a hold: Reserved -= reservedAmount,
	// Used += actualAmount. Used may exceed the configured limit when the
	// actual amount overshoots the estimate; that is accepted, not
	// rejected.
	Consume(ctx context.Context, key string, reservedAmount, actualAmount int64) error

	// Release atomically subtracts reservedAmount from Reserved, leaving
	// Used untouched.
	Release(ctx context.Context, key string, reservedAmount int64) error

	// Get returns the counter stored at key. Missing keys read as a zero
	// counter.
	Get(ctx context.Context, key string) (Counter, error)

	// DeleteBefore removes counters not touched since cutoff. Expired
	// period records are immutable by construction (new periods use new
	// keys), so this is an archival sweep, not a correctness requirement.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}
