package quota

import (
	"errors"
	"fmt"
	"time"

	"tollgate-ai/tollgate/pkg/scope"
)

// ErrQuotaExceeded is matched by ExceededError via errors.Is().
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrReservationNotFound is returned by Lookup for unknown reservation
// IDs. Consume and Release treat an unknown ID as already settled and
// return nil instead, so retried settlements stay harmless.
var ErrReservationNotFound = errors.New("reservation not found")

// ExceededError is a rejected reservation. It always carries the reset
// time so callers can return a machine-readable retry hint, never a bare
// rejection.
type ExceededError struct {
	Scope     scope.Scope
	Metric    scope.Metric
	Requested int64
	Used      int64
	Reserved  int64
	Limit     int64
	ResetAt   time.Time
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s/%s: requested %d with %d used and %d reserved against limit %d (resets %s)",
		e.Scope.Key(), e.Metric, e.Requested, e.Used, e.Reserved, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Is implements error matching for errors.Is().
func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
