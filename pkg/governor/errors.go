package governor

import (
	"errors"
	"fmt"
	"time"

	"tollgate-ai/tollgate/pkg/quota"
	"tollgate-ai/tollgate/pkg/ratelimit"
	"tollgate-ai/tollgate/pkg/scope"
)

// ErrRateLimitExceeded is matched by RateLimitExceededError via
// errors.Is().
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrQuotaExceeded aliases the ledger sentinel so callers can match
// quota denials without importing the quota package.
var ErrQuotaExceeded = quota.ErrQuotaExceeded

// RateLimitExceededError is a terminal rate-limit denial. It always
// carries a retry hint, never a bare rejection.
type RateLimitExceededError struct {
	// Scope is the boundary that denied the request.
	Scope scope.Scope

	// Rule is the rule that denied it.
	Rule ratelimit.Rule

	// RetryAfter is how long until the denying window resets.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per %s (retry after %s)",
		e.Scope.Key(), e.Rule.MaxRequests, e.Rule.Window, e.RetryAfter.Round(time.Millisecond))
}

// Is implements error matching for errors.Is().
func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
