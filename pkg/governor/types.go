// Package governor orchestrates admission control for completion
// requests: routing, rate limiting, quota reservation, cost accounting,
// and usage recording.
//
// A request moves through an explicit state machine. Admit either denies
// it (rate_limited or quota_exceeded, terminal) or admits it with a
// routing decision and a set of quota holds. The caller executes the
// provider call outside the governor, then reports the outcome to
// Settle, which consumes the holds with actual amounts on success or
// releases them untouched on failure. No lock is held across the
// provider call.
package governor

import (
	"sync"

	"tollgate-ai/tollgate/pkg/routing"
	"tollgate-ai/tollgate/pkg/scope"
)

// State is the lifecycle position of one governed request.
type State string

const (
	// StateAdmitted means quota holds are taken and the provider call may
	// proceed.
	StateAdmitted State = "admitted"

	// StateSettledSuccess means the holds were consumed with actual
	// amounts.
	StateSettledSuccess State = "settled_success"

	// StateSettledFailure means the holds were released after a provider
	// failure.
	StateSettledFailure State = "settled_failure"

	// StateDeniedRateLimited and StateDeniedQuotaExceeded are terminal
	// pre-admission denials.
	StateDeniedRateLimited   State = "denied_rate_limited"
	StateDeniedQuotaExceeded State = "denied_quota_exceeded"
)

// Request describes one admission attempt.
type Request struct {
	// RequestID identifies the request; assigned when empty.
	RequestID string

	// UserID is the requesting user; empty for anonymous traffic, which
	// skips the user scope.
	UserID string

	// Feature names the capability being exercised, recorded with usage.
	Feature string

	// RequiredCapabilities and Strategy drive provider selection.
	RequiredCapabilities []routing.Capability
	Strategy             routing.Strategy

	// ExplicitModel pins the model; the router honors it over strategy.
	ExplicitModel string

	// EstimatedInputUnits and EstimatedOutputUnits are the caller's token
	// estimates, used to size the quota holds.
	EstimatedInputUnits  int64
	EstimatedOutputUnits int64

	// CacheHit marks a request a collaborator cache will serve. Only the
	// requests metric is held; tokens and cost quota are untouched.
	CacheHit bool

	// Exclude carries the failed providers of previous attempts so a
	// retry advances the fallback chain.
	Exclude []string
}

// Outcome is the caller's report of how the provider call ended.
type Outcome struct {
	// Success indicates the provider call completed.
	Success bool

	// InputUnits and OutputUnits are the measured token counts.
	InputUnits  int64
	OutputUnits int64

	// Err is the provider error for failed calls, recorded with usage.
	Err error
}

// hold is one quota reservation taken during admission.
type hold struct {
	scope  scope.Scope
	metric scope.Metric
	id     string
}

// Admission is the result of a successful Admit. It is settled exactly
// once; the second Settle of the same admission is a no-op.
type Admission struct {
	// RequestID echoes the admitted request.
	RequestID string

	// Decision is the routing decision the caller executes.
	Decision *routing.Decision

	// EstimatedTokens and EstimatedCostMicroUSD are the amounts held.
	EstimatedTokens       int64
	EstimatedCostMicroUSD int64

	// CacheHit echoes the request's cache shortcut.
	CacheHit bool

	userID  string
	feature string
	scopes  []scope.Scope
	holds   []hold

	mu    sync.Mutex
	state State
}

// State returns the admission's current lifecycle state.
func (a *Admission) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// transition moves the admission from StateAdmitted to next. ok is false
// when the admission was already settled.
func (a *Admission) transition(next State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateAdmitted {
		return false
	}
	a.state = next
	return true
}
