package ratelimit

import (
	"time"

	"tollgate-ai/tollgate/pkg/scope"
)

// Rule is a stateless rate ceiling definition for one scope. Counter
// state lives in the store, keyed by scope and window length.
//
// A rule whose scope carries an empty ID (for provider or user kinds)
// applies to every identifier of that kind.
type Rule struct {
	// Scope is the boundary the rule guards.
	Scope scope.Scope

	// Window is the fixed window length.
	Window time.Duration

	// MaxRequests is the ceiling within one window.
	MaxRequests int64
}

// FailureMode selects behavior when the counter store is unreachable.
type FailureMode string

const (
	// FailClosed denies requests during a store outage.
	FailClosed FailureMode = "closed"

	// FailOpen allows requests during a store outage.
	FailOpen FailureMode = "open"
)

// FailurePolicy maps each scope kind to its store-outage behavior.
//
// The default protects shared capacity aggressively and degrades
// gracefully for individuals: global and provider scopes fail closed,
// user scopes fail open.
type FailurePolicy struct {
	Global   FailureMode
	Provider FailureMode
	User     FailureMode
}

// DefaultFailurePolicy returns the recommended policy.
func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{
		Global:   FailClosed,
		Provider: FailClosed,
		User:     FailOpen,
	}
}

// mode returns the failure mode for a scope kind.
func (p FailurePolicy) mode(kind scope.Kind) FailureMode {
	switch kind {
	case scope.KindGlobal:
		return p.Global
	case scope.KindProvider:
		return p.Provider
	default:
		return p.User
	}
}

// Result is the outcome of checking one request against the rules.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Scope is the boundary that denied the request (when Allowed=false).
	Scope scope.Scope

	// Rule is the rule that denied the request (when Allowed=false).
	Rule Rule

	// Count is the window counter after the check.
	Count int64

	// RetryAfter is how long until the denying window resets.
	RetryAfter time.Duration
}
