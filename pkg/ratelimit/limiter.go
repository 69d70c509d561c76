// Package ratelimit enforces short-window request-rate ceilings per scope.
//
// The limiter uses fixed windows: the window containing "now" starts at
// now truncated to the window length, and the counter resets when time
// crosses into a new window. Fixed windows permit up to a double-rate
// burst straddling a window boundary; that trade-off is deliberate (the
// check is one atomic store operation) and is pinned by a test rather than
// hidden.
//
// Checks run in fixed order global, provider, user, and the first denial
// short-circuits. Lower blast-radius scopes are checked last so a single
// user's denial is reported as the user's, never mistaken for global
// exhaustion.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tollgate-ai/tollgate/pkg/scope"
	"tollgate-ai/tollgate/pkg/store"
)

// checkOrder is the fixed scope-kind evaluation order.
var checkOrder = []scope.Kind{scope.KindGlobal, scope.KindProvider, scope.KindUser}

// Limiter checks requests against the configured rules through an atomic
// counter store.
type Limiter struct {
	backend store.Backend
	rules   map[scope.Kind][]Rule
	policy  FailurePolicy
	now     func() time.Time
	logger  *slog.Logger
}

// NewLimiter creates a limiter over the given backend and rules.
func NewLimiter(backend store.Backend, rules []Rule, policy FailurePolicy) *Limiter {
	byKind := make(map[scope.Kind][]Rule)
	for _, r := range rules {
		byKind[r.Scope.Kind] = append(byKind[r.Scope.Kind], r)
	}

	return &Limiter{
		backend: backend,
		rules:   byKind,
		policy:  policy,
		now:     time.Now,
		logger:  slog.Default().With("component", "ratelimit"),
	}
}

// Check evaluates every rule applicable to the given scopes, in the fixed
// global → provider → user order. Scopes with no matching rule pass. The
// returned Result carries the first denial, or Allowed=true when every
// rule passed.
func (l *Limiter) Check(ctx context.Context, scopes []scope.Scope) (*Result, error) {
	byKind := make(map[scope.Kind]scope.Scope, len(scopes))
	for _, s := range scopes {
		byKind[s.Kind] = s
	}

	for _, kind := range checkOrder {
		s, ok := byKind[kind]
		if !ok {
			continue
		}
		for _, rule := range l.rules[kind] {
			if !ruleApplies(rule, s) {
				continue
			}
			res, err := l.CheckAndIncrement(ctx, s, rule)
			if err != nil {
				return nil, err
			}
			if !res.Allowed {
				return res, nil
			}
		}
	}
	return &Result{Allowed: true}, nil
}

// CheckAndIncrement atomically counts the request against one rule for one
// scope. Deny carries the time until the current window resets.
//
// Store outages are resolved by the failure policy: fail-open returns an
// allow, fail-closed returns a deny with a retry hint of one window.
func (l *Limiter) CheckAndIncrement(ctx context.Context, s scope.Scope, rule Rule) (*Result, error) {
	now := l.now()
	windowStart := now.Truncate(rule.Window)
	key := counterKey(s, rule.Window)

	count, allowed, err := l.backend.IncrWindow(ctx, key, windowStart.Unix(), rule.MaxRequests)
	if err != nil {
		mode := l.policy.mode(s.Kind)
		l.logger.Warn("counter store unreachable",
			"scope", s.Key(),
			"failure_mode", string(mode),
			"error", err,
		)
		if mode == FailOpen {
			return &Result{Allowed: true}, nil
		}
		return &Result{
			Allowed:    false,
			Scope:      s,
			Rule:       rule,
			RetryAfter: rule.Window,
		}, nil
	}

	if allowed {
		return &Result{Allowed: true, Count: count}, nil
	}

	return &Result{
		Allowed:    false,
		Scope:      s,
		Rule:       rule,
		Count:      count,
		RetryAfter: windowStart.Add(rule.Window).Sub(now),
	}, nil
}

// ruleApplies reports whether rule covers s: either an exact scope match
// or a kind-wide rule (empty ID) matching any identifier of that kind.
func ruleApplies(rule Rule, s scope.Scope) bool {
	if rule.Scope.Kind != s.Kind {
		return false
	}
	return rule.Scope.ID == "" || rule.Scope.ID == s.ID
}

// counterKey builds the store key for a scope's window counter. The window
// length is part of the key so rules with different windows on the same
// scope use distinct counters.
func counterKey(s scope.Scope, window time.Duration) string {
	return fmt.Sprintf("rl:%s:%d", s.Key(), int64(window.Seconds()))
}
