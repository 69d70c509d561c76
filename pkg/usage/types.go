// Package usage records the outcome of every governed request as an
// append-only event stream.
//
// Events are written asynchronously so recording never blocks the
// admission path. Storage backends provide querying, aggregation, and
// age-based pruning.
package usage

import (
	"context"
	"time"
)

// Outcome classifies how a governed request ended.
type Outcome string

const (
	// OutcomeSuccess is a request that executed and settled normally.
	OutcomeSuccess Outcome = "success"

	// OutcomeRateLimited is a request denied by a rate limit.
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeQuotaExceeded is a request denied by a quota ceiling.
	OutcomeQuotaExceeded Outcome = "quota_exceeded"

	// OutcomeProviderError is a request that was admitted but whose
	// provider call failed.
	OutcomeProviderError Outcome = "provider_error"

	// OutcomeCacheHit is a request served from cache without a provider
	// call.
	OutcomeCacheHit Outcome = "cache_hit"
)

// ValidOutcome reports whether o is a known outcome.
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeSuccess, OutcomeRateLimited, OutcomeQuotaExceeded,
		OutcomeProviderError, OutcomeCacheHit:
		return true
	}
	return false
}

// Event is one recorded request outcome.
type Event struct {
	// ID is the storage identity of the event.
	ID string

	// Timestamp is when the outcome was recorded.
	Timestamp time.Time

	// RequestID ties the event back to the admission it describes.
	RequestID string

	// UserID is the requesting user, empty for anonymous traffic.
	UserID string

	// Provider and Model are the routed pair; empty when the request was
	// denied before routing completed or served from cache.
	Provider string
	Model    string

	// Feature names the capability the request exercised.
	Feature string

	// Strategy is the routing strategy that chose the provider.
	Strategy string

	// FallbackChain is the ordered list of providers attempted.
	FallbackChain []string

	// Token counts and cost as settled. Denied requests carry zeroes.
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostMicroUSD     int64

	// Outcome classifies the result.
	Outcome Outcome

	// Error carries the provider error text for provider_error outcomes.
	Error string
}

// Query filters stored events. Zero-valued fields do not filter.
type Query struct {
	// Since and Until bound the timestamp range, half-open [Since, Until).
	Since time.Time
	Until time.Time

	// UserID, Provider, and Outcome restrict to exact matches.
	UserID   string
	Provider string
	Outcome  Outcome

	// Limit and Offset paginate; Limit 0 means no limit.
	Limit  int
	Offset int
}

// Matches reports whether e passes every filter in q. Pagination is
// applied by the caller.
func (q *Query) Matches(e *Event) bool {
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.Provider != "" && e.Provider != q.Provider {
		return false
	}
	if q.Outcome != "" && e.Outcome != q.Outcome {
		return false
	}
	return true
}

// Summary aggregates a set of events.
type Summary struct {
	// Events is the number of events aggregated.
	Events int64

	// TotalTokens and CostMicroUSD sum the settled amounts.
	TotalTokens  int64
	CostMicroUSD int64

	// ByOutcome counts events per outcome.
	ByOutcome map[Outcome]int64

	// ByProvider counts events per provider.
	ByProvider map[string]int64
}

// Storage persists usage events. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Store persists one event.
	Store(ctx context.Context, event *Event) error

	// Query returns events matching q, newest first.
	Query(ctx context.Context, q *Query) ([]*Event, error)

	// Count returns the number of events matching q.
	Count(ctx context.Context, q *Query) (int64, error)

	// DeleteBefore removes events with timestamps before cutoff and
	// returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}

// Summarize aggregates the events matching q.
func Summarize(ctx context.Context, storage Storage, q *Query) (*Summary, error) {
	events, err := storage.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		ByOutcome:  make(map[Outcome]int64),
		ByProvider: make(map[string]int64),
	}
	for _, e := range events {
		s.Events++
		s.TotalTokens += e.TotalTokens
		s.CostMicroUSD += e.CostMicroUSD
		s.ByOutcome[e.Outcome]++
		if e.Provider != "" {
			s.ByProvider[e.Provider]++
		}
	}
	return s, nil
}
