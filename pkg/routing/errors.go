package routing

import (
	"errors"
	"fmt"
	"strings"
)

// Common routing errors that can be checked with errors.Is().
var (
	// ErrAllProvidersExhausted is returned when the fallback chain has
	// tried every viable provider, or exceeded the maximum depth.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrInvalidStrategy is returned for an unknown routing strategy.
	ErrInvalidStrategy = errors.New("invalid routing strategy")

	// ErrNoProvidersConfigured is returned when the router holds no
	// descriptors at all.
	ErrNoProvidersConfigured = errors.New("no providers configured")
)

// AllProvidersExhaustedError is the terminal routing failure: no healthy
// capable provider remains after the attempted fallback chain.
type AllProvidersExhaustedError struct {
	// Attempted contains the providers tried, in order.
	Attempted []string

	// RequiredCapabilities are the capabilities the request needed.
	RequiredCapabilities []Capability

	// ExplicitModel is set when the request pinned a model.
	ExplicitModel string
}

// Error implements the error interface.
func (e *AllProvidersExhaustedError) Error() string {
	msg := fmt.Sprintf("all providers exhausted (attempted: %s)", strings.Join(e.Attempted, ", "))
	if e.ExplicitModel != "" {
		msg += fmt.Sprintf(" for model %q", e.ExplicitModel)
	}
	return msg
}

// Is implements error matching for errors.Is().
func (e *AllProvidersExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// InvalidStrategyError is returned when the configured routing strategy
// is not recognized.
type InvalidStrategyError struct {
	// Strategy is the invalid strategy name.
	Strategy Strategy
}

// Error implements the error interface.
func (e *InvalidStrategyError) Error() string {
	names := make([]string, len(Strategies))
	for i, s := range Strategies {
		names[i] = string(s)
	}
	return fmt.Sprintf("invalid routing strategy %q (available strategies: %s)",
		e.Strategy, strings.Join(names, ", "))
}

// Is implements error matching for errors.Is().
func (e *InvalidStrategyError) Is(target error) bool {
	return target == ErrInvalidStrategy
}
