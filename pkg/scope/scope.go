// Package scope defines the governance boundaries that limits and quotas
// are enforced against.
//
// A scope identifies one independently-limited boundary: the whole
// deployment (global), a single backend provider, or a single user. Scopes
// are not hierarchical; a request is checked against every scope that
// applies to it, and must pass all of them.
package scope

import (
	"fmt"
	"strings"
)

// Kind identifies the category of a governance boundary.
type Kind string

const (
	// KindGlobal covers the whole deployment.
	KindGlobal Kind = "global"

	// KindProvider covers a single backend provider.
	KindProvider Kind = "provider"

	// KindUser covers a single end user.
	KindUser Kind = "user"
)

// Metric identifies what a quota counts.
type Metric string

const (
	// MetricRequests counts admitted requests.
	MetricRequests Metric = "requests"

	// MetricTokens counts prompt plus completion tokens.
	MetricTokens Metric = "tokens"

	// MetricCost counts spend in micro-USD.
	MetricCost Metric = "cost"
)

// Metrics lists every quota metric in a stable order.
var Metrics = []Metric{MetricRequests, MetricTokens, MetricCost}

// Scope is a single governance boundary. The global scope has an empty ID;
// provider and user scopes carry the provider or user identifier.
type Scope struct {
	Kind Kind
	ID   string
}

// Global returns the deployment-wide scope.
func Global() Scope {
	return Scope{Kind: KindGlobal}
}

// Provider returns the scope covering the named provider.
func Provider(id string) Scope {
	return Scope{Kind: KindProvider, ID: id}
}

// User returns the scope covering the identified user.
func User(id string) Scope {
	return Scope{Kind: KindUser, ID: id}
}

// Key returns the canonical storage key fragment for the scope.
// Global scopes render as "global"; others as "kind:id".
func (s Scope) Key() string {
	if s.Kind == KindGlobal {
		return string(KindGlobal)
	}
	return string(s.Kind) + ":" + s.ID
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	return s.Key()
}

// Valid reports whether the scope is well formed: a known kind, with an ID
// present exactly when the kind requires one.
func (s Scope) Valid() bool {
	switch s.Kind {
	case KindGlobal:
		return s.ID == ""
	case KindProvider, KindUser:
		return s.ID != ""
	default:
		return false
	}
}

// Parse parses a scope key produced by Key back into a Scope.
func Parse(key string) (Scope, error) {
	if key == string(KindGlobal) {
		return Global(), nil
	}

	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return Scope{}, fmt.Errorf("malformed scope key %q", key)
	}

	s := Scope{Kind: Kind(kind), ID: id}
	if !s.Valid() {
		return Scope{}, fmt.Errorf("malformed scope key %q", key)
	}
	return s, nil
}

// ValidMetric reports whether m names a known quota metric.
func ValidMetric(m Metric) bool {
	switch m {
	case MetricRequests, MetricTokens, MetricCost:
		return true
	default:
		return false
	}
}
