package quota

import (
	"fmt"
	"time"

	"tollgate-ai/tollgate/pkg/period"
	"tollgate-ai/tollgate/pkg/scope"
)

// Definition is a consumption ceiling for one scope and metric over a
// calendar period.
//
// A definition whose scope carries an empty ID (for provider or user
// kinds) applies to every identifier of that kind; an exact-scope
// definition overrides the kind-wide one.
type Definition struct {
	// Scope is the boundary the quota guards.
	Scope scope.Scope

	// Metric is what the quota counts. Cost limits are in micro-USD.
	Metric scope.Metric

	// Limit is the ceiling for one period.
	Limit int64

	// Period is the accounting window kind.
	Period period.Kind

	// Timezone is the IANA zone the period boundaries are computed in.
	// Empty means UTC.
	Timezone string
}

// Validate checks the definition is enforceable.
func (d Definition) Validate() error {
	if !d.Scope.Valid() && d.Scope.ID != "" {
		return fmt.Errorf("quota definition has invalid scope %q", d.Scope.Key())
	}
	if d.Scope.Kind != scope.KindGlobal && d.Scope.Kind != scope.KindProvider && d.Scope.Kind != scope.KindUser {
		return fmt.Errorf("quota definition has unknown scope kind %q", d.Scope.Kind)
	}
	if !scope.ValidMetric(d.Metric) {
		return fmt.Errorf("quota definition has unknown metric %q", d.Metric)
	}
	if d.Limit <= 0 {
		return fmt.Errorf("quota definition for %s/%s must have a positive limit", d.Scope.Key(), d.Metric)
	}
	if !d.Period.Valid() {
		return fmt.Errorf("quota definition for %s/%s has unknown period %q", d.Scope.Key(), d.Metric, d.Period)
	}
	if _, err := period.LoadLocation(d.Timezone); err != nil {
		return fmt.Errorf("quota definition for %s/%s: %w", d.Scope.Key(), d.Metric, err)
	}
	return nil
}

// Reservation is a pending hold against one quota record. Exactly one of
// Consume or Release settles it; the second settlement of the same ID is
// a no-op.
type Reservation struct {
	// ID is the settlement handle.
	ID string

	// Scope and Metric identify the quota the hold counts against.
	Scope  scope.Scope
	Metric scope.Metric

	// Amount is the held amount.
	Amount int64

	// CreatedAt is when the hold was taken; the abandonment sweep
	// releases holds older than the configured threshold.
	CreatedAt time.Time

	// key is the store key of the period record the hold lives in. Kept
	// on the reservation so settlement hits the same period record even
	// if the period has since rolled over.
	key string
}

// Status is the current-period standing of one quota.
type Status struct {
	Scope       scope.Scope
	Metric      scope.Metric
	Used        int64
	Reserved    int64
	Limit       int64
	Available   int64
	PercentUsed float64
	ResetAt     time.Time
	Exceeded    bool
}
