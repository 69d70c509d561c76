// Package period computes accounting period boundaries for quota
// enforcement.
//
// A period is the calendar window a quota counter lives in: daily quotas
// reset at local midnight, monthly quotas on the first of the month, both
// evaluated in the timezone attached to the quota definition. Boundary
// computation is pure; rollover is evaluated lazily by callers comparing
// "now" against the period end.
package period

import (
	"fmt"
	"time"
)

// Kind identifies the length of an accounting period.
type Kind string

const (
	// KindDaily resets at local midnight.
	KindDaily Kind = "daily"

	// KindMonthly resets on the first of the month at local midnight.
	KindMonthly Kind = "monthly"
)

// Valid reports whether k names a known period kind.
func (k Kind) Valid() bool {
	return k == KindDaily || k == KindMonthly
}

// Period is a half-open accounting window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Boundaries returns the period containing now for the given kind and
// location. The location must be the timezone from the quota definition;
// daylight-saving transitions are handled by time.Date normalization, so a
// "day" may be 23 or 25 wall-clock hours around a transition.
func Boundaries(kind Kind, loc *time.Location, now time.Time) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	switch kind {
	case KindDaily:
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return Period{Start: start, End: start.AddDate(0, 0, 1)}, nil
	case KindMonthly:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return Period{Start: start, End: start.AddDate(0, 1, 0)}, nil
	default:
		return Period{}, fmt.Errorf("unknown period kind %q", kind)
	}
}

// LoadLocation resolves an IANA timezone name, defaulting to UTC when the
// name is empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
