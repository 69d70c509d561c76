// Package pricing maintains the versioned per-unit price table for
// provider models.
//
// Prices are append-only: updating a model adds a new entry with a later
// EffectiveFrom rather than mutating the old one, so historical cost
// calculations stay reproducible. The active entry for a model is the one
// with the latest EffectiveFrom not after "now".
//
// Rates are tiered by context size. Tiers apply graduated (marginal)
// pricing: units up to the first tier boundary are charged at the first
// tier's rate, units past it at the next tier's rate, and so on. The
// boundary applies independently to input and output unit counts.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrPricingUnavailable is returned when no entry covers a (provider,
// model) pair. Callers are expected to treat this as non-fatal: cost is
// reported as zero and the request proceeds.
var ErrPricingUnavailable = errors.New("no pricing entry")

// UnavailableError reports the pair that had no active pricing entry.
type UnavailableError struct {
	Provider string
	Model    string
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no pricing entry for provider %q model %q", e.Provider, e.Model)
}

// Is implements error matching for errors.Is().
func (e *UnavailableError) Is(target error) bool {
	return target == ErrPricingUnavailable
}

// Tier is one price band. Units at or below UpTo (counting from the end of
// the previous band) are charged at this band's per-million-unit rates. A
// zero UpTo marks the final, unbounded band.
type Tier struct {
	UpTo             int64   `yaml:"up_to"`
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Entry is one immutable pricing version for a provider's model.
type Entry struct {
	Provider      string    `yaml:"provider"`
	Model         string    `yaml:"model"`
	EffectiveFrom time.Time `yaml:"effective_from"`
	Tiers         []Tier    `yaml:"tiers"`
}

// Validate checks that the entry is usable: identified, priced, and with
// tier boundaries in ascending order ending in an unbounded band.
func (e *Entry) Validate() error {
	if e.Provider == "" || e.Model == "" {
		return fmt.Errorf("pricing entry must name provider and model")
	}
	if len(e.Tiers) == 0 {
		return fmt.Errorf("pricing entry for %s/%s has no tiers", e.Provider, e.Model)
	}

	var prev int64
	for i, tier := range e.Tiers {
		last := i == len(e.Tiers)-1
		if last {
			if tier.UpTo != 0 {
				return fmt.Errorf("pricing entry for %s/%s: final tier must be unbounded (up_to: 0)", e.Provider, e.Model)
			}
			continue
		}
		if tier.UpTo <= prev {
			return fmt.Errorf("pricing entry for %s/%s: tier boundaries must ascend", e.Provider, e.Model)
		}
		prev = tier.UpTo
	}
	return nil
}

// InputCost returns the graduated cost in USD for units input units.
func (e *Entry) InputCost(units int64) float64 {
	return graduated(e.Tiers, units, func(t Tier) float64 { return t.InputPerMillion })
}

// OutputCost returns the graduated cost in USD for units output units.
func (e *Entry) OutputCost(units int64) float64 {
	return graduated(e.Tiers, units, func(t Tier) float64 { return t.OutputPerMillion })
}

// graduated walks the tier bands charging each band's span at its rate.
func graduated(tiers []Tier, units int64, rate func(Tier) float64) float64 {
	if units <= 0 {
		return 0
	}

	var cost float64
	var prev int64
	for _, tier := range tiers {
		upper := tier.UpTo
		if upper == 0 || upper > units {
			upper = units
		}
		span := upper - prev
		if span <= 0 {
			continue
		}
		cost += float64(span) * rate(tier) / 1e6
		prev = upper
		if prev >= units {
			break
		}
	}
	return cost
}

// Table is the thread-safe price table. The zero value is not usable; use
// NewTable.
type Table struct {
	mu      sync.RWMutex
	entries map[string][]Entry // provider/model -> entries sorted by EffectiveFrom asc
	version int64
}

// NewTable creates an empty price table.
func NewTable() *Table {
	return &Table{entries: make(map[string][]Entry)}
}

func pairKey(provider, model string) string {
	return provider + "/" + model
}

// Update appends entries to the table and returns the new table version.
// Existing entries are never mutated or removed.
func (t *Table) Update(entries ...Entry) (int64, error) {
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return 0, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range entries {
		if e.EffectiveFrom.IsZero() {
			e.EffectiveFrom = time.Now()
		}
		key := pairKey(e.Provider, e.Model)
		list := append(t.entries[key], e)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].EffectiveFrom.Before(list[j].EffectiveFrom)
		})
		t.entries[key] = list
	}
	t.version++
	return t.version, nil
}

// Active returns the entry in force for (provider, model) at now: the one
// with the latest EffectiveFrom that is not after now.
func (t *Table) Active(provider, model string, now time.Time) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := t.entries[pairKey(provider, model)]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].EffectiveFrom.After(now) {
			e := list[i]
			return &e, nil
		}
	}
	return nil, &UnavailableError{Provider: provider, Model: model}
}

// Version returns the current table version. The version increments on
// every successful Update.
func (t *Table) Version() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Providers returns the distinct provider IDs present in the table.
func (t *Table) Providers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, list := range t.entries {
		for _, e := range list {
			if !seen[e.Provider] {
				seen[e.Provider] = true
				out = append(out, e.Provider)
			}
		}
	}
	sort.Strings(out)
	return out
}
