package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"tollgate-ai/tollgate/pkg/costs"
)

// Config controls the router.
type Config struct {
	// MaxFallbackDepth is the maximum number of failed providers a
	// request may exclude before routing becomes terminal.
	MaxFallbackDepth int `yaml:"max_fallback_depth"`

	// RepresentativeInputUnits and RepresentativeOutputUnits are the unit
	// counts the cost-based strategies price candidates with.
	RepresentativeInputUnits  int64 `yaml:"representative_input_units"`
	RepresentativeOutputUnits int64 `yaml:"representative_output_units"`
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		MaxFallbackDepth:          3,
		RepresentativeInputUnits:  1000,
		RepresentativeOutputUnits: 1000,
	}
}

// Router selects providers for requests. It is safe for concurrent use;
// UpdateProviders may be called while Select runs.
type Router struct {
	calc   *costs.Calculator
	health *HealthTracker
	config Config
	stats  *Stats
	logger *slog.Logger

	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRouter creates a router over the given descriptors.
func NewRouter(descriptors []Descriptor, calc *costs.Calculator, health *HealthTracker, cfg Config) (*Router, error) {
	if health == nil {
		health = NewHealthTracker()
	}
	if cfg.MaxFallbackDepth <= 0 {
		cfg.MaxFallbackDepth = DefaultConfig().MaxFallbackDepth
	}
	if cfg.RepresentativeInputUnits <= 0 {
		cfg.RepresentativeInputUnits = DefaultConfig().RepresentativeInputUnits
	}
	if cfg.RepresentativeOutputUnits <= 0 {
		cfg.RepresentativeOutputUnits = DefaultConfig().RepresentativeOutputUnits
	}

	r := &Router{
		calc:   calc,
		health: health,
		config: cfg,
		stats:  NewStats(),
		logger: slog.Default().With("component", "routing"),
	}
	if err := r.UpdateProviders(descriptors); err != nil {
		return nil, err
	}
	return r, nil
}

// Health returns the router's health tracker.
func (r *Router) Health() *HealthTracker {
	return r.health
}

// GetStats returns a snapshot of routing statistics.
func (r *Router) GetStats() StatsSnapshot {
	return r.stats.Snapshot()
}

// UpdateProviders replaces the descriptor set. Called on configuration
// reload.
func (r *Router) UpdateProviders(descriptors []Descriptor) error {
	byID := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		if d.ID == "" {
			return fmt.Errorf("provider descriptor missing id")
		}
		if _, dup := byID[d.ID]; dup {
			return fmt.Errorf("duplicate provider descriptor %q", d.ID)
		}
		for _, c := range d.Capabilities {
			if !ValidCapability(c) {
				return fmt.Errorf("provider %q has unknown capability %q", d.ID, c)
			}
		}
		byID[d.ID] = d
	}

	r.mu.Lock()
	r.descriptors = byID
	r.mu.Unlock()
	return nil
}

// Select chooses a provider and model for req.
//
// An explicit model restricts candidates to providers serving it and
// wins by priority without consulting the strategy. Otherwise candidates
// are filtered to healthy providers covering every required capability
// and the strategy picks among them. Exceeding the maximum fallback
// depth, or running out of candidates, returns
// *AllProvidersExhaustedError.
func (r *Router) Select(ctx context.Context, req *Request) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Strategy.Valid() {
		r.stats.IncrementErrors()
		return nil, &InvalidStrategyError{Strategy: req.Strategy}
	}

	r.mu.RLock()
	all := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		all = append(all, d)
	}
	r.mu.RUnlock()

	if len(all) == 0 {
		r.stats.IncrementErrors()
		return nil, ErrNoProvidersConfigured
	}

	r.stats.IncrementTotal()

	if len(req.Exclude) > r.config.MaxFallbackDepth {
		r.stats.IncrementExhausted()
		return nil, r.exhausted(req)
	}

	candidates := r.filter(all, req)
	if len(candidates) == 0 {
		r.stats.IncrementExhausted()
		return nil, r.exhausted(req)
	}

	// Base order fixes every tie: priority descending, then ID.
	sortByPriority(candidates)

	var chosen Descriptor
	var reason string
	if req.ExplicitModel != "" {
		chosen, reason = candidates[0], "explicit model override"
		r.stats.IncrementExplicitModel()
	} else {
		chosen, reason = r.applyStrategy(req.Strategy, candidates)
		r.stats.IncrementStrategy(req.Strategy)
	}

	model := req.ExplicitModel
	if model == "" {
		model = chosen.DefaultModel()
	}

	attempted := make([]string, 0, len(req.Exclude)+1)
	attempted = append(attempted, req.Exclude...)
	attempted = append(attempted, chosen.ID)

	r.stats.IncrementProvider(chosen.ID)
	r.logger.Debug("provider selected",
		"request_id", req.RequestID,
		"provider", chosen.ID,
		"model", model,
		"strategy", string(req.Strategy),
		"reason", reason,
		"attempt", len(attempted),
	)

	return &Decision{
		Provider:  chosen.ID,
		Model:     model,
		Strategy:  req.Strategy,
		Reason:    reason,
		Attempted: attempted,
	}, nil
}

func (r *Router) exhausted(req *Request) error {
	attempted := make([]string, len(req.Exclude))
	copy(attempted, req.Exclude)
	return &AllProvidersExhaustedError{
		Attempted:            attempted,
		RequiredCapabilities: req.RequiredCapabilities,
		ExplicitModel:        req.ExplicitModel,
	}
}

// filter keeps providers that are not excluded, are healthy, cover the
// required capabilities, and serve the explicit model when one is set.
func (r *Router) filter(all []Descriptor, req *Request) []Descriptor {
	excluded := make(map[string]bool, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = true
	}

	var out []Descriptor
	for _, d := range all {
		if excluded[d.ID] {
			continue
		}
		if !r.health.IsHealthy(d.ID) {
			r.stats.IncrementHealthFiltered()
			continue
		}
		if !d.HasCapabilities(req.RequiredCapabilities) {
			continue
		}
		if req.ExplicitModel != "" && !d.HasModel(req.ExplicitModel) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *Router) applyStrategy(strategy Strategy, candidates []Descriptor) (Descriptor, string) {
	switch strategy {
	case StrategyCostOptimized:
		return r.cheapest(candidates), "lowest estimated cost"
	case StrategyPerformance:
		return fastest(candidates), "fastest speed tier"
	case StrategyBalanced:
		if len(candidates) < 3 {
			// With fewer than three candidates there is no middle; the
			// priority order decides.
			return candidates[0], "highest priority"
		}
		return r.midCost(candidates), "mid-cost candidate"
	}
	return candidates[0], "highest priority"
}

// estimate prices a candidate's default model for the representative
// unit counts. Unpriced providers estimate to zero, which makes them the
// cheapest; pricing entries should exist for every routed provider.
func (r *Router) estimate(d Descriptor) float64 {
	return r.calc.Estimate(d.ID, d.DefaultModel(),
		r.config.RepresentativeInputUnits, r.config.RepresentativeOutputUnits).Total
}

func (r *Router) cheapest(candidates []Descriptor) Descriptor {
	best := candidates[0]
	bestCost := r.estimate(best)
	for _, d := range candidates[1:] {
		if c := r.estimate(d); c < bestCost {
			best, bestCost = d, c
		}
	}
	return best
}

// midCost sorts the candidates by estimated cost and returns the middle
// one. Equal costs keep the priority order, so the result is stable.
func (r *Router) midCost(candidates []Descriptor) Descriptor {
	ranked := make([]Descriptor, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return r.estimate(ranked[i]) < r.estimate(ranked[j])
	})
	return ranked[len(ranked)/2]
}

func fastest(candidates []Descriptor) Descriptor {
	best := candidates[0]
	for _, d := range candidates[1:] {
		if d.SpeedTier < best.SpeedTier {
			best = d
		}
	}
	return best
}

// sortByPriority orders descriptors by priority descending, then ID.
func sortByPriority(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority > ds[j].Priority
		}
		return ds[i].ID < ds[j].ID
	})
}
