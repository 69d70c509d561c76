package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"tollgate-ai/tollgate/pkg/costs"
	"tollgate-ai/tollgate/pkg/pricing"
)

func flatEntry(provider, model string, perMillion float64) pricing.Entry {
	return pricing.Entry{
		Provider:      provider,
		Model:         model,
		EffectiveFrom: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Tiers: []pricing.Tier{
			{InputPerMillion: perMillion, OutputPerMillion: perMillion},
		},
	}
}

func testRouter(t *testing.T, descriptors []Descriptor, entries []pricing.Entry) *Router {
	t.Helper()

	table := pricing.NewTable()
	if len(entries) > 0 {
		if _, err := table.Update(entries...); err != nil {
			t.Fatalf("pricing update: %v", err)
		}
	}

	r, err := NewRouter(descriptors, costs.NewCalculator(table), NewHealthTracker(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func threeProviders() ([]Descriptor, []pricing.Entry) {
	descriptors := []Descriptor{
		{
			ID:           "alpha",
			Models:       []string{"alpha-large"},
			Capabilities: []Capability{CapabilityCompletion, CapabilityStreaming},
			Priority:     10,
			SpeedTier:    2,
		},
		{
			ID:           "beta",
			Models:       []string{"beta-turbo"},
			Capabilities: []Capability{CapabilityCompletion, CapabilityStreaming, CapabilityVision},
			Priority:     20,
			SpeedTier:    1,
		},
		{
			ID:           "gamma",
			Models:       []string{"gamma-pro"},
			Capabilities: []Capability{CapabilityCompletion},
			Priority:     5,
			SpeedTier:    3,
		},
	}
	entries := []pricing.Entry{
		flatEntry("alpha", "alpha-large", 10.0),
		flatEntry("beta", "beta-turbo", 5.0),
		flatEntry("gamma", "gamma-pro", 1.0),
	}
	return descriptors, entries
}

func TestCostOptimizedPicksCheapest(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)

	dec, err := r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyCostOptimized,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if dec.Provider != "gamma" {
		t.Errorf("Provider = %q, want gamma (cheapest)", dec.Provider)
	}
	if dec.Model != "gamma-pro" {
		t.Errorf("Model = %q, want gamma-pro", dec.Model)
	}
}

func TestPerformancePicksFastestTier(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)

	dec, err := r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyPerformance,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if dec.Provider != "beta" {
		t.Errorf("Provider = %q, want beta (speed tier 1)", dec.Provider)
	}
}

func TestBalancedPicksMidCost(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)

	dec, err := r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyBalanced,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// gamma=1, beta=5, alpha=10 per million: beta is the middle.
	if dec.Provider != "beta" {
		t.Errorf("Provider = %q, want beta (mid cost)", dec.Provider)
	}
}

func TestBalancedFallsBackToPriorityBelowThree(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors[:2], entries)

	dec, err := r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyBalanced,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if dec.Provider != "beta" {
		t.Errorf("Provider = %q, want beta (priority 20)", dec.Provider)
	}
	if dec.Reason != "highest priority" {
		t.Errorf("Reason = %q, want highest priority", dec.Reason)
	}
}

func TestCapabilityFilter(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)

	dec, err := r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion, CapabilityVision},
		Strategy:             StrategyCostOptimized,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// Only beta serves vision, even though gamma is cheaper.
	if dec.Provider != "beta" {
		t.Errorf("Provider = %q, want beta (only vision-capable)", dec.Provider)
	}
}

func TestExplicitModelOverride(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)

	dec, err := r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyCostOptimized,
		ExplicitModel:        "alpha-large",
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if dec.Provider != "alpha" || dec.Model != "alpha-large" {
		t.Errorf("decision = %s/%s, want alpha/alpha-large", dec.Provider, dec.Model)
	}
	if dec.Reason != "explicit model override" {
		t.Errorf("Reason = %q", dec.Reason)
	}
}

func TestUnhealthyProviderSkipped(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)
	r.Health().SetHealthy("gamma", false)

	dec, err := r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyCostOptimized,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if dec.Provider != "beta" {
		t.Errorf("Provider = %q, want beta (gamma unhealthy)", dec.Provider)
	}
}

func TestFallbackChainToExhaustion(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)
	r.Health().SetHealthy("alpha", false)

	ctx := context.Background()
	req := &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyCostOptimized,
	}

	// The caller advances the chain one failed provider at a time.
	first, err := r.Select(ctx, req)
	if err != nil {
		t.Fatalf("first Select: %v", err)
	}
	if first.Provider != "gamma" {
		t.Fatalf("first Provider = %q, want gamma", first.Provider)
	}

	req.Exclude = first.Attempted
	second, err := r.Select(ctx, req)
	if err != nil {
		t.Fatalf("second Select: %v", err)
	}
	if second.Provider != "beta" {
		t.Fatalf("second Provider = %q, want beta", second.Provider)
	}
	if len(second.Attempted) != 2 || second.Attempted[0] != "gamma" || second.Attempted[1] != "beta" {
		t.Errorf("Attempted = %v, want [gamma beta]", second.Attempted)
	}

	// alpha is unhealthy, gamma and beta failed: terminal.
	req.Exclude = second.Attempted
	_, err = r.Select(ctx, req)
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("third Select error = %v, want ErrAllProvidersExhausted", err)
	}

	var exhausted *AllProvidersExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %T is not *AllProvidersExhaustedError", err)
	}
	if len(exhausted.Attempted) != 2 {
		t.Errorf("exhausted.Attempted = %v, want the two tried providers", exhausted.Attempted)
	}
}

func TestExplicitModelUnhealthyProviderExhaustsChain(t *testing.T) {
	descriptors := []Descriptor{
		{ID: "alpha", Models: []string{"shared-model"}, Capabilities: []Capability{CapabilityCompletion}, Priority: 30},
		{ID: "beta", Models: []string{"shared-model"}, Capabilities: []Capability{CapabilityCompletion}, Priority: 20},
		{ID: "gamma", Models: []string{"shared-model"}, Capabilities: []Capability{CapabilityCompletion}, Priority: 10},
	}
	entries := []pricing.Entry{
		flatEntry("alpha", "shared-model", 1.0),
		flatEntry("beta", "shared-model", 1.0),
		flatEntry("gamma", "shared-model", 1.0),
	}
	r := testRouter(t, descriptors, entries)
	r.Health().SetHealthy("alpha", false)

	ctx := context.Background()
	req := &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyCostOptimized,
		ExplicitModel:        "shared-model",
	}

	// Every healthy provider serving the model is tried in priority
	// order before exhaustion.
	var chain []string
	for {
		dec, err := r.Select(ctx, req)
		if err != nil {
			if !errors.Is(err, ErrAllProvidersExhausted) {
				t.Fatalf("Select error = %v, want ErrAllProvidersExhausted", err)
			}
			break
		}
		chain = append(chain, dec.Provider)
		req.Exclude = dec.Attempted
	}

	if len(chain) != 2 || chain[0] != "beta" || chain[1] != "gamma" {
		t.Errorf("fallback chain = %v, want [beta gamma]", chain)
	}
}

func TestMaxFallbackDepth(t *testing.T) {
	descriptors, entries := threeProviders()
	table := pricing.NewTable()
	if _, err := table.Update(entries...); err != nil {
		t.Fatalf("pricing update: %v", err)
	}
	cfg := DefaultConfig()
	cfg.MaxFallbackDepth = 1
	r, err := NewRouter(descriptors, costs.NewCalculator(table), NewHealthTracker(), cfg)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	_, err = r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyCostOptimized,
		Exclude:              []string{"gamma", "beta"},
	})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("Select error = %v, want ErrAllProvidersExhausted at depth limit", err)
	}
}

func TestSelectionDeterministic(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)

	req := &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyBalanced,
	}
	first, err := r.Select(context.Background(), req)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for i := 0; i < 20; i++ {
		dec, err := r.Select(context.Background(), req)
		if err != nil {
			t.Fatalf("Select #%d: %v", i, err)
		}
		if dec.Provider != first.Provider || dec.Model != first.Model {
			t.Fatalf("decision #%d = %s/%s, first was %s/%s",
				i, dec.Provider, dec.Model, first.Provider, first.Model)
		}
	}
}

func TestPriorityTieBreakDeterministic(t *testing.T) {
	descriptors := []Descriptor{
		{ID: "zeta", Models: []string{"m"}, Capabilities: []Capability{CapabilityCompletion}, Priority: 10},
		{ID: "eta", Models: []string{"m"}, Capabilities: []Capability{CapabilityCompletion}, Priority: 10},
	}
	entries := []pricing.Entry{
		flatEntry("zeta", "m", 2.0),
		flatEntry("eta", "m", 2.0),
	}
	r := testRouter(t, descriptors, entries)

	dec, err := r.Select(context.Background(), &Request{
		RequiredCapabilities: []Capability{CapabilityCompletion},
		Strategy:             StrategyCostOptimized,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// Equal priority and cost: lexicographically smaller ID wins.
	if dec.Provider != "eta" {
		t.Errorf("Provider = %q, want eta", dec.Provider)
	}
}

func TestInvalidStrategy(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)

	_, err := r.Select(context.Background(), &Request{Strategy: Strategy("bogus")})
	if !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("Select error = %v, want ErrInvalidStrategy", err)
	}
}

func TestStatsTracking(t *testing.T) {
	descriptors, entries := threeProviders()
	r := testRouter(t, descriptors, entries)

	for i := 0; i < 3; i++ {
		if _, err := r.Select(context.Background(), &Request{
			RequiredCapabilities: []Capability{CapabilityCompletion},
			Strategy:             StrategyCostOptimized,
		}); err != nil {
			t.Fatalf("Select: %v", err)
		}
	}

	snap := r.GetStats()
	if snap.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", snap.TotalRequests)
	}
	if snap.RequestsPerProvider["gamma"] != 3 {
		t.Errorf("gamma requests = %d, want 3", snap.RequestsPerProvider["gamma"])
	}
	if snap.StrategyUseCount[StrategyCostOptimized] != 3 {
		t.Errorf("strategy count = %d, want 3", snap.StrategyUseCount[StrategyCostOptimized])
	}
}
