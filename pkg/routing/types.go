// Package routing selects a concrete provider and model for a request
// given capability requirements, a routing strategy, and provider health.
//
// Routing is deterministic: the same descriptor set, health state, and
// request always produce the same decision. Ties are broken by priority
// descending, then by provider ID lexicographically. Fallback is driven
// by the caller: when the chosen provider fails at execution time, the
// caller re-invokes Select with that provider excluded, up to the
// configured maximum depth.
package routing

// Capability is a feature a provider can serve.
type Capability string

const (
	CapabilityCompletion  Capability = "completion"
	CapabilityStreaming   Capability = "streaming"
	CapabilityVision      Capability = "vision"
	CapabilityEmbeddings  Capability = "embeddings"
	CapabilityTranslation Capability = "translation"
)

// ValidCapability reports whether c is a known capability.
func ValidCapability(c Capability) bool {
	switch c {
	case CapabilityCompletion, CapabilityStreaming, CapabilityVision,
		CapabilityEmbeddings, CapabilityTranslation:
		return true
	}
	return false
}

// Strategy selects among capable healthy providers.
type Strategy string

const (
	// StrategyCostOptimized picks the candidate with the lowest estimated
	// cost for a representative unit count.
	StrategyCostOptimized Strategy = "cost_optimized"

	// StrategyPerformance picks by the deployment-configured speed tier,
	// ignoring cost.
	StrategyPerformance Strategy = "performance"

	// StrategyBalanced picks the candidate whose cost sits in the middle
	// of the candidate set, neither cheapest nor priciest.
	StrategyBalanced Strategy = "balanced"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyCostOptimized, StrategyPerformance, StrategyBalanced:
		return true
	}
	return false
}

// Strategies lists the valid strategy names.
var Strategies = []Strategy{StrategyCostOptimized, StrategyPerformance, StrategyBalanced}

// Descriptor describes one configured provider.
type Descriptor struct {
	// ID is the provider identifier, unique across the deployment.
	ID string `yaml:"id"`

	// Models are the models the provider serves. The first entry is the
	// default model chosen when the request names none.
	Models []string `yaml:"models"`

	// Capabilities are the features the provider can serve.
	Capabilities []Capability `yaml:"capabilities"`

	// Priority breaks ties between otherwise equal candidates; higher
	// wins.
	Priority int `yaml:"priority"`

	// SpeedTier orders providers for the performance strategy; lower is
	// faster. Deployment-configured, not measured.
	SpeedTier int `yaml:"speed_tier"`
}

// DefaultModel returns the provider's default model, or "" when none is
// configured.
func (d Descriptor) DefaultModel() string {
	if len(d.Models) == 0 {
		return ""
	}
	return d.Models[0]
}

// HasCapabilities reports whether the provider serves every capability in
// required.
func (d Descriptor) HasCapabilities(required []Capability) bool {
	for _, want := range required {
		found := false
		for _, have := range d.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HasModel reports whether the provider serves model.
func (d Descriptor) HasModel(model string) bool {
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Request is one routing invocation. The caller re-invokes Select with a
// grown Exclude list to advance the fallback chain after an execution
// failure.
type Request struct {
	// RequestID identifies the admission this routing serves.
	RequestID string

	// RequiredCapabilities must all be served by the chosen provider.
	RequiredCapabilities []Capability

	// Strategy selects among the candidates.
	Strategy Strategy

	// ExplicitModel, when set, restricts candidates to providers serving
	// that model; a healthy capable provider serving it wins immediately.
	ExplicitModel string

	// Exclude lists providers already tried and failed, in attempt order.
	Exclude []string
}

// Decision is the outcome of one Select call. It is immutable once
// produced and is recorded by the usage tracker.
type Decision struct {
	// Provider and Model are the chosen pair.
	Provider string
	Model    string

	// Strategy is the strategy that made the choice.
	Strategy Strategy

	// Reason explains the choice for the audit record.
	Reason string

	// Attempted is the full fallback chain: every previously excluded
	// provider in attempt order, then the chosen one.
	Attempted []string
}
