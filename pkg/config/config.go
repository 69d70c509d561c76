package config

import (
	"fmt"
	"strings"
	"time"

	"tollgate-ai/tollgate/pkg/period"
	"tollgate-ai/tollgate/pkg/quota"
	"tollgate-ai/tollgate/pkg/ratelimit"
	"tollgate-ai/tollgate/pkg/routing"
	"tollgate-ai/tollgate/pkg/scope"
	"tollgate-ai/tollgate/pkg/usage"
)

// Config is the root configuration structure for Tollgate. It contains
// all configuration sections for the counter store, rate limits, quotas,
// provider routing, pricing, usage tracking, the governor, and logging.
type Config struct {
	// Store selects and configures the shared counter store backing both
	// rate-limit windows and quota records.
	Store StoreConfig `yaml:"store"`

	// RateLimit contains the fixed-window rate ceilings and the
	// store-outage failure policy.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Quota contains the calendar-period consumption ceilings and the
	// ledger maintenance sweep.
	Quota QuotaConfig `yaml:"quota"`

	// Routing contains the provider descriptors and router tuning.
	Routing RoutingConfig `yaml:"routing"`

	// Pricing contains the pricing table source and watch settings.
	Pricing PricingConfig `yaml:"pricing"`

	// Usage contains usage tracker, storage, and retention settings.
	Usage UsageConfig `yaml:"usage"`

	// Governor contains admission-control tuning.
	Governor GovernorConfig `yaml:"governor"`

	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects the counter store backend.
type StoreConfig struct {
	// Backend is the store implementation: "memory", "sqlite", or "redis".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite backend. Ignored unless Backend is
	// "sqlite".
	SQLite StoreSQLiteConfig `yaml:"sqlite"`

	// Redis configures the Redis backend. Ignored unless Backend is
	// "redis".
	Redis StoreRedisConfig `yaml:"redis"`
}

// StoreSQLiteConfig configures the SQLite counter store.
type StoreSQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/tollgate.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// StoreRedisConfig configures the Redis counter store.
type StoreRedisConfig struct {
	// Addr is the Redis server address in "host:port" form.
	// Default: "127.0.0.1:6379"
	Addr string `yaml:"addr"`

	// Password authenticates the connection. Empty means no AUTH.
	Password string `yaml:"password"`

	// DB is the Redis logical database number.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix namespaces every key the store writes.
	// Default: "tollgate:"
	KeyPrefix string `yaml:"key_prefix"`

	// WindowTTL is the expiry applied to rate-limit window keys.
	// Default: 10m
	WindowTTL time.Duration `yaml:"window_ttl"`
}

// RateLimitConfig contains the rate-limit rules and failure policy.
type RateLimitConfig struct {
	// Rules are the fixed-window ceilings, checked global first, then
	// provider, then user.
	Rules []RuleConfig `yaml:"rules"`

	// FailurePolicy maps each scope kind to its store-outage behavior:
	// "closed" denies, "open" allows.
	FailurePolicy FailurePolicyConfig `yaml:"failure_policy"`
}

// RuleConfig is the file form of one rate-limit rule.
type RuleConfig struct {
	// Scope names the boundary the rule guards: "global", "provider",
	// "provider:<id>", "user", or "user:<id>". A bare kind applies to
	// every identifier of that kind.
	Scope string `yaml:"scope"`

	// Window is the fixed window length.
	Window time.Duration `yaml:"window"`

	// MaxRequests is the ceiling within one window.
	MaxRequests int64 `yaml:"max_requests"`
}

// FailurePolicyConfig is the file form of the rate-limit failure policy.
type FailurePolicyConfig struct {
	// Default: "closed"
	Global string `yaml:"global"`

	// Default: "closed"
	Provider string `yaml:"provider"`

	// Default: "open"
	User string `yaml:"user"`
}

// QuotaConfig contains the quota definitions and sweep settings.
type QuotaConfig struct {
	// Definitions are the per-period consumption ceilings.
	Definitions []DefinitionConfig `yaml:"definitions"`

	// Sweep controls the ledger maintenance sweep.
	Sweep quota.SweepConfig `yaml:"sweep"`
}

// DefinitionConfig is the file form of one quota definition.
type DefinitionConfig struct {
	// Scope names the boundary, in the same form as RuleConfig.Scope.
	Scope string `yaml:"scope"`

	// Metric is what the quota counts: "requests", "tokens", or "cost".
	// Cost limits are in micro-USD.
	Metric string `yaml:"metric"`

	// Limit is the ceiling for one period.
	Limit int64 `yaml:"limit"`

	// Period is the accounting window: "daily" or "monthly".
	Period string `yaml:"period"`

	// Timezone is the IANA zone period boundaries are computed in.
	// Empty means UTC.
	Timezone string `yaml:"timezone"`
}

// RoutingConfig contains the provider inventory and router tuning.
type RoutingConfig struct {
	// Providers are the configured backend providers.
	Providers []routing.Descriptor `yaml:"providers"`

	// DefaultStrategy is applied when a request names no strategy.
	// Default: "balanced"
	DefaultStrategy string `yaml:"default_strategy"`

	// MaxFallbackDepth is the maximum number of failed providers a
	// request may exclude before routing becomes terminal.
	// Default: 3
	MaxFallbackDepth int `yaml:"max_fallback_depth"`

	// RepresentativeInputUnits and RepresentativeOutputUnits are the
	// unit counts the cost-based strategies price candidates with.
	// Default: 1000 each
	RepresentativeInputUnits  int64 `yaml:"representative_input_units"`
	RepresentativeOutputUnits int64 `yaml:"representative_output_units"`
}

// PricingConfig contains the pricing table source.
type PricingConfig struct {
	// FilePath is the pricing YAML file.
	// Default: "./pricing.yaml"
	FilePath string `yaml:"file_path"`

	// Watch reloads the table when the file changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events into one reload.
	// Default: 500ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// UsageConfig contains usage tracking configuration.
type UsageConfig struct {
	// Tracker configures the async recorder.
	Tracker usage.TrackerConfig `yaml:"tracker"`

	// Backend is the event storage: "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite event storage. Ignored unless Backend
	// is "sqlite".
	SQLite usage.SQLiteConfig `yaml:"sqlite"`

	// Retention controls the event pruner.
	Retention usage.RetentionConfig `yaml:"retention"`
}

// GovernorConfig contains admission-control tuning.
type GovernorConfig struct {
	// AlertThreshold is the fraction of a quota's limit at which a
	// threshold notification fires.
	// Default: 0.9
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", or
	// "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the handler encoding: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// parseScopePattern parses a config scope string. Unlike scope.Parse it
// accepts a bare "provider" or "user" kind, which names a kind-wide
// boundary with an empty ID.
func parseScopePattern(s string) (scope.Scope, error) {
	switch s {
	case string(scope.KindGlobal):
		return scope.Global(), nil
	case string(scope.KindProvider):
		return scope.Scope{Kind: scope.KindProvider}, nil
	case string(scope.KindUser):
		return scope.Scope{Kind: scope.KindUser}, nil
	}

	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return scope.Scope{}, fmt.Errorf("malformed scope %q", s)
	}
	sc := scope.Scope{Kind: scope.Kind(kind), ID: id}
	if !sc.Valid() {
		return scope.Scope{}, fmt.Errorf("malformed scope %q", s)
	}
	return sc, nil
}

// LimiterRules converts the rate-limit section into limiter rules.
func (c RateLimitConfig) LimiterRules() ([]ratelimit.Rule, error) {
	rules := make([]ratelimit.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		sc, err := parseScopePattern(rc.Scope)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.rules[%d]: %w", i, err)
		}
		rules = append(rules, ratelimit.Rule{
			Scope:       sc,
			Window:      rc.Window,
			MaxRequests: rc.MaxRequests,
		})
	}
	return rules, nil
}

// Policy converts the failure-policy section into a limiter policy.
func (c RateLimitConfig) Policy() (ratelimit.FailurePolicy, error) {
	policy := ratelimit.DefaultFailurePolicy()
	for _, f := range []struct {
		field string
		value string
		dst   *ratelimit.FailureMode
	}{
		{"global", c.FailurePolicy.Global, &policy.Global},
		{"provider", c.FailurePolicy.Provider, &policy.Provider},
		{"user", c.FailurePolicy.User, &policy.User},
	} {
		switch f.value {
		case "":
			// keep default
		case string(ratelimit.FailClosed), string(ratelimit.FailOpen):
			*f.dst = ratelimit.FailureMode(f.value)
		default:
			return ratelimit.FailurePolicy{}, fmt.Errorf("rate_limit.failure_policy.%s: unknown mode %q", f.field, f.value)
		}
	}
	return policy, nil
}

// LedgerDefinitions converts the quota section into ledger definitions.
func (c QuotaConfig) LedgerDefinitions() ([]quota.Definition, error) {
	defs := make([]quota.Definition, 0, len(c.Definitions))
	for i, dc := range c.Definitions {
		sc, err := parseScopePattern(dc.Scope)
		if err != nil {
			return nil, fmt.Errorf("quota.definitions[%d]: %w", i, err)
		}
		def := quota.Definition{
			Scope:    sc,
			Metric:   scope.Metric(dc.Metric),
			Limit:    dc.Limit,
			Period:   period.Kind(dc.Period),
			Timezone: dc.Timezone,
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("quota.definitions[%d]: %w", i, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// RouterConfig converts the routing section into router tuning.
func (c RoutingConfig) RouterConfig() routing.Config {
	return routing.Config{
		MaxFallbackDepth:          c.MaxFallbackDepth,
		RepresentativeInputUnits:  c.RepresentativeInputUnits,
		RepresentativeOutputUnits: c.RepresentativeOutputUnits,
	}
}
