package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"tollgate-ai/tollgate/pkg/routing"
)

// FieldError represents a validation error for a specific configuration
// field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g.,
	// "store.backend").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a
// configuration. It implements the error interface and provides access to
// all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a
// ValidationError if any validation rules fail. It returns nil if the
// configuration is valid. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateRateLimit(&cfg.RateLimit)...)
	errs = append(errs, validateQuota(&cfg.Quota)...)
	errs = append(errs, validateRouting(&cfg.Routing)...)
	errs = append(errs, validatePricing(&cfg.Pricing)...)
	errs = append(errs, validateUsage(&cfg.Usage)...)
	errs = append(errs, validateGovernor(&cfg.Governor)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, FieldError{
			Field:   "store.backend",
			Message: fmt.Sprintf("must be one of: memory, sqlite, redis (got %q)", cfg.Backend),
		})
	}

	if cfg.Backend == "sqlite" && cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{
			Field:   "store.sqlite.path",
			Message: "is required when backend is sqlite",
		})
	}
	if cfg.Backend == "redis" && cfg.Redis.Addr == "" {
		errs = append(errs, FieldError{
			Field:   "store.redis.addr",
			Message: "is required when backend is redis",
		})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	for i, rule := range cfg.Rules {
		field := fmt.Sprintf("rate_limit.rules[%d]", i)
		if _, err := parseScopePattern(rule.Scope); err != nil {
			errs = append(errs, FieldError{Field: field + ".scope", Message: err.Error()})
		}
		if rule.Window <= 0 {
			errs = append(errs, FieldError{Field: field + ".window", Message: "must be positive"})
		}
		if rule.MaxRequests <= 0 {
			errs = append(errs, FieldError{Field: field + ".max_requests", Message: "must be positive"})
		}
	}

	if _, err := cfg.Policy(); err != nil {
		errs = append(errs, FieldError{Field: "rate_limit.failure_policy", Message: err.Error()})
	}

	return errs
}

func validateQuota(cfg *QuotaConfig) []FieldError {
	var errs []FieldError

	if _, err := cfg.LedgerDefinitions(); err != nil {
		errs = append(errs, FieldError{Field: "quota.definitions", Message: err.Error()})
	}

	if cfg.Sweep.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Sweep.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "quota.sweep.schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Sweep.Schedule, err),
			})
		}
	}
	if cfg.Sweep.AbandonAfter < 0 {
		errs = append(errs, FieldError{Field: "quota.sweep.abandon_after", Message: "must not be negative"})
	}

	return errs
}

func validateRouting(cfg *RoutingConfig) []FieldError {
	var errs []FieldError

	if !routing.Strategy(cfg.DefaultStrategy).Valid() {
		errs = append(errs, FieldError{
			Field:   "routing.default_strategy",
			Message: fmt.Sprintf("unknown strategy %q", cfg.DefaultStrategy),
		})
	}
	if cfg.MaxFallbackDepth < 0 {
		errs = append(errs, FieldError{Field: "routing.max_fallback_depth", Message: "must not be negative"})
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Providers {
		field := fmt.Sprintf("routing.providers[%d]", i)
		if p.ID == "" {
			errs = append(errs, FieldError{Field: field + ".id", Message: "is required"})
			continue
		}
		if seen[p.ID] {
			errs = append(errs, FieldError{Field: field + ".id", Message: fmt.Sprintf("duplicate provider %q", p.ID)})
		}
		seen[p.ID] = true
		if len(p.Models) == 0 {
			errs = append(errs, FieldError{Field: field + ".models", Message: "at least one model is required"})
		}
		for _, c := range p.Capabilities {
			if !routing.ValidCapability(c) {
				errs = append(errs, FieldError{
					Field:   field + ".capabilities",
					Message: fmt.Sprintf("unknown capability %q", c),
				})
			}
		}
	}

	return errs
}

func validatePricing(cfg *PricingConfig) []FieldError {
	var errs []FieldError

	if cfg.FilePath == "" {
		errs = append(errs, FieldError{Field: "pricing.file_path", Message: "is required"})
	}
	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{Field: "pricing.watch_debounce", Message: "must not be negative"})
	}

	return errs
}

func validateUsage(cfg *UsageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, FieldError{
			Field:   "usage.backend",
			Message: fmt.Sprintf("must be one of: memory, sqlite (got %q)", cfg.Backend),
		})
	}

	if cfg.Backend == "sqlite" && cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{
			Field:   "usage.sqlite.path",
			Message: "is required when backend is sqlite",
		})
	}
	if cfg.Tracker.AsyncBuffer < 0 {
		errs = append(errs, FieldError{Field: "usage.tracker.async_buffer", Message: "must not be negative"})
	}
	if cfg.Retention.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "usage.retention.retention_days", Message: "must not be negative"})
	}
	if cfg.Retention.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "usage.retention.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Retention.PruneSchedule, err),
			})
		}
	}

	return errs
}

func validateGovernor(cfg *GovernorConfig) []FieldError {
	var errs []FieldError

	if cfg.AlertThreshold < 0 || cfg.AlertThreshold > 1 {
		errs = append(errs, FieldError{
			Field:   "governor.alert_threshold",
			Message: fmt.Sprintf("must be between 0 and 1 (got %v)", cfg.AlertThreshold),
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError

	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.Level),
		})
	}

	switch cfg.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be one of: json, text (got %q)", cfg.Format),
		})
	}

	return errs
}
