package config

import (
	"time"

	"tollgate-ai/tollgate/pkg/quota"
	"tollgate-ai/tollgate/pkg/routing"
	"tollgate-ai/tollgate/pkg/usage"
)

// Default values for configuration fields.
const (
	// Store defaults
	DefaultStoreBackend        = "memory"
	DefaultStoreSQLitePath     = "data/tollgate.db"
	DefaultStoreSQLiteBusy     = 5 * time.Second
	DefaultStoreRedisAddr      = "127.0.0.1:6379"
	DefaultStoreRedisKeyPrefix = "tollgate:"
	DefaultStoreRedisWindowTTL = 10 * time.Minute

	// Rate-limit defaults
	DefaultFailureModeGlobal   = "closed"
	DefaultFailureModeProvider = "closed"
	DefaultFailureModeUser     = "open"

	// Routing defaults
	DefaultRoutingStrategy = "balanced"

	// Pricing defaults
	DefaultPricingFilePath      = "./pricing.yaml"
	DefaultPricingWatch         = false
	DefaultPricingWatchDebounce = 500 * time.Millisecond

	// Usage defaults
	DefaultUsageBackend = "sqlite"

	// Governor defaults
	DefaultAlertThreshold = 0.9

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills zero-valued configuration fields with their
// defaults. Explicitly configured values are never overwritten.
func ApplyDefaults(cfg *Config) {
	// Store
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultStoreBackend
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = DefaultStoreSQLitePath
	}
	if cfg.Store.SQLite.BusyTimeout == 0 {
		cfg.Store.SQLite.BusyTimeout = DefaultStoreSQLiteBusy
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = DefaultStoreRedisAddr
	}
	if cfg.Store.Redis.KeyPrefix == "" {
		cfg.Store.Redis.KeyPrefix = DefaultStoreRedisKeyPrefix
	}
	if cfg.Store.Redis.WindowTTL == 0 {
		cfg.Store.Redis.WindowTTL = DefaultStoreRedisWindowTTL
	}

	// Rate limit
	if cfg.RateLimit.FailurePolicy.Global == "" {
		cfg.RateLimit.FailurePolicy.Global = DefaultFailureModeGlobal
	}
	if cfg.RateLimit.FailurePolicy.Provider == "" {
		cfg.RateLimit.FailurePolicy.Provider = DefaultFailureModeProvider
	}
	if cfg.RateLimit.FailurePolicy.User == "" {
		cfg.RateLimit.FailurePolicy.User = DefaultFailureModeUser
	}

	// Quota sweep
	sweep := quota.DefaultSweepConfig()
	if cfg.Quota.Sweep.Schedule == "" {
		cfg.Quota.Sweep.Schedule = sweep.Schedule
	}
	if cfg.Quota.Sweep.AbandonAfter == 0 {
		cfg.Quota.Sweep.AbandonAfter = sweep.AbandonAfter
	}
	if cfg.Quota.Sweep.Retention == 0 {
		cfg.Quota.Sweep.Retention = sweep.Retention
	}

	// Routing
	router := routing.DefaultConfig()
	if cfg.Routing.DefaultStrategy == "" {
		cfg.Routing.DefaultStrategy = DefaultRoutingStrategy
	}
	if cfg.Routing.MaxFallbackDepth == 0 {
		cfg.Routing.MaxFallbackDepth = router.MaxFallbackDepth
	}
	if cfg.Routing.RepresentativeInputUnits == 0 {
		cfg.Routing.RepresentativeInputUnits = router.RepresentativeInputUnits
	}
	if cfg.Routing.RepresentativeOutputUnits == 0 {
		cfg.Routing.RepresentativeOutputUnits = router.RepresentativeOutputUnits
	}

	// Pricing
	if cfg.Pricing.FilePath == "" {
		cfg.Pricing.FilePath = DefaultPricingFilePath
	}
	if cfg.Pricing.WatchDebounce == 0 {
		cfg.Pricing.WatchDebounce = DefaultPricingWatchDebounce
	}

	// Usage
	tracker := usage.DefaultTrackerConfig()
	if cfg.Usage.Tracker.AsyncBuffer == 0 {
		cfg.Usage.Tracker.AsyncBuffer = tracker.AsyncBuffer
	}
	if cfg.Usage.Tracker.WriteTimeout == 0 {
		cfg.Usage.Tracker.WriteTimeout = tracker.WriteTimeout
	}
	if cfg.Usage.Backend == "" {
		cfg.Usage.Backend = DefaultUsageBackend
	}
	sqlite := usage.DefaultSQLiteConfig()
	if cfg.Usage.SQLite.Path == "" {
		cfg.Usage.SQLite.Path = sqlite.Path
	}
	if cfg.Usage.SQLite.MaxOpenConns == 0 {
		cfg.Usage.SQLite.MaxOpenConns = sqlite.MaxOpenConns
	}
	if cfg.Usage.SQLite.MaxIdleConns == 0 {
		cfg.Usage.SQLite.MaxIdleConns = sqlite.MaxIdleConns
	}
	if cfg.Usage.SQLite.BusyTimeout == 0 {
		cfg.Usage.SQLite.BusyTimeout = sqlite.BusyTimeout
	}
	retention := usage.DefaultRetentionConfig()
	if cfg.Usage.Retention.RetentionDays == 0 {
		cfg.Usage.Retention.RetentionDays = retention.RetentionDays
	}
	if cfg.Usage.Retention.PruneSchedule == "" {
		cfg.Usage.Retention.PruneSchedule = retention.PruneSchedule
	}

	// Governor
	if cfg.Governor.AlertThreshold == 0 {
		cfg.Governor.AlertThreshold = DefaultAlertThreshold
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}
