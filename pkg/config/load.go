package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. The configuration is not modified by environment variables; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Environment variables follow
// the naming convention TOLLGATE_SECTION_FIELD (e.g.
// TOLLGATE_STORE_BACKEND). Environment variables always take precedence
// over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables use the format
// TOLLGATE_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Store overrides
	if val := os.Getenv("TOLLGATE_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv("TOLLGATE_STORE_SQLITE_PATH"); val != "" {
		cfg.Store.SQLite.Path = val
	}
	if val := os.Getenv("TOLLGATE_STORE_SQLITE_BUSY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Store.SQLite.BusyTimeout = d
		}
	}
	if val := os.Getenv("TOLLGATE_STORE_REDIS_ADDR"); val != "" {
		cfg.Store.Redis.Addr = val
	}
	if val := os.Getenv("TOLLGATE_STORE_REDIS_PASSWORD"); val != "" {
		cfg.Store.Redis.Password = val
	}
	if val := os.Getenv("TOLLGATE_STORE_REDIS_DB"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Store.Redis.DB = i
		}
	}
	if val := os.Getenv("TOLLGATE_STORE_REDIS_KEY_PREFIX"); val != "" {
		cfg.Store.Redis.KeyPrefix = val
	}

	// Quota overrides
	if val := os.Getenv("TOLLGATE_QUOTA_SWEEP_SCHEDULE"); val != "" {
		cfg.Quota.Sweep.Schedule = val
	}
	if val := os.Getenv("TOLLGATE_QUOTA_SWEEP_ABANDON_AFTER"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Quota.Sweep.AbandonAfter = d
		}
	}

	// Routing overrides
	if val := os.Getenv("TOLLGATE_ROUTING_DEFAULT_STRATEGY"); val != "" {
		cfg.Routing.DefaultStrategy = val
	}
	if val := os.Getenv("TOLLGATE_ROUTING_MAX_FALLBACK_DEPTH"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Routing.MaxFallbackDepth = i
		}
	}

	// Pricing overrides
	if val := os.Getenv("TOLLGATE_PRICING_FILE_PATH"); val != "" {
		cfg.Pricing.FilePath = val
	}
	if val := os.Getenv("TOLLGATE_PRICING_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Pricing.Watch = b
		}
	}

	// Usage overrides
	if val := os.Getenv("TOLLGATE_USAGE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Usage.Tracker.Enabled = b
		}
	}
	if val := os.Getenv("TOLLGATE_USAGE_BACKEND"); val != "" {
		cfg.Usage.Backend = val
	}
	if val := os.Getenv("TOLLGATE_USAGE_SQLITE_PATH"); val != "" {
		cfg.Usage.SQLite.Path = val
	}
	if val := os.Getenv("TOLLGATE_USAGE_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Usage.Retention.RetentionDays = i
		}
	}

	// Governor overrides
	if val := os.Getenv("TOLLGATE_GOVERNOR_ALERT_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Governor.AlertThreshold = f
		}
	}

	// Logging overrides
	if val := os.Getenv("TOLLGATE_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("TOLLGATE_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}
