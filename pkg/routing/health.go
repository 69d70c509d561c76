package routing

import (
	"log/slog"
	"sync"
)

// HealthTracker holds the current health of each provider. Health is an
// external input updated by a health-check collaborator; the router only
// reads it. Providers never marked are considered healthy.
type HealthTracker struct {
	mu        sync.RWMutex
	unhealthy map[string]bool
	logger    *slog.Logger
}

// NewHealthTracker creates a tracker with every provider healthy.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		unhealthy: make(map[string]bool),
		logger:    slog.Default().With("component", "routing.health"),
	}
}

// SetHealthy records the health of provider.
func (t *HealthTracker) SetHealthy(provider string, healthy bool) {
	t.mu.Lock()
	changed := t.unhealthy[provider] == healthy
	if healthy {
		delete(t.unhealthy, provider)
	} else {
		t.unhealthy[provider] = true
	}
	t.mu.Unlock()

	if changed {
		t.logger.Info("provider health changed", "provider", provider, "healthy", healthy)
	}
}

// IsHealthy reports the recorded health of provider.
func (t *HealthTracker) IsHealthy(provider string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.unhealthy[provider]
}

// Snapshot returns the providers currently marked unhealthy.
func (t *HealthTracker) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.unhealthy))
	for p := range t.unhealthy {
		out = append(out, p)
	}
	return out
}
