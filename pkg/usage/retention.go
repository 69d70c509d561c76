package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls the usage retention pruner.
type RetentionConfig struct {
	// RetentionDays is how many days of events to keep. Zero disables
	// age-based pruning.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a standard cron expression; empty disables the
	// scheduler.
	PruneSchedule string `yaml:"prune_schedule"`
}

// DefaultRetentionConfig returns the retention defaults: 90 days, pruned
// daily at 03:00.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays: 90,
		PruneSchedule: "0 3 * * *",
	}
}

// Pruner removes usage events past the retention window on a schedule.
type Pruner struct {
	storage Storage
	config  RetentionConfig
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewPruner creates a pruner for storage.
func NewPruner(storage Storage, config RetentionConfig) *Pruner {
	return &Pruner{
		storage: storage,
		config:  config,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "usage.pruner"),
	}
}

// Prune removes events older than the retention window once, outside the
// schedule.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -p.config.RetentionDays)
	start := time.Now()

	removed, err := p.storage.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune usage events: %w", err)
	}

	p.logger.Info("usage events pruned",
		"removed", removed,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration", time.Since(start),
	)
	return removed, nil
}

// Start begins scheduled pruning. It is a no-op when no schedule is
// configured.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pruner already running")
	}
	if p.config.PruneSchedule == "" {
		p.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(p.config.PruneSchedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.config.PruneSchedule, err)
	}

	if _, err := p.cron.AddFunc(p.config.PruneSchedule, func() {
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Error("scheduled prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true

	p.logger.Info("usage pruner started",
		"schedule", p.config.PruneSchedule,
		"retention_days", p.config.RetentionDays,
	)
	return nil
}

// Stop stops the scheduler and waits for a running prune to complete.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil && p.running {
		ctx := p.cron.Stop()
		<-ctx.Done()
		p.running = false
		p.logger.Info("usage pruner stopped")
	}
}
