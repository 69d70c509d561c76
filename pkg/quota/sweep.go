package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tollgate-ai/tollgate/pkg/store"
)

// SweepConfig controls the maintenance sweep over the quota ledger.
type SweepConfig struct {
	// Schedule is a standard cron expression; empty disables the sweeper.
	Schedule string `yaml:"schedule"`

	// AbandonAfter is the age beyond which an unsettled reservation is
	// presumed lost and released.
	AbandonAfter time.Duration `yaml:"abandon_after"`

	// Retention is how long expired period records are kept before the
	// backend deletes them.
	Retention time.Duration `yaml:"retention"`
}

// DefaultSweepConfig returns the sweep defaults: hourly, abandon after
// 10 minutes, keep expired records for 90 days.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Schedule:     "0 * * * *",
		AbandonAfter: 10 * time.Minute,
		Retention:    90 * 24 * time.Hour,
	}
}

// Sweeper periodically releases abandoned reservations and prunes
// expired period records from the backend.
type Sweeper struct {
	ledger  *Ledger
	backend store.Backend
	config  SweepConfig
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper for ledger and its backend.
func NewSweeper(ledger *Ledger, backend store.Backend, cfg SweepConfig) *Sweeper {
	return &Sweeper{
		ledger:  ledger,
		backend: backend,
		config:  cfg,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "quota.sweeper"),
	}
}

// Start schedules the sweep. It is a no-op when no schedule is
// configured.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	if s.config.Schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping sweeper")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runSweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("quota sweeper started",
		"schedule", s.config.Schedule,
		"abandon_after", s.config.AbandonAfter,
		"retention", s.config.Retention,
	)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("quota sweeper stopped")
	}
}

// RunOnce performs a single sweep immediately, outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	return s.sweep(ctx)
}

func (s *Sweeper) runSweep(ctx context.Context) {
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("quota sweep failed", "error", err)
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	start := time.Now()

	released, err := s.ledger.ReleaseAbandoned(ctx, s.config.AbandonAfter)
	if err != nil {
		return fmt.Errorf("release abandoned reservations: %w", err)
	}

	var pruned int64
	if s.config.Retention > 0 {
		cutoff := time.Now().Add(-s.config.Retention)
		pruned, err = s.backend.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune expired records: %w", err)
		}
	}

	s.logger.Info("quota sweep completed",
		"released", released,
		"pruned", pruned,
		"duration", time.Since(start),
	)
	return nil
}
