package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TrackerConfig contains configuration for the usage tracker.
type TrackerConfig struct {
	// Enabled enables usage recording.
	Enabled bool `yaml:"enabled"`

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout is the timeout for writing an event to storage.
	// Default: 5 seconds
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultTrackerConfig returns the default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Tracker records usage events asynchronously. Record never blocks: when
// the buffer is full the event is dropped and counted, keeping the
// admission path fast under a slow storage backend.
type Tracker struct {
	storage   Storage
	config    TrackerConfig
	eventChan chan *Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Int64
	logger    *slog.Logger
}

// NewTracker creates a tracker over storage and starts its write worker.
func NewTracker(storage Storage, config TrackerConfig) *Tracker {
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = DefaultTrackerConfig().AsyncBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultTrackerConfig().WriteTimeout
	}

	t := &Tracker{
		storage:   storage,
		config:    config,
		eventChan: make(chan *Event, config.AsyncBuffer),
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "usage.tracker"),
	}

	t.wg.Add(1)
	go t.worker()

	t.logger.Info("usage tracker initialized",
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)
	return t
}

// Record enqueues an event for async writing. It returns immediately; a
// full buffer drops the event rather than blocking the caller.
func (t *Tracker) Record(event *Event) {
	if !t.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case t.eventChan <- event:
	default:
		dropped := t.dropped.Add(1)
		t.logger.Warn("usage event buffer full, dropping event",
			"request_id", event.RequestID,
			"outcome", string(event.Outcome),
			"dropped_total", dropped,
		)
	}
}

// Dropped returns how many events have been dropped since startup.
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

// Close drains the buffer, waits for pending writes, and stops the
// worker. The tracker must not be used after Close.
func (t *Tracker) Close() error {
	close(t.done)
	t.wg.Wait()
	return nil
}

// worker drains the event channel and writes events to storage.
func (t *Tracker) worker() {
	defer t.wg.Done()

	for {
		select {
		case event := <-t.eventChan:
			t.writeEvent(event)

		case <-t.done:
			for {
				select {
				case event := <-t.eventChan:
					t.writeEvent(event)
				default:
					t.logger.Info("usage event channel drained")
					return
				}
			}
		}
	}
}

func (t *Tracker) writeEvent(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.WriteTimeout)
	defer cancel()

	if err := t.storage.Store(ctx, event); err != nil {
		t.logger.Error("failed to store usage event",
			"event_id", event.ID,
			"request_id", event.RequestID,
			"error", err,
		)
		return
	}

	t.logger.Debug("usage event recorded",
		"event_id", event.ID,
		"request_id", event.RequestID,
		"outcome", string(event.Outcome),
	)
}
