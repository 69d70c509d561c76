package governor

import (
	"log/slog"
	"sync"
	"time"

	"tollgate-ai/tollgate/pkg/quota"
	"tollgate-ai/tollgate/pkg/scope"
)

// NotificationKind classifies a governor notification.
type NotificationKind string

const (
	// NotifyRateLimited fires on a rate-limit denial.
	NotifyRateLimited NotificationKind = "rate_limited"

	// NotifyQuotaExceeded fires on a quota denial.
	NotifyQuotaExceeded NotificationKind = "quota_exceeded"

	// NotifyThresholdCrossed fires once per period when a quota's usage
	// crosses the alert threshold.
	NotifyThresholdCrossed NotificationKind = "threshold_crossed"
)

// Notification is one fire-and-forget alert from the governor.
type Notification struct {
	Kind        NotificationKind
	Scope       scope.Scope
	Metric      scope.Metric
	PercentUsed float64
	ResetAt     time.Time
	RetryAfter  time.Duration
	Timestamp   time.Time
}

// Notifier receives governor notifications. Implementations must return
// quickly; the governor calls them from a detached goroutine and never
// waits.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(Notification) {}

// dispatcher fans notifications out without blocking the caller, and
// dedups threshold alerts to once per quota period.
type dispatcher struct {
	notifier Notifier
	logger   *slog.Logger

	// notified maps scope|metric to the reset time of the period whose
	// threshold alert already fired. A new period has a new reset time,
	// which re-arms the alert.
	mu       sync.Mutex
	notified map[string]time.Time
}

func newDispatcher(notifier Notifier) *dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &dispatcher{
		notifier: notifier,
		logger:   slog.Default().With("component", "governor.notify"),
		notified: make(map[string]time.Time),
	}
}

// send delivers n on a detached goroutine.
func (d *dispatcher) send(n Notification) {
	n.Timestamp = time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notifier panicked", "kind", string(n.Kind), "panic", r)
			}
		}()
		d.notifier.Notify(n)
	}()
}

// checkThreshold sends a threshold alert for st if one has not fired
// this period.
func (d *dispatcher) checkThreshold(st quota.Status, threshold float64) {
	if threshold <= 0 || st.PercentUsed < threshold {
		return
	}

	key := st.Scope.Key() + "|" + string(st.Metric)
	d.mu.Lock()
	already := d.notified[key].Equal(st.ResetAt)
	if !already {
		d.notified[key] = st.ResetAt
	}
	d.mu.Unlock()
	if already {
		return
	}

	d.logger.Warn("quota alert threshold crossed",
		"scope", st.Scope.Key(),
		"metric", string(st.Metric),
		"percent_used", st.PercentUsed,
	)
	d.send(Notification{
		Kind:        NotifyThresholdCrossed,
		Scope:       st.Scope,
		Metric:      st.Metric,
		PercentUsed: st.PercentUsed,
		ResetAt:     st.ResetAt,
	})
}

// prune drops dedup entries for periods that have reset.
func (d *dispatcher) prune(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, reset := range d.notified {
		if reset.Before(now) {
			delete(d.notified, key)
		}
	}
}
