// Package quota enforces longer-window consumption ceilings with a
// two-phase reserve/consume/release protocol.
//
// Admission takes a reservation (a hold against the current period's
// record); settlement either consumes it with the actually measured
// amount or releases it untouched. The record invariant
// used + reserved <= limit holds after every successful reservation; used
// alone may exceed the limit when an actual amount overshoots its
// estimate, which is accepted and logged rather than retroactively
// denied.
//
// Period rollover is lazy: every access computes the current period from
// the definition's kind and timezone, and a new period simply addresses a
// new record. Expired records are never mutated, preserving history until
// the archival sweep removes them.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tollgate-ai/tollgate/pkg/period"
	"tollgate-ai/tollgate/pkg/scope"
	"tollgate-ai/tollgate/pkg/store"
)

// Ledger tracks quota consumption through an atomic counter backend.
type Ledger struct {
	backend store.Backend
	defs    map[string]Definition // scope key + metric -> definition
	now     func() time.Time
	logger  *slog.Logger

	// pending tracks outstanding reservations by ID. Settled reservations
	// are removed, which is what makes the second settlement of an ID a
	// no-op.
	mu      sync.Mutex
	pending map[string]Reservation
}

// NewLedger creates a ledger over backend with the given definitions.
func NewLedger(backend store.Backend, defs []Definition) (*Ledger, error) {
	byKey := make(map[string]Definition, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		byKey[defKey(d.Scope, d.Metric)] = d
	}

	return &Ledger{
		backend: backend,
		defs:    byKey,
		now:     time.Now,
		logger:  slog.Default().With("component", "quota"),
		pending: make(map[string]Reservation),
	}, nil
}

func defKey(s scope.Scope, m scope.Metric) string {
	return s.Key() + "|" + string(m)
}

// definitionFor resolves the definition governing (s, metric): an exact
// scope match wins over a kind-wide default. ok is false when the pair is
// unlimited.
func (l *Ledger) definitionFor(s scope.Scope, metric scope.Metric) (Definition, bool) {
	if d, ok := l.defs[defKey(s, metric)]; ok {
		return d, true
	}
	d, ok := l.defs[defKey(scope.Scope{Kind: s.Kind}, metric)]
	return d, ok
}

// recordKey addresses the period record for a definition at now. The
// period start is part of the key, so rollover lazily creates a fresh
// record and leaves the old one immutable.
func recordKey(s scope.Scope, metric scope.Metric, p period.Period) string {
	return fmt.Sprintf("q:%s:%s:%d", s.Key(), metric, p.Start.Unix())
}

// currentPeriod computes the accounting period for d containing now.
func (l *Ledger) currentPeriod(d Definition) (period.Period, error) {
	loc, err := period.LoadLocation(d.Timezone)
	if err != nil {
		return period.Period{}, err
	}
	return period.Boundaries(d.Period, loc, l.now())
}

// Reserve atomically takes a hold of amount against the current period's
// record for (s, metric).
//
// When no definition governs the pair the request is unlimited and a nil
// reservation is returned. A rejected reservation returns *ExceededError
// with no side effects on the record.
func (l *Ledger) Reserve(ctx context.Context, s scope.Scope, metric scope.Metric, amount int64) (*Reservation, error) {
	def, ok := l.definitionFor(s, metric)
	if !ok {
		return nil, nil
	}

	p, err := l.currentPeriod(def)
	if err != nil {
		return nil, err
	}
	key := recordKey(s, metric, p)

	counter, ok, err := l.backend.Reserve(ctx, key, amount, def.Limit)
	if err != nil {
		return nil, fmt.Errorf("quota reserve for %s/%s: %w", s.Key(), metric, err)
	}
	if !ok {
		return nil, &ExceededError{
			Scope:     s,
			Metric:    metric,
			Requested: amount,
			Used:      counter.Used,
			Reserved:  counter.Reserved,
			Limit:     def.Limit,
			ResetAt:   p.End,
		}
	}

	res := Reservation{
		ID:        uuid.NewString(),
		Scope:     s,
		Metric:    metric,
		Amount:    amount,
		CreatedAt: l.now(),
		key:       key,
	}

	l.mu.Lock()
	l.pending[res.ID] = res
	l.mu.Unlock()

	return &res, nil
}

// take removes and returns the pending reservation for id. ok is false
// when the reservation is unknown, meaning it was already settled (or
// never existed), which settlement treats as a no-op.
func (l *Ledger) take(id string) (Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.pending[id]
	if ok {
		delete(l.pending, id)
	}
	return res, ok
}

// putBack restores a reservation whose backend settlement failed, so the
// hold is not forgotten while it still exists in the counter.
func (l *Ledger) putBack(res Reservation) {
	l.mu.Lock()
	l.pending[res.ID] = res
	l.mu.Unlock()
}

// Consume settles a reservation with the actually measured amount:
// reserved drops by the original hold, used grows by actualAmount. An
// actual above the hold is accepted overshoot and logged. Consuming an
// unknown or already-settled ID is a no-op.
func (l *Ledger) Consume(ctx context.Context, id string, actualAmount int64) error {
	res, ok := l.take(id)
	if !ok {
		l.logger.Debug("consume of settled reservation ignored", "reservation_id", id)
		return nil
	}

	if err := l.backend.Consume(ctx, res.key, res.Amount, actualAmount); err != nil {
		l.putBack(res)
		return fmt.Errorf("quota consume %s: %w", id, err)
	}

	if actualAmount > res.Amount {
		l.logger.Info("quota overshoot accepted",
			"scope", res.Scope.Key(),
			"metric", string(res.Metric),
			"reserved", res.Amount,
			"actual", actualAmount,
		)
	}
	return nil
}

// Release drops a reservation without settling it; used is untouched.
// Releasing an unknown or already-settled ID is a no-op, so retries and
// sweep races stay harmless.
func (l *Ledger) Release(ctx context.Context, id string) error {
	res, ok := l.take(id)
	if !ok {
		return nil
	}

	if err := l.backend.Release(ctx, res.key, res.Amount); err != nil {
		l.putBack(res)
		return fmt.Errorf("quota release %s: %w", id, err)
	}
	return nil
}

// Lookup returns the pending reservation for id, or ErrReservationNotFound
// when it has been settled or never existed.
func (l *Ledger) Lookup(id string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.pending[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

// Status reports the current-period standing for every metric that has a
// definition covering s. Rollover is evaluated lazily: once now passes a
// period's end, a fresh record (used=0) is reported.
func (l *Ledger) Status(ctx context.Context, s scope.Scope) ([]Status, error) {
	var out []Status
	for _, metric := range scope.Metrics {
		def, ok := l.definitionFor(s, metric)
		if !ok {
			continue
		}

		p, err := l.currentPeriod(def)
		if err != nil {
			return nil, err
		}

		counter, err := l.backend.Get(ctx, recordKey(s, metric, p))
		if err != nil {
			return nil, fmt.Errorf("quota status for %s/%s: %w", s.Key(), metric, err)
		}

		available := def.Limit - counter.Used - counter.Reserved
		if available < 0 {
			available = 0
		}

		out = append(out, Status{
			Scope:       s,
			Metric:      metric,
			Used:        counter.Used,
			Reserved:    counter.Reserved,
			Limit:       def.Limit,
			Available:   available,
			PercentUsed: float64(counter.Used) / float64(def.Limit),
			ResetAt:     p.End,
			Exceeded:    counter.Used >= def.Limit,
		})
	}
	return out, nil
}

// ReleaseAbandoned releases every pending reservation older than
// olderThan. It backs the abandonment sweep that prevents permanent quota
// leakage when a caller admits a request and never settles it.
func (l *Ledger) ReleaseAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := l.now().Add(-olderThan)

	l.mu.Lock()
	var stale []string
	for id, res := range l.pending {
		if res.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	l.mu.Unlock()

	released := 0
	for _, id := range stale {
		if err := l.Release(ctx, id); err != nil {
			return released, err
		}
		released++
		l.logger.Warn("released abandoned reservation", "reservation_id", id)
	}
	return released, nil
}

// PendingCount returns the number of outstanding reservations.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
