package governor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks governor activity for Prometheus scraping.
type Metrics struct {
	admissionsTotal  *prometheus.CounterVec
	denialsTotal     *prometheus.CounterVec
	settlementsTotal *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	costUSDTotal     *prometheus.CounterVec
	holdsInflight    prometheus.Gauge
	quotaUsedRatio   *prometheus.GaugeVec
	admitDuration    prometheus.Histogram
}

// NewMetrics creates and registers governor metrics with the provided
// registry. A nil registry creates a private one, which tests use to
// avoid duplicate registration.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		admissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "governor",
				Name:      "admissions_total",
				Help:      "Total admission attempts by final outcome",
			},
			[]string{"outcome"},
		),

		denialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "governor",
				Name:      "denials_total",
				Help:      "Total denials by reason and denying scope kind",
			},
			[]string{"reason", "scope_kind"},
		),

		settlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "governor",
				Name:      "settlements_total",
				Help:      "Total settlements by result",
			},
			[]string{"result"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "governor",
				Name:      "tokens_total",
				Help:      "Total settled tokens by provider and direction",
			},
			[]string{"provider", "type"},
		),

		costUSDTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tollgate",
				Subsystem: "governor",
				Name:      "cost_usd_total",
				Help:      "Total settled cost in USD by provider",
			},
			[]string{"provider"},
		),

		holdsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tollgate",
				Subsystem: "governor",
				Name:      "holds_inflight",
				Help:      "Quota holds currently awaiting settlement",
			},
		),

		quotaUsedRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tollgate",
				Subsystem: "governor",
				Name:      "quota_used_ratio",
				Help:      "Fraction of the current-period quota limit consumed",
			},
			[]string{"scope", "metric"},
		),

		admitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "tollgate",
				Subsystem: "governor",
				Name:      "admit_duration_seconds",
				Help:      "Admission check latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
	}

	registry.MustRegister(
		m.admissionsTotal,
		m.denialsTotal,
		m.settlementsTotal,
		m.tokensTotal,
		m.costUSDTotal,
		m.holdsInflight,
		m.quotaUsedRatio,
		m.admitDuration,
	)
	return m
}

// RecordAdmission counts an admission attempt's outcome.
func (m *Metrics) RecordAdmission(outcome string) {
	m.admissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDenial counts a denial by reason and scope kind.
func (m *Metrics) RecordDenial(reason, scopeKind string) {
	m.denialsTotal.WithLabelValues(reason, scopeKind).Inc()
}

// RecordSettlement counts a settlement and its traffic totals.
func (m *Metrics) RecordSettlement(result, provider string, inputUnits, outputUnits int64, costUSD float64) {
	m.settlementsTotal.WithLabelValues(result).Inc()
	if inputUnits > 0 {
		m.tokensTotal.WithLabelValues(provider, "input").Add(float64(inputUnits))
	}
	if outputUnits > 0 {
		m.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputUnits))
	}
	if costUSD > 0 {
		m.costUSDTotal.WithLabelValues(provider).Add(costUSD)
	}
}

// HoldsTaken and HoldsSettled track the in-flight hold gauge.
func (m *Metrics) HoldsTaken(n int) {
	m.holdsInflight.Add(float64(n))
}

func (m *Metrics) HoldsSettled(n int) {
	m.holdsInflight.Sub(float64(n))
}

// SetQuotaUsedRatio publishes the consumed fraction of one quota.
func (m *Metrics) SetQuotaUsedRatio(scopeKey, metric string, ratio float64) {
	m.quotaUsedRatio.WithLabelValues(scopeKey, metric).Set(ratio)
}

// ObserveAdmitDuration records one admission check's latency.
func (m *Metrics) ObserveAdmitDuration(d time.Duration) {
	m.admitDuration.Observe(d.Seconds())
}
