package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tollgate-ai/tollgate/pkg/costs"
	"tollgate-ai/tollgate/pkg/pricing"
	"tollgate-ai/tollgate/pkg/quota"
	"tollgate-ai/tollgate/pkg/ratelimit"
	"tollgate-ai/tollgate/pkg/routing"
	"tollgate-ai/tollgate/pkg/scope"
	"tollgate-ai/tollgate/pkg/usage"
)

// Config controls governor behavior.
type Config struct {
	// AlertThreshold is the fraction of a quota's limit at which a
	// threshold notification fires, once per period. Zero disables
	// alerts. Default: 0.9
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// DefaultConfig returns the governor defaults.
func DefaultConfig() Config {
	return Config{AlertThreshold: 0.9}
}

// Governor coordinates admission, settlement, and accounting. It is safe
// for concurrent use and holds no lock across the caller's provider
// call.
type Governor struct {
	limiter *ratelimit.Limiter
	ledger  *quota.Ledger
	calc    *costs.Calculator
	pricing *pricing.Table
	router  *routing.Router
	tracker *usage.Tracker
	notify  *dispatcher
	metrics *Metrics
	config  Config
	logger  *slog.Logger
}

// New creates a governor from its collaborators. tracker and notifier
// may be nil; metrics may be nil to register on a private registry.
func New(
	limiter *ratelimit.Limiter,
	ledger *quota.Ledger,
	calc *costs.Calculator,
	table *pricing.Table,
	router *routing.Router,
	tracker *usage.Tracker,
	notifier Notifier,
	metrics *Metrics,
	config Config,
) *Governor {
	if config.AlertThreshold == 0 {
		config.AlertThreshold = DefaultConfig().AlertThreshold
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Governor{
		limiter: limiter,
		ledger:  ledger,
		calc:    calc,
		pricing: table,
		router:  router,
		tracker: tracker,
		notify:  newDispatcher(notifier),
		metrics: metrics,
		config:  config,
		logger:  slog.Default().With("component", "governor"),
	}
}

// Admit decides whether a request may proceed.
//
// The sequence is: route, rate-limit check in global then provider then
// user order, cost estimate, quota reservation per scope and metric. A
// rate-limit denial mutates no ledger state. A failed reservation
// releases every hold already taken for this request. Cache hits hold
// only the requests metric and settle immediately.
func (g *Governor) Admit(ctx context.Context, req *Request) (*Admission, error) {
	start := time.Now()
	defer func() { g.metrics.ObserveAdmitDuration(time.Since(start)) }()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	decision, err := g.router.Select(ctx, &routing.Request{
		RequestID:            req.RequestID,
		RequiredCapabilities: req.RequiredCapabilities,
		Strategy:             req.Strategy,
		ExplicitModel:        req.ExplicitModel,
		Exclude:              req.Exclude,
	})
	if err != nil {
		if errors.Is(err, routing.ErrAllProvidersExhausted) {
			g.metrics.RecordAdmission("providers_exhausted")
			g.record(&usage.Event{
				RequestID: req.RequestID,
				UserID:    req.UserID,
				Feature:   req.Feature,
				Strategy:  string(req.Strategy),
				Outcome:   usage.OutcomeProviderError,
				Error:     err.Error(),
			})
		}
		return nil, err
	}

	scopes := []scope.Scope{scope.Global(), scope.Provider(decision.Provider)}
	if req.UserID != "" {
		scopes = append(scopes, scope.User(req.UserID))
	}

	rl, err := g.limiter.Check(ctx, scopes)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !rl.Allowed {
		g.metrics.RecordAdmission("rate_limited")
		g.metrics.RecordDenial("rate_limited", string(rl.Scope.Kind))
		g.record(&usage.Event{
			RequestID:     req.RequestID,
			UserID:        req.UserID,
			Provider:      decision.Provider,
			Model:         decision.Model,
			Feature:       req.Feature,
			Strategy:      string(decision.Strategy),
			FallbackChain: decision.Attempted,
			Outcome:       usage.OutcomeRateLimited,
		})
		g.notify.send(Notification{
			Kind:       NotifyRateLimited,
			Scope:      rl.Scope,
			RetryAfter: rl.RetryAfter,
		})
		return nil, &RateLimitExceededError{
			Scope:      rl.Scope,
			Rule:       rl.Rule,
			RetryAfter: rl.RetryAfter,
		}
	}

	if req.CacheHit {
		return g.admitCacheHit(ctx, req, decision, scopes)
	}

	estTokens := req.EstimatedInputUnits + req.EstimatedOutputUnits
	estCost := g.calc.Estimate(decision.Provider, decision.Model,
		req.EstimatedInputUnits, req.EstimatedOutputUnits)
	estMicro := costs.MicroUSD(estCost.Total)

	adm := &Admission{
		RequestID:             req.RequestID,
		Decision:              decision,
		EstimatedTokens:       estTokens,
		EstimatedCostMicroUSD: estMicro,
		userID:                req.UserID,
		feature:               req.Feature,
		scopes:                scopes,
		state:                 StateAdmitted,
	}

	amounts := []struct {
		metric scope.Metric
		amount int64
	}{
		{scope.MetricRequests, 1},
		{scope.MetricTokens, estTokens},
		{scope.MetricCost, estMicro},
	}

	for _, s := range scopes {
		for _, am := range amounts {
			res, err := g.ledger.Reserve(ctx, s, am.metric, am.amount)
			if err != nil {
				g.releaseHolds(ctx, adm.holds)
				var exceeded *quota.ExceededError
				if errors.As(err, &exceeded) {
					g.denyQuota(req, decision, exceeded)
				}
				return nil, err
			}
			if res != nil {
				adm.holds = append(adm.holds, hold{scope: s, metric: am.metric, id: res.ID})
			}
		}
	}

	g.metrics.RecordAdmission("admitted")
	g.metrics.HoldsTaken(len(adm.holds))
	g.logger.Debug("request admitted",
		"request_id", req.RequestID,
		"provider", decision.Provider,
		"model", decision.Model,
		"estimated_tokens", estTokens,
		"estimated_cost_micro_usd", estMicro,
		"holds", len(adm.holds),
	)
	return adm, nil
}

// admitCacheHit takes only the requests hold, consumes it immediately,
// and records the cache_hit event. Token and cost quota are untouched.
func (g *Governor) admitCacheHit(ctx context.Context, req *Request, decision *routing.Decision, scopes []scope.Scope) (*Admission, error) {
	var holds []hold
	for _, s := range scopes {
		res, err := g.ledger.Reserve(ctx, s, scope.MetricRequests, 1)
		if err != nil {
			g.releaseHolds(ctx, holds)
			var exceeded *quota.ExceededError
			if errors.As(err, &exceeded) {
				g.denyQuota(req, decision, exceeded)
			}
			return nil, err
		}
		if res != nil {
			holds = append(holds, hold{scope: s, metric: scope.MetricRequests, id: res.ID})
		}
	}

	for _, h := range holds {
		if err := g.ledger.Consume(ctx, h.id, 1); err != nil {
			g.logger.Error("cache hit settlement failed",
				"request_id", req.RequestID,
				"scope", h.scope.Key(),
				"error", err,
			)
		}
	}

	g.metrics.RecordAdmission("cache_hit")
	g.record(&usage.Event{
		RequestID:     req.RequestID,
		UserID:        req.UserID,
		Provider:      decision.Provider,
		Model:         decision.Model,
		Feature:       req.Feature,
		Strategy:      string(decision.Strategy),
		FallbackChain: decision.Attempted,
		Outcome:       usage.OutcomeCacheHit,
	})

	return &Admission{
		RequestID: req.RequestID,
		Decision:  decision,
		CacheHit:  true,
		userID:    req.UserID,
		feature:   req.Feature,
		scopes:    scopes,
		state:     StateSettledSuccess,
	}, nil
}

func (g *Governor) denyQuota(req *Request, decision *routing.Decision, exceeded *quota.ExceededError) {
	g.metrics.RecordAdmission("quota_exceeded")
	g.metrics.RecordDenial("quota_exceeded", string(exceeded.Scope.Kind))
	g.record(&usage.Event{
		RequestID:     req.RequestID,
		UserID:        req.UserID,
		Provider:      decision.Provider,
		Model:         decision.Model,
		Feature:       req.Feature,
		Strategy:      string(decision.Strategy),
		FallbackChain: decision.Attempted,
		Outcome:       usage.OutcomeQuotaExceeded,
	})
	g.notify.send(Notification{
		Kind:    NotifyQuotaExceeded,
		Scope:   exceeded.Scope,
		Metric:  exceeded.Metric,
		ResetAt: exceeded.ResetAt,
	})
}

// Settle finishes an admission with the caller's reported outcome. On
// success every hold is consumed with the actual measured amounts; on
// failure every hold is released untouched. Settling an admission twice,
// or one that was never admitted, is a no-op.
func (g *Governor) Settle(ctx context.Context, adm *Admission, outcome Outcome) error {
	next := StateSettledSuccess
	if !outcome.Success {
		next = StateSettledFailure
	}
	if !adm.transition(next) {
		g.logger.Debug("settle of finished admission ignored",
			"request_id", adm.RequestID,
			"state", string(adm.State()),
		)
		return nil
	}
	defer g.metrics.HoldsSettled(len(adm.holds))

	if !outcome.Success {
		g.releaseHolds(ctx, adm.holds)
		g.metrics.RecordSettlement("failure", adm.Decision.Provider, 0, 0, 0)

		errText := ""
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}
		g.record(&usage.Event{
			RequestID:     adm.RequestID,
			UserID:        adm.userID,
			Provider:      adm.Decision.Provider,
			Model:         adm.Decision.Model,
			Feature:       adm.feature,
			Strategy:      string(adm.Decision.Strategy),
			FallbackChain: adm.Decision.Attempted,
			Outcome:       usage.OutcomeProviderError,
			Error:         errText,
		})
		return nil
	}

	actualTokens := outcome.InputUnits + outcome.OutputUnits
	actualCost := g.calc.Calculate(adm.Decision.Provider, adm.Decision.Model,
		outcome.InputUnits, outcome.OutputUnits)
	actualMicro := costs.MicroUSD(actualCost.Total)

	var firstErr error
	for _, h := range adm.holds {
		var actual int64
		switch h.metric {
		case scope.MetricRequests:
			actual = 1
		case scope.MetricTokens:
			actual = actualTokens
		case scope.MetricCost:
			actual = actualMicro
		}
		if err := g.ledger.Consume(ctx, h.id, actual); err != nil {
			g.logger.Error("hold consume failed",
				"request_id", adm.RequestID,
				"scope", h.scope.Key(),
				"metric", string(h.metric),
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	g.metrics.RecordSettlement("success", adm.Decision.Provider,
		outcome.InputUnits, outcome.OutputUnits, actualCost.Total)
	g.record(&usage.Event{
		RequestID:        adm.RequestID,
		UserID:           adm.userID,
		Provider:         adm.Decision.Provider,
		Model:            adm.Decision.Model,
		Feature:          adm.feature,
		Strategy:         string(adm.Decision.Strategy),
		FallbackChain:    adm.Decision.Attempted,
		PromptTokens:     outcome.InputUnits,
		CompletionTokens: outcome.OutputUnits,
		TotalTokens:      actualTokens,
		CostMicroUSD:     actualMicro,
		Outcome:          usage.OutcomeSuccess,
	})

	g.checkThresholds(ctx, adm.scopes)
	return firstErr
}

// releaseHolds releases every hold, attempting all of them even when one
// fails.
func (g *Governor) releaseHolds(ctx context.Context, holds []hold) {
	for _, h := range holds {
		if err := g.ledger.Release(ctx, h.id); err != nil {
			g.logger.Error("hold release failed",
				"scope", h.scope.Key(),
				"metric", string(h.metric),
				"error", err,
			)
		}
	}
}

// checkThresholds fires once-per-period alerts for quotas whose usage
// crossed the configured threshold.
func (g *Governor) checkThresholds(ctx context.Context, scopes []scope.Scope) {
	if g.config.AlertThreshold <= 0 {
		return
	}
	for _, s := range scopes {
		statuses, err := g.ledger.Status(ctx, s)
		if err != nil {
			g.logger.Warn("threshold check failed", "scope", s.Key(), "error", err)
			continue
		}
		for _, st := range statuses {
			g.metrics.SetQuotaUsedRatio(st.Scope.Key(), string(st.Metric), st.PercentUsed)
			g.notify.checkThreshold(st, g.config.AlertThreshold)
		}
	}
	g.notify.prune(time.Now())
}

// QuotaStatus reports the current-period quota standing for s.
func (g *Governor) QuotaStatus(ctx context.Context, s scope.Scope) ([]quota.Status, error) {
	return g.ledger.Status(ctx, s)
}

// UpdatePricing appends pricing entries and returns the new table
// version. Existing entries are never mutated, so historical cost
// calculations stay reproducible.
func (g *Governor) UpdatePricing(entries ...pricing.Entry) (int64, error) {
	return g.pricing.Update(entries...)
}

// record writes a usage event, tolerating an absent tracker. Tracker
// failures never propagate to the request path.
func (g *Governor) record(event *usage.Event) {
	if g.tracker == nil {
		return
	}
	g.tracker.Record(event)
}
