package routing

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats tracks routing decisions with atomic counters.
type Stats struct {
	totalRequests       atomic.Int64
	requestsPerProvider sync.Map // map[string]*atomic.Int64
	strategyUseCount    sync.Map // map[Strategy]*atomic.Int64
	healthFilteredCount atomic.Int64
	explicitModelCount  atomic.Int64
	exhaustedCount      atomic.Int64
	errors              atomic.Int64

	mu            sync.RWMutex
	lastResetTime time.Time
}

// StatsSnapshot is a point-in-time copy of routing statistics, safe to
// read without locks.
type StatsSnapshot struct {
	TotalRequests       int64
	RequestsPerProvider map[string]int64
	StrategyUseCount    map[Strategy]int64
	HealthFilteredCount int64
	ExplicitModelCount  int64
	ExhaustedCount      int64
	Errors              int64
	LastResetTime       time.Time
}

// NewStats creates a routing statistics tracker.
func NewStats() *Stats {
	return &Stats{lastResetTime: time.Now()}
}

// IncrementTotal increments the total request counter.
func (s *Stats) IncrementTotal() {
	s.totalRequests.Add(1)
}

// IncrementProvider increments the counter for a specific provider.
func (s *Stats) IncrementProvider(provider string) {
	val, _ := s.requestsPerProvider.LoadOrStore(provider, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

// IncrementStrategy increments the counter for a specific strategy.
func (s *Stats) IncrementStrategy(strategy Strategy) {
	val, _ := s.strategyUseCount.LoadOrStore(strategy, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

// IncrementHealthFiltered counts a provider skipped for health.
func (s *Stats) IncrementHealthFiltered() {
	s.healthFilteredCount.Add(1)
}

// IncrementExplicitModel counts an explicit model override.
func (s *Stats) IncrementExplicitModel() {
	s.explicitModelCount.Add(1)
}

// IncrementExhausted counts a terminal exhaustion result.
func (s *Stats) IncrementExhausted() {
	s.exhaustedCount.Add(1)
}

// IncrementErrors counts a routing error.
func (s *Stats) IncrementErrors() {
	s.errors.Add(1)
}

// Snapshot returns a point-in-time snapshot of the statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perProvider := make(map[string]int64)
	s.requestsPerProvider.Range(func(key, value interface{}) bool {
		perProvider[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	perStrategy := make(map[Strategy]int64)
	s.strategyUseCount.Range(func(key, value interface{}) bool {
		perStrategy[key.(Strategy)] = value.(*atomic.Int64).Load()
		return true
	})

	return StatsSnapshot{
		TotalRequests:       s.totalRequests.Load(),
		RequestsPerProvider: perProvider,
		StrategyUseCount:    perStrategy,
		HealthFilteredCount: s.healthFilteredCount.Load(),
		ExplicitModelCount:  s.explicitModelCount.Load(),
		ExhaustedCount:      s.exhaustedCount.Load(),
		Errors:              s.errors.Load(),
		LastResetTime:       s.lastResetTime,
	}
}

// Reset resets all statistics to zero.
func (s *Stats) Reset() {
	s.totalRequests.Store(0)
	s.healthFilteredCount.Store(0)
	s.explicitModelCount.Store(0)
	s.exhaustedCount.Store(0)
	s.errors.Store(0)

	s.requestsPerProvider.Range(func(key, value interface{}) bool {
		s.requestsPerProvider.Delete(key)
		return true
	})
	s.strategyUseCount.Range(func(key, value interface{}) bool {
		s.strategyUseCount.Delete(key)
		return true
	})

	s.mu.Lock()
	s.lastResetTime = time.Now()
	s.mu.Unlock()
}
