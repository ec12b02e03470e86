// Package monitoring gathers runtime counters for the serve API and the
// sources command: source call outcomes, breaker transitions, cache hits.
package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/fedprobe/internal/model"
	"github.com/sells-group/fedprobe/internal/resilience"
)

// SourceCounters tracks call outcomes for one source.
type SourceCounters struct {
	OK          int64 `json:"ok"`
	Errors      int64 `json:"errors"`
	Timeouts    int64 `json:"timeouts"`
	CircuitOpen int64 `json:"circuit_open"`
}

// MetricsSnapshot is a point-in-time view of federation health.
type MetricsSnapshot struct {
	Sources            map[string]SourceCounters           `json:"sources"`
	BreakerStates      map[string]string                   `json:"breaker_states"`
	BreakerTransitions int64                               `json:"breaker_transitions"`
	CacheHits          int64                               `json:"cache_hits"`
	CacheMisses        int64                               `json:"cache_misses"`
	Investigations     map[model.InvestigationStatus]int64 `json:"investigations"`
	CollectedAt        time.Time                           `json:"collected_at"`
}

// Collector accumulates counters from the executor and the investigation
// manager. All methods are safe for concurrent use.
type Collector struct {
	mu                 sync.Mutex
	sources            map[string]*SourceCounters
	breakerTransitions int64
	cacheHits          int64
	cacheMisses        int64
	investigations     map[model.InvestigationStatus]int64

	breakers *resilience.SourceBreakers
}

// NewCollector creates a collector. breakers may be nil when breaker state
// reporting is not wanted.
func NewCollector(breakers *resilience.SourceBreakers) *Collector {
	return &Collector{
		sources:        make(map[string]*SourceCounters),
		investigations: make(map[model.InvestigationStatus]int64),
		breakers:       breakers,
	}
}

// RecordCall tallies one source call outcome.
func (c *Collector) RecordCall(sourceID string, status model.ResultStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc := c.sources[sourceID]
	if sc == nil {
		sc = &SourceCounters{}
		c.sources[sourceID] = sc
	}
	switch status {
	case model.StatusOK:
		sc.OK++
	case model.StatusTimeout:
		sc.Timeouts++
	case model.StatusCircuitOpen:
		sc.CircuitOpen++
	default:
		sc.Errors++
	}
}

// RecordBreakerTransition tallies a circuit state change.
func (c *Collector) RecordBreakerTransition(_ string, _, _ resilience.CircuitState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakerTransitions++
}

// RecordCache tallies a cache lookup.
func (c *Collector) RecordCache(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
}

// RecordInvestigation tallies a terminal investigation status.
func (c *Collector) RecordInvestigation(status model.InvestigationStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.investigations[status]++
}

// Snapshot returns a copy of all counters plus live breaker states.
func (c *Collector) Snapshot() MetricsSnapshot {
	c.mu.Lock()
	snap := MetricsSnapshot{
		Sources:            make(map[string]SourceCounters, len(c.sources)),
		BreakerStates:      make(map[string]string),
		BreakerTransitions: c.breakerTransitions,
		CacheHits:          c.cacheHits,
		CacheMisses:        c.cacheMisses,
		Investigations:     make(map[model.InvestigationStatus]int64, len(c.investigations)),
		CollectedAt:        time.Now().UTC(),
	}
	for id, sc := range c.sources {
		snap.Sources[id] = *sc
	}
	for status, n := range c.investigations {
		snap.Investigations[status] = n
	}
	c.mu.Unlock()

	if c.breakers != nil {
		for id, state := range c.breakers.States() {
			snap.BreakerStates[id] = state.String()
		}
	}
	return snap
}
