// Package federation executes plan stages against data source adapters.
// It owns the per-source call protocol: rate limit, cache lookup, circuit
// breaker check, the call itself, and outcome bookkeeping.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/fedprobe/internal/cache"
	"github.com/sells-group/fedprobe/internal/model"
	"github.com/sells-group/fedprobe/internal/monitoring"
	"github.com/sells-group/fedprobe/internal/resilience"
	"github.com/sells-group/fedprobe/internal/source"
)

// Options tunes executor behavior.
type Options struct {
	// MaxConcurrent bounds sibling source calls within a stage. Default: 8.
	MaxConcurrent int

	// Retry is applied per source call, inside the breaker. MaxAttempts 1
	// disables it.
	Retry resilience.RetryConfig

	// Cache, when non-nil, is consulted before every source call.
	Cache cache.Cache

	// Collector, when non-nil, receives call outcome counters.
	Collector *monitoring.Collector
}

// Executor runs plan stages. Safe for concurrent use by multiple
// investigations; the breaker registry is the only shared mutable state.
type Executor struct {
	clients  *source.Clients
	breakers *resilience.SourceBreakers
	opts     Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// StageResult is everything a stage produced, plus its degradation status.
type StageResult struct {
	StageID  string
	Domain   model.Domain
	Results  []model.FederatedResult
	Degraded string // empty when the stage finished clean
}

// New creates an executor.
func New(clients *source.Clients, breakers *resilience.SourceBreakers, opts Options) *Executor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Executor{
		clients:  clients,
		breakers: breakers,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// PlanProgress is invoked before each stage of a plan runs. The index is
// zero-based; callers use it to surface per-stage progress.
type PlanProgress func(index, total int, stage model.Stage)

// ExecutePlan runs every stage in plan order and returns all federated
// results plus per-stage degradations. Stage failures never abort the plan;
// the caller decides what partial data is worth. A context error stops the
// plan and is returned with whatever completed before it.
func (e *Executor) ExecutePlan(ctx context.Context, plan *model.ExecutionPlan, filters model.IntentFilters, onStage PlanProgress) ([]model.FederatedResult, []model.StageDegradation, error) {
	var all []model.FederatedResult
	var degradations []model.StageDegradation
	done := make(map[string]bool, len(plan.Stages))

	for i, stage := range plan.Stages {
		if err := ctx.Err(); err != nil {
			return all, degradations, err
		}
		for _, dep := range stage.DependsOn {
			if !done[dep] {
				zap.L().Warn("executor: stage dependency not satisfied",
					zap.String("stage", stage.ID),
					zap.String("depends_on", dep),
				)
			}
		}
		if onStage != nil {
			onStage(i, len(plan.Stages), stage)
		}

		sr := e.ExecuteStage(ctx, stage, filters)
		all = append(all, sr.Results...)
		if sr.Degraded != "" {
			degradations = append(degradations, model.StageDegradation{
				StageID: stage.ID,
				Domain:  stage.Domain,
				Reason:  sr.Degraded,
			})
		}
		done[stage.ID] = true
	}
	return all, degradations, nil
}

// ExecuteStage fans a single stage out across its candidates according to
// its strategy. Every outcome, including short-circuits and timeouts, shows
// up as a FederatedResult; a stage degrades rather than fails.
func (e *Executor) ExecuteStage(ctx context.Context, stage model.Stage, filters model.IntentFilters) StageResult {
	log := zap.L().With(
		zap.String("stage", stage.ID),
		zap.String("domain", string(stage.Domain)),
		zap.String("strategy", string(stage.Strategy)),
	)
	log.Debug("executor: stage starting", zap.Int("candidates", len(stage.Candidates)))

	var sr StageResult
	switch stage.Strategy {
	case model.StrategyFallback:
		sr = e.runFallback(ctx, stage, filters)
	case model.StrategyFastest:
		sr = e.runFastest(ctx, stage, filters)
	default:
		// AGGREGATE and PARALLEL share the fan-out: call everyone, keep
		// everything. AGGREGATE merges commutatively downstream; PARALLEL
		// feeds later stages that need all candidate data.
		sr = e.runAll(ctx, stage, filters)
	}

	sr.StageID = stage.ID
	sr.Domain = stage.Domain
	if sr.Degraded != "" {
		log.Warn("executor: stage degraded", zap.String("reason", sr.Degraded))
	}
	return sr
}

// runFallback tries candidates strictly in rank order and stops at the
// first OK.
func (e *Executor) runFallback(ctx context.Context, stage model.Stage, filters model.IntentFilters) StageResult {
	var sr StageResult
	for _, cand := range stage.Candidates {
		res := e.callSource(ctx, cand, stage, filters)
		sr.Results = append(sr.Results, res)
		if res.Status == model.StatusOK {
			return sr
		}
	}
	sr.Degraded = "all fallback candidates failed"
	return sr
}

// runAll calls every candidate with bounded concurrency and waits for all of
// them or the stage timeout. Missing sources are flagged, not fatal.
func (e *Executor) runAll(ctx context.Context, stage model.Stage, filters model.IntentFilters) StageResult {
	stageCtx := ctx
	var cancel context.CancelFunc
	if stage.Timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	results := make([]model.FederatedResult, len(stage.Candidates))
	g, gCtx := errgroup.WithContext(stageCtx)
	g.SetLimit(e.opts.MaxConcurrent)
	for i, cand := range stage.Candidates {
		g.Go(func() error {
			results[i] = e.callSource(gCtx, cand, stage, filters)
			return nil
		})
	}
	_ = g.Wait()

	var sr StageResult
	sr.Results = results
	var okCount int
	for _, r := range results {
		if r.Status == model.StatusOK {
			okCount++
		}
	}
	if okCount == 0 {
		sr.Degraded = "no candidate returned data"
	} else if okCount < len(results) {
		sr.Degraded = "partial source coverage"
	}
	return sr
}

// runFastest races all candidates and keeps the first OK. Losers are
// cancelled best-effort and their results discarded; the executor never
// blocks on stragglers.
func (e *Executor) runFastest(ctx context.Context, stage model.Stage, filters model.IntentFilters) StageResult {
	stageCtx := ctx
	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}
	raceCtx, cancelRace := context.WithCancel(stageCtx)
	defer cancelRace()

	type outcome struct{ res model.FederatedResult }
	ch := make(chan outcome, len(stage.Candidates))
	for _, cand := range stage.Candidates {
		go func(cand model.SourceDescriptor) {
			ch <- outcome{e.callSource(raceCtx, cand, stage, filters)}
		}(cand)
	}

	var sr StageResult
	for i := 0; i < len(stage.Candidates); i++ {
		select {
		case out := <-ch:
			if out.res.Status == model.StatusOK {
				cancelRace()
				sr.Results = []model.FederatedResult{out.res}
				return sr
			}
			sr.Results = append(sr.Results, out.res)
		case <-stageCtx.Done():
			sr.Degraded = "stage timeout before any source answered"
			return sr
		}
	}
	sr.Degraded = "all raced candidates failed"
	return sr
}

// callSource runs the full per-source protocol: rate limit, cache, breaker
// check, fetch with retry, breaker bookkeeping, cache fill.
func (e *Executor) callSource(ctx context.Context, desc model.SourceDescriptor, stage model.Stage, filters model.IntentFilters) model.FederatedResult {
	result := model.FederatedResult{SourceID: desc.ID, Tier: desc.Tier}

	record := func(r model.FederatedResult) model.FederatedResult {
		if e.opts.Collector != nil {
			e.opts.Collector.RecordCall(desc.ID, r.Status)
		}
		return r
	}

	client := e.clients.Get(desc.ID)
	if client == nil {
		result.Status = model.StatusError
		result.Err = "no adapter registered for source"
		return record(result)
	}

	// Cache hit avoids the network and leaves the breaker untouched.
	var cacheKey string
	if e.opts.Cache != nil {
		cacheKey = cache.Key(desc.ID, stage.Domain, filters)
		if raw, ok, err := e.opts.Cache.Get(ctx, cacheKey); err == nil && ok {
			var records []model.Record
			if jsonErr := json.Unmarshal(raw, &records); jsonErr == nil {
				if e.opts.Collector != nil {
					e.opts.Collector.RecordCache(true)
				}
				result.Status = model.StatusOK
				result.Records = records
				return record(result)
			}
		}
		if e.opts.Collector != nil {
			e.opts.Collector.RecordCache(false)
		}
	}

	if limiter := e.limiterFor(desc); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			result.Status = classifyCtxErr(ctx)
			result.Err = err.Error()
			return record(result)
		}
	}

	breaker := e.breakers.Get(desc.ID)
	if err := breaker.Allow(); err != nil {
		result.Status = model.StatusCircuitOpen
		result.Err = err.Error()
		return record(result)
	}

	start := time.Now()
	retryCfg := e.opts.Retry
	retryCfg.OnRetry = resilience.RetryLogger(desc.ID, "fetch")
	records, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]model.Record, error) {
		return client.Fetch(ctx, stage.Domain, filters)
	})
	result.Latency = time.Since(start)

	if err != nil {
		// A call abandoned by cancellation (FASTEST losers, investigation
		// cancel) is discarded without teaching the breaker anything. The
		// probe slot still has to be released or a half-open breaker would
		// reject every later call.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			breaker.AbortProbe()
			result.Status = model.StatusError
			result.Err = "cancelled"
			return record(result)
		}
		breaker.Record(err)
		result.Status = model.StatusError
		if errors.Is(err, context.DeadlineExceeded) {
			result.Status = model.StatusTimeout
		}
		result.Err = err.Error()
		return record(result)
	}

	breaker.Record(nil)
	result.Status = model.StatusOK
	result.Records = records

	if e.opts.Cache != nil {
		if raw, jsonErr := json.Marshal(records); jsonErr == nil {
			if err := e.opts.Cache.Set(ctx, cacheKey, raw, ttlTierFor(stage.Domain)); err != nil {
				zap.L().Warn("executor: cache set failed",
					zap.String("source", desc.ID),
					zap.Error(err),
				)
			}
		}
	}
	return record(result)
}

func (e *Executor) limiterFor(desc model.SourceDescriptor) *rate.Limiter {
	if desc.RateLimit <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[desc.ID]
	if !ok {
		burst := int(desc.RateLimit)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(desc.RateLimit), burst)
		e.limiters[desc.ID] = l
	}
	return l
}

func classifyCtxErr(ctx context.Context) model.ResultStatus {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.StatusTimeout
	}
	return model.StatusError
}

// ttlTierFor buckets domains by volatility for the response cache.
func ttlTierFor(domain model.Domain) cache.TTLTier {
	switch domain {
	case model.DomainSanctions:
		return cache.TierFast
	case model.DomainOrgRegistry, model.DomainServants:
		return cache.TierDurable
	default:
		return cache.TierStandard
	}
}
