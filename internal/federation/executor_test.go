package federation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sells-group/fedprobe/internal/cache"
	"github.com/sells-group/fedprobe/internal/model"
	"github.com/sells-group/fedprobe/internal/monitoring"
	"github.com/sells-group/fedprobe/internal/resilience"
	"github.com/sells-group/fedprobe/internal/source"
)

func desc(id string, tier model.Tier) model.SourceDescriptor {
	return model.SourceDescriptor{ID: id, Tier: tier, Capabilities: []model.Domain{model.DomainContracts}}
}

func contractRec(number, supplier string, value float64) model.Record {
	return model.Record{
		Domain: model.DomainContracts,
		Fields: map[string]any{
			model.FieldContractNumber: number,
			model.FieldSupplier:       supplier,
			model.FieldValueAmount:    value,
		},
	}
}

func newExecutor(opts Options, clients ...source.Client) *Executor {
	return New(
		source.NewClients(clients...),
		resilience.NewSourceBreakers(resilience.DefaultBreakerConfig()),
		opts,
	)
}

func TestFallback_StopsAtFirstOK(t *testing.T) {
	a := source.NewStatic(desc("a", model.TierFederal)).WithError(errors.New("down"))
	b := source.NewStatic(desc("b", model.TierStateAudit)).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-1", "acme", 100)})
	c := source.NewStatic(desc("c", model.TierOpenData)).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-2", "acme", 200)})

	ex := newExecutor(Options{}, a, b, c)
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyFallback,
		Candidates: []model.SourceDescriptor{a.Capability(), b.Capability(), c.Capability()},
	}

	sr := ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if sr.Degraded != "" {
		t.Fatalf("unexpected degradation: %s", sr.Degraded)
	}
	if len(sr.Results) != 2 {
		t.Fatalf("expected 2 attempts (a failed, b succeeded), got %d", len(sr.Results))
	}
	if sr.Results[1].SourceID != "b" || sr.Results[1].Status != model.StatusOK {
		t.Errorf("expected b to win fallback, got %+v", sr.Results[1])
	}
	if c.Calls() != 0 {
		t.Errorf("expected c untouched after b succeeded, got %d calls", c.Calls())
	}
}

func TestFallback_AllFailDegrades(t *testing.T) {
	a := source.NewStatic(desc("a", model.TierFederal)).WithError(errors.New("down"))
	b := source.NewStatic(desc("b", model.TierOpenData)).WithError(errors.New("down too"))

	ex := newExecutor(Options{}, a, b)
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyFallback,
		Candidates: []model.SourceDescriptor{a.Capability(), b.Capability()},
	}

	sr := ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if sr.Degraded == "" {
		t.Error("expected degradation when all candidates fail")
	}
}

func TestAggregate_KeepsAllResults(t *testing.T) {
	a := source.NewStatic(desc("a", model.TierFederal)).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-1", "acme", 100)})
	b := source.NewStatic(desc("b", model.TierOpenData)).WithError(errors.New("down"))

	ex := newExecutor(Options{}, a, b)
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyAggregate,
		Candidates: []model.SourceDescriptor{a.Capability(), b.Capability()},
		Timeout:    time.Second,
	}

	sr := ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if len(sr.Results) != 2 {
		t.Fatalf("expected both outcomes kept, got %d", len(sr.Results))
	}
	if sr.Degraded != "partial source coverage" {
		t.Errorf("expected partial coverage flag, got %q", sr.Degraded)
	}
}

func TestAggregate_StageTimeoutMarksUnfinished(t *testing.T) {
	fast := source.NewStatic(desc("fast", model.TierFederal)).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-1", "acme", 100)})
	slow := source.NewStatic(desc("slow", model.TierOpenData)).
		WithLatency(2 * time.Second).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-2", "acme", 200)})

	ex := newExecutor(Options{}, fast, slow)
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyAggregate,
		Candidates: []model.SourceDescriptor{fast.Capability(), slow.Capability()},
		Timeout:    100 * time.Millisecond,
	}

	sr := ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})

	byID := map[string]model.FederatedResult{}
	for _, r := range sr.Results {
		byID[r.SourceID] = r
	}
	if byID["fast"].Status != model.StatusOK {
		t.Errorf("fast source should finish, got %s", byID["fast"].Status)
	}
	if byID["slow"].Status != model.StatusTimeout {
		t.Errorf("slow source should time out, got %s", byID["slow"].Status)
	}
}

func TestFastest_WinnerTakesAll(t *testing.T) {
	mk := func(id string, latency time.Duration) *source.StaticClient {
		return source.NewStatic(desc(id, model.TierOpenData)).
			WithLatency(latency).
			WithRecords(model.DomainContracts, []model.Record{contractRec("CT-"+id, id, 100)})
	}
	fast := mk("fast", 50*time.Millisecond)
	mid := mk("mid", 100*time.Millisecond)
	slow := mk("slow", 200*time.Millisecond)

	ex := newExecutor(Options{}, fast, mid, slow)
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyFastest,
		Candidates: []model.SourceDescriptor{fast.Capability(), mid.Capability(), slow.Capability()},
		Timeout:    5 * time.Second,
	}

	sr := ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if sr.Degraded != "" {
		t.Fatalf("unexpected degradation: %s", sr.Degraded)
	}
	if len(sr.Results) != 1 {
		t.Fatalf("expected exactly one result from the race, got %d", len(sr.Results))
	}
	if sr.Results[0].SourceID != "fast" {
		t.Errorf("expected fast to win, got %s", sr.Results[0].SourceID)
	}
	// No leakage: slower records never reach the caller.
	if got := sr.Results[0].Records[0].StringField(model.FieldContractNumber); got != "CT-fast" {
		t.Errorf("leaked record from slower source: %s", got)
	}
}

func TestFastest_FallsThroughFailures(t *testing.T) {
	bad := source.NewStatic(desc("bad", model.TierFederal)).WithError(errors.New("down"))
	good := source.NewStatic(desc("good", model.TierOpenData)).
		WithLatency(50 * time.Millisecond).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-1", "acme", 100)})

	ex := newExecutor(Options{}, bad, good)
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyFastest,
		Candidates: []model.SourceDescriptor{bad.Capability(), good.Capability()},
		Timeout:    5 * time.Second,
	}

	sr := ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if sr.Degraded != "" {
		t.Fatalf("unexpected degradation: %s", sr.Degraded)
	}
	last := sr.Results[len(sr.Results)-1]
	if last.SourceID != "good" || last.Status != model.StatusOK {
		t.Errorf("expected good to win after bad failed, got %+v", last)
	}
}

func TestCallSource_BreakerShortCircuits(t *testing.T) {
	down := source.NewStatic(desc("down", model.TierOpenData)).WithError(errors.New("boom"))

	breakers := resilience.NewSourceBreakers(resilience.BreakerConfig{
		FailureThreshold: 2,
		CoolDown:         time.Minute,
	})
	ex := New(source.NewClients(down), breakers, Options{})
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyFallback,
		Candidates: []model.SourceDescriptor{down.Capability()},
	}

	// Two failing calls trip the breaker.
	for i := 0; i < 2; i++ {
		ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	}
	callsBefore := down.Calls()

	sr := ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if sr.Results[0].Status != model.StatusCircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN, got %s", sr.Results[0].Status)
	}
	if down.Calls() != callsBefore {
		t.Error("open breaker must not produce a network call")
	}
}

func TestCallSource_CancelledProbeDoesNotWedgeBreaker(t *testing.T) {
	src := source.NewStatic(desc("flaky", model.TierOpenData)).WithError(errors.New("boom"))

	breakers := resilience.NewSourceBreakers(resilience.BreakerConfig{
		FailureThreshold: 1,
		CoolDown:         10 * time.Millisecond,
	})
	ex := New(source.NewClients(src), breakers, Options{})
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyFallback,
		Candidates: []model.SourceDescriptor{src.Capability()},
	}

	// One failure trips the breaker.
	ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})

	// Source recovers, cool-down elapses, and the admitted probe is
	// abandoned by cancellation mid-flight.
	src.WithError(nil).
		WithLatency(100 * time.Millisecond).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-1", "acme", 100)})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	sr := ex.ExecuteStage(ctx, stage, model.IntentFilters{})
	if sr.Results[0].Status != model.StatusError {
		t.Fatalf("expected cancelled probe discarded, got %s", sr.Results[0].Status)
	}

	// The next call must be admitted as a fresh probe and close the
	// breaker, not short-circuit on a phantom in-flight probe.
	src.WithLatency(0)
	sr = ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if sr.Results[0].Status != model.StatusOK {
		t.Fatalf("expected fresh probe to succeed, got %s (%s)", sr.Results[0].Status, sr.Results[0].Err)
	}
	if state := breakers.States()["flaky"]; state != resilience.CircuitClosed {
		t.Errorf("expected breaker closed after successful probe, got %s", state)
	}
}

func TestCallSource_CacheHitSkipsNetwork(t *testing.T) {
	src := source.NewStatic(desc("cached", model.TierFederal)).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-1", "acme", 100)})

	mem := cache.NewMemory(cache.DefaultTTLs())
	collector := monitoring.NewCollector(nil)
	ex := newExecutor(Options{Cache: mem, Collector: collector}, src)
	stage := model.Stage{
		ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyFallback,
		Candidates: []model.SourceDescriptor{src.Capability()},
	}

	// First call fills the cache.
	sr := ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if sr.Results[0].Status != model.StatusOK {
		t.Fatalf("first call failed: %+v", sr.Results[0])
	}
	if src.Calls() != 1 {
		t.Fatalf("expected 1 network call, got %d", src.Calls())
	}

	// Second call is served from cache.
	sr = ex.ExecuteStage(context.Background(), stage, model.IntentFilters{})
	if sr.Results[0].Status != model.StatusOK || len(sr.Results[0].Records) != 1 {
		t.Fatalf("cache hit lost records: %+v", sr.Results[0])
	}
	if src.Calls() != 1 {
		t.Errorf("expected cache to absorb second call, got %d network calls", src.Calls())
	}

	snap := collector.Snapshot()
	if snap.CacheHits != 1 || snap.CacheMisses != 1 {
		t.Errorf("unexpected cache counters: hits=%d misses=%d", snap.CacheHits, snap.CacheMisses)
	}
}

func TestExecutePlan_SequentialStages(t *testing.T) {
	contracts := source.NewStatic(desc("contracts-src", model.TierFederal)).
		WithRecords(model.DomainContracts, []model.Record{contractRec("CT-1", "acme", 100)})
	suppliers := source.NewStatic(model.SourceDescriptor{
		ID: "suppliers-src", Tier: model.TierFederal,
		Capabilities: []model.Domain{model.DomainSuppliers},
	}).WithRecords(model.DomainSuppliers, []model.Record{{
		Domain: model.DomainSuppliers,
		Fields: map[string]any{model.FieldSupplier: "acme", model.FieldRegistration: "123"},
	}})

	ex := newExecutor(Options{}, contracts, suppliers)
	plan := &model.ExecutionPlan{Stages: []model.Stage{
		{ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyAggregate,
			Candidates: []model.SourceDescriptor{contracts.Capability()}, Timeout: time.Second},
		{ID: "s2", Domain: model.DomainSuppliers, Strategy: model.StrategyAggregate,
			Candidates: []model.SourceDescriptor{suppliers.Capability()}, Timeout: time.Second,
			DependsOn: []string{"s1"}},
	}}

	var visited []string
	results, degradations, err := ex.ExecutePlan(context.Background(), plan, model.IntentFilters{},
		func(i, total int, stage model.Stage) {
			visited = append(visited, fmt.Sprintf("%d/%d:%s", i, total, stage.ID))
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if len(degradations) != 0 {
		t.Errorf("unexpected degradations: %+v", degradations)
	}
	want := []string{"0/2:s1", "1/2:s2"}
	if len(visited) != len(want) || visited[0] != want[0] || visited[1] != want[1] {
		t.Errorf("stage callbacks = %v, want %v", visited, want)
	}
}

func TestExecutePlan_CancelledInvestigation(t *testing.T) {
	slow := source.NewStatic(desc("slow", model.TierFederal)).WithLatency(5 * time.Second)

	ex := newExecutor(Options{}, slow)
	plan := &model.ExecutionPlan{Stages: []model.Stage{
		{ID: "s1", Domain: model.DomainContracts, Strategy: model.StrategyAggregate,
			Candidates: []model.SourceDescriptor{slow.Capability()}, Timeout: 30 * time.Second},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, _, _ = ex.ExecutePlan(ctx, plan, model.IntentFilters{}, nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation did not propagate promptly, took %s", elapsed)
	}
}
