// Package investigation owns the lifecycle of an investigation: the
// pending→running→terminal state machine, the sequential pipeline from plan
// to findings, and the API the chat/UI collaborator consumes.
package investigation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/fedprobe/internal/aggregate"
	"github.com/sells-group/fedprobe/internal/anomaly"
	"github.com/sells-group/fedprobe/internal/federation"
	"github.com/sells-group/fedprobe/internal/ferr"
	"github.com/sells-group/fedprobe/internal/fraud"
	"github.com/sells-group/fedprobe/internal/graph"
	"github.com/sells-group/fedprobe/internal/model"
	"github.com/sells-group/fedprobe/internal/monitoring"
	"github.com/sells-group/fedprobe/internal/planner"
)

// Status is the progress view returned to pollers.
type Status struct {
	State        model.InvestigationStatus `json:"state"`
	Progress     float64                   `json:"progress"` // 0..1
	CurrentStage string                    `json:"current_stage,omitempty"`
}

// Manager runs investigations and tracks their state. Exactly one active
// execution per id; results stay available after completion for later
// Status and Results lookups.
type Manager struct {
	planner   *planner.Planner
	executor  *federation.Executor
	anomaly   *anomaly.Engine
	fraud     *fraud.Engine
	collector *monitoring.Collector

	overallTimeout time.Duration

	mu      sync.RWMutex
	runs    map[string]*run
	nowFunc func() time.Time
}

type run struct {
	investigation *model.Investigation
	cancel        context.CancelFunc
	progress      float64
	currentStage  string
	done          chan struct{}
}

// Options tunes the manager.
type Options struct {
	// OverallTimeout bounds one investigation end to end. Default 5m.
	OverallTimeout time.Duration
	// Collector, when non-nil, receives investigation state counters.
	Collector *monitoring.Collector
}

// NewManager wires the pipeline stages together.
func NewManager(p *planner.Planner, ex *federation.Executor, an *anomaly.Engine, fr *fraud.Engine, opts Options) *Manager {
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 5 * time.Minute
	}
	return &Manager{
		planner:        p,
		executor:       ex,
		anomaly:        an,
		fraud:          fr,
		collector:      opts.Collector,
		overallTimeout: opts.OverallTimeout,
		runs:           make(map[string]*run),
		nowFunc:        time.Now,
	}
}

// Start launches an investigation asynchronously and returns its id.
func (m *Manager) Start(ctx context.Context, intent model.Intent) (string, error) {
	id := uuid.NewString()
	if err := m.begin(ctx, id, intent); err != nil {
		return "", err
	}
	return id, nil
}

// StartWithID launches an investigation under a caller-chosen id. Returns
// ErrAlreadyRunning when that id already has an active execution.
func (m *Manager) StartWithID(ctx context.Context, id string, intent model.Intent) error {
	return m.begin(ctx, id, intent)
}

// Run executes an investigation synchronously and returns the final result.
func (m *Manager) Run(ctx context.Context, intent model.Intent) (*model.Investigation, error) {
	id, err := m.Start(ctx, intent)
	if err != nil {
		return nil, err
	}
	m.Wait(id)
	return m.Results(id)
}

func (m *Manager) begin(ctx context.Context, id string, intent model.Intent) error {
	m.mu.Lock()
	if existing, ok := m.runs[id]; ok && !existing.investigation.Status.Terminal() {
		m.mu.Unlock()
		return ferr.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.overallTimeout)
	r := &run{
		investigation: &model.Investigation{
			ID:        id,
			Intent:    intent,
			Status:    model.InvestigationPending,
			CreatedAt: m.nowFunc(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.runs[id] = r
	m.mu.Unlock()

	m.recordState(model.InvestigationPending)
	go m.execute(runCtx, r)
	return nil
}

// Status returns the state, progress, and current stage of an investigation.
func (m *Manager) Status(id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return Status{}, ferr.ErrInvestigationNotFound
	}
	return Status{
		State:        r.investigation.Status,
		Progress:     r.progress,
		CurrentStage: r.currentStage,
	}, nil
}

// Results returns a snapshot of the investigation, terminal or not.
func (m *Manager) Results(id string) (*model.Investigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ferr.ErrInvestigationNotFound
	}
	snapshot := *r.investigation
	return &snapshot, nil
}

// Cancel signals a running investigation to abandon in-flight calls. The
// transition to cancelled happens when the pipeline observes the signal;
// cancelling an already-terminal investigation is a no-op ack.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return ferr.ErrInvestigationNotFound
	}
	r.cancel()
	return nil
}

// Wait blocks until the investigation reaches a terminal state.
func (m *Manager) Wait(id string) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if ok {
		<-r.done
	}
}

// execute drives the sequential pipeline. Each phase depends on the output
// of the one before it; only planning errors are fatal.
func (m *Manager) execute(ctx context.Context, r *run) {
	defer r.cancel()
	defer close(r.done)

	log := zap.L().With(zap.String("investigation", r.investigation.ID))
	m.transition(r, model.InvestigationRunning, 0.05, "planning")
	log.Info("investigation started", zap.String("intent", string(r.investigation.Intent.Type)))

	plan, err := m.planner.Build(r.investigation.Intent)
	if err != nil {
		m.fail(r, err)
		log.Error("investigation failed in planning", zap.Error(err))
		return
	}
	m.mu.Lock()
	r.investigation.Plan = plan
	m.mu.Unlock()

	results, degradations, cancelled := m.runStages(ctx, r, plan)
	if cancelled {
		m.transition(r, model.InvestigationCancelled, 1, "")
		log.Info("investigation cancelled")
		return
	}

	m.transition(r, model.InvestigationRunning, 0.75, "aggregating")
	records := aggregate.Aggregate(results)

	m.transition(r, model.InvestigationRunning, 0.80, "building entity graph")
	g := graph.Build(records)
	g.ComputeCentrality()

	m.transition(r, model.InvestigationRunning, 0.90, "anomaly detection")
	findings, skipped := m.anomaly.Detect(records)
	for _, f := range findings {
		attributeFinding(g, records, f)
	}

	m.transition(r, model.InvestigationRunning, 0.95, "fraud detection")
	networks := m.fraud.Detect(g, records)

	now := m.nowFunc()
	m.mu.Lock()
	inv := r.investigation
	inv.Records = records
	inv.Findings = findings
	inv.Networks = networks
	inv.Degradations = degradations
	inv.SkippedChecks = skipped
	inv.ConfidenceScore = confidence(results, records, degradations, skipped)
	inv.Summary = summarize(inv)
	inv.CompletedAt = &now
	m.mu.Unlock()

	m.transition(r, model.InvestigationCompleted, 1, "")
	log.Info("investigation completed",
		zap.Int("records", len(records)),
		zap.Int("findings", len(findings)),
		zap.Int("networks", len(networks)),
		zap.Float64("confidence", inv.ConfidenceScore))
}

// runStages drives the executor's plan loop, mapping each stage start to a
// progress transition. An expired overall timeout abandons remaining stages
// as PartialFailure; caller cancellation aborts the investigation.
func (m *Manager) runStages(ctx context.Context, r *run, plan *model.ExecutionPlan) ([]model.FederatedResult, []model.StageDegradation, bool) {
	next := 0
	results, degradations, err := m.executor.ExecutePlan(ctx, plan, r.investigation.Intent.Filters,
		func(i, total int, stage model.Stage) {
			next = i + 1
			frac := 0.05 + 0.65*float64(i)/float64(total)
			m.transition(r, model.InvestigationRunning, frac, stage.ID)
		})
	if err != nil {
		if context.Cause(ctx) == context.Canceled {
			return results, degradations, true
		}
		// Overall timeout: abandon what is left, keep what we have.
		for _, left := range plan.Stages[next:] {
			pf := &ferr.PartialFailure{StageID: left.ID, Domain: left.Domain, Reason: "abandoned: investigation timeout"}
			degradations = append(degradations, model.StageDegradation{
				StageID: left.ID,
				Domain:  left.Domain,
				Reason:  pf.Reason,
			})
		}
		return results, degradations, false
	}
	if err := ctx.Err(); err != nil && context.Cause(ctx) == context.Canceled {
		return results, degradations, true
	}
	return results, degradations, false
}

func (m *Manager) transition(r *run, status model.InvestigationStatus, progress float64, stage string) {
	m.mu.Lock()
	prev := r.investigation.Status
	r.investigation.Status = status
	r.progress = progress
	r.currentStage = stage
	m.mu.Unlock()

	if prev != status {
		m.recordState(status)
	}
}

func (m *Manager) fail(r *run, err error) {
	now := m.nowFunc()
	m.mu.Lock()
	r.investigation.Status = model.InvestigationFailed
	r.investigation.Error = err.Error()
	r.investigation.CompletedAt = &now
	r.progress = 1
	r.currentStage = ""
	m.mu.Unlock()
	m.recordState(model.InvestigationFailed)
}

func (m *Manager) recordState(status model.InvestigationStatus) {
	if m.collector != nil {
		m.collector.RecordInvestigation(status)
	}
}

// attributeFinding records anomaly hits against the graph nodes of the
// entities named by a finding's affected records.
func attributeFinding(g *graph.Graph, records []model.AggregatedRecord, f model.AnomalyFinding) {
	byKey := make(map[string]model.AggregatedRecord, len(records))
	for _, r := range records {
		byKey[r.IdentityKey] = r
	}
	for _, key := range f.AffectedRecords {
		rec, ok := byKey[key]
		if !ok {
			continue
		}
		if sup := rec.StringField(model.FieldSupplier); sup != "" {
			g.RecordAnomalyHit(graph.NodeID(graph.NodeSupplier, aggregate.Normalize(sup)))
		}
		if org := rec.StringField(model.FieldOrg); org != "" {
			g.RecordAnomalyHit(graph.NodeID(graph.NodeOrganization, aggregate.Normalize(org)))
		}
	}
}
