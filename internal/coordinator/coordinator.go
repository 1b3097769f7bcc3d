package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/edrr/internal/logging"
)

// Context keys written by the coordinator into the shared cycle context.
const (
	ctxKeyCycleID     = "cycle_id"
	ctxKeyError       = "error"
	ctxKeyPhases      = "phases"
	ctxKeyMicroCycles = "micro_cycles"
)

// CycleCoordinator drives the Expand → Differentiate → Refine → Retrospect
// state machine. A coordinator is reusable and safe for concurrent
// StartCycle invocations: all per-cycle state lives in the call, not on the
// struct. Threshold configuration is the one shared mutable surface and is
// guarded by the hook registry's lock.
type CycleCoordinator struct {
	executor    StageExecutor
	policy      TerminationPolicy
	hooks       *RecoveryHookRegistry
	factory     *MicroCycleFactory
	store       ContextStore
	logger      *logging.Logger
	tracer      trace.Tracer
	instruments *Instruments
	defaults    ThresholdConfig
	clock       func() time.Time
}

// Option configures a CycleCoordinator.
type Option func(*CycleCoordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *CycleCoordinator) { c.logger = logger }
}

// WithPolicy replaces the default DelimitingPolicy.
func WithPolicy(policy TerminationPolicy) Option {
	return func(c *CycleCoordinator) { c.policy = policy }
}

// WithThresholds sets the default threshold config for all stages.
func WithThresholds(cfg ThresholdConfig) Option {
	return func(c *CycleCoordinator) { c.defaults = cfg }
}

// WithMicroCycles enables nested micro-cycle spawning through the factory.
func WithMicroCycles(factory *MicroCycleFactory) Option {
	return func(c *CycleCoordinator) { c.factory = factory }
}

// WithContextStore persists cycle context at cycle start and end.
func WithContextStore(store ContextStore) Option {
	return func(c *CycleCoordinator) { c.store = store }
}

// WithInstruments attaches coordinator telemetry instruments.
func WithInstruments(instruments *Instruments) Option {
	return func(c *CycleCoordinator) { c.instruments = instruments }
}

// WithTracer replaces the default (global provider) tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *CycleCoordinator) { c.tracer = tracer }
}

// New creates a coordinator around the given stage executor.
func New(executor StageExecutor, opts ...Option) (*CycleCoordinator, error) {
	if executor == nil {
		return nil, ErrNoExecutor
	}
	c := &CycleCoordinator{
		executor: executor,
		policy:   NewDelimitingPolicy(),
		defaults: DefaultThresholdConfig(),
		tracer:   otel.Tracer("edrr/coordinator"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	if c.hooks == nil {
		c.hooks = NewRecoveryHookRegistry(c.logger)
	}
	if err := c.defaults.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// RegisterRecoveryHook registers a recovery hook for the stage. Hooks run in
// registration order when a stage's transition decision needs review.
func (c *CycleCoordinator) RegisterRecoveryHook(stage Stage, hook RecoveryHook) {
	c.hooks.Register(stage, hook)
}

// ConfigureStageThresholds installs a per-stage threshold override. The
// config is validated and rejected synchronously on error.
func (c *CycleCoordinator) ConfigureStageThresholds(stage Stage, cfg ThresholdConfig) error {
	return c.hooks.ConfigureStageThresholds(stage, cfg)
}

// StageThresholds returns the effective threshold config for the stage:
// the per-stage override if one was configured, else the defaults.
func (c *CycleCoordinator) StageThresholds(stage Stage) ThresholdConfig {
	if cfg, ok := c.hooks.StageThresholds(stage); ok {
		return cfg
	}
	return c.defaults.Clone()
}

// StartCycle runs a full macro-cycle (depth 0) over the given context and
// returns the result envelope. The context must not be nil; that is the only
// condition surfaced as a Go error once per-cycle input is accepted.
func (c *CycleCoordinator) StartCycle(ctx context.Context, initial Context) (*CycleResult, error) {
	return c.run(ctx, initial, nil)
}

// StartChildCycle runs a nested micro-cycle below the given parent. If the
// resulting depth exceeds the parent's effective budget the cycle is refused
// with StatusRecursionLimitReached and the untouched context; no stage runs.
func (c *CycleCoordinator) StartChildCycle(ctx context.Context, initial Context, parent ParentInfo) (*CycleResult, error) {
	return c.run(ctx, initial, &parent)
}

// cycleState is the per-invocation state of one running cycle.
type cycleState struct {
	id       string
	parentID string
	depth    int
	cycleCtx Context
	stages   []StageResult
	history  []TransitionRecord
}

func (st *cycleState) record(stage Stage, action string, d time.Duration, at time.Time) {
	st.history = append(st.history, TransitionRecord{
		Timestamp: at,
		Stage:     stage,
		Action:    action,
		Duration:  d,
	})
}

func (c *CycleCoordinator) run(ctx context.Context, initial Context, parent *ParentInfo) (*CycleResult, error) {
	if initial == nil {
		return nil, ErrNilContext
	}

	depth := 0
	parentID := ""
	if parent != nil {
		depth = parent.Depth + 1
		parentID = parent.CycleID
		if depth > parent.EffectiveMaxDepth {
			c.instruments.RecordRecursionLimit(ctx)
			c.logger.Debug(ctx, "micro-cycle refused: recursion budget exhausted",
				zap.Int("depth", depth),
				zap.Int("max_depth", parent.EffectiveMaxDepth),
				zap.String("parent_cycle_id", parentID))
			return &CycleResult{
				ID:       uuid.NewString(),
				ParentID: parentID,
				Depth:    depth,
				Status:   StatusRecursionLimitReached,
				Reason:   ReasonMaxDepth,
				Context:  initial,
			}, nil
		}
	}

	st := &cycleState{
		id:       uuid.NewString(),
		parentID: parentID,
		depth:    depth,
		cycleCtx: initial,
	}
	if parent == nil {
		// A caller-supplied id resumes a persisted macro-cycle. Children
		// share the parent's context map, so they never adopt the id found
		// there; each micro-cycle gets its own.
		if v, ok := initial[ctxKeyCycleID].(string); ok && v != "" {
			st.id = v
		}
		st.cycleCtx[ctxKeyCycleID] = st.id
	}

	ctx = logging.WithCycle(ctx, st.id, depth)
	c.instruments.RecordCycleStart(ctx, depth)
	c.logger.Info(ctx, "cycle started", zap.String("parent_cycle_id", parentID))

	c.restoreContext(ctx, st)

	status := StatusCompleted
	reason := ""
	for _, stage := range Stages() {
		if err := ctx.Err(); err != nil {
			st.cycleCtx[ctxKeyError] = err.Error()
			status = StatusEarlyTermination
			reason = ReasonCanceled
			break
		}
		sr := c.executeStage(ctx, st, stage)
		st.stages = append(st.stages, sr)
		if sr.Terminated {
			status = StatusEarlyTermination
			reason = sr.Reason
			break
		}
	}

	if c.store != nil {
		if err := c.store.SaveContext(ctx, st.id, st.cycleCtx); err != nil {
			c.logger.Warn(ctx, "failed to persist cycle context", zap.Error(err))
		}
	}
	c.instruments.RecordCycleEnd(ctx, string(status))
	c.logger.Info(ctx, "cycle finished",
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("stages_run", len(st.stages)))

	result := &CycleResult{
		ID:       st.id,
		ParentID: parentID,
		Depth:    depth,
		Status:   status,
		Reason:   reason,
		Context:  st.cycleCtx,
		Stages:   st.stages,
		History:  st.history,
	}
	if n := len(st.stages); n > 0 {
		result.Metrics = st.stages[n-1].Metrics
	}
	result.Report = buildReport(result)
	return result, nil
}

// restoreContext merges a previously persisted context for this cycle id
// under the live one. Store failures degrade to a warning; persistence is a
// collaborator concern, not a cycle-fatal one.
func (c *CycleCoordinator) restoreContext(ctx context.Context, st *cycleState) {
	if c.store == nil {
		return
	}
	saved, err := c.store.LoadContext(ctx, st.id)
	if err != nil {
		if !errors.Is(err, ErrContextNotFound) {
			c.logger.Warn(ctx, "failed to restore cycle context", zap.Error(err))
		}
		return
	}
	for k, v := range saved {
		if _, exists := st.cycleCtx[k]; !exists {
			st.cycleCtx[k] = v
		}
	}
}

// executeStage runs one stage: micro-cycle or direct execution, metric
// merge, recovery hook dispatch, and the transition decision.
func (c *CycleCoordinator) executeStage(ctx context.Context, st *cycleState, stage Stage) StageResult {
	cfg := c.StageThresholds(stage)
	started := c.clock()
	st.record(stage, "start", 0, started)

	ctx, span := c.tracer.Start(ctx, "coordinator.execute_stage",
		trace.WithAttributes(
			attribute.String("edrr.stage", string(stage)),
			attribute.Int("edrr.depth", st.depth),
		))
	defer span.End()

	res := StageResult{Stage: stage, StartedAt: started}

	var m PhaseMetrics
	var execErr error

	if c.factory != nil && c.factory.Spawns(stage) {
		m, execErr = c.runMicroCycle(ctx, st, stage, cfg, &res)
	} else {
		m, execErr = c.computeDirect(ctx, stage, st.cycleCtx)
	}

	var pre Decision
	if execErr != nil {
		st.cycleCtx[ctxKeyError] = execErr.Error()
		m = PhaseMetrics{}
		pre = Decision{Terminate: true, Reason: ReasonPhaseFailure}
		c.logger.Error(ctx, "stage execution failed",
			zap.String("stage", string(stage)),
			zap.Error(execErr))
	} else {
		pre = c.policy.ShouldTerminate(m, cfg)
	}

	final := pre
	if mutated, recovered := c.hooks.Dispatch(ctx, stage, m); recovered {
		m = mutated
		final = c.policy.ShouldTerminate(m, cfg)
		c.instruments.RecordHookRecovery(ctx, string(stage))
		if execErr != nil {
			// A hook supplied a fallback outcome; the failure no longer
			// forces termination. The error stays in context for the trace.
			execErr = nil
		}
	}
	if execErr != nil {
		final = Decision{Terminate: true, Reason: ReasonPhaseFailure}
	}

	mergeStageMetrics(st.cycleCtx, stage, m)

	completed := c.clock()
	res.Metrics = m
	res.Terminated = final.Terminate
	res.Reason = final.Reason
	res.CompletedAt = completed
	res.Duration = completed.Sub(started)
	st.record(stage, "end", res.Duration, completed)
	c.instruments.RecordStageDuration(ctx, string(stage), res.Duration)

	if final.Terminate {
		c.logger.Info(ctx, "stage requested termination",
			zap.String("stage", string(stage)),
			zap.String("reason", final.Reason))
	}
	return res
}

// runMicroCycle builds and runs a nested cycle for the stage. A child that
// was refused for depth falls back to direct execution; any other child
// outcome supplies the stage's metrics. Child failures arrive as
// EarlyTermination results, never as errors.
func (c *CycleCoordinator) runMicroCycle(ctx context.Context, st *cycleState, stage Stage, cfg ThresholdConfig, res *StageResult) (PhaseMetrics, error) {
	child, err := c.factory.Create(stage, c)
	if err != nil {
		return PhaseMetrics{}, fmt.Errorf("%w: building micro-cycle for %s: %v", ErrPhaseExecution, stage, err)
	}

	childRes, err := child.StartChildCycle(ctx, st.cycleCtx, ParentInfo{
		CycleID:           st.id,
		Depth:             st.depth,
		EffectiveMaxDepth: cfg.MaxRecursionDepth,
	})
	if err != nil {
		return PhaseMetrics{}, fmt.Errorf("%w: micro-cycle for %s: %v", ErrPhaseExecution, stage, err)
	}

	res.MicroCycleID = childRes.ID
	res.ChildStatus = childRes.Status
	appendMicroCycleRecord(st.cycleCtx, stage, childRes)

	if childRes.Status == StatusRecursionLimitReached {
		// Budget exhausted below this stage; do the work directly.
		return c.computeDirect(ctx, stage, st.cycleCtx)
	}
	return childRes.Metrics, nil
}

// computeDirect runs the stage's own work through the executor with panic
// containment, so a buggy stage implementation degrades to a phase failure
// instead of unwinding through ancestor cycles.
func (c *CycleCoordinator) computeDirect(ctx context.Context, stage Stage, cycleCtx Context) (m PhaseMetrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: stage %s panicked: %v", ErrPhaseExecution, stage, r)
		}
	}()
	m, err = c.executor.ExecuteStage(ctx, stage, cycleCtx)
	if err != nil {
		return PhaseMetrics{}, fmt.Errorf("%w: stage %s: %v", ErrPhaseExecution, stage, err)
	}
	return m, nil
}

// mergeStageMetrics records the stage's final metrics into the shared cycle
// context under "phases".
func mergeStageMetrics(cycleCtx Context, stage Stage, m PhaseMetrics) {
	phases, ok := cycleCtx[ctxKeyPhases].(map[string]any)
	if !ok {
		phases = make(map[string]any)
		cycleCtx[ctxKeyPhases] = phases
	}
	entry := map[string]any{
		keyQualityScore:     m.QualityScore,
		keyCostScore:        m.CostScore,
		keyBenefitScore:     m.BenefitScore,
		keyGranularityScore: m.GranularityScore,
		keyResourceUsage:    m.ResourceUsage,
		keyHumanTerminate:   m.HumanTerminate,
	}
	for k, v := range m.Custom {
		entry[k] = v
	}
	phases[string(stage)] = entry
}

// appendMicroCycleRecord records a spawned child cycle into the shared
// context under "micro_cycles".
func appendMicroCycleRecord(cycleCtx Context, stage Stage, childRes *CycleResult) {
	records, _ := cycleCtx[ctxKeyMicroCycles].([]any)
	records = append(records, map[string]any{
		"cycle_id": childRes.ID,
		"stage":    string(stage),
		"depth":    childRes.Depth,
		"status":   string(childRes.Status),
	})
	cycleCtx[ctxKeyMicroCycles] = records
}
