package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/edrr/internal/logging"
)

// MockStageExecutor is a mock implementation of StageExecutor.
type MockStageExecutor struct {
	mock.Mock
}

func (m *MockStageExecutor) ExecuteStage(ctx context.Context, stage Stage, cycleCtx Context) (PhaseMetrics, error) {
	args := m.Called(ctx, stage, cycleCtx)
	return args.Get(0).(PhaseMetrics), args.Error(1)
}

// stageTableExecutor returns canned metrics per stage, recording call order.
type stageTableExecutor struct {
	metrics map[Stage]PhaseMetrics
	errs    map[Stage]error
	calls   []Stage
}

func (e *stageTableExecutor) ExecuteStage(_ context.Context, stage Stage, _ Context) (PhaseMetrics, error) {
	e.calls = append(e.calls, stage)
	if err := e.errs[stage]; err != nil {
		return PhaseMetrics{}, err
	}
	return e.metrics[stage], nil
}

func TestNewCoordinator(t *testing.T) {
	t.Run("requires executor", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoExecutor)
	})

	t.Run("rejects invalid defaults", func(t *testing.T) {
		cfg := DefaultThresholdConfig()
		cfg.QualityThreshold = 2
		_, err := New(noopExecutor(), WithThresholds(cfg))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestStartCycleNilContext(t *testing.T) {
	c, err := New(noopExecutor())
	require.NoError(t, err)

	_, err = c.StartCycle(t.Context(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilContext)
}

// A full pass with unmeasured metrics must run all four stages and complete.
func TestFullPassCompletes(t *testing.T) {
	exec := &stageTableExecutor{}
	c, err := New(exec, WithLogger(logging.NewTestLogger().Logger))
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{"task": "demo"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.Reason)
	assert.Equal(t, Stages(), exec.calls)
	assert.Len(t, res.Stages, 4)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 0, res.Depth)

	// Every stage wrote its metrics into the shared context.
	phases, ok := res.Context[ctxKeyPhases].(map[string]any)
	require.True(t, ok)
	for _, stage := range Stages() {
		assert.Contains(t, phases, string(stage))
	}

	// Transition history has a start and end per stage.
	assert.Len(t, res.History, 8)
	assert.Equal(t, "start", res.History[0].Action)
	assert.Equal(t, StageExpand, res.History[0].Stage)
	assert.Equal(t, "end", res.History[7].Action)
	assert.Equal(t, StageRetrospect, res.History[7].Stage)
}

// Recursion to the depth limit: the refused child is reported as
// RecursionLimitReached and its parent falls back to direct execution.
func TestRecursionDepthLimit(t *testing.T) {
	exec := &stageTableExecutor{}

	cfg := DefaultThresholdConfig()
	cfg.MaxRecursionDepth = 1

	factory, err := NewMicroCycleFactory(map[Stage]StageOverride{
		StageExpand: {Spawn: true},
	})
	require.NoError(t, err)

	c, err := New(exec, WithThresholds(cfg), WithMicroCycles(factory))
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{"task": "deep"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	// Depth 0 expand spawned a depth 1 child that completed.
	expand := res.Stages[0]
	require.Equal(t, StageExpand, expand.Stage)
	assert.NotEmpty(t, expand.MicroCycleID)
	assert.Equal(t, StatusCompleted, expand.ChildStatus)

	// The depth 1 child's own spawn attempt was refused at the limit and
	// recorded in the shared context.
	records, ok := res.Context[ctxKeyMicroCycles].([]any)
	require.True(t, ok)
	refused := 0
	for _, rec := range records {
		entry := rec.(map[string]any)
		if entry["status"] == string(StatusRecursionLimitReached) {
			refused++
			assert.Equal(t, 2, entry["depth"])
		}
	}
	assert.Equal(t, 1, refused)
}

// A refused cycle returns immediately with the untouched context.
func TestStartChildCycleRefusedAtLimit(t *testing.T) {
	exec := &stageTableExecutor{}
	c, err := New(exec)
	require.NoError(t, err)

	initial := Context{"task": "too deep"}
	res, err := c.StartChildCycle(t.Context(), initial, ParentInfo{
		CycleID:           "parent-1",
		Depth:             3,
		EffectiveMaxDepth: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRecursionLimitReached, res.Status)
	assert.Equal(t, ReasonMaxDepth, res.Reason)
	assert.Equal(t, 4, res.Depth)
	assert.Equal(t, "parent-1", res.ParentID)
	assert.Empty(t, res.Stages)
	assert.Empty(t, exec.calls, "no stage may run in a refused cycle")
	assert.NotContains(t, res.Context, ctxKeyPhases)
}

// Quality threshold met mid-cycle stops the remaining stages.
func TestQualityThresholdTerminatesEarly(t *testing.T) {
	exec := &stageTableExecutor{
		metrics: map[Stage]PhaseMetrics{
			StageExpand:        {QualityScore: 0.5},
			StageDifferentiate: {QualityScore: 0.95},
		},
	}
	c, err := New(exec)
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)

	assert.Equal(t, StatusEarlyTermination, res.Status)
	assert.Equal(t, ReasonQualityMet, res.Reason)
	assert.Equal(t, []Stage{StageExpand, StageDifferentiate}, exec.calls)
	assert.Len(t, res.Stages, 2)
	assert.True(t, res.Stages[1].Terminated)
	assert.Equal(t, 0.95, res.Metrics.QualityScore)
}

// A stage failure is absorbed: the error lands in the context and the cycle
// ends as EarlyTermination, never as a Go error.
func TestStageFailureAbsorbed(t *testing.T) {
	exec := &stageTableExecutor{
		errs: map[Stage]error{
			StageDifferentiate: errors.New("model backend unreachable"),
		},
	}
	c, err := New(exec)
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{"task": "fragile"})
	require.NoError(t, err, "phase failures must not surface as errors")

	assert.Equal(t, StatusEarlyTermination, res.Status)
	assert.Equal(t, ReasonPhaseFailure, res.Reason)
	assert.Equal(t, []Stage{StageExpand, StageDifferentiate}, exec.calls)

	errVal, ok := res.Context[ctxKeyError].(string)
	require.True(t, ok)
	assert.Contains(t, errVal, "model backend unreachable")
}

// A panicking stage degrades to a phase failure instead of unwinding.
func TestStagePanicAbsorbed(t *testing.T) {
	exec := StageExecutorFunc(func(_ context.Context, stage Stage, _ Context) (PhaseMetrics, error) {
		if stage == StageRefine {
			panic("nil dereference in stage impl")
		}
		return PhaseMetrics{}, nil
	})
	c, err := New(exec)
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)

	assert.Equal(t, StatusEarlyTermination, res.Status)
	assert.Equal(t, ReasonPhaseFailure, res.Reason)
	assert.Contains(t, res.Context[ctxKeyError], "panicked")
}

// A recovery hook can rescue a failed stage so the cycle continues.
func TestRecoveryHookRescuesFailure(t *testing.T) {
	exec := &stageTableExecutor{
		errs: map[Stage]error{
			StageExpand: errors.New("transient failure"),
		},
	}
	c, err := New(exec)
	require.NoError(t, err)

	c.RegisterRecoveryHook(StageExpand, func(m PhaseMetrics) (HookResult, error) {
		return HookResult{
			Metrics:   &PhaseMetrics{QualityScore: 0.4},
			Recovered: true,
		}, nil
	})

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Len(t, res.Stages, 4)
	assert.Equal(t, 0.4, res.Stages[0].Metrics.QualityScore)
	// The absorbed error stays in context for the trace.
	assert.Contains(t, res.Context[ctxKeyError], "transient failure")
}

// A recovery hook can also force termination by setting the human override.
func TestRecoveryHookForcesTermination(t *testing.T) {
	exec := &stageTableExecutor{}
	c, err := New(exec)
	require.NoError(t, err)

	c.RegisterRecoveryHook(StageDifferentiate, func(m PhaseMetrics) (HookResult, error) {
		m.HumanTerminate = true
		return HookResult{Metrics: &m, Recovered: true}, nil
	})

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)

	assert.Equal(t, StatusEarlyTermination, res.Status)
	assert.Equal(t, ReasonHumanOverride, res.Reason)
	assert.Equal(t, []Stage{StageExpand, StageDifferentiate}, exec.calls)
}

// A hook that neither recovers nor mutates leaves the pre-decision standing.
func TestNonRecoveringHookKeepsDecision(t *testing.T) {
	exec := &stageTableExecutor{
		errs: map[Stage]error{StageExpand: errors.New("broken")},
	}
	c, err := New(exec)
	require.NoError(t, err)

	called := false
	c.RegisterRecoveryHook(StageExpand, func(m PhaseMetrics) (HookResult, error) {
		called = true
		return HookResult{}, nil
	})

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)

	assert.True(t, called)
	assert.Equal(t, StatusEarlyTermination, res.Status)
	assert.Equal(t, ReasonPhaseFailure, res.Reason)
}

func TestPerStageThresholdOverride(t *testing.T) {
	exec := &stageTableExecutor{
		metrics: map[Stage]PhaseMetrics{
			StageExpand: {QualityScore: 0.8},
		},
	}
	c, err := New(exec)
	require.NoError(t, err)

	// Defaults would let 0.8 pass; the override lowers the bar for Expand.
	override := DefaultThresholdConfig()
	override.QualityThreshold = 0.75
	require.NoError(t, c.ConfigureStageThresholds(StageExpand, override))

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)

	assert.Equal(t, StatusEarlyTermination, res.Status)
	assert.Equal(t, ReasonQualityMet, res.Reason)
	assert.Equal(t, []Stage{StageExpand}, exec.calls)

	// StageThresholds reflects the override for Expand and defaults elsewhere.
	assert.Equal(t, 0.75, c.StageThresholds(StageExpand).QualityThreshold)
	assert.Equal(t, DefaultQualityThreshold, c.StageThresholds(StageRefine).QualityThreshold)
}

func TestCanceledContext(t *testing.T) {
	exec := &stageTableExecutor{}
	c, err := New(exec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.StartCycle(ctx, Context{})
	require.NoError(t, err)

	assert.Equal(t, StatusEarlyTermination, res.Status)
	assert.Equal(t, ReasonCanceled, res.Reason)
	assert.Empty(t, exec.calls)
	assert.Contains(t, res.Context, ctxKeyError)
}

func TestCycleIDFromContext(t *testing.T) {
	c, err := New(noopExecutor())
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{ctxKeyCycleID: "resume-me"})
	require.NoError(t, err)
	assert.Equal(t, "resume-me", res.ID)
}

func TestMicroCycleMetricsFeedParent(t *testing.T) {
	// The child's Retrospect metrics become the spawning stage's metrics.
	exec := &stageTableExecutor{
		metrics: map[Stage]PhaseMetrics{
			StageRetrospect: {QualityScore: 0.6},
		},
	}

	factory, err := NewMicroCycleFactory(map[Stage]StageOverride{
		StageRefine: {Spawn: true},
	})
	require.NoError(t, err)

	c, err := New(exec, WithMicroCycles(factory))
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)

	refine := res.Stages[2]
	require.Equal(t, StageRefine, refine.Stage)
	assert.NotEmpty(t, refine.MicroCycleID)
	assert.Equal(t, 0.6, refine.Metrics.QualityScore)
}

func TestReportEnvelope(t *testing.T) {
	exec := &stageTableExecutor{
		metrics: map[Stage]PhaseMetrics{
			StageExpand: {QualityScore: 0.95},
		},
	}
	c, err := New(exec)
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)

	report := res.Report
	require.NotNil(t, report)
	assert.Equal(t, res.ID, report.CycleID)
	assert.Equal(t, StatusEarlyTermination, report.Status)
	assert.Equal(t, ReasonQualityMet, report.Reason)
	require.Contains(t, report.Stages, StageExpand)
	assert.Equal(t, 0.95, report.Stages[StageExpand].QualityScore)
	assert.True(t, report.Stages[StageExpand].Terminated)
	assert.Nil(t, report.Recursion)
}

func TestMockExecutorWiring(t *testing.T) {
	exec := &MockStageExecutor{}
	exec.On("ExecuteStage", mock.Anything, StageExpand, mock.Anything).
		Return(PhaseMetrics{QualityScore: 0.91}, nil).Once()

	c, err := New(exec)
	require.NoError(t, err)

	res, err := c.StartCycle(t.Context(), Context{})
	require.NoError(t, err)

	assert.Equal(t, StatusEarlyTermination, res.Status)
	assert.Equal(t, ReasonQualityMet, res.Reason)
	exec.AssertExpectations(t)
}
