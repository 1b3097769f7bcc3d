package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAgentRegistry is a mock implementation of AgentRegistry.
type MockAgentRegistry struct {
	mock.Mock
}

func (m *MockAgentRegistry) AgentsFor(ctx context.Context, stage Stage, hints []string) ([]AgentHandle, error) {
	args := m.Called(ctx, stage, hints)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]AgentHandle), args.Error(1)
}

// MockWorkflowEngine is a mock implementation of WorkflowEngine.
type MockWorkflowEngine struct {
	mock.Mock
}

func (m *MockWorkflowEngine) RunTask(ctx context.Context, spec TaskSpec) (map[string]any, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

func TestNewAgentExecutor(t *testing.T) {
	registry := &MockAgentRegistry{}
	invoke := func(context.Context, AgentHandle, Context) (PhaseMetrics, error) {
		return PhaseMetrics{}, nil
	}

	_, err := NewAgentExecutor(nil, invoke, nil)
	require.Error(t, err)

	_, err = NewAgentExecutor(registry, nil, nil)
	require.Error(t, err)

	exec, err := NewAgentExecutor(registry, invoke, []string{"code"})
	require.NoError(t, err)
	require.NotNil(t, exec)
}

func TestAgentExecutorAggregates(t *testing.T) {
	registry := &MockAgentRegistry{}
	registry.On("AgentsFor", mock.Anything, StageExpand, []string{"code"}).
		Return([]AgentHandle{{Name: "critic"}, {Name: "builder"}}, nil)

	perAgent := map[string]PhaseMetrics{
		"critic":  {QualityScore: 0.4, CostScore: 0.2, HumanTerminate: true, Custom: map[string]float64{"idea_diversity": 0.8}},
		"builder": {QualityScore: 0.8, CostScore: 0.4, Custom: map[string]float64{"idea_diversity": 0.4}},
	}
	invoke := func(_ context.Context, agent AgentHandle, _ Context) (PhaseMetrics, error) {
		return perAgent[agent.Name], nil
	}

	exec, err := NewAgentExecutor(registry, invoke, []string{"code"})
	require.NoError(t, err)

	m, err := exec.ExecuteStage(t.Context(), StageExpand, Context{})
	require.NoError(t, err)

	assert.InDelta(t, 0.6, m.QualityScore, 1e-9)
	assert.InDelta(t, 0.3, m.CostScore, 1e-9)
	assert.True(t, m.HumanTerminate, "any agent's override is honored")
	assert.InDelta(t, 0.6, m.Custom["idea_diversity"], 1e-9)
	registry.AssertExpectations(t)
}

func TestAgentExecutorErrors(t *testing.T) {
	t.Run("no agents available", func(t *testing.T) {
		registry := &MockAgentRegistry{}
		registry.On("AgentsFor", mock.Anything, StageRefine, mock.Anything).
			Return([]AgentHandle{}, nil)

		exec, err := NewAgentExecutor(registry, func(context.Context, AgentHandle, Context) (PhaseMetrics, error) {
			return PhaseMetrics{}, nil
		}, nil)
		require.NoError(t, err)

		_, err = exec.ExecuteStage(t.Context(), StageRefine, Context{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no agents")
	})

	t.Run("registry failure propagates", func(t *testing.T) {
		registry := &MockAgentRegistry{}
		registry.On("AgentsFor", mock.Anything, StageRefine, mock.Anything).
			Return(nil, errors.New("registry down"))

		exec, err := NewAgentExecutor(registry, func(context.Context, AgentHandle, Context) (PhaseMetrics, error) {
			return PhaseMetrics{}, nil
		}, nil)
		require.NoError(t, err)

		_, err = exec.ExecuteStage(t.Context(), StageRefine, Context{})
		require.Error(t, err)
	})

	t.Run("agent failure propagates", func(t *testing.T) {
		registry := &MockAgentRegistry{}
		registry.On("AgentsFor", mock.Anything, StageRefine, mock.Anything).
			Return([]AgentHandle{{Name: "flaky"}}, nil)

		exec, err := NewAgentExecutor(registry, func(context.Context, AgentHandle, Context) (PhaseMetrics, error) {
			return PhaseMetrics{}, errors.New("agent crashed")
		}, nil)
		require.NoError(t, err)

		_, err = exec.ExecuteStage(t.Context(), StageRefine, Context{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "flaky")
	})
}

func TestWorkflowExecutor(t *testing.T) {
	t.Run("requires engine", func(t *testing.T) {
		_, err := NewWorkflowExecutor(nil)
		require.Error(t, err)
	})

	t.Run("derives metrics from payload", func(t *testing.T) {
		engine := &MockWorkflowEngine{}
		engine.On("RunTask", mock.Anything, mock.MatchedBy(func(spec TaskSpec) bool {
			return spec.Stage == StageDifferentiate && spec.CycleID == "cycle-7"
		})).Return(map[string]any{
			"quality_score": 0.95,
			"cost_score":    0.2,
		}, nil)

		exec, err := NewWorkflowExecutor(engine)
		require.NoError(t, err)

		m, err := exec.ExecuteStage(t.Context(), StageDifferentiate, Context{"cycle_id": "cycle-7"})
		require.NoError(t, err)
		assert.InDelta(t, 0.855, m.QualityScore, 1e-9)
		assert.Equal(t, 0.2, m.CostScore)
		engine.AssertExpectations(t)
	})

	t.Run("engine failure propagates", func(t *testing.T) {
		engine := &MockWorkflowEngine{}
		engine.On("RunTask", mock.Anything, mock.Anything).
			Return(nil, errors.New("queue full"))

		exec, err := NewWorkflowExecutor(engine)
		require.NoError(t, err)

		_, err = exec.ExecuteStage(t.Context(), StageRefine, Context{})
		require.Error(t, err)
	})
}
