package coordinator

import (
	"context"
	"fmt"
)

// AgentExecutor runs a stage by fanning its task out to the agents the
// registry supplies for that stage and aggregating their metrics. Scores are
// averaged; a human termination flag from any agent is honored.
type AgentExecutor struct {
	registry AgentRegistry
	invoke   AgentInvoker
	hints    []string
}

// NewAgentExecutor wires an agent registry and invoker into a StageExecutor.
func NewAgentExecutor(registry AgentRegistry, invoke AgentInvoker, hints []string) (*AgentExecutor, error) {
	if registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if invoke == nil {
		return nil, fmt.Errorf("agent invoker is required")
	}
	return &AgentExecutor{
		registry: registry,
		invoke:   invoke,
		hints:    append([]string(nil), hints...),
	}, nil
}

// ExecuteStage implements StageExecutor.
func (e *AgentExecutor) ExecuteStage(ctx context.Context, stage Stage, cycleCtx Context) (PhaseMetrics, error) {
	agents, err := e.registry.AgentsFor(ctx, stage, e.hints)
	if err != nil {
		return PhaseMetrics{}, fmt.Errorf("resolving agents for %s: %w", stage, err)
	}
	if len(agents) == 0 {
		return PhaseMetrics{}, fmt.Errorf("no agents available for stage %s", stage)
	}

	var agg PhaseMetrics
	custom := make(map[string]float64)
	for _, agent := range agents {
		m, err := e.invoke(ctx, agent, cycleCtx)
		if err != nil {
			return PhaseMetrics{}, fmt.Errorf("agent %s on stage %s: %w", agent.Name, stage, err)
		}
		agg.QualityScore += m.QualityScore
		agg.CostScore += m.CostScore
		agg.BenefitScore += m.BenefitScore
		agg.GranularityScore += m.GranularityScore
		agg.ResourceUsage += m.ResourceUsage
		agg.HumanTerminate = agg.HumanTerminate || m.HumanTerminate
		for k, v := range m.Custom {
			custom[k] += v
		}
	}

	n := float64(len(agents))
	agg.QualityScore /= n
	agg.CostScore /= n
	agg.BenefitScore /= n
	agg.GranularityScore /= n
	agg.ResourceUsage /= n
	if len(custom) > 0 {
		for k := range custom {
			custom[k] /= n
		}
		agg.Custom = custom
	}
	return agg, nil
}

// WorkflowExecutor runs a stage by handing it to an external workflow engine
// and deriving metrics from the engine's opaque result payload.
type WorkflowExecutor struct {
	engine WorkflowEngine
}

// NewWorkflowExecutor wires a workflow engine into a StageExecutor.
func NewWorkflowExecutor(engine WorkflowEngine) (*WorkflowExecutor, error) {
	if engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	return &WorkflowExecutor{engine: engine}, nil
}

// ExecuteStage implements StageExecutor.
func (e *WorkflowExecutor) ExecuteStage(ctx context.Context, stage Stage, cycleCtx Context) (PhaseMetrics, error) {
	spec := TaskSpec{Stage: stage, Context: cycleCtx}
	if id, ok := cycleCtx[ctxKeyCycleID].(string); ok {
		spec.CycleID = id
	}
	result, err := e.engine.RunTask(ctx, spec)
	if err != nil {
		return PhaseMetrics{}, fmt.Errorf("workflow task for %s: %w", stage, err)
	}
	return CollectMetrics(stage, result), nil
}
