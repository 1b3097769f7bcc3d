package coordinator

import (
	"context"
	"errors"
	"time"
)

// Stage represents one macro phase of an EDRR cycle.
type Stage string

const (
	// StageExpand focuses on divergent exploration and idea generation.
	StageExpand Stage = "expand"

	// StageDifferentiate focuses on comparative analysis and option evaluation.
	StageDifferentiate Stage = "differentiate"

	// StageRefine focuses on detail elaboration and implementation planning.
	StageRefine Stage = "refine"

	// StageRetrospect focuses on learning extraction and knowledge integration.
	StageRetrospect Stage = "retrospect"
)

// Stages returns all stages in execution order.
func Stages() []Stage {
	return []Stage{StageExpand, StageDifferentiate, StageRefine, StageRetrospect}
}

// Valid reports whether s is one of the four execution stages.
func (s Stage) Valid() bool {
	switch s {
	case StageExpand, StageDifferentiate, StageRefine, StageRetrospect:
		return true
	}
	return false
}

// Next returns the stage following s in execution order. The second return
// is false for Retrospect, which has no successor.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageExpand:
		return StageDifferentiate, true
	case StageDifferentiate:
		return StageRefine, true
	case StageRefine:
		return StageRetrospect, true
	}
	return "", false
}

// CycleStatus is the terminal status of a cycle.
type CycleStatus string

const (
	// StatusCompleted means all four stages ran to completion.
	StatusCompleted CycleStatus = "completed"

	// StatusEarlyTermination means the termination policy (or a stage
	// failure) stopped the cycle before Retrospect completed.
	StatusEarlyTermination CycleStatus = "early_termination"

	// StatusRecursionLimitReached means the cycle was refused before any
	// stage ran because its depth exceeded the effective budget. This is
	// expected, recoverable behavior, not a failure.
	StatusRecursionLimitReached CycleStatus = "recursion_limit_reached"
)

// Context is the accumulated key-value result set of a cycle. It is shared
// by reference with any micro-cycle the cycle spawns: the child reads the
// map and writes its results back into it before returning.
type Context map[string]any

// PhaseMetrics is the measured outcome of a single stage execution. It is
// created fresh per stage and mutated only by the stage's own result and by
// recovery hooks; the termination policy is a read-only consumer.
type PhaseMetrics struct {
	QualityScore     float64            `json:"quality_score"`
	CostScore        float64            `json:"cost_score"`
	BenefitScore     float64            `json:"benefit_score"`
	GranularityScore float64            `json:"granularity_score"`
	ResourceUsage    float64            `json:"resource_usage"`
	HumanTerminate   bool               `json:"human_terminate"`
	Custom           map[string]float64 `json:"custom,omitempty"`
}

// Clone returns a deep copy of the metrics.
func (m PhaseMetrics) Clone() PhaseMetrics {
	out := m
	if m.Custom != nil {
		out.Custom = make(map[string]float64, len(m.Custom))
		for k, v := range m.Custom {
			out.Custom[k] = v
		}
	}
	return out
}

// StageResult captures the outcome of one stage execution within a cycle.
type StageResult struct {
	Stage        Stage         `json:"stage"`
	Metrics      PhaseMetrics  `json:"metrics"`
	Terminated   bool          `json:"terminated"`
	Reason       string        `json:"reason,omitempty"`
	MicroCycleID string        `json:"micro_cycle_id,omitempty"`
	ChildStatus  CycleStatus   `json:"child_status,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	Duration     time.Duration `json:"duration"`
}

// TransitionRecord is one entry of the ordered stage transition history.
type TransitionRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Stage     Stage         `json:"stage"`
	Action    string        `json:"action"` // "start" or "end"
	Duration  time.Duration `json:"duration,omitempty"`
}

// ParentInfo is the read-only depth and budget accounting a parent cycle
// passes by value into a child. It replaces a live back-pointer: the child
// never holds a reference to the parent coordinator.
type ParentInfo struct {
	CycleID           string
	Depth             int
	EffectiveMaxDepth int
}

// CycleResult is the envelope returned when a cycle finishes.
type CycleResult struct {
	ID       string             `json:"id"`
	ParentID string             `json:"parent_id,omitempty"`
	Depth    int                `json:"depth"`
	Status   CycleStatus        `json:"status"`
	Reason   string             `json:"reason,omitempty"`
	Metrics  PhaseMetrics       `json:"metrics"`
	Context  Context            `json:"context"`
	Stages   []StageResult      `json:"stages"`
	History  []TransitionRecord `json:"history,omitempty"`
	Report   *Report            `json:"report,omitempty"`
}

// Errors surfaced to callers. Everything that happens after a cycle starts
// is absorbed into terminal CycleResult statuses instead.
var (
	// ErrNilContext is returned by StartCycle when the initial context is nil.
	ErrNilContext = errors.New("initial context must not be nil")

	// ErrInvalidConfig wraps threshold configuration validation failures.
	ErrInvalidConfig = errors.New("invalid threshold config")

	// ErrNoExecutor is returned by New when no stage executor is supplied.
	ErrNoExecutor = errors.New("stage executor is required")

	// ErrPhaseExecution wraps any error raised while running a stage's work.
	ErrPhaseExecution = errors.New("phase execution failed")

	// ErrContextNotFound is returned by a ContextStore when no context was
	// ever persisted for the cycle id.
	ErrContextNotFound = errors.New("cycle context not found")
)

// StageExecutor runs the actual work of a stage and reports its metrics.
// The coordinator treats the call as an opaque synchronous operation.
type StageExecutor interface {
	ExecuteStage(ctx context.Context, stage Stage, cycleCtx Context) (PhaseMetrics, error)
}

// StageExecutorFunc adapts a function to the StageExecutor interface.
type StageExecutorFunc func(ctx context.Context, stage Stage, cycleCtx Context) (PhaseMetrics, error)

// ExecuteStage implements StageExecutor.
func (f StageExecutorFunc) ExecuteStage(ctx context.Context, stage Stage, cycleCtx Context) (PhaseMetrics, error) {
	return f(ctx, stage, cycleCtx)
}

// AgentHandle identifies a worker supplied by the external agent registry.
// The coordinator never inspects agent internals.
type AgentHandle struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// AgentRegistry supplies the workers that perform a stage's task.
type AgentRegistry interface {
	AgentsFor(ctx context.Context, stage Stage, hints []string) ([]AgentHandle, error)
}

// AgentInvoker runs one agent against the cycle context and reports metrics.
type AgentInvoker func(ctx context.Context, agent AgentHandle, cycleCtx Context) (PhaseMetrics, error)

// ContextStore persists and restores a cycle's accumulated context. The
// coordinator calls it at cycle start and end only.
type ContextStore interface {
	LoadContext(ctx context.Context, cycleID string) (Context, error)
	SaveContext(ctx context.Context, cycleID string, cycleCtx Context) error
}

// TaskSpec describes a unit of work handed to an external workflow engine.
type TaskSpec struct {
	Stage   Stage   `json:"stage"`
	CycleID string  `json:"cycle_id"`
	Context Context `json:"context"`
}

// WorkflowEngine is a generic task execution hook a stage implementation may
// delegate to. Its result payload is opaque to the coordinator.
type WorkflowEngine interface {
	RunTask(ctx context.Context, spec TaskSpec) (map[string]any, error)
}
