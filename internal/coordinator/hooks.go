package coordinator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/edrr/internal/logging"
)

// HookResult is what a recovery hook returns. A nil Metrics leaves the
// in-flight metrics unchanged; Recovered stops further dispatch and triggers
// a policy re-evaluation with the mutated metrics.
type HookResult struct {
	Metrics   *PhaseMetrics
	Recovered bool
}

// RecoveryHook inspects a stage's metrics and may repair them, for example
// by injecting a fallback result, or force termination by setting
// HumanTerminate on the returned metrics.
type RecoveryHook func(metrics PhaseMetrics) (HookResult, error)

// RecoveryHookRegistry holds the ordered per-stage recovery hooks and the
// per-stage threshold overrides. Threshold accessors are synchronized with a
// read-write lock because an operator may adjust configuration while a cycle
// is mid-flight.
type RecoveryHookRegistry struct {
	mu         sync.RWMutex
	hooks      map[Stage][]RecoveryHook
	thresholds map[Stage]ThresholdConfig
	logger     *logging.Logger
}

// NewRecoveryHookRegistry creates an empty registry.
func NewRecoveryHookRegistry(logger *logging.Logger) *RecoveryHookRegistry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RecoveryHookRegistry{
		hooks:      make(map[Stage][]RecoveryHook),
		thresholds: make(map[Stage]ThresholdConfig),
		logger:     logger,
	}
}

// Register appends a recovery hook for the stage. Hooks run in registration
// order.
func (r *RecoveryHookRegistry) Register(stage Stage, hook RecoveryHook) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[stage] = append(r.hooks[stage], hook)
}

// Dispatch runs the stage's hooks against the metrics in registration order.
// It stops at the first hook reporting Recovered and returns the mutated
// metrics plus whether recovery happened. A hook that errors or panics is
// skipped; that is never fatal to the cycle.
func (r *RecoveryHookRegistry) Dispatch(ctx context.Context, stage Stage, m PhaseMetrics) (PhaseMetrics, bool) {
	r.mu.RLock()
	hooks := append([]RecoveryHook(nil), r.hooks[stage]...)
	r.mu.RUnlock()

	for i, hook := range hooks {
		res, err := invokeHook(hook, m)
		if err != nil {
			r.logger.Warn(ctx, "recovery hook failed, skipping",
				zap.String("stage", string(stage)),
				zap.Int("hook_index", i),
				zap.Error(err))
			continue
		}
		if res.Metrics != nil {
			m = res.Metrics.Clone()
		}
		if res.Recovered {
			r.logger.Debug(ctx, "recovery hook recovered metrics",
				zap.String("stage", string(stage)),
				zap.Int("hook_index", i))
			return m, true
		}
	}
	return m, false
}

// invokeHook runs a single hook with panic containment.
func invokeHook(hook RecoveryHook, m PhaseMetrics) (res HookResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return hook(m.Clone())
}

// ConfigureStageThresholds installs a threshold override for the stage. The
// config is validated synchronously and rejected on error.
func (r *RecoveryHookRegistry) ConfigureStageThresholds(stage Stage, cfg ThresholdConfig) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidConfig, stage)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds[stage] = cfg.Clone()
	return nil
}

// StageThresholds returns the override configured for the stage, if any.
// The returned config is a copy; mutating it does not affect the registry.
func (r *RecoveryHookRegistry) StageThresholds(stage Stage) (ThresholdConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.thresholds[stage]
	if !ok {
		return ThresholdConfig{}, false
	}
	return cfg.Clone(), true
}

// capDepth tightens every stored threshold override to at most max nested
// levels. Used when handing a snapshot to a micro-cycle so a per-stage
// override cannot widen the child's recursion budget.
func (r *RecoveryHookRegistry) capDepth(max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for stage, cfg := range r.thresholds {
		if cfg.MaxRecursionDepth > max {
			cfg.MaxRecursionDepth = max
			r.thresholds[stage] = cfg
		}
	}
}

// snapshot returns a deep copy of the registry for handing to a micro-cycle.
// Hook slices are copied so later parent registrations do not leak into an
// already-built child.
func (r *RecoveryHookRegistry) snapshot() *RecoveryHookRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRecoveryHookRegistry(r.logger)
	for stage, hooks := range r.hooks {
		out.hooks[stage] = append([]RecoveryHook(nil), hooks...)
	}
	for stage, cfg := range r.thresholds {
		out.thresholds[stage] = cfg.Clone()
	}
	return out
}
