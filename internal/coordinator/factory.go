package coordinator

import "fmt"

// StageOverride configures one stage's micro-cycle behavior in the factory.
type StageOverride struct {
	// Spawn enables micro-cycle spawning for the stage.
	Spawn bool

	// Thresholds, when non-nil, replaces the parent's defaults for the
	// spawned child. The recursion depth is still capped at the parent's,
	// never widened.
	Thresholds *ThresholdConfig
}

// MicroCycleFactory builds nested child coordinators for stages configured
// to spawn them. The factory is immutable after construction and therefore
// safe to share across concurrent cycles.
type MicroCycleFactory struct {
	overrides map[Stage]StageOverride
}

// NewMicroCycleFactory creates a factory from per-stage overrides. Stages
// absent from the map do not spawn micro-cycles. Override thresholds are
// validated here so a bad config fails at wiring time, not mid-cycle.
func NewMicroCycleFactory(overrides map[Stage]StageOverride) (*MicroCycleFactory, error) {
	out := make(map[Stage]StageOverride, len(overrides))
	for stage, ov := range overrides {
		if !stage.Valid() {
			return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidConfig, stage)
		}
		if ov.Thresholds != nil {
			if err := ov.Thresholds.Validate(); err != nil {
				return nil, fmt.Errorf("stage %s: %w", stage, err)
			}
			cloned := ov.Thresholds.Clone()
			ov.Thresholds = &cloned
		}
		out[stage] = ov
	}
	return &MicroCycleFactory{overrides: out}, nil
}

// SpawnAll returns a factory that spawns micro-cycles for every stage with
// the parent's own thresholds.
func SpawnAll() *MicroCycleFactory {
	overrides := make(map[Stage]StageOverride, len(Stages()))
	for _, stage := range Stages() {
		overrides[stage] = StageOverride{Spawn: true}
	}
	return &MicroCycleFactory{overrides: overrides}
}

// Spawns reports whether the stage is configured to spawn a micro-cycle.
func (f *MicroCycleFactory) Spawns(stage Stage) bool {
	if f == nil {
		return false
	}
	return f.overrides[stage].Spawn
}

// Create builds a child coordinator for a micro-cycle under the given stage
// of the parent. The child inherits the parent's collaborators and a
// snapshot of its hook registry, so hooks registered on the parent after
// this point do not leak into the child.
//
// Depth tightening is monotonic: an override may narrow the child's
// recursion budget but can never widen it past the parent's.
func (f *MicroCycleFactory) Create(stage Stage, parent *CycleCoordinator) (*CycleCoordinator, error) {
	ov, ok := f.overrides[stage]
	if !ok || !ov.Spawn {
		return nil, fmt.Errorf("%w: stage %s does not spawn micro-cycles", ErrInvalidConfig, stage)
	}

	parentCfg := parent.StageThresholds(stage)
	cfg := parentCfg.Clone()
	if ov.Thresholds != nil {
		cfg = ov.Thresholds.Clone()
		if cfg.MaxRecursionDepth > parentCfg.MaxRecursionDepth {
			cfg.MaxRecursionDepth = parentCfg.MaxRecursionDepth
		}
	}

	hooks := parent.hooks.snapshot()
	hooks.capDepth(cfg.MaxRecursionDepth)

	child := &CycleCoordinator{
		executor:    parent.executor,
		policy:      parent.policy,
		hooks:       hooks,
		factory:     f,
		store:       parent.store,
		logger:      parent.logger,
		tracer:      parent.tracer,
		instruments: parent.instruments,
		defaults:    cfg,
		clock:       parent.clock,
	}
	return child, nil
}
