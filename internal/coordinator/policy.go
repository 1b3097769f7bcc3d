package coordinator

import "math"

// Termination reasons reported in CycleResult and StageResult.
const (
	ReasonQualityMet         = "quality_met"
	ReasonDiminishingReturns = "diminishing_returns"
	ReasonHumanOverride      = "human_override"
	ReasonGranularityFloor   = "granularity_floor"
	ReasonResourceLimit      = "resource_limit"
	ReasonPhaseFailure       = "phase_failure"
	ReasonMaxDepth           = "max_recursion_depth"
	ReasonCanceled           = "canceled"
)

// Decision is the outcome of a termination policy evaluation.
type Decision struct {
	Terminate bool
	Reason    string
}

// TerminationPolicy combines a stage's metrics with the effective threshold
// config into a terminate/continue decision. Implementations must treat the
// metrics as read-only.
//
// Depth and budget limits are enforced at cycle start, not here: they gate
// whether a stage runs at all rather than whether to stop after running it.
type TerminationPolicy interface {
	ShouldTerminate(metrics PhaseMetrics, cfg ThresholdConfig) Decision
}

// DelimitingPolicy is the standard policy applying the documented heuristics
// in fixed precedence order. First match wins:
//
//  1. quality score reached the threshold
//  2. diminishing returns on the cost/benefit comparison
//  3. explicit human override
//  4. granularity below the configured floor
//  5. resource usage above the configured limit
//
// Heuristics whose inputs were never measured (all-zero scores) are skipped,
// matching the source behavior of only evaluating supplied fields.
type DelimitingPolicy struct{}

// NewDelimitingPolicy returns the standard termination policy.
func NewDelimitingPolicy() *DelimitingPolicy {
	return &DelimitingPolicy{}
}

// ShouldTerminate implements TerminationPolicy.
func (p *DelimitingPolicy) ShouldTerminate(m PhaseMetrics, cfg ThresholdConfig) Decision {
	if m.QualityScore > 0 && m.QualityScore >= cfg.QualityThreshold {
		return Decision{Terminate: true, Reason: ReasonQualityMet}
	}

	if m.CostScore != 0 || m.BenefitScore != 0 {
		switch cfg.comparator() {
		case ComparatorRatio:
			ratio := math.Inf(1)
			if m.BenefitScore > 0 {
				ratio = m.CostScore / m.BenefitScore
			}
			if ratio > cfg.CostBenefitMargin {
				return Decision{Terminate: true, Reason: ReasonDiminishingReturns}
			}
		default:
			if m.BenefitScore-m.CostScore <= cfg.CostBenefitMargin {
				return Decision{Terminate: true, Reason: ReasonDiminishingReturns}
			}
		}
	}

	if m.HumanTerminate {
		return Decision{Terminate: true, Reason: ReasonHumanOverride}
	}

	if m.GranularityScore > 0 && m.GranularityScore < cfg.GranularityThreshold {
		return Decision{Terminate: true, Reason: ReasonGranularityFloor}
	}

	if m.ResourceUsage > cfg.ResourceLimit {
		return Decision{Terminate: true, Reason: ReasonResourceLimit}
	}

	return Decision{}
}
