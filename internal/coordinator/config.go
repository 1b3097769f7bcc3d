package coordinator

import "fmt"

// Comparator selects how the cost/benefit heuristic is evaluated. The source
// documentation is ambiguous between the subtractive and ratio forms, so the
// comparator is configuration rather than a hard-coded formula.
type Comparator string

const (
	// ComparatorSubtractive terminates when benefit - cost <= margin.
	ComparatorSubtractive Comparator = "subtractive"

	// ComparatorRatio terminates when cost / benefit > margin.
	ComparatorRatio Comparator = "ratio"
)

// Default threshold values for the delimiting heuristics.
const (
	DefaultMaxRecursionDepth    = 3
	DefaultQualityThreshold     = 0.9
	DefaultCostBenefitMargin    = 0.5
	DefaultGranularityThreshold = 0.2
	DefaultResourceLimit        = 0.8
)

// ThresholdConfig holds the per-stage numeric settings consumed by the
// termination policy and the recursion budget. A coordinator owns its config
// exclusively; it is cloned, never shared, when building a micro-cycle.
type ThresholdConfig struct {
	// MaxRecursionDepth is the number of nested micro-cycle levels allowed
	// below this coordinator. Zero disables micro-cycles entirely.
	MaxRecursionDepth int `json:"max_recursion_depth"`

	// QualityThreshold terminates a cycle once a stage's quality score
	// reaches it. Must be in [0,1].
	QualityThreshold float64 `json:"quality_threshold"`

	// CostBenefitMargin is interpreted per CostBenefitComparator.
	CostBenefitMargin float64 `json:"cost_benefit_margin"`

	// CostBenefitComparator selects the cost/benefit formula. Empty means
	// subtractive.
	CostBenefitComparator Comparator `json:"cost_benefit_comparator,omitempty"`

	// GranularityThreshold stops recursion once work items become too fine
	// grained to benefit from another nested cycle. Must be in [0,1].
	GranularityThreshold float64 `json:"granularity_threshold"`

	// ResourceLimit terminates when measured resource usage exceeds it.
	// Must be in [0,1].
	ResourceLimit float64 `json:"resource_limit"`

	// AgentHints are opaque capability tags forwarded to the external agent
	// registry. The coordinator does not interpret them.
	AgentHints []string `json:"agent_hints,omitempty"`
}

// DefaultThresholdConfig returns the documented default thresholds.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		MaxRecursionDepth:     DefaultMaxRecursionDepth,
		QualityThreshold:      DefaultQualityThreshold,
		CostBenefitMargin:     DefaultCostBenefitMargin,
		CostBenefitComparator: ComparatorSubtractive,
		GranularityThreshold:  DefaultGranularityThreshold,
		ResourceLimit:         DefaultResourceLimit,
	}
}

// Validate checks the config for errors. Invalid values are rejected, never
// silently clamped.
func (c ThresholdConfig) Validate() error {
	if c.MaxRecursionDepth < 0 {
		return fmt.Errorf("%w: max_recursion_depth must be >= 0, got %d", ErrInvalidConfig, c.MaxRecursionDepth)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("%w: quality_threshold must be in [0,1], got %v", ErrInvalidConfig, c.QualityThreshold)
	}
	if c.GranularityThreshold < 0 || c.GranularityThreshold > 1 {
		return fmt.Errorf("%w: granularity_threshold must be in [0,1], got %v", ErrInvalidConfig, c.GranularityThreshold)
	}
	if c.ResourceLimit < 0 || c.ResourceLimit > 1 {
		return fmt.Errorf("%w: resource_limit must be in [0,1], got %v", ErrInvalidConfig, c.ResourceLimit)
	}
	switch c.CostBenefitComparator {
	case "", ComparatorSubtractive, ComparatorRatio:
	default:
		return fmt.Errorf("%w: unknown cost_benefit_comparator %q", ErrInvalidConfig, c.CostBenefitComparator)
	}
	if c.CostBenefitComparator == ComparatorRatio && c.CostBenefitMargin <= 0 {
		return fmt.Errorf("%w: ratio comparator requires cost_benefit_margin > 0, got %v", ErrInvalidConfig, c.CostBenefitMargin)
	}
	return nil
}

// Clone returns a deep copy of the config.
func (c ThresholdConfig) Clone() ThresholdConfig {
	out := c
	if c.AgentHints != nil {
		out.AgentHints = append([]string(nil), c.AgentHints...)
	}
	return out
}

// comparator returns the effective comparator, defaulting to subtractive.
func (c ThresholdConfig) comparator() Comparator {
	if c.CostBenefitComparator == "" {
		return ComparatorSubtractive
	}
	return c.CostBenefitComparator
}
