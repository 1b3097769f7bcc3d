// Package config provides configuration loading for the EDRR coordinator
// daemon. Settings come from a YAML file overridden by environment
// variables, with hardcoded defaults filling the gaps.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/edrr/internal/coordinator"
	"github.com/fyrsmithlabs/edrr/internal/logging"
)

// Config holds the complete edrrd configuration.
type Config struct {
	Logging       logging.Config      `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Coordinator   CoordinatorConfig   `koanf:"coordinator"`
	Store         StoreConfig         `koanf:"store"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Insecure       bool   `koanf:"insecure"`
}

// StoreConfig holds cycle context persistence settings.
type StoreConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// CoordinatorConfig holds the cycle thresholds and per-stage overrides.
type CoordinatorConfig struct {
	Thresholds ThresholdsConfig       `koanf:"thresholds"`
	Stages     map[string]StageConfig `koanf:"stages"`
}

// ThresholdsConfig mirrors coordinator.ThresholdConfig with koanf tags.
type ThresholdsConfig struct {
	MaxRecursionDepth     int      `koanf:"max_recursion_depth"`
	QualityThreshold      float64  `koanf:"quality_threshold"`
	CostBenefitMargin     float64  `koanf:"cost_benefit_margin"`
	CostBenefitComparator string   `koanf:"cost_benefit_comparator"`
	GranularityThreshold  float64  `koanf:"granularity_threshold"`
	ResourceLimit         float64  `koanf:"resource_limit"`
	AgentHints            []string `koanf:"agent_hints"`
}

// StageConfig holds per-stage micro-cycle settings.
type StageConfig struct {
	SpawnMicroCycle bool              `koanf:"spawn_micro_cycle"`
	Thresholds      *ThresholdsConfig `koanf:"thresholds"`
}

// ToThresholdConfig converts the koanf-tagged struct into the coordinator's
// runtime type.
func (t ThresholdsConfig) ToThresholdConfig() coordinator.ThresholdConfig {
	return coordinator.ThresholdConfig{
		MaxRecursionDepth:     t.MaxRecursionDepth,
		QualityThreshold:      t.QualityThreshold,
		CostBenefitMargin:     t.CostBenefitMargin,
		CostBenefitComparator: coordinator.Comparator(t.CostBenefitComparator),
		GranularityThreshold:  t.GranularityThreshold,
		ResourceLimit:         t.ResourceLimit,
		AgentHints:            append([]string(nil), t.AgentHints...),
	}
}

// StageOverrides converts the per-stage sections into factory overrides.
func (c CoordinatorConfig) StageOverrides() (map[coordinator.Stage]coordinator.StageOverride, error) {
	if len(c.Stages) == 0 {
		return nil, nil
	}
	out := make(map[coordinator.Stage]coordinator.StageOverride, len(c.Stages))
	for name, sc := range c.Stages {
		stage := coordinator.Stage(name)
		if !stage.Valid() {
			return nil, fmt.Errorf("unknown stage %q in coordinator.stages", name)
		}
		ov := coordinator.StageOverride{Spawn: sc.SpawnMicroCycle}
		if sc.Thresholds != nil {
			tc := sc.Thresholds.ToThresholdConfig()
			ov.Thresholds = &tc
		}
		out[stage] = ov
	}
	return out, nil
}

// Validate checks the full configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Observability.Enabled {
		if c.Observability.Endpoint == "" {
			return fmt.Errorf("observability.endpoint is required when enabled")
		}
		if c.Observability.ServiceName == "" {
			return fmt.Errorf("observability.service_name is required when enabled")
		}
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when store enabled")
	}
	if err := c.Coordinator.Thresholds.ToThresholdConfig().Validate(); err != nil {
		return fmt.Errorf("coordinator.thresholds: %w", err)
	}
	for name, sc := range c.Coordinator.Stages {
		if !coordinator.Stage(name).Valid() {
			return fmt.Errorf("unknown stage %q in coordinator.stages", name)
		}
		if sc.Thresholds == nil {
			continue
		}
		if err := sc.Thresholds.ToThresholdConfig().Validate(); err != nil {
			return fmt.Errorf("coordinator.stages.%s: %w", name, err)
		}
	}
	return nil
}
