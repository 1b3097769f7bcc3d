package coordinator

import "time"

// Report is the human-readable summary attached to a finished cycle.
type Report struct {
	Title       string                 `json:"title"`
	CycleID     string                 `json:"cycle_id"`
	GeneratedAt time.Time              `json:"generated_at"`
	Status      CycleStatus            `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
	Stages      map[Stage]StageSummary `json:"stages"`
	Recursion   *RecursionInfo         `json:"recursion,omitempty"`
	MicroCycles []MicroCycleSummary    `json:"micro_cycles,omitempty"`
}

// StageSummary condenses one stage's outcome for the report.
type StageSummary struct {
	QualityScore  float64            `json:"quality_score"`
	Duration      time.Duration      `json:"duration"`
	Terminated    bool               `json:"terminated"`
	Reason        string             `json:"reason,omitempty"`
	SpawnedChild  bool               `json:"spawned_child"`
	ChildRefused  bool               `json:"child_refused"`
	CustomMetrics map[string]float64 `json:"custom_metrics,omitempty"`
}

// RecursionInfo describes where in the recursion tree this cycle sat.
type RecursionInfo struct {
	ParentCycleID string `json:"parent_cycle_id"`
	Depth         int    `json:"depth"`
}

// MicroCycleSummary records one child cycle spawned by a stage.
type MicroCycleSummary struct {
	Stage   Stage       `json:"stage"`
	CycleID string      `json:"cycle_id"`
	Status  CycleStatus `json:"status"`
}

// buildReport assembles the report envelope for a finished cycle.
func buildReport(res *CycleResult) *Report {
	report := &Report{
		Title:       "EDRR Cycle Report",
		CycleID:     res.ID,
		GeneratedAt: time.Now().UTC(),
		Status:      res.Status,
		Reason:      res.Reason,
		Stages:      make(map[Stage]StageSummary, len(res.Stages)),
	}
	if res.Depth > 0 {
		report.Recursion = &RecursionInfo{
			ParentCycleID: res.ParentID,
			Depth:         res.Depth,
		}
	}
	for _, sr := range res.Stages {
		summary := StageSummary{
			QualityScore: sr.Metrics.QualityScore,
			Duration:     sr.Duration,
			Terminated:   sr.Terminated,
			Reason:       sr.Reason,
			SpawnedChild: sr.MicroCycleID != "",
			ChildRefused: sr.ChildStatus == StatusRecursionLimitReached,
		}
		if len(sr.Metrics.Custom) > 0 {
			summary.CustomMetrics = sr.Metrics.Custom
		}
		report.Stages[sr.Stage] = summary
		if sr.MicroCycleID != "" {
			report.MicroCycles = append(report.MicroCycles, MicroCycleSummary{
				Stage:   sr.Stage,
				CycleID: sr.MicroCycleID,
				Status:  sr.ChildStatus,
			})
		}
	}
	return report
}
