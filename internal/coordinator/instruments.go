package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments holds the coordinator's OpenTelemetry metrics. A nil
// *Instruments is valid and records nothing, so wiring telemetry stays
// optional.
type Instruments struct {
	cyclesStarted   metric.Int64Counter
	cyclesFinished  metric.Int64Counter
	recursionLimits metric.Int64Counter
	hookRecoveries  metric.Int64Counter
	stageDuration   metric.Float64Histogram
}

// NewInstruments creates the coordinator instruments on the given meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	cyclesStarted, err := meter.Int64Counter("edrr.cycles.started",
		metric.WithDescription("Number of cycles started, by recursion depth"))
	if err != nil {
		return nil, fmt.Errorf("creating cycles.started counter: %w", err)
	}
	cyclesFinished, err := meter.Int64Counter("edrr.cycles.finished",
		metric.WithDescription("Number of cycles finished, by terminal status"))
	if err != nil {
		return nil, fmt.Errorf("creating cycles.finished counter: %w", err)
	}
	recursionLimits, err := meter.Int64Counter("edrr.cycles.recursion_limited",
		metric.WithDescription("Number of micro-cycles refused at the depth limit"))
	if err != nil {
		return nil, fmt.Errorf("creating recursion_limited counter: %w", err)
	}
	hookRecoveries, err := meter.Int64Counter("edrr.hooks.recoveries",
		metric.WithDescription("Number of recovery hook activations, by stage"))
	if err != nil {
		return nil, fmt.Errorf("creating hook recoveries counter: %w", err)
	}
	stageDuration, err := meter.Float64Histogram("edrr.stage.duration",
		metric.WithDescription("Stage execution duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating stage duration histogram: %w", err)
	}

	return &Instruments{
		cyclesStarted:   cyclesStarted,
		cyclesFinished:  cyclesFinished,
		recursionLimits: recursionLimits,
		hookRecoveries:  hookRecoveries,
		stageDuration:   stageDuration,
	}, nil
}

// RecordCycleStart records a started cycle at the given depth.
func (i *Instruments) RecordCycleStart(ctx context.Context, depth int) {
	if i == nil {
		return
	}
	i.cyclesStarted.Add(ctx, 1, metric.WithAttributes(attribute.Int("depth", depth)))
}

// RecordCycleEnd records a finished cycle with its terminal status.
func (i *Instruments) RecordCycleEnd(ctx context.Context, status string) {
	if i == nil {
		return
	}
	i.cyclesFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRecursionLimit records a micro-cycle refused at the depth limit.
func (i *Instruments) RecordRecursionLimit(ctx context.Context) {
	if i == nil {
		return
	}
	i.recursionLimits.Add(ctx, 1)
}

// RecordHookRecovery records a recovery hook activation for the stage.
func (i *Instruments) RecordHookRecovery(ctx context.Context, stage string) {
	if i == nil {
		return
	}
	i.hookRecoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordStageDuration records one stage execution's wall time.
func (i *Instruments) RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	if i == nil {
		return
	}
	i.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
