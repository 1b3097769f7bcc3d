package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(t.Context()) })

	inst, err := NewInstruments(mp.Meter("test"))
	require.NoError(t, err)

	ctx := t.Context()
	inst.RecordCycleStart(ctx, 0)
	inst.RecordCycleStart(ctx, 1)
	inst.RecordCycleEnd(ctx, string(StatusCompleted))
	inst.RecordRecursionLimit(ctx)
	inst.RecordHookRecovery(ctx, string(StageExpand))
	inst.RecordStageDuration(ctx, string(StageExpand), 250*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["edrr.cycles.started"])
	assert.True(t, names["edrr.cycles.finished"])
	assert.True(t, names["edrr.cycles.recursion_limited"])
	assert.True(t, names["edrr.hooks.recoveries"])
	assert.True(t, names["edrr.stage.duration"])
}

func TestNilInstrumentsAreSafe(t *testing.T) {
	var inst *Instruments
	ctx := t.Context()

	inst.RecordCycleStart(ctx, 0)
	inst.RecordCycleEnd(ctx, "completed")
	inst.RecordRecursionLimit(ctx)
	inst.RecordHookRecovery(ctx, "expand")
	inst.RecordStageDuration(ctx, "expand", time.Second)
}
