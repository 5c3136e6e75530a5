// ABOUTME: Tests for the OpenTelemetry instruments and the manual-reader provider
// ABOUTME: Counters are read back through Totals; a nil Instruments records nothing

package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstruments_CountsIntoProvider(t *testing.T) {
	p := NewProvider()
	defer p.Shutdown(t.Context())

	inst, err := New(p.MeterProvider, nil)
	require.NoError(t, err)

	ctx := t.Context()
	_, end := inst.StartDispatch(ctx, "worker", "demo.TaskAssigned")
	end(nil)
	_, end = inst.StartDispatch(ctx, "worker", "demo.TaskAssigned")
	end(errors.New("boom"))
	inst.HandlerFault(ctx, "worker", "OnTask")
	inst.FrameworkFault(ctx, "worker", "OnTask")
	inst.Sent(ctx, "worker", SendPublish)
	inst.Sent(ctx, "worker", SendResponse)
	inst.Sent(ctx, "worker", SendResponse)
	inst.Notified(ctx, "worker")

	totals, err := p.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals[MetricDispatched])
	assert.Equal(t, int64(1), totals[MetricHandlerFaults])
	assert.Equal(t, int64(1), totals[MetricFrameworkFaults])
	assert.Equal(t, int64(3), totals[MetricSends])
	assert.Equal(t, int64(1), totals[MetricNotifications])
	_, isCounter := totals[MetricDispatchDuration]
	assert.False(t, isCounter, "histograms are not summed")
}

func TestInstruments_NilIsNoop(t *testing.T) {
	var inst *Instruments
	ctx, end := inst.StartDispatch(t.Context(), "worker", "x")
	end(nil)
	inst.HandlerFault(ctx, "worker", "h")
	inst.FrameworkFault(ctx, "worker", "h")
	inst.Sent(ctx, "worker", SendDownward)
	inst.Notified(ctx, "worker")
}

func TestDefault(t *testing.T) {
	assert.NotNil(t, Default())
}
