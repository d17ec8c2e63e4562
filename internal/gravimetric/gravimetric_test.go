package gravimetric

import (
	"context"
	"testing"
	"time"

	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTareSettlesWithinTolerance(t *testing.T) {
	back := hardware.NewSimulator()
	eng := New(back)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, eng.Tare(ctx))
	assert.Equal(t, StateIdle, eng.State())
}

func TestCollectSettleReadProducesVolume(t *testing.T) {
	back := hardware.NewSimulator()
	ctx := context.Background()

	require.NoError(t, back.WriteModbus(ctx, 1, 0x2000, 0x0001))
	require.NoError(t, back.WriteModbus(ctx, 1, 0x2001, 5000))
	require.NoError(t, back.SetValve(ctx, "SV1", true))
	require.NoError(t, back.SetValve(ctx, "BV-L1", true))

	eng := New(back)
	require.NoError(t, eng.Tare(ctx))

	require.NoError(t, eng.StartCollection(ctx))
	assert.Equal(t, StateCollecting, eng.State())

	// Drive the simulator's physics forward while "collecting".
	for i := 0; i < 30; i++ {
		back.Tick()
		time.Sleep(5 * time.Millisecond)
	}

	result, err := eng.StopAndMeasure(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Greater(t, result.NetMassKg, 0.0)
	assert.Greater(t, result.VolumeL, 0.0)
	assert.Equal(t, StateComplete, eng.State())
}

func TestDrainClosesValveOnThresholdOrTimeout(t *testing.T) {
	back := hardware.NewSimulator()
	ctx := context.Background()
	eng := New(back)

	require.NoError(t, eng.Drain(ctx, 500*time.Millisecond, 0.1))

	valves, _, err := back.ReadValves(ctx)
	require.NoError(t, err)
	assert.False(t, valves["SV-DRN"])
	assert.Equal(t, StateIdle, eng.State())
}
