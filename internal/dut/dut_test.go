package dut

import (
	"context"
	"testing"
	"time"

	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldBusModeReadsTotalizerFromMeterBridge(t *testing.T) {
	back := hardware.NewSimulator()
	ctx := context.Background()
	back.ConnectDUT(0)

	iface := New(ModeFieldBus, back)
	require.NoError(t, iface.ReadBefore(ctx))
	assert.Equal(t, StateMeasuring, iface.State())

	require.NoError(t, iface.ReadAfter(ctx))
	assert.Equal(t, StateComplete, iface.State())
	assert.GreaterOrEqual(t, iface.Volume(), 0.0)
}

func TestManualModeWaitsForOperatorSubmit(t *testing.T) {
	back := hardware.NewSimulator()
	ctx := context.Background()

	iface := New(ModeManual, back)
	require.NoError(t, iface.ReadBefore(ctx))
	assert.Equal(t, StateWaitingBefore, iface.State())

	require.NoError(t, iface.Submit("before", 100.0, "operator-1"))
	assert.Equal(t, StateMeasuring, iface.State())

	require.NoError(t, iface.ReadAfter(ctx))
	assert.Equal(t, StateWaitingAfter, iface.State())

	require.NoError(t, iface.Submit("after", 102.0, "operator-1"))
	assert.Equal(t, StateComplete, iface.State())
	assert.InDelta(t, 2.0, iface.Volume(), 0.001)
}

func TestSubmitRejectsAfterLessThanBefore(t *testing.T) {
	iface := New(ModeManual, hardware.NewSimulator())
	require.NoError(t, iface.Submit("before", 50.0, "operator-1"))
	err := iface.Submit("after", 40.0, "operator-1")
	assert.Error(t, err)
}

func TestSubmitRejectsNegativeValue(t *testing.T) {
	iface := New(ModeManual, hardware.NewSimulator())
	err := iface.Submit("before", -1, "operator-1")
	assert.Error(t, err)
}

func TestVolumeNeverNegative(t *testing.T) {
	iface := New(ModeManual, hardware.NewSimulator())
	require.NoError(t, iface.Submit("before", 10, "x"))
	require.NoError(t, iface.Submit("after", 10, "x"))
	assert.Equal(t, 0.0, iface.Volume())
}

func TestWaitSubmitBlocksUntilSubmitCalled(t *testing.T) {
	ctx := context.Background()
	iface := New(ModeManual, hardware.NewSimulator())
	require.NoError(t, iface.ReadBefore(ctx))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- iface.WaitSubmit("before", time.Second, make(chan string))
	}()

	select {
	case <-unblocked:
		t.Fatal("WaitSubmit returned before Submit was called")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, iface.Submit("before", 100.0, "operator-1"))

	select {
	case err := <-unblocked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitSubmit did not unblock after Submit")
	}
}

func TestWaitSubmitReturnsErrorOnAbort(t *testing.T) {
	ctx := context.Background()
	iface := New(ModeManual, hardware.NewSimulator())
	require.NoError(t, iface.ReadBefore(ctx))

	abortCh := make(chan string, 1)
	abortCh <- "operator panic button"

	err := iface.WaitSubmit("before", time.Second, abortCh)
	assert.Error(t, err)
}

func TestWaitSubmitTimesOutWithoutSubmitOrAbort(t *testing.T) {
	ctx := context.Background()
	iface := New(ModeManual, hardware.NewSimulator())
	require.NoError(t, iface.ReadBefore(ctx))

	err := iface.WaitSubmit("before", 20*time.Millisecond, make(chan string))
	assert.Error(t, err)
}

func TestWaitSubmitReturnsImmediatelyInFieldBusMode(t *testing.T) {
	back := hardware.NewSimulator()
	back.ConnectDUT(0)
	ctx := context.Background()
	iface := New(ModeFieldBus, back)
	require.NoError(t, iface.ReadBefore(ctx))

	err := iface.WaitSubmit("before", time.Millisecond, make(chan string))
	assert.NoError(t, err)
}

func TestResetClearsReadings(t *testing.T) {
	iface := New(ModeManual, hardware.NewSimulator())
	require.NoError(t, iface.Submit("before", 10, "x"))
	require.NoError(t, iface.Submit("after", 12, "x"))
	iface.Reset()
	assert.Equal(t, StateIdle, iface.State())
	assert.Equal(t, 0.0, iface.Volume())
}
