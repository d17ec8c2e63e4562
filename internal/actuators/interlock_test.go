package actuators

import (
	"context"
	"testing"

	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDUTDisconnectInterlockClosesMainInletOnDisconnect(t *testing.T) {
	back := hardware.NewSimulator()
	status := &fakeStatus{snap: newSnapWithValves(map[string]bool{LaneBVL2: true}, true, 85)}
	v := NewValves(back, status)
	require.NoError(t, v.Open(context.Background(), LaneBVL2))
	require.NoError(t, v.Open(context.Background(), MainInlet))
	require.True(t, v.State(MainInlet))

	interlock := NewDUTDisconnectInterlock(v, nil)

	interlock.Observe(sensors.Snapshot{DUTConnected: true})
	assert.True(t, v.State(MainInlet), "still connected: main inlet stays open")

	interlock.Observe(sensors.Snapshot{DUTConnected: false})
	assert.False(t, v.State(MainInlet), "disconnect transition must force-close the main inlet")
}

func TestDUTDisconnectInterlockIgnoresFirstSnapshot(t *testing.T) {
	back := hardware.NewSimulator()
	status := &fakeStatus{snap: newSnapWithValves(map[string]bool{LaneBVL2: true}, true, 85)}
	v := NewValves(back, status)
	require.NoError(t, v.Open(context.Background(), LaneBVL2))
	require.NoError(t, v.Open(context.Background(), MainInlet))

	interlock := NewDUTDisconnectInterlock(v, nil)

	// The very first observed snapshot must never be treated as a
	// transition, even if it already shows the DUT disconnected.
	interlock.Observe(sensors.Snapshot{DUTConnected: false})
	assert.True(t, v.State(MainInlet))
}

func TestDUTDisconnectInterlockNoopWhenMainInletAlreadyClosed(t *testing.T) {
	back := hardware.NewSimulator()
	v := NewValves(back, &fakeStatus{})
	interlock := NewDUTDisconnectInterlock(v, nil)

	interlock.Observe(sensors.Snapshot{DUTConnected: true})
	interlock.Observe(sensors.Snapshot{DUTConnected: false})

	assert.False(t, v.State(MainInlet))
}
