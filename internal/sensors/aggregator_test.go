package sensors

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend lets tests control exactly which reads fail.
type fakeBackend struct {
	mu          sync.Mutex
	scaleFail   bool
	scaleValue  float64
	online      hardware.BridgeOnline
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{online: hardware.BridgeOnline{VFD: true, Meter: true, Scale: true, GPIO: true, Tank: true, LoRa: true}}
}

func (f *fakeBackend) ReadModbus(context.Context, string, int, int, int) ([]uint16, error) { return nil, nil }

func (f *fakeBackend) ReadScale(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scaleFail {
		return 0, errors.New("scale bridge down")
	}
	return f.scaleValue, nil
}

func (f *fakeBackend) ReadPressure(context.Context) (float64, float64, error) { return 2.0, 1.8, nil }
func (f *fakeBackend) ReadEnvironment(context.Context) (hardware.EnvironmentReading, error) {
	return hardware.EnvironmentReading{WaterTempC: 20, AtmTempC: 22, AtmHumidityPct: 45, AtmBaroHPa: 1013}, nil
}
func (f *fakeBackend) ReadTankLevel(context.Context) (float64, error) { return 85.0, nil }
func (f *fakeBackend) ReadGPIO(context.Context) (bool, bool, bool, error) { return false, true, true, nil }
func (f *fakeBackend) ReadValves(context.Context) (map[string]bool, string, error) {
	return map[string]bool{"SV1": false}, "BYPASS", nil
}
func (f *fakeBackend) ReadVFDStatus(context.Context) (hardware.VFDStatus, error) {
	return hardware.VFDStatus{}, nil
}
func (f *fakeBackend) ReadDUT(context.Context) (bool, float64, error) { return false, 0, nil }
func (f *fakeBackend) SetValve(context.Context, string, bool) error  { return nil }
func (f *fakeBackend) SetDiverter(context.Context, string) error     { return nil }
func (f *fakeBackend) WriteModbus(context.Context, int, int, uint16) error { return nil }
func (f *fakeBackend) TareScale(context.Context) error                    { return nil }
func (f *fakeBackend) SetTower(context.Context, bool, bool, bool, bool) error { return nil }
func (f *fakeBackend) LoRaSend(context.Context, []byte) bool               { return true }
func (f *fakeBackend) LoRaReceive() <-chan []byte                          { return nil }
func (f *fakeBackend) EmergencyStop(context.Context)                       {}
func (f *fakeBackend) Online() hardware.BridgeOnline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeBackend) setScale(fail bool, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scaleFail = fail
	f.scaleValue = value
}

func TestAggregatorPublishesSnapshotsAtCadence(t *testing.T) {
	back := newFakeBackend()
	back.setScale(false, 3.5)
	agg := New(back, nil, nil)

	var count int
	var mu sync.Mutex
	agg.Subscribe(func(Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	agg.Start()
	defer agg.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 2
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, 3.5, agg.Latest().WeightKg)
}

func TestAggregatorCarriesForwardLastValueOnReadFailure(t *testing.T) {
	back := newFakeBackend()
	back.setScale(false, 7.0)
	agg := New(back, nil, nil)
	agg.Start()
	defer agg.Stop()

	require.Eventually(t, func() bool { return agg.Latest().WeightKg == 7.0 }, time.Second, 10*time.Millisecond)

	back.setScale(true, 0)
	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, 7.0, agg.Latest().WeightKg, "failed scale read should carry forward the last good value, not zero it")
}

func TestSnapshotHelpersReflectValveState(t *testing.T) {
	s := Snapshot{Valves: map[string]bool{"SV1": true, "BV-L2": true}}
	assert.Equal(t, "BV-L2", s.OpenLaneValve())
	assert.True(t, s.AnyFlowPathOpen())

	s2 := Snapshot{Valves: map[string]bool{"SV1": true}}
	assert.Empty(t, s2.OpenLaneValve())
	assert.False(t, s2.AnyFlowPathOpen())

	s3 := Snapshot{Valves: map[string]bool{"BV-BP": true}}
	assert.True(t, s3.AnyFlowPathOpen())
}
