package safety

import (
	"sync"
	"testing"
	"time"

	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{PressureMaxBar: 8.0, ReservoirMinPct: 10, TempMinC: 0, TempMaxC: 40, ScaleMaxKg: 100}
}

func onlineSnapshot() sensors.Snapshot {
	return sensors.Snapshot{
		Online:       hardware.BridgeOnline{VFD: true, Meter: true, Scale: true, GPIO: true, Tank: true, LoRa: true},
		ContactorOn:  true,
		MCBOn:        true,
		ReservoirPct: 85,
		WaterTempC:   20,
	}
}

func TestOverpressureAlarmFires(t *testing.T) {
	w := New(Config{Limits: testLimits()})
	snap := onlineSnapshot()
	snap.PressureUpstream = 9.5

	alarms := w.Check(snap)
	require.Len(t, alarms, 1)
	assert.Equal(t, "OVERPRESSURE", alarms[0].Code)
	assert.Equal(t, Emergency, alarms[0].Severity)
}

func TestTempHighAlarmFires(t *testing.T) {
	w := New(Config{Limits: testLimits()})
	snap := onlineSnapshot()
	snap.WaterTempC = 45

	alarms := w.Check(snap)
	require.Len(t, alarms, 1)
	assert.Equal(t, "TEMP_HIGH", alarms[0].Code)
	assert.Equal(t, Critical, alarms[0].Severity)
}

func TestScaleOverloadAlarmFires(t *testing.T) {
	w := New(Config{Limits: testLimits()})
	snap := onlineSnapshot()
	snap.WeightRawKg = 200

	alarms := w.Check(snap)
	require.Len(t, alarms, 1)
	assert.Equal(t, "SCALE_OVERLOAD", alarms[0].Code)
	assert.Equal(t, Emergency, alarms[0].Severity)
}

func TestCombinedAlarmsUnion(t *testing.T) {
	w := New(Config{Limits: testLimits()})
	snap := onlineSnapshot()
	snap.PressureUpstream = 9.5
	snap.WaterTempC = 45
	snap.WeightRawKg = 200

	alarms := w.Check(snap)
	codes := map[string]bool{}
	for _, a := range alarms {
		codes[a.Code] = true
	}
	assert.True(t, codes["OVERPRESSURE"])
	assert.True(t, codes["TEMP_HIGH"])
	assert.True(t, codes["SCALE_OVERLOAD"])
}

func TestOfflineBridgeSuppressesFalseAlarm(t *testing.T) {
	w := New(Config{Limits: testLimits()})
	snap := onlineSnapshot()
	snap.PressureUpstream = 9.5
	snap.Online.GPIO = false

	alarms := w.Check(snap)
	assert.Empty(t, alarms)
}

func TestScalePowerToggleGatesWeightAlarms(t *testing.T) {
	w := New(Config{Limits: testLimits()})
	snap := onlineSnapshot()
	snap.WeightRawKg = 200

	w.SetScalePowered(false)
	assert.Empty(t, w.Check(snap))

	w.SetScalePowered(true)
	assert.Len(t, w.Check(snap), 1)
}

type fakeSource struct {
	mu   sync.Mutex
	snap sensors.Snapshot
}

func (f *fakeSource) Latest() sensors.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) set(s sensors.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

func TestEmergencyAlarmLatchesAndCallsEmergencyStopOnce(t *testing.T) {
	src := &fakeSource{snap: onlineSnapshot()}
	var stopCalls int
	var mu sync.Mutex

	w := New(Config{
		Limits: testLimits(),
		Source: src,
		EmergencyStop: func() {
			mu.Lock()
			stopCalls++
			mu.Unlock()
		},
	})

	w.Start()
	defer w.Stop()

	snap := onlineSnapshot()
	snap.PressureUpstream = 9.5
	src.set(snap)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopCalls == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(250 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, stopCalls, "latch must suppress a second emergency-stop while the alarm persists")
}

func TestAlarmClearsWhenConditionResolves(t *testing.T) {
	src := &fakeSource{snap: onlineSnapshot()}
	w := New(Config{Limits: testLimits(), Source: src})
	w.Start()
	defer w.Stop()

	snap := onlineSnapshot()
	snap.PressureUpstream = 9.5
	src.set(snap)

	require.Eventually(t, func() bool { return len(w.Active()) == 1 }, time.Second, 10*time.Millisecond)

	src.set(onlineSnapshot())
	require.Eventually(t, func() bool { return len(w.Active()) == 0 }, time.Second, 10*time.Millisecond)
}
