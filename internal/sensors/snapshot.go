// Package sensors implements the sensor aggregator (C7): a fixed-cadence
// poller that turns the hardware backend's reads into one immutable,
// timestamped snapshot.
package sensors

import (
	"time"

	"github.com/acmis/benchcontroller/internal/hardware"
)

// Snapshot is an immutable, by-value record of every observable at one
// instant. It is never mutated after publication.
type Snapshot struct {
	Timestamp time.Time

	FlowRateLPerH    float64
	EMTotalizerL     float64
	WeightKg         float64
	WeightRawKg      float64
	PressureUpstream float64
	PressureDownstream float64
	WaterTempC       float64
	AtmTempC         float64
	AtmHumidityPct   float64
	AtmBaroHPa       float64
	ReservoirPct     float64

	DUTConnected  bool
	DUTTotalizerL float64

	PumpRunning    bool
	PumpFreqHz     float64
	PumpTargetHz   float64
	PumpCurrentA   float64
	PumpFaultCode  int

	Valves        map[string]bool
	Diverter      string

	TowerRed, TowerYellow, TowerGreen, TowerBuzzer bool

	EstopActive bool
	ContactorOn bool
	MCBOn       bool

	Online hardware.BridgeOnline
}

// OpenLaneValve returns the name of the one open lane valve, or "" if none
// is open.
func (s Snapshot) OpenLaneValve() string {
	for _, lane := range []string{"BV-L1", "BV-L2", "BV-L3"} {
		if s.Valves[lane] {
			return lane
		}
	}
	return ""
}

// AnyFlowPathOpen reports whether the main inlet (with a lane open) or the
// bypass is open.
func (s Snapshot) AnyFlowPathOpen() bool {
	return (s.Valves["SV1"] && s.OpenLaneValve() != "") || s.Valves["BV-BP"]
}
