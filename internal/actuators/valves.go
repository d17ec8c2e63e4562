// Package actuators implements the actuator controllers (C8): the valve
// controller (with lane mutual exclusion and interlocks), the pump/VFD
// controller, and the tower light.
package actuators

import (
	"context"
	"sync"

	"github.com/acmis/benchcontroller/internal/benchrors"
	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/acmis/benchcontroller/internal/sensors"
)

const (
	LaneBVL1 = "BV-L1"
	LaneBVL2 = "BV-L2"
	LaneBVL3 = "BV-L3"
	MainInlet = "SV1"
	Drain     = "SV-DRN"
	Bypass    = "BV-BP"
)

var sizeToLane = map[string]string{
	"DN25": LaneBVL1,
	"DN20": LaneBVL2,
	"DN15": LaneBVL3,
}

// StatusSource supplies the most recent sensor snapshot, used by the
// interlock checks. It is satisfied by *sensors.Aggregator.
type StatusSource interface {
	Latest() sensors.Snapshot
}

// Valves is the sole writer of valve and diverter state. All operations
// are serialized on one mutex, matching the physical bus's single-writer
// constraint.
type Valves struct {
	mu      sync.Mutex
	backend hardware.Backend
	status  StatusSource

	state        map[string]bool
	diverter     string
	pump         *Pump
}

// NewValves constructs a valve controller. pump may be nil during
// construction and wired afterward via SetPump, to break the init-order
// cycle between the valve and pump controllers' auto-stop interlock.
func NewValves(backend hardware.Backend, status StatusSource) *Valves {
	return &Valves{
		backend: backend,
		status:  status,
		state:   map[string]bool{MainInlet: false, LaneBVL1: false, LaneBVL2: false, LaneBVL3: false, Drain: false, Bypass: false},
		diverter: "BYPASS",
	}
}

// SetPump wires the pump controller this valve controller may auto-stop
// when the last open flow path closes (Scenario D).
func (v *Valves) SetPump(p *Pump) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pump = p
}

// Open opens a named valve, enforcing lane mutual exclusion and the main
// inlet interlock.
func (v *Valves) Open(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if name == MainInlet {
		snap := v.status.Latest()
		if !snap.DUTConnected {
			return benchrors.InterlockViolation("cannot open SV1: DUT not connected")
		}
		if v.activeLaneLocked() == "" {
			return benchrors.InterlockViolation("cannot open SV1: no lane valve open")
		}
	}

	if name == LaneBVL1 || name == LaneBVL2 || name == LaneBVL3 {
		for _, other := range []string{LaneBVL1, LaneBVL2, LaneBVL3} {
			if other != name && v.state[other] {
				if err := v.backend.SetValve(ctx, other, false); err != nil {
					return err
				}
				v.state[other] = false
			}
		}
	}

	if err := v.backend.SetValve(ctx, name, true); err != nil {
		return err
	}
	v.state[name] = true
	return nil
}

// Close closes a named valve. If it was the last open flow path and the
// pump is running, the pump is stopped in the same call (Scenario D).
func (v *Valves) Close(ctx context.Context, name string) error {
	v.mu.Lock()
	pump := v.pump
	v.mu.Unlock()

	v.mu.Lock()
	if err := v.backend.SetValve(ctx, name, false); err != nil {
		v.mu.Unlock()
		return err
	}
	v.state[name] = false
	anyPathOpen := v.anyFlowPathOpenLocked()
	v.mu.Unlock()

	if !anyPathOpen && pump != nil && pump.IsRunning() {
		return pump.Stop(ctx)
	}
	return nil
}

// CloseAll closes every valve and forces the diverter to BYPASS.
func (v *Valves) CloseAll(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for name := range v.state {
		if err := v.backend.SetValve(ctx, name, false); err != nil {
			return err
		}
		v.state[name] = false
	}
	if err := v.backend.SetDiverter(ctx, "BYPASS"); err != nil {
		return err
	}
	v.diverter = "BYPASS"
	return nil
}

// SelectLane maps a meter size (or raw lane name) to its lane valve and
// opens it.
func (v *Valves) SelectLane(ctx context.Context, sizeOrName string) error {
	lane, ok := sizeToLane[sizeOrName]
	if !ok {
		lane = sizeOrName
	}
	return v.Open(ctx, lane)
}

// SetDiverter routes flow to the scale (COLLECT) or recirculation (BYPASS).
func (v *Valves) SetDiverter(ctx context.Context, position string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.backend.SetDiverter(ctx, position); err != nil {
		return err
	}
	v.diverter = position
	return nil
}

// State reports whether a named valve is currently open.
func (v *Valves) State(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state[name]
}

// Diverter reports the current diverter position.
func (v *Valves) Diverter() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.diverter
}

// ActiveLane returns the currently open lane valve name, or "" if none.
func (v *Valves) ActiveLane() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activeLaneLocked()
}

func (v *Valves) activeLaneLocked() string {
	for _, lane := range []string{LaneBVL1, LaneBVL2, LaneBVL3} {
		if v.state[lane] {
			return lane
		}
	}
	return ""
}

func (v *Valves) anyFlowPathOpenLocked() bool {
	return (v.state[MainInlet] && v.activeLaneLocked() != "") || v.state[Bypass]
}
