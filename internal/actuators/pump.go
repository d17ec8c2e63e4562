package actuators

import (
	"context"
	"sync"

	"github.com/acmis/benchcontroller/internal/benchrors"
	"github.com/acmis/benchcontroller/internal/hardware"
)

const (
	MinFrequencyHz = 5.0
	MaxFrequencyHz = 50.0
	reservoirMinPct = 70.0

	vfdModbusAddr = 1
	vfdCtrlReg    = 0x2000
	vfdFreqReg    = 0x2001

	vfdCmdRunForward   = 0x0001
	vfdCmdEmergencyStop = 0x0003
	vfdCmdNormalStop    = 0x0005
)

// Pump is the pump/VFD controller.
type Pump struct {
	mu      sync.Mutex
	backend hardware.Backend
	status  StatusSource
	valves  *Valves
	running bool
}

// NewPump constructs a pump controller. valves is used to check for an
// open flow path before starting.
func NewPump(backend hardware.Backend, status StatusSource, valves *Valves) *Pump {
	return &Pump{backend: backend, status: status, valves: valves}
}

// Start begins running the pump at frequencyHz, clamped to
// [MinFrequencyHz, MaxFrequencyHz], after checking the reservoir-level and
// flow-path interlocks.
func (p *Pump) Start(ctx context.Context, frequencyHz float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.status.Latest()
	if snap.ReservoirPct < reservoirMinPct {
		return benchrors.InterlockViolation("cannot start pump: reservoir below minimum level")
	}
	if p.valves != nil && !snap.AnyFlowPathOpen() {
		return benchrors.InterlockViolation("cannot start pump: no flow path open")
	}

	hz := clampFreq(frequencyHz)
	if err := p.backend.WriteModbus(ctx, vfdModbusAddr, vfdCtrlReg, vfdCmdRunForward); err != nil {
		return err
	}
	if err := p.backend.WriteModbus(ctx, vfdModbusAddr, vfdFreqReg, uint16(hz*100)); err != nil {
		return err
	}
	p.running = true
	return nil
}

// Stop performs a normal VFD stop.
func (p *Pump) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.backend.WriteModbus(ctx, vfdModbusAddr, vfdCtrlReg, vfdCmdNormalStop); err != nil {
		return err
	}
	p.running = false
	return nil
}

// EmergencyStop writes the VFD's emergency-stop register value directly,
// bypassing the running-state interlocks.
func (p *Pump) EmergencyStop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.backend.WriteModbus(ctx, vfdModbusAddr, vfdCtrlReg, vfdCmdEmergencyStop)
	p.running = false
	return err
}

// SetFrequency updates the running setpoint without changing run state.
func (p *Pump) SetFrequency(ctx context.Context, hz float64) error {
	return p.backend.WriteModbus(ctx, vfdModbusAddr, vfdFreqReg, uint16(clampFreq(hz)*100))
}

// IsRunning reports the controller's last-known run state.
func (p *Pump) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Status returns the backend's live VFD status readout.
func (p *Pump) Status(ctx context.Context) (hardware.VFDStatus, error) {
	return p.backend.ReadVFDStatus(ctx)
}

func clampFreq(hz float64) float64 {
	if hz < MinFrequencyHz {
		return MinFrequencyHz
	}
	if hz > MaxFrequencyHz {
		return MaxFrequencyHz
	}
	return hz
}
