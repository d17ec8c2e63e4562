// Package hardware abstracts the bench's physical I/O (C6) behind one
// interface with two implementations: a real serial-bridge backend and a
// physics-based simulator. Every other component that touches hardware
// takes a Backend, never a concrete implementation.
package hardware

import "context"

// BridgeOnline reports, per named serial bridge, whether the most recent
// read/command succeeded.
type BridgeOnline struct {
	VFD   bool
	Meter bool
	Scale bool
	GPIO  bool
	Tank  bool
	LoRa  bool
}

// EnvironmentReading bundles the ambient sensors read off the GPIO/tank
// bridge in one call, mirroring how the original single-pass sensor sweep
// reads them together.
type EnvironmentReading struct {
	WaterTempC     float64
	AtmTempC       float64
	AtmHumidityPct float64
	AtmBaroHPa     float64
}

// VFDStatus is the pump/VFD bridge's status register readout.
type VFDStatus struct {
	Running     bool
	FrequencyHz float64
	TargetHz    float64
	CurrentA    float64
	FaultCode   int
}

// Backend is the single seam between the rest of the control plane and
// physical (or simulated) I/O.
type Backend interface {
	// Field-bus reads, used by the sensor aggregator (C7) and DUT
	// interface (C12).
	ReadModbus(ctx context.Context, channel string, addr, reg, count int) ([]uint16, error)
	ReadScale(ctx context.Context) (weightKg float64, err error)
	ReadPressure(ctx context.Context) (upstreamBar, downstreamBar float64, err error)
	ReadEnvironment(ctx context.Context) (EnvironmentReading, error)
	ReadTankLevel(ctx context.Context) (levelPct float64, err error)
	ReadGPIO(ctx context.Context) (estop, contactor, mcb bool, err error)
	ReadValves(ctx context.Context) (map[string]bool, diverter string, err error)
	ReadVFDStatus(ctx context.Context) (VFDStatus, error)
	ReadDUT(ctx context.Context) (connected bool, totalizerL float64, err error)

	// Actuator commands (C8), issued by the actuator controllers, never
	// directly by the engine.
	SetValve(ctx context.Context, name string, open bool) error
	SetDiverter(ctx context.Context, position string) error
	WriteModbus(ctx context.Context, addr, reg int, value uint16) error
	TareScale(ctx context.Context) error
	SetTower(ctx context.Context, red, yellow, green, buzzer bool) error

	// Radio channel, consumed exclusively by the link service (C5).
	LoRaSend(ctx context.Context, data []byte) bool
	LoRaReceive() <-chan []byte

	// EmergencyStop is the closure injected into the safety watchdog
	// (C10) to break the hardware/safety reference cycle: it drives every
	// actuator to its safe state directly, bypassing the normal
	// controller mutexes, because it must succeed even if a controller is
	// mid-operation.
	EmergencyStop(ctx context.Context)

	// Online reports the most recent per-bridge online flags.
	Online() BridgeOnline
}
