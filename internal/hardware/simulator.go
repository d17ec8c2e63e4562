package hardware

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	laneBVL1 = "BV-L1"
	laneBVL2 = "BV-L2"
	laneBVL3 = "BV-L3"
	valveSV1 = "SV1"
	valveDRN = "SV-DRN"
	valveBYP = "BV-BP"

	vfdRampRateHzPerS = 5.0
	scaleWaterDensity = 998.2 // kg/m^3, used for the simulated mass-rate model
)

// Simulator is a pure, deterministic-aside-from-noise physics model of the
// bench: it turns actuator commands and elapsed wall-clock time into a new
// internal state, and is read back out through the same Backend interface
// real hardware would satisfy.
type Simulator struct {
	mu sync.Mutex
	rng *rand.Rand

	valves    map[string]bool
	diverter  string // COLLECT | BYPASS

	vfdRunning  bool
	vfdTarget   float64
	vfdActual   float64
	vfdCurrent  float64
	vfdFault    int

	flowLPerH      float64
	emTotalizerL   float64
	dutConnected   bool
	dutTotalizerL  float64
	dutErrorPct    float64

	upstreamBar   float64
	downstreamBar float64

	scaleRawKg    float64
	scaleTareKg   float64

	waterTempC     float64
	atmTempC       float64
	atmHumidityPct float64
	atmBaroHPa     float64

	reservoirPct float64

	estopActive bool
	contactorOn bool
	mcbOn       bool

	towerRed, towerYellow, towerGreen, towerBuzzer bool

	loraInbound chan []byte

	lastTick time.Time
}

// NewSimulator constructs a simulator in its quiescent, powered-down state.
func NewSimulator() *Simulator {
	s := &Simulator{
		rng:            rand.New(rand.NewSource(1)),
		valves:         map[string]bool{valveSV1: false, laneBVL1: false, laneBVL2: false, laneBVL3: false, valveDRN: false, valveBYP: false},
		diverter:       "BYPASS",
		waterTempC:     20.0,
		atmTempC:       22.0,
		atmHumidityPct: 45.0,
		atmBaroHPa:     1013.0,
		reservoirPct:   85.0,
		contactorOn:    true,
		mcbOn:          true,
		loraInbound:    make(chan []byte, 64),
		lastTick:       time.Now(),
	}
	return s
}

// Tick advances the physics model by dt. It must be called periodically by
// whatever drives the simulator (normally the sensor aggregator's own
// ticker, so the model advances at the same cadence it is observed at).
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	dt := now.Sub(s.lastTick).Seconds()
	s.lastTick = now
	if dt <= 0 {
		return
	}

	s.updateVFD(dt)
	s.updateFlow(dt)
	s.updatePressures()
	s.updateScale(dt)
	s.updateEnvironment(dt)
	s.updateReservoir(dt)
}

func (s *Simulator) updateVFD(dt float64) {
	if s.vfdActual < s.vfdTarget {
		s.vfdActual = math.Min(s.vfdActual+vfdRampRateHzPerS*dt, s.vfdTarget)
	} else if s.vfdActual > s.vfdTarget {
		s.vfdActual = math.Max(s.vfdActual-vfdRampRateHzPerS*dt, s.vfdTarget)
	}
	if s.vfdRunning && s.vfdActual > 0 {
		s.vfdCurrent = s.vfdActual*0.15 + s.noise(0.05)
	} else {
		s.vfdCurrent = 0
	}
}

func (s *Simulator) updateFlow(dt float64) {
	lanOpen := s.valves[laneBVL1] || s.valves[laneBVL2] || s.valves[laneBVL3]
	pathOpen := s.valves[valveSV1] && lanOpen
	bypassOpen := s.valves[valveBYP]

	if (pathOpen || bypassOpen) && s.vfdActual > 0 {
		base := s.vfdActual * 50.0 // 50Hz -> 2500 L/h
		if bypassOpen && !pathOpen {
			base *= 0.02 // bypass recirculates, negligible measured flow
		}
		s.flowLPerH = base * (1 + s.noise(0.005))
	} else {
		s.flowLPerH *= 0.9
	}
	if s.flowLPerH < 0.01 {
		s.flowLPerH = 0
	}

	flowLPerSec := s.flowLPerH / 3600.0
	s.emTotalizerL += flowLPerSec * dt
	if s.dutConnected {
		s.dutTotalizerL += flowLPerSec * (1 + s.dutErrorPct/100) * dt
	}
}

func (s *Simulator) updatePressures() {
	if s.flowLPerH > 10 {
		s.upstreamBar = 1.5 + (s.flowLPerH/2500)*4.5 + s.noise(0.05)
		s.downstreamBar = s.upstreamBar - 0.1 - (s.flowLPerH/2500)*0.3 + s.noise(0.03)
	} else {
		s.upstreamBar *= 0.95
		s.downstreamBar *= 0.95
	}
}

func (s *Simulator) updateScale(dt float64) {
	if s.diverter == "COLLECT" && s.flowLPerH > 10 {
		massRateKgPerS := (s.flowLPerH / 3600.0) * (scaleWaterDensity / 1000.0)
		s.scaleRawKg += massRateKgPerS*dt + s.noise(0.002)
	}
	if s.valves[valveDRN] {
		s.scaleRawKg -= 5.0 * dt
		if s.scaleRawKg < 0 {
			s.scaleRawKg = 0
		}
	}
}

func (s *Simulator) updateEnvironment(dt float64) {
	s.atmTempC = clamp(s.atmTempC+s.noise(0.01*dt), 15, 35)
	s.atmHumidityPct = clamp(s.atmHumidityPct+s.noise(0.1*dt), 20, 80)
}

func (s *Simulator) updateReservoir(dt float64) {
	if s.diverter == "COLLECT" && s.flowLPerH > 10 {
		s.reservoirPct = clamp(s.reservoirPct-0.001*s.flowLPerH*dt, 0, 100)
	}
	if s.valves[valveDRN] {
		s.reservoirPct = clamp(s.reservoirPct+0.02*dt, 0, 100)
	}
}

func (s *Simulator) noise(scale float64) float64 {
	return (s.rng.Float64()*2 - 1) * scale
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Connect/disconnect and emergency-stop hooks used by tests and the engine
// harness; these are not part of the Backend interface because they
// represent bench-operator or test-harness actions, not commands any
// controller would issue over a serial channel.

func (s *Simulator) ConnectDUT(errorPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dutConnected = true
	s.dutErrorPct = errorPct
	s.dutTotalizerL = 0
}

func (s *Simulator) DisconnectDUT() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dutConnected = false
}

func (s *Simulator) SetReservoirPct(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservoirPct = pct
}

func (s *Simulator) TriggerEstop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estopActive = true
	s.contactorOn = false
	s.vfdRunning = false
	s.vfdTarget = 0
	s.vfdActual = 0
	for name := range s.valves {
		s.valves[name] = false
	}
	s.towerRed, s.towerYellow, s.towerGreen, s.towerBuzzer = true, false, false, true
}

func (s *Simulator) ResetEstop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estopActive = false
	s.contactorOn = true
}

// --- Backend interface ---

func (s *Simulator) ReadModbus(_ context.Context, channel string, addr, reg, count int) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel == "meter" && addr == 20 && reg == 0 && count == 2 {
		total := uint32(s.dutTotalizerL * 1000) // millilitres, split across two registers
		return []uint16{uint16(total >> 16), uint16(total)}, nil
	}
	return make([]uint16, count), nil
}

func (s *Simulator) ReadScale(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scaleRawKg - s.scaleTareKg, nil
}

func (s *Simulator) ReadPressure(_ context.Context) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstreamBar, s.downstreamBar, nil
}

func (s *Simulator) ReadEnvironment(_ context.Context) (EnvironmentReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EnvironmentReading{
		WaterTempC:     s.waterTempC,
		AtmTempC:       s.atmTempC,
		AtmHumidityPct: s.atmHumidityPct,
		AtmBaroHPa:     s.atmBaroHPa,
	}, nil
}

func (s *Simulator) ReadTankLevel(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservoirPct, nil
}

func (s *Simulator) ReadGPIO(_ context.Context) (bool, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estopActive, s.contactorOn, s.mcbOn, nil
}

func (s *Simulator) ReadValves(_ context.Context) (map[string]bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.valves))
	for k, v := range s.valves {
		out[k] = v
	}
	return out, s.diverter, nil
}

func (s *Simulator) ReadVFDStatus(_ context.Context) (VFDStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return VFDStatus{
		Running:     s.vfdRunning,
		FrequencyHz: s.vfdActual,
		TargetHz:    s.vfdTarget,
		CurrentA:    s.vfdCurrent,
		FaultCode:   s.vfdFault,
	}, nil
}

func (s *Simulator) ReadDUT(_ context.Context) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dutConnected, s.dutTotalizerL, nil
}

func (s *Simulator) SetValve(_ context.Context, name string, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open && (name == laneBVL1 || name == laneBVL2 || name == laneBVL3) {
		for _, other := range []string{laneBVL1, laneBVL2, laneBVL3} {
			if other != name {
				s.valves[other] = false
			}
		}
	}
	s.valves[name] = open
	return nil
}

func (s *Simulator) SetDiverter(_ context.Context, position string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diverter = position
	return nil
}

func (s *Simulator) WriteModbus(_ context.Context, addr, reg int, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// VFD control register: 0x0001 run-forward, 0x0003 emergency-stop, 0x0005 normal-stop.
	if reg == 0x2000 {
		switch value {
		case 0x0001:
			s.vfdRunning = true
		case 0x0003, 0x0005:
			s.vfdRunning = false
			s.vfdTarget = 0
		}
		return nil
	}
	if reg == 0x2001 {
		s.vfdTarget = float64(value) / 100.0 // register stores centihertz
		return nil
	}
	return nil
}

func (s *Simulator) TareScale(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scaleTareKg = s.scaleRawKg
	return nil
}

func (s *Simulator) SetTower(_ context.Context, red, yellow, green, buzzer bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.towerRed, s.towerYellow, s.towerGreen, s.towerBuzzer = red, yellow, green, buzzer
	return nil
}

func (s *Simulator) LoRaSend(_ context.Context, data []byte) bool {
	// In the simulator, transmissions loop back only if a test harness
	// wires InjectInbound; a bare simulator run has no remote peer.
	return true
}

func (s *Simulator) LoRaReceive() <-chan []byte {
	return s.loraInbound
}

// InjectInbound lets a test harness simulate the lab sending a frame.
func (s *Simulator) InjectInbound(frame []byte) {
	s.loraInbound <- frame
}

func (s *Simulator) EmergencyStop(ctx context.Context) {
	s.TriggerEstop()
}

func (s *Simulator) Online() BridgeOnline {
	return BridgeOnline{VFD: true, Meter: true, Scale: true, GPIO: true, Tank: true, LoRa: true}
}

// SetFrequency is used by the VFD controller's real-time setpoint path;
// routed through WriteModbus in the real backend, exposed directly here
// since the simulator has no register indirection to model.
func (s *Simulator) SetFrequency(hz float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vfdTarget = hz
}
