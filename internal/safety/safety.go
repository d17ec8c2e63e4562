// Package safety implements the safety watchdog (C10): alarm evaluation
// over the latest sensor snapshot, alarm-set diffing, and the
// emergency-stop latch.
package safety

import (
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/acmis/benchcontroller/pkg/logger"
)

const pollInterval = 200 * time.Millisecond

// Severity classifies an Alarm's urgency.
type Severity string

const (
	Warning   Severity = "WARNING"
	Critical  Severity = "CRITICAL"
	Emergency Severity = "EMERGENCY"
)

// Alarm describes one active safety condition.
type Alarm struct {
	Code     string
	Severity Severity
	Message  string
	Value    float64
	Limit    float64
}

// Limits holds the configured thresholds the watchdog evaluates against.
type Limits struct {
	PressureMaxBar float64
	ReservoirMinPct float64
	TempMinC, TempMaxC float64
	ScaleMaxKg float64
}

// EmergencyStopFunc is injected at construction to break the
// hardware/safety reference cycle: the watchdog calls it directly rather
// than depending on the hardware package.
type EmergencyStopFunc func()

// Watchdog polls a snapshot source at 200ms cadence and evaluates alarms.
type Watchdog struct {
	limits       Limits
	source       interface{ Latest() sensors.Snapshot }
	emergencyStop EmergencyStopFunc
	log          *logger.Logger

	mu            sync.Mutex
	active        map[string]Alarm
	latched       bool
	scalePowered  bool
	listeners     []func(Alarm)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures a new Watchdog.
type Config struct {
	Limits        Limits
	Source        interface{ Latest() sensors.Snapshot }
	EmergencyStop EmergencyStopFunc
	Log           *logger.Logger
}

// New constructs a Watchdog with weight-derived alarms enabled by default.
func New(cfg Config) *Watchdog {
	return &Watchdog{
		limits:        cfg.Limits,
		source:        cfg.Source,
		emergencyStop: cfg.EmergencyStop,
		log:           cfg.Log,
		active:        make(map[string]Alarm),
		scalePowered:  true,
		stopCh:        make(chan struct{}),
	}
}

// SetScalePowered gates the weight-derived alarms (SCALE_OVERLOAD). When
// false, a powered-down scale's stale or zero reading cannot trigger a
// false alarm.
func (w *Watchdog) SetScalePowered(powered bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scalePowered = powered
}

// OnAlarm registers a callback invoked for every newly raised alarm.
func (w *Watchdog) OnAlarm(fn func(Alarm)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start launches the polling loop.
func (w *Watchdog) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the polling loop.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

// ResetLatch clears the emergency-stop latch, allowing a future EMERGENCY
// alarm to trigger emergency-stop again.
func (w *Watchdog) ResetLatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latched = false
}

// Active returns a snapshot of the currently active alarms.
func (w *Watchdog) Active() []Alarm {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Alarm, 0, len(w.active))
	for _, a := range w.active {
		out = append(out, a)
	}
	return out
}

func (w *Watchdog) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.evaluate(w.source.Latest())
		}
	}
}

// Check is a pure, callback-free pre-flight variant used by the engine
// before starting a run.
func (w *Watchdog) Check(snap sensors.Snapshot) []Alarm {
	w.mu.Lock()
	scalePowered := w.scalePowered
	w.mu.Unlock()
	return evaluateAlarms(snap, w.limits, scalePowered)
}

func (w *Watchdog) evaluate(snap sensors.Snapshot) {
	w.mu.Lock()
	scalePowered := w.scalePowered
	w.mu.Unlock()

	current := evaluateAlarms(snap, w.limits, scalePowered)
	currentByCode := make(map[string]Alarm, len(current))
	for _, a := range current {
		currentByCode[a.Code] = a
	}

	w.mu.Lock()
	var cleared []string
	for code := range w.active {
		if _, stillActive := currentByCode[code]; !stillActive {
			cleared = append(cleared, code)
		}
	}
	for _, code := range cleared {
		delete(w.active, code)
	}

	var fresh []Alarm
	for code, a := range currentByCode {
		if _, already := w.active[code]; !already {
			fresh = append(fresh, a)
		}
		w.active[code] = a
	}
	var listeners []func(Alarm)
	listeners = append(listeners, w.listeners...)
	latched := w.latched
	w.mu.Unlock()

	for _, code := range cleared {
		if w.log != nil {
			w.log.WithField("alarm", code).Info("alarm CLEARED")
		}
	}

	for _, a := range fresh {
		if w.log != nil {
			w.log.WithField("alarm", a.Code).WithField("severity", a.Severity).Warn(a.Message)
		}
		for _, fn := range listeners {
			fn(a)
		}
		if a.Severity == Emergency && !latched {
			w.mu.Lock()
			w.latched = true
			w.mu.Unlock()
			latched = true
			if w.emergencyStop != nil {
				w.emergencyStop()
			}
		}
	}
}

func evaluateAlarms(snap sensors.Snapshot, limits Limits, scalePowered bool) []Alarm {
	var alarms []Alarm

	if snap.Online.GPIO {
		if snap.PressureUpstream > limits.PressureMaxBar {
			alarms = append(alarms, Alarm{Code: "OVERPRESSURE", Severity: Emergency,
				Message: "upstream pressure exceeds maximum", Value: snap.PressureUpstream, Limit: limits.PressureMaxBar})
		}
		if snap.EstopActive {
			alarms = append(alarms, Alarm{Code: "ESTOP_ACTIVE", Severity: Emergency, Message: "emergency stop input active"})
		}
		if !snap.ContactorOn {
			alarms = append(alarms, Alarm{Code: "CONTACTOR_TRIP", Severity: Emergency, Message: "contactor off while expected on"})
		}
		if !snap.MCBOn {
			alarms = append(alarms, Alarm{Code: "MCB_TRIP", Severity: Emergency, Message: "main circuit breaker tripped"})
		}
		if snap.WaterTempC > limits.TempMaxC {
			alarms = append(alarms, Alarm{Code: "TEMP_HIGH", Severity: Critical,
				Message: "water temperature above maximum", Value: snap.WaterTempC, Limit: limits.TempMaxC})
		}
		if snap.WaterTempC < limits.TempMinC {
			alarms = append(alarms, Alarm{Code: "TEMP_LOW", Severity: Critical,
				Message: "water temperature below minimum", Value: snap.WaterTempC, Limit: limits.TempMinC})
		}
	}

	if snap.Online.Tank && snap.ReservoirPct < limits.ReservoirMinPct {
		alarms = append(alarms, Alarm{Code: "LOW_RESERVOIR", Severity: Critical,
			Message: "reservoir level below minimum", Value: snap.ReservoirPct, Limit: limits.ReservoirMinPct})
	}

	if snap.Online.Scale && scalePowered && snap.WeightRawKg > limits.ScaleMaxKg {
		alarms = append(alarms, Alarm{Code: "SCALE_OVERLOAD", Severity: Emergency,
			Message: "scale raw weight above maximum", Value: snap.WeightRawKg, Limit: limits.ScaleMaxKg})
	}

	if snap.Online.VFD && snap.PumpFaultCode != 0 {
		alarms = append(alarms, Alarm{Code: "VFD_FAULT", Severity: Critical,
			Message: "VFD reports a nonzero fault code", Value: float64(snap.PumpFaultCode)})
	}

	return alarms
}
