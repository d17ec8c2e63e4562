// Package engine implements the test execution engine (C13): the
// per-run orchestrator that drives the bench through PRE_CHECK, line
// selection, pump start, and one FLOW_STABILIZE/TARE_SCALE/MEASURE/
// CALCULATE/DRAIN cycle per Q-point, to COMPLETE or EMERGENCY_STOP.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/actuators"
	"github.com/acmis/benchcontroller/internal/benchrors"
	"github.com/acmis/benchcontroller/internal/dut"
	"github.com/acmis/benchcontroller/internal/gravimetric"
	"github.com/acmis/benchcontroller/internal/obsmetrics"
	"github.com/acmis/benchcontroller/internal/persistence"
	"github.com/acmis/benchcontroller/internal/pid"
	"github.com/acmis/benchcontroller/internal/safety"
	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/acmis/benchcontroller/internal/standards"
	"github.com/acmis/benchcontroller/pkg/logger"
)

// State is the engine's current orchestration phase.
type State string

const (
	StateIdle           State = "IDLE"
	StatePreCheck       State = "PRE_CHECK"
	StateLineSelect     State = "LINE_SELECT"
	StatePumpStart      State = "PUMP_START"
	StateFlowStabilize  State = "FLOW_STABILIZE"
	StateTareScale      State = "TARE_SCALE"
	StateMeasure        State = "MEASURE"
	StateCalculate      State = "CALCULATE"
	StateDrain          State = "DRAIN"
	StateNextPoint      State = "NEXT_POINT"
	StateComplete       State = "COMPLETE"
	StateEmergencyStop  State = "EMERGENCY_STOP"
)

const pollInterval = 100 * time.Millisecond // >= 5Hz abort-poll rate required by spec

const (
	preCheckReservoirMinPct = 30.0
	pumpStartTimeout        = 10 * time.Second
	flowStabilizeTimeout    = 15 * time.Second
	tareRetries              = 2
	measureWeightFraction    = 0.998
	drainThresholdKg         = 0.1
	manualSubmitTimeout      = 10 * time.Minute // operator timescale, not a poll interval
)

// StatusSource supplies the most recent sensor snapshot.
type StatusSource interface {
	Latest() sensors.Snapshot
}

// RunConfig parameterizes one calibration run.
type RunConfig struct {
	RunID       string
	MeterSerial string
	Size        string
	Class       string
	QPoints     []standards.QPoint
	DUTMode     dut.Mode
	OutputMinHz float64
}

// Dependencies are the components the engine drives. All are constructed
// and wired by the caller (normally cmd/benchd's main wiring).
type Dependencies struct {
	Valves  *actuators.Valves
	Pump    *actuators.Pump
	Tower   *actuators.Tower
	PID     *pid.Controller
	Grav    *gravimetric.Engine
	DUT     *dut.Interface
	Sensors StatusSource
	Safety  *safety.Watchdog
	Persist persistence.Hooks
	Log     *logger.Logger
	Metrics *obsmetrics.Metrics
}

// Engine is one in-flight calibration run.
type Engine struct {
	cfg  RunConfig
	deps Dependencies

	mu          sync.Mutex
	state       State
	currentQPt  string
	reason      string
	done        chan struct{}

	abortCh chan string
}

var (
	singletonMu sync.Mutex
	active      *Engine
)

// Start constructs and launches a new Engine as the module singleton. A
// second call while one run is active fails with EngineBusy.
func Start(cfg RunConfig, deps Dependencies) (*Engine, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if active != nil {
		return nil, benchrors.EngineBusy()
	}

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		state:   StateIdle,
		done:    make(chan struct{}),
		abortCh: make(chan string, 1),
	}
	active = e

	go e.run()
	return e, nil
}

// Active returns the currently running engine, or nil.
func Active() *Engine {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	return active
}

// AbortActive requests an abort of the active engine, if any.
func AbortActive(reason string) bool {
	e := Active()
	if e == nil {
		return false
	}
	e.Abort(reason)
	return true
}

// Abort requests a graceful unwind into EMERGENCY_STOP. Safe to call
// multiple times; only the first reason is kept.
func (e *Engine) Abort(reason string) {
	select {
	case e.abortCh <- reason:
	default:
	}
}

// State returns the engine's current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed once the engine reaches a terminal state.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	qp := e.currentQPt
	e.mu.Unlock()
	if e.deps.Metrics != nil {
		e.deps.Metrics.SetEngineState(string(s))
	}
	e.persistBestEffort(func() error {
		return e.deps.Persist.UpdateState(e.cfg.RunID, qp, string(s))
	})
}

func (e *Engine) setCurrentQPoint(name string) {
	e.mu.Lock()
	e.currentQPt = name
	e.mu.Unlock()
}

// checkAbort is the cooperative suspension point: it must be polled at
// every wait loop and between states.
func (e *Engine) checkAbort() (string, bool) {
	select {
	case reason := <-e.abortCh:
		return reason, true
	default:
		return "", false
	}
}

func (e *Engine) persistBestEffort(fn func() error) {
	if e.deps.Persist == nil {
		return
	}
	if err := fn(); err != nil && e.deps.Log != nil {
		e.deps.Log.WithField("error", err).Warn("persistence call failed; physical run continues")
	}
}

func (e *Engine) run() {
	defer func() {
		singletonMu.Lock()
		if active == e {
			active = nil
		}
		singletonMu.Unlock()
		close(e.done)
	}()

	ctx := context.Background()
	e.persistBestEffort(func() error { return e.deps.Persist.StartRun(e.cfg.RunID) })

	if reason, aborted := e.checkAbort(); aborted {
		e.emergencyStop(ctx, reason)
		return
	}

	e.setState(StatePreCheck)
	if err := e.preCheck(); err != nil {
		e.emergencyStop(ctx, err.Error())
		return
	}

	e.setState(StateLineSelect)
	if err := e.lineSelect(ctx); err != nil {
		e.emergencyStop(ctx, err.Error())
		return
	}

	e.setState(StatePumpStart)
	if err := e.pumpStart(ctx); err != nil {
		e.emergencyStop(ctx, err.Error())
		return
	}

	for _, qp := range e.cfg.QPoints {
		if reason, aborted := e.checkAbort(); aborted {
			e.emergencyStop(ctx, reason)
			return
		}
		e.setCurrentQPoint(qp.Name)

		metrics, err := e.runQPoint(ctx, qp)
		if err != nil {
			e.emergencyStop(ctx, err.Error())
			return
		}
		e.persistBestEffort(func() error { return e.deps.Persist.RecordPoint(e.cfg.RunID, metrics) })
		e.setState(StateNextPoint)
	}

	e.complete(ctx)
}

func (e *Engine) preCheck() error {
	snap := e.deps.Sensors.Latest()
	if e.deps.Safety != nil {
		if alarms := e.deps.Safety.Check(snap); len(alarms) > 0 {
			if e.deps.Metrics != nil {
				for _, a := range alarms {
					e.deps.Metrics.RecordAlarm(a.Code, string(a.Severity), len(alarms))
				}
			}
			return benchrors.PreCheckFailed("pre-check failed: active alarm " + alarms[0].Code)
		}
	}
	if snap.ReservoirPct < preCheckReservoirMinPct {
		return benchrors.PreCheckFailed("reservoir below pre-check minimum")
	}
	if e.cfg.DUTMode == dut.ModeFieldBus && !snap.DUTConnected {
		return benchrors.PreCheckFailed("DUT not connected for field-bus mode")
	}
	return nil
}

func (e *Engine) lineSelect(ctx context.Context) error {
	if err := e.deps.Valves.SelectLane(ctx, e.cfg.Size); err != nil {
		return err
	}
	if err := e.deps.Valves.SetDiverter(ctx, "BYPASS"); err != nil {
		return err
	}
	return e.deps.Valves.Open(ctx, actuators.MainInlet)
}

func (e *Engine) pumpStart(ctx context.Context) error {
	outputMin := e.cfg.OutputMinHz
	if outputMin == 0 {
		outputMin = actuators.MinFrequencyHz
	}
	if err := e.deps.Pump.Start(ctx, outputMin); err != nil {
		return err
	}

	deadline := time.Now().Add(pumpStartTimeout)
	for {
		status, err := e.deps.Pump.Status(ctx)
		if err == nil && status.Running {
			return nil
		}
		if time.Now().After(deadline) {
			return benchrors.PreCheckFailed("pump did not reach running state within timeout")
		}
		if reason, aborted := e.checkAbort(); aborted {
			e.requeueAbort(reason)
			return benchrors.AbortRequested(reason)
		}
		time.Sleep(pollInterval)
	}
}

func (e *Engine) requeueAbort(reason string) {
	select {
	case e.abortCh <- reason:
	default:
	}
}

func (e *Engine) runQPoint(ctx context.Context, qp standards.QPoint) (persistence.PointMetrics, error) {
	if err := e.flowStabilize(ctx, qp); err != nil {
		return persistence.PointMetrics{}, err
	}

	e.setState(StateTareScale)
	if err := e.tareWithRetry(ctx); err != nil {
		return persistence.PointMetrics{}, err
	}

	e.setState(StateMeasure)
	result, dutVolume, err := e.measure(ctx, qp)
	if err != nil {
		return persistence.PointMetrics{}, err
	}

	e.setState(StateCalculate)
	errorPct := standards.CalculateError(result.VolumeL, dutVolume)
	pass := standards.CheckPass(errorPct, qp.MPEPct)
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordPoint(pass)
	}

	e.setState(StateDrain)
	e.deps.PID.ClearOverride()
	_ = e.deps.Pump.SetFrequency(ctx, actuators.MinFrequencyHz)
	_ = e.deps.Grav.Drain(ctx, 60*time.Second, drainThresholdKg)

	return persistence.PointMetrics{
		QPoint:       qp.Name,
		RefVolumeL:   result.VolumeL,
		DUTVolumeL:   dutVolume,
		ErrorPct:     errorPct,
		MPEPct:       qp.MPEPct,
		Pass:         pass,
		CollectTimeS: result.CollectTimeS,
		AvgFlowLPerH: result.AvgFlowLPerH,
		TemperatureC: result.TemperatureC,
	}, nil
}

func (e *Engine) flowStabilize(ctx context.Context, qp standards.QPoint) error {
	e.setState(StateFlowStabilize)
	e.deps.PID.Reset()
	e.deps.PID.SetSetpoint(qp.FlowRateLPerH)

	deadline := time.Now().Add(flowStabilizeTimeout)
	last := time.Now()
	for {
		snap := e.deps.Sensors.Latest()
		out := e.deps.PID.Update(snap.FlowRateLPerH, time.Now())
		_ = e.deps.Pump.SetFrequency(ctx, out)
		if e.deps.Metrics != nil {
			e.deps.Metrics.SetPID(qp.FlowRateLPerH, out)
		}

		if e.deps.PID.IsStable() {
			return nil
		}
		if time.Now().After(deadline) {
			return nil // non-fatal per spec
		}
		if reason, aborted := e.checkAbort(); aborted {
			e.requeueAbort(reason)
			return benchrors.AbortRequested(reason)
		}
		sleepRemaining(pollInterval, &last)
	}
}

func sleepRemaining(interval time.Duration, last *time.Time) {
	elapsed := time.Since(*last)
	if elapsed < interval {
		time.Sleep(interval - elapsed)
	}
	*last = time.Now()
}

func (e *Engine) tareWithRetry(ctx context.Context) error {
	var err error
	for attempt := 0; attempt <= tareRetries; attempt++ {
		err = e.deps.Grav.Tare(ctx)
		if err == nil {
			return nil
		}
		if reason, aborted := e.checkAbort(); aborted {
			return benchrors.AbortRequested(reason)
		}
	}
	return err
}

func (e *Engine) measure(ctx context.Context, qp standards.QPoint) (gravimetric.Result, float64, error) {
	if err := e.deps.DUT.ReadBefore(ctx); err != nil {
		return gravimetric.Result{}, 0, err
	}
	// In MANUAL mode ReadBefore only armed WAITING_BEFORE; this is the
	// suspension point where the engine actually waits on operator input,
	// alongside abort, per the design's single-channel priority model.
	if err := e.deps.DUT.WaitSubmit("before", manualSubmitTimeout, e.abortCh); err != nil {
		return gravimetric.Result{}, 0, err
	}
	if err := e.deps.Grav.StartCollection(ctx); err != nil {
		return gravimetric.Result{}, 0, err
	}

	target := qp.TestVolumeL * measureWeightFraction
	deadline := time.Now().Add(2 * time.Duration(qp.DurationS) * time.Second)
	for {
		snap := e.deps.Sensors.Latest()
		if snap.WeightKg >= target {
			break
		}
		if time.Now().After(deadline) {
			break // non-fatal: measure what was collected
		}
		if reason, aborted := e.checkAbort(); aborted {
			return gravimetric.Result{}, 0, benchrors.AbortRequested(reason)
		}
		time.Sleep(pollInterval)
	}

	if err := e.deps.DUT.ReadAfter(ctx); err != nil {
		return gravimetric.Result{}, 0, err
	}
	if err := e.deps.DUT.WaitSubmit("after", manualSubmitTimeout, e.abortCh); err != nil {
		return gravimetric.Result{}, 0, err
	}

	result, err := e.deps.Grav.StopAndMeasure(ctx, 0)
	if err != nil {
		return gravimetric.Result{}, 0, err
	}
	return result, e.deps.DUT.Volume(), nil
}

func (e *Engine) complete(ctx context.Context) {
	e.deps.PID.ClearOverride()
	_ = e.deps.Pump.Stop(ctx)
	_ = e.deps.Valves.CloseAll(ctx)

	e.setState(StateComplete)

	overallPass := true
	for _, pt := range e.currentRunPoints() {
		if !pt.Pass {
			overallPass = false
			break
		}
	}

	if overallPass {
		if e.deps.Persist != nil {
			if _, err := e.deps.Persist.IssueCertificate(e.cfg.RunID); err != nil && e.deps.Log != nil {
				e.deps.Log.WithField("error", err).Warn("certificate issuance failed")
			}
		}
		_ = e.deps.Tower.Set(ctx, actuators.PatternTestPass)
	} else {
		_ = e.deps.Tower.Set(ctx, actuators.PatternTestFail)
	}

	e.persistBestEffort(func() error { return e.deps.Persist.CompleteRun(e.cfg.RunID) })
}

func (e *Engine) currentRunPoints() []persistence.PointMetrics {
	if store, ok := e.deps.Persist.(interface {
		Points(string) []persistence.PointMetrics
	}); ok {
		return store.Points(e.cfg.RunID)
	}
	return nil
}

func (e *Engine) emergencyStop(ctx context.Context, reason string) {
	e.mu.Lock()
	e.reason = reason
	e.mu.Unlock()

	e.deps.PID.ClearOverride()
	_ = e.deps.Pump.EmergencyStop(ctx)
	_ = e.deps.Valves.CloseAll(ctx)
	_ = e.deps.Tower.Set(ctx, actuators.PatternEstop)

	e.setState(StateEmergencyStop)
	e.persistBestEffort(func() error { return e.deps.Persist.AbortRun(e.cfg.RunID, reason) })
}

// Reason returns the human-readable cause attached to an aborted run, if
// any.
func (e *Engine) Reason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}
