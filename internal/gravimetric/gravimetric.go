// Package gravimetric implements the gravimetric measurement engine (C11):
// tare, collection, settle-and-read, and drain, against the reference
// scale and diverter.
package gravimetric

import (
	"context"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/benchrors"
	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/acmis/benchcontroller/internal/standards"
)

// State is the engine's current phase.
type State string

const (
	StateIdle       State = "IDLE"
	StateTaring     State = "TARING"
	StateCollecting State = "COLLECTING"
	StateSettling   State = "SETTLING"
	StateReading    State = "READING"
	StateComplete   State = "COMPLETE"
	StateError      State = "ERROR"
)

const (
	defaultTareTolerance = 0.020 // kg
	tareTimeout          = 5 * time.Second
	tarePollInterval     = 100 * time.Millisecond

	defaultSettle = 2 * time.Second

	defaultDrainThreshold = 0.1 // kg
	drainPollInterval     = 200 * time.Millisecond
)

// Result is the outcome of one stop_and_measure call.
type Result struct {
	Success        bool
	NetMassKg      float64
	TemperatureC   float64
	DensityKgPerL  float64
	VolumeL        float64
	CollectTimeS   float64
	AvgFlowLPerH   float64
}

// Engine drives the reference scale and diverter through one
// tare/collect/measure/drain cycle at a time.
type Engine struct {
	backend hardware.Backend

	mu              sync.Mutex
	state           State
	collectStart    time.Time
}

// New constructs an Engine in the IDLE state.
func New(backend hardware.Backend) *Engine {
	return &Engine{backend: backend, state: StateIdle}
}

// State returns the engine's current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Tare switches the diverter to BYPASS, commands a scale tare, and polls
// until the tared weight settles within tolerance, returning to IDLE on
// success.
func (e *Engine) Tare(ctx context.Context) error {
	e.mu.Lock()
	e.state = StateTaring
	e.mu.Unlock()

	if err := e.backend.SetDiverter(ctx, "BYPASS"); err != nil {
		return e.fail(err)
	}
	if err := e.backend.TareScale(ctx); err != nil {
		return e.fail(err)
	}

	deadline := time.Now().Add(tareTimeout)
	for {
		w, err := e.backend.ReadScale(ctx)
		if err != nil {
			return e.fail(err)
		}
		if absf(w) <= defaultTareTolerance {
			e.mu.Lock()
			e.state = StateIdle
			e.mu.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			return e.fail(benchrors.MeasurementInvalid("tare did not settle within timeout"))
		}
		select {
		case <-ctx.Done():
			return e.fail(ctx.Err())
		case <-time.After(tarePollInterval):
		}
	}
}

// StartCollection switches the diverter to COLLECT and records the
// collection start time.
func (e *Engine) StartCollection(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.backend.SetDiverter(ctx, "COLLECT"); err != nil {
		e.state = StateError
		return err
	}
	e.state = StateCollecting
	e.collectStart = time.Now()
	return nil
}

// StopAndMeasure switches the diverter back to BYPASS, waits settle for
// free-falling water to finish entering the tank, then samples the scale
// and environment to compute a gravimetric result.
func (e *Engine) StopAndMeasure(ctx context.Context, settle time.Duration) (Result, error) {
	if settle <= 0 {
		settle = defaultSettle
	}

	e.mu.Lock()
	start := e.collectStart
	e.state = StateSettling
	e.mu.Unlock()

	if err := e.backend.SetDiverter(ctx, "BYPASS"); err != nil {
		return Result{}, e.fail(err)
	}

	select {
	case <-ctx.Done():
		return Result{}, e.fail(ctx.Err())
	case <-time.After(settle):
	}

	e.mu.Lock()
	e.state = StateReading
	e.mu.Unlock()

	weight, err := e.backend.ReadScale(ctx)
	if err != nil {
		return Result{}, e.fail(err)
	}
	env, err := e.backend.ReadEnvironment(ctx)
	if err != nil {
		return Result{}, e.fail(err)
	}

	density := standards.WaterDensity(env.WaterTempC)
	volume := weight / density
	collectTimeS := time.Since(start).Seconds()

	var avgFlow float64
	if collectTimeS > 0 {
		avgFlow = (volume / collectTimeS) * 3600
	}

	e.mu.Lock()
	e.state = StateComplete
	e.mu.Unlock()

	return Result{
		Success:       true,
		NetMassKg:     weight,
		TemperatureC:  env.WaterTempC,
		DensityKgPerL: density,
		VolumeL:       volume,
		CollectTimeS:  collectTimeS,
		AvgFlowLPerH:  avgFlow,
	}, nil
}

// Drain opens the drain valve and waits until the tared weight falls to
// or below threshold, then closes it. A timeout is non-fatal: the valve is
// still closed and nil is returned.
func (e *Engine) Drain(ctx context.Context, timeout time.Duration, threshold float64) error {
	if threshold <= 0 {
		threshold = defaultDrainThreshold
	}

	if err := e.backend.SetValve(ctx, "SV-DRN", true); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		w, err := e.backend.ReadScale(ctx)
		if err == nil && w <= threshold {
			break
		}
		if time.Now().After(deadline) {
			break // non-fatal
		}
		select {
		case <-ctx.Done():
			_ = e.backend.SetValve(ctx, "SV-DRN", false)
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}

	if err := e.backend.SetValve(ctx, "SV-DRN", false); err != nil {
		return err
	}

	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()
	return nil
}

func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.state = StateError
	e.mu.Unlock()
	return err
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
