// Package pid implements the parallel-form PID flow controller (C9).
package pid

import (
	"sync"
	"time"
)

const (
	DefaultKp = 0.5
	DefaultKi = 0.1
	DefaultKd = 0.05

	DefaultOutputMinHz = 5.0
	DefaultOutputMaxHz = 50.0

	DefaultSampleInterval   = 200 * time.Millisecond
	minSampleInterval       = 10 * time.Millisecond
	DefaultStabilityPct     = 2.0
	DefaultStabilitySamples = 5
)

// Config parameterizes a Controller.
type Config struct {
	Kp, Ki, Kd         float64
	OutputMin, OutputMax float64
	StabilityTolerancePct float64
	StabilitySamples      int
}

// DefaultConfig returns the bench's documented PID defaults.
func DefaultConfig() Config {
	return Config{
		Kp: DefaultKp, Ki: DefaultKi, Kd: DefaultKd,
		OutputMin: DefaultOutputMinHz, OutputMax: DefaultOutputMaxHz,
		StabilityTolerancePct: DefaultStabilityPct,
		StabilitySamples:      DefaultStabilitySamples,
	}
}

// Controller is a parallel-form PID controller with derivative-on-
// measurement, back-calculating anti-windup, and a manual override. All
// state is protected by a single mutex so Update and manual-override
// toggles from different goroutines never interleave.
type Controller struct {
	mu sync.Mutex
	cfg Config

	setpoint    float64
	integral    float64
	lastMeasure float64
	haveLast    bool
	lastTick    time.Time

	overrideSet   bool
	overrideValue float64

	errorRatios []float64
}

// New constructs a Controller with the given configuration.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// SetSetpoint updates the target flow rate.
func (c *Controller) SetSetpoint(sp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = sp
}

// SetOverride forces Update to return value directly, bypassing
// computation, until ClearOverride is called.
func (c *Controller) SetOverride(value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrideSet = true
	c.overrideValue = value
}

// ClearOverride resumes normal PID computation.
func (c *Controller) ClearOverride() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrideSet = false
}

// Update computes the next output for the given measurement at time now.
func (c *Controller) Update(measurement float64, now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.overrideSet {
		return c.overrideValue
	}

	if !c.haveLast {
		c.lastMeasure = measurement
		c.lastTick = now
		c.haveLast = true
		return c.clamp(0)
	}

	dt := now.Sub(c.lastTick).Seconds()
	if dt < minSampleInterval.Seconds() {
		dt = minSampleInterval.Seconds()
	}

	err := c.setpoint - measurement
	c.recordErrorRatio(err)

	proportional := c.cfg.Kp * err

	derivative := -c.cfg.Kd * (measurement - c.lastMeasure) / dt

	unclampedIntegral := c.integral + c.cfg.Ki*err*dt
	output := proportional + unclampedIntegral + derivative
	clamped := c.clamp(output)

	if clamped != output && c.cfg.Ki != 0 {
		// Back-calculate: only accumulate the portion of the integral that
		// would not have caused clamping.
		c.integral = (clamped - proportional - derivative)
	} else {
		c.integral = unclampedIntegral
	}

	c.lastMeasure = measurement
	c.lastTick = now

	return clamped
}

func (c *Controller) clamp(v float64) float64 {
	if v < c.cfg.OutputMin {
		return c.cfg.OutputMin
	}
	if v > c.cfg.OutputMax {
		return c.cfg.OutputMax
	}
	return v
}

func (c *Controller) recordErrorRatio(err float64) {
	if c.setpoint == 0 {
		return
	}
	ratio := absf(err) / absf(c.setpoint) * 100
	c.errorRatios = append(c.errorRatios, ratio)
	if len(c.errorRatios) > c.cfg.StabilitySamples {
		c.errorRatios = c.errorRatios[len(c.errorRatios)-c.cfg.StabilitySamples:]
	}
}

// IsStable reports whether the last StabilitySamples error ratios were all
// within StabilityTolerancePct.
func (c *Controller) IsStable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errorRatios) < c.cfg.StabilitySamples {
		return false
	}
	for _, r := range c.errorRatios {
		if r > c.cfg.StabilityTolerancePct {
			return false
		}
	}
	return true
}

// Reset clears integral, history, and override state, keeping setpoint and
// configuration.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integral = 0
	c.haveLast = false
	c.errorRatios = nil
	c.overrideSet = false
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
