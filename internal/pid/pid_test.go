package pid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// firstOrderPlant models x[k+1] = x[k] + 0.3*(50*u[k] - x[k]).
type firstOrderPlant struct {
	x float64
}

func (p *firstOrderPlant) step(u float64) float64 {
	p.x = p.x + 0.3*(50*u-p.x)
	return p.x
}

func runTicks(c *Controller, plant *firstOrderPlant, n int, start time.Time) (float64, time.Time) {
	now := start
	var u float64
	for i := 0; i < n; i++ {
		now = now.Add(DefaultSampleInterval)
		u = c.Update(plant.x, now)
		plant.step(u)
	}
	return u, now
}

func TestPIDConvergesWithinTenPercentAfter300Ticks(t *testing.T) {
	c := New(Config{Kp: 0.01, Ki: 0.02, Kd: 0.001, OutputMin: 5, OutputMax: 50, StabilityTolerancePct: 2, StabilitySamples: 5})
	c.SetSetpoint(1000)
	plant := &firstOrderPlant{}

	start := time.Unix(0, 0)
	_, _ = runTicks(c, plant, 300, start)

	ratio := absf(plant.x-1000) / 1000
	assert.Less(t, ratio, 0.10)
}

func TestPIDReportsStableAfterNOnSetpointReadings(t *testing.T) {
	c := New(Config{Kp: 0.01, Ki: 0.02, Kd: 0.001, OutputMin: 5, OutputMax: 50, StabilityTolerancePct: 2, StabilitySamples: 5})
	c.SetSetpoint(1000)
	plant := &firstOrderPlant{}

	start := time.Unix(0, 0)
	runTicks(c, plant, 300, start)
	assert.True(t, c.IsStable())
}

func TestPIDNotStableBeforeEnoughSamples(t *testing.T) {
	c := New(DefaultConfig())
	c.SetSetpoint(100)
	assert.False(t, c.IsStable())
}

func TestPIDAntiWindupRecoversAfterUnachievableSetpointDrops(t *testing.T) {
	c := New(Config{Kp: 0.01, Ki: 0.02, Kd: 0.001, OutputMin: 5, OutputMax: 50, StabilityTolerancePct: 2, StabilitySamples: 5})
	plant := &firstOrderPlant{}

	c.SetSetpoint(10000)
	start := time.Unix(0, 0)
	_, now := runTicks(c, plant, 200, start)

	c.SetSetpoint(250)
	plant.x = 250
	var output float64
	for i := 0; i < 50; i++ {
		now = now.Add(DefaultSampleInterval)
		output = c.Update(250, now)
		plant.step(output)
	}

	assert.LessOrEqual(t, output, 50.0)
	assert.Less(t, output, 50.0, "anti-windup should release the output from saturation once the setpoint is reachable again")
}

func TestPIDManualOverrideBypassesComputation(t *testing.T) {
	c := New(DefaultConfig())
	c.SetSetpoint(1000)
	c.SetOverride(33.0)

	out := c.Update(0, time.Now())
	assert.Equal(t, 33.0, out)

	c.ClearOverride()
	out = c.Update(0, time.Now().Add(time.Second))
	assert.NotEqual(t, 33.0, out)
}

func TestPIDOutputAlwaysClamped(t *testing.T) {
	c := New(Config{Kp: 10, Ki: 10, Kd: 0, OutputMin: 5, OutputMax: 50, StabilityTolerancePct: 2, StabilitySamples: 5})
	c.SetSetpoint(100000)
	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		now = now.Add(DefaultSampleInterval)
		out := c.Update(0, now)
		assert.GreaterOrEqual(t, out, 5.0)
		assert.LessOrEqual(t, out, 50.0)
	}
}
