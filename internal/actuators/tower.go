package actuators

import (
	"context"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/hardware"
)

// Pattern is a tower light display pattern.
type Pattern string

const (
	PatternOff         Pattern = "OFF"
	PatternReady       Pattern = "READY"
	PatternTesting     Pattern = "TESTING"
	PatternFault       Pattern = "FAULT"
	PatternEstop       Pattern = "ESTOP"
	PatternTestPass    Pattern = "TEST_PASS"
	PatternTestFail    Pattern = "TEST_FAIL"
	PatternStabilizing Pattern = "STABILIZING"
	PatternDraining    Pattern = "DRAINING"
)

const blinkPeriod = 500 * time.Millisecond

// blinking patterns alternate on/off until the pattern changes.
var blinking = map[Pattern]bool{
	PatternFault:       true,
	PatternEstop:       true,
	PatternStabilizing: true,
	PatternDraining:    true,
}

// colors maps each pattern to its steady-lit tower channels.
var colors = map[Pattern][3]bool{ // red, yellow, green
	PatternOff:         {false, false, false},
	PatternReady:       {false, false, true},
	PatternTesting:     {false, true, false},
	PatternFault:       {true, false, false},
	PatternEstop:       {true, false, false},
	PatternTestPass:    {false, false, true},
	PatternTestFail:    {true, false, false},
	PatternStabilizing: {false, true, false},
	PatternDraining:    {false, true, false},
}

// Tower drives the stack light, running its own blink timer for patterns
// that alternate.
type Tower struct {
	backend hardware.Backend

	mu      sync.Mutex
	current Pattern
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTower constructs a tower light controller in the OFF state.
func NewTower(backend hardware.Backend) *Tower {
	return &Tower{backend: backend, current: PatternOff}
}

// Set applies pattern, starting or stopping the blink timer as needed.
func (t *Tower) Set(ctx context.Context, pattern Pattern) error {
	t.mu.Lock()
	t.stopBlinkLocked()
	t.current = pattern
	rgb := colors[pattern]
	shouldBlink := blinking[pattern]
	t.mu.Unlock()

	buzzer := pattern == PatternEstop
	if err := t.backend.SetTower(ctx, rgb[0], rgb[1], rgb[2], buzzer); err != nil {
		return err
	}

	if shouldBlink {
		t.startBlink(rgb, buzzer)
	}
	return nil
}

func (t *Tower) startBlink(rgb [3]bool, buzzer bool) {
	t.mu.Lock()
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(blinkPeriod)
		defer ticker.Stop()
		on := true
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				on = !on
				ctx, cancel := context.WithTimeout(context.Background(), blinkPeriod)
				if on {
					_ = t.backend.SetTower(ctx, rgb[0], rgb[1], rgb[2], buzzer)
				} else {
					_ = t.backend.SetTower(ctx, false, false, false, false)
				}
				cancel()
			}
		}
	}()
}

func (t *Tower) stopBlinkLocked() {
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
}

// Current returns the last pattern applied.
func (t *Tower) Current() Pattern {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Stop halts any running blink timer.
func (t *Tower) Stop() {
	t.mu.Lock()
	t.stopBlinkLocked()
	t.mu.Unlock()
	t.wg.Wait()
}
