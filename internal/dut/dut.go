// Package dut implements the device-under-test interface (C12): reading a
// DUT's totalizer before and after a collection, either over the field
// bus or via operator-submitted manual entry.
package dut

import (
	"context"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/benchrors"
	"github.com/acmis/benchcontroller/internal/hardware"
)

// Mode selects how the DUT's totalizer is read.
type Mode string

const (
	ModeFieldBus Mode = "FIELD_BUS"
	ModeManual   Mode = "MANUAL"
)

// State is the interface's current phase.
type State string

const (
	StateIdle          State = "IDLE"
	StateWaitingBefore State = "WAITING_BEFORE"
	StateMeasuring     State = "MEASURING"
	StateWaitingAfter  State = "WAITING_AFTER"
	StateComplete      State = "COMPLETE"
	StateError         State = "ERROR"
)

const (
	meterAddr = 20
	meterReg  = 0
	meterWords = 2
)

// Reading pairs a totalizer value with when it was taken.
type Reading struct {
	ValueL float64
	At     time.Time
}

// Interface is the DUT totalizer reader.
type Interface struct {
	mode    Mode
	backend hardware.Backend

	mu     sync.Mutex
	state  State
	before *Reading
	after  *Reading

	// beforeReady/afterReady are (re)created by read() each time it
	// enters WAITING_BEFORE/WAITING_AFTER in MANUAL mode, and closed by
	// Submit once the matching slot is filled. WaitSubmit blocks on
	// whichever one is current.
	beforeReady chan struct{}
	afterReady  chan struct{}
}

// New constructs an Interface in the given mode.
func New(mode Mode, backend hardware.Backend) *Interface {
	return &Interface{mode: mode, backend: backend, state: StateIdle}
}

// State returns the interface's current phase.
func (d *Interface) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ReadBefore takes the pre-collection totalizer reading. In FIELD_BUS
// mode it reads the meter bridge directly; in MANUAL mode it transitions
// to WAITING_BEFORE and the caller must later call Submit.
func (d *Interface) ReadBefore(ctx context.Context) error {
	return d.read(ctx, true)
}

// ReadAfter takes the post-collection totalizer reading, mirroring
// ReadBefore.
func (d *Interface) ReadAfter(ctx context.Context) error {
	return d.read(ctx, false)
}

func (d *Interface) read(ctx context.Context, before bool) error {
	if d.mode == ModeManual {
		d.mu.Lock()
		if before {
			d.state = StateWaitingBefore
			d.beforeReady = make(chan struct{})
		} else {
			d.state = StateWaitingAfter
			d.afterReady = make(chan struct{})
		}
		d.mu.Unlock()
		return nil
	}

	words, err := d.backend.ReadModbus(ctx, "meter", meterAddr, meterReg, meterWords)
	if err != nil {
		d.mu.Lock()
		d.state = StateError
		d.mu.Unlock()
		return err
	}
	totalMl := uint32(words[0])<<16 | uint32(words[1])
	reading := Reading{ValueL: float64(totalMl) / 1000.0, At: time.Now()}

	d.mu.Lock()
	defer d.mu.Unlock()
	if before {
		d.before = &reading
		d.state = StateMeasuring
	} else {
		d.after = &reading
		d.state = StateComplete
	}
	return nil
}

// Submit records an operator-entered totalizer reading in MANUAL mode.
// after must be >= before must be >= 0.
func (d *Interface) Submit(which string, value float64, by string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if value < 0 {
		return benchrors.MeasurementInvalid("manual reading must be non-negative")
	}

	reading := Reading{ValueL: value, At: time.Now()}
	switch which {
	case "before":
		d.before = &reading
		d.state = StateMeasuring
		if d.beforeReady != nil {
			close(d.beforeReady)
			d.beforeReady = nil
		}
	case "after":
		if d.before != nil && value < d.before.ValueL {
			return benchrors.MeasurementInvalid("after reading must be >= before reading")
		}
		d.after = &reading
		d.state = StateComplete
		if d.afterReady != nil {
			close(d.afterReady)
			d.afterReady = nil
		}
	default:
		return benchrors.MeasurementInvalid("unknown manual reading slot: " + which)
	}
	return nil
}

// WaitSubmit blocks until an operator has called Submit for the given slot
// ("before" or "after"), the supplied abort channel carries a message, or
// timeout elapses — whichever comes first. In FIELD_BUS mode, or if the
// slot isn't currently awaiting a submission, it returns immediately: the
// read already happened synchronously in read(). Abort and submission are
// the two message sources the engine's suspension point waits on, with
// abort taking priority when both are already pending.
func (d *Interface) WaitSubmit(which string, timeout time.Duration, abortCh <-chan string) error {
	d.mu.Lock()
	var ready chan struct{}
	switch which {
	case "before":
		ready = d.beforeReady
	case "after":
		ready = d.afterReady
	}
	mode := d.mode
	d.mu.Unlock()

	if mode != ModeManual || ready == nil {
		return nil
	}

	select {
	case reason := <-abortCh:
		return benchrors.AbortRequested(reason)
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reason := <-abortCh:
		return benchrors.AbortRequested(reason)
	case <-ready:
		return nil
	case <-timer.C:
		return benchrors.MeasurementInvalid("manual DUT submission timed out waiting for " + which)
	}
}

// Volume returns max(0, after-before), or 0 if either reading is missing.
func (d *Interface) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.before == nil || d.after == nil {
		return 0
	}
	v := d.after.ValueL - d.before.ValueL
	if v < 0 {
		return 0
	}
	return v
}

// Reset returns the interface to IDLE, discarding any readings.
func (d *Interface) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateIdle
	d.before = nil
	d.after = nil
}
