package sensors

import (
	"context"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/acmis/benchcontroller/internal/obsmetrics"
	"github.com/acmis/benchcontroller/pkg/logger"
)

const pollInterval = 200 * time.Millisecond

// Listener is notified with every new published snapshot.
type Listener func(Snapshot)

// Aggregator polls the hardware backend at a fixed cadence and publishes
// one immutable Snapshot per tick. On a failed read it carries the
// previous value forward and marks the owning bridge offline, rather than
// discarding the whole tick.
type Aggregator struct {
	backend hardware.Backend
	log     *logger.Logger
	metrics *obsmetrics.Metrics

	mu        sync.RWMutex
	current   Snapshot
	hasReading bool
	listeners []Listener

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Aggregator. Every bridge starts offline until its
// first successful read. metrics may be nil.
func New(backend hardware.Backend, log *logger.Logger, metrics *obsmetrics.Metrics) *Aggregator {
	return &Aggregator{
		backend: backend,
		log:     log,
		metrics: metrics,
		current: Snapshot{Valves: make(map[string]bool)},
		stopCh:  make(chan struct{}),
	}
}

// Subscribe registers a listener invoked after every published tick.
func (a *Aggregator) Subscribe(fn Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Start launches the polling loop.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop halts the polling loop.
func (a *Aggregator) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

// Latest returns the most recently published snapshot.
func (a *Aggregator) Latest() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

func (a *Aggregator) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Aggregator) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
	defer cancel()
	start := time.Now()

	a.mu.Lock()
	next := a.current
	next.Timestamp = time.Now()

	online := a.backend.Online()

	if up, down, err := a.backend.ReadPressure(ctx); err == nil {
		next.PressureUpstream, next.PressureDownstream = up, down
	} else {
		a.warn("pressure", err)
	}

	if weight, err := a.backend.ReadScale(ctx); err == nil {
		next.WeightRawKg = weight
		next.WeightKg = weight
	} else {
		a.warn("scale", err)
	}

	if env, err := a.backend.ReadEnvironment(ctx); err == nil {
		next.WaterTempC = env.WaterTempC
		next.AtmTempC = env.AtmTempC
		next.AtmHumidityPct = env.AtmHumidityPct
		next.AtmBaroHPa = env.AtmBaroHPa
	} else {
		a.warn("environment", err)
	}

	if level, err := a.backend.ReadTankLevel(ctx); err == nil {
		next.ReservoirPct = level
	} else {
		a.warn("tank", err)
	}

	if estop, contactor, mcb, err := a.backend.ReadGPIO(ctx); err == nil {
		next.EstopActive, next.ContactorOn, next.MCBOn = estop, contactor, mcb
	} else {
		a.warn("gpio", err)
	}

	if valves, diverter, err := a.backend.ReadValves(ctx); err == nil {
		next.Valves = valves
		next.Diverter = diverter
	} else {
		a.warn("valves", err)
	}

	if status, err := a.backend.ReadVFDStatus(ctx); err == nil {
		next.PumpRunning = status.Running
		next.PumpFreqHz = status.FrequencyHz
		next.PumpTargetHz = status.TargetHz
		next.PumpCurrentA = status.CurrentA
		next.PumpFaultCode = status.FaultCode
	} else {
		a.warn("vfd", err)
	}

	if connected, totalizer, err := a.backend.ReadDUT(ctx); err == nil {
		next.DUTConnected = connected
		next.DUTTotalizerL = totalizer
	} else {
		a.warn("dut", err)
	}

	next.Online = online
	a.current = next
	a.hasReading = true
	listeners := append([]Listener(nil), a.listeners...)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordSnapshotTick(time.Since(start))
	}

	for _, fn := range listeners {
		fn(next)
	}
}

func (a *Aggregator) warn(what string, err error) {
	if a.log != nil {
		a.log.WithField("reading", what).WithField("error", err).Warn("sensor read failed, carrying forward previous value")
	}
}
