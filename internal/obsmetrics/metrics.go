// Package obsmetrics provides Prometheus metrics collection for the bench
// controller.
package obsmetrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics exposed by the bench controller.
type Metrics struct {
	// Sensor pipeline
	SnapshotTickDuration prometheus.Histogram
	SnapshotTicksTotal    *prometheus.CounterVec

	// Safety
	AlarmsTotal  *prometheus.CounterVec
	ActiveAlarms prometheus.Gauge

	// Engine
	EngineState    *prometheus.GaugeVec
	EnginePointsTotal *prometheus.CounterVec

	// PID / actuation
	PIDOutputHz    prometheus.Gauge
	PIDSetpointHz  prometheus.Gauge

	// Secure link
	LinkFramesTotal   *prometheus.CounterVec
	LinkQueueDepth    prometheus.Gauge
	LinkCircuitState  *prometheus.GaugeVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec

	service string
}

// New creates a new Metrics instance with all collectors registered against
// the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry,
// useful for tests that must not touch the global default registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		SnapshotTickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sensor_snapshot_tick_duration_seconds",
				Help:    "Time to read every backend channel and publish one snapshot",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .2, .5, 1},
			},
		),
		SnapshotTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_snapshot_ticks_total",
				Help: "Total number of sensor aggregator ticks",
			},
			[]string{"service"},
		),

		AlarmsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safety_alarms_total",
				Help: "Total number of safety alarms raised, by code and severity",
			},
			[]string{"service", "code", "severity"},
		),
		ActiveAlarms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "safety_active_alarms",
				Help: "Current number of active safety alarms",
			},
		),

		EngineState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_state",
				Help: "1 for the engine's current state, 0 for all others",
			},
			[]string{"service", "state"},
		),
		EnginePointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_points_total",
				Help: "Total number of Q-points completed, by pass/fail",
			},
			[]string{"service", "result"},
		),

		PIDOutputHz: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pid_output_hz",
				Help: "Current PID controller output frequency setpoint",
			},
		),
		PIDSetpointHz: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pid_setpoint_flow_l_per_h",
				Help: "Current PID controller flow setpoint",
			},
		),

		LinkFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "link_frames_total",
				Help: "Total number of secure-link frames, by direction and result",
			},
			[]string{"service", "direction", "result"},
		),
		LinkQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "link_queue_depth",
				Help: "Current number of outbound messages awaiting dispatch or ACK",
			},
		),
		LinkCircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "link_circuit_breaker_state",
				Help: "1 for a bridge channel's current circuit breaker state, 0 for others",
			},
			[]string{"service", "channel", "state"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.SnapshotTickDuration,
			m.SnapshotTicksTotal,
			m.AlarmsTotal,
			m.ActiveAlarms,
			m.EngineState,
			m.EnginePointsTotal,
			m.PIDOutputHz,
			m.PIDSetpointHz,
			m.LinkFramesTotal,
			m.LinkQueueDepth,
			m.LinkCircuitState,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)
	m.service = serviceName
	return m
}

// RecordSnapshotTick observes the duration of one aggregator tick.
func (m *Metrics) RecordSnapshotTick(d time.Duration) {
	m.SnapshotTickDuration.Observe(d.Seconds())
	m.SnapshotTicksTotal.WithLabelValues(m.service).Inc()
}

// RecordAlarm records a freshly raised alarm and the current active count.
func (m *Metrics) RecordAlarm(code, severity string, activeCount int) {
	m.AlarmsTotal.WithLabelValues(m.service, code, severity).Inc()
	m.ActiveAlarms.Set(float64(activeCount))
}

// stateNames lists every engine state so a transition can zero out the
// previous one; kept here rather than importing the engine package, which
// would create an import cycle (engine already depends on obsmetrics).
var stateNames = []string{
	"IDLE", "PRE_CHECK", "LINE_SELECT", "PUMP_START", "FLOW_STABILIZE",
	"TARE_SCALE", "MEASURE", "CALCULATE", "DRAIN", "NEXT_POINT",
	"COMPLETE", "EMERGENCY_STOP",
}

// SetEngineState marks state as the current one and zeroes every other
// known state.
func (m *Metrics) SetEngineState(state string) {
	for _, s := range stateNames {
		if s == state {
			m.EngineState.WithLabelValues(m.service, s).Set(1)
		} else {
			m.EngineState.WithLabelValues(m.service, s).Set(0)
		}
	}
}

// RecordPoint records one completed Q-point's pass/fail outcome.
func (m *Metrics) RecordPoint(pass bool) {
	result := "fail"
	if pass {
		result = "pass"
	}
	m.EnginePointsTotal.WithLabelValues(m.service, result).Inc()
}

// SetPID records the controller's current setpoint and output.
func (m *Metrics) SetPID(setpointLPerH, outputHz float64) {
	m.PIDSetpointHz.Set(setpointLPerH)
	m.PIDOutputHz.Set(outputHz)
}

// RecordFrame records one secure-link frame transfer.
func (m *Metrics) RecordFrame(direction, result string) {
	m.LinkFramesTotal.WithLabelValues(m.service, direction, result).Inc()
}

// SetQueueDepth records the outbound queue's current size.
func (m *Metrics) SetQueueDepth(n int) {
	m.LinkQueueDepth.Set(float64(n))
}

// circuitStates mirrors resilience.State's String() values.
var circuitStates = []string{"closed", "open", "half-open"}

// SetCircuitState marks channel's current breaker state and zeroes the
// others, the same one-hot pattern as SetEngineState.
func (m *Metrics) SetCircuitState(channel, state string) {
	for _, s := range circuitStates {
		if s == state {
			m.LinkCircuitState.WithLabelValues(m.service, channel, s).Set(1)
		} else {
			m.LinkCircuitState.WithLabelValues(m.service, channel, s).Set(0)
		}
	}
}

// UpdateUptime records elapsed service uptime.
func (m *Metrics) UpdateUptime(start time.Time) {
	m.ServiceUptime.Set(time.Since(start).Seconds())
}

// Enabled reports whether Prometheus metrics should be exposed, mirroring
// BENCH_METRICS_ENABLED (defaults on; set to "0"/"false" to disable).
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("BENCH_METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// Global metrics instance, lazily constructed.
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance, constructing a default one if
// Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = New("benchd")
	}
	return globalMetrics
}
