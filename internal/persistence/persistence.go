// Package persistence defines the engine's storage-layer seam and a
// default in-process implementation. The engine treats every call as
// best-effort: failures are logged, never escalated into the physical
// shutdown path.
package persistence

import (
	"fmt"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/google/uuid"
)

// PointMetrics is the per-Q-point result recorded at CALCULATE.
type PointMetrics struct {
	QPoint        string
	RefVolumeL    float64
	DUTVolumeL    float64
	ErrorPct      float64
	MPEPct        float64
	Pass          bool
	CollectTimeS  float64
	AvgFlowLPerH  float64
	TemperatureC  float64
}

// Hooks is the persistence interface the engine calls. Every method is
// best-effort from the engine's perspective.
type Hooks interface {
	StartRun(runID string) error
	UpdateState(runID, qPoint, stateName string) error
	RecordPoint(runID string, metrics PointMetrics) error
	RecordSensorTick(runID string, snap sensors.Snapshot, qPoint, trigger, label string) error
	RecordManualEntry(runID, qPoint, kind string, value float64, by string) error
	CompleteRun(runID string) error
	AbortRun(runID, reason string) error
	IssueCertificate(runID string) (string, error)
}

// run is one in-process run record.
type run struct {
	meterSerial string
	points      []PointMetrics
	status      string
	reason      string
	certificate string
	sequence    int
}

// InProcess is a default, non-durable Hooks implementation suitable for a
// single bench controller process. Certificate numbers follow
// CAL-{meter_serial}-{YYYYMMDD}-{sequence}.
type InProcess struct {
	mu       sync.Mutex
	runs     map[string]*run
	certSeq  map[string]int // keyed by meter_serial+date
}

// NewInProcess constructs an empty InProcess store.
func NewInProcess() *InProcess {
	return &InProcess{
		runs:    make(map[string]*run),
		certSeq: make(map[string]int),
	}
}

// NewRunID generates a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// RegisterRun associates a run id with the meter serial it is testing,
// used only to format certificate numbers; call before StartRun.
func (p *InProcess) RegisterRun(runID, meterSerial string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs[runID] = &run{meterSerial: meterSerial}
}

func (p *InProcess) getOrCreate(runID string) *run {
	r, ok := p.runs[runID]
	if !ok {
		r = &run{meterSerial: "UNKNOWN"}
		p.runs[runID] = r
	}
	return r
}

func (p *InProcess) StartRun(runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.getOrCreate(runID)
	r.status = "running"
	return nil
}

func (p *InProcess) UpdateState(runID, qPoint, stateName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getOrCreate(runID) // no-op beyond existence; state history isn't retained in-process
	return nil
}

func (p *InProcess) RecordPoint(runID string, metrics PointMetrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.getOrCreate(runID)
	r.points = append(r.points, metrics)
	return nil
}

func (p *InProcess) RecordSensorTick(runID string, snap sensors.Snapshot, qPoint, trigger, label string) error {
	return nil // in-process store doesn't retain per-tick telemetry
}

func (p *InProcess) RecordManualEntry(runID, qPoint, kind string, value float64, by string) error {
	return nil
}

func (p *InProcess) CompleteRun(runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.getOrCreate(runID)
	r.status = "completed"
	return nil
}

func (p *InProcess) AbortRun(runID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.getOrCreate(runID)
	r.status = "aborted"
	r.reason = reason
	return nil
}

func (p *InProcess) IssueCertificate(runID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.getOrCreate(runID)

	date := time.Now().Format("20060102")
	key := r.meterSerial + date
	p.certSeq[key]++
	seq := p.certSeq[key]

	cert := fmt.Sprintf("CAL-%s-%s-%d", r.meterSerial, date, seq)
	r.certificate = cert
	return cert, nil
}

// RunStatus returns the last-known status for diagnostics.
func (p *InProcess) RunStatus(runID string) (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.runs[runID]
	if !ok {
		return "", ""
	}
	return r.status, r.reason
}

// Points returns the recorded per-Q-point metrics for a run, in order.
func (p *InProcess) Points(runID string) []PointMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.runs[runID]
	if !ok {
		return nil
	}
	out := make([]PointMetrics, len(r.points))
	copy(out, r.points)
	return out
}
