// Package diagnostics exposes a read-only HTTP surface over the bench
// controller's live state: health, Prometheus metrics, engine status, and
// the latest sensor snapshot. Nothing here can command the bench — every
// handler only reads.
package diagnostics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/acmis/benchcontroller/internal/engine"
	"github.com/acmis/benchcontroller/internal/link"
	"github.com/acmis/benchcontroller/internal/safety"
	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/acmis/benchcontroller/pkg/version"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// EngineStateResponse is the /engine/state payload.
type EngineStateResponse struct {
	Active bool   `json:"active"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SnapshotResponse mirrors sensors.Snapshot for JSON exposure.
type SnapshotResponse struct {
	Timestamp    time.Time         `json:"timestamp"`
	FlowRateLPerH float64          `json:"flow_rate_l_per_h"`
	WeightKg     float64           `json:"weight_kg"`
	WaterTempC   float64           `json:"water_temp_c"`
	ReservoirPct float64           `json:"reservoir_pct"`
	DUTConnected bool              `json:"dut_connected"`
	PumpRunning  bool              `json:"pump_running"`
	PumpFreqHz   float64           `json:"pump_freq_hz"`
	Valves       map[string]bool   `json:"valves"`
	Diverter     string            `json:"diverter"`
	EstopActive  bool              `json:"estop_active"`
}

// AlarmsResponse is the /alarms payload.
type AlarmsResponse struct {
	Active []safety.Alarm `json:"active"`
}

// Deps are the components diagnostics reads from. All are optional; a nil
// dependency degrades its endpoint rather than panicking.
type Deps struct {
	Sensors interface{ Latest() sensors.Snapshot }
	Safety  *safety.Watchdog
	Link    *link.Service
	ServiceName string
}

// NewRouter builds the diagnostics router. metricsEnabled controls whether
// /metrics is mounted.
func NewRouter(deps Deps, metricsEnabled bool) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/engine/state", engineStateHandler()).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", snapshotHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/alarms", alarmsHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/link/health", linkHealthHandler(deps)).Methods(http.MethodGet)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    "healthy",
			Service:   deps.ServiceName,
			Version:   version.FullVersion(),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func engineStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e := engine.Active()
		if e == nil {
			writeJSON(w, http.StatusOK, EngineStateResponse{Active: false})
			return
		}
		writeJSON(w, http.StatusOK, EngineStateResponse{
			Active: true,
			State:  string(e.State()),
			Reason: e.Reason(),
		})
	}
}

func snapshotHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Sensors == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sensor source not configured"})
			return
		}
		snap := deps.Sensors.Latest()
		writeJSON(w, http.StatusOK, SnapshotResponse{
			Timestamp:     snap.Timestamp,
			FlowRateLPerH: snap.FlowRateLPerH,
			WeightKg:      snap.WeightKg,
			WaterTempC:    snap.WaterTempC,
			ReservoirPct:  snap.ReservoirPct,
			DUTConnected:  snap.DUTConnected,
			PumpRunning:   snap.PumpRunning,
			PumpFreqHz:    snap.PumpFreqHz,
			Valves:        snap.Valves,
			Diverter:      snap.Diverter,
			EstopActive:   snap.EstopActive,
		})
	}
}

func alarmsHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Safety == nil {
			writeJSON(w, http.StatusOK, AlarmsResponse{})
			return
		}
		writeJSON(w, http.StatusOK, AlarmsResponse{Active: deps.Safety.Active()})
	}
}

func linkHealthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Link == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": string(link.HealthStopped)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(deps.Link.Health())})
	}
}
