// Command benchd is the bench control-plane process: it loads
// configuration, wires every component (hardware backend, sensors,
// actuators, safety watchdog, secure radio link, diagnostics HTTP
// surface), and serves until an operator starts a calibration run over
// the link or the process receives a termination signal.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acmis/benchcontroller/internal/actuators"
	"github.com/acmis/benchcontroller/internal/config"
	"github.com/acmis/benchcontroller/internal/cryptoframe"
	"github.com/acmis/benchcontroller/internal/diagnostics"
	"github.com/acmis/benchcontroller/internal/dut"
	"github.com/acmis/benchcontroller/internal/engine"
	"github.com/acmis/benchcontroller/internal/gravimetric"
	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/acmis/benchcontroller/internal/link"
	"github.com/acmis/benchcontroller/internal/obsmetrics"
	"github.com/acmis/benchcontroller/internal/persistence"
	"github.com/acmis/benchcontroller/internal/pid"
	"github.com/acmis/benchcontroller/internal/ratectl"
	"github.com/acmis/benchcontroller/internal/safety"
	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/acmis/benchcontroller/internal/standards"
	"github.com/acmis/benchcontroller/pkg/logger"
	"github.com/acmis/benchcontroller/pkg/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	log.WithField("version", version.FullVersion()).Info("starting bench controller")

	metrics := obsmetrics.Init("benchd")
	if !obsmetrics.Enabled() {
		cfg.MetricsEnabled = false
	}

	backend := buildBackend(cfg, log, metrics)

	aggregator := sensors.New(backend, log, metrics)
	aggregator.Start()
	defer aggregator.Stop()

	valves := actuators.NewValves(backend, aggregator)
	pump := actuators.NewPump(backend, aggregator, valves)
	valves.SetPump(pump)
	tower := actuators.NewTower(backend)

	dutInterlock := actuators.NewDUTDisconnectInterlock(valves, log)
	aggregator.Subscribe(dutInterlock.Observe)

	watchdog := safety.New(safety.Config{
		Limits: safety.Limits{
			PressureMaxBar:   cfg.Safety.PressureMaxBar,
			ReservoirMinPct:  cfg.Safety.ReservoirMinPct,
			ScaleMaxKg:       cfg.Safety.ScaleMaxKg,
			TempMinC:         cfg.Safety.TempMinC,
			TempMaxC:         cfg.Safety.TempMaxC,
		},
		Source:        aggregator,
		EmergencyStop: func() { backend.EmergencyStop(context.Background()) },
		Log:           log,
	})
	watchdog.SetScalePowered(cfg.Safety.ScalePowered)
	watchdog.OnAlarm(func(a safety.Alarm) {
		active := watchdog.Active()
		metrics.RecordAlarm(a.Code, string(a.Severity), len(active))
	})
	watchdog.Start()
	defer watchdog.Stop()

	pidCfg := pid.DefaultConfig()
	pidCfg.Kp, pidCfg.Ki, pidCfg.Kd = cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd
	pidCfg.OutputMin, pidCfg.OutputMax = cfg.PID.OutputMin, cfg.PID.OutputMax
	pidCfg.StabilityTolerancePct = cfg.Safety.FlowStabilityPct
	pidCfg.StabilitySamples = cfg.Safety.StabilityCount
	flowController := pid.New(pidCfg)

	gravEngine := gravimetric.New(backend)

	store := persistence.NewInProcess()

	aesKey, hmacKey, err := cryptoframe.DeriveKeyPair(cfg.Link.MasterSecret, cfg.Link.DeviceID)
	if err != nil {
		log.WithField("error", err).Fatal("failed to derive link keys")
	}

	linkSvc := link.New(link.Config{
		DeviceID: cfg.Link.DeviceID,
		AESKey:   aesKey,
		HMACKey:  hmacKey,
		Backend:  backend,
		Log:      log,
		Metrics:  metrics,
		RateLimit: ratectl.DefaultConfig(),
	})

	linkSvc.On("START_TEST", func(payload map[string]interface{}) {
		startRun(linkSvc, store, watchdog, valves, pump, tower, flowController,
			gravEngine, backend, aggregator, log, metrics, cfg, payload)
	})
	linkSvc.On("EMERGENCY_STOP", func(map[string]interface{}) {
		engine.AbortActive("operator commanded EMERGENCY_STOP over link")
	})
	linkSvc.Start()
	defer linkSvc.Stop()

	router := diagnostics.NewRouter(diagnostics.Deps{
		Sensors:     aggregator,
		Safety:      watchdog,
		Link:        linkSvc,
		ServiceName: "benchd",
	}, cfg.MetricsEnabled)

	startTime := time.Now()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.UpdateUptime(startTime)
		}
	}()

	serveHTTP(router, cfg.DiagnosticsAddr, log)
}

func buildBackend(cfg *config.Config, log *logger.Logger, metrics *obsmetrics.Metrics) hardware.Backend {
	if cfg.Backend == config.BackendReal {
		return hardware.NewRealBackend(hardware.ChannelPorts{
			VFD:   cfg.FieldBus.VFDPort,
			Meter: cfg.FieldBus.MeterPort,
			Scale: cfg.FieldBus.ScalePort,
			GPIO:  cfg.FieldBus.GPIOPort,
			Tank:  cfg.FieldBus.TankPort,
			LoRa:  cfg.Link.RadioPort,
		}, log, metrics)
	}
	return hardware.NewSimulator()
}

// startRun resolves the requested meter size/class into a Q-point table
// and launches the test execution engine. Any error aborts the run back
// over the link rather than crashing the process.
func startRun(linkSvc *link.Service, store *persistence.InProcess, watchdog *safety.Watchdog,
	valves *actuators.Valves, pump *actuators.Pump, tower *actuators.Tower, flowController *pid.Controller,
	gravEngine *gravimetric.Engine, backend hardware.Backend, aggregator *sensors.Aggregator,
	log *logger.Logger, metrics *obsmetrics.Metrics, cfg *config.Config, payload map[string]interface{}) {

	size, _ := payload["size"].(string)
	class, _ := payload["class"].(string)
	meterSerial, _ := payload["meter_serial"].(string)

	dutMode := dut.ModeFieldBus
	if raw, ok := payload["dut_mode"].(string); ok && raw == string(dut.ModeManual) {
		dutMode = dut.ModeManual
	}
	dutIface := dut.New(dutMode, backend)

	qpoints := standards.QPointsFor(size, class)
	if len(qpoints) == 0 {
		log.WithField("size", size).WithField("class", class).Warn("unknown meter size/class, rejecting run")
		linkSvc.Send(map[string]interface{}{"command": "START_TEST_REJECTED", "reason": "unknown size/class"})
		return
	}

	runID := persistence.NewRunID()
	store.RegisterRun(runID, meterSerial)

	e, err := engine.Start(engine.RunConfig{
		RunID:       runID,
		MeterSerial: meterSerial,
		Size:        size,
		Class:       class,
		QPoints:     qpoints,
		DUTMode:     dutMode,
		OutputMinHz: cfg.PID.OutputMin,
	}, engine.Dependencies{
		Valves:  valves,
		Pump:    pump,
		Tower:   tower,
		PID:     flowController,
		Grav:    gravEngine,
		DUT:     dutIface,
		Sensors: aggregator,
		Safety:  watchdog,
		Persist: store,
		Log:     log,
		Metrics: metrics,
	})
	if err != nil {
		log.WithField("error", err).Warn("failed to start run")
		linkSvc.Send(map[string]interface{}{"command": "START_TEST_REJECTED", "reason": err.Error()})
		return
	}

	go func() {
		<-e.Done()
		linkSvc.Send(map[string]interface{}{
			"command": "TEST_COMPLETE",
			"run_id":  runID,
			"state":   string(e.State()),
			"reason":  e.Reason(),
		})
	}()
}

func serveHTTP(handler http.Handler, addr string, log *logger.Logger) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.WithField("addr", addr).Info("diagnostics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("diagnostics server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Warn("shutdown error")
	}
	log.Info("bench controller stopped")
}
