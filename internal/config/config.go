// Package config provides environment-aware configuration for the bench
// control plane: hardware backend selection, PID gains, safety limits,
// device identity, and the radio/field-bus port set.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/acmis/benchcontroller/internal/benchrors"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Backend selects the hardware abstraction implementation.
type Backend string

const (
	BackendReal      Backend = "real"
	BackendSimulator Backend = "simulator"
)

// defaultDevMasterSecret is a fixed 32-byte secret used only when
// LINK_MASTER_SECRET is unset, so a bare checkout still boots against the
// simulator. Never used against real hardware in the field.
const defaultDevMasterSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e"

// PIDConfig holds the flow-control loop's tunables.
type PIDConfig struct {
	Kp         float64       `env:"PID_KP,default=0.5"`
	Ki         float64       `env:"PID_KI,default=0.1"`
	Kd         float64       `env:"PID_KD,default=0.05"`
	OutputMin  float64       `env:"PID_OUTPUT_MIN,default=5.0"`
	OutputMax  float64       `env:"PID_OUTPUT_MAX,default=50.0"`
	SampleRate time.Duration `env:"PID_SAMPLE_RATE,default=200ms"`
}

// SafetyConfig holds the watchdog's alarm thresholds.
type SafetyConfig struct {
	PressureMaxBar   float64       `env:"SAFETY_PRESSURE_MAX,default=8.0"`
	ReservoirMinPct  float64       `env:"SAFETY_RESERVOIR_MIN,default=20.0"`
	ScaleMaxKg       float64       `env:"SAFETY_SCALE_MAX,default=180.0"`
	TempMinC         float64       `env:"SAFETY_TEMP_MIN,default=5.0"`
	TempMaxC         float64       `env:"SAFETY_TEMP_MAX,default=40.0"`
	ValveTimeout     time.Duration `env:"SAFETY_VALVE_TIMEOUT,default=5s"`
	FlowStabilityPct float64       `env:"SAFETY_FLOW_STABILITY,default=2.0"`
	StabilityCount   int           `env:"SAFETY_STABILITY_COUNT,default=5"`
	ScalePowered     bool          `env:"SAFETY_SCALE_POWERED,default=true"`
}

// LinkConfig holds the radio link's port and device identity.
type LinkConfig struct {
	DeviceID  uint32 `env:"BENCH_DEVICE_ID,default=2"`
	RadioPort string `env:"RADIO_PORT,default=/dev/ttyUSB0"`
	RadioBaud int    `env:"RADIO_BAUD,default=115200"`

	// MasterSecretHex is hex-decoded into MasterSecret by Load; envdecode
	// has no notion of a hex-encoded byte slice, so this one field is
	// post-processed by hand rather than consumed directly.
	MasterSecretHex string `env:"LINK_MASTER_SECRET,default=000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e"`
	MasterSecret    []byte
}

// FieldBusConfig holds the serial port assigned to each named field-bus
// channel (see §4.6 of the component design).
type FieldBusConfig struct {
	VFDPort   string `env:"FIELDBUS_VFD_PORT,default=/dev/ttyUSB1"`
	MeterPort string `env:"FIELDBUS_METER_PORT,default=/dev/ttyUSB1"`
	ScalePort string `env:"FIELDBUS_SCALE_PORT,default=/dev/ttyUSB1"`
	GPIOPort  string `env:"FIELDBUS_GPIO_PORT,default=/dev/ttyUSB1"`
	TankPort  string `env:"FIELDBUS_TANK_PORT,default=/dev/ttyUSB1"`
}

// LoggingConfig mirrors the ambient logging package's input shape.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// Config is the fully loaded, validated configuration for one bench process.
type Config struct {
	Backend  Backend `env:"BENCH_BACKEND,default=simulator"`
	PID      PIDConfig
	Safety   SafetyConfig
	Link     LinkConfig
	FieldBus FieldBusConfig
	Logging  LoggingConfig

	DiagnosticsAddr string `env:"DIAGNOSTICS_ADDR,default=:8090"`
	MetricsEnabled  bool   `env:"METRICS_ENABLED,default=true"`
}

// Load reads an optional .env file, then decodes env-tagged struct fields
// over their documented defaults via envdecode, mirroring the teacher's own
// pkg/config.Load.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("warning: could not load .env: %v\n", err)
	}

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		// envdecode reports this when a struct has no tagged fields at
		// all; every group here carries defaults, so this should not
		// normally fire, but tolerate it exactly as the teacher does
		// rather than fail startup over a decoder quirk.
		if !strings.Contains(err.Error(), "no target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.Link.MasterSecret = decodeMasterSecret(cfg.Link.MasterSecretHex)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeMasterSecret hex-decodes raw, falling back to the fixed dev secret
// if raw is empty or malformed.
func decodeMasterSecret(raw string) []byte {
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		decoded, _ = hex.DecodeString(defaultDevMasterSecret)
	}
	return decoded
}

// Validate rejects physically nonsensical configuration.
func (c *Config) Validate() error {
	if c.Backend != BackendReal && c.Backend != BackendSimulator {
		return benchrors.ConfigInvalid("BENCH_BACKEND", "must be 'real' or 'simulator'")
	}
	if c.PID.OutputMin <= 0 || c.PID.OutputMax <= c.PID.OutputMin {
		return benchrors.ConfigInvalid("PID_OUTPUT_MIN/MAX", "output_min must be positive and less than output_max")
	}
	if c.Safety.PressureMaxBar <= 0 || c.Safety.ScaleMaxKg <= 0 {
		return benchrors.ConfigInvalid("SAFETY_PRESSURE_MAX/SAFETY_SCALE_MAX", "must be positive")
	}
	if c.Safety.TempMaxC <= c.Safety.TempMinC {
		return benchrors.ConfigInvalid("SAFETY_TEMP_MIN/MAX", "temp_max must exceed temp_min")
	}
	if c.Safety.ReservoirMinPct < 0 || c.Safety.ReservoirMinPct > 100 {
		return benchrors.ConfigInvalid("SAFETY_RESERVOIR_MIN", "must be a percentage in [0,100]")
	}
	if c.Safety.StabilityCount <= 0 {
		return benchrors.ConfigInvalid("SAFETY_STABILITY_COUNT", "must be positive")
	}
	if c.Link.DeviceID == 0 {
		return benchrors.ConfigInvalid("BENCH_DEVICE_ID", "must be nonzero")
	}
	if len(c.Link.MasterSecret) != 32 {
		return benchrors.ConfigInvalid("LINK_MASTER_SECRET", "must decode to 32 bytes")
	}
	return nil
}
