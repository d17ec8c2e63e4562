package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearBenchEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BENCH_BACKEND", "PID_KP", "PID_KI", "PID_KD", "PID_OUTPUT_MIN", "PID_OUTPUT_MAX",
		"SAFETY_PRESSURE_MAX", "SAFETY_RESERVOIR_MIN", "SAFETY_SCALE_MAX", "SAFETY_TEMP_MIN",
		"SAFETY_TEMP_MAX", "SAFETY_STABILITY_COUNT", "BENCH_DEVICE_ID", "LINK_MASTER_SECRET",
		"RADIO_PORT", "DIAGNOSTICS_ADDR", "METRICS_ENABLED",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadAppliesDocumentedDefaults(t *testing.T) {
	clearBenchEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, BackendSimulator, cfg.Backend)
	assert.Equal(t, 0.5, cfg.PID.Kp)
	assert.Equal(t, 8.0, cfg.Safety.PressureMaxBar)
	assert.Equal(t, uint32(0x0002), cfg.Link.DeviceID)
	assert.Len(t, cfg.Link.MasterSecret, 32)
	assert.Equal(t, ":8090", cfg.DiagnosticsAddr)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadLayersEnvironmentOverDefaults(t *testing.T) {
	clearBenchEnv(t)
	require.NoError(t, os.Setenv("BENCH_BACKEND", "real"))
	require.NoError(t, os.Setenv("PID_KP", "1.25"))
	require.NoError(t, os.Setenv("BENCH_DEVICE_ID", "7"))
	defer clearBenchEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, BackendReal, cfg.Backend)
	assert.Equal(t, 1.25, cfg.PID.Kp)
	assert.Equal(t, uint32(7), cfg.Link.DeviceID)
}

func TestLoadDerivesMasterSecretFromHexEnv(t *testing.T) {
	clearBenchEnv(t)
	require.NoError(t, os.Setenv("LINK_MASTER_SECRET", "1102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"))
	defer clearBenchEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Len(t, cfg.Link.MasterSecret, 32)
}

func TestLoadFallsBackToDevSecretOnMalformedHex(t *testing.T) {
	clearBenchEnv(t)
	require.NoError(t, os.Setenv("LINK_MASTER_SECRET", "not-hex"))
	defer clearBenchEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Len(t, cfg.Link.MasterSecret, 32)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Backend = "quantum"

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedPIDOutputRange(t *testing.T) {
	cfg := validConfig()
	cfg.PID.OutputMin = 40
	cfg.PID.OutputMax = 10

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveSafetyLimits(t *testing.T) {
	cfg := validConfig()
	cfg.Safety.ScaleMaxKg = 0

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedTempRange(t *testing.T) {
	cfg := validConfig()
	cfg.Safety.TempMinC = 40
	cfg.Safety.TempMaxC = 5

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroDeviceID(t *testing.T) {
	cfg := validConfig()
	cfg.Link.DeviceID = 0

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsShortMasterSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Link.MasterSecret = []byte{0x01, 0x02}

	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func validConfig() *Config {
	return &Config{
		Backend: BackendSimulator,
		PID:     PIDConfig{OutputMin: 5, OutputMax: 50},
		Safety: SafetyConfig{
			PressureMaxBar: 8, ScaleMaxKg: 180, TempMinC: 5, TempMaxC: 40,
			ReservoirMinPct: 20, StabilityCount: 5,
		},
		Link: LinkConfig{DeviceID: 2, MasterSecret: make([]byte, 32)},
	}
}
