package main

import (
	"testing"

	"github.com/acmis/benchcontroller/internal/config"
	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/acmis/benchcontroller/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func TestBuildBackendDefaultsToSimulator(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendSimulator}
	log := logger.NewDefault("test")

	backend := buildBackend(cfg, log, nil)

	_, ok := backend.(*hardware.Simulator)
	assert.True(t, ok)
}

func TestBuildBackendSelectsRealBackendFromConfig(t *testing.T) {
	cfg := &config.Config{
		Backend: config.BackendReal,
		FieldBus: config.FieldBusConfig{
			VFDPort: "/dev/null", MeterPort: "/dev/null", ScalePort: "/dev/null",
			GPIOPort: "/dev/null", TankPort: "/dev/null",
		},
		Link: config.LinkConfig{RadioPort: "/dev/null"},
	}
	log := logger.NewDefault("test")

	backend := buildBackend(cfg, log, nil)

	_, ok := backend.(*hardware.RealBackend)
	assert.True(t, ok)
}
