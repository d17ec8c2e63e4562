package hardware

import (
	"context"
	"testing"

	"github.com/acmis/benchcontroller/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenChannelDegradesGracefullyWhenPortUnavailable(t *testing.T) {
	c := openChannel("vfd", "/path/does/not/exist", nil, nil)
	require.NotNil(t, c)
	assert.Nil(t, c.port)
}

func TestDoRequestFailsFastWithoutAnOpenPort(t *testing.T) {
	c := openChannel("vfd", "/path/does/not/exist", nil, nil)

	_, err := c.doRequest(map[string]interface{}{"cmd": "status"})
	assert.Error(t, err)
}

func TestRequestRetriesBeforeTrippingBreaker(t *testing.T) {
	c := openChannel("vfd", "/path/does/not/exist", nil, nil)

	_, err := c.request(context.Background(), map[string]interface{}{"cmd": "status"})
	assert.Error(t, err)
	assert.Equal(t, resilience.StateClosed, c.cb.State(), "a single retried failure should not yet trip the breaker")
}

func TestNewRealBackendWiresAllSixChannels(t *testing.T) {
	b := NewRealBackend(ChannelPorts{
		VFD: "/dev/null", Meter: "/dev/null", Scale: "/dev/null",
		GPIO: "/dev/null", Tank: "/dev/null", LoRa: "/dev/null",
	}, nil, nil)

	require.NotNil(t, b)
	online := b.Online()
	assert.False(t, online.VFD || online.Meter || online.Scale)
}
