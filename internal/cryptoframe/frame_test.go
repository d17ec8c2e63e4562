package cryptoframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	aesKey, hmacKey := testKeys()
	payload := map[string]interface{}{
		"command": "TEST_STATUS",
		"state":   "MEASURE",
		"q_point": float64(3),
	}

	frame, err := Encode(payload, 0x0002, 7, aesKey, hmacKey, time.Now())
	require.NoError(t, err)

	decoded, err := Decode(frame, aesKey, hmacKey)
	require.NoError(t, err)

	assert.Equal(t, uint32(0x0002), decoded.DeviceID)
	assert.Equal(t, uint16(7), decoded.Seq)
	assert.Equal(t, payload["command"], decoded.Payload["command"])
	assert.Equal(t, payload["state"], decoded.Payload["state"])
}

func TestFrameDecodeRejectsTamperedByte(t *testing.T) {
	aesKey, hmacKey := testKeys()
	frame, err := Encode(map[string]interface{}{"command": "HEARTBEAT"}, 1, 1, aesKey, hmacKey, time.Now())
	require.NoError(t, err)

	frame[len(frame)-1] ^= 0xFF // flip a bit in the MAC
	_, err = Decode(frame, aesKey, hmacKey)
	require.Error(t, err)
}

func TestFrameDecodeRejectsShortFrame(t *testing.T) {
	aesKey, hmacKey := testKeys()
	_, err := Decode([]byte{1, 2, 3}, aesKey, hmacKey)
	require.Error(t, err)
}
