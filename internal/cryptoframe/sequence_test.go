package cryptoframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSequenceCounterReplayProtection(t *testing.T) {
	sc := NewSequenceCounter()
	now := time.Now()
	nowUnix := uint32(now.Unix())

	assert.True(t, sc.CheckAndUpdate(1, 1, nowUnix, now))
	assert.True(t, sc.CheckAndUpdate(1, 2, nowUnix, now))
	assert.True(t, sc.CheckAndUpdate(1, 10, nowUnix, now))
	assert.False(t, sc.CheckAndUpdate(1, 10, nowUnix, now), "exact repeat must be rejected")
	assert.False(t, sc.CheckAndUpdate(1, 5, nowUnix, now), "stale sequence must be rejected")
}

func TestSequenceCounterRejectsStaleTimestamp(t *testing.T) {
	sc := NewSequenceCounter()
	now := time.Now()
	stale := uint32(now.Add(-301 * time.Second).Unix())
	assert.False(t, sc.CheckAndUpdate(1, 1, stale, now))
}

func TestSequenceCounterPerDeviceIndependence(t *testing.T) {
	sc := NewSequenceCounter()
	now := time.Now()
	nowUnix := uint32(now.Unix())

	assert.True(t, sc.CheckAndUpdate(1, 1, nowUnix, now))
	assert.True(t, sc.CheckAndUpdate(2, 1, nowUnix, now), "different device id starts its own sequence tracking")
}

func TestNextWrapsAt16Bit(t *testing.T) {
	sc := NewSequenceCounter()
	sc.next = 0xFFFF
	first := sc.Next()
	second := sc.Next()
	assert.Equal(t, uint16(0xFFFF), first)
	assert.Equal(t, uint16(0), second)
}
