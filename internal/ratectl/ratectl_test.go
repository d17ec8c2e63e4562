package ratectl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRespectsBurst(t *testing.T) {
	l := New(Config{RatePerSecond: 1, Burst: 2})
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	l := New(Config{RatePerSecond: 20, Burst: 1})
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := New(Config{RatePerSecond: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background())) // consumes the only burst token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.Error(t, err)
}

func TestSetLimitChangesSustainedRate(t *testing.T) {
	l := New(DefaultConfig())
	l.SetLimit(100)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow())
	}
}
