// Package ratectl throttles outbound radio traffic so a burst of queued
// messages cannot exceed the LoRa channel's duty cycle.
package ratectl

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter.
type Config struct {
	// RatePerSecond is the sustained number of frames allowed per second.
	RatePerSecond float64
	// Burst is the number of frames that may go out back-to-back before
	// throttling kicks in.
	Burst int
}

// DefaultConfig matches the lab radio's documented duty cycle: a sustained
// rate with enough burst allowance to clear one fragmented message without
// stalling on the next aggregator tick.
func DefaultConfig() Config {
	return Config{RatePerSecond: 50, Burst: 32}
}

// Limiter wraps golang.org/x/time/rate for the link service's transmit path.
type Limiter struct {
	lim *rate.Limiter
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Allow reports whether a frame may go out right now without blocking,
// consuming a token if so.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// SetLimit adjusts the sustained rate at runtime, e.g. when the bench
// operator lowers the duty cycle for a noisy environment.
func (l *Limiter) SetLimit(perSecond float64) {
	l.lim.SetLimit(rate.Limit(perSecond))
}

// Reserve returns how long the caller must wait before the next frame is
// allowed, without blocking — useful for diagnostics.
func (l *Limiter) Reserve() time.Duration {
	r := l.lim.Reserve()
	if !r.OK() {
		return 0
	}
	delay := r.Delay()
	r.Cancel()
	return delay
}
