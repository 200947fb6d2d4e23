// Package ratelimit paces outbound calls. Limiter enforces a minimum interval
// between calls; Sleeper is the fixed pause placed between discovery steps.
package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Sleeper pauses for a fixed duration. Implementations return ctx.Err() as
// soon as ctx is done so an operator interrupt ends the pause.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// Pause is the wall-clock Sleeper.
var Pause Sleeper = SleeperFunc(pause)

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Seconds converts a floating point delay in seconds to a Duration.
func Seconds(s float64) time.Duration {
	if s <= 0 || math.IsNaN(s) {
		return 0
	}
	if s >= math.MaxInt64/float64(time.Second) {
		return math.MaxInt64
	}
	return time.Duration(s * float64(time.Second))
}

// Limiter controls the rate of operations with optional jitter. It is safe
// for concurrent use. A nil *Limiter never blocks.
type Limiter struct {
	ticker   *time.Ticker
	jitter   float64 // 0.0 to 1.0
	interval time.Duration
}

// NewLimiter creates a limiter allowing rps operations per second. jitter is
// clamped to [0, 1]. The interval never drops below a nanosecond. rps <= 0
// yields a limiter that does not block.
func NewLimiter(rps float64, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	if rps <= 0 || math.IsNaN(rps) {
		return &Limiter{jitter: jitter}
	}

	interval := max(time.Duration(float64(time.Second)/rps), time.Nanosecond)
	return &Limiter{
		ticker:   time.NewTicker(interval),
		jitter:   jitter,
		interval: interval,
	}
}

// Wait blocks until the next operation may start or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.ticker == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ticker.C:
	}

	if l.jitter == 0 {
		return nil
	}
	// The ticker already enforces the minimum interval, so only positive
	// jitter has an effect.
	extra := time.Duration(float64(l.interval) * l.jitter * (rand.Float64()*2 - 1))
	if extra <= 0 {
		return nil
	}
	return pause(ctx, extra)
}

// Stop releases the limiter's ticker.
func (l *Limiter) Stop() {
	if l != nil && l.ticker != nil {
		l.ticker.Stop()
	}
}
