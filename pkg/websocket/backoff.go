package websocket

import (
	"math"
	"sync/atomic"
	"time"
)

// Backoff defines an exponential retry schedule.
type Backoff struct {
	// Initial is the delay of the first retry.
	Initial time.Duration
	// Max caps every delay. Zero disables the cap.
	Max time.Duration
	// Multiplier scales the delay per attempt. Values below 1 are treated as 1.
	Multiplier float64
}

// DefaultBackoff returns the reconnect schedule used for both link and server retries.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    5 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
	}
}

// Delay returns min(Initial * Multiplier^attempt, Max) for a zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if b.Initial <= 0 {
		return 0
	}
	factor := b.Multiplier
	if factor < 1 {
		factor = 1
	}

	wait := float64(b.Initial) * math.Pow(factor, float64(attempt))
	if b.Max > 0 && wait > float64(b.Max) {
		return b.Max
	}
	if wait >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}

// BackoffCounter pairs a schedule with its attempt count.
// Only one goroutine advances it; Attempt may be read from anywhere.
type BackoffCounter struct {
	schedule Backoff
	attempt  atomic.Uint32
}

// NewBackoffCounter returns a counter at attempt 0.
func NewBackoffCounter(schedule Backoff) *BackoffCounter {
	return &BackoffCounter{schedule: schedule}
}

// Attempt returns the number of failures since the last reset.
func (c *BackoffCounter) Attempt() uint32 {
	return c.attempt.Load()
}

// Next returns the delay for the current attempt, then counts one more failure.
func (c *BackoffCounter) Next() time.Duration {
	n := c.attempt.Load()
	if n < math.MaxUint32 {
		c.attempt.Store(n + 1)
	}
	return c.schedule.Delay(int(n))
}

// Peek returns the delay Next would return without advancing.
func (c *BackoffCounter) Peek() time.Duration {
	return c.schedule.Delay(int(c.attempt.Load()))
}

// Reset returns the counter to attempt 0.
func (c *BackoffCounter) Reset() {
	c.attempt.Store(0)
}
