package feed

import (
	"math/rand/v2"
	"time"
)

// DefaultReconnectDelay is the wait between a dropped stream and the next
// dial attempt.
const DefaultReconnectDelay = 2 * time.Second

// DelayPolicy decides how long to wait before reconnect attempt n (1-based).
type DelayPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same amount before every attempt.
type FixedDelay time.Duration

// Delay implements DelayPolicy.
func (d FixedDelay) Delay(int) time.Duration { return time.Duration(d) }

// ExponentialBackoff doubles the wait on each consecutive failure, capped at
// Max, with up to Jitter of random spread added.
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay implements DelayPolicy.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}
