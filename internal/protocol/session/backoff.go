package session

import (
	"math"
	"math/rand/v2"
	"time"
)

// Delay returns the wait before reconnect attempt n (1-based). With Jitter the
// result lies in [d/2, 3d/2) of the exponential delay d and never exceeds MaxDelay.
// A nil rng draws from the runtime-seeded global source.
func (c BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	n = max(n, 1)
	mult := max(c.Multiplier, 1.0)

	d := float64(c.InitialDelay) * math.Pow(mult, float64(n-1))
	limit := math.Inf(1)
	if c.MaxDelay > 0 {
		limit = float64(c.MaxDelay)
	}
	d = min(d, limit)
	if c.Jitter {
		f := rand.Float64
		if rng != nil {
			f = rng.Float64
		}
		d = min(d/2+d*f(), limit)
	}
	return time.Duration(d)
}
