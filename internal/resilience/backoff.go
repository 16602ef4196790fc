package resilience

import (
	"math/rand"
	"time"
)

// MaxBackoff caps a single retry delay.
const MaxBackoff = 30 * time.Second

// Backoff returns the exponential delay before retry number attempt (1-based),
// capped at MaxBackoff. jitterPct spreads the delay by ±jitterPct of itself.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base
	for i := 1; i < attempt && d < MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, MaxBackoff)
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * min(jitterPct, 1)
	return d + time.Duration(delta)
}
