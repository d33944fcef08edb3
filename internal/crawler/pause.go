package crawler

import (
	"math/rand/v2"
	"time"
)

// Jitter draws a duration from [lo, hi]. Swapped in tests.
type Jitter func(lo, hi time.Duration) time.Duration

// UniformJitter is the default Jitter.
func UniformJitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
