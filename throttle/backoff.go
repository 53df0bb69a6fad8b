package throttle

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the extra wait layered on top of a computed throttle
// delay after retryCount consecutive throttled attempts:
// ceil(retryCount^1.5) seconds plus random jitter in [0,2) seconds.
// The jitter desynchronizes competing workers that keep hitting the same
// window boundary.
func Backoff(retryCount int) time.Duration {
	return backoffWithJitter(retryCount, rand.Float64)
}

func backoffWithJitter(retryCount int, jitter func() float64) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	base := math.Ceil(math.Pow(float64(retryCount), 1.5))
	j := jitter() * 2
	return time.Duration((base + j) * float64(time.Second))
}
