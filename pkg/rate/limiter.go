package rate

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter limits operations based on a provided key.
type Limiter interface {
	Allow(key string) (bool, error)
}

type keyedLimiter struct {
	limit rate.Limit
	burst int

	sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalRateLimiter returns an in memory limiter allowing limit operations
// per second for each key. The burst is the limit rounded up, and never less
// than one, so fractional limits still let calls through.
func NewLocalRateLimiter(limit rate.Limit) Limiter {
	burst := int(math.Ceil(float64(limit)))
	if burst < 1 {
		burst = 1
	}
	return NewLocalRateLimiterWithBurst(limit, burst)
}

// NewLocalRateLimiterWithBurst returns an in memory limiter with an explicit
// burst size per key.
func NewLocalRateLimiterWithBurst(limit rate.Limit, burst int) Limiter {
	if burst < 1 {
		burst = 1
	}
	return &keyedLimiter{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow implements limiter.Allow.
func (l *keyedLimiter) Allow(key string) (bool, error) {
	l.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.Unlock()

	return bucket.Allow(), nil
}

// NoLimiter never limits operations
type NoLimiter struct {
}

// Allow implements limiter.Allow.
func (n *NoLimiter) Allow(key string) (bool, error) {
	return true, nil
}

// FromRate returns a per-key limiter for a positive rate, and a NoLimiter
// otherwise.
func FromRate(perSecond float64) Limiter {
	if perSecond <= 0 {
		return &NoLimiter{}
	}
	return NewLocalRateLimiter(rate.Limit(perSecond))
}
