package bus

import (
	"golang.org/x/time/rate"
)

// RateLimitMode controls bus behavior when the token bucket is exhausted.
type RateLimitMode string

const (
	// RateLimitDrop returns a stub envelope marked _rateLimited (§4.4).
	RateLimitDrop RateLimitMode = "drop"
	// RateLimitThrow returns ErrRateLimited from Publish.
	RateLimitThrow RateLimitMode = "throw"
)

// RateLimitConfig configures the bus-local token bucket (§4.4, §6).
type RateLimitConfig struct {
	MaxPerSecond float64
	MaxBurst     int
	OnExceeded   RateLimitMode
}

// rateLimiter wraps golang.org/x/time/rate.Limiter, which already
// implements a token bucket driven by a monotonic clock with refill-by-
// elapsed-time and burst clamping semantics matching §4.4 exactly;
// AllowN(time.Now(), 1) is the tryConsume() contract. Hand-rolling this
// would only duplicate rate.Limiter's internals.
type rateLimiter struct {
	limiter *rate.Limiter
	mode    RateLimitMode
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := cfg.MaxBurst
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), burst),
		mode:    cfg.OnExceeded,
	}
}

// tryConsume attempts to deduct one token, returning true if a token was
// available.
func (l *rateLimiter) tryConsume() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
