package api

import (
	"sync"

	"medvik/internal/config"

	"golang.org/x/time/rate"
)

// Route classes split the token buckets so a client pulling heavy xlsx
// exports cannot starve its own payment callbacks.
type routeClass int

const (
	classDefault routeClass = iota
	classExport
)

// exports build workbooks on disk, keep them well under the base rate
const exportRateDivisor = 5

type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	cfg     *config.APIConfig
}

func newRateLimiter(cfg *config.APIConfig) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*rate.Limiter),
		cfg:     cfg,
	}
}

func (l *rateLimiter) allow(client string, class routeClass) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := client
	rps := l.cfg.RateLimit.RPS
	burst := l.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}
	if class == classExport {
		key = client + "/export"
		rps /= exportRateDivisor
		if burst > 2 {
			burst = 2
		}
	}

	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
		l.buckets[key] = lim
	}
	return lim.Allow()
}
