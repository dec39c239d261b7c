// internal/dispatch/ratelimit.go
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiter hands out one token bucket per (tenant, channel) so a noisy
// tenant cannot starve the provider quota shared by everyone else.
type tenantLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps)
	}
	return &tenantLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *tenantLimiter) get(tenant, channel string) *rate.Limiter {
	key := tenant + ":" + channel
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Wait blocks until the tenant+channel bucket grants a token or ctx ends.
func (l *tenantLimiter) Wait(ctx context.Context, tenant, channel string) error {
	return l.get(tenant, channel).Wait(ctx)
}
