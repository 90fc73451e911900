package fetcher

import (
	"context"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter for one domain. A 429 halves the
// rate (down to a quarter of the configured rate); successes recover it by
// 20% per request but never above the configured rate.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates a limiter starting at initialRate.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	if burst < 1 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows a request or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess moves the rate back toward the configured rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate >= a.initialRate {
		return
	}
	newRate := a.currentRate * 1.2
	if newRate > a.initialRate {
		newRate = a.initialRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate after a 429 response.
func (a *AdaptiveLimiter) OnRateLimit(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("fetcher: reducing domain rate after 429",
		zap.String("host", host),
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// DomainLimiter hands out one token bucket per registrable domain, so
// www.uni.edu and profiles.uni.edu share a budget. It is safe for
// concurrent use and may be shared between fetchers.
type DomainLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	limiters map[string]*AdaptiveLimiter
}

// NewDomainLimiter creates a limiter allowing perSecond requests per domain.
func NewDomainLimiter(perSecond float64, burst int) *DomainLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &DomainLimiter{
		rate:     rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// For returns the limiter for host, creating it on first use.
func (d *DomainLimiter) For(host string) *AdaptiveLimiter {
	key := hostKey(host)
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[key]
	if !ok {
		lim = NewAdaptiveLimiter(d.rate, d.burst)
		d.limiters[key] = lim
	}
	return lim
}

// hostKey maps host to its registrable domain (eTLD+1). IP addresses and
// hosts without one key on themselves.
func hostKey(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return strings.TrimPrefix(host, "www.")
}
