// Package ratelimiter throttles remote calls with token buckets, either
// globally or per client.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a single token bucket.
//
// Tokens are added at a constant rate and each call consumes one; Burst
// bounds how many calls can be served back to back after an idle period.
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond sustained calls with
// bursts of up to burst. A zero rate disables limiting.
func New(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: newLimiter(requestsPerSecond, burst)}
}

func newLimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Allow consumes a token if one is available, without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// ============================================================================
// Per-client limiting
// ============================================================================

// DefaultIdleTTL is how long an unused per-client bucket is kept.
const DefaultIdleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerClient keeps one token bucket per client key (typically the remote
// address). Buckets idle for longer than the TTL are dropped, so a client
// that returns after a pause starts with a full bucket.
type PerClient struct {
	mu        sync.Mutex
	rps       float64
	burst     int
	ttl       time.Duration
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// NewPerClient creates a per-client limiter. A zero rate disables
// limiting; a zero ttl uses DefaultIdleTTL.
func NewPerClient(requestsPerSecond float64, burst int, ttl time.Duration) *PerClient {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &PerClient{
		rps:     requestsPerSecond,
		burst:   burst,
		ttl:     ttl,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes a token from key's bucket if one is available.
func (p *PerClient) Allow(key string) bool {
	if p.rps <= 0 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.sweep(now)

	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{limiter: newLimiter(p.rps, p.burst)}
		p.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients.
func (p *PerClient) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}

// sweep drops idle buckets at most once per TTL.
func (p *PerClient) sweep(now time.Time) {
	if now.Sub(p.lastSweep) < p.ttl {
		return
	}
	p.lastSweep = now
	for key, b := range p.buckets {
		if now.Sub(b.lastSeen) >= p.ttl {
			delete(p.buckets, key)
		}
	}
}
