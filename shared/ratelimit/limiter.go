// Package ratelimit gates calls to an upstream HTTP API with a pair of leaky
// buckets, one enforcing a per-second rate and one a per-minute rate. A call
// proceeds only when both buckets have room.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/kevinms/leakybucket-go"
)

const bucketKey = "upstream"

// Limiter enforces a per-second and a per-minute rate simultaneously.
type Limiter struct {
	mu        sync.Mutex
	secBucket *leakybucket.Collector
	minBucket *leakybucket.Collector
	secRate   float64
	minRate   float64
}

// NewLimiter builds a limiter allowing perSecond calls per second and
// perMinute calls per minute.
func NewLimiter(perSecond, perMinute int) *Limiter {
	return &Limiter{
		secBucket: leakybucket.NewCollector(float64(perSecond), int64(perSecond), false),
		minBucket: leakybucket.NewCollector(float64(perMinute)/60.0, int64(perMinute), false),
		secRate:   float64(perSecond),
		minRate:   float64(perMinute) / 60.0,
	}
}

// TryAcquire takes a token from both buckets if both have room. It never
// blocks.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.secBucket.Remaining(bucketKey) < 1 || l.minBucket.Remaining(bucketKey) < 1 {
		return false
	}
	l.secBucket.Add(bucketKey, 1)
	l.minBucket.Add(bucketKey, 1)
	return true
}

// Acquire blocks until a token is available in both buckets, then consumes
// one from each. It returns the context error if cancellation is signalled
// while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if l.TryAcquire() {
			return nil
		}
		timer := time.NewTimer(l.nextTokenWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextTokenWait estimates how long until one token leaks out of whichever
// full bucket drains slowest.
func (l *Limiter) nextTokenWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	wait := time.Duration(0)
	if l.secBucket.Remaining(bucketKey) < 1 {
		wait = time.Duration(float64(time.Second) / l.secRate)
	}
	if l.minBucket.Remaining(bucketKey) < 1 {
		if w := time.Duration(float64(time.Second) / l.minRate); w > wait {
			wait = w
		}
	}
	if wait <= 0 {
		wait = 10 * time.Millisecond
	}
	return wait
}
