package ratelimit

import (
	"math"
	"time"
)

// tokenBucket is the single-key quota primitive. It is owned exclusively
// by its shard map entry and only touched while the shard lock is held,
// so none of its fields need their own synchronization.
type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	version    uint64 // ResourceLimits snapshot the bucket was built from
}

func newTokenBucket(capacity, refillRate float64, version uint64, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now,
		version:    version,
	}
}

// refillAndTryConsume refills the bucket for the elapsed time, then
// consumes cost tokens if enough are available. Elapsed time is clamped
// to zero so a backwards clock adjustment never drains the bucket, and
// tokens never exceed capacity no matter how long the bucket sat idle.
func (b *tokenBucket) refillAndTryConsume(now time.Time, cost float64) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

// retryAfter estimates how long until cost tokens will be available.
func (b *tokenBucket) retryAfter(cost float64) time.Duration {
	deficit := cost - b.tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.refillRate * float64(time.Second))
}
