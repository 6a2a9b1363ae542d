// Package ratelimit implements per-tenant-per-service token-bucket
// admission control.
//
// Buckets live in a sharded map keyed by (tenant, service). Each shard
// has its own mutex, so the refill-then-consume sequence for one key is
// linearizable while contention on one tenant's bucket cannot stall
// unrelated tenants. Bucket state is intentionally in-memory only and
// resets on process restart.
package ratelimit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/logging"
)

// BucketKey addresses one token bucket. Two tenants never share a key,
// and one tenant's services never share a key.
type BucketKey struct {
	TenantID string
	Service  domain.Service
}

func (k BucketKey) String() string {
	return k.TenantID + ":" + string(k.Service)
}

// ThrottledError is returned when a bucket has too few tokens.
type ThrottledError struct {
	Key        BucketKey
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// NoQuotaError is returned when a tenant has no limit configured for a
// service that is not on the unmetered allow-list. Unconfigured services
// fail closed.
type NoQuotaError struct {
	Service domain.Service
}

func (e *NoQuotaError) Error() string {
	return fmt.Sprintf("no quota configured for service %q", e.Service)
}

const defaultShardCount = 64

// Config holds limiter settings.
type Config struct {
	Shards       int
	IdleTTL      time.Duration   // evict buckets idle longer than this
	ReapInterval time.Duration   // how often the idle reaper runs
	Unmetered    []domain.Service // services exempt from quota accounting
}

type shard struct {
	mu      sync.Mutex
	buckets map[BucketKey]*tokenBucket
}

// Limiter owns the bucket map and creates buckets lazily from each
// tenant's ResourceLimits snapshot.
type Limiter struct {
	shards    []*shard
	unmetered map[domain.Service]struct{}
	idleTTL   time.Duration
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShardCount
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 5 * time.Minute
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{buckets: make(map[BucketKey]*tokenBucket)}
	}

	unmetered := make(map[domain.Service]struct{}, len(cfg.Unmetered))
	for _, svc := range cfg.Unmetered {
		unmetered[svc] = struct{}{}
	}

	return &Limiter{
		shards:    shards,
		unmetered: unmetered,
		idleTTL:   cfg.IdleTTL,
		interval:  cfg.ReapInterval,
		now:       time.Now,
	}
}

func (l *Limiter) shardFor(key BucketKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(key.Service))
	return l.shards[int(h.Sum32())%len(l.shards)]
}

// TryAcquire consumes cost tokens from the bucket for (tenantID, service),
// creating the bucket from limits on first use. It returns nil when the
// call is admitted, *ThrottledError when the bucket is short on tokens,
// and *NoQuotaError when no limit is configured for the service.
//
// Buckets created from an older limits snapshot are discarded and
// recreated, never resized in place, so a tier change takes effect on the
// next acquire without retroactively un-consuming tokens.
func (l *Limiter) TryAcquire(limits domain.ResourceLimits, tenantID string, service domain.Service, cost float64) error {
	if _, ok := l.unmetered[service]; ok {
		return nil
	}
	limit, ok := limits.LimitFor(service)
	if !ok {
		return &NoQuotaError{Service: service}
	}
	if cost <= 0 {
		cost = 1
	}

	key := BucketKey{TenantID: tenantID, Service: service}
	sh := l.shardFor(key)
	now := l.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok || b.version != limits.Version {
		b = newTokenBucket(limit.Capacity, limit.RefillRate, limits.Version, now)
		sh.buckets[key] = b
	}

	if b.refillAndTryConsume(now, cost) {
		return nil
	}
	return &ThrottledError{Key: key, RetryAfter: b.retryAfter(cost)}
}

// Remaining reports the current token count for a key without consuming
// anything. Used by quota dashboards and tests; ok is false when the
// bucket has not been created yet.
func (l *Limiter) Remaining(tenantID string, service domain.Service) (float64, bool) {
	key := BucketKey{TenantID: tenantID, Service: service}
	sh := l.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		return 0, false
	}
	b.refillAndTryConsume(l.now(), 0)
	return b.tokens, true
}

// Len returns the number of live buckets across all shards.
func (l *Limiter) Len() int {
	total := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		total += len(sh.buckets)
		sh.mu.Unlock()
	}
	return total
}

// Start launches the idle-bucket reaper.
func (l *Limiter) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.stopCh = make(chan struct{})

	l.wg.Add(1)
	go l.reapLoop(l.stopCh)
	logging.Op().Info("rate limiter reaper started", "idle_ttl", l.idleTTL, "interval", l.interval)
}

// Stop shuts the reaper down.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *Limiter) reapLoop(stopCh chan struct{}) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if n := l.reapIdle(); n > 0 {
				logging.Op().Debug("evicted idle rate-limit buckets", "count", n)
			}
		}
	}
}

// reapIdle removes buckets whose last refill is older than the TTL. It
// takes each shard's lock, the same lock TryAcquire holds, so a bucket
// can never be evicted in the middle of a consumption.
func (l *Limiter) reapIdle() int {
	now := l.now()
	evicted := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, b := range sh.buckets {
			if now.Sub(b.lastRefill) >= l.idleTTL {
				delete(sh.buckets, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}
