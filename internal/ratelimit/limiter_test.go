package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
)

func testLimits(capacity, refill float64) domain.ResourceLimits {
	return domain.ResourceLimits{
		Version: 1,
		Services: map[domain.Service]domain.ServiceLimit{
			domain.ServiceKV:     {Capacity: capacity, RefillRate: refill},
			domain.ServiceEvents: {Capacity: capacity, RefillRate: refill},
		},
	}
}

// fakeClock lets tests drive bucket time deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clock *fakeClock) *Limiter {
	l := New(Config{})
	if clock != nil {
		l.now = clock.Now
	}
	return l
}

func TestTryAcquireExhaustionAndRefill(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	limits := testLimits(5, 1)

	for i := 0; i < 5; i++ {
		if err := l.TryAcquire(limits, "acme", domain.ServiceKV, 1); err != nil {
			t.Fatalf("call %d: TryAcquire() = %v, want nil", i+1, err)
		}
	}

	err := l.TryAcquire(limits, "acme", domain.ServiceKV, 1)
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("sixth call: TryAcquire() = %v, want ThrottledError", err)
	}
	if got := throttled.RetryAfter; got < 900*time.Millisecond || got > time.Second {
		t.Errorf("RetryAfter = %s, want ≈1s", got)
	}

	clock.Advance(time.Second)
	if err := l.TryAcquire(limits, "acme", domain.ServiceKV, 1); err != nil {
		t.Fatalf("after 1s refill: TryAcquire() = %v, want nil", err)
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	limits := testLimits(5, 1)

	// Create the bucket, then idle far longer than a full refill.
	if err := l.TryAcquire(limits, "acme", domain.ServiceKV, 1); err != nil {
		t.Fatalf("TryAcquire() = %v", err)
	}
	clock.Advance(time.Hour)

	tokens, ok := l.Remaining("acme", domain.ServiceKV)
	if !ok {
		t.Fatal("Remaining() reported no bucket")
	}
	if tokens > 5 {
		t.Errorf("tokens = %g after long idle, want <= capacity 5", tokens)
	}
	if tokens < 0 {
		t.Errorf("tokens = %g, want >= 0", tokens)
	}
}

func TestTenantAndServiceIsolation(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	limits := domain.ResourceLimits{
		Version: 1,
		Services: map[domain.Service]domain.ServiceLimit{
			domain.ServiceKV:     {Capacity: 1, RefillRate: 0.001},
			domain.ServiceEvents: {Capacity: 1, RefillRate: 0.001},
		},
	}

	if err := l.TryAcquire(limits, "acme", domain.ServiceKV, 1); err != nil {
		t.Fatalf("acme first call: %v", err)
	}
	if err := l.TryAcquire(limits, "acme", domain.ServiceKV, 1); err == nil {
		t.Fatal("acme second call admitted, want throttled")
	}

	// Exhausting acme's kv bucket must not affect beta's kv bucket...
	if err := l.TryAcquire(limits, "beta", domain.ServiceKV, 1); err != nil {
		t.Errorf("beta kv call throttled by acme's consumption: %v", err)
	}
	// ...nor acme's bucket for a different service.
	if err := l.TryAcquire(limits, "acme", domain.ServiceEvents, 1); err != nil {
		t.Errorf("acme events call throttled by acme's kv consumption: %v", err)
	}
}

func TestThroughputBound(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	const capacity, refill = 10.0, 5.0
	limits := domain.ResourceLimits{
		Version: 1,
		Services: map[domain.Service]domain.ServiceLimit{
			domain.ServiceKV: {Capacity: capacity, RefillRate: refill},
		},
	}

	// Over a window of T seconds starting from a full bucket, at most
	// C + R*T units may be admitted.
	const windowSec = 4
	admitted := 0
	for step := 0; step < windowSec*100; step++ {
		for l.TryAcquire(limits, "acme", domain.ServiceKV, 1) == nil {
			admitted++
		}
		clock.Advance(10 * time.Millisecond)
	}

	bound := int(capacity + refill*windowSec)
	if admitted > bound {
		t.Errorf("admitted %d units in %ds window, bound is %d", admitted, windowSec, bound)
	}
	// The bucket refills continuously, so the window should not be
	// drastically under-served either.
	if admitted < bound-1 {
		t.Errorf("admitted %d units, expected close to %d", admitted, bound)
	}
}

func TestWeightedCost(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	limits := testLimits(10, 1)

	if err := l.TryAcquire(limits, "acme", domain.ServiceEvents, 8); err != nil {
		t.Fatalf("cost-8 call: %v", err)
	}
	if err := l.TryAcquire(limits, "acme", domain.ServiceEvents, 4); err == nil {
		t.Fatal("cost-4 call admitted with 2 tokens left, want throttled")
	}
	if err := l.TryAcquire(limits, "acme", domain.ServiceEvents, 2); err != nil {
		t.Fatalf("cost-2 call: %v", err)
	}
}

func TestUnconfiguredServiceFailsClosed(t *testing.T) {
	l := newTestLimiter(nil)
	limits := testLimits(5, 1)

	err := l.TryAcquire(limits, "acme", domain.ServiceWorkflows, 1)
	var noQuota *NoQuotaError
	if !errors.As(err, &noQuota) {
		t.Fatalf("TryAcquire() = %v, want NoQuotaError", err)
	}
}

func TestUnmeteredServiceBypassesQuota(t *testing.T) {
	l := New(Config{Unmetered: []domain.Service{domain.ServiceWorkflows}})
	limits := testLimits(5, 1)

	for i := 0; i < 100; i++ {
		if err := l.TryAcquire(limits, "acme", domain.ServiceWorkflows, 1); err != nil {
			t.Fatalf("unmetered call %d: %v", i, err)
		}
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, unmetered traffic must not create buckets", l.Len())
	}
}

func TestSnapshotVersionReplacesBucket(t *testing.T) {
	l := newTestLimiter(newFakeClock())

	limits := testLimits(2, 0.001)
	if err := l.TryAcquire(limits, "acme", domain.ServiceKV, 2); err != nil {
		t.Fatalf("drain call: %v", err)
	}
	if err := l.TryAcquire(limits, "acme", domain.ServiceKV, 1); err == nil {
		t.Fatal("expected throttle before tier change")
	}

	// A tier upgrade produces a new snapshot version; the stale bucket is
	// discarded, not resized.
	upgraded := domain.ResourceLimits{
		Version: 2,
		Services: map[domain.Service]domain.ServiceLimit{
			domain.ServiceKV: {Capacity: 10, RefillRate: 1},
		},
	}
	if err := l.TryAcquire(upgraded, "acme", domain.ServiceKV, 10); err != nil {
		t.Fatalf("post-upgrade call: %v", err)
	}
}

func TestReapIdleEvictsOnlyStaleBuckets(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{IdleTTL: time.Hour})
	l.now = clock.Now
	limits := testLimits(5, 1)

	if err := l.TryAcquire(limits, "stale", domain.ServiceKV, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	if err := l.TryAcquire(limits, "fresh", domain.ServiceKV, 1); err != nil {
		t.Fatal(err)
	}

	if n := l.reapIdle(); n != 1 {
		t.Errorf("reapIdle() = %d, want 1", n)
	}
	if _, ok := l.Remaining("stale", domain.ServiceKV); ok {
		t.Error("stale bucket survived the reaper")
	}
	if _, ok := l.Remaining("fresh", domain.ServiceKV); !ok {
		t.Error("fresh bucket was evicted")
	}
}

func TestConcurrentAcquireExactAccounting(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	limits := domain.ResourceLimits{
		Version: 1,
		Services: map[domain.Service]domain.ServiceLimit{
			// Negligible refill: the only tokens are the initial capacity.
			domain.ServiceKV: {Capacity: 100, RefillRate: 0.0001},
		},
	}

	const goroutines = 32
	const callsEach = 50

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < callsEach; i++ {
				if l.TryAcquire(limits, "acme", domain.ServiceKV, 1) == nil {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 100 {
		t.Errorf("admitted %d calls across racing goroutines, want exactly 100", got)
	}
}
