package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/logging"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/metrics"
)

const tenantKeyPrefix = "mesh:tenant:"

// cacheClient is the subset of redis.Client the cached store uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// CachedStore is a Redis read-through cache in front of another Store.
// A cache failure is never fatal: reads fall through to the inner store
// and the miss is logged.
type CachedStore struct {
	inner  Store
	client cacheClient
	ttl    time.Duration
}

// NewCachedStore wraps inner with a Redis cache.
func NewCachedStore(inner Store, addr, password string, db int, ttl time.Duration) (*CachedStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{inner: inner, client: client, ttl: ttl}, nil
}

func (s *CachedStore) GetTenant(ctx context.Context, tenantID string) (*Record, error) {
	data, err := s.client.Get(ctx, tenantKeyPrefix+tenantID).Bytes()
	if err == nil {
		rec := &Record{}
		if err := json.Unmarshal(data, rec); err == nil {
			metrics.TenantCacheObserved("hit")
			return rec, nil
		}
		// Corrupt cache entry: fall through to the inner store.
		metrics.TenantCacheObserved("error")
		s.client.Del(ctx, tenantKeyPrefix+tenantID)
	} else if errors.Is(err, redis.Nil) {
		metrics.TenantCacheObserved("miss")
	} else {
		metrics.TenantCacheObserved("error")
		logging.Op().Warn("tenant cache read failed", "tenant_id", tenantID, "error", err)
	}

	rec, err := s.inner.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, rec)
	return rec, nil
}

func (s *CachedStore) UpsertTenant(ctx context.Context, rec *Record) error {
	if err := s.inner.UpsertTenant(ctx, rec); err != nil {
		return err
	}
	// The inner store owns limits_version; drop the stale cache entry and
	// let the next read re-fill it.
	if err := s.client.Del(ctx, tenantKeyPrefix+rec.TenantID).Err(); err != nil {
		logging.Op().Warn("tenant cache invalidation failed", "tenant_id", rec.TenantID, "error", err)
	}
	return nil
}

func (s *CachedStore) ListTenants(ctx context.Context) ([]*Record, error) {
	return s.inner.ListTenants(ctx)
}

func (s *CachedStore) Close() error {
	if err := s.client.Close(); err != nil {
		logging.Op().Warn("redis close failed", "error", err)
	}
	return s.inner.Close()
}

func (s *CachedStore) fill(ctx context.Context, rec *Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, tenantKeyPrefix+rec.TenantID, data, s.ttl).Err(); err != nil {
		logging.Op().Warn("tenant cache fill failed", "tenant_id", rec.TenantID, "error", err)
	}
}
