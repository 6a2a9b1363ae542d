package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
)

// ErrNotFound is returned by stores when a tenant is not registered.
var ErrNotFound = errors.New("tenant not found")

// Record is the persisted shape of a tenant in the directory. The
// in-memory Context is derived from it together with the tier table.
type Record struct {
	TenantID    string                                 `json:"tenant_id"`
	UserID      string                                 `json:"user_id"`
	ContextType ContextType                            `json:"context_type"`
	OrgID       string                                 `json:"org_id,omitempty"`
	OrgName     string                                 `json:"org_name,omitempty"`
	Role        domain.Role                            `json:"role"`
	Permissions []domain.Permission                    `json:"permissions,omitempty"`
	Tier        string                                 `json:"tier"`
	Overrides   map[domain.Service]domain.ServiceLimit `json:"overrides,omitempty"`
	// LimitsVersion increases on every tier or override change; buckets
	// built from an older version are lazily replaced by the limiter.
	LimitsVersion uint64    `json:"limits_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the record is self-consistent.
func (r *Record) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant record: tenant_id is required")
	}
	if r.UserID == "" {
		return fmt.Errorf("tenant record %q: user_id is required", r.TenantID)
	}
	if r.ContextType != ContextPersonal && r.ContextType != ContextOrganization {
		return fmt.Errorf("tenant record %q: unknown context type %q", r.TenantID, r.ContextType)
	}
	if r.Role != "" && !domain.ValidRole(r.Role) {
		return fmt.Errorf("tenant record %q: unknown role %q", r.TenantID, r.Role)
	}
	for svc, l := range r.Overrides {
		if !l.Valid() {
			return fmt.Errorf("tenant record %q: override for %q invalid", r.TenantID, svc)
		}
	}
	return nil
}

// Store is the tenant directory boundary. Implementations: Postgres,
// Redis read-through cache, and the in-memory store used in dev mode and
// tests.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*Record, error)
	UpsertTenant(ctx context.Context, rec *Record) error
	ListTenants(ctx context.Context) ([]*Record, error)
	Close() error
}

// MemoryStore keeps tenant records in a map. Dev mode and tests only.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory directory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) GetTenant(_ context.Context, tenantID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) UpsertTenant(_ context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	now := time.Now().UTC()
	// The store owns limits_version, same contract as the Postgres
	// store: 1 on insert, +1 on every update, so stale rate-limit
	// buckets get replaced after a tier or override change.
	if prev, ok := s.records[rec.TenantID]; ok {
		cp.CreatedAt = prev.CreatedAt
		cp.LimitsVersion = prev.LimitsVersion + 1
	} else {
		cp.LimitsVersion = 1
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
	}
	cp.UpdatedAt = now
	s.records[rec.TenantID] = &cp
	return nil
}

func (s *MemoryStore) ListTenants(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
