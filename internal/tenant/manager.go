package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/logging"
)

// Credentials is the raw identity material attached to an inbound
// request. The gateway never derives identity from anything else.
type Credentials struct {
	TenantID     string
	UserID       string
	SessionToken string
}

// UnauthenticatedError means no valid tenant context could be attached
// to the request. Terminal, never retried.
type UnauthenticatedError struct {
	Reason string
}

func (e *UnauthenticatedError) Error() string {
	return "unauthenticated: " + e.Reason
}

// Authenticator resolves raw credentials into a tenant Context.
type Authenticator interface {
	Resolve(ctx context.Context, creds Credentials) (*Context, error)
}

const sessionIdleTimeout = 30 * time.Minute

// Manager resolves tenant contexts from the directory and tracks live
// sessions. It is the gateway's Authenticator.
type Manager struct {
	store   Store
	tiers   map[string]map[domain.Service]domain.ServiceLimit
	devMode bool

	mu       sync.RWMutex
	sessions map[string]*Session

	reapMu  sync.Mutex
	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewManager creates a Manager over the given directory store and tier
// table. In dev mode unknown tenants are auto-registered with the medium
// tier instead of being rejected.
func NewManager(store Store, tiers map[string]map[domain.Service]domain.ServiceLimit, devMode bool) *Manager {
	if tiers == nil {
		tiers = domain.DefaultTierTable()
	}
	if devMode {
		logging.Op().Warn("dev mode enabled: unknown tenants will be auto-registered (do not use in production)")
	}
	return &Manager{
		store:    store,
		tiers:    tiers,
		devMode:  devMode,
		sessions: make(map[string]*Session),
	}
}

// Resolve implements Authenticator. It validates the credentials against
// the tenant directory and builds an immutable Context snapshot.
func (m *Manager) Resolve(ctx context.Context, creds Credentials) (*Context, error) {
	if creds.TenantID == "" {
		return nil, &UnauthenticatedError{Reason: "tenant_id is required"}
	}
	if creds.UserID == "" {
		return nil, &UnauthenticatedError{Reason: "user_id is required"}
	}

	rec, err := m.store.GetTenant(ctx, creds.TenantID)
	if errors.Is(err, ErrNotFound) {
		if !m.devMode {
			return nil, &UnauthenticatedError{Reason: "unknown tenant " + creds.TenantID}
		}
		rec, err = m.autoRegister(ctx, creds)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %q: %w", creds.TenantID, err)
	}

	if rec.UserID != creds.UserID {
		return nil, &UnauthenticatedError{Reason: "user not authorized for tenant " + creds.TenantID}
	}

	return m.buildContext(rec)
}

// CreateSession resolves creds and registers a new session for the
// resulting context.
func (m *Manager) CreateSession(ctx context.Context, creds Credentials) (*Session, error) {
	tc, err := m.Resolve(ctx, creds)
	if err != nil {
		return nil, err
	}

	session := NewSession(tc)
	m.mu.Lock()
	m.sessions[session.Key()] = session
	m.mu.Unlock()
	return session, nil
}

// GetSession returns a live session by key.
func (m *Manager) GetSession(key string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key]
}

// Sessions returns a snapshot of all live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// ActiveRequests sums in-flight requests across all sessions. Used by
// graceful shutdown to drain before exit.
func (m *Manager) ActiveRequests() int64 {
	var total int64
	for _, s := range m.Sessions() {
		total += s.ActiveRequests()
	}
	return total
}

// UpdateTier changes a tenant's tier. The store bumps the limits version,
// so existing rate-limit buckets are replaced on next use rather than
// resized in place.
func (m *Manager) UpdateTier(ctx context.Context, tenantID, tier string) error {
	if _, ok := m.tiers[tier]; !ok {
		return fmt.Errorf("unknown tier %q", tier)
	}
	rec, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	rec.Tier = tier
	return m.store.UpsertTenant(ctx, rec)
}

func (m *Manager) autoRegister(ctx context.Context, creds Credentials) (*Record, error) {
	logging.Op().Info("auto-registering tenant (dev mode)", "tenant_id", creds.TenantID, "user_id", creds.UserID)
	rec := &Record{
		TenantID:    creds.TenantID,
		UserID:      creds.UserID,
		ContextType: ContextOrganization,
		OrgID:       creds.TenantID,
		OrgName:     creds.TenantID,
		Role:        domain.RoleAdmin,
		Permissions: []domain.Permission{domain.PermAll},
		Tier:        domain.TierMedium,
	}
	if err := m.store.UpsertTenant(ctx, rec); err != nil {
		return nil, err
	}
	return m.store.GetTenant(ctx, creds.TenantID)
}

func (m *Manager) buildContext(rec *Record) (*Context, error) {
	limits, err := m.buildLimits(rec)
	if err != nil {
		return nil, err
	}

	perms := rec.Permissions
	if len(perms) == 0 {
		perms = domain.RolePermissions[rec.Role]
	}

	return &Context{
		TenantID:    rec.TenantID,
		UserID:      rec.UserID,
		ContextType: rec.ContextType,
		OrgID:       rec.OrgID,
		OrgName:     rec.OrgName,
		Role:        rec.Role,
		Permissions: perms,
		Limits:      limits,
	}, nil
}

// buildLimits materializes the tenant's ResourceLimits snapshot from its
// tier plus any per-service overrides. The snapshot carries the record's
// limits version so the limiter can detect stale buckets.
func (m *Manager) buildLimits(rec *Record) (domain.ResourceLimits, error) {
	tierName := rec.Tier
	if tierName == "" {
		tierName = domain.TierSmall
	}
	tier, ok := m.tiers[tierName]
	if !ok {
		return domain.ResourceLimits{}, fmt.Errorf("tenant %q references unknown tier %q", rec.TenantID, tierName)
	}

	services := make(map[domain.Service]domain.ServiceLimit, len(tier))
	for svc, l := range tier {
		services[svc] = l
	}
	for svc, l := range rec.Overrides {
		services[svc] = l
	}

	limits := domain.ResourceLimits{
		Version:  rec.LimitsVersion,
		Tier:     tierName,
		Services: services,
	}
	if err := limits.Validate(); err != nil {
		return domain.ResourceLimits{}, fmt.Errorf("tenant %q: %w", rec.TenantID, err)
	}
	return limits, nil
}

// Start launches the idle-session reaper.
func (m *Manager) Start() {
	m.reapMu.Lock()
	defer m.reapMu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.reapLoop(m.stopCh)
}

// Stop shuts the reaper down.
func (m *Manager) Stop() {
	m.reapMu.Lock()
	if !m.started {
		m.reapMu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.reapMu.Unlock()

	m.wg.Wait()
}

func (m *Manager) reapLoop(stopCh chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.reapIdleSessions()
		}
	}
}

// reapIdleSessions drops sessions idle past the timeout. Sessions with
// in-flight requests are kept regardless of idle time.
func (m *Manager) reapIdleSessions() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		if s.ActiveRequests() > 0 {
			continue
		}
		if now.Sub(s.LastActivity()) >= sessionIdleTimeout {
			delete(m.sessions, key)
		}
	}
}
