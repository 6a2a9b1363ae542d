// Package tenant holds resolved tenant identity, session bookkeeping and
// the tenant directory the gateway reads configs and quota tiers from.
package tenant

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
)

// ContextType says whether a tenant identity is a personal account or an
// organization account. Organizations get broader default permissions and
// a different namespace layout.
type ContextType string

const (
	ContextPersonal     ContextType = "personal"
	ContextOrganization ContextType = "organization"
)

// Context is the resolved identity carried through the pipeline. It is
// constructed once per authenticated session and never mutated afterwards,
// so concurrent tasks may share it freely without synchronization.
type Context struct {
	TenantID    string
	UserID      string
	ContextType ContextType
	OrgID       string // set for organization contexts
	OrgName     string
	Role        domain.Role
	Permissions []domain.Permission
	Limits      domain.ResourceLimits
}

// IsPersonal reports whether this is a personal context.
func (c *Context) IsPersonal() bool {
	return c.ContextType == ContextPersonal
}

// ContextID is the effective identifier used for session keying.
func (c *Context) ContextID() string {
	if c.ContextType == ContextOrganization {
		return "org-" + c.OrgID
	}
	return "personal-" + c.UserID
}

// NamespacePrefix returns the storage prefix isolating this identity's
// keys from every other tenant's.
func (c *Context) NamespacePrefix() string {
	if c.ContextType == ContextOrganization {
		return fmt.Sprintf("org:%s:user:%s", c.OrgID, c.UserID)
	}
	return "user:" + c.UserID
}

// Session wraps a Context with per-session bookkeeping. The counters are
// atomics so the hot path never takes a lock.
type Session struct {
	Context   *Context
	SessionID uuid.UUID
	CreatedAt time.Time

	lastActivity atomic.Int64 // unix nanos
	requestCount atomic.Int64
	active       atomic.Int64
}

// NewSession wraps ctx in a fresh session.
func NewSession(ctx *Context) *Session {
	s := &Session{
		Context:   ctx,
		SessionID: uuid.New(),
		CreatedAt: time.Now(),
	}
	s.lastActivity.Store(s.CreatedAt.UnixNano())
	return s
}

// Key returns the session map key, "tenant:session-uuid".
func (s *Session) Key() string {
	return s.Context.TenantID + ":" + s.SessionID.String()
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// BeginRequest increments the request counters and returns a guard that
// must be called exactly once when the request finishes.
func (s *Session) BeginRequest() func() {
	s.requestCount.Add(1)
	s.active.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			s.active.Add(-1)
		}
	}
}

// ActiveRequests returns the number of in-flight requests on the session.
func (s *Session) ActiveRequests() int64 {
	return s.active.Load()
}

// RequestCount returns the total requests seen by this session.
func (s *Session) RequestCount() int64 {
	return s.requestCount.Load()
}
