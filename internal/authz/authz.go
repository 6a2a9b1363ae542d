// Package authz implements the permission gate that runs before any
// quota accounting or backend work.
package authz

import (
	"fmt"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// ForbiddenError is a permission-gate denial. Terminal, never retried,
// and by pipeline ordering it never consumes tenant quota.
type ForbiddenError struct {
	Service domain.Service
	Action  domain.Action
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: missing permission %s:%s", e.Service, e.Action)
}

// Gate checks tool-call actions against a tenant context's granted
// permission set.
type Gate struct{}

// NewGate creates a permission gate.
func NewGate() *Gate {
	return &Gate{}
}

// Check returns nil iff the context may perform action on service.
// Admins bypass the permission set; everyone else needs a granted
// permission whose pattern covers (service, action).
func (g *Gate) Check(tc *tenant.Context, service domain.Service, action domain.Action) error {
	if tc == nil {
		return &ForbiddenError{Service: service, Action: action}
	}
	if tc.Role == domain.RoleAdmin {
		return nil
	}
	for _, p := range tc.Permissions {
		if p.Matches(service, action) {
			return nil
		}
	}
	return &ForbiddenError{Service: service, Action: action}
}
