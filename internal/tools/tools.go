// Package tools declares the callable tool surface. Each tool maps a
// wire-level name onto a backend service and action plus an admission
// cost; the registry filters the visible set by session permissions.
package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/authz"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/backend"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// Tool maps a tool name onto a backend operation.
type Tool struct {
	Name        string
	Description string
	Service     domain.Service
	Action      domain.Action

	// Cost computes the admission cost for a call. Nil means cost 1.
	Cost func(params backend.Params) float64
}

// CostFor returns the admission cost for a call with the given params.
func (t Tool) CostFor(params backend.Params) float64 {
	if t.Cost == nil {
		return 1
	}
	c := t.Cost(params)
	if c <= 0 {
		return 1
	}
	return c
}

// Registry holds the registered tools.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
	gate   *authz.Gate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Tool),
		gate:   authz.NewGate(),
	}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if !domain.ValidService(t.Service) {
		return fmt.Errorf("tool %q: unknown service %q", t.Name, t.Service)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[t.Name]; ok {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.byName[t.Name] = t
	return nil
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListFor returns the tools tc is permitted to call, sorted by name.
// A session only ever sees tools it could successfully invoke.
func (r *Registry) ListFor(tc *tenant.Context) []Tool {
	all := r.List()
	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if r.gate.Check(tc, t.Service, t.Action) == nil {
			out = append(out, t)
		}
	}
	return out
}
