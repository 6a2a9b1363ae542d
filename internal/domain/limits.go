package domain

import "fmt"

// ServiceLimit is the token-bucket shape for one service: the burst
// capacity and the steady refill rate in tokens per second.
type ServiceLimit struct {
	Capacity   float64 `json:"capacity" yaml:"capacity"`
	RefillRate float64 `json:"refill_per_sec" yaml:"refill_per_sec"`
}

// Valid reports whether the limit satisfies capacity >= 1 and refill > 0.
func (l ServiceLimit) Valid() bool {
	return l.Capacity >= 1 && l.RefillRate > 0
}

// ResourceLimits is an immutable per-tenant snapshot of service limits.
// Version increases every time a tenant's tier or overrides change;
// consumers compare versions to decide whether a cached bucket was built
// from a stale snapshot and must be replaced rather than mutated.
type ResourceLimits struct {
	Version  uint64                   `json:"version"`
	Tier     string                   `json:"tier,omitempty"`
	Services map[Service]ServiceLimit `json:"services"`
}

// LimitFor returns the limit configured for service, if any.
func (r ResourceLimits) LimitFor(service Service) (ServiceLimit, bool) {
	l, ok := r.Services[service]
	return l, ok
}

// Validate checks every configured service limit.
func (r ResourceLimits) Validate() error {
	for svc, l := range r.Services {
		if !l.Valid() {
			return fmt.Errorf("limit for service %q invalid: capacity=%g refill=%g", svc, l.Capacity, l.RefillRate)
		}
	}
	return nil
}

// WithVersion returns a copy of the snapshot carrying the given version.
// The services map is shared; snapshots are never mutated after creation.
func (r ResourceLimits) WithVersion(v uint64) ResourceLimits {
	r.Version = v
	return r
}

// Tier names understood by the default tier table.
const (
	TierSmall  = "small"
	TierMedium = "medium"
	TierLarge  = "large"
)

// DefaultTierTable mirrors the conservative per-service quotas the
// platform ships with. Deployments override it via the tier table file.
func DefaultTierTable() map[string]map[Service]ServiceLimit {
	return map[string]map[Service]ServiceLimit{
		TierSmall: {
			ServiceKV:        {Capacity: 100, RefillRate: 10},
			ServiceArtifacts: {Capacity: 50, RefillRate: 5},
			ServiceEvents:    {Capacity: 100, RefillRate: 10},
			ServiceWorkflows: {Capacity: 10, RefillRate: 1},
		},
		TierMedium: {
			ServiceKV:        {Capacity: 1000, RefillRate: 100},
			ServiceArtifacts: {Capacity: 350, RefillRate: 35},
			ServiceEvents:    {Capacity: 1000, RefillRate: 100},
			ServiceWorkflows: {Capacity: 50, RefillRate: 5},
		},
		TierLarge: {
			ServiceKV:        {Capacity: 10000, RefillRate: 1000},
			ServiceArtifacts: {Capacity: 3500, RefillRate: 350},
			ServiceEvents:    {Capacity: 10000, RefillRate: 1000},
			ServiceWorkflows: {Capacity: 200, RefillRate: 20},
		},
	}
}
