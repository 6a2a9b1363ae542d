// Package domain holds the core vocabulary of the gateway: services,
// actions, permissions, roles, and resource limits. It has no
// dependencies so every other package can speak these types.
package domain

// Service names a backend the gateway fronts.
type Service string

const (
	ServiceKV        Service = "kv"
	ServiceArtifacts Service = "artifacts"
	ServiceEvents    Service = "events"
	ServiceWorkflows Service = "workflows"
)

// Action names an operation on a service.
type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionDelete  Action = "delete"
	ActionList    Action = "list"
	ActionPublish Action = "publish"
	ActionStart   Action = "start"
)

// KnownServices lists every service the gateway can dispatch to.
var KnownServices = []Service{ServiceKV, ServiceArtifacts, ServiceEvents, ServiceWorkflows}

// ValidService reports whether s names a known backend service.
func ValidService(s Service) bool {
	for _, known := range KnownServices {
		if s == known {
			return true
		}
	}
	return false
}
