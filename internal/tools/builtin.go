package tools

import (
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/backend"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
)

// eventBatchCost charges one token per entry in a batched publish.
func eventBatchCost(params backend.Params) float64 {
	if entries, ok := params["events"].([]any); ok && len(entries) > 0 {
		return float64(len(entries))
	}
	return 1
}

// Builtins returns the standard tool set.
func Builtins() []Tool {
	return []Tool{
		{
			Name:        "kv_get",
			Description: "Get a value from the key-value store",
			Service:     domain.ServiceKV,
			Action:      domain.ActionRead,
		},
		{
			Name:        "kv_set",
			Description: "Set a value in the key-value store with optional TTL",
			Service:     domain.ServiceKV,
			Action:      domain.ActionWrite,
		},
		{
			Name:        "kv_delete",
			Description: "Delete a key from the key-value store",
			Service:     domain.ServiceKV,
			Action:      domain.ActionDelete,
		},
		{
			Name:        "artifacts_get",
			Description: "Retrieve an artifact by key",
			Service:     domain.ServiceArtifacts,
			Action:      domain.ActionRead,
		},
		{
			Name:        "artifacts_put",
			Description: "Store an artifact (base64 content) with a content type",
			Service:     domain.ServiceArtifacts,
			Action:      domain.ActionWrite,
		},
		{
			Name:        "artifacts_list",
			Description: "List artifact keys under a prefix",
			Service:     domain.ServiceArtifacts,
			Action:      domain.ActionList,
		},
		{
			Name:        "events_send",
			Description: "Publish one or more events to the event bus",
			Service:     domain.ServiceEvents,
			Action:      domain.ActionPublish,
			Cost:        eventBatchCost,
		},
		{
			Name:        "workflow_start",
			Description: "Start a workflow execution",
			Service:     domain.ServiceWorkflows,
			Action:      domain.ActionStart,
		},
	}
}

// BuiltinRegistry returns a registry preloaded with the standard tools.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, t := range Builtins() {
		// Names are unique by construction.
		_ = r.Register(t)
	}
	return r
}
