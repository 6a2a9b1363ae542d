package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/backend"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/dispatch"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tools"
)

// gateway binds the dispatcher to one authenticated session for the
// lifetime of the stdio connection.
type gateway struct {
	dispatcher *dispatch.Dispatcher
	session    *tenant.Session
	registry   *tools.Registry
}

// textResult creates a CallToolResult with raw JSON text content.
func textResult(data json.RawMessage) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}

// errResult creates a CallToolResult with an error message.
func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
		IsError: true,
	}
}

// addGatewayTool registers a tool whose handler maps typed args onto
// backend params and runs them through the admission pipeline.
func addGatewayTool[In any](s *mcp.Server, g *gateway, name string, toParams func(In) backend.Params) {
	tool, ok := g.registry.Get(name)
	if !ok {
		return
	}
	mcp.AddTool(s, &mcp.Tool{
		Name:        tool.Name,
		Description: tool.Description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		params := toParams(args)
		res := g.dispatcher.Dispatch(ctx, g.session, dispatch.Call{
			Tool:    tool.Name,
			Service: tool.Service,
			Action:  tool.Action,
			Cost:    tool.CostFor(params),
			Params:  params,
		})
		if res.Outcome != dispatch.OutcomeCompleted {
			return errResult(res.Err), nil, nil
		}
		body, err := json.Marshal(res.Payload)
		if err != nil {
			return errResult(fmt.Errorf("encode result: %w", err)), nil, nil
		}
		return textResult(body), nil, nil
	})
}

type KVGetArgs struct {
	Key string `json:"key" jsonschema:"Key to look up"`
}

type KVSetArgs struct {
	Key      string  `json:"key" jsonschema:"Key to set"`
	Value    string  `json:"value" jsonschema:"Value to store"`
	TTLHours float64 `json:"ttl_hours,omitempty" jsonschema:"Expiry in hours, 0 for none"`
}

type KVDeleteArgs struct {
	Key string `json:"key" jsonschema:"Key to delete"`
}

type ArtifactsGetArgs struct {
	Key string `json:"key" jsonschema:"Artifact key"`
}

type ArtifactsPutArgs struct {
	Key         string `json:"key" jsonschema:"Artifact key"`
	Content     string `json:"content" jsonschema:"Base64-encoded content"`
	ContentType string `json:"content_type,omitempty" jsonschema:"MIME type, defaults to text/plain"`
}

type ArtifactsListArgs struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"Key prefix to filter by"`
}

type EventsSendArgs struct {
	DetailType string           `json:"detail_type,omitempty" jsonschema:"Event type for a single event"`
	Detail     map[string]any   `json:"detail,omitempty" jsonschema:"Event payload for a single event"`
	Events     []map[string]any `json:"events,omitempty" jsonschema:"Batch of {detail_type, detail} objects"`
}

type WorkflowStartArgs struct {
	Workflow string         `json:"workflow" jsonschema:"Workflow name"`
	Input    map[string]any `json:"input,omitempty" jsonschema:"Workflow input object"`
}

// registerSessionTools adds only the tools the session is permitted to
// call, so a viewer never sees write tools at all.
func registerSessionTools(s *mcp.Server, g *gateway) {
	permitted := make(map[string]bool)
	for _, t := range g.registry.ListFor(g.session.Context) {
		permitted[t.Name] = true
	}
	add := func(name string, register func()) {
		if permitted[name] {
			register()
		}
	}

	add("kv_get", func() {
		addGatewayTool(s, g, "kv_get", func(a KVGetArgs) backend.Params {
			return backend.Params{"key": a.Key}
		})
	})
	add("kv_set", func() {
		addGatewayTool(s, g, "kv_set", func(a KVSetArgs) backend.Params {
			p := backend.Params{"key": a.Key, "value": a.Value}
			if a.TTLHours > 0 {
				p["ttl_hours"] = a.TTLHours
			}
			return p
		})
	})
	add("kv_delete", func() {
		addGatewayTool(s, g, "kv_delete", func(a KVDeleteArgs) backend.Params {
			return backend.Params{"key": a.Key}
		})
	})
	add("artifacts_get", func() {
		addGatewayTool(s, g, "artifacts_get", func(a ArtifactsGetArgs) backend.Params {
			return backend.Params{"key": a.Key}
		})
	})
	add("artifacts_put", func() {
		addGatewayTool(s, g, "artifacts_put", func(a ArtifactsPutArgs) backend.Params {
			p := backend.Params{"key": a.Key, "content": a.Content}
			if a.ContentType != "" {
				p["content_type"] = a.ContentType
			}
			return p
		})
	})
	add("artifacts_list", func() {
		addGatewayTool(s, g, "artifacts_list", func(a ArtifactsListArgs) backend.Params {
			return backend.Params{"prefix": a.Prefix}
		})
	})
	add("events_send", func() {
		addGatewayTool(s, g, "events_send", func(a EventsSendArgs) backend.Params {
			if len(a.Events) > 0 {
				entries := make([]any, len(a.Events))
				for i, ev := range a.Events {
					entries[i] = ev
				}
				return backend.Params{"events": entries}
			}
			return backend.Params{"detail_type": a.DetailType, "detail": a.Detail}
		})
	})
	add("workflow_start", func() {
		addGatewayTool(s, g, "workflow_start", func(a WorkflowStartArgs) backend.Params {
			p := backend.Params{"workflow": a.Workflow}
			if a.Input != nil {
				p["input"] = a.Input
			}
			return p
		})
	})
}

// runMCPServer serves the tool protocol on stdio until the transport
// closes or ctx is cancelled.
func runMCPServer(ctx context.Context, d *dispatch.Dispatcher, registry *tools.Registry, sess *tenant.Session) error {
	g := &gateway{dispatcher: d, session: sess, registry: registry}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "meshd",
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: "meshd is the tool gateway for the agent mesh. It exposes the shared " +
			"key-value store, artifact store, event bus, and workflow engine as tools, " +
			"scoped to the authenticated tenant and subject to its rate limits.",
	})

	registerSessionTools(server, g)

	return server.Run(ctx, &mcp.StdioTransport{})
}
