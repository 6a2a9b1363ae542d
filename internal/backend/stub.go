package backend

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// Stub is an in-memory Invoker for dev mode and tests. It mirrors the
// tenant-prefixing and response shapes of the AWS implementation.
type Stub struct {
	mu        sync.Mutex
	kv        map[string]string
	artifacts map[string][]byte
	events    []map[string]any
	workflows []string
}

// NewStub creates an empty in-memory backend.
func NewStub() *Stub {
	return &Stub{
		kv:        make(map[string]string),
		artifacts: make(map[string][]byte),
	}
}

func (s *Stub) Invoke(_ context.Context, tc *tenant.Context, service domain.Service, action domain.Action, params Params) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case service == domain.ServiceKV && action == domain.ActionRead:
		key, err := params.String("key")
		if err != nil {
			return nil, Permanent(service, "get", err)
		}
		if v, ok := s.kv[kvKey(tc, key)]; ok {
			return map[string]any{"value": v}, nil
		}
		return map[string]any{"value": nil}, nil

	case service == domain.ServiceKV && action == domain.ActionWrite:
		key, err := params.String("key")
		if err != nil {
			return nil, Permanent(service, "set", err)
		}
		value, err := params.String("value")
		if err != nil {
			return nil, Permanent(service, "set", err)
		}
		s.kv[kvKey(tc, key)] = value
		return map[string]any{"success": true}, nil

	case service == domain.ServiceKV && action == domain.ActionDelete:
		key, err := params.String("key")
		if err != nil {
			return nil, Permanent(service, "delete", err)
		}
		delete(s.kv, kvKey(tc, key))
		return map[string]any{"success": true}, nil

	case service == domain.ServiceArtifacts && action == domain.ActionRead:
		key, err := params.String("key")
		if err != nil {
			return nil, Permanent(service, "get", err)
		}
		content, ok := s.artifacts[artifactKey(tc, key)]
		if !ok {
			return map[string]any{"content": nil}, nil
		}
		return map[string]any{
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
		}, nil

	case service == domain.ServiceArtifacts && action == domain.ActionWrite:
		key, err := params.String("key")
		if err != nil {
			return nil, Permanent(service, "put", err)
		}
		encoded, err := params.String("content")
		if err != nil {
			return nil, Permanent(service, "put", err)
		}
		content, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, Permanent(service, "put",
				&InvalidParamsError{Param: "content", Reason: "invalid base64"})
		}
		s.artifacts[artifactKey(tc, key)] = content
		return map[string]any{"success": true}, nil

	case service == domain.ServiceArtifacts && action == domain.ActionList:
		prefix := tc.TenantID + "/" + params.OptString("prefix")
		keys := []string{}
		for k := range s.artifacts {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, strings.TrimPrefix(k, tc.TenantID+"/"))
			}
		}
		return map[string]any{"keys": keys}, nil

	case service == domain.ServiceEvents && action == domain.ActionPublish:
		events, err := extractEvents(params)
		if err != nil {
			return nil, Permanent(service, "publish", err)
		}
		for _, ev := range events {
			s.events = append(s.events, map[string]any{
				"detail_type": ev.detailType,
				"detail":      stampDetail(tc, ev.detail),
			})
		}
		return map[string]any{"success": true, "published": len(events)}, nil

	case service == domain.ServiceWorkflows && action == domain.ActionStart:
		name, err := params.String("workflow")
		if err != nil {
			return nil, Permanent(service, "start", err)
		}
		s.workflows = append(s.workflows, tc.TenantID+":"+name)
		return map[string]any{"execution_arn": "stub:" + tc.TenantID + ":" + name}, nil
	}

	return nil, Permanent(service, string(action), &UnknownOperationError{Service: service, Action: action})
}

// Publish records a gateway event outside the request pipeline.
func (s *Stub) Publish(_ context.Context, eventType string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, map[string]any{
		"detail_type": eventType,
		"detail":      payload,
	})
	return nil
}

// Events returns published events, for tests.
func (s *Stub) Events() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.events))
	copy(out, s.events)
	return out
}
