package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

type captureBus struct {
	mu     sync.Mutex
	calls  []map[string]any
	types  []string
	err    error
	notify chan struct{}
}

func newCaptureBus() *captureBus {
	return &captureBus{notify: make(chan struct{}, 64)}
}

func (b *captureBus) Publish(_ context.Context, eventType string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.types = append(b.types, eventType)
	b.calls = append(b.calls, payload)
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *captureBus) published() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.calls))
	copy(out, b.calls)
	return out
}

func waitFor(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func testContext() *tenant.Context {
	return &tenant.Context{
		TenantID:    "acme",
		UserID:      "alice",
		ContextType: tenant.ContextOrganization,
	}
}

func TestEmitStampsTenantMetadata(t *testing.T) {
	bus := newCaptureBus()
	p := New(bus, Config{QueueSize: 8})
	p.Start()
	defer p.Stop()

	if err := p.Emit(testContext(), "tool.completed", map[string]any{"tool": "kv_get"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	waitFor(t, bus.notify)

	got := bus.published()
	if len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}
	payload := got[0]
	if payload["tenant_id"] != "acme" || payload["user_id"] != "alice" {
		t.Errorf("tenant metadata not stamped: %v", payload)
	}
	if payload["context_type"] != "organization" {
		t.Errorf("context_type = %v, want organization", payload["context_type"])
	}
	if payload["tool"] != "kv_get" {
		t.Errorf("original payload lost: %v", payload)
	}
}

func TestEmitDoesNotMutateCallerPayload(t *testing.T) {
	bus := newCaptureBus()
	p := New(bus, Config{QueueSize: 8})
	p.Start()
	defer p.Stop()

	payload := map[string]any{"tool": "kv_set"}
	if err := p.Emit(testContext(), "tool.completed", payload); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	waitFor(t, bus.notify)

	if _, ok := payload["tenant_id"]; ok {
		t.Error("caller payload was mutated")
	}
}

func TestEmitQueueOverflowDrops(t *testing.T) {
	bus := newCaptureBus()
	p := New(bus, Config{QueueSize: 2})
	// Not started: nothing drains the queue.

	if err := p.Emit(testContext(), "e1", nil); err != nil {
		t.Fatalf("first Emit: %v", err)
	}
	if err := p.Emit(testContext(), "e2", nil); err != nil {
		t.Fatalf("second Emit: %v", err)
	}

	err := p.Emit(testContext(), "e3", nil)
	var pe *PublishError
	if !errors.As(err, &pe) {
		t.Fatalf("overflow error = %v, want *PublishError", err)
	}
	if pe.EventType != "e3" {
		t.Errorf("EventType = %q, want e3", pe.EventType)
	}
}

func TestPublishFailureIsNonFatal(t *testing.T) {
	bus := newCaptureBus()
	bus.err = errors.New("bus unavailable")
	p := New(bus, Config{QueueSize: 8})
	p.Start()

	if err := p.Emit(testContext(), "tool.completed", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	p.Stop()

	if n := len(bus.published()); n != 0 {
		t.Errorf("published %d events, want 0", n)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	bus := newCaptureBus()
	p := New(bus, Config{QueueSize: 16})

	for i := 0; i < 5; i++ {
		if err := p.Emit(testContext(), "tool.completed", map[string]any{"i": i}); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}
	p.Start()
	p.Stop()

	if n := len(bus.published()); n != 5 {
		t.Errorf("published %d events after Stop, want 5", n)
	}
}
