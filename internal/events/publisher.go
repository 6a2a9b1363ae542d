// Package events publishes gateway events to the shared event bus with
// tenant metadata stamped into every payload. Publishing is best-effort:
// a full queue or a bus failure is logged and counted, never surfaced to
// the request that triggered it.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/logging"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/metrics"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// BusClient is the external event-bus boundary.
type BusClient interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) error
}

// PublishError wraps a bus failure. Non-fatal by contract: callers log
// it and move on.
type PublishError struct {
	EventType string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %q: %v", e.EventType, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Config holds publisher settings.
type Config struct {
	QueueSize      int
	PublishTimeout time.Duration
}

type emission struct {
	eventType string
	payload   map[string]any
}

// Publisher queues events and publishes them from a single worker so the
// request path never blocks on the bus.
type Publisher struct {
	client  BusClient
	timeout time.Duration
	queue   chan emission

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Publisher over client.
func New(client BusClient, cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Publisher{
		client:  client,
		timeout: cfg.PublishTimeout,
		queue:   make(chan emission, cfg.QueueSize),
	}
}

// Emit merges {tenant_id, user_id, context_type} into payload and queues
// it for publishing. When the queue is full the event is dropped and a
// *PublishError returned; the caller logs it and continues.
func (p *Publisher) Emit(tc *tenant.Context, eventType string, payload map[string]any) error {
	merged := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		merged[k] = v
	}
	if tc != nil {
		merged["tenant_id"] = tc.TenantID
		merged["user_id"] = tc.UserID
		merged["context_type"] = string(tc.ContextType)
	}

	select {
	case p.queue <- emission{eventType: eventType, payload: merged}:
		return nil
	default:
		metrics.AuditDropped()
		return &PublishError{EventType: eventType, Err: fmt.Errorf("event queue full")}
	}
}

// Start launches the publish worker.
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.worker(p.stopCh)
	logging.Op().Info("event publisher started", "queue_size", cap(p.queue))
}

// Stop drains the queue and shuts the worker down.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Publisher) worker(stopCh chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stopCh:
			p.drain()
			return
		case em := <-p.queue:
			p.publish(em)
		}
	}
}

// drain publishes whatever is still queued at shutdown.
func (p *Publisher) drain() {
	for {
		select {
		case em := <-p.queue:
			p.publish(em)
		default:
			return
		}
	}
}

func (p *Publisher) publish(em emission) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, em.eventType, em.payload); err != nil {
		metrics.AuditDropped()
		logging.Op().Warn("event publish failed", "event_type", em.eventType, "error", err)
	}
}
