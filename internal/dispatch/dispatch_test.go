package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/authz"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/backend"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/logging"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/ratelimit"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

func init() {
	logging.Audit().SetConsole(false)
}

// scriptedInvoker fails with the queued errors before succeeding.
type scriptedInvoker struct {
	mu       sync.Mutex
	failures []error
	calls    int
	result   any
}

func (s *scriptedInvoker) Invoke(_ context.Context, _ *tenant.Context, _ domain.Service, _ domain.Action, _ backend.Params) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}
	if s.result == nil {
		return map[string]any{"ok": true}, nil
	}
	return s.result, nil
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type captureEmitter struct {
	mu     sync.Mutex
	events []string
}

func (c *captureEmitter) Emit(_ *tenant.Context, eventType string, _ map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
	return nil
}

func (c *captureEmitter) emitted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out
}

func testSession(perms ...domain.Permission) *tenant.Session {
	limits := domain.ResourceLimits{
		Version: 1,
		Tier:    domain.TierSmall,
		Services: map[domain.Service]domain.ServiceLimit{
			domain.ServiceKV: {Capacity: 5, RefillRate: 1},
		},
	}
	return tenant.NewSession(&tenant.Context{
		TenantID:    "acme",
		UserID:      "alice",
		ContextType: tenant.ContextOrganization,
		Role:        domain.RoleUser,
		Permissions: perms,
		Limits:      limits,
	})
}

func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func newTestDispatcher(inv backend.Invoker, em Emitter, maxRetries int) (*Dispatcher, *ratelimit.Limiter) {
	lim := ratelimit.New(ratelimit.Config{})
	d := New(Config{
		Limiter: lim,
		Invoker: inv,
		Emitter: em,
		Retry:   fastRetry(maxRetries),
	})
	return d, lim
}

func kvCall() Call {
	return Call{
		Tool:    "kv_get",
		Service: domain.ServiceKV,
		Action:  domain.ActionRead,
		Cost:    1,
		Params:  backend.Params{"key": "k"},
	}
}

func TestDispatchCompleted(t *testing.T) {
	inv := &scriptedInvoker{}
	em := &captureEmitter{}
	d, _ := newTestDispatcher(inv, em, 3)
	sess := testSession(domain.PermKVRead)

	res := d.Dispatch(context.Background(), sess, kvCall())
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed (err=%v)", res.Outcome, res.Err)
	}
	if res.Payload == nil {
		t.Error("completed result has no payload")
	}
	if got := em.emitted(); len(got) != 1 || got[0] != "mesh.tool.completed" {
		t.Errorf("emitted = %v, want exactly one mesh.tool.completed", got)
	}
	if sess.ActiveRequests() != 0 {
		t.Errorf("active requests = %d after dispatch, want 0", sess.ActiveRequests())
	}
}

func TestForbiddenDoesNotConsumeTokens(t *testing.T) {
	inv := &scriptedInvoker{}
	em := &captureEmitter{}
	d, lim := newTestDispatcher(inv, em, 3)
	sess := testSession() // no permissions

	res := d.Dispatch(context.Background(), sess, kvCall())
	if res.Outcome != OutcomeForbidden {
		t.Fatalf("outcome = %s, want forbidden", res.Outcome)
	}
	var fe *authz.ForbiddenError
	if !errors.As(res.Err, &fe) {
		t.Fatalf("err = %v, want *ForbiddenError", res.Err)
	}
	if inv.callCount() != 0 {
		t.Error("backend invoked for a forbidden call")
	}
	// The permission gate runs before quota: no bucket exists for the key.
	if _, ok := lim.Remaining("acme", domain.ServiceKV); ok {
		t.Error("bucket created for a forbidden call")
	}
	if got := em.emitted(); len(got) != 1 || got[0] != "mesh.tool.forbidden" {
		t.Errorf("emitted = %v, want exactly one mesh.tool.forbidden", got)
	}
}

func TestThrottledNotRetried(t *testing.T) {
	inv := &scriptedInvoker{}
	em := &captureEmitter{}
	d, _ := newTestDispatcher(inv, em, 3)
	sess := testSession(domain.PermKVRead)

	// Capacity is 5: drain it, then the sixth call must throttle.
	for i := 0; i < 5; i++ {
		if res := d.Dispatch(context.Background(), sess, kvCall()); res.Outcome != OutcomeCompleted {
			t.Fatalf("call %d outcome = %s, want completed", i, res.Outcome)
		}
	}
	calls := inv.callCount()

	res := d.Dispatch(context.Background(), sess, kvCall())
	if res.Outcome != OutcomeThrottled {
		t.Fatalf("outcome = %s, want throttled", res.Outcome)
	}
	var te *ratelimit.ThrottledError
	if !errors.As(res.Err, &te) {
		t.Fatalf("err = %v, want *ThrottledError", res.Err)
	}
	if te.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", te.RetryAfter)
	}
	if inv.callCount() != calls {
		t.Error("backend invoked for a throttled call")
	}
	if res.Retries != 0 {
		t.Errorf("throttled call was retried %d times", res.Retries)
	}
}

func TestUnconfiguredServiceRejected(t *testing.T) {
	inv := &scriptedInvoker{}
	d, _ := newTestDispatcher(inv, nil, 3)
	// Limits only cover kv, so events is unconfigured.
	sess := testSession(domain.PermEventsPublish)

	res := d.Dispatch(context.Background(), sess, Call{
		Tool:    "events_send",
		Service: domain.ServiceEvents,
		Action:  domain.ActionPublish,
		Cost:    1,
	})
	if res.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", res.Outcome)
	}
	var nq *ratelimit.NoQuotaError
	if !errors.As(res.Err, &nq) {
		t.Fatalf("err = %v, want *NoQuotaError", res.Err)
	}
	if inv.callCount() != 0 {
		t.Error("backend invoked for an unconfigured service")
	}
}

func TestTransientFailureRetriedThenSucceeds(t *testing.T) {
	inv := &scriptedInvoker{failures: []error{
		backend.Transient(domain.ServiceKV, "get", errors.New("throttling")),
		backend.Transient(domain.ServiceKV, "get", errors.New("throttling")),
	}}
	em := &captureEmitter{}
	d, _ := newTestDispatcher(inv, em, 3)
	sess := testSession(domain.PermKVRead)

	res := d.Dispatch(context.Background(), sess, kvCall())
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed (err=%v)", res.Outcome, res.Err)
	}
	if res.Retries != 2 {
		t.Errorf("retries = %d, want 2", res.Retries)
	}
	if inv.callCount() != 3 {
		t.Errorf("backend calls = %d, want 3", inv.callCount())
	}
	if got := em.emitted(); len(got) != 1 {
		t.Errorf("emitted %d events, want exactly 1", len(got))
	}
}

func TestRetryBudgetBoundsAttempts(t *testing.T) {
	failures := make([]error, 10)
	for i := range failures {
		failures[i] = backend.Transient(domain.ServiceKV, "get", errors.New("unavailable"))
	}
	inv := &scriptedInvoker{failures: failures}
	d, _ := newTestDispatcher(inv, nil, 3)
	sess := testSession(domain.PermKVRead)

	res := d.Dispatch(context.Background(), sess, kvCall())
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	// 1 initial attempt + 3 retries.
	if inv.callCount() != 4 {
		t.Errorf("backend calls = %d, want 4", inv.callCount())
	}
	if res.Retries != 3 {
		t.Errorf("retries = %d, want 3", res.Retries)
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	inv := &scriptedInvoker{failures: []error{
		backend.Permanent(domain.ServiceKV, "get", errors.New("validation error")),
	}}
	d, _ := newTestDispatcher(inv, nil, 3)
	sess := testSession(domain.PermKVRead)

	res := d.Dispatch(context.Background(), sess, kvCall())
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", res.Outcome)
	}
	if inv.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1 (no retry on permanent)", inv.callCount())
	}
}

func TestFailureDoesNotRefundTokens(t *testing.T) {
	inv := &scriptedInvoker{failures: []error{
		backend.Permanent(domain.ServiceKV, "get", errors.New("validation error")),
	}}
	d, lim := newTestDispatcher(inv, nil, 0)
	sess := testSession(domain.PermKVRead)

	d.Dispatch(context.Background(), sess, kvCall())
	remaining, ok := lim.Remaining("acme", domain.ServiceKV)
	if !ok {
		t.Fatal("no bucket after dispatch")
	}
	if remaining > 4.5 {
		t.Errorf("remaining = %.2f, want about 4 (token kept after failure)", remaining)
	}
}

func TestUnknownServiceRejected(t *testing.T) {
	inv := &scriptedInvoker{}
	d, _ := newTestDispatcher(inv, nil, 3)
	sess := testSession(domain.PermAll)

	res := d.Dispatch(context.Background(), sess, Call{
		Tool:    "bogus",
		Service: domain.Service("bogus"),
		Action:  domain.ActionRead,
		Cost:    1,
	})
	if res.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", res.Outcome)
	}
	var uo *backend.UnknownOperationError
	if !errors.As(res.Err, &uo) {
		t.Fatalf("err = %v, want *UnknownOperationError", res.Err)
	}
}

func TestAuditOmitsTraceIDWithoutTracing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	audit := logging.NewAudit()
	if err := audit.SetOutput(path); err != nil {
		t.Fatal(err)
	}
	defer audit.Close()

	d := New(Config{
		Limiter: ratelimit.New(ratelimit.Config{}),
		Invoker: &scriptedInvoker{},
		Retry:   fastRetry(0),
		Audit:   audit,
	})
	sess := testSession(domain.PermKVRead)

	if res := d.Dispatch(context.Background(), sess, kvCall()); res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed (err=%v)", res.Outcome, res.Err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	entry := map[string]any{}
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("audit line not valid JSON: %v", err)
	}
	// The noop span carries an all-zero trace id which must not be
	// stamped into the entry.
	if v, ok := entry["trace_id"]; ok {
		t.Errorf("trace_id = %v in audit entry, want field omitted", v)
	}
	if entry["request_id"] == "" {
		t.Error("audit entry missing request_id")
	}
}

func TestWeightedCostDrainsFaster(t *testing.T) {
	inv := &scriptedInvoker{}
	d, _ := newTestDispatcher(inv, nil, 0)
	sess := testSession(domain.PermKVRead)

	call := kvCall()
	call.Cost = 5 // full capacity in one call
	if res := d.Dispatch(context.Background(), sess, call); res.Outcome != OutcomeCompleted {
		t.Fatalf("first outcome = %s, want completed", res.Outcome)
	}
	if res := d.Dispatch(context.Background(), sess, kvCall()); res.Outcome != OutcomeThrottled {
		t.Fatalf("second outcome = %s, want throttled", res.Outcome)
	}
}
