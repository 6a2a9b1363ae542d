// Package dispatch runs the admission pipeline for every tool call:
// permission gate, then rate limit, then backend invocation with bounded
// retries, then audit emission. Permission runs before quota so a
// forbidden call never burns tokens, and a throttled call is reported
// back to the caller rather than retried here.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/authz"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/backend"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/logging"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/metrics"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/observability"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/ratelimit"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// Outcome is the terminal state of a dispatched call.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeForbidden Outcome = "forbidden"
	OutcomeThrottled Outcome = "throttled"
	OutcomeRejected  Outcome = "rejected" // unconfigured service or bad call shape
	OutcomeFailed    Outcome = "failed"
)

// Call describes one tool invocation entering the pipeline.
type Call struct {
	Tool    string
	Service domain.Service
	Action  domain.Action
	Cost    float64
	Params  backend.Params
}

// Result carries the terminal state of a call. Err is set for every
// outcome except OutcomeCompleted and is the typed error from the stage
// that stopped the call.
type Result struct {
	RequestID string
	Outcome   Outcome
	Payload   any
	Retries   int
	Duration  time.Duration
	Err       error
}

// Emitter publishes audit events. Failures are non-fatal to the call.
type Emitter interface {
	Emit(tc *tenant.Context, eventType string, payload map[string]any) error
}

// Dispatcher wires the pipeline stages together.
type Dispatcher struct {
	gate    *authz.Gate
	limiter *ratelimit.Limiter
	invoker backend.Invoker
	emitter Emitter
	retry   RetryPolicy
	audit   *logging.Logger
}

// Config holds dispatcher dependencies. Emitter may be nil for tooling
// that has no event bus.
type Config struct {
	Gate    *authz.Gate
	Limiter *ratelimit.Limiter
	Invoker backend.Invoker
	Emitter Emitter
	Retry   RetryPolicy
	Audit   *logging.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		gate:    cfg.Gate,
		limiter: cfg.Limiter,
		invoker: cfg.Invoker,
		emitter: cfg.Emitter,
		retry:   cfg.Retry,
		audit:   cfg.Audit,
	}
	if d.gate == nil {
		d.gate = authz.NewGate()
	}
	if d.audit == nil {
		d.audit = logging.Audit()
	}
	return d
}

// Dispatch runs a call through the full pipeline on behalf of sess.
// The returned Result is always non-nil; exactly one audit event is
// emitted per terminal state.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *tenant.Session, call Call) *Result {
	release := sess.BeginRequest()
	defer release()
	sess.Touch()
	metrics.IncActiveRequests()
	defer metrics.DecActiveRequests()

	tc := sess.Context
	res := &Result{RequestID: uuid.NewString()}
	start := time.Now()

	ctx, span := observability.StartServerSpan(ctx, "dispatch",
		observability.AttrTenantID.String(tc.TenantID),
		observability.AttrUserID.String(tc.UserID),
		observability.AttrTool.String(call.Tool),
		observability.AttrService.String(string(call.Service)),
		observability.AttrAction.String(string(call.Action)),
		observability.AttrRequestID.String(res.RequestID),
	)
	defer span.End()

	d.run(ctx, tc, call, res)

	res.Duration = time.Since(start)
	span.SetAttributes(
		observability.AttrOutcome.String(string(res.Outcome)),
		observability.AttrRetries.Int(res.Retries),
		observability.AttrDurationMs.Int64(res.Duration.Milliseconds()),
	)
	if res.Err != nil {
		observability.SetSpanError(span, res.Err)
	} else {
		observability.SetSpanOK(span)
	}

	// With tracing disabled the noop span carries an all-zero trace id;
	// leave the audit field empty rather than stamping zeros.
	var traceID string
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	d.record(ctx, tc, call, res, traceID)
	return res
}

func (d *Dispatcher) run(ctx context.Context, tc *tenant.Context, call Call, res *Result) {
	if !domain.ValidService(call.Service) {
		res.Outcome = OutcomeRejected
		res.Err = &backend.UnknownOperationError{Service: call.Service, Action: call.Action}
		return
	}

	if err := d.gate.Check(tc, call.Service, call.Action); err != nil {
		res.Outcome = OutcomeForbidden
		res.Err = err
		return
	}

	if err := d.limiter.TryAcquire(tc.Limits, tc.TenantID, call.Service, call.Cost); err != nil {
		var nq *ratelimit.NoQuotaError
		if errors.As(err, &nq) {
			res.Outcome = OutcomeRejected
		} else {
			res.Outcome = OutcomeThrottled
		}
		res.Err = err
		return
	}

	payload, retries, err := d.retry.Execute(ctx, func(actx context.Context) (any, error) {
		actx, span := observability.StartSpan(actx, "backend.invoke",
			observability.AttrService.String(string(call.Service)),
			observability.AttrAction.String(string(call.Action)),
		)
		defer span.End()

		attemptStart := time.Now()
		out, ierr := d.invoker.Invoke(actx, tc, call.Service, call.Action, call.Params)
		metrics.BackendDurationObserved(string(call.Service), string(call.Action),
			float64(time.Since(attemptStart).Milliseconds()))
		if ierr != nil {
			observability.SetSpanError(span, ierr)
		}
		return out, ierr
	})
	res.Retries = retries
	for i := 0; i < retries; i++ {
		metrics.RetryObserved(string(call.Service))
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return
	}

	res.Outcome = OutcomeCompleted
	res.Payload = payload
}

// record emits the audit log line, metrics, and the bus event for a
// terminal state.
func (d *Dispatcher) record(_ context.Context, tc *tenant.Context, call Call, res *Result, traceID string) {
	entry := &logging.AuditLog{
		RequestID:  res.RequestID,
		TraceID:    traceID,
		TenantID:   tc.TenantID,
		UserID:     tc.UserID,
		Tool:       call.Tool,
		Service:    string(call.Service),
		Action:     string(call.Action),
		Outcome:    string(res.Outcome),
		DurationMs: res.Duration.Milliseconds(),
		Retries:    res.Retries,
		Cost:       call.Cost,
	}
	switch res.Outcome {
	case OutcomeForbidden:
		entry.DenyReason = "permission"
	case OutcomeThrottled:
		entry.DenyReason = "rate_limit"
	case OutcomeRejected:
		var nq *ratelimit.NoQuotaError
		if errors.As(res.Err, &nq) {
			entry.DenyReason = "no_quota"
		} else {
			entry.DenyReason = "invalid"
		}
	case OutcomeFailed:
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
	}
	d.audit.Log(entry)

	metrics.AdmissionObserved(string(call.Service), string(res.Outcome), entry.DenyReason)
	metrics.ToolCallObserved(call.Tool, string(res.Outcome))
	metrics.RequestDurationObserved(string(call.Service), string(res.Outcome),
		float64(res.Duration.Milliseconds()))

	if d.emitter == nil {
		return
	}
	payload := map[string]any{
		"request_id":  res.RequestID,
		"tool":        call.Tool,
		"service":     string(call.Service),
		"action":      string(call.Action),
		"outcome":     string(res.Outcome),
		"duration_ms": res.Duration.Milliseconds(),
		"retries":     res.Retries,
	}
	if entry.DenyReason != "" {
		payload["deny_reason"] = entry.DenyReason
	}
	if entry.Error != "" {
		payload["error"] = entry.Error
	}
	if err := d.emitter.Emit(tc, "mesh.tool."+string(res.Outcome), payload); err != nil {
		logging.Op().Warn("audit emit failed", "request_id", res.RequestID, "error", err)
	}
}
