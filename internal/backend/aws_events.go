package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/google/uuid"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// putEventsBatchMax is the EventBridge PutEvents entry limit.
const putEventsBatchMax = 10

// eventEntry is one event extracted from tool params.
type eventEntry struct {
	detailType string
	detail     map[string]any
}

// extractEvents accepts either a single {detail_type, detail} pair or a
// batched "events" array of such pairs.
func extractEvents(params Params) ([]eventEntry, error) {
	if raw, ok := params["events"].([]any); ok {
		if len(raw) == 0 {
			return nil, &InvalidParamsError{Param: "events", Reason: "empty batch"}
		}
		entries := make([]eventEntry, 0, len(raw))
		for _, item := range raw {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &InvalidParamsError{Param: "events", Reason: "entry is not an object"}
			}
			dt, _ := obj["detail_type"].(string)
			if dt == "" {
				return nil, &InvalidParamsError{Param: "events", Reason: "entry missing detail_type"}
			}
			detail, ok := obj["detail"].(map[string]any)
			if !ok {
				return nil, &InvalidParamsError{Param: "events", Reason: "entry missing detail object"}
			}
			entries = append(entries, eventEntry{detailType: dt, detail: detail})
		}
		return entries, nil
	}

	detailType, err := params.String("detail_type")
	if err != nil {
		return nil, err
	}
	detail, ok := params["detail"].(map[string]any)
	if !ok {
		return nil, &InvalidParamsError{Param: "detail", Reason: "missing or not an object"}
	}
	return []eventEntry{{detailType: detailType, detail: detail}}, nil
}

// stampDetail copies detail and stamps tenant identity into it so
// downstream consumers can attribute the event without trusting the
// payload.
func stampDetail(tc *tenant.Context, detail map[string]any) map[string]any {
	stamped := make(map[string]any, len(detail)+2)
	for k, v := range detail {
		stamped[k] = v
	}
	stamped["tenant_id"] = tc.TenantID
	stamped["user_id"] = tc.UserID
	return stamped
}

func (a *AWS) eventsPublish(ctx context.Context, tc *tenant.Context, params Params) (any, error) {
	events, err := extractEvents(params)
	if err != nil {
		return nil, Permanent(domain.ServiceEvents, "publish", err)
	}

	entries := make([]ebtypes.PutEventsRequestEntry, 0, len(events))
	for _, ev := range events {
		body, err := json.Marshal(stampDetail(tc, ev.detail))
		if err != nil {
			return nil, Permanent(domain.ServiceEvents, "publish", err)
		}
		entries = append(entries, ebtypes.PutEventsRequestEntry{
			Source:       aws.String(a.cfg.EventSource),
			DetailType:   aws.String(ev.detailType),
			Detail:       aws.String(string(body)),
			EventBusName: aws.String(a.cfg.EventBus),
		})
	}

	published := 0
	for start := 0; start < len(entries); start += putEventsBatchMax {
		end := start + putEventsBatchMax
		if end > len(entries) {
			end = len(entries)
		}
		out, err := a.eventbridge.PutEvents(ctx, &eventbridge.PutEventsInput{
			Entries: entries[start:end],
		})
		if err != nil {
			return nil, classify(domain.ServiceEvents, "publish", err)
		}
		if out.FailedEntryCount > 0 {
			return nil, Transient(domain.ServiceEvents, "publish",
				fmt.Errorf("%d event entries failed", out.FailedEntryCount))
		}
		published += end - start
	}
	return map[string]any{"success": true, "published": published}, nil
}

// Publish sends a gateway event straight to the bus, outside the
// request pipeline. Used for audit emission where the payload already
// carries tenant attribution.
func (a *AWS) Publish(ctx context.Context, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	out, err := a.eventbridge.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			Source:       aws.String(a.cfg.EventSource),
			DetailType:   aws.String(eventType),
			Detail:       aws.String(string(body)),
			EventBusName: aws.String(a.cfg.EventBus),
		}},
	})
	if err != nil {
		return err
	}
	if out.FailedEntryCount > 0 {
		return fmt.Errorf("%d event entries failed", out.FailedEntryCount)
	}
	return nil
}

func (a *AWS) workflowStart(ctx context.Context, tc *tenant.Context, params Params) (any, error) {
	name, err := params.String("workflow")
	if err != nil {
		return nil, Permanent(domain.ServiceWorkflows, "start", err)
	}
	input := map[string]any{
		"tenant_id": tc.TenantID,
		"user_id":   tc.UserID,
	}
	if in, ok := params["input"].(map[string]any); ok {
		for k, v := range in {
			input[k] = v
		}
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, Permanent(domain.ServiceWorkflows, "start", err)
	}

	execName := fmt.Sprintf("%s-%s-%d-%s", tc.TenantID, name, time.Now().Unix(), uuid.NewString()[:8])
	out, err := a.sfn.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(a.cfg.WorkflowARN),
		Name:            aws.String(execName),
		Input:           aws.String(string(body)),
	})
	if err != nil {
		return nil, classify(domain.ServiceWorkflows, "start", err)
	}
	return map[string]any{
		"execution_arn": aws.ToString(out.ExecutionArn),
		"started_at":    out.StartDate.UTC().Format(time.RFC3339),
	}, nil
}
