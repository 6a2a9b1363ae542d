package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/smithy-go"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// AWSConfig names the shared resources every tenant is multiplexed onto.
type AWSConfig struct {
	Region          string `json:"region"`
	KVTable         string `json:"kv_table"`
	ArtifactsBucket string `json:"artifacts_bucket"`
	EventBus        string `json:"event_bus"`
	EventSource     string `json:"event_source"`
	WorkflowARN     string `json:"workflow_arn"` // state machine prefix or full ARN
}

// DefaultAWSConfig mirrors the resource names provisioned by the mesh
// infrastructure, overridable via environment.
func DefaultAWSConfig() AWSConfig {
	cfg := AWSConfig{
		Region:          "us-west-2",
		KVTable:         "agent-mesh-kv",
		ArtifactsBucket: "agent-mesh-artifacts",
		EventBus:        "agent-mesh-events",
		EventSource:     "agent-mesh",
	}
	if v := os.Getenv("AGENT_MESH_KV_TABLE"); v != "" {
		cfg.KVTable = v
	}
	if v := os.Getenv("AGENT_MESH_ARTIFACTS_BUCKET"); v != "" {
		cfg.ArtifactsBucket = v
	}
	if v := os.Getenv("AGENT_MESH_EVENT_BUS"); v != "" {
		cfg.EventBus = v
	}
	if v := os.Getenv("AGENT_MESH_WORKFLOW_ARN"); v != "" {
		cfg.WorkflowARN = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Region = v
	}
	return cfg
}

// AWS is the production Invoker: DynamoDB for KV, S3 for artifacts,
// EventBridge for events, Step Functions for workflow triggers. All keys
// are tenant-prefixed so tenants can never read each other's data.
type AWS struct {
	cfg         AWSConfig
	dynamodb    *dynamodb.Client
	s3          *s3.Client
	eventbridge *eventbridge.Client
	sfn         *sfn.Client
}

// NewAWS loads the default AWS credential chain and builds the service
// clients.
func NewAWS(ctx context.Context, cfg AWSConfig) (*AWS, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWS{
		cfg:         cfg,
		dynamodb:    dynamodb.NewFromConfig(awsCfg),
		s3:          s3.NewFromConfig(awsCfg),
		eventbridge: eventbridge.NewFromConfig(awsCfg),
		sfn:         sfn.NewFromConfig(awsCfg),
	}, nil
}

// Invoke routes a (service, action) pair to the matching operation.
func (a *AWS) Invoke(ctx context.Context, tc *tenant.Context, service domain.Service, action domain.Action, params Params) (any, error) {
	switch {
	case service == domain.ServiceKV && action == domain.ActionRead:
		return a.kvGet(ctx, tc, params)
	case service == domain.ServiceKV && action == domain.ActionWrite:
		return a.kvSet(ctx, tc, params)
	case service == domain.ServiceKV && action == domain.ActionDelete:
		return a.kvDelete(ctx, tc, params)
	case service == domain.ServiceArtifacts && action == domain.ActionRead:
		return a.artifactsGet(ctx, tc, params)
	case service == domain.ServiceArtifacts && action == domain.ActionWrite:
		return a.artifactsPut(ctx, tc, params)
	case service == domain.ServiceArtifacts && action == domain.ActionList:
		return a.artifactsList(ctx, tc, params)
	case service == domain.ServiceEvents && action == domain.ActionPublish:
		return a.eventsPublish(ctx, tc, params)
	case service == domain.ServiceWorkflows && action == domain.ActionStart:
		return a.workflowStart(ctx, tc, params)
	}
	return nil, Permanent(service, string(action), &UnknownOperationError{Service: service, Action: action})
}

// classify maps an AWS SDK failure onto the transient/permanent split.
func classify(service domain.Service, op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(service, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "Throttling", "TooManyRequestsException",
			"ProvisionedThroughputExceededException", "RequestLimitExceeded",
			"SlowDown", "ServiceUnavailable", "InternalServerError", "InternalFailure":
			return Transient(service, op, err)
		}
		var httpErr interface{ HTTPStatusCode() int }
		if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() >= http.StatusInternalServerError {
			return Transient(service, op, err)
		}
		return Permanent(service, op, err)
	}

	// Anything non-API (connection reset, DNS) is worth a retry.
	return Transient(service, op, err)
}
