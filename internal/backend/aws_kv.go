package backend

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// kvKey namespaces a key under the tenant so buckets of keys from
// different tenants can never collide in the shared table.
func kvKey(tc *tenant.Context, key string) string {
	return tc.TenantID + ":" + key
}

func (a *AWS) kvGet(ctx context.Context, tc *tenant.Context, params Params) (any, error) {
	key, err := params.String("key")
	if err != nil {
		return nil, Permanent(domain.ServiceKV, "get", err)
	}

	out, err := a.dynamodb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(a.cfg.KVTable),
		Key: map[string]ddbtypes.AttributeValue{
			"key": &ddbtypes.AttributeValueMemberS{Value: kvKey(tc, key)},
		},
	})
	if err != nil {
		return nil, classify(domain.ServiceKV, "get", err)
	}

	if out.Item == nil {
		return map[string]any{"value": nil}, nil
	}
	attr, ok := out.Item["value"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return map[string]any{"value": nil}, nil
	}
	return map[string]any{"value": attr.Value}, nil
}

func (a *AWS) kvSet(ctx context.Context, tc *tenant.Context, params Params) (any, error) {
	key, err := params.String("key")
	if err != nil {
		return nil, Permanent(domain.ServiceKV, "set", err)
	}
	value, err := params.String("value")
	if err != nil {
		return nil, Permanent(domain.ServiceKV, "set", err)
	}

	now := time.Now().Unix()
	item := map[string]ddbtypes.AttributeValue{
		"key":        &ddbtypes.AttributeValueMemberS{Value: kvKey(tc, key)},
		"value":      &ddbtypes.AttributeValueMemberS{Value: value},
		"created_at": &ddbtypes.AttributeValueMemberN{Value: formatInt(now)},
	}
	if ttlHours, ok := params.OptFloat("ttl_hours"); ok && ttlHours > 0 {
		expiry := now + int64(ttlHours*3600)
		item["expires_at"] = &ddbtypes.AttributeValueMemberN{Value: formatInt(expiry)}
	}

	_, err = a.dynamodb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.cfg.KVTable),
		Item:      item,
	})
	if err != nil {
		return nil, classify(domain.ServiceKV, "set", err)
	}
	return map[string]any{"success": true}, nil
}

func (a *AWS) kvDelete(ctx context.Context, tc *tenant.Context, params Params) (any, error) {
	key, err := params.String("key")
	if err != nil {
		return nil, Permanent(domain.ServiceKV, "delete", err)
	}

	_, err = a.dynamodb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(a.cfg.KVTable),
		Key: map[string]ddbtypes.AttributeValue{
			"key": &ddbtypes.AttributeValueMemberS{Value: kvKey(tc, key)},
		},
	})
	if err != nil {
		return nil, classify(domain.ServiceKV, "delete", err)
	}
	return map[string]any{"success": true}, nil
}
