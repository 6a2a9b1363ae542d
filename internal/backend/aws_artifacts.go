package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/tenant"
)

// artifactKey prefixes an object key with the tenant id.
func artifactKey(tc *tenant.Context, key string) string {
	return tc.TenantID + "/" + key
}

func (a *AWS) artifactsGet(ctx context.Context, tc *tenant.Context, params Params) (any, error) {
	key, err := params.String("key")
	if err != nil {
		return nil, Permanent(domain.ServiceArtifacts, "get", err)
	}

	out, err := a.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.ArtifactsBucket),
		Key:    aws.String(artifactKey(tc, key)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return map[string]any{"content": nil}, nil
		}
		return nil, classify(domain.ServiceArtifacts, "get", err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Transient(domain.ServiceArtifacts, "get", err)
	}
	return map[string]any{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}, nil
}

func (a *AWS) artifactsPut(ctx context.Context, tc *tenant.Context, params Params) (any, error) {
	key, err := params.String("key")
	if err != nil {
		return nil, Permanent(domain.ServiceArtifacts, "put", err)
	}
	encoded, err := params.String("content")
	if err != nil {
		return nil, Permanent(domain.ServiceArtifacts, "put", err)
	}
	contentType := params.OptString("content_type")
	if contentType == "" {
		contentType = "text/plain"
	}

	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, Permanent(domain.ServiceArtifacts, "put",
			&InvalidParamsError{Param: "content", Reason: "invalid base64: " + err.Error()})
	}

	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.ArtifactsBucket),
		Key:         aws.String(artifactKey(tc, key)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, classify(domain.ServiceArtifacts, "put", err)
	}
	return map[string]any{"success": true}, nil
}

func (a *AWS) artifactsList(ctx context.Context, tc *tenant.Context, params Params) (any, error) {
	prefix := tc.TenantID + "/"
	if p := params.OptString("prefix"); p != "" {
		prefix += p
	}

	out, err := a.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.cfg.ArtifactsBucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, classify(domain.ServiceArtifacts, "list", err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		// Strip the tenant prefix: callers see their own namespace only.
		if rel, ok := strings.CutPrefix(*obj.Key, tc.TenantID+"/"); ok {
			keys = append(keys, rel)
		}
	}
	return map[string]any{"keys": keys}, nil
}
