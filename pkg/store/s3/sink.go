// Package s3 writes raw decrypted FI objects to an S3 bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/de-tools/aaflow/pkg/models/domain"
	"github.com/de-tools/aaflow/pkg/store/workflow"
)

type PutObjectAPI interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

type Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

type Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
}

var _ workflow.RawExtractSink = (*Sink)(nil)

func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewSinkFromClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewSinkFromClient(client PutObjectAPI, bucket, prefix string) *Sink {
	return &Sink{client: client, bucket: bucket, prefix: prefix}
}

// Key lays objects out as <prefix><workflow>/<fip>/<id>.json.
func (s *Sink) Key(extract domain.RawExtract) string {
	return s.prefix + path.Join(extract.WorkflowID, extract.FipID, extract.ID+".json")
}

func (s *Sink) AppendRawExtract(ctx context.Context, extract domain.RawExtract) error {
	body, err := json.Marshal(extract)
	if err != nil {
		return fmt.Errorf("failed to encode raw extract: %w", err)
	}

	_, err = s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(extract)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"workflow-id": extract.WorkflowID,
			"fip-id":      extract.FipID,
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}
