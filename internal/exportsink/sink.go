package exportsink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marcelsud/webhook-dispatch/config"
)

// Sink stores a finished export and reports where it went
type Sink interface {
	Write(ctx context.Context, name, contentType string, body io.Reader) (string, error)
}

// New picks the S3 sink when a bucket is configured and a local directory otherwise
func New(ctx context.Context, cfg config.ExportConfig) (Sink, error) {
	if cfg.S3Bucket != "" {
		return NewS3Sink(ctx, cfg)
	}
	return FileSink{Dir: cfg.Dir}, nil
}

// FileSink writes exports under Dir
type FileSink struct {
	Dir string
}

func (s FileSink) Write(_ context.Context, name, _ string, body io.Reader) (string, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("writing export file: %w", err)
	}
	return path, nil
}

// ObjectPutter is the part of the S3 client the sink uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads exports to a bucket under Prefix
type S3Sink struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Sink builds a client from the default credential chain, or from
// static keys when both are configured (MinIO and similar)
func NewS3Sink(ctx context.Context, cfg config.ExportConfig) (*S3Sink, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	return NewS3SinkFromClient(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func NewS3SinkFromClient(client ObjectPutter, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Write(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	// Buffered so the SDK can compute the payload checksum
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading export: %w", err)
	}

	key := s.key(name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("uploading export to s3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Sink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + strings.TrimPrefix(name, "/")
}
