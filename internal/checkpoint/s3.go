package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
)

// ErrNoCheckpoint is returned when no checkpoint exists yet.
var ErrNoCheckpoint = errors.New("no checkpoint")

// S3Client is the subset of *s3.Client the mirror needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Mirror uploads checkpoints to a bucket and fetches them back when the
// local copy is missing.
type S3Mirror struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3Mirror(client S3Client, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

// NewS3MirrorFromConfig builds a client from the default AWS credential
// chain. A custom endpoint switches to path-style addressing for MinIO and
// LocalStack.
func NewS3MirrorFromConfig(ctx context.Context, cfg config.CheckpointConfig) (*S3Mirror, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Mirror(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func (m *S3Mirror) key(name string) string {
	return path.Join(m.prefix, name)
}

// Put uploads body, which must be seekable so the SDK can sign and retry.
func (m *S3Mirror) Put(ctx context.Context, name string, body io.ReadSeeker) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.key(name)),
		Body:        body,
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", m.bucket, m.key(name), err)
	}
	return nil
}

func (m *S3Mirror) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("downloading s3://%s/%s: %w", m.bucket, m.key(name), err)
	}
	return out.Body, nil
}
