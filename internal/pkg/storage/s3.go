package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/ManuelReschke/Redirector/internal/pkg/env"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

// S3Stager keeps uploads in an S3 (or S3-compatible) bucket so any worker
// instance can pick them up.
type S3Stager struct {
	s3Client *s3.Client
	config   *S3Config
}

// NewS3Stager creates the client and checks that the bucket is reachable.
func NewS3Stager(ctx context.Context, cfg *S3Config) (*S3Stager, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// MinIO and B2 need path-style addressing
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	stager := &S3Stager{s3Client: s3Client, config: cfg}
	if err := stager.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Storage] S3 upload staging ready, bucket: %s", cfg.BucketName)
	return stager, nil
}

func (s *S3Stager) Backend() string { return BackendS3 }

// ensureBucket checks the bucket and creates it in dev.
func (s *S3Stager) ensureBucket(ctx context.Context) error {
	bucket := s.config.BucketName
	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !env.IsDev() {
		return fmt.Errorf("bucket %s not accessible: %w", bucket, err)
	}

	log.Warnf("[Storage] Bucket %s not found, attempting to create it", bucket)
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.config.EndpointURL == "" && s.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.config.Region),
		}
	}
	if _, err := s.s3Client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *S3Stager) fullKey(key string) string {
	if s.config.Prefix == "" {
		return key
	}
	return path.Join(s.config.Prefix, key)
}

func (s *S3Stager) Stage(ctx context.Context, src io.Reader, name string) (string, error) {
	key := objectKey(name, time.Now().UTC())
	contentType := "text/csv"
	if strings.HasSuffix(key, ".json") {
		contentType = "application/json"
	}

	// request signing needs a seekable body
	body, ok := src.(io.ReadSeeker)
	if !ok {
		raw, err := io.ReadAll(src)
		if err != nil {
			return "", fmt.Errorf("failed to read upload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.BucketName),
		Key:         aws.String(s.fullKey(key)),
		Body:        body,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"original-name": path.Base(name),
			"upload-source": "redirector-mapping",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Infof("[Storage] staged s3://%s/%s", s.config.BucketName, s.fullKey(key))
	return key, nil
}

func (s *S3Stager) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, ErrNotFound
	}
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.BucketName),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return out.Body, nil
}

// Remove is idempotent; S3 reports success for missing keys.
func (s *S3Stager) Remove(ctx context.Context, key string) error {
	if !validKey(key) {
		return nil
	}
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.BucketName),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

func (s *S3Stager) Ping(ctx context.Context) error {
	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.BucketName)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.config.BucketName, err)
	}
	return nil
}
