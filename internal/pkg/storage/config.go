package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/Redirector/internal/pkg/env"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config selects where uploaded mapping files wait for their job.
type Config struct {
	Backend  string
	LocalDir string
	S3       S3Config
}

// S3Config holds bucket credentials for the s3 backend
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
}

// LoadConfig loads upload storage settings from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Backend:  strings.ToLower(strings.TrimSpace(env.GetEnv("UPLOAD_STORAGE", BackendLocal))),
		LocalDir: env.GetEnv("UPLOAD_DIR", "./uploads/mappings"),
		S3: S3Config{
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          env.GetEnv("S3_REGION", "us-east-1"),
			BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
			Prefix:          strings.Trim(env.GetEnv("S3_KEY_PREFIX", "mapping-uploads"), "/"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.LocalDir) == "" {
			return errors.New("UPLOAD_DIR is required for local upload storage")
		}
	case BackendS3:
		if c.S3.AccessKeyID == "" {
			return errors.New("S3_ACCESS_KEY_ID is required when UPLOAD_STORAGE=s3")
		}
		if c.S3.SecretAccessKey == "" {
			return errors.New("S3_SECRET_ACCESS_KEY is required when UPLOAD_STORAGE=s3")
		}
		if c.S3.BucketName == "" {
			return errors.New("S3_BUCKET_NAME is required when UPLOAD_STORAGE=s3")
		}
	default:
		return fmt.Errorf("unsupported UPLOAD_STORAGE %q (want local or s3)", c.Backend)
	}
	return nil
}
