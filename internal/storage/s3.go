// Package storage writes periodic defect reports to S3-compatible object
// storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joeblew999/plat-defects/internal/service"
)

// DefaultBucket receives reports when S3_BUCKET is unset.
const DefaultBucket = "road-defects"

// Config holds the object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// ConfigFromEnv reads MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY,
// MINIO_USE_SSL, S3_BUCKET and AWS_REGION.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    os.Getenv("S3_BUCKET"),
		Region:    os.Getenv("AWS_REGION"),
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return cfg, fmt.Errorf("missing one or more required environment variables: MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY")
	}
	return cfg, nil
}

// ObjectClient is the subset of *minio.Client the report store uses.
type ObjectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ReportStore stores aggregate reports as JSON objects.
type ReportStore struct {
	client ObjectClient
	bucket string
	region string
	log    log.Interface
}

// NewReportStore connects to the object store described by cfg.
func NewReportStore(cfg Config, l log.Interface) (*ReportStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return NewReportStoreWithClient(client, cfg.Bucket, cfg.Region, l), nil
}

// NewReportStoreWithClient wraps an existing client.
func NewReportStoreWithClient(client ObjectClient, bucket, region string, l log.Interface) *ReportStore {
	if l == nil {
		l = log.Log
	}
	return &ReportStore{client: client, bucket: bucket, region: region, log: l}
}

// EnsureBucket creates the report bucket if it does not exist.
func (s *ReportStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("error checking bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.WithField("bucket", s.bucket).Info("created report bucket")
	return nil
}

// PutReport writes r under r.Key() and returns the key.
func (s *ReportStore) PutReport(ctx context.Context, r service.Report) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	key := r.Key()
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to store report: %w", err)
	}
	s.log.WithField("bucket", s.bucket).WithField("key", key).Info("report stored")
	return key, nil
}
