package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the connection settings of an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// S3ConfigFromEnv reads the S3_* variables.
func S3ConfigFromEnv() (S3Config, error) {
	useSSL, err := GetEnvBool("S3_USE_SSL", true)
	if err != nil {
		return S3Config{}, err
	}
	cfg := S3Config{
		Endpoint:  GetEnv("S3_ENDPOINT", ""),
		AccessKey: GetEnv("S3_ACCESS_KEY", ""),
		SecretKey: GetEnv("S3_SECRET_KEY", ""),
		Region:    GetEnv("S3_REGION", ""),
		UseSSL:    useSSL,
	}
	if cfg.Endpoint == "" {
		return S3Config{}, fmt.Errorf("S3_ENDPOINT environment variable must be set")
	}
	return cfg, nil
}

// NewS3Client creates a minio client for cfg.
func NewS3Client(cfg S3Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init S3 client: %w", err)
	}
	return client, nil
}

// S3ObjectStore keeps objects in one bucket of an S3-compatible service.
type S3ObjectStore struct {
	client *minio.Client
	bucket string
	host   string
}

func NewS3ObjectStore(client *minio.Client, bucket string) *S3ObjectStore {
	return &S3ObjectStore{
		client: client,
		bucket: bucket,
		host:   strings.TrimRight(client.EndpointURL().String(), "/"),
	}
}

// Put uploads data, replacing any existing object.
func (s *S3ObjectStore) Put(ctx context.Context, path string, data []byte, contentType, cacheControl string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	})
	if err != nil {
		return fmt.Errorf("upload of %s failed: %w", path, err)
	}
	return nil
}

// Get reads the whole object.
func (s *S3ObjectStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open s3://%s/%s: %w", s.bucket, path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, path, err)
	}
	return data, nil
}

// Delete removes the object. S3 reports success for missing keys.
func (s *S3ObjectStore) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("failed to delete s3://%s/%s: %w", s.bucket, path, err)
	}
	return nil
}

// MakePublic checks that the object exists and returns its path-style URL.
// Read access itself comes from the bucket policy.
func (s *S3ObjectStore) MakePublic(ctx context.Context, path string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err != nil {
		return "", fmt.Errorf("failed to stat s3://%s/%s: %w", s.bucket, path, err)
	}
	return PublicURL(s.host, s.bucket, path), nil
}
