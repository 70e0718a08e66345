package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/flipbookflow/internal/gcp"
	"github.com/Lllllllleong/flipbookflow/internal/models"
)

// DefaultUploadPrefix is where the upload form stores source PDFs.
const DefaultUploadPrefix = "uploads/"

// PipelineConfig holds the settings shared by every function that touches
// document records or page images.
type PipelineConfig struct {
	ProjectID      string
	CollectionName string
	UploadBucket   string
	UploadPrefix   string
	ObjectStore    string
	PublicBaseURL  string
	RetainSource   bool
}

// LoadPipelineConfig reads the shared environment variables.
func LoadPipelineConfig() (PipelineConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return PipelineConfig{}, errMissingProjectID
	}
	retain, err := gcp.GetEnvBool("RETAIN_SOURCE_PDF", false)
	if err != nil {
		return PipelineConfig{}, err
	}
	cfg := PipelineConfig{
		ProjectID:      projectID,
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		UploadBucket:   gcp.GetEnv("UPLOAD_BUCKET", ""),
		UploadPrefix:   UploadPrefixFromEnv(),
		ObjectStore:    gcp.GetEnv("OBJECT_STORE", "gcs"),
		PublicBaseURL:  gcp.GetEnv("PUBLIC_BASE_URL", gcp.DefaultPublicBaseURL),
		RetainSource:   retain,
	}
	if cfg.ObjectStore != "gcs" && cfg.ObjectStore != "s3" {
		return PipelineConfig{}, fmt.Errorf("OBJECT_STORE must be gcs or s3, got %q", cfg.ObjectStore)
	}
	return cfg, nil
}

// UploadPrefixFromEnv reads UPLOAD_PREFIX.
func UploadPrefixFromEnv() string {
	return gcp.GetEnv("UPLOAD_PREFIX", DefaultUploadPrefix)
}

// UploadPath is the object a user's upload of documentID lands on.
func (c PipelineConfig) UploadPath(userID, documentID string) string {
	return models.UploadPath(c.UploadPrefix, userID, documentID)
}

// NewBuckets creates the object store client selected by OBJECT_STORE.
func NewBuckets(ctx context.Context, cfg PipelineConfig) (BucketFunc, error) {
	switch cfg.ObjectStore {
	case "s3":
		s3cfg, err := gcp.S3ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		client, err := gcp.NewS3Client(s3cfg)
		if err != nil {
			return nil, err
		}
		return func(bucket string) ObjectStore {
			return gcp.NewS3ObjectStore(client, bucket)
		}, nil
	default:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		return func(bucket string) ObjectStore {
			return gcp.NewGCSObjectStore(client, bucket, cfg.PublicBaseURL)
		}, nil
	}
}

// NewStatusStore connects to the Firestore collection of document records.
func NewStatusStore(ctx context.Context, cfg PipelineConfig) (*gcp.FirestoreStatusStore, error) {
	client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return gcp.NewFirestoreStatusStore(client, cfg.CollectionName), nil
}
