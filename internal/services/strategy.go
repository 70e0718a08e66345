package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/flipbookflow/internal/models"
)

// ObjectStore is the narrow blob API the pipeline needs. Implementations live
// in the gcp and localfs packages.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType, cacheControl string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	MakePublic(ctx context.Context, path string) (string, error)
}

// BucketFunc resolves the store for a bucket named in an event.
type BucketFunc func(bucket string) ObjectStore

// StatusStore owns the document records. Transition applies a status change
// together with fields as a single compare-and-set write: it reports false
// when the record is already in next, and fails with
// models.ErrInvalidTransition for any backwards move.
type StatusStore interface {
	Get(ctx context.Context, documentID string) (*models.Document, error)
	Transition(ctx context.Context, documentID string, next models.Status, fields map[string]interface{}) (bool, error)
	Subscribe(ctx context.Context, documentID string, fn func(*models.Document) bool) error
	ListStale(ctx context.Context, before time.Time, limit int) ([]models.Document, error)
	Reclaim(ctx context.Context, documentID string, staleBefore time.Time) (bool, error)
}

// Result is what a strategy reports for a finished conversion.
type Result struct {
	PageCount int
	PageURLs  []string
	// Finalized is set when the strategy already wrote the terminal status.
	Finalized bool
}

// ConversionStrategy turns one uploaded PDF into published page images.
type ConversionStrategy interface {
	Convert(ctx context.Context, job models.ConversionJob) (*Result, error)
}

// CredentialProvider returns a bearer token for the remote renderer.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// Enqueuer schedules a conversion on the remote renderer's retry path.
type Enqueuer interface {
	Enqueue(ctx context.Context, req models.ConvertRequest) (string, error)
}

// EventSink persists viewer analytics events.
type EventSink interface {
	Emit(ctx context.Context, ev models.ViewerEvent) error
}
