package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// DefaultPublicBaseURL serves objects that were made public.
const DefaultPublicBaseURL = "https://storage.googleapis.com"

const (
	putMaxRetries   = 4
	putWriteTimeout = 50 * time.Second
)

// GCSObjectStore reads and writes objects in a single bucket.
type GCSObjectStore struct {
	bucket     *storage.BucketHandle
	name       string
	publicBase string
	backoff    time.Duration
}

// NewGCSObjectStore returns a store for bucketName. An empty publicBase falls
// back to DefaultPublicBaseURL.
func NewGCSObjectStore(client *storage.Client, bucketName, publicBase string) *GCSObjectStore {
	if publicBase == "" {
		publicBase = DefaultPublicBaseURL
	}
	return &GCSObjectStore{
		bucket:     client.Bucket(bucketName),
		name:       bucketName,
		publicBase: strings.TrimRight(publicBase, "/"),
		backoff:    time.Second,
	}
}

// Put writes data only if the object does not exist yet. An existing object is
// treated as success, since a rerun renders the same bytes to the same path.
// Transient failures are retried with exponential backoff.
func (s *GCSObjectStore) Put(ctx context.Context, path string, data []byte, contentType, cacheControl string) error {
	backoff := s.backoff
	var lastErr error

	for i := 0; i < putMaxRetries; i++ {
		err := s.putOnce(ctx, path, data, contentType, cacheControl)
		if err == nil {
			return nil
		}
		if isPreconditionFailed(err) {
			slog.Debug("Object already exists, skipping write.", "gcsObject", path)
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", path,
			"attempt", i+1,
			"maxRetries", putMaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", path, lastErr)
}

func (s *GCSObjectStore) putOnce(ctx context.Context, path string, data []byte, contentType, cacheControl string) error {
	writeCtx, cancel := context.WithTimeout(ctx, putWriteTimeout)
	defer cancel()

	w := s.bucket.Object(path).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
	w.ContentType = contentType
	w.CacheControl = cacheControl

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// Get reads the whole object.
func (s *GCSObjectStore) Get(ctx context.Context, path string) ([]byte, error) {
	r, err := s.bucket.Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.name, path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.name, path, err)
	}
	return data, nil
}

// Delete removes the object. A missing object is not an error.
func (s *GCSObjectStore) Delete(ctx context.Context, path string) error {
	err := s.bucket.Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", s.name, path, err)
	}
	return nil
}

// MakePublic grants allUsers read access and returns the public URL.
func (s *GCSObjectStore) MakePublic(ctx context.Context, path string) (string, error) {
	if err := s.bucket.Object(path).ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		return "", fmt.Errorf("failed to make gs://%s/%s public: %w", s.name, path, err)
	}
	return PublicURL(s.publicBase, s.name, path), nil
}

// PublicURL joins base, bucket and object path, escaping each path segment.
func PublicURL(base, bucket, path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), bucket, strings.Join(segments, "/"))
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}
