package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/flipbookflow/internal/gcp"
	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/render"
)

const (
	StrategyLocal  = "local"
	StrategyRemote = "remote"
)

type ConverterConfig struct {
	Pipeline          PipelineConfig
	Strategy          string
	ConverterBaseURL  string
	ConverterAudience string
	RemoteTimeout     time.Duration
	Engine            EngineConfig
}

// LoadConverterConfig reads the orchestrator settings from the environment.
func LoadConverterConfig() (ConverterConfig, error) {
	pipeline, err := LoadPipelineConfig()
	if err != nil {
		return ConverterConfig{}, err
	}
	timeout, err := gcp.GetEnvDuration("REMOTE_TIMEOUT", DefaultRemoteTimeout)
	if err != nil {
		return ConverterConfig{}, err
	}
	engine, err := EngineConfigFromEnv()
	if err != nil {
		return ConverterConfig{}, err
	}
	cfg := ConverterConfig{
		Pipeline:         pipeline,
		Strategy:         gcp.GetEnv("STRATEGY", StrategyLocal),
		ConverterBaseURL: gcp.GetEnv("CONVERTER_BASE_URL", ""),
		RemoteTimeout:    timeout,
		Engine:           engine,
	}
	cfg.ConverterAudience = gcp.GetEnv("CONVERTER_AUDIENCE", cfg.ConverterBaseURL)

	switch cfg.Strategy {
	case StrategyLocal:
	case StrategyRemote:
		if cfg.ConverterBaseURL == "" {
			return ConverterConfig{}, fmt.Errorf("CONVERTER_BASE_URL environment variable must be set for the remote strategy")
		}
	default:
		return ConverterConfig{}, fmt.Errorf("STRATEGY must be %s or %s, got %q", StrategyLocal, StrategyRemote, cfg.Strategy)
	}
	return cfg, nil
}

// ConverterFunction drives one document from upload to ready or error.
type ConverterFunction struct {
	statuses StatusStore
	buckets  BucketFunc
	strategy ConversionStrategy
	config   PipelineConfig
}

// NewConverter wires the orchestrator from the environment.
func NewConverter(ctx context.Context) (*ConverterFunction, error) {
	cfg, err := LoadConverterConfig()
	if err != nil {
		return nil, err
	}
	statuses, err := NewStatusStore(ctx, cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	buckets, err := NewBuckets(ctx, cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	var strategy ConversionStrategy
	switch cfg.Strategy {
	case StrategyRemote:
		creds, err := gcp.NewIDTokenProvider(cfg.ConverterAudience)
		if err != nil {
			return nil, err
		}
		strategy = NewRemoteDelegate(cfg.ConverterBaseURL, creds, nil, cfg.RemoteTimeout)
	default:
		strategy = NewLocalEngine(buckets, render.NewFitzRasterizer(), render.NewJPEGEncoder(), cfg.Engine)
	}

	f := NewConverterFunction(statuses, buckets, strategy, cfg.Pipeline)
	slog.Info("PDF converter initialized.", "strategy", cfg.Strategy, "collection", cfg.Pipeline.CollectionName)
	return f, nil
}

func NewConverterFunction(statuses StatusStore, buckets BucketFunc, strategy ConversionStrategy, config PipelineConfig) *ConverterFunction {
	return &ConverterFunction{
		statuses: statuses,
		buckets:  buckets,
		strategy: strategy,
		config:   config,
	}
}

// Validate turns an upload notification into a job, or explains with a
// ValidationError why the event is not ours.
func (f *ConverterFunction) Validate(n models.UploadNotification) (models.ConversionJob, error) {
	return f.ValidateJob(models.ConversionJob{
		DocumentID: n.Metadata.DocumentID,
		UserID:     n.Metadata.UserID,
		Source:     models.SourceRef{Bucket: n.Bucket, Path: n.Name},
	})
}

// ValidateJob applies the upload checks to a job that did not come from a
// storage notification, such as a remote convert request.
func (f *ConverterFunction) ValidateJob(job models.ConversionJob) (models.ConversionJob, error) {
	if !strings.HasPrefix(job.Source.Path, f.config.UploadPrefix) {
		return models.ConversionJob{}, &ValidationError{Reason: fmt.Sprintf("object %q is outside %q", job.Source.Path, f.config.UploadPrefix)}
	}
	if f.config.UploadBucket != "" && job.Source.Bucket != f.config.UploadBucket {
		return models.ConversionJob{}, &ValidationError{Reason: fmt.Sprintf("bucket %q is not the upload bucket", job.Source.Bucket)}
	}
	if job.DocumentID == "" || job.UserID == "" {
		return models.ConversionJob{}, &ValidationError{Reason: fmt.Sprintf("object %q lacks documentId or userId metadata", job.Source.Path)}
	}
	return job, nil
}

// UploadPath is the object the converter expects for a user's document.
func (f *ConverterFunction) UploadPath(userID, documentID string) string {
	return f.config.UploadPath(userID, documentID)
}

// Process handles one upload notification end to end.
func (f *ConverterFunction) Process(ctx context.Context, n models.UploadNotification) error {
	logCtx := slog.With("gcsBucket", n.Bucket, "gcsObject", n.Name)

	job, err := f.Validate(n)
	if err != nil {
		logCtx.Info("Skipping object.", "reason", err.Error())
		return nil
	}
	logCtx = logCtx.With("documentId", job.DocumentID, "userId", job.UserID)

	owned, err := f.Claim(ctx, logCtx, job)
	if err != nil || !owned {
		return err
	}

	_, err = f.Execute(ctx, job)
	return err
}

// Claim moves the record to converting. It reports false when another
// attempt already owns or finished the document.
func (f *ConverterFunction) Claim(ctx context.Context, logCtx *slog.Logger, job models.ConversionJob) (bool, error) {
	applied, err := f.statuses.Transition(ctx, job.DocumentID, models.StatusConverting, nil)
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		logCtx.Info("Document already finished, ignoring duplicate event.", "error", err)
		return false, nil
	case errors.Is(err, models.ErrDocumentNotFound):
		logCtx.Error("Upload has no document record.", "error", err)
		return false, err
	case err != nil:
		logCtx.Error("Failed to claim document.", "error", err)
		return false, fmt.Errorf("failed to claim document %s: %w", job.DocumentID, err)
	case !applied:
		logCtx.Info("Document is already converting, another attempt owns it.")
		return false, nil
	}
	logCtx.Info("Claimed document for conversion.")
	return true, nil
}

// Execute runs the strategy for a claimed job and writes the terminal status.
// Any failure ends in status error.
func (f *ConverterFunction) Execute(ctx context.Context, job models.ConversionJob) (*Result, error) {
	logCtx := slog.With("documentId", job.DocumentID, "userId", job.UserID)
	started := time.Now()

	res, err := f.strategy.Convert(ctx, job)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, job, "conversion failed", err)
	}
	if res.Finalized {
		logCtx.Info("Remote renderer finished the document.", "pageCount", res.PageCount, "elapsed", time.Since(started).String())
		return res, nil
	}

	store := f.buckets(job.Source.Bucket)
	fields := map[string]interface{}{
		models.FieldPageCount: res.PageCount,
		models.FieldPageURLs:  res.PageURLs,
	}
	if f.config.RetainSource {
		pdfURL, err := store.MakePublic(ctx, job.Source.Path)
		if err != nil {
			return nil, f.handleError(ctx, logCtx, job, "failed to publish source PDF", &StorageError{Op: "publish", Path: job.Source.Path, Err: err})
		}
		fields[models.FieldPDFURL] = pdfURL
	}

	if _, err := f.statuses.Transition(ctx, job.DocumentID, models.StatusReady, fields); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			logCtx.Warn("Document left converting before it could be marked ready.", "error", err)
			return nil, err
		}
		return nil, f.handleError(ctx, logCtx, job, "failed to mark document ready", err)
	}
	logCtx.Info("Document ready.", "pageCount", res.PageCount, "elapsed", time.Since(started).String())

	if !f.config.RetainSource {
		if err := store.Delete(ctx, job.Source.Path); err != nil {
			logCtx.Warn("Failed to delete source PDF.", "gcsObject", job.Source.Path, "error", err)
		}
	}
	return res, nil
}

// handleError logs the failure once and moves the record to error. The record
// never carries the error text.
func (f *ConverterFunction) handleError(ctx context.Context, logCtx *slog.Logger, job models.ConversionJob, message string, originalErr error) error {
	attrs := []any{"error", originalErr, "errorKind", ErrorKind(originalErr)}
	if page := ErrorPage(originalErr); page > 0 {
		attrs = append(attrs, "page", page)
	}
	logCtx.Error(message, attrs...)

	// A cancelled request must still record the failure.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	_, err := f.statuses.Transition(writeCtx, job.DocumentID, models.StatusError, nil)
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		logCtx.Info("Document already finished, error status not written.", "error", err)
	case err != nil:
		logCtx.Error("CRITICAL: Failed to update status to error after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}
