package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/flipbookflow/internal/gcp"
	"github.com/Lllllllleong/flipbookflow/internal/models"
)

type SweeperConfig struct {
	Pipeline         PipelineConfig
	StaleAfter       time.Duration
	MaxAttempts      int
	BatchSize        int
	WorkflowLocation string
	WorkflowID       string
}

// LoadSweeperConfig reads the sweep settings. UPLOAD_BUCKET is required since
// stale records do not name their bucket.
func LoadSweeperConfig() (SweeperConfig, error) {
	pipeline, err := LoadPipelineConfig()
	if err != nil {
		return SweeperConfig{}, err
	}
	if pipeline.UploadBucket == "" {
		return SweeperConfig{}, fmt.Errorf("UPLOAD_BUCKET environment variable must be set")
	}
	staleAfter, err := gcp.GetEnvDuration("STALE_AFTER", 15*time.Minute)
	if err != nil {
		return SweeperConfig{}, err
	}
	maxAttempts, err := gcp.GetEnvInt("MAX_RECONCILE_ATTEMPTS", 2)
	if err != nil {
		return SweeperConfig{}, err
	}
	batchSize, err := gcp.GetEnvInt("SWEEP_BATCH_SIZE", 50)
	if err != nil {
		return SweeperConfig{}, err
	}
	return SweeperConfig{
		Pipeline:         pipeline,
		StaleAfter:       staleAfter,
		MaxAttempts:      maxAttempts,
		BatchSize:        batchSize,
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "page-render-retry"),
	}, nil
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Scanned  int `json:"scanned"`
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// SweeperFunction recovers conversions whose worker died after claiming them.
// Records stuck in converting are re-enqueued on the renderer's workflow a
// bounded number of times, then moved to error.
type SweeperFunction struct {
	statuses StatusStore
	enqueuer Enqueuer
	config   SweeperConfig
	now      func() time.Time
}

func NewSweeper(ctx context.Context) (*SweeperFunction, error) {
	cfg, err := LoadSweeperConfig()
	if err != nil {
		return nil, err
	}
	statuses, err := NewStatusStore(ctx, cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	enqueuer := gcp.NewWorkflowEnqueuer(executionsClient, cfg.Pipeline.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
	slog.Info("Stale sweeper initialized.", "workflowId", cfg.WorkflowID, "staleAfter", cfg.StaleAfter.String())
	return NewSweeperFunction(statuses, enqueuer, cfg), nil
}

func NewSweeperFunction(statuses StatusStore, enqueuer Enqueuer, config SweeperConfig) *SweeperFunction {
	return &SweeperFunction{
		statuses: statuses,
		enqueuer: enqueuer,
		config:   config,
		now:      time.Now,
	}
}

// Sweep handles one batch of stale records. Per-record failures are logged
// and counted; only a failed listing aborts the sweep.
func (f *SweeperFunction) Sweep(ctx context.Context) (*SweepReport, error) {
	cutoff := f.now().Add(-f.config.StaleAfter)
	docs, err := f.statuses.ListStale(ctx, cutoff, f.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale documents: %w", err)
	}

	report := &SweepReport{Scanned: len(docs)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		f.sweepOne(ctx, doc, cutoff, report)
	}
	slog.Info("Sweep complete.",
		"scanned", report.Scanned,
		"requeued", report.Requeued,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"errors", report.Errors)
	return report, nil
}

func (f *SweeperFunction) sweepOne(ctx context.Context, doc models.Document, cutoff time.Time, report *SweepReport) {
	logCtx := slog.With("documentId", doc.DocumentID, "userId", doc.UserID, "reconcileAttempts", doc.ReconcileAttempts)

	if doc.ReconcileAttempts >= f.config.MaxAttempts {
		_, err := f.statuses.Transition(ctx, doc.DocumentID, models.StatusError, nil)
		switch {
		case errors.Is(err, models.ErrInvalidTransition):
			report.Skipped++
		case err != nil:
			report.Errors++
			logCtx.Error("Failed to give up on stale document.", "error", err)
		default:
			report.Failed++
			logCtx.Warn("Stale document exhausted its retries, marked error.", "errorKind", "StaleConversion")
		}
		return
	}

	reclaimed, err := f.statuses.Reclaim(ctx, doc.DocumentID, cutoff)
	if err != nil {
		report.Errors++
		logCtx.Error("Failed to reclaim stale document.", "error", err)
		return
	}
	if !reclaimed {
		report.Skipped++
		logCtx.Debug("Stale document moved on before it could be reclaimed.")
		return
	}

	req := models.ConvertRequest{
		BucketName: f.config.Pipeline.UploadBucket,
		FilePath:   f.config.Pipeline.UploadPath(doc.UserID, doc.DocumentID),
		DocumentID: doc.DocumentID,
		UserID:     doc.UserID,
	}
	execution, err := f.enqueuer.Enqueue(ctx, req)
	if err != nil {
		// The bumped updatedAt delays the next attempt by one staleness window.
		report.Errors++
		logCtx.Error("Failed to re-enqueue stale document.", "error", err)
		return
	}
	report.Requeued++
	logCtx.Info("Re-enqueued stale document.", "execution", execution)
}

// ServeHTTP runs a sweep and reports the counts as JSON. It is meant to be
// called by a scheduler.
func (f *SweeperFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, err := f.Sweep(r.Context())
	if err != nil {
		slog.Error("Sweep failed.", "error", err)
		http.Error(w, "Internal Server Error: sweep failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}
