package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/flipbookflow/internal/gcp"
	"github.com/Lllllllleong/flipbookflow/internal/models"
)

const (
	maxBatchEvents = 100
	maxBatchBytes  = 64 << 10
	flushTimeout   = 10 * time.Second
)

type ViewerEventsConfig struct {
	ProjectID           string
	CollectionName      string
	AnalyticsCollection string
}

// ViewerEventsFunction accepts batches of viewer analytics. It always answers
// 204 to well-formed batches: analytics must never surface errors to viewers.
type ViewerEventsFunction struct {
	statuses StatusStore
	sink     EventSink
}

func NewViewerEvents(ctx context.Context) (*ViewerEventsFunction, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, errMissingProjectID
	}
	config := ViewerEventsConfig{
		ProjectID:           projectID,
		CollectionName:      gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		AnalyticsCollection: gcp.GetEnv("ANALYTICS_COLLECTION", "analytics"),
	}
	client, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	slog.Info("Viewer events initialized.", "analyticsCollection", config.AnalyticsCollection)
	return NewViewerEventsFunction(
		gcp.NewFirestoreStatusStore(client, config.CollectionName),
		gcp.NewFirestoreEventSink(client, config.AnalyticsCollection),
	), nil
}

func NewViewerEventsFunction(statuses StatusStore, sink EventSink) *ViewerEventsFunction {
	return &ViewerEventsFunction{statuses: statuses, sink: sink}
}

// Record replays a batch through a session tracker. Batches for unknown or
// unpublished documents are discarded.
func (f *ViewerEventsFunction) Record(ctx context.Context, batch models.ViewerEventBatch) {
	logCtx := slog.With("documentId", batch.DocumentID, "sessionId", batch.SessionID)

	doc, err := f.statuses.Get(ctx, batch.DocumentID)
	if err != nil {
		logCtx.Debug("Dropping analytics batch, document unavailable.", "error", err)
		return
	}
	if !doc.Published {
		logCtx.Debug("Dropping analytics batch for unpublished document.")
		return
	}

	events := batch.Events
	if len(events) > maxBatchEvents {
		events = events[:maxBatchEvents]
	}

	session := NewViewerSession(f.sink, batch.DocumentID, doc.UserID, batch.SessionID, len(events))
	for _, e := range events {
		switch e.EventType {
		case models.EventViewerOpened:
			session.Opened()
		case models.EventPageTurned:
			session.PageTurned(e.PageNumber)
		case models.EventSessionEnded:
			session.Ended(e.PagesReached)
		default:
			logCtx.Debug("Ignoring unknown analytics event.", "eventType", e.EventType)
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	session.Close(flushCtx)
}

func (f *ViewerEventsFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch models.ViewerEventBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes)).Decode(&batch); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if batch.DocumentID == "" || batch.SessionID == "" {
		http.Error(w, "Bad Request: documentId and sessionId are required", http.StatusBadRequest)
		return
	}

	f.Record(r.Context(), batch)
	w.WriteHeader(http.StatusNoContent)
}
