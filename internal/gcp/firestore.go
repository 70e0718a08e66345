package gcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/flipbookflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreStatusStore keeps document records in a Firestore collection.
// Every status write runs in a transaction so concurrent writers for the same
// document are serialized by Firestore rather than by any local lock.
type FirestoreStatusStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStatusStore(client *firestore.Client, collection string) *FirestoreStatusStore {
	return &FirestoreStatusStore{client: client, collection: collection}
}

func (s *FirestoreStatusStore) doc(documentID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID)
}

// Get reads the full record.
func (s *FirestoreStatusStore) Get(ctx context.Context, documentID string) (*models.Document, error) {
	snap, err := s.doc(documentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", documentID, err)
	}
	return decodeDocument(snap)
}

// Transition moves the record to next and merges fields in the same write.
// It reports false without writing when the record is already in next.
func (s *FirestoreStatusStore) Transition(ctx context.Context, documentID string, next models.Status, fields map[string]interface{}) (bool, error) {
	ref := s.doc(documentID)
	var applied bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
			}
			return err
		}
		current, err := snap.DataAt(models.FieldStatus)
		if err != nil {
			return fmt.Errorf("document %s has no status: %w", documentID, err)
		}
		currentStatus, _ := current.(string)

		apply, err := models.CheckTransition(models.Status(currentStatus), next)
		if err != nil || !apply {
			return err
		}
		applied = true
		return tx.Update(ref, buildUpdates(next, fields))
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Reclaim bumps updatedAt on a conversion that has not moved since
// staleBefore and counts the attempt. It reports false when another writer
// already advanced or reclaimed the record.
func (s *FirestoreStatusStore) Reclaim(ctx context.Context, documentID string, staleBefore time.Time) (bool, error) {
	ref := s.doc(documentID)
	var reclaimed bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		reclaimed = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
			}
			return err
		}
		doc, err := decodeDocument(snap)
		if err != nil {
			return err
		}
		if doc.Status != models.StatusConverting || !doc.UpdatedAt.Before(staleBefore) {
			return nil
		}
		reclaimed = true
		return tx.Update(ref, []firestore.Update{
			{Path: models.FieldUpdatedAt, Value: firestore.ServerTimestamp},
			{Path: models.FieldReconcileAttempts, Value: firestore.Increment(1)},
		})
	})
	if err != nil {
		return false, err
	}
	return reclaimed, nil
}

// ListStale returns converting records whose updatedAt is older than before.
// The query needs a composite index on (status, updatedAt).
func (s *FirestoreStatusStore) ListStale(ctx context.Context, before time.Time, limit int) ([]models.Document, error) {
	q := s.client.Collection(s.collection).
		Where(models.FieldStatus, "==", string(models.StatusConverting)).
		Where(models.FieldUpdatedAt, "<", before).
		OrderBy(models.FieldUpdatedAt, firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []models.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query stale documents: %w", err)
		}
		doc, err := decodeDocument(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// Subscribe calls fn with the full record on every change until fn returns
// false or ctx is done.
func (s *FirestoreStatusStore) Subscribe(ctx context.Context, documentID string, fn func(*models.Document) bool) error {
	it := s.doc(documentID).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("snapshot listener for %s failed: %w", documentID, err)
		}
		if !snap.Exists() {
			continue
		}
		doc, err := decodeDocument(snap)
		if err != nil {
			return err
		}
		if !fn(doc) {
			return nil
		}
	}
}

func decodeDocument(snap *firestore.DocumentSnapshot) (*models.Document, error) {
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	if doc.DocumentID == "" {
		doc.DocumentID = snap.Ref.ID
	}
	return &doc, nil
}

// buildUpdates turns a field map into field-path updates in a stable order,
// always stamping status and updatedAt.
func buildUpdates(next models.Status, fields map[string]interface{}) []firestore.Update {
	updates := []firestore.Update{
		{Path: models.FieldStatus, Value: string(next)},
		{Path: models.FieldUpdatedAt, Value: firestore.ServerTimestamp},
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == models.FieldStatus || k == models.FieldUpdatedAt {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		updates = append(updates, firestore.Update{Path: k, Value: fields[k]})
	}
	return updates
}

// FirestoreEventSink appends viewer analytics events to a collection.
type FirestoreEventSink struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreEventSink(client *firestore.Client, collection string) *FirestoreEventSink {
	return &FirestoreEventSink{client: client, collection: collection}
}

// Emit stores one event with a server-side timestamp.
func (s *FirestoreEventSink) Emit(ctx context.Context, ev models.ViewerEvent) error {
	if ev.DocumentID == "" || ev.SessionID == "" {
		return errors.New("analytics event needs documentId and sessionId")
	}
	var userID interface{}
	if ev.UserID != "" {
		userID = ev.UserID
	}
	_, _, err := s.client.Collection(s.collection).Add(ctx, map[string]interface{}{
		"documentId":   ev.DocumentID,
		"userId":       userID,
		"eventType":    string(ev.EventType),
		"pageNumber":   ev.PageNumber,
		"pagesReached": ev.PagesReached,
		"sessionId":    ev.SessionID,
		"timestamp":    firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to write analytics event: %w", err)
	}
	return nil
}
