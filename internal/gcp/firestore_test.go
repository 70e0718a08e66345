package gcp

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmulatorStore returns a store on a fresh collection of the Firestore
// emulator. Tests using it skip unless FIRESTORE_EMULATOR_HOST is set.
func newEmulatorStore(t *testing.T, docs ...models.Document) *FirestoreStatusStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := NewFirestoreClient(ctx, "flipbook-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	collection := "documents-" + uuid.NewString()
	for _, doc := range docs {
		_, err := client.Collection(collection).Doc(doc.DocumentID).Set(ctx, doc)
		require.NoError(t, err)
	}
	return NewFirestoreStatusStore(client, collection)
}

func emulatorDoc(id string, status models.Status, updatedAt time.Time) models.Document {
	return models.Document{
		DocumentID: id,
		UserID:     "u1",
		Title:      "Brochure",
		Status:     status,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}
}

func TestFirestoreTransitionIsForwardOnly(t *testing.T) {
	store := newEmulatorStore(t, emulatorDoc("d1", models.StatusUploading, time.Now()))
	ctx := context.Background()

	applied, err := store.Transition(ctx, "d1", models.StatusConverting, nil)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.Transition(ctx, "d1", models.StatusConverting, nil)
	require.NoError(t, err)
	assert.False(t, applied, "repeating the current status writes nothing")

	applied, err = store.Transition(ctx, "d1", models.StatusReady, map[string]interface{}{
		models.FieldPageCount: 2,
		models.FieldPageURLs:  []string{"p1", "p2"},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = store.Transition(ctx, "d1", models.StatusError, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	doc, err := store.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, doc.Status)
	assert.Equal(t, 2, doc.PageCount)
	assert.Equal(t, []string{"p1", "p2"}, doc.PageURLs)
	assert.Equal(t, "Brochure", doc.Title)
}

func TestFirestoreTransitionMissingDocument(t *testing.T) {
	store := newEmulatorStore(t)

	_, err := store.Transition(context.Background(), "missing", models.StatusConverting, nil)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestFirestoreConcurrentClaimsHaveOneWinner(t *testing.T) {
	store := newEmulatorStore(t, emulatorDoc("d1", models.StatusUploading, time.Now()))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := store.Transition(context.Background(), "d1", models.StatusConverting, nil)
			assert.NoError(t, err)
			if applied {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestFirestoreReclaimCountsAttempts(t *testing.T) {
	stale := time.Now().Add(-time.Hour)
	store := newEmulatorStore(t,
		emulatorDoc("stale", models.StatusConverting, stale),
		emulatorDoc("fresh", models.StatusConverting, time.Now()),
		emulatorDoc("done", models.StatusReady, stale),
	)
	ctx := context.Background()
	cutoff := time.Now().Add(-15 * time.Minute)

	docs, err := store.ListStale(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "stale", docs[0].DocumentID)

	reclaimed, err := store.Reclaim(ctx, "stale", cutoff)
	require.NoError(t, err)
	assert.True(t, reclaimed)

	reclaimed, err = store.Reclaim(ctx, "stale", cutoff)
	require.NoError(t, err)
	assert.False(t, reclaimed, "a reclaimed record is no longer stale")

	reclaimed, err = store.Reclaim(ctx, "fresh", cutoff)
	require.NoError(t, err)
	assert.False(t, reclaimed)

	doc, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ReconcileAttempts)
	assert.True(t, doc.UpdatedAt.After(cutoff))
	assert.Equal(t, models.StatusConverting, doc.Status)
}
