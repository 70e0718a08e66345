package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rendererHarness struct {
	statuses   *memStatusStore
	objects    *memObjectStore
	rasterizer *fakeRasterizer
	renderer   *RendererFunction
}

func newRendererHarness(t *testing.T, pages int, docs ...models.Document) *rendererHarness {
	t.Helper()
	h := &rendererHarness{
		statuses:   newMemStatusStore(docs...),
		objects:    newMemObjectStore(testBucket),
		rasterizer: &fakeRasterizer{pages: pages},
	}
	h.objects.seed(testSource, []byte("%PDF-1.4"))
	engine := NewLocalEngine(h.objects.buckets(), h.rasterizer, render.NewJPEGEncoder(), DefaultEngineConfig())
	h.renderer = NewRendererFunction(h.statuses, h.objects.buckets(), engine, testPipelineConfig())
	return h
}

func convertBody(t *testing.T, req models.ConvertRequest) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func validConvertRequest() models.ConvertRequest {
	return models.ConvertRequest{BucketName: testBucket, FilePath: testSource, DocumentID: testDoc, UserID: testUser}
}

func convertingDoc() models.Document {
	doc := uploadingDoc()
	doc.Status = models.StatusConverting
	return doc
}

func TestRendererConvertsClaimedDocument(t *testing.T) {
	h := newRendererHarness(t, 3, convertingDoc())

	rec := httptest.NewRecorder()
	h.renderer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", convertBody(t, validConvertRequest())))

	require.Equal(t, http.StatusOK, rec.Code)
	var res models.ConvertResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, models.ConvertResponse{Status: models.StatusReady, PageCount: 3}, res)

	doc := h.statuses.doc(testDoc)
	assert.Equal(t, models.StatusReady, doc.Status)
	assert.Len(t, doc.PageURLs, 3)
	assert.Equal(t, []models.Status{models.StatusReady}, h.statuses.writesFor(testDoc))
}

func TestRendererClaimsUploadingDocument(t *testing.T) {
	h := newRendererHarness(t, 2, uploadingDoc())

	res, err := h.renderer.Process(context.Background(), validConvertRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount)
	assert.Equal(t, []models.Status{models.StatusConverting, models.StatusReady}, h.statuses.writesFor(testDoc))
}

func TestRendererAnswersFinishedDocumentsWithoutRendering(t *testing.T) {
	doc := uploadingDoc()
	doc.Status = models.StatusReady
	doc.PageCount = 4
	h := newRendererHarness(t, 4, doc)

	rec := httptest.NewRecorder()
	h.renderer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", convertBody(t, validConvertRequest())))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","pageCount":4}`, rec.Body.String())
	assert.Equal(t, int32(0), h.rasterizer.opened.Load())
}

func TestRendererRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"bucketName":`, http.StatusBadRequest},
		{"foreign path", `{"bucketName":"flipbooks","filePath":"avatars/x.png","documentId":"d1","userId":"u1"}`, http.StatusBadRequest},
		{"missing user", `{"bucketName":"flipbooks","filePath":"uploads/u1/d1.pdf","documentId":"d1"}`, http.StatusBadRequest},
		{"unknown document", `{"bucketName":"flipbooks","filePath":"uploads/u1/zz.pdf","documentId":"zz","userId":"u1"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRendererHarness(t, 1, convertingDoc())

			rec := httptest.NewRecorder()
			h.renderer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", bytes.NewBufferString(tt.body)))

			assert.Equal(t, tt.code, rec.Code)
			assert.Empty(t, h.statuses.writesFor(testDoc), "bad requests must not write status")
		})
	}
}

func TestRendererRejectsGet(t *testing.T) {
	h := newRendererHarness(t, 1, convertingDoc())
	rec := httptest.NewRecorder()
	h.renderer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/convert", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRendererFailureWritesErrorAndReturns500(t *testing.T) {
	h := newRendererHarness(t, 3, convertingDoc())
	h.rasterizer.fail = map[int]error{1: errBoom}

	rec := httptest.NewRecorder()
	h.renderer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", convertBody(t, validConvertRequest())))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, models.StatusError, h.statuses.doc(testDoc).Status)
	assert.Equal(t, []models.Status{models.StatusError}, h.statuses.writesFor(testDoc))
}

func TestRendererReportsErroredDocument(t *testing.T) {
	doc := uploadingDoc()
	doc.Status = models.StatusError
	h := newRendererHarness(t, 3, doc)

	rec := httptest.NewRecorder()
	h.renderer.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", convertBody(t, validConvertRequest())))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int32(0), h.rasterizer.opened.Load())
}
