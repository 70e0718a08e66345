package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/render"
)

// memStatusStore applies the same compare-and-set rule as the Firestore store
// under a mutex.
type memStatusStore struct {
	mu     sync.Mutex
	docs   map[string]*models.Document
	writes []statusWrite
	subs   map[string][]chan models.Document
	now    func() time.Time

	getErr error
}

type statusWrite struct {
	DocumentID string
	Status     models.Status
}

func newMemStatusStore(docs ...models.Document) *memStatusStore {
	s := &memStatusStore{
		docs: make(map[string]*models.Document),
		subs: make(map[string][]chan models.Document),
		now:  time.Now,
	}
	for i := range docs {
		d := docs[i]
		s.docs[d.DocumentID] = &d
	}
	return s
}

func (s *memStatusStore) Get(ctx context.Context, documentID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	d, ok := s.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
	}
	cp := *d
	return &cp, nil
}

func (s *memStatusStore) Transition(ctx context.Context, documentID string, next models.Status, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[documentID]
	if !ok {
		return false, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
	}
	apply, err := models.CheckTransition(d.Status, next)
	if err != nil || !apply {
		return false, err
	}
	d.Status = next
	d.UpdatedAt = s.now()
	for k, v := range fields {
		switch k {
		case models.FieldPageCount:
			d.PageCount = v.(int)
		case models.FieldPageURLs:
			d.PageURLs = append([]string(nil), v.([]string)...)
		case models.FieldPDFURL:
			d.PDFURL = v.(string)
		default:
			panic("unexpected field " + k)
		}
	}
	s.writes = append(s.writes, statusWrite{DocumentID: documentID, Status: next})
	s.notify(d)
	return true, nil
}

func (s *memStatusStore) Reclaim(ctx context.Context, documentID string, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[documentID]
	if !ok {
		return false, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
	}
	if d.Status != models.StatusConverting || !d.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	d.UpdatedAt = s.now()
	d.ReconcileAttempts++
	s.notify(d)
	return true, nil
}

func (s *memStatusStore) ListStale(ctx context.Context, before time.Time, limit int) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, d := range s.docs {
		if d.Status == models.StatusConverting && d.UpdatedAt.Before(before) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStatusStore) Subscribe(ctx context.Context, documentID string, fn func(*models.Document) bool) error {
	ch := make(chan models.Document, 64)
	s.mu.Lock()
	if d, ok := s.docs[documentID]; ok {
		ch <- *d
	}
	s.subs[documentID] = append(s.subs[documentID], ch)
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-ch:
			if !fn(&d) {
				return nil
			}
		}
	}
}

func (s *memStatusStore) notify(d *models.Document) {
	for _, ch := range s.subs[d.DocumentID] {
		select {
		case ch <- *d:
		default:
		}
	}
}

func (s *memStatusStore) doc(documentID string) models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.docs[documentID]
}

func (s *memStatusStore) writesFor(documentID string) []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Status
	for _, w := range s.writes {
		if w.DocumentID == documentID {
			out = append(out, w.Status)
		}
	}
	return out
}

type memObject struct {
	data         []byte
	contentType  string
	cacheControl string
	public       bool
}

type memObjectStore struct {
	mu        sync.Mutex
	bucket    string
	objects   map[string]*memObject
	deleted   []string
	putErr    map[string]error
	deleteErr error
}

func newMemObjectStore(bucket string) *memObjectStore {
	return &memObjectStore{
		bucket:  bucket,
		objects: make(map[string]*memObject),
		putErr:  make(map[string]error),
	}
}

func (s *memObjectStore) buckets() BucketFunc {
	return func(string) ObjectStore { return s }
}

func (s *memObjectStore) seed(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = &memObject{data: data, contentType: "application/pdf"}
}

func (s *memObjectStore) Put(ctx context.Context, path string, data []byte, contentType, cacheControl string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.putErr[path]; err != nil {
		return err
	}
	s.objects[path] = &memObject{data: append([]byte(nil), data...), contentType: contentType, cacheControl: cacheControl}
	return nil
}

func (s *memObjectStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s does not exist", path)
	}
	return o.data, nil
}

func (s *memObjectStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, path)
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *memObjectStore) MakePublic(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[path]
	if !ok {
		return "", fmt.Errorf("object %s does not exist", path)
	}
	o.public = true
	return "https://storage.googleapis.com/" + s.bucket + "/" + path, nil
}

func (s *memObjectStore) object(path string) (*memObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[path]
	return o, ok
}

func (s *memObjectStore) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.objects {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// fakeRasterizer produces small gray pages whose shade depends on the page
// number. Pages listed in fail return errors; delays slow individual pages.
type fakeRasterizer struct {
	pages   int
	openErr error
	fail    map[int]error
	delays  map[int]time.Duration

	opened   atomic.Int32
	closed   atomic.Int32
	rendered atomic.Int32
}

func (r *fakeRasterizer) Open(pdf []byte) (render.Document, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	r.opened.Add(1)
	return &fakeDocument{r: r}, nil
}

type fakeDocument struct{ r *fakeRasterizer }

func (d *fakeDocument) PageCount() int { return d.r.pages }

func (d *fakeDocument) Render(page int, scale float64) (image.Image, error) {
	if delay := d.r.delays[page]; delay > 0 {
		time.Sleep(delay)
	}
	if err := d.r.fail[page]; err != nil {
		return nil, err
	}
	d.r.rendered.Add(1)
	img := image.NewGray(image.Rect(0, 0, int(20*scale), int(30*scale)))
	for i := range img.Pix {
		img.Pix[i] = uint8(page * 10)
	}
	img.Set(0, 0, color.Gray{Y: 255})
	return img, nil
}

func (d *fakeDocument) Close() error {
	d.r.closed.Add(1)
	return nil
}

// countingStrategy records how often it runs and delegates to next.
type countingStrategy struct {
	calls atomic.Int32
	next  ConversionStrategy
	err   error
}

func (s *countingStrategy) Convert(ctx context.Context, job models.ConversionJob) (*Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.next.Convert(ctx, job)
}

type staticCreds struct {
	token string
	err   error
	calls atomic.Int32
}

func (c *staticCreds) Token(ctx context.Context) (string, error) {
	c.calls.Add(1)
	return c.token, c.err
}

type memSink struct {
	mu     sync.Mutex
	events []models.ViewerEvent
	err    error
	block  chan struct{}
}

func (s *memSink) Emit(ctx context.Context, ev models.ViewerEvent) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memSink) recorded() []models.ViewerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ViewerEvent(nil), s.events...)
}

type memEnqueuer struct {
	mu       sync.Mutex
	requests []models.ConvertRequest
	err      error
}

func (e *memEnqueuer) Enqueue(ctx context.Context, req models.ConvertRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.requests = append(e.requests, req)
	return fmt.Sprintf("executions/%d", len(e.requests)), nil
}

var errBoom = errors.New("boom")
