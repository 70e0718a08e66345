package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Lllllllleong/flipbookflow/internal/gcp"
	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/render"
	"golang.org/x/sync/errgroup"
)

// PageCacheControl lets browsers and CDNs keep page images for a year. Pages
// are never rewritten under the same path with different content.
const PageCacheControl = "public, max-age=31536000"

const maxPageConcurrency = 8

// EngineConfig tunes local rendering.
type EngineConfig struct {
	Scale       float64
	Quality     int
	MaxPages    int
	Concurrency int
}

// DefaultEngineConfig renders at 1.5x, JPEG quality 80, one page at a time and
// at most 100 pages.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Scale:       1.5,
		Quality:     render.DefaultQuality,
		MaxPages:    100,
		Concurrency: 1,
	}
}

// EngineConfigFromEnv reads PAGE_SCALE, JPEG_QUALITY, MAX_PAGE_COUNT and
// PAGE_CONCURRENCY on top of the defaults.
func EngineConfigFromEnv() (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	var err error
	if cfg.Scale, err = gcp.GetEnvFloat("PAGE_SCALE", cfg.Scale); err != nil {
		return cfg, err
	}
	if cfg.Quality, err = gcp.GetEnvInt("JPEG_QUALITY", cfg.Quality); err != nil {
		return cfg, err
	}
	if cfg.MaxPages, err = gcp.GetEnvInt("MAX_PAGE_COUNT", cfg.MaxPages); err != nil {
		return cfg, err
	}
	if cfg.Concurrency, err = gcp.GetEnvInt("PAGE_CONCURRENCY", cfg.Concurrency); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c EngineConfig) Validate() error {
	if c.Scale <= 0 {
		return fmt.Errorf("PAGE_SCALE must be positive, got %v", c.Scale)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", c.Quality)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("MAX_PAGE_COUNT must not be negative, got %d", c.MaxPages)
	}
	if c.Concurrency < 1 || c.Concurrency > maxPageConcurrency {
		return fmt.Errorf("PAGE_CONCURRENCY must be between 1 and %d, got %d", maxPageConcurrency, c.Concurrency)
	}
	return nil
}

// LocalEngine renders every page in-process and publishes the images next to
// the source PDF.
type LocalEngine struct {
	buckets    BucketFunc
	rasterizer render.Rasterizer
	encoder    render.Encoder
	config     EngineConfig
}

func NewLocalEngine(buckets BucketFunc, rasterizer render.Rasterizer, encoder render.Encoder, config EngineConfig) *LocalEngine {
	return &LocalEngine{
		buckets:    buckets,
		rasterizer: rasterizer,
		encoder:    encoder,
		config:     config,
	}
}

// Convert renders all pages of the job's PDF. It does not touch the status
// record; the returned URLs are ordered by page.
func (e *LocalEngine) Convert(ctx context.Context, job models.ConversionJob) (*Result, error) {
	logCtx := slog.With("documentId", job.DocumentID, "userId", job.UserID)
	store := e.buckets(job.Source.Bucket)

	pdf, err := store.Get(ctx, job.Source.Path)
	if err != nil {
		return nil, &StorageError{Op: "get", Path: job.Source.Path, Err: err}
	}

	if pages, err := render.Inspect(pdf); err != nil {
		logCtx.Warn("PDF failed structural validation, rendering anyway.", "error", err)
	} else if err := e.checkPageLimit(pages); err != nil {
		return nil, err
	}

	doc, err := e.rasterizer.Open(pdf)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pageCount := doc.PageCount()
	if pageCount < 1 {
		return nil, &render.RenderError{Err: errors.New("document has no pages")}
	}
	if err := e.checkPageLimit(pageCount); err != nil {
		return nil, err
	}
	logCtx.Info("Rendering pages.", "pageCount", pageCount, "concurrency", e.config.Concurrency)

	urls, err := e.renderPages(ctx, store, doc, job, pageCount)
	if err != nil {
		return nil, err
	}
	return &Result{PageCount: pageCount, PageURLs: urls}, nil
}

func (e *LocalEngine) checkPageLimit(pages int) error {
	if e.config.MaxPages > 0 && pages > e.config.MaxPages {
		return &PageLimitError{Pages: pages, Limit: e.config.MaxPages}
	}
	return nil
}

// renderPages processes pages in ascending order. With a concurrency above one
// pages overlap, but the result stays indexed by page and the error reported
// is that of the lowest failing page. A failure only skips the pages above it;
// pages below it still render so a lower failure is never masked.
func (e *LocalEngine) renderPages(ctx context.Context, store ObjectStore, doc render.Document, job models.ConversionJob, pageCount int) ([]string, error) {
	urls := make([]string, pageCount)
	errs := make([]error, pageCount)

	limit := e.config.Concurrency
	if limit < 1 {
		limit = 1
	}
	var lowest failedPage
	eg := new(errgroup.Group)
	eg.SetLimit(limit)

	for i := 0; i < pageCount; i++ {
		page := i + 1
		eg.Go(func() error {
			if ctx.Err() != nil || lowest.below(page) {
				return nil
			}
			url, err := e.renderPage(ctx, store, doc, job, page)
			if err != nil {
				errs[page-1] = err
				lowest.record(page)
				return err
			}
			urls[page-1] = url
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return urls, nil
}

// failedPage tracks the lowest page that failed. Zero means none.
type failedPage struct{ page atomic.Int64 }

// below reports whether a page lower than page has already failed.
func (f *failedPage) below(page int) bool {
	low := f.page.Load()
	return low != 0 && low < int64(page)
}

func (f *failedPage) record(page int) {
	for {
		low := f.page.Load()
		if low != 0 && low <= int64(page) {
			return
		}
		if f.page.CompareAndSwap(low, int64(page)) {
			return
		}
	}
}

func (e *LocalEngine) renderPage(ctx context.Context, store ObjectStore, doc render.Document, job models.ConversionJob, page int) (string, error) {
	img, err := doc.Render(page, e.config.Scale)
	if err != nil {
		var renderErr *render.RenderError
		if errors.As(err, &renderErr) {
			if renderErr.Page == 0 {
				renderErr.Page = page
			}
			return "", err
		}
		return "", &render.RenderError{Page: page, Err: err}
	}

	data, err := e.encoder.Encode(img, e.config.Quality)
	if err != nil {
		var encodeErr *render.EncodeError
		if errors.As(err, &encodeErr) {
			if encodeErr.Page == 0 {
				encodeErr.Page = page
			}
			return "", err
		}
		return "", &render.EncodeError{Page: page, Err: err}
	}

	path := models.PagePath(job.UserID, job.DocumentID, page)
	if err := store.Put(ctx, path, data, e.encoder.ContentType(), PageCacheControl); err != nil {
		return "", &StorageError{Op: "put", Path: path, Page: page, Err: err}
	}
	url, err := store.MakePublic(ctx, path)
	if err != nil {
		return "", &StorageError{Op: "publish", Path: path, Page: page, Err: err}
	}
	return url, nil
}
