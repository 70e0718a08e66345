package render

import (
	"fmt"
	"image"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// BaseDPI is the PDF user-space resolution; scale multiplies it.
const BaseDPI = 72.0

// Rasterizer opens PDF documents for page rendering.
type Rasterizer interface {
	Open(pdf []byte) (Document, error)
}

// Document is an opened PDF. Implementations must be safe for concurrent
// Render calls.
type Document interface {
	PageCount() int
	Render(page int, scale float64) (image.Image, error)
	Close() error
}

// FitzRasterizer renders pages with MuPDF through go-fitz.
type FitzRasterizer struct{}

// NewFitzRasterizer returns a MuPDF backed rasterizer.
func NewFitzRasterizer() *FitzRasterizer {
	return &FitzRasterizer{}
}

// Open parses the PDF held in memory.
func (r *FitzRasterizer) Open(pdf []byte) (Document, error) {
	if len(pdf) == 0 {
		return nil, &RenderError{Err: fmt.Errorf("empty pdf")}
	}
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, &RenderError{Err: err}
	}
	return &fitzDocument{doc: doc, pages: doc.NumPage()}, nil
}

// fitzDocument serializes every call into MuPDF. A go-fitz document does not
// support concurrent page rendering, so workers overlap only on encoding and
// upload.
type fitzDocument struct {
	mu    sync.Mutex
	doc   *fitz.Document
	pages int
}

func (d *fitzDocument) PageCount() int {
	return d.pages
}

// Render rasterizes the 1-based page at BaseDPI*scale.
func (d *fitzDocument) Render(page int, scale float64) (image.Image, error) {
	if page < 1 || page > d.pages {
		return nil, &RenderError{Page: page, Err: fmt.Errorf("page out of range 1..%d", d.pages)}
	}
	if scale <= 0 {
		return nil, &RenderError{Page: page, Err: fmt.Errorf("invalid scale %v", scale)}
	}
	d.mu.Lock()
	img, err := d.doc.ImageDPI(page-1, BaseDPI*scale)
	d.mu.Unlock()
	if err != nil {
		return nil, &RenderError{Page: page, Err: err}
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc.Close()
	return nil
}
