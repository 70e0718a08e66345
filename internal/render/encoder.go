package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultQuality matches the viewer's size/fidelity trade-off.
const DefaultQuality = 80

// Encoder compresses a raster for web delivery.
type Encoder interface {
	Encode(img image.Image, quality int) ([]byte, error)
	ContentType() string
}

// JPEGEncoder produces baseline JPEG. Output is byte-identical for identical
// input and quality.
type JPEGEncoder struct{}

func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{}
}

func (e *JPEGEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, &EncodeError{Err: fmt.Errorf("nil image")}
	}
	if quality < 1 || quality > 100 {
		return nil, &EncodeError{Err: fmt.Errorf("quality must be between 1 and 100, got %d", quality)}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &EncodeError{Err: err}
	}
	return buf.Bytes(), nil
}

func (e *JPEGEncoder) ContentType() string { return "image/jpeg" }
