// Package render turns PDF bytes into page images.
package render

import "fmt"

// RenderError reports that a page could not be rasterized. Page is the
// 1-based page number, or 0 when the document itself could not be opened.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string {
	if e.Page == 0 {
		return fmt.Sprintf("render document: %v", e.Err)
	}
	return fmt.Sprintf("render page %d: %v", e.Page, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// EncodeError reports that a raster could not be compressed. Page is 0 until
// the caller attaches the page it was encoding.
type EncodeError struct {
	Page int
	Err  error
}

func (e *EncodeError) Error() string {
	if e.Page == 0 {
		return fmt.Sprintf("encode image: %v", e.Err)
	}
	return fmt.Sprintf("encode page %d: %v", e.Page, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
