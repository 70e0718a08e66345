package render

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitzRasterizer_RendersEveryPage(t *testing.T) {
	doc, err := NewFitzRasterizer().Open(buildPDF(3))
	require.NoError(t, err)
	defer doc.Close()

	require.Equal(t, 3, doc.PageCount())

	for page := 1; page <= 3; page++ {
		img, err := doc.Render(page, 1.5)
		require.NoError(t, err, "page %d", page)
		// 200x300pt at 1.5x.
		assert.Equal(t, 300, img.Bounds().Dx())
		assert.Equal(t, 450, img.Bounds().Dy())
	}
}

func TestFitzRasterizer_SameInputSameOutput(t *testing.T) {
	pdf := buildPDF(1)
	enc := NewJPEGEncoder()

	render := func() []byte {
		doc, err := NewFitzRasterizer().Open(pdf)
		require.NoError(t, err)
		defer doc.Close()
		img, err := doc.Render(1, 1.5)
		require.NoError(t, err)
		out, err := enc.Encode(img, DefaultQuality)
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, render(), render())
}

func TestFitzRasterizer_ConcurrentRenderMatchesSequential(t *testing.T) {
	const pages = 12
	doc, err := NewFitzRasterizer().Open(buildPDF(pages))
	require.NoError(t, err)
	defer doc.Close()
	enc := NewJPEGEncoder()

	want := make([][]byte, pages)
	for page := 1; page <= pages; page++ {
		img, err := doc.Render(page, 1)
		require.NoError(t, err)
		want[page-1], err = enc.Encode(img, DefaultQuality)
		require.NoError(t, err)
	}

	got := make([][]byte, pages)
	errs := make([]error, pages)
	var wg sync.WaitGroup
	for page := 1; page <= pages; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			img, err := doc.Render(page, 1)
			if err != nil {
				errs[page-1] = err
				return
			}
			got[page-1], errs[page-1] = enc.Encode(img, DefaultQuality)
		}(page)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i], "page %d", i+1)
	}
	assert.Equal(t, want, got)
}

func TestFitzRasterizer_PageOutOfRange(t *testing.T) {
	doc, err := NewFitzRasterizer().Open(buildPDF(2))
	require.NoError(t, err)
	defer doc.Close()

	for _, page := range []int{0, 3} {
		_, err := doc.Render(page, 1.5)
		var renderErr *RenderError
		require.True(t, errors.As(err, &renderErr))
		assert.Equal(t, page, renderErr.Page)
	}
}

func TestFitzRasterizer_RejectsGarbage(t *testing.T) {
	// MuPDF may repair garbage into an empty document instead of failing.
	doc, err := NewFitzRasterizer().Open([]byte("definitely not a pdf"))
	if err == nil {
		defer doc.Close()
		assert.Zero(t, doc.PageCount())
	} else {
		var renderErr *RenderError
		require.True(t, errors.As(err, &renderErr))
		assert.Zero(t, renderErr.Page)
	}

	_, err = NewFitzRasterizer().Open(nil)
	var renderErr *RenderError
	assert.True(t, errors.As(err, &renderErr))
}

func TestInspect(t *testing.T) {
	count, err := Inspect(buildPDF(4))
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	_, err = Inspect([]byte("%PDF-1.4\ngarbage"))
	var renderErr *RenderError
	assert.True(t, errors.As(err, &renderErr))
}
