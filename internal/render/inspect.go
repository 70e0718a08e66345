package render

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// Inspect validates the PDF structure in relaxed mode and returns its page
// count. A structural failure is reported as a document-level RenderError.
func Inspect(pdf []byte) (pageCount int, err error) {
	// pdfcpu otherwise creates a config directory under $HOME, which is
	// read-only in the functions runtime.
	disableConfigDir.Do(api.DisableConfigDir)

	defer func() {
		if r := recover(); r != nil {
			pageCount, err = 0, &RenderError{Err: fmt.Errorf("pdf parser panicked: %v", r)}
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err = api.Validate(bytes.NewReader(pdf), conf); err != nil {
		return 0, &RenderError{Err: fmt.Errorf("validate pdf: %w", err)}
	}
	pageCount, err = api.PageCount(bytes.NewReader(pdf), conf)
	if err != nil {
		return 0, &RenderError{Err: fmt.Errorf("count pages: %w", err)}
	}
	return pageCount, nil
}
