package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/flipbookflow/internal/render"
)

var errMissingProjectID = errors.New("PROJECT_ID environment variable must be set")

// ValidationError means an event is not ours to act on. It is logged and
// acknowledged without any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "ignoring event: " + e.Reason }

// StorageError wraps a failed object store operation.
type StorageError struct {
	Op   string
	Path string
	Page int
	Err  error
}

func (e *StorageError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("storage %s %s (page %d): %v", e.Op, e.Path, e.Page, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// AuthError means no credential could be obtained for the remote renderer.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return fmt.Sprintf("remote auth: %v", e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError covers network failures and non-2xx responses from the
// remote renderer. StatusCode is 0 when no response arrived.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote transport: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError means the remote renderer did not answer in time.
type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return fmt.Sprintf("remote timeout: %v", e.Err) }

func (e *TimeoutError) Unwrap() error { return e.Err }

// PageLimitError rejects documents longer than the configured ceiling.
type PageLimitError struct {
	Pages int
	Limit int
}

func (e *PageLimitError) Error() string {
	return fmt.Sprintf("document has %d pages, limit is %d", e.Pages, e.Limit)
}

// ErrorKind names the class of err for structured logs.
func ErrorKind(err error) string {
	var (
		validation *ValidationError
		renderErr  *render.RenderError
		encodeErr  *render.EncodeError
		storage    *StorageError
		auth       *AuthError
		transport  *TransportError
		timeout    *TimeoutError
		pageLimit  *PageLimitError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return "ValidationError"
	case errors.As(err, &pageLimit):
		return "PageLimitError"
	case errors.As(err, &renderErr):
		return "RenderError"
	case errors.As(err, &encodeErr):
		return "EncodeError"
	case errors.As(err, &storage):
		return "StorageError"
	case errors.As(err, &auth):
		return "AuthError"
	case errors.As(err, &timeout):
		return "TimeoutError"
	case errors.As(err, &transport):
		return "TransportError"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return "InternalError"
	}
}

// ErrorPage returns the 1-based page an error is attributed to, or 0.
func ErrorPage(err error) int {
	var (
		renderErr *render.RenderError
		encodeErr *render.EncodeError
		storage   *StorageError
	)
	switch {
	case errors.As(err, &renderErr):
		return renderErr.Page
	case errors.As(err, &encodeErr):
		return encodeErr.Page
	case errors.As(err, &storage):
		return storage.Page
	}
	return 0
}
