package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/flipbookflow/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultRemoteTimeout stays under the renderer's own request deadline.
const DefaultRemoteTimeout = 520 * time.Second

const maxErrorBody = 4 << 10

// RemoteDelegate hands a conversion to the page renderer service and waits
// for its answer. The renderer writes the terminal status itself.
type RemoteDelegate struct {
	baseURL string
	creds   CredentialProvider
	client  *http.Client
	timeout time.Duration
}

// NewRemoteDelegate returns a delegate for the renderer at baseURL. A nil
// client gets a traced default transport.
func NewRemoteDelegate(baseURL string, creds CredentialProvider, client *http.Client, timeout time.Duration) *RemoteDelegate {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteDelegate{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  client,
		timeout: timeout,
	}
}

// Convert posts the job and blocks until the renderer replies or the timeout
// passes.
func (d *RemoteDelegate) Convert(ctx context.Context, job models.ConversionJob) (*Result, error) {
	token, err := d.creds.Token(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	body, err := json.Marshal(models.NewConvertRequest(job))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal convert request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/convert", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Err: fmt.Errorf("no response after %s: %w", d.timeout, err)}
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("renderer replied %q", strings.TrimSpace(string(msg))),
		}
	}

	var out models.ConvertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Err: err}
		}
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode renderer response: %w", err)}
	}

	slog.Debug("Renderer acknowledged conversion.",
		"documentId", job.DocumentID,
		"status", out.Status,
		"pageCount", out.PageCount,
		"elapsed", time.Since(started).String())
	return &Result{PageCount: out.PageCount, Finalized: true}, nil
}
