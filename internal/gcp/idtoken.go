package gcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// tokenEarlyExpiry refreshes ID tokens a little before they lapse so a token
// handed out never expires mid-request.
const tokenEarlyExpiry = 2 * time.Minute

// IDTokenProvider issues Google-signed ID tokens for one audience. Tokens are
// cached and refreshed on expiry.
type IDTokenProvider struct {
	audience string

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewIDTokenProvider returns a provider for audience. The underlying token
// source is created on first use so construction never touches the network.
func NewIDTokenProvider(audience string) (*IDTokenProvider, error) {
	if audience == "" {
		return nil, fmt.Errorf("an audience is required to mint ID tokens")
	}
	return &IDTokenProvider{audience: audience}, nil
}

// Token returns a valid bearer token for the audience.
func (p *IDTokenProvider) Token(ctx context.Context) (string, error) {
	src, err := p.source(ctx)
	if err != nil {
		return "", err
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("failed to mint ID token for %s: %w", p.audience, err)
	}
	return tok.AccessToken, nil
}

func (p *IDTokenProvider) source(ctx context.Context) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src != nil {
		return p.src, nil
	}
	// The token source outlives this request, so it must not inherit its
	// cancellation.
	base, err := idtoken.NewTokenSource(context.WithoutCancel(ctx), p.audience)
	if err != nil {
		return nil, fmt.Errorf("failed to create ID token source: %w", err)
	}
	p.src = oauth2.ReuseTokenSourceWithExpiry(nil, base, tokenEarlyExpiry)
	return p.src, nil
}
