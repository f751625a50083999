package bling

import (
	"context"
	"sync"

	"golang.org/x/oauth2"

	"github.com/setalabs/blingsync/internal/core"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// AuthConfig holds the OAuth application credentials registered with Bling.
type AuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// TokenProvider exchanges per-tenant refresh tokens for access tokens and
// caches the resulting token sources, so a token is only refreshed when it
// actually expires rather than once per request.
type TokenProvider struct {
	oauth AuthConfig
	creds core.CredentialRepository

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewTokenProvider creates a TokenProvider backed by the given credential repository.
func NewTokenProvider(cfg AuthConfig, creds core.CredentialRepository) *TokenProvider {
	return &TokenProvider{
		oauth:   cfg,
		creds:   creds,
		sources: make(map[string]oauth2.TokenSource),
	}
}

func (p *TokenProvider) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.oauth.ClientID,
		ClientSecret: p.oauth.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.oauth.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AccessToken returns a valid bearer token for the tenant, refreshing through
// the OAuth endpoint when the cached one has expired.
func (p *TokenProvider) AccessToken(ctx context.Context, tenantID string) (string, error) {
	src, err := p.tokenSource(ctx, tenantID)
	if err != nil {
		return "", err
	}

	tok, err := src.Token()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeAuth, "refresh Bling access token")
	}
	return tok.AccessToken, nil
}

// Forget drops the tenant's cached token source, forcing a fresh refresh on
// the next call. Used after an authorization failure in case the tenant's
// credentials were rotated.
func (p *TokenProvider) Forget(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sources, tenantID)
}

func (p *TokenProvider) tokenSource(ctx context.Context, tenantID string) (oauth2.TokenSource, error) {
	p.mu.Lock()
	if src, ok := p.sources[tenantID]; ok {
		p.mu.Unlock()
		return src, nil
	}
	p.mu.Unlock()

	refreshToken, err := p.creds.RefreshToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// The source outlives this call, so it must not capture the request context.
	base := p.config().TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken})
	src := oauth2.ReuseTokenSource(nil, base)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sources[tenantID]; ok {
		return existing, nil
	}
	p.sources[tenantID] = src
	return src, nil
}
