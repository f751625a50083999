package config

import (
	"strings"
	"time"
)

// BlingConfig contains Bling API client configuration.
type BlingConfig struct {
	// BaseURL is the Bling v3 API root.
	BaseURL string `env:"BASE_URL" envDefault:"https://api.bling.com.br/Api/v3"`

	// TokenURL is the OAuth token endpoint used to refresh access tokens.
	TokenURL string `env:"TOKEN_URL" envDefault:"https://api.bling.com.br/Api/v3/oauth/token"`

	// ClientID and ClientSecret identify this application to Bling.
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	// PageSize is the records-per-page requested from Bling (max 100).
	PageSize int `env:"PAGE_SIZE" envDefault:"100"`

	// MaxRetries caps retries of a transient page fetch failure.
	MaxRetries int `env:"MAX_RETRIES" envDefault:"3"`

	// BackoffBase and BackoffMax bound the exponential retry backoff.
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"500ms"`
	BackoffMax  time.Duration `env:"BACKOFF_MAX"  envDefault:"10s"`

	// RequestsPerSecond is the sustained request rate shared by all
	// processes through the Redis token bucket.
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"3"`

	// Burst is the token bucket capacity.
	Burst int `env:"BURST" envDefault:"3"`
}

// Sanitize applies guardrails to Bling configuration values.
func (b *BlingConfig) Sanitize() {
	b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	b.TokenURL = strings.TrimSpace(b.TokenURL)

	if b.PageSize < 1 || b.PageSize > 100 {
		b.PageSize = 100
	}
	if b.MaxRetries < 0 {
		b.MaxRetries = 0
	}
	if b.BackoffBase <= 0 {
		b.BackoffBase = 500 * time.Millisecond
	}
	if b.BackoffMax < b.BackoffBase {
		b.BackoffMax = 10 * time.Second
	}
	if b.RequestsPerSecond <= 0 {
		b.RequestsPerSecond = 3
	}
	if b.Burst < 1 {
		b.Burst = 1
	}
}
