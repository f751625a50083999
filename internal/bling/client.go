// Package bling is the HTTP client for the Bling ERP v3 API. It owns
// authentication, rate limiting, and retries so callers only see pages of raw
// records or a classified error.
package bling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/setalabs/blingsync/internal/core"
	apperrors "github.com/setalabs/blingsync/internal/errors"
	"github.com/setalabs/blingsync/internal/ratelimit"
)

const (
	// DefaultPageSize matches Bling's maximum page size.
	DefaultPageSize = 100

	defaultMaxRetries  = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second

	// maxResponseBytes bounds how much of a response body we read.
	maxResponseBytes = 8 << 20
)

// ClientConfig holds the tunables for the Bling API client.
type ClientConfig struct {
	BaseURL     string
	PageSize    int
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Logger      *slog.Logger
}

// Client fetches pages of raw records from Bling. It implements
// core.BlingClient.
type Client struct {
	httpClient *http.Client
	tokens     *TokenProvider
	limiter    *ratelimit.TokenBucket
	cfg        ClientConfig
	logger     *slog.Logger
}

// NewClient creates a Bling API client. A nil httpClient falls back to a
// client with a sane timeout.
func NewClient(httpClient *http.Client, tokens *TokenProvider, limiter *ratelimit.TokenBucket, cfg ClientConfig) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger.With("component", "bling_client"),
	}
}

// FetchPage retrieves one page of records for the requested kind. Transient
// upstream failures (429, 5xx, network errors) are retried with exponential
// backoff and jitter; authorization failures are returned immediately because
// retrying them only burns quota.
func (c *Client) FetchPage(ctx context.Context, req core.PageRequest) (*core.Page, error) {
	path, ok := collectionPath(req.Kind)
	if !ok {
		return nil, apperrors.Validationf("kind %q has no Bling collection", req.Kind)
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = c.cfg.PageSize
	}

	endpoint, err := c.buildURL(path, req, pageSize)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffWithJitter(c.cfg.BackoffBase, c.cfg.BackoffMax, attempt)
			c.logger.WarnContext(ctx, "retrying Bling page fetch",
				"tenant_id", req.TenantID, "kind", req.Kind, "page", req.Page,
				"attempt", attempt, "wait", wait.String(), "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		page, fetchErr := c.fetchOnce(ctx, req.TenantID, endpoint, pageSize)
		if fetchErr == nil {
			return page, nil
		}
		if !apperrors.IsTransientAPI(fetchErr) {
			return nil, fetchErr
		}
		lastErr = fetchErr
	}
	return nil, apperrors.Wrapf(lastErr, apperrors.ErrCodeTransientAPI,
		"bling page fetch failed after %d attempts", c.cfg.MaxRetries+1)
}

func (c *Client) buildURL(path string, req core.PageRequest, pageSize int) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse bling base url: %w", err)
	}
	u = u.JoinPath(path)

	q := u.Query()
	q.Set("pagina", strconv.Itoa(req.Page))
	q.Set("limite", strconv.Itoa(pageSize))
	if req.ChangedSince != nil {
		q.Set("dataAlteracaoInicial", req.ChangedSince.UTC().Format(changedSinceLayout))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchOnce(ctx context.Context, tenantID, endpoint string, pageSize int) (*core.Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "blingsync:ratelimit:"+tenantID); err != nil {
			return nil, err
		}
	}

	token, err := c.tokens.AccessToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build bling request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperrors.TransientAPI("bling request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.TransientAPI("read bling response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Falls through to decoding below.
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.tokens.Forget(tenantID)
		return nil, apperrors.Auth("bling rejected credentials: " + apiErrorMessage(body, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.TransientAPI(
			"bling returned "+strconv.Itoa(resp.StatusCode)+": "+apiErrorMessage(body, resp.StatusCode), nil)
	default:
		return nil, apperrors.Internalf("bling returned %d: %s", resp.StatusCode, apiErrorMessage(body, resp.StatusCode))
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, apperrors.TransientAPI("decode bling response", err)
	}

	records := make([]core.RawRecord, 0, len(list.Data))
	for _, raw := range list.Data {
		records = append(records, core.RawRecord(raw))
	}

	// Bling has no explicit continuation token; a full page means more may follow.
	return &core.Page{
		Records: records,
		HasMore: len(records) == pageSize,
	}, nil
}

func apiErrorMessage(body []byte, status int) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return http.StatusText(status)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
