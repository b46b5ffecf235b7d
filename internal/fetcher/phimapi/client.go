// Package phimapi fetches catalog listings and movie detail from the
// phimapi-compatible upstream over HTTP JSON.
package phimapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
	"github.com/movieapp/moviecache-crawler/internal/metrics"
	"github.com/movieapp/moviecache-crawler/internal/policy/ratelimit"
)

// maxBodyBytes caps a single upstream response read.
const maxBodyBytes = 8 << 20

// Config controls Client behavior.
type Config struct {
	BaseURL        string
	ListPath       string
	DetailPath     string
	PageLimit      int
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client implements catalog.Fetcher against the upstream catalog API.
type Client struct {
	cfg     Config
	httpc   *http.Client
	limiter *ratelimit.Limiter
	retry   *retryPolicy
	logger  *zap.Logger
}

// listEnvelope is the upstream listing response shape.
type listEnvelope struct {
	Status     bool                  `json:"status"`
	Msg        string                `json:"msg"`
	Items      []catalog.ListingItem `json:"items"`
	Pagination struct {
		CurrentPage int `json:"currentPage"`
		TotalPages  int `json:"totalPages"`
	} `json:"pagination"`
}

// New constructs a Client.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		logger:  logger,
	}
}

// ListPage fetches one page of the catalog listing. A false upstream status
// yields an empty page rather than an error so pagination can stop cleanly.
func (c *Client) ListPage(ctx context.Context, page int) (catalog.ListingPage, error) {
	endpoint := fmt.Sprintf("%s%s?page=%d&limit=%d",
		c.cfg.BaseURL, c.cfg.ListPath, page, c.cfg.PageLimit)

	body, err := c.get(ctx, "list", endpoint)
	if err != nil {
		return catalog.ListingPage{}, catalog.NewFetchError(endpoint, err)
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return catalog.ListingPage{}, catalog.NewFetchError(endpoint, fmt.Errorf("decode listing: %w", err))
	}
	if !envelope.Status {
		c.logger.Warn("listing returned false status",
			zap.Int("page", page), zap.String("msg", envelope.Msg))
		return catalog.ListingPage{Page: page, Raw: body}, nil
	}

	return catalog.ListingPage{
		Items:      envelope.Items,
		Page:       page,
		TotalPages: envelope.Pagination.TotalPages,
		Raw:        body,
	}, nil
}

// Detail fetches the full document for one movie by slug.
func (c *Client) Detail(ctx context.Context, slug string) (catalog.DetailDocument, error) {
	endpoint := fmt.Sprintf("%s%s/%s", c.cfg.BaseURL, c.cfg.DetailPath, url.PathEscape(slug))

	body, err := c.get(ctx, "detail", endpoint)
	if err != nil {
		return catalog.DetailDocument{}, catalog.NewFetchError(endpoint, err)
	}

	var doc catalog.DetailDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return catalog.DetailDocument{}, catalog.NewFetchError(endpoint, fmt.Errorf("decode detail: %w", err))
	}
	if !doc.Status {
		return catalog.DetailDocument{}, catalog.NewFetchError(endpoint,
			fmt.Errorf("upstream rejected slug %q: %s", slug, doc.Msg))
	}
	return doc, nil
}

func (c *Client) get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, rawURL); err != nil {
				return nil, err
			}
		}

		body, err := c.doOnce(ctx, endpoint, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !c.retry.ShouldRetry(err, attempt+1) {
			return nil, lastErr
		}
		backoff := c.retry.Backoff(attempt)
		c.logger.Debug("retrying upstream request",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry wait: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

func (c *Client) doOnce(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side only

	metrics.ObserveFetch(endpoint, time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &statusError{Code: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// statusError reports a non-2xx upstream response.
type statusError struct {
	Code int
	URL  string
}

func (e *statusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.Code) + " from " + e.URL
}

// Retryable reports whether the status suggests a transient condition.
func (e *statusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
