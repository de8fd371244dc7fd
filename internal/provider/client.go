// Package provider calls the external news search API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsfeeds/internal/metrics"
	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
	"github.com/JakeFAU/newsfeeds/internal/policy/ratelimit"
)

const (
	// DefaultLimit is the number of articles requested per pair.
	DefaultLimit = 5
	// DefaultTimeout bounds one search request.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 8 << 20
)

// Config configures the search client.
type Config struct {
	BaseURL   string           `mapstructure:"base_url"`
	Timeout   time.Duration    `mapstructure:"timeout"`
	Limit     int              `mapstructure:"limit"`
	UserAgent string           `mapstructure:"user_agent"`
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
}

// Client implements newsfeed.Provider over HTTP.
type Client struct {
	http      *http.Client
	base      *url.URL
	limiter   *ratelimit.Limiter
	userAgent string
	logger    *zap.Logger
}

var _ newsfeed.Provider = (*Client)(nil)

// New builds a Client. A nil httpClient gets one bounded by cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("provider base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse provider base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("provider base url %q must be absolute", cfg.BaseURL)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:      httpClient,
		base:      base,
		limiter:   ratelimit.New(cfg.RateLimit),
		userAgent: cfg.UserAgent,
		logger:    logger.Named("provider"),
	}, nil
}

// Search requests up to limit articles for the pair. Transport failures,
// non-2xx responses, and malformed bodies are *newsfeed.ProviderError.
func (c *Client) Search(ctx context.Context, company, source string, limit int) (newsfeed.FetchResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := c.limiter.Wait(ctx, source); err != nil {
		return newsfeed.FetchResult{}, &newsfeed.ProviderError{Op: "throttle", Err: err}
	}

	start := time.Now()
	result, err := c.search(ctx, company, source, limit)
	metrics.ObserveProvider(time.Since(start), err)
	if err != nil {
		c.logger.Warn("search failed",
			zap.String("company", company),
			zap.String("source", source),
			zap.Error(err),
		)
		return newsfeed.FetchResult{}, err
	}
	c.logger.Debug("search completed",
		zap.String("company", company),
		zap.String("source", source),
		zap.Int("articles", len(result.Articles)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (c *Client) search(ctx context.Context, company, source string, limit int) (newsfeed.FetchResult, error) {
	endpoint := c.base.JoinPath("search")
	q := endpoint.Query()
	q.Set("company", company)
	q.Set("source", source)
	q.Set("limit", strconv.Itoa(limit))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return newsfeed.FetchResult{}, &newsfeed.ProviderError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return newsfeed.FetchResult{}, &newsfeed.ProviderError{Op: "request", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return newsfeed.FetchResult{}, &newsfeed.ProviderError{Op: "read body", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newsfeed.FetchResult{}, &newsfeed.ProviderError{
			Op:         "search",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", snippet(body)),
		}
	}

	var result newsfeed.FetchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return newsfeed.FetchResult{}, &newsfeed.ProviderError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}
	return result, nil
}

func snippet(body []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty body>"
	}
	return s
}
