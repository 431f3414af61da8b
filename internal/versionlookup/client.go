// Package versionlookup resolves beta and aurora build ids to the version
// string the product shipped under.
package versionlookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"crashproc/internal/config"
	"crashproc/internal/logger"
	"crashproc/internal/metrics"
	"crashproc/internal/rules"
	"crashproc/pkg/utils"
)

// Lookup errors.
var (
	ErrInvalidAPIURL        = errors.New("invalid version api url")
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
)

// maxResponseBytes bounds a version api response body.
const maxResponseBytes = 1024 * 1024

var _ rules.VersionResolver = (*Client)(nil)

// Response is the body returned by the version api.
type Response struct {
	Hits []struct {
		VersionString string `json:"version_string"`
	} `json:"hits"`
	Total int `json:"total"`
}

type cacheKey struct {
	product string
	channel string
	buildID int64
}

// Client queries the version api. Results, including misses, are cached.
type Client struct {
	httpClient *http.Client
	apiURL     string
	retry      config.RetryPolicy
	cache      *expirable.LRU[cacheKey, string]
	metrics    metrics.Sink
	log        *logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry policy.
func WithRetry(rp config.RetryPolicy) Option {
	return func(c *Client) { c.retry = rp }
}

// WithCache sets the result cache size and entry lifetime.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) { c.cache = expirable.NewLRU[cacheKey, string](size, nil, ttl) }
}

// WithMetrics records cache and request counters.
func WithMetrics(s metrics.Sink) Option {
	return func(c *Client) {
		if s != nil {
			c.metrics = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l.Component("versionlookup") }
}

// New creates a client for the api at apiURL.
func New(apiURL string, opts ...Option) (*Client, error) {
	if !utils.NewHTTPHelper().IsValidURL(apiURL) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAPIURL, apiURL)
	}

	defaults := config.Default().VersionLookup

	c := &Client{
		apiURL:  apiURL,
		retry:   defaults.Retry,
		metrics: metrics.Nop{},
		sleep:   sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.retry.GetTimeout()}
	}

	if c.cache == nil {
		c.cache = expirable.NewLRU[cacheKey, string](defaults.CacheSize, nil, defaults.CacheTTL())
	}

	return c, nil
}

// NewFromConfig creates a client from the version_lookup section. It
// returns nil when no api url is configured.
func NewFromConfig(cfg config.VersionLookupConfig, sink metrics.Sink, log *logger.Logger) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, nil
	}

	return New(cfg.APIURL,
		WithRetry(cfg.Retry),
		WithCache(cfg.CacheSize, cfg.CacheTTL()),
		WithMetrics(sink),
		WithLogger(log),
	)
}

// LookupVersion implements rules.VersionResolver. It returns "" when the
// api knows no version for the build.
func (c *Client) LookupVersion(ctx context.Context, product, channel string, buildID int64) (string, error) {
	key := cacheKey{product: product, channel: channel, buildID: buildID}
	if version, ok := c.cache.Get(key); ok {
		c.metrics.Incr("versionlookup.cache_hit")
		return version, nil
	}

	c.metrics.Incr("versionlookup.cache_miss")

	resp, err := c.fetch(ctx, key)
	if err != nil {
		c.metrics.Incr("versionlookup.error")
		return "", err
	}

	version := ""
	if len(resp.Hits) > 0 {
		version = resp.Hits[0].VersionString
	}

	c.cache.Add(key, version)

	return version, nil
}

// fetch performs the request, retrying transport errors and server
// errors according to the retry policy.
func (c *Client) fetch(ctx context.Context, key cacheKey) (*Response, error) {
	attempts := max(c.retry.MaxAttempts, 1)

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.sleep(ctx, c.retry.GetRetryDelay(attempt)); err != nil {
			return nil, err
		}

		resp, retryable, err := c.do(ctx, key)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !retryable {
			break
		}

		c.log.Debug("version lookup failed",
			"attempt", attempt,
			"build_id", key.buildID,
			"error", err,
		)
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, key cacheKey) (_ *Response, retryable bool, err error) {
	query := url.Values{}
	query.Set("product", key.product)
	query.Set("channel", key.channel)
	query.Set("build_id", strconv.FormatInt(key.buildID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = utils.NewHTTPHelper().BuildHeaders(nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}

	return &out, false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
