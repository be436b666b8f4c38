// Package marketcheck provides a client for the MarketCheck vehicle listing
// API: active, private-seller and historical search, listing detail, and
// VIN summary/specs/history lookups.
package marketcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/vehicle-resolver/internal/resilience"
	"github.com/sells-group/vehicle-resolver/pkg/httpcache"
)

const serviceName = "marketcheck"

// Client defines the MarketCheck operations used for VIN resolution.
type Client interface {
	// Search runs one of the listing search endpoints.
	Search(ctx context.Context, endpoint Endpoint, params url.Values) (*SearchResponse, error)
	// Listing fetches full detail for a listing id.
	Listing(ctx context.Context, id string) (*Listing, error)
	// Summary fetches the free-form VIN summary payload.
	Summary(ctx context.Context, vin string) (json.RawMessage, error)
	// Specs fetches the free-form VIN specification payload.
	Specs(ctx context.Context, vin string) (json.RawMessage, error)
	// History fetches past listings of a VIN.
	History(ctx context.Context, vin string) ([]HistoryRecord, error)
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketcheck: %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsAuthError reports whether err is a 401 or 403 from the API.
func IsAuthError(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// Option configures the MarketCheck client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (override or testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithCache routes GETs through a shared response cache.
func WithCache(cache *httpcache.Cache, ttl time.Duration) Option {
	return func(c *httpClient) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithLimiter shares a rate limiter across client instances.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithRateLimitHook receives quota telemetry from every response.
func WithRateLimitHook(hook httpcache.RateLimitHook) Option {
	return func(c *httpClient) {
		c.rateHook = hook
	}
}

// WithRows sets the page size for search endpoints.
func WithRows(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.rows = n
		}
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	cache    *httpcache.Cache
	cacheTTL time.Duration
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	rateHook httpcache.RateLimitHook
	rows     int
}

// NewClient creates a MarketCheck client. Construction is cheap; share the
// HTTP client, cache and limiter across instances through options.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://mc-api.marketcheck.com",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
		rows:    50,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, endpoint Endpoint, params url.Values) (*SearchResponse, error) {
	q := cloneValues(params)
	if q.Get("rows") == "" {
		q.Set("rows", fmt.Sprint(c.rows))
	}

	body, err := c.get(ctx, string(endpoint), q)
	if err != nil {
		return nil, err
	}

	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(err, "marketcheck: unmarshal %s", endpoint)
	}
	return &resp, nil
}

func (c *httpClient) Listing(ctx context.Context, id string) (*Listing, error) {
	if id == "" {
		return nil, eris.New("marketcheck: listing id is required")
	}
	body, err := c.get(ctx, "/v2/listing/car/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var l Listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, eris.Wrap(err, "marketcheck: unmarshal listing")
	}
	return &l, nil
}

func (c *httpClient) Summary(ctx context.Context, vin string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/v2/vin/car/"+url.PathEscape(vin)+"/summary")
}

func (c *httpClient) Specs(ctx context.Context, vin string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/v2/specs/car/"+url.PathEscape(vin))
}

func (c *httpClient) History(ctx context.Context, vin string) ([]HistoryRecord, error) {
	body, err := c.get(ctx, "/v2/history/car/"+url.PathEscape(vin), nil)
	if err != nil {
		return nil, err
	}

	var records []HistoryRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, eris.Wrap(err, "marketcheck: unmarshal history")
	}
	return records, nil
}

func (c *httpClient) getRaw(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, eris.Errorf("marketcheck: %s: invalid JSON payload", path)
	}
	return json.RawMessage(body), nil
}

// get performs a cached, rate-limited, retried GET and returns the body of
// a 200 response.
func (c *httpClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	q := cloneValues(params)
	q.Set("api_key", c.apiKey)
	fullURL := c.baseURL + path + "?" + q.Encode()

	if body, ok := c.cache.Get(fullURL); ok {
		zap.L().Debug("marketcheck: cache hit", zap.String("path", path))
		return body, nil
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger(serviceName, path)
	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, path, fullURL)
	})
	if err != nil {
		return nil, err
	}

	c.cache.Put(fullURL, body, c.cacheTTL)
	return body, nil
}

func (c *httpClient) do(ctx context.Context, path, fullURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "marketcheck: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "marketcheck: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "marketcheck: %s request", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	httpcache.Observe(serviceName, resp.Header, c.rateHook)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "marketcheck: %s read body", path)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Path: path, Body: truncate(string(body), 300)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}
	return body, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
