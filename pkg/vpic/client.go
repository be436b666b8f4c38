// Package vpic provides a client for the NHTSA vPIC VIN decoder.
package vpic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/vehicle-resolver/internal/resilience"
	"github.com/sells-group/vehicle-resolver/pkg/httpcache"
)

const serviceName = "vpic"

// Client decodes VINs.
type Client interface {
	Decode(ctx context.Context, vin string) (*Decoded, error)
}

// Decoded holds the decoder fields used for weight estimation. vPIC returns
// every value as a string; empty means unknown.
type Decoded struct {
	Make         string `json:"Make"`
	Model        string `json:"Model"`
	ModelYear    string `json:"ModelYear"`
	Trim         string `json:"Trim"`
	BodyClass    string `json:"BodyClass"`
	VehicleType  string `json:"VehicleType"`
	GVWR         string `json:"GVWR"`
	CurbWeightLB string `json:"CurbWeightLB"`
	ErrorCode    string `json:"ErrorCode"`
	ErrorText    string `json:"ErrorText"`
}

type decodeResponse struct {
	Count   int       `json:"Count"`
	Message string    `json:"Message"`
	Results []Decoded `json:"Results"`
}

// Option configures the vPIC client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (override or testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithCache routes decodes through a shared response cache.
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

type httpClient struct {
	baseURL  string
	http     *http.Client
	cache    *httpcache.Cache
	cacheTTL time.Duration
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// NewClient creates a vPIC client. The decoder is public; no key is needed.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://vpic.nhtsa.dot.gov",
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(10, 10),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Decode(ctx context.Context, vin string) (*Decoded, error) {
	if vin == "" {
		return nil, eris.New("vpic: vin is required")
	}
	fullURL := fmt.Sprintf("%s/api/vehicles/DecodeVinValues/%s?format=json", c.baseURL, url.PathEscape(vin))

	body, ok := c.cache.Get(fullURL)
	if !ok {
		cfg := c.retry
		cfg.OnRetry = resilience.RetryLogger(serviceName, "decode")
		var err error
		body, err = resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, fullURL)
		})
		if err != nil {
			return nil, err
		}
	}

	var resp decodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "vpic: unmarshal decode")
	}
	if len(resp.Results) == 0 {
		return nil, eris.Errorf("vpic: no decode results for %s", vin)
	}
	if !ok {
		c.cache.Put(fullURL, body, c.cacheTTL)
	}

	d := resp.Results[0]
	trimFields(&d)
	return &d, nil
}

func (c *httpClient) do(ctx context.Context, fullURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "vpic: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "vpic: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "vpic: decode request")
	}
	defer resp.Body.Close() //nolint:errcheck

	httpcache.Observe(serviceName, resp.Header, nil)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "vpic: read body")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("vpic: decode: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return body, nil
}

func trimFields(d *Decoded) {
	for _, f := range []*string{&d.Make, &d.Model, &d.ModelYear, &d.Trim, &d.BodyClass, &d.VehicleType, &d.GVWR, &d.CurbWeightLB} {
		*f = strings.TrimSpace(*f)
	}
}
