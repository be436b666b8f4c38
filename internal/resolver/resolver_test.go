package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/internal/payload"
	"github.com/sells-group/vehicle-resolver/internal/resultcache"
	"github.com/sells-group/vehicle-resolver/internal/secrets"
	"github.com/sells-group/vehicle-resolver/internal/store"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

const testVIN = "1HGCM82633A004352"

// provider fakes the listing API. Behavior may depend on the API key the
// client was built with.
type provider struct {
	search  func(key string, endpoint marketcheck.Endpoint, params url.Values) (*marketcheck.SearchResponse, error)
	listing *marketcheck.Listing
	summary json.RawMessage
	history []marketcheck.HistoryRecord
	failAll bool

	searchCalls  atomic.Int32
	listingCalls atomic.Int32
	mu           sync.Mutex
	keys         []string
}

type providerClient struct {
	p   *provider
	key string
}

var errUnavailable = &marketcheck.APIError{StatusCode: 503, Path: "/", Body: "down"}

func (c *providerClient) Search(_ context.Context, endpoint marketcheck.Endpoint, params url.Values) (*marketcheck.SearchResponse, error) {
	c.p.searchCalls.Add(1)
	if c.p.search == nil {
		return &marketcheck.SearchResponse{}, nil
	}
	return c.p.search(c.key, endpoint, params)
}

func (c *providerClient) Listing(context.Context, string) (*marketcheck.Listing, error) {
	c.p.listingCalls.Add(1)
	if c.p.listing == nil {
		return nil, &marketcheck.APIError{StatusCode: 404, Path: "/listing", Body: "not found"}
	}
	return c.p.listing, nil
}

func (c *providerClient) Summary(context.Context, string) (json.RawMessage, error) {
	if c.p.failAll {
		return nil, errUnavailable
	}
	return c.p.summary, nil
}

func (c *providerClient) Specs(context.Context, string) (json.RawMessage, error) {
	if c.p.failAll {
		return nil, errUnavailable
	}
	return nil, nil
}

func (c *providerClient) History(context.Context, string) ([]marketcheck.HistoryRecord, error) {
	if c.p.failAll {
		return nil, errUnavailable
	}
	return c.p.history, nil
}

func (p *provider) factory(key, _ string) marketcheck.Client {
	p.mu.Lock()
	p.keys = append(p.keys, key)
	p.mu.Unlock()
	return &providerClient{p: p, key: key}
}

type stubWeights struct {
	calls atomic.Int32

	// untilDone makes Estimate wait for its context to end.
	untilDone bool
	cancelled atomic.Bool
}

func (s *stubWeights) Estimate(ctx context.Context, _ string) model.WeightEstimate {
	s.calls.Add(1)
	if s.untilDone {
		<-ctx.Done()
		s.cancelled.Store(true)
		return model.WeightEstimate{Source: model.WeightUnavailable}
	}
	w := 3600
	return model.WeightEstimate{
		Weight:      &w,
		Source:      model.WeightDerived,
		Confidence:  model.ConfidenceMedium,
		FeeSchedule: model.FeeScheduleAuto,
	}
}

type mutableSource struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (s *mutableSource) Lookup(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[name]
	return v, ok, nil
}

func (s *mutableSource) set(name, value string) {
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
}

type harness struct {
	resolver *Resolver
	provider *provider
	weights  *stubWeights
	store    store.Store
	secrets  *secrets.Resolver
	source   *mutableSource
}

func newHarness(t *testing.T, p *provider) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "vehicles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	src := &mutableSource{values: map[string]string{secrets.MarketCheckAPIKey: "key-1"}}
	sec := secrets.NewResolver(src)
	weights := &stubWeights{}
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	r := New(sec, resultcache.New(st, resultcache.WithClock(now)), weights,
		payload.NewBuilder(nil, payload.WithClock(now)), p.factory)
	return &harness{resolver: r, provider: p, weights: weights, store: st, secrets: sec, source: src}
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func intp(v int) *int        { return &v }

func accordListing(id string) marketcheck.Listing {
	return marketcheck.Listing{
		ID:         id,
		VIN:        testVIN,
		Heading:    "2003 Honda Accord EX",
		Price:      f64(4995),
		Miles:      f64(182000),
		Dist:       f64(12.5),
		LastSeenAt: i64(1767225600),
		VDPURL:     "https://dealer.example.com/used/2003-honda-accord",
		Source:     "dealer.example.com",
		SellerType: "dealer",
		Build:      &marketcheck.Build{Year: intp(2003), Make: "Honda", Model: "Accord", Trim: "EX"},
		Dealer:     &marketcheck.Dealer{Name: "Bay Motors", City: "Oakland", State: "CA", Zip: "94607"},
	}
}

func TestResolve_FoundThenServedFromCache(t *testing.T) {
	candidate := accordListing("mc-1")
	detail := accordListing("mc-1")
	detail.Media = &marketcheck.Media{PhotoLinks: []string{"https://img.example.com/1.jpg"}}

	p := &provider{
		search: func(_ string, endpoint marketcheck.Endpoint, params url.Values) (*marketcheck.SearchResponse, error) {
			if endpoint == marketcheck.EndpointActive && params.Get("zip") == "94105" {
				return &marketcheck.SearchResponse{NumFound: 1, Listings: []marketcheck.Listing{candidate}}, nil
			}
			return &marketcheck.SearchResponse{}, nil
		},
		listing: &detail,
		summary: json.RawMessage(`{"make":"Honda","model":"Accord"}`),
	}
	h := newHarness(t, p)
	req := Request{VIN: testVIN, Zip: "94105", Radius: 100, Pick: model.PickNearest}

	res, err := h.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Found)
	require.NotNil(t, res.ListingID)
	assert.Equal(t, "mc-1", *res.ListingID)
	assert.Equal(t, model.SourceActiveZip, res.Extras.SearchSource)
	assert.Equal(t, model.PayloadListing, res.Extras.PayloadSource)
	require.Len(t, res.Extras.SearchAttempts, 1)
	assert.Equal(t, "active_zip", res.Extras.SearchAttempts[0].Strategy)

	require.NotNil(t, res.Payload)
	assert.Equal(t, testVIN, res.Payload.VIN)
	assert.Equal(t, "Honda", res.Payload.Make)
	assert.Equal(t, "Accord", res.Payload.Model)
	require.NotNil(t, res.Payload.Year)
	assert.Equal(t, 2003, *res.Payload.Year)
	assert.Equal(t, "Bay Motors", res.Payload.DealerName)
	assert.Equal(t, "https://img.example.com/1.jpg", res.Payload.PhotoURL)
	require.NotNil(t, res.VehicleSpecs.Weight)
	assert.Equal(t, 3600, *res.VehicleSpecs.Weight)
	require.NotNil(t, res.Extras.Enrichment)
	assert.Nil(t, res.Extras.Cache)

	searches, listings := p.searchCalls.Load(), p.listingCalls.Load()
	assert.Equal(t, int32(1), searches)
	assert.Equal(t, int32(1), listings)

	entry, err := h.store.GetVehicle(context.Background(), testVIN)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.SourceActiveZip, entry.SearchSource)
	assert.Equal(t, "mc-1", entry.ListingID)

	replay, err := h.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, searches, p.searchCalls.Load(), "replay must not search")
	assert.Equal(t, listings, p.listingCalls.Load(), "replay must not fetch detail")
	assert.Equal(t, int32(1), h.weights.calls.Load())

	require.NotNil(t, replay.Extras.Cache)
	assert.True(t, replay.Extras.Cache.Hit)
	assert.Equal(t, 1, replay.Extras.Cache.HitCount)
	assert.Equal(t, res.Payload, replay.Payload)
	assert.Equal(t, res.Extras.SearchAttempts, replay.Extras.SearchAttempts)
}

func TestResolve_CancelReachesConcurrentLookups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &provider{
		search: func(string, marketcheck.Endpoint, url.Values) (*marketcheck.SearchResponse, error) {
			cancel()
			return &marketcheck.SearchResponse{}, nil
		},
	}
	h := newHarness(t, p)
	h.weights.untilDone = true

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.resolver.Resolve(ctx, Request{VIN: testVIN, Radius: 100, Pick: model.PickNearest})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resolve did not return after the request was cancelled")
	}
	assert.True(t, h.weights.cancelled.Load())
}

func TestResolve_NotFound(t *testing.T) {
	p := &provider{}
	h := newHarness(t, p)

	res, err := h.resolver.Resolve(context.Background(), Request{VIN: testVIN, Radius: 100, Pick: model.PickNearest})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.False(t, res.Found)
	assert.Nil(t, res.Payload)
	assert.Nil(t, res.ListingID)
	assert.Equal(t, model.SourceNone, res.Extras.SearchSource)
	assert.Equal(t, model.PayloadNone, res.Extras.PayloadSource)
	assert.Len(t, res.Extras.SearchAttempts, 3, "zip strategy is skipped without a zip")
	assert.Equal(t, int32(0), p.listingCalls.Load())

	entry, err := h.store.GetVehicle(context.Background(), testVIN)
	require.NoError(t, err)
	assert.Nil(t, entry, "not-found results are not cached")
}

func TestResolve_DiscardsOtherVINs(t *testing.T) {
	other := accordListing("mc-9")
	other.VIN = "1HGCM82633A004353"
	p := &provider{
		search: func(string, marketcheck.Endpoint, url.Values) (*marketcheck.SearchResponse, error) {
			return &marketcheck.SearchResponse{NumFound: 1, Listings: []marketcheck.Listing{other}}, nil
		},
	}
	h := newHarness(t, p)

	res, err := h.resolver.Resolve(context.Background(), Request{VIN: testVIN, Radius: 100})
	require.NoError(t, err)
	assert.False(t, res.Found)
	for _, a := range res.Extras.SearchAttempts {
		require.NotNil(t, a.ResultCount)
		assert.Equal(t, 0, *a.ResultCount)
	}
}

func TestResolve_FallbackFromSummary(t *testing.T) {
	p := &provider{summary: json.RawMessage(`{"year":2003,"make":"Honda","model":"Accord","trim":"EX"}`)}
	h := newHarness(t, p)

	res, err := h.resolver.Resolve(context.Background(), Request{VIN: testVIN, Radius: 100})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Nil(t, res.ListingID)
	assert.Equal(t, model.SourceFallback, res.Extras.SearchSource)
	assert.Equal(t, model.PayloadFallback, res.Extras.PayloadSource)
	require.NotNil(t, res.Payload)
	assert.Equal(t, testVIN, res.Payload.VIN)
	assert.Nil(t, res.Payload.Price)
	assert.Nil(t, res.Payload.Mileage)

	entry, err := h.store.GetVehicle(context.Background(), testVIN)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.SourceFallback, entry.SearchSource)
	assert.True(t, entry.ExpiresAt.Equal(entry.CachedAt.Add(resultcache.DefaultHistoricalTTL)))
}

func TestResolve_UpstreamFailurePassesStatus(t *testing.T) {
	p := &provider{
		failAll: true,
		search: func(string, marketcheck.Endpoint, url.Values) (*marketcheck.SearchResponse, error) {
			return nil, errUnavailable
		},
	}
	h := newHarness(t, p)

	res, err := h.resolver.Resolve(context.Background(), Request{VIN: testVIN, Zip: "94105", Radius: 100})
	require.Error(t, err)
	assert.Nil(t, res)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 503, ue.HTTPStatus())
	assert.Len(t, ue.Attempts, 4)
}

func TestUpstreamError_DefaultsTo502(t *testing.T) {
	assert.Equal(t, 502, (&UpstreamError{}).HTTPStatus())
	assert.Equal(t, 502, (&UpstreamError{StatusCode: 200}).HTTPStatus())
	assert.Equal(t, 429, (&UpstreamError{StatusCode: 429}).HTTPStatus())
}

func TestResolve_MissingKey(t *testing.T) {
	p := &provider{}
	h := newHarness(t, p)
	h.source.set(secrets.MarketCheckAPIKey, "")

	_, err := h.resolver.Resolve(context.Background(), Request{VIN: testVIN, Radius: 100})
	require.Error(t, err)
	assert.True(t, IsCredential(err))
	assert.Equal(t, int32(0), p.searchCalls.Load())
}

func TestResolve_SecretStoreDown(t *testing.T) {
	p := &provider{}
	h := newHarness(t, p)
	h.source.err = errors.New("connection refused")

	_, err := h.resolver.Resolve(context.Background(), Request{VIN: testVIN, Radius: 100})
	require.Error(t, err)
	assert.True(t, IsCredential(err))
	assert.True(t, secrets.IsUnavailable(err))
	assert.Equal(t, int32(0), p.searchCalls.Load())
}

func TestResolve_RefreshesRotatedKey(t *testing.T) {
	match := accordListing("mc-2")
	p := &provider{
		search: func(key string, endpoint marketcheck.Endpoint, _ url.Values) (*marketcheck.SearchResponse, error) {
			if key != "key-2" {
				return nil, &marketcheck.APIError{StatusCode: 401, Path: string(endpoint), Body: "invalid api key"}
			}
			return &marketcheck.SearchResponse{NumFound: 1, Listings: []marketcheck.Listing{match}}, nil
		},
		listing: &match,
	}
	h := newHarness(t, p)

	// Warm the secret cache with the old key, then rotate it upstream.
	_, err := h.secrets.Resolve(context.Background(), secrets.MarketCheckAPIKey)
	require.NoError(t, err)
	h.source.set(secrets.MarketCheckAPIKey, "key-2")

	res, err := h.resolver.Resolve(context.Background(), Request{VIN: testVIN, Radius: 100})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, model.SourceActiveNational, res.Extras.SearchSource)
	assert.Len(t, res.Extras.SearchAttempts, 4)
	assert.Equal(t, 401, res.Extras.SearchAttempts[0].StatusCode)
	assert.Equal(t, []string{"key-1", "key-2"}, p.keys)
}

func TestResolve_AuthRejectedSameKeyNoRetry(t *testing.T) {
	p := &provider{
		search: func(_ string, endpoint marketcheck.Endpoint, _ url.Values) (*marketcheck.SearchResponse, error) {
			return nil, &marketcheck.APIError{StatusCode: 403, Path: string(endpoint), Body: "forbidden"}
		},
	}
	h := newHarness(t, p)

	_, err := h.resolver.Resolve(context.Background(), Request{VIN: testVIN, Radius: 100})
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 403, ue.HTTPStatus())
	assert.Equal(t, int32(3), p.searchCalls.Load())
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest(" 1hgcm82633a004352 ", "94105", "", "", 100, 500)
	require.NoError(t, err)
	assert.Equal(t, testVIN, req.VIN)
	assert.Equal(t, 100, req.Radius)
	assert.Equal(t, model.PickNearest, req.Pick)

	req, err = ParseRequest(testVIN, "", "250", "freshest", 100, 500)
	require.NoError(t, err)
	assert.Equal(t, 250, req.Radius)
	assert.Equal(t, model.PickFreshest, req.Pick)

	tests := []struct {
		name                   string
		vin, zip, radius, pick string
		field                  string
	}{
		{"short vin", "1HGCM", "", "", "", "vin"},
		{"long vin", testVIN + "12", "", "", "", "vin"},
		{"zip letters", testVIN, "9410A", "", "", "zip"},
		{"zip short", testVIN, "9410", "", "", "zip"},
		{"radius zero", testVIN, "", "0", "", "radius"},
		{"radius too big", testVIN, "", "501", "", "radius"},
		{"radius text", testVIN, "", "far", "", "radius"},
		{"bad pick", testVIN, "", "", "cheapest", "pick"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(tt.vin, tt.zip, tt.radius, tt.pick, 100, 500)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, IsValidation(err))
		})
	}
}
