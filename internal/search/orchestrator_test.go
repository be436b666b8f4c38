package search

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

const testVIN = "1HGCM82633A004352"

type searchCall struct {
	endpoint marketcheck.Endpoint
	params   url.Values
}

// fakeClient answers searches by sort_by so strategies sharing an endpoint
// can be told apart.
type fakeClient struct {
	mu        sync.Mutex
	calls     []searchCall
	responses map[string]*marketcheck.SearchResponse
	errors    map[string]error
	block     bool
}

func key(endpoint marketcheck.Endpoint, params url.Values) string {
	k := string(endpoint) + "|" + params.Get("sort_by")
	if params.Get("zip") != "" {
		k += "|zip"
	}
	return k
}

func (f *fakeClient) Search(ctx context.Context, endpoint marketcheck.Endpoint, params url.Values) (*marketcheck.SearchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{endpoint: endpoint, params: params})
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	k := key(endpoint, params)
	if err, ok := f.errors[k]; ok {
		return nil, err
	}
	if resp, ok := f.responses[k]; ok {
		return resp, nil
	}
	return &marketcheck.SearchResponse{}, nil
}

func (f *fakeClient) Listing(context.Context, string) (*marketcheck.Listing, error) {
	return nil, nil
}

func (f *fakeClient) Summary(context.Context, string) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeClient) Specs(context.Context, string) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeClient) History(context.Context, string) ([]marketcheck.HistoryRecord, error) {
	return nil, nil
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func listing(id string, dist *float64) marketcheck.Listing {
	return marketcheck.Listing{ID: id, VIN: testVIN, Dist: dist}
}

func TestSearch_ZipHitShortCircuits(t *testing.T) {
	fc := &fakeClient{responses: map[string]*marketcheck.SearchResponse{
		"/v2/search/car/active|dist|zip": {NumFound: 1, Listings: []marketcheck.Listing{listing("abc", f64(3.2))}},
	}}
	o := NewOrchestrator(fc)

	out := o.Search(context.Background(), Query{VIN: "1HGCM82633A004352", Zip: "32901", Radius: 100, Pick: model.PickNearest})

	require.True(t, out.Found())
	assert.Equal(t, "abc", out.Candidate.ID)
	assert.Equal(t, model.SourceActiveZip, out.Strategy)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, "active_zip", out.Attempts[0].Strategy)
	require.NotNil(t, out.Attempts[0].ResultCount)
	assert.Equal(t, 1, *out.Attempts[0].ResultCount)
	require.NotNil(t, out.Candidate.Dist)
	assert.Equal(t, 3.2, *out.Candidate.Dist)

	require.Len(t, fc.calls, 1)
	p := fc.calls[0].params
	assert.Equal(t, "1HGCM82633A004352", p.Get("vin"))
	assert.Equal(t, "32901", p.Get("zip"))
	assert.Equal(t, "100", p.Get("radius"))
	assert.Equal(t, "asc", p.Get("sort_order"))
	for _, c := range fc.calls {
		assert.False(t, c.endpoint == marketcheck.EndpointActive && c.params.Get("zip") == "",
			"national search must not run after a zip hit")
		assert.NotEqual(t, marketcheck.EndpointHistorical, c.endpoint)
	}
}

func TestSearch_NoZipSkipsZipStrategy(t *testing.T) {
	fc := &fakeClient{responses: map[string]*marketcheck.SearchResponse{
		"/v2/search/car/recents|last_seen": {Listings: []marketcheck.Listing{listing("old", nil)}},
	}}
	out := NewOrchestrator(fc).Search(context.Background(), Query{VIN: testVIN, Radius: 100})

	require.True(t, out.Found())
	assert.Equal(t, model.SourceHistorical, out.Strategy)

	var names []string
	for _, a := range out.Attempts {
		names = append(names, a.Strategy)
	}
	assert.Equal(t, []string{"active_national", "private_seller", "historical"}, names)
	assert.Equal(t, 0, *out.Attempts[0].ResultCount)

	// Private seller without zip sorts by price.
	assert.Equal(t, "price", fc.calls[1].params.Get("sort_by"))
	assert.Empty(t, fc.calls[1].params.Get("zip"))
	assert.Equal(t, "desc", fc.calls[2].params.Get("sort_order"))
}

func TestSearch_FailureIsRecordedAndSearchContinues(t *testing.T) {
	fc := &fakeClient{
		errors: map[string]error{
			"/v2/search/car/active|dist|zip": &marketcheck.APIError{StatusCode: 422, Path: "/v2/search/car/active", Body: "invalid zip"},
		},
		responses: map[string]*marketcheck.SearchResponse{
			"/v2/search/car/active|price": {Listings: []marketcheck.Listing{listing("nat", nil)}},
		},
	}
	out := NewOrchestrator(fc).Search(context.Background(), Query{VIN: testVIN, Zip: "00000", Radius: 50})

	require.True(t, out.Found())
	assert.Equal(t, model.SourceActiveNational, out.Strategy)
	require.Len(t, out.Attempts, 2)
	assert.Contains(t, out.Attempts[0].Error, "invalid zip")
	assert.Equal(t, 422, out.Attempts[0].StatusCode)
	assert.Nil(t, out.Attempts[0].ResultCount)
	assert.False(t, out.AllFailed())
}

func TestSearch_AllFailed(t *testing.T) {
	apiErr := &marketcheck.APIError{StatusCode: 503, Path: "x"}
	fc := &fakeClient{errors: map[string]error{
		"/v2/search/car/active|price":      apiErr,
		"/v2/search/car/fsbo/active|price": apiErr,
		"/v2/search/car/recents|last_seen": &marketcheck.APIError{StatusCode: 429, Path: "y"},
	}}
	out := NewOrchestrator(fc).Search(context.Background(), Query{VIN: testVIN, Radius: 100})

	assert.False(t, out.Found())
	assert.Equal(t, model.SourceNone, out.Strategy)
	assert.True(t, out.AllFailed())
	assert.Equal(t, 429, out.UpstreamStatus())
	assert.False(t, out.AuthRejected())
}

func TestSearch_AuthRejected(t *testing.T) {
	fc := &fakeClient{errors: map[string]error{
		"/v2/search/car/active|price": &marketcheck.APIError{StatusCode: 401, Path: "x"},
	}}
	out := NewOrchestrator(fc).Search(context.Background(), Query{VIN: testVIN, Radius: 100})
	assert.True(t, out.AuthRejected())
}

func TestSearch_MismatchedVINDiscarded(t *testing.T) {
	fc := &fakeClient{responses: map[string]*marketcheck.SearchResponse{
		"/v2/search/car/active|price": {Listings: []marketcheck.Listing{{ID: "wrong", VIN: "1HGCM82633A004353"}}},
	}}
	out := NewOrchestrator(fc).Search(context.Background(), Query{VIN: testVIN, Radius: 100})

	assert.False(t, out.Found())
	assert.Equal(t, 0, *out.Attempts[0].ResultCount)
	assert.Len(t, out.Attempts, 3)
	assert.False(t, out.AllFailed())
}

func TestSearch_AttemptTimeout(t *testing.T) {
	fc := &fakeClient{block: true}
	o := NewOrchestrator(fc, WithAttemptTimeout(10*time.Millisecond))

	out := o.Search(context.Background(), Query{VIN: testVIN, Radius: 100})
	assert.False(t, out.Found())
	require.Len(t, out.Attempts, 3)
	for _, a := range out.Attempts {
		assert.Contains(t, a.Error, "deadline exceeded")
	}
}

func TestSearch_CancelledContextStops(t *testing.T) {
	fc := &fakeClient{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewOrchestrator(fc).Search(ctx, Query{VIN: testVIN, Zip: "10001", Radius: 100})
	assert.Empty(t, out.Attempts)
	assert.Empty(t, fc.calls)
}

func TestSearch_Observer(t *testing.T) {
	fc := &fakeClient{}
	var seen []string
	o := NewOrchestrator(fc, WithObserver(func(a model.Attempt, _ time.Duration) {
		seen = append(seen, a.Strategy)
	}))
	o.Search(context.Background(), Query{VIN: testVIN, Zip: "10001", Radius: 100})
	assert.Equal(t, []string{"active_zip", "active_national", "private_seller", "historical"}, seen)
}

func TestSelect(t *testing.T) {
	candidates := []marketcheck.Listing{
		{ID: "nodist", LastSeenAt: i64(300)},
		{ID: "far", Dist: f64(90), LastSeenAt: i64(100)},
		{ID: "near", Dist: f64(5), LastSeenAt: i64(200)},
		{ID: "near-tie", Dist: f64(5), LastSeenAt: i64(50)},
	}

	assert.Equal(t, "near", Select(candidates, model.PickNearest).ID)
	assert.Equal(t, "nodist", Select(candidates, model.PickFreshest).ID)
	assert.Nil(t, Select(nil, model.PickNearest))

	onlyUnknown := []marketcheck.Listing{{ID: "a"}, {ID: "b"}}
	assert.Equal(t, "a", Select(onlyUnknown, model.PickNearest).ID)
	assert.Equal(t, "a", Select(onlyUnknown, model.PickFreshest).ID)
}
