package payload

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

const testVIN = "1HGCM82633A004352"

var fixedNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestBuilder() *Builder {
	return NewBuilder(nil, WithClock(func() time.Time { return fixedNow }))
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func intp(v int) *int        { return &v }

func TestBuild_AllEmptyIsNil(t *testing.T) {
	b := newTestBuilder()

	n, src := b.Build(testVIN, model.EnrichmentBundle{
		Summary: json.RawMessage(`{}`),
		Specs:   json.RawMessage(`{}`),
		History: []marketcheck.HistoryRecord{{}},
	})
	assert.Nil(t, n)
	assert.Equal(t, model.PayloadNone, src)

	n, src = b.Build(testVIN, model.EnrichmentBundle{})
	assert.Nil(t, n)
	assert.Equal(t, model.PayloadNone, src)
}

func TestBuild_ListingURLHeuristic(t *testing.T) {
	b := newTestBuilder()

	n, src := b.Build(testVIN, model.EnrichmentBundle{
		Summary: json.RawMessage(`{}`),
		Specs:   json.RawMessage(`{}`),
		History: []marketcheck.HistoryRecord{{ID: "h1", VDPURL: "https://dealer.example.com/2021-honda-accord-ex/"}},
	})
	require.NotNil(t, n)
	assert.Equal(t, model.PayloadFallbackURL, src)
	assert.Equal(t, testVIN, n.VIN)
	assert.Equal(t, 2021, *n.Year)
	assert.Equal(t, "Honda", n.Make)
	assert.Equal(t, "Accord", n.Model)
	assert.Equal(t, "EX", n.Trim)
	assert.Equal(t, "2021 Honda Accord EX", n.Heading)
	assert.Equal(t, "h1", n.ListingID)
}

func TestBuild_FieldPriority(t *testing.T) {
	b := newTestBuilder()

	n, src := b.Build(testVIN, model.EnrichmentBundle{
		Summary: json.RawMessage(`{"year":2003,"make":"Honda","price":9999,"miles":"151,000"}`),
		Specs:   json.RawMessage(`{"make":"HONDA","model":"Accord","trim":"EX"}`),
		History: []marketcheck.HistoryRecord{
			{ID: "newest", Price: f64(8500), SellerName: "Metro Motors", City: "Queens", State: "NY", LastSeenAt: i64(300)},
			{ID: "older", Price: f64(9500), LastSeenAt: i64(100)},
		},
	})
	require.NotNil(t, n)
	assert.Equal(t, model.PayloadFallback, src)

	// Identity: summary before specs.
	assert.Equal(t, 2003, *n.Year)
	assert.Equal(t, "Honda", n.Make)
	assert.Equal(t, "Accord", n.Model)
	assert.Equal(t, "EX", n.Trim)
	assert.Equal(t, "2003 Honda Accord EX", n.Heading)

	// Detail fields: latest history before summary.
	assert.Equal(t, 8500.0, *n.Price)
	assert.Equal(t, 151000, *n.Mileage)
	assert.Equal(t, "Metro Motors", n.DealerName)
	assert.Equal(t, "Queens", n.DealerCity)
	assert.Equal(t, "NY", n.DealerState)
	assert.Equal(t, "newest", n.ListingID)
}

func TestBuild_IdentityFromHistoryOnly(t *testing.T) {
	var recs []marketcheck.HistoryRecord
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":"h1","year":2019,"make":"Toyota","model":"Camry","trim":"SE",
		 "heading":"2019 Toyota Camry SE","price":18500,"last_seen_at":1700000000}
	]`), &recs))

	n, src := newTestBuilder().Build(testVIN, model.EnrichmentBundle{History: recs})
	require.NotNil(t, n)
	assert.Equal(t, model.PayloadFallback, src)
	require.NotNil(t, n.Year)
	assert.Equal(t, 2019, *n.Year)
	assert.Equal(t, "Toyota", n.Make)
	assert.Equal(t, "Camry", n.Model)
	assert.Equal(t, "SE", n.Trim)
	assert.Equal(t, "2019 Toyota Camry SE", n.Heading)
	assert.Equal(t, 18500.0, *n.Price)
}

func TestBuild_IdentityFromHistoryBuild(t *testing.T) {
	var recs []marketcheck.HistoryRecord
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":"h1","build":{"year":2017,"make":"Ford","model":"Escape","trim":"SE"},"last_seen_at":10}
	]`), &recs))

	n, src := newTestBuilder().Build(testVIN, model.EnrichmentBundle{History: recs})
	require.NotNil(t, n)
	assert.Equal(t, model.PayloadFallback, src)
	require.NotNil(t, n.Year)
	assert.Equal(t, 2017, *n.Year)
	assert.Equal(t, "Ford", n.Make)
	assert.Equal(t, "Escape", n.Model)
	assert.Equal(t, "SE", n.Trim)
}

func TestBuild_PriceOnlyIsUsable(t *testing.T) {
	n, src := newTestBuilder().Build(testVIN, model.EnrichmentBundle{
		History: []marketcheck.HistoryRecord{{Price: f64(4200)}},
	})
	require.NotNil(t, n)
	assert.Equal(t, model.PayloadFallback, src)
	assert.Equal(t, 4200.0, *n.Price)
	assert.Nil(t, n.Year)
	assert.Empty(t, n.Heading)
}

func TestBuild_UnparseableURLWithNothingElse(t *testing.T) {
	n, src := newTestBuilder().Build(testVIN, model.EnrichmentBundle{
		History: []marketcheck.HistoryRecord{{VDPURL: "https://dealer.example.com/inventory/12345"}},
	})
	// The URL itself is still usable data.
	require.NotNil(t, n)
	assert.Equal(t, model.PayloadFallback, src)
	assert.Nil(t, n.Year)
	assert.Equal(t, "https://dealer.example.com/inventory/12345", n.ListingURL)
}

func TestNormalize_DetailOverCandidate(t *testing.T) {
	b := newTestBuilder()

	candidate := &marketcheck.Listing{
		ID:    "abc",
		VIN:   testVIN,
		Price: f64(12500),
		Dist:  f64(4.2),
		Build: &marketcheck.Build{Year: intp(2003), Make: "Honda", Model: "Accord"},
	}
	detail := &marketcheck.Listing{
		ID:      "abc",
		VIN:     testVIN,
		Heading: "2003 Honda Accord EX Coupe",
		Price:   f64(11900),
		Miles:   f64(150321.6),
		VDPURL:  "https://metrohonda.example.com/used/abc",
		Source:  "metrohonda.example.com",
		Build:   &marketcheck.Build{Trim: "EX"},
		Dealer:  &marketcheck.Dealer{Name: "Metro Honda", City: "New York", State: "NY", Zip: "10001"},
		Media:   &marketcheck.Media{PhotoLinks: []string{"https://img.example.com/1.jpg", "https://img.example.com/2.jpg"}},
	}
	bundle := model.EnrichmentBundle{Specs: json.RawMessage(`{"trim":"LX","make":"Acura"}`)}

	n := b.Normalize(testVIN, detail, candidate, bundle)
	require.NotNil(t, n)
	assert.Equal(t, testVIN, n.VIN)
	assert.Equal(t, 2003, *n.Year)
	assert.Equal(t, "Honda", n.Make)
	assert.Equal(t, "Accord", n.Model)
	assert.Equal(t, "EX", n.Trim)
	assert.Equal(t, "2003 Honda Accord EX Coupe", n.Heading)
	assert.Equal(t, 11900.0, *n.Price)
	assert.Equal(t, 150322, *n.Mileage)
	assert.Equal(t, "Metro Honda", n.DealerName)
	assert.Equal(t, "10001", n.DealerZip)
	assert.Equal(t, "abc", n.ListingID)
	assert.Equal(t, "metrohonda.example.com", n.ListingSource)
	assert.Equal(t, "https://img.example.com/1.jpg", n.PhotoURL)
}

func TestNormalize_CandidateOnly(t *testing.T) {
	candidate := &marketcheck.Listing{ID: "abc", VIN: testVIN, Build: &marketcheck.Build{Year: intp(2003), Make: "Honda", Model: "Accord"}}

	n := newTestBuilder().Normalize(testVIN, nil, candidate, model.EnrichmentBundle{})
	assert.Equal(t, "2003 Honda Accord", n.Heading)
	assert.Nil(t, n.Price)
	assert.Nil(t, n.Mileage)
}

func TestNormalize_JSONNullsForMissingNumbers(t *testing.T) {
	n := newTestBuilder().Normalize(testVIN, nil, &marketcheck.Listing{ID: "abc", VIN: testVIN}, model.EnrichmentBundle{})
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"price":null`)
	assert.Contains(t, string(data), `"mileage":null`)
	assert.Contains(t, string(data), `"year":null`)
}

func TestLoadRules(t *testing.T) {
	r, err := LoadRules("")
	require.NoError(t, err)
	assert.NotEmpty(t, r.paths("year"))

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  make: [brand]\nstop_words: [preowned]\nmin_year: 1990\n"), 0644))

	r, err = LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"brand"}, r.paths("make"))
	assert.Equal(t, 1990, r.MinYear)

	_, err = LoadRules(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("stop_words: [a]\n"), 0644))
	_, err = LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fields")
}
