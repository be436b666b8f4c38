package search

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

// Query is one search request.
type Query struct {
	VIN    string
	Zip    string
	Radius int
	Pick   model.Pick
}

// Strategy is one step of the ordered search.
type Strategy struct {
	Name     model.SearchSource
	Endpoint marketcheck.Endpoint
	// Describe renders a human-readable summary for the attempt log.
	Describe func(q Query) string
	// Applies gates the strategy; inapplicable strategies leave no attempt.
	Applies func(q Query) bool
	// Params builds the query string, excluding the API key.
	Params func(q Query) url.Values
}

// Strategies is the fixed priority order: cheap and likely sources first,
// historical last.
var Strategies = []Strategy{
	{
		Name:     model.SourceActiveZip,
		Endpoint: marketcheck.EndpointActive,
		Describe: func(q Query) string {
			return fmt.Sprintf("active listings within %d mi of %s, nearest first", q.Radius, q.Zip)
		},
		Applies: hasZip,
		Params: func(q Query) url.Values {
			v := baseParams(q, "dist", "asc")
			v.Set("zip", q.Zip)
			v.Set("radius", strconv.Itoa(q.Radius))
			return v
		},
	},
	{
		Name:     model.SourceActiveNational,
		Endpoint: marketcheck.EndpointActive,
		Describe: func(Query) string { return "active listings nationwide, cheapest first" },
		Applies:  always,
		Params: func(q Query) url.Values {
			return baseParams(q, "price", "asc")
		},
	},
	{
		Name:     model.SourcePrivateSeller,
		Endpoint: marketcheck.EndpointPrivateSeller,
		Describe: func(q Query) string {
			if hasZip(q) {
				return fmt.Sprintf("private-seller listings within %d mi of %s, nearest first", q.Radius, q.Zip)
			}
			return "private-seller listings nationwide, cheapest first"
		},
		Applies: always,
		Params: func(q Query) url.Values {
			if !hasZip(q) {
				return baseParams(q, "price", "asc")
			}
			v := baseParams(q, "dist", "asc")
			v.Set("zip", q.Zip)
			v.Set("radius", strconv.Itoa(q.Radius))
			return v
		},
	},
	{
		Name:     model.SourceHistorical,
		Endpoint: marketcheck.EndpointHistorical,
		Describe: func(Query) string { return "historical listings, most recently seen first" },
		Applies:  always,
		Params: func(q Query) url.Values {
			return baseParams(q, "last_seen", "desc")
		},
	},
}

func hasZip(q Query) bool { return q.Zip != "" }

func always(Query) bool { return true }

func baseParams(q Query, sortBy, order string) url.Values {
	v := url.Values{}
	v.Set("vin", q.VIN)
	v.Set("sort_by", sortBy)
	v.Set("sort_order", order)
	return v
}
