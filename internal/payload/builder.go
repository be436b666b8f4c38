// Package payload assembles the normalized vehicle payload, either from a
// selected listing or, when no listing exists, from enrichment data and
// listing URLs.
package payload

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

var (
	identityFields = []string{"year", "make", "model", "trim", "heading"}
	detailFields   = []string{"mileage", "price", "dealer_name", "dealer_city", "dealer_state", "dealer_zip", "seller_type", "listing_id", "listing_source", "listing_url", "photo_url"}
)

// Option configures a Builder.
type Option func(*Builder)

// WithClock replaces the time source used to bound plausible model years.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.nowFunc = now
	}
}

// Builder turns provider payloads into a NormalizedListing.
type Builder struct {
	rules   *Rules
	nowFunc func() time.Time
}

// NewBuilder creates a builder. A nil rules uses the embedded table.
func NewBuilder(rules *Rules, opts ...Option) *Builder {
	if rules == nil {
		rules = DefaultRules()
	}
	b := &Builder{rules: rules, nowFunc: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Normalize builds the payload for a selected listing. Detail wins over the
// search candidate; gaps are back-filled from the enrichment bundle.
func (b *Builder) Normalize(vin string, detail, candidate *marketcheck.Listing, bundle model.EnrichmentBundle) *model.NormalizedListing {
	d, c := marshalDoc(detail), marshalDoc(candidate)
	summary, specs, history := bundleDocs(bundle)

	n := &model.NormalizedListing{VIN: vin}
	b.fill(n, identityFields, []string{d, c, summary, specs, history})
	b.fill(n, detailFields, []string{d, c, history, summary, specs})
	deriveHeading(n)
	return n
}

// Build assembles a best-effort payload when no listing was found. It
// returns nil and PayloadNone when no source has anything usable.
func (b *Builder) Build(vin string, bundle model.EnrichmentBundle) (*model.NormalizedListing, model.PayloadSource) {
	summary, specs, history := bundleDocs(bundle)

	n := &model.NormalizedListing{VIN: vin}
	b.fill(n, identityFields, []string{summary, specs, history})
	b.fill(n, detailFields, []string{history, summary, specs})

	source := model.PayloadFallback
	if !n.HasIdentity() {
		if id := b.rules.ParseListingURL(n.ListingURL, b.nowFunc()); id != nil {
			year := id.Year
			n.Year = &year
			n.Make, n.Model, n.Trim = id.Make, id.Model, id.Trim
			source = model.PayloadFallbackURL
			zap.L().Debug("payload: identity parsed from listing url",
				zap.String("vin", vin),
				zap.String("url", n.ListingURL),
			)
		}
	}

	if !usable(n) {
		return nil, model.PayloadNone
	}
	deriveHeading(n)
	return n, source
}

// fill sets each empty field from the first doc that has it.
func (b *Builder) fill(n *model.NormalizedListing, fields []string, docs []string) {
	docs = compact(docs...)
	for _, field := range fields {
		switch field {
		case "year":
			if n.Year == nil {
				if f := b.number(docs, field); f != nil && *f >= 1900 && *f <= float64(b.nowFunc().Year()+2) {
					y := int(*f)
					n.Year = &y
				}
			}
		case "mileage":
			if n.Mileage == nil {
				if f := b.number(docs, field); f != nil && *f >= 0 {
					m := int(math.Round(*f))
					n.Mileage = &m
				}
			}
		case "price":
			if n.Price == nil {
				if f := b.number(docs, field); f != nil && *f > 0 {
					n.Price = f
				}
			}
		default:
			if dst := stringField(n, field); dst != nil && *dst == "" {
				*dst = b.text(docs, field)
			}
		}
	}
}

func (b *Builder) text(docs []string, field string) string {
	for _, doc := range docs {
		for _, path := range b.rules.paths(field) {
			res := gjson.Get(doc, path)
			if !res.Exists() || res.Type == gjson.Null || res.IsObject() || res.IsArray() {
				continue
			}
			if s := strings.TrimSpace(res.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func (b *Builder) number(docs []string, field string) *float64 {
	for _, doc := range docs {
		for _, path := range b.rules.paths(field) {
			res := gjson.Get(doc, path)
			switch res.Type {
			case gjson.Number:
				f := res.Float()
				return &f
			case gjson.String:
				s := strings.ReplaceAll(strings.TrimSpace(res.String()), ",", "")
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					return &f
				}
			}
		}
	}
	return nil
}

func stringField(n *model.NormalizedListing, field string) *string {
	switch field {
	case "make":
		return &n.Make
	case "model":
		return &n.Model
	case "trim":
		return &n.Trim
	case "heading":
		return &n.Heading
	case "dealer_name":
		return &n.DealerName
	case "dealer_city":
		return &n.DealerCity
	case "dealer_state":
		return &n.DealerState
	case "dealer_zip":
		return &n.DealerZip
	case "seller_type":
		return &n.SellerType
	case "listing_id":
		return &n.ListingID
	case "listing_source":
		return &n.ListingSource
	case "listing_url":
		return &n.ListingURL
	case "photo_url":
		return &n.PhotoURL
	default:
		return nil
	}
}

// deriveHeading labels the vehicle from its identity when no heading exists.
func deriveHeading(n *model.NormalizedListing) {
	if n.Heading != "" {
		return
	}
	var parts []string
	if n.Year != nil {
		parts = append(parts, strconv.Itoa(*n.Year))
	}
	for _, p := range []string{n.Make, n.Model, n.Trim} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	n.Heading = strings.Join(parts, " ")
}

func usable(n *model.NormalizedListing) bool {
	return n.HasIdentity() || n.Mileage != nil || n.Price != nil ||
		n.DealerName != "" || n.ListingURL != ""
}

func bundleDocs(b model.EnrichmentBundle) (summary, specs, history string) {
	if latest := b.LatestHistory(); latest != nil {
		history = marshalDoc(latest)
	}
	return string(b.Summary), string(b.Specs), history
}

func marshalDoc(v any) string {
	switch t := v.(type) {
	case *marketcheck.Listing:
		if t == nil {
			return ""
		}
	case *marketcheck.HistoryRecord:
		if t == nil {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func compact(docs ...string) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d != "" && gjson.Valid(d) {
			out = append(out, d)
		}
	}
	return out
}
