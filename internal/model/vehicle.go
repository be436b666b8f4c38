package model

import (
	"encoding/json"
	"time"

	"github.com/sells-group/vehicle-resolver/pkg/marketcheck"
)

// SearchSource names the strategy (or fallback path) that produced a result.
type SearchSource string

const (
	SourceActiveZip      SearchSource = "active_zip"
	SourceActiveNational SearchSource = "active_national"
	SourcePrivateSeller  SearchSource = "private_seller"
	SourceHistorical     SearchSource = "historical"
	SourceFallback       SearchSource = "fallback"
	SourceNone           SearchSource = "none"
)

// IsLive reports whether the source reflects a currently active offering.
func (s SearchSource) IsLive() bool {
	switch s {
	case SourceActiveZip, SourceActiveNational, SourcePrivateSeller:
		return true
	default:
		return false
	}
}

// PayloadSource describes how the normalized payload was assembled.
type PayloadSource string

const (
	PayloadListing     PayloadSource = "listing"
	PayloadFallback    PayloadSource = "fallback"
	PayloadFallbackURL PayloadSource = "fallback_url" // identity parsed from a listing URL
	PayloadNone        PayloadSource = "none"
)

// Pick selects a candidate within one strategy's result set.
type Pick string

const (
	PickNearest  Pick = "nearest"
	PickFreshest Pick = "freshest"
)

// ParsePick maps a query value to a Pick. Empty means nearest.
func ParsePick(s string) (Pick, bool) {
	switch Pick(s) {
	case "", PickNearest:
		return PickNearest, true
	case PickFreshest:
		return PickFreshest, true
	default:
		return "", false
	}
}

// NormalizedListing is the canonical vehicle payload. Numeric fields are
// nullable so absence is explicit.
type NormalizedListing struct {
	VIN           string   `json:"vin"`
	Year          *int     `json:"year"`
	Make          string   `json:"make"`
	Model         string   `json:"model"`
	Trim          string   `json:"trim"`
	Heading       string   `json:"heading"`
	Mileage       *int     `json:"mileage"`
	Price         *float64 `json:"price"`
	DealerName    string   `json:"dealer_name"`
	DealerCity    string   `json:"dealer_city"`
	DealerState   string   `json:"dealer_state"`
	DealerZip     string   `json:"dealer_zip"`
	SellerType    string   `json:"seller_type"`
	ListingID     string   `json:"listing_id"`
	ListingSource string   `json:"listing_source"`
	ListingURL    string   `json:"listing_url"`
	PhotoURL      string   `json:"photo_url"`
}

// HasIdentity reports whether any of the core identity fields is known.
func (n *NormalizedListing) HasIdentity() bool {
	return n.Year != nil || n.Make != "" || n.Model != "" || n.Trim != "" || n.Heading != ""
}

// EnrichmentBundle carries the optional VIN-level payloads. Each part is
// independently present or absent.
type EnrichmentBundle struct {
	Summary json.RawMessage             `json:"summary,omitempty"`
	Specs   json.RawMessage             `json:"specs,omitempty"`
	History []marketcheck.HistoryRecord `json:"history,omitempty"`
}

// Empty reports whether no enrichment source returned anything.
func (b EnrichmentBundle) Empty() bool {
	return len(b.Summary) == 0 && len(b.Specs) == 0 && len(b.History) == 0
}

// LatestHistory returns the newest history record, or nil.
func (b EnrichmentBundle) LatestHistory() *marketcheck.HistoryRecord {
	if len(b.History) == 0 {
		return nil
	}
	return &b.History[0]
}

// WeightSource describes where a weight figure came from.
type WeightSource string

const (
	WeightExact       WeightSource = "exact"
	WeightDerived     WeightSource = "derived"
	WeightUnavailable WeightSource = "unavailable"
)

// Confidence grades a weight estimate.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceNone   Confidence = "none"
)

// FeeSchedule is the registration fee table a vehicle falls under.
type FeeSchedule string

const (
	FeeScheduleAuto  FeeSchedule = "auto"
	FeeScheduleTruck FeeSchedule = "truck"
)

// WeightDetail records how a derived weight was computed.
type WeightDetail struct {
	Factor       *float64 `json:"factor"`
	Reasoning    string   `json:"reasoning,omitempty"`
	GVWRClass    string   `json:"gvwr_class,omitempty"`
	GVWRMin      *int     `json:"gvwr_min"`
	GVWRMax      *int     `json:"gvwr_max"`
	GVWRMidpoint *float64 `json:"gvwr_midpoint"`
	BodyClass    string   `json:"body_class,omitempty"`
	VehicleType  string   `json:"vehicle_type,omitempty"`
}

// WeightEstimate is the curb weight outcome for one VIN.
type WeightEstimate struct {
	Weight      *int         `json:"weight"`
	Source      WeightSource `json:"source"`
	Confidence  Confidence   `json:"confidence"`
	FeeSchedule FeeSchedule  `json:"fee_schedule"`
	Detail      WeightDetail `json:"detail"`
}

// UnavailableWeight is the estimate returned when nothing can be determined.
func UnavailableWeight() WeightEstimate {
	return WeightEstimate{
		Source:      WeightUnavailable,
		Confidence:  ConfidenceNone,
		FeeSchedule: FeeScheduleAuto,
	}
}

// Attempt is one executed search strategy.
type Attempt struct {
	Strategy    string `json:"strategy"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
	ResultCount *int   `json:"resultCount"`
	Error       string `json:"error,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
}

// Resolution is the response envelope for one VIN.
type Resolution struct {
	OK           bool               `json:"ok"`
	Found        bool               `json:"found"`
	VIN          string             `json:"vin"`
	ListingID    *string            `json:"listing_id"`
	Payload      *NormalizedListing `json:"payload"`
	VehicleSpecs WeightEstimate     `json:"vehicleSpecs"`
	Extras       Extras             `json:"extras"`
}

// Extras carries provenance alongside the payload.
type Extras struct {
	SearchSource   SearchSource      `json:"search_source"`
	SearchAttempts []Attempt         `json:"search_attempts"`
	PayloadSource  PayloadSource     `json:"payload_source"`
	Enrichment     *EnrichmentBundle `json:"enrichment,omitempty"`
	Cache          *CacheInfo        `json:"cache,omitempty"`
}

// CacheInfo describes a response served from the result cache.
type CacheInfo struct {
	Hit       bool      `json:"hit"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int       `json:"hit_count"`
}

// CacheEntry is one row of the durable per-VIN result cache.
type CacheEntry struct {
	ID             string          `json:"id"`
	VIN            string          `json:"vin"`
	Response       json.RawMessage `json:"response"`
	ListingID      string          `json:"listing_id"`
	SearchSource   SearchSource    `json:"search_source"`
	CachedAt       time.Time       `json:"cached_at"`
	LastVerifiedAt time.Time       `json:"last_verified_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	IsActive       bool            `json:"is_active"`
	HitCount       int             `json:"hit_count"`
}

// Fresh reports whether the entry may be served at now.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return e.IsActive && now.Before(e.ExpiresAt)
}

// CacheStats summarizes the result cache.
type CacheStats struct {
	Entries   int                  `json:"entries"`
	Fresh     int                  `json:"fresh"`
	Expired   int                  `json:"expired"`
	TotalHits int                  `json:"total_hits"`
	BySource  map[SearchSource]int `json:"by_source"`
}
