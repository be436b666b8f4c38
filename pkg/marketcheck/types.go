package marketcheck

// Endpoint is a listing search path.
type Endpoint string

const (
	EndpointActive        Endpoint = "/v2/search/car/active"
	EndpointPrivateSeller Endpoint = "/v2/search/car/fsbo/active"
	EndpointHistorical    Endpoint = "/v2/search/car/recents"
)

// SearchResponse is the envelope of every search endpoint.
type SearchResponse struct {
	NumFound int       `json:"num_found"`
	Listings []Listing `json:"listings"`
}

// Listing is one provider record for a vehicle offering.
type Listing struct {
	ID            string   `json:"id"`
	VIN           string   `json:"vin"`
	Heading       string   `json:"heading"`
	Price         *float64 `json:"price"`
	Miles         *float64 `json:"miles"`
	Dist          *float64 `json:"dist"`
	LastSeenAt    *int64   `json:"last_seen_at"`
	FirstSeenAt   *int64   `json:"first_seen_at"`
	VDPURL        string   `json:"vdp_url"`
	Source        string   `json:"source"`
	SellerType    string   `json:"seller_type"`
	InventoryType string   `json:"inventory_type"`
	Build         *Build   `json:"build,omitempty"`
	Dealer        *Dealer  `json:"dealer,omitempty"`
	Media         *Media   `json:"media,omitempty"`
}

// Build holds decoded build attributes of a listing.
type Build struct {
	Year        *int   `json:"year"`
	Make        string `json:"make"`
	Model       string `json:"model"`
	Trim        string `json:"trim"`
	BodyType    string `json:"body_type"`
	VehicleType string `json:"vehicle_type"`
	Drivetrain  string `json:"drivetrain"`
	FuelType    string `json:"fuel_type"`
}

// Dealer identifies the seller of a listing.
type Dealer struct {
	Name    string `json:"name"`
	Website string `json:"website"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Phone   string `json:"phone"`
}

// Media holds listing photos.
type Media struct {
	PhotoLinks []string `json:"photo_links"`
}

// HistoryRecord is one past listing snapshot of a VIN.
type HistoryRecord struct {
	ID            string   `json:"id"`
	Year          *int     `json:"year,omitempty"`
	Make          string   `json:"make,omitempty"`
	Model         string   `json:"model,omitempty"`
	Trim          string   `json:"trim,omitempty"`
	Heading       string   `json:"heading,omitempty"`
	Build         *Build   `json:"build,omitempty"`
	Price         *float64 `json:"price"`
	Miles         *float64 `json:"miles"`
	VDPURL        string   `json:"vdp_url"`
	SellerType    string   `json:"seller_type"`
	InventoryType string   `json:"inventory_type"`
	SellerName    string   `json:"seller_name"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	Zip           string   `json:"zip"`
	Source        string   `json:"source"`
	LastSeenAt    *int64   `json:"last_seen_at"`
	FirstSeenAt   *int64   `json:"first_seen_at"`
}
