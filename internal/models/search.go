package models

// SortField enumerates the recognized sort_by values for §4.6 search.
type SortField string

const (
	SortName      SortField = "name"
	SortRoaster   SortField = "roaster"
	SortPrice     SortField = "price"
	SortWeight    SortField = "weight"
	SortScrapedAt SortField = "scraped_at"
	SortOrigin    SortField = "origin"
	SortVariety   SortField = "variety"
	SortRoastLvl  SortField = "roast_level"
	SortRoastProf SortField = "roast_profile"
	SortRelevance SortField = "relevance"
	SortRandom    SortField = "random"
	SortDateAdded SortField = "date_added"
)

// SortOrder enumerates the recognized sort_order values.
type SortOrder string

const (
	OrderAsc    SortOrder = "asc"
	OrderDesc   SortOrder = "desc"
	OrderRandom SortOrder = "random"
)

// SearchRequest is the full recognized-option surface of §4.6, shared
// between /search, /search/by-paths, and the browse endpoints (which apply
// the same filters to scope their aggregates).
type SearchRequest struct {
	Query             string `json:"query,omitempty"`
	TastingNotesQuery string `json:"tasting_notes_query,omitempty"`
	TastingNotesOnly  bool   `json:"tasting_notes_only,omitempty"` // deprecated: ties Query to tasting_notes only

	Roaster         []string `json:"roaster,omitempty"`
	RoasterLocation []string `json:"roaster_location,omitempty"`
	Origin          []string `json:"origin,omitempty"`

	Variety      string `json:"variety,omitempty"`
	Process      string `json:"process,omitempty"`
	RoastLevel   string `json:"roast_level,omitempty"`
	RoastProfile string `json:"roast_profile,omitempty"`
	Region       string `json:"region,omitempty"`
	Producer     string `json:"producer,omitempty"`
	Farm         string `json:"farm,omitempty"`

	MinPrice     *float64 `json:"min_price,omitempty"`
	MaxPrice     *float64 `json:"max_price,omitempty"`
	// MinPriceUSD/MaxPriceUSD are the USD-translated bounds the engine
	// substitutes when a conversion currency is requested; not part of
	// the HTTP parameter surface.
	MinPriceUSD  *float64 `json:"-"`
	MaxPriceUSD  *float64 `json:"-"`
	MinWeight    *int     `json:"min_weight,omitempty"`
	MaxWeight    *int     `json:"max_weight,omitempty"`
	MinElevation *int     `json:"min_elevation,omitempty"`
	MaxElevation *int     `json:"max_elevation,omitempty"`

	InStockOnly    bool  `json:"in_stock_only,omitempty"`
	IsDecaf        *bool `json:"is_decaf,omitempty"`
	IsSingleOrigin *bool `json:"is_single_origin,omitempty"`

	SortBy    SortField `json:"sort_by,omitempty"`
	SortOrder SortOrder `json:"sort_order,omitempty"`

	Page    int `json:"page,omitempty"`
	PerPage int `json:"per_page,omitempty"`

	ConvertToCurrency string `json:"convert_to_currency,omitempty"`

	// BeanURLPaths restricts the result set to beans whose bean_url_path is
	// in this list (used by POST /search/by-paths); empty means unrestricted.
	BeanURLPaths []string `json:"bean_url_paths,omitempty"`
}

// ScoredBean pairs a Bean with its computed relevance score.
type ScoredBean struct {
	Bean  Bean `json:"bean"`
	Score int  `json:"score"`

	PriceConverted   bool     `json:"price_converted,omitempty"`
	OriginalPrice    *float64 `json:"original_price,omitempty"`
	OriginalCurrency string   `json:"original_currency,omitempty"`
}

// SearchResult is the paginated response envelope for §4.6/§4.7 endpoints.
type SearchResult struct {
	Beans            []ScoredBean `json:"beans"`
	Total            int          `json:"total"`
	Page             int          `json:"page"`
	PerPage          int          `json:"per_page"`
	TotalPages       int          `json:"total_pages"`
	MaxPossibleScore int          `json:"max_possible_score"`
	ConvertedCount   int          `json:"converted_count"`
}
