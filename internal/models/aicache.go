package models

import "time"

// QueryType distinguishes a natural-language text query from an image hash
// key in the AI Translation Cache.
type QueryType string

const (
	QueryTypeText  QueryType = "text"
	QueryTypeImage QueryType = "image"
)

// SearchParameters is the structured filter set a natural-language query
// translates to; it mirrors the recognized search options of §4.6 so a
// cached entry can be replayed directly against the search engine.
type SearchParameters struct {
	Query             string   `json:"query,omitempty"`
	TastingNotesQuery string   `json:"tasting_notes_query,omitempty"`
	Roaster           []string `json:"roaster,omitempty"`
	RoasterLocation   []string `json:"roaster_location,omitempty"`
	Origin            []string `json:"origin,omitempty"`
	Variety           string   `json:"variety,omitempty"`
	Process           string   `json:"process,omitempty"`
	RoastLevel        string   `json:"roast_level,omitempty"`
	RoastProfile      string   `json:"roast_profile,omitempty"`
	Region            string   `json:"region,omitempty"`
	Producer          string   `json:"producer,omitempty"`
	Farm              string   `json:"farm,omitempty"`
	MinPrice          *float64 `json:"min_price,omitempty"`
	MaxPrice          *float64 `json:"max_price,omitempty"`
	MinWeight         *int     `json:"min_weight,omitempty"`
	MaxWeight         *int     `json:"max_weight,omitempty"`
	MinElevation      *int     `json:"min_elevation,omitempty"`
	MaxElevation      *int     `json:"max_elevation,omitempty"`
	InStockOnly       bool     `json:"in_stock_only,omitempty"`
	IsDecaf           *bool    `json:"is_decaf,omitempty"`
	IsSingleOrigin    *bool    `json:"is_single_origin,omitempty"`
	ConvertToCurrency string   `json:"convert_to_currency,omitempty"`
}

// AICacheEntry is a persisted natural-language-to-filter translation.
type AICacheEntry struct {
	ID            string
	QueryHash     string
	QueryType     QueryType
	OriginalQuery string
	Params        SearchParameters
	HitCount      int
	CreatedAt     time.Time
	LastAccessed  time.Time
	ExpiresAt     time.Time
}
