// Package models holds the persistent record shapes shared by the
// warehouse loader, the search/browse engines, and the HTTP handlers.
package models

import "time"

// RoastLevel enumerates the recognized roast levels. An empty string means
// "not reported" and is stored as NULL, not as a zero value.
type RoastLevel string

const (
	RoastLight       RoastLevel = "Light"
	RoastMediumLight RoastLevel = "Medium-Light"
	RoastMedium      RoastLevel = "Medium"
	RoastMediumDark  RoastLevel = "Medium-Dark"
	RoastDark        RoastLevel = "Dark"
)

// RoastProfile enumerates the recognized roast profiles.
type RoastProfile string

const (
	ProfileEspresso RoastProfile = "Espresso"
	ProfileFilter   RoastProfile = "Filter"
	ProfileOmni     RoastProfile = "Omni"
)

// Bean is the product record: one coffee SKU as listed by one roaster.
type Bean struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Roaster           string     `json:"roaster"`
	RoasterDirectory  string     `json:"roaster_directory"`
	URL               string     `json:"url"`
	ImageURL          string     `json:"image_url,omitempty"`
	IsSingleOrigin    bool       `json:"is_single_origin"`
	PricePaidForGreen *float64   `json:"price_paid_for_green,omitempty"`
	PricePaidCurrency string     `json:"price_paid_currency,omitempty"`
	RoastLevel        string     `json:"roast_level,omitempty"`
	RoastProfile      string     `json:"roast_profile,omitempty"`
	WeightGrams       *int       `json:"weight_grams,omitempty"`
	Price             *float64   `json:"price,omitempty"`
	Currency          string     `json:"currency"`
	PriceUSD          *float64   `json:"price_usd,omitempty"`
	IsDecaf           bool       `json:"is_decaf"`
	CuppingScore      *float64   `json:"cupping_score,omitempty"`
	TastingNotes      []string   `json:"tasting_notes,omitempty"`
	Description       string     `json:"description,omitempty"`
	InStock           bool       `json:"in_stock"`
	ScrapedAt         time.Time  `json:"scraped_at"`
	ScraperVersion    string     `json:"scraper_version,omitempty"`
	SourceFilename    string     `json:"source_filename,omitempty"`
	CleanURLSlug      string     `json:"clean_url_slug"`
	BeanURLPath       string     `json:"bean_url_path"`
	DateAdded         time.Time  `json:"date_added"`
	RoasterLocation   string     `json:"roaster_location,omitempty"`

	Origins []Origin `json:"origins,omitempty"`
}

// Origin is one farm-level sourcing component of a Bean. A Bean carries one
// or more Origins (single-origin beans carry exactly one).
type Origin struct {
	ID                int64      `json:"id"`
	BeanID            int64      `json:"bean_id"`
	Country           string     `json:"country,omitempty"` // ISO alpha-2, when resolvable
	Region            string     `json:"region,omitempty"`
	RegionNormalized  string     `json:"region_slug,omitempty"`
	Producer          string     `json:"producer,omitempty"`
	Farm              string     `json:"farm,omitempty"`
	FarmNormalized    string     `json:"farm_slug,omitempty"`
	ElevationMin      *int       `json:"elevation_min,omitempty"`
	ElevationMax      *int       `json:"elevation_max,omitempty"`
	Lat               *float64   `json:"lat,omitempty"`
	Lon               *float64   `json:"lon,omitempty"`
	Process           string     `json:"process,omitempty"`
	ProcessCommonName string     `json:"process_common_name,omitempty"`
	Variety           string     `json:"variety,omitempty"`
	VarietyCanonical  []string   `json:"variety_canonical,omitempty"`
	HarvestDate       *time.Time `json:"harvest_date,omitempty"`
}

// Roaster is a producer in the registry.
type Roaster struct {
	Slug              string
	DisplayName       string
	Website           string
	Location          string
	LocationCode      string
	Active            bool
	LastScraped       *time.Time
	TotalBeansScraped int
	Email             string
	SocialMedia       map[string]string
}
