// Package ingest implements the Warehouse Loader (§4.3): a directory walk
// over roasters/<slug>/<YYYYMMDD>/*.json and *.diffjson snapshots, folded
// into the SQLite warehouse via the File-Tracking Ledger and
// Canonicalization Tables. Grounded on original_source/db.py's
// load_coffee_data, with DuckDB's columnar auto-detect view replaced by an
// explicit filepath.WalkDir and tolerant encoding/json decoding.
package ingest

import "time"

// rawOrigin mirrors one element of a scraped bean's "origins" array.
// Fields missing in a given snapshot decode to Go zero values, the direct
// equivalent of "union by name, tolerant to missing fields". Bounds are
// enforced with go-playground/validator tags; a record violating them is
// skipped and counted, never written to the warehouse.
type rawOrigin struct {
	Country     *string  `json:"country"`
	Region      *string  `json:"region"`
	Producer    *string  `json:"producer"`
	Farm        *string  `json:"farm"`
	Elevation   *int     `json:"elevation" validate:"omitempty,gte=0,lte=3000"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Process     *string  `json:"process"`
	Variety     *string  `json:"variety"`
	HarvestDate *string  `json:"harvest_date"` // range-checked against [2020-01-01, now] after parsing
}

// rawBean mirrors one scraped snapshot JSON file (CoffeeBean in the
// original schema). url, name, roaster, and at least one origin are the
// producer contract's required fields; everything else is optional but
// bounds-checked when present.
type rawBean struct {
	Name                        string      `json:"name" validate:"required"`
	Roaster                     string      `json:"roaster" validate:"required"`
	URL                         string      `json:"url" validate:"required"`
	ImageURL                    *string     `json:"image_url"`
	Origins                     []rawOrigin `json:"origins" validate:"required,min=1,dive"`
	IsSingleOrigin              *bool       `json:"is_single_origin"`
	PricePaidForGreenCoffee     *float64    `json:"price_paid_for_green_coffee" validate:"omitempty,gt=0"`
	CurrencyOfPricePaidForGreen *string     `json:"currency_of_price_paid_for_green_coffee" validate:"omitempty,len=3,alpha"`
	RoastLevel                  *string     `json:"roast_level" validate:"omitempty,oneof=Light Medium-Light Medium Medium-Dark Dark"`
	RoastProfile                *string     `json:"roast_profile" validate:"omitempty,oneof=Espresso Filter Omni"`
	Weight                      *int        `json:"weight" validate:"omitempty,gte=50,lte=10000"`
	Price                       *float64    `json:"price" validate:"omitempty,gt=0"`
	Currency                    *string     `json:"currency" validate:"omitempty,len=3,alpha"`
	IsDecaf                     *bool       `json:"is_decaf"`
	CuppingScore                *float64    `json:"cupping_score" validate:"omitempty,gte=70,lte=100"`
	TastingNotes                []string    `json:"tasting_notes"`
	Description                 *string     `json:"description"`
	InStock                     *bool       `json:"in_stock"`
	ScrapedAt                   *string     `json:"scraped_at"`
	ScraperVersion              *string     `json:"scraper_version"`
}

// rawDiffUpdate mirrors one *.diffjson partial update (§4.3.1): url is
// required, every other field is an optional overwrite carrying the same
// bounds as its Bean counterpart. Fields unknown to this struct (e.g.
// "origins", "image_url") are silently dropped by encoding/json, matching
// the original's field-allowlist behavior.
type rawDiffUpdate struct {
	URL          string   `json:"url" validate:"required"`
	Price        *float64 `json:"price" validate:"omitempty,gt=0"`
	Currency     *string  `json:"currency" validate:"omitempty,len=3,alpha"`
	InStock      *bool    `json:"in_stock"`
	Stock        *bool    `json:"stock"` // alternate key some scrapers emit
	RoastLevel   *string  `json:"roast_level" validate:"omitempty,oneof=Light Medium-Light Medium Medium-Dark Dark"`
	RoastProfile *string  `json:"roast_profile" validate:"omitempty,oneof=Espresso Filter Omni"`
	TastingNotes []string `json:"tasting_notes"`
	Description  *string  `json:"description"`
	Weight       *int     `json:"weight" validate:"omitempty,gte=50,lte=10000"`
	CuppingScore *float64 `json:"cupping_score" validate:"omitempty,gte=70,lte=100"`
	ScrapedAt    *string  `json:"scraped_at"`

	// sourcePath and parsedScrapedAt are populated by the loader after
	// decode, not part of the wire shape.
	sourcePath      string
	relativePath    string
	parsedScrapedAt time.Time
}

// Stats summarizes one Loader.Run pass, returned to callers (CLI, queue
// worker) for logging/reporting. Errors collects every recoverable
// per-file failure (unreadable, malformed, bounds violation) that was
// skipped and counted rather than aborting the batch.
type Stats struct {
	FilesConsidered  int
	FilesSkipped     int
	SnapshotsApplied int
	SnapshotsSkipped int
	DiffsApplied     int
	DiffsSkipped     int
	BeansInserted    int
	OriginsInserted  int
	BeansDeleted     int64
	Errors           []error
}
