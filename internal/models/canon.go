package models

// RegionMapping is one entry of a region_mappings/<COUNTRY>.json file: the
// canonicalization decision previously reached for one original region
// string within one country. CanonicalState == nil marks the region
// "invalid/failed"; the entry is retained to short-circuit re-resolution
// on the next load. The loader then keys such origins by the normalized
// raw region text, and browse does not filter them out.
type RegionMapping struct {
	Country       string
	OriginalName  string
	CanonicalState *string
	Confidence    float64
	Reasoning     string
	Latitude      *float64
	Longitude     *float64
}

// FarmCluster is one entry of farm_mappings.json: a set of normalized farm
// name spellings that resolve to a single canonical farm name within one
// country/region.
type FarmCluster struct {
	Country             string
	Region               string
	CanonicalFarmName    string
	NormalizedFarmNames  []string
}

// VarietalMapping is one entry of varietal_mappings.json. A compound
// original (e.g. "Yellow Catuai, Mundo Novo") explodes into multiple
// canonical names.
type VarietalMapping struct {
	OriginalName   string
	CanonicalNames []string
	Confidence     float64
	IsCompound     bool
	Separator      string
}

// ProcessingMapping is one entry of processing_methods_mappings.json.
type ProcessingMapping struct {
	OriginalName string
	CommonName   string
}

// FarmClusterMapping is the export artifact produced by the Farm
// Deduplication Core and consumed by internal/canon as the Farm
// Canonicalization Table.
type FarmClusterMapping struct {
	Country             string
	RegionSlug          string
	CanonicalFarmName   string
	NormalizedFarmNames []string
}

// CountryCode is one row of the static ISO-3166 reference table used by
// country normalization and "country_full_name" joins.
type CountryCode struct {
	Name       string
	Alpha2     string
	Alpha3     string
	NumericCode string
	Region     string
	SubRegion  string
}

// TastingNoteCategory maps one tasting note to its category hierarchy,
// backing the /tasting-note-categories browse endpoint.
type TastingNoteCategory struct {
	TastingNote       string  `json:"tasting_note"`
	PrimaryCategory   string  `json:"primary_category"`
	SecondaryCategory string  `json:"secondary_category,omitempty"`
	TertiaryCategory  string  `json:"tertiary_category,omitempty"`
	Confidence        float64 `json:"confidence"`
}

// Varietal is World Coffee Research reference metadata joined into
// /varietals/{slug} detail responses when available.
type Varietal struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Link        string `json:"link,omitempty"`
	Species     string `json:"species,omitempty"`
}
