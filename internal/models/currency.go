package models

import "time"

// CurrencyRate is one row per (base, target, fetched_at). In practice base
// is always "USD" — every rate is stored relative to a USD pivot so that
// arbitrary currency-pair conversion is two lookups instead of an n^2 table.
type CurrencyRate struct {
	Base          string
	Target        string
	Rate          float64
	FetchedAt     time.Time
	DataTimestamp time.Time
}
