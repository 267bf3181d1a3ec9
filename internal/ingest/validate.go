package ingest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// structValidator enforces the bounds declared on the raw wire shapes.
// validator.Validate caches struct metadata, so one shared instance serves
// every decode.
var structValidator = validator.New()

// harvestFloor is the earliest harvest_date the warehouse accepts; the
// upper bound is the ingest wall clock.
var harvestFloor = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// validateSnapshot checks a decoded snapshot against the Bean/Origin
// invariants: required identity fields, positive price/weight with weight
// in 50..10000g, cupping score in 70..100, elevation in 0..3000m, and
// harvest_date within [2020-01-01, now]. A violation rejects the whole
// record; the loader skips and counts it.
func validateSnapshot(bean *rawBean) error {
	if err := structValidator.Struct(bean); err != nil {
		return err
	}
	now := time.Now().UTC()
	for i, origin := range bean.Origins {
		if origin.HarvestDate == nil || *origin.HarvestDate == "" {
			continue
		}
		harvest, ok := tryParseTime(*origin.HarvestDate)
		if !ok {
			continue // unparseable dates are dropped at build time, not fatal
		}
		if harvest.Before(harvestFloor) || harvest.After(now) {
			return fmt.Errorf("origins[%d]: harvest_date %q outside [2020-01-01, now]", i, *origin.HarvestDate)
		}
	}
	return nil
}

// validateDiff checks a decoded partial update against the same bounds as
// its Bean counterpart fields.
func validateDiff(update *rawDiffUpdate) error {
	return structValidator.Struct(update)
}
