package canon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
)

// regionEntry mirrors one value in a region_mappings/<COUNTRY>.json file:
// { original_region: { canonical_state, confidence, reasoning, ... } }.
type regionEntry struct {
	CanonicalState *string  `json:"canonical_state"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
}

// RegionTable is the in-memory mapping loaded eagerly at process start,
// grounded on db.py:load_region_mappings.
type RegionTable struct {
	// byCountry[country][original_region] = entry
	byCountry map[string]map[string]regionEntry
	logger    arbor.ILogger
}

// LoadRegionTable reads every <COUNTRY_ALPHA2>.json file in dir.
func LoadRegionTable(dir string, logger arbor.ILogger) (*RegionTable, error) {
	t := &RegionTable{byCountry: make(map[string]map[string]regionEntry), logger: logger}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.Warn().Str("dir", dir).Msg("region mappings directory does not exist; continuing with no region canonicalization")
			}
			return t, nil
		}
		return nil, fmt.Errorf("reading region mappings dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		country := strings.ToUpper(strings.TrimSuffix(entry.Name(), ".json"))
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading region mapping %s: %w", path, err)
		}
		var m map[string]regionEntry
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing region mapping %s: %w", path, err)
		}
		t.byCountry[country] = m
	}

	return t, nil
}

// CanonicalState implements the SQL-callable canonical_state(country,
// region) contract of §4.2: returns ("", true) when the mapping records
// canonical_state = null (invalid region; the loader then falls back to the
// raw region text and browse does not exclude it), the
// canonical state when mapped, or the original region as fallback when no
// mapping exists for that (country, region) pair at all.
func (t *RegionTable) CanonicalState(country, region string) (state string, invalid bool) {
	byRegion, ok := t.byCountry[strings.ToUpper(country)]
	if !ok {
		return region, false
	}
	entry, ok := byRegion[region]
	if !ok {
		return region, false
	}
	if entry.CanonicalState == nil {
		return "", true
	}
	return *entry.CanonicalState, false
}
