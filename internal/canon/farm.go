package canon

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/arbor"
)

// farmClusterJSON mirrors one element of farm_mappings.json.
type farmClusterJSON struct {
	Country             string   `json:"country"`
	Region              string   `json:"region"`
	CanonicalFarmName   string   `json:"canonical_farm_name"`
	NormalizedFarmNames []string `json:"normalized_farm_names"`
}

// FarmTable is the nested country -> region_slug -> farm_normalized ->
// canonical_farm_name map built from the Farm Deduplication Core's export
// artifact, grounded on db.py:load_farm_mappings.
type FarmTable struct {
	// byKey[country][regionSlug][farmNormalized] = canonicalName
	byKey map[string]map[string]map[string]string
}

// LoadFarmTable reads farm_mappings.json.
func LoadFarmTable(path string, logger arbor.ILogger) (*FarmTable, error) {
	t := &FarmTable{byKey: make(map[string]map[string]map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.Warn().Str("path", path).Msg("farm mappings file does not exist; continuing with no farm canonicalization")
			}
			return t, nil
		}
		return nil, fmt.Errorf("reading farm mappings %s: %w", path, err)
	}

	var clusters []farmClusterJSON
	if err := json.Unmarshal(data, &clusters); err != nil {
		return nil, fmt.Errorf("parsing farm mappings %s: %w", path, err)
	}

	for _, c := range clusters {
		country := strings.ToUpper(c.Country)
		regionSlug := NormalizeRegionName(c.Region)
		if _, ok := t.byKey[country]; !ok {
			t.byKey[country] = make(map[string]map[string]string)
		}
		if _, ok := t.byKey[country][regionSlug]; !ok {
			t.byKey[country][regionSlug] = make(map[string]string)
		}
		for _, farmName := range c.NormalizedFarmNames {
			t.byKey[country][regionSlug][farmName] = c.CanonicalFarmName
		}
	}

	return t, nil
}

// CanonicalFarm implements the SQL-callable canonical_farm(country,
// region_slug, farm_normalized) contract of §4.2: returns ("", false) when
// no cluster matches, so callers can COALESCE onto the raw farm name.
func (t *FarmTable) CanonicalFarm(country, regionSlug, farmNormalized string) (string, bool) {
	byRegion, ok := t.byKey[strings.ToUpper(country)]
	if !ok {
		return "", false
	}
	byFarm, ok := byRegion[regionSlug]
	if !ok {
		return "", false
	}
	name, ok := byFarm[farmNormalized]
	return name, ok
}
