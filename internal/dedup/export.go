package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ternarybob/kissaten/internal/models"
)

// ToMappings converts the clusters produced for one country/region into
// the export artifact rows the Farm Canonicalization Table (§4.2) loads.
func ToMappings(country, regionSlug string, clusters []Cluster) []models.FarmClusterMapping {
	out := make([]models.FarmClusterMapping, 0, len(clusters))
	for _, c := range clusters {
		seen := make(map[string]struct{}, len(c.Entries))
		for _, e := range c.Entries {
			seen[e.FarmNormalized] = struct{}{}
		}
		normalized := make([]string, 0, len(seen))
		for n := range seen {
			normalized = append(normalized, n)
		}
		sort.Strings(normalized)

		out = append(out, models.FarmClusterMapping{
			Country:             country,
			RegionSlug:          regionSlug,
			CanonicalFarmName:   c.CanonicalName,
			NormalizedFarmNames: normalized,
		})
	}
	return out
}

// farmMappingJSON mirrors farm_mappings.json's on-disk row shape (also
// consumed by internal/canon's FarmTable loader).
type farmMappingJSON struct {
	Country             string   `json:"country"`
	Region              string   `json:"region"`
	CanonicalFarmName   string   `json:"canonical_farm_name"`
	NormalizedFarmNames []string `json:"normalized_farm_names"`
}

// LoadMappings reads the export artifact file, returning an empty slice
// (not an error) if it doesn't exist yet.
func LoadMappings(path string) ([]models.FarmClusterMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading farm mappings %s: %w", path, err)
	}

	var raw []farmMappingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing farm mappings %s: %w", path, err)
	}

	out := make([]models.FarmClusterMapping, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.FarmClusterMapping{
			Country:             r.Country,
			RegionSlug:          r.Region,
			CanonicalFarmName:   r.CanonicalFarmName,
			NormalizedFarmNames: r.NormalizedFarmNames,
		})
	}
	return out, nil
}

// SaveRegionMappings persists mappings for one (country, region_slug),
// replacing only that region's prior entries in the file. Re-running
// dedup for one region must not discard clusters from regions not being
// processed this run (§4.9), so every other region's rows pass through
// unchanged.
func SaveRegionMappings(path, country, regionSlug string, mappings []models.FarmClusterMapping) error {
	existing, err := LoadMappings(path)
	if err != nil {
		return err
	}

	kept := make([]models.FarmClusterMapping, 0, len(existing)+len(mappings))
	for _, m := range existing {
		if m.Country == country && m.RegionSlug == regionSlug {
			continue
		}
		kept = append(kept, m)
	}
	kept = append(kept, mappings...)

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Country != kept[j].Country {
			return kept[i].Country < kept[j].Country
		}
		if kept[i].RegionSlug != kept[j].RegionSlug {
			return kept[i].RegionSlug < kept[j].RegionSlug
		}
		return kept[i].CanonicalFarmName < kept[j].CanonicalFarmName
	})

	raw := make([]farmMappingJSON, 0, len(kept))
	for _, m := range kept {
		raw = append(raw, farmMappingJSON{
			Country:             m.Country,
			Region:              m.RegionSlug,
			CanonicalFarmName:   m.CanonicalFarmName,
			NormalizedFarmNames: m.NormalizedFarmNames,
		})
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling farm mappings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating farm mappings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing farm mappings %s: %w", path, err)
	}
	return nil
}
