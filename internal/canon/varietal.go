package canon

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
)

// varietalMappingJSON mirrors one element of varietal_mappings.json.
type varietalMappingJSON struct {
	OriginalName   string   `json:"original_name"`
	CanonicalNames []string `json:"canonical_names"`
	Confidence     float64  `json:"confidence"`
	IsCompound     bool     `json:"is_compound"`
	Separator      string   `json:"separator"`
}

// LoadVarietalMappings reads varietal_mappings.json into the domain model,
// for the loader to persist into the varietal_map join table (§4.2: loaded
// into ordinary tables so they can be joined during ingest).
func LoadVarietalMappings(path string, logger arbor.ILogger) ([]models.VarietalMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.Warn().Str("path", path).Msg("varietal mappings file does not exist; continuing with no varietal canonicalization")
			}
			return nil, nil
		}
		return nil, fmt.Errorf("reading varietal mappings %s: %w", path, err)
	}

	var raw []varietalMappingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing varietal mappings %s: %w", path, err)
	}

	out := make([]models.VarietalMapping, 0, len(raw))
	for _, m := range raw {
		out = append(out, models.VarietalMapping{
			OriginalName:   m.OriginalName,
			CanonicalNames: m.CanonicalNames,
			Confidence:     m.Confidence,
			IsCompound:     m.IsCompound,
			Separator:      m.Separator,
		})
	}
	return out, nil
}
