package canon

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
)

// processingMappingJSON mirrors one element of processing_methods_mappings.json.
type processingMappingJSON struct {
	OriginalName string `json:"original_name"`
	CommonName   string `json:"common_name"`
}

// LoadProcessingMappings reads processing_methods_mappings.json.
func LoadProcessingMappings(path string, logger arbor.ILogger) ([]models.ProcessingMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.Warn().Str("path", path).Msg("processing mappings file does not exist; continuing with no processing canonicalization")
			}
			return nil, nil
		}
		return nil, fmt.Errorf("reading processing mappings %s: %w", path, err)
	}

	var raw []processingMappingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing processing mappings %s: %w", path, err)
	}

	out := make([]models.ProcessingMapping, 0, len(raw))
	for _, m := range raw {
		out = append(out, models.ProcessingMapping{OriginalName: m.OriginalName, CommonName: m.CommonName})
	}
	return out, nil
}
