package canon

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
	"gopkg.in/yaml.v3"
)

// roasterRegistryEntry mirrors one roaster entry in roasters.yaml.
type roasterRegistryEntry struct {
	Slug         string            `yaml:"slug"`
	DisplayName  string            `yaml:"display_name"`
	Website      string            `yaml:"website"`
	Location     string            `yaml:"location"`
	LocationCode string            `yaml:"location_code"`
	Active       bool              `yaml:"active"`
	Email        string            `yaml:"email"`
	SocialMedia  map[string]string `yaml:"social_media"`
}

type roasterRegistryFile struct {
	Roasters []roasterRegistryEntry `yaml:"roasters"`
}

// LoadRoasterRegistry reads roasters.yaml, the one config surface in the
// canonicalization layer that uses YAML rather than JSON — mirroring the
// teacher's own use of gopkg.in/yaml.v3 for connector/job-definition
// configuration (SPEC_FULL.md Domain Stack).
func LoadRoasterRegistry(path string, logger arbor.ILogger) ([]models.Roaster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.Warn().Str("path", path).Msg("roaster registry file does not exist; roaster display names will fall back to scraped values")
			}
			return nil, nil
		}
		return nil, fmt.Errorf("reading roaster registry %s: %w", path, err)
	}

	var file roasterRegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing roaster registry %s: %w", path, err)
	}

	out := make([]models.Roaster, 0, len(file.Roasters))
	for _, r := range file.Roasters {
		out = append(out, models.Roaster{
			Slug:         r.Slug,
			DisplayName:  r.DisplayName,
			Website:      r.Website,
			Location:     r.Location,
			LocationCode: r.LocationCode,
			Active:       r.Active,
			Email:        r.Email,
			SocialMedia:  r.SocialMedia,
		})
	}
	return out, nil
}
