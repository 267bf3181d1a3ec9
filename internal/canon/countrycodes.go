package canon

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
)

// countryCodeJSON mirrors one element of country_codes.json, the static
// ISO-3166 reference table shipped alongside the other canonicalization
// artifacts (SPEC_FULL.md §3).
type countryCodeJSON struct {
	Name        string `json:"name"`
	Alpha2      string `json:"alpha2"`
	Alpha3      string `json:"alpha3"`
	NumericCode string `json:"numeric_code"`
	Region      string `json:"region"`
	SubRegion   string `json:"sub_region"`
}

// LoadCountryCodes reads country_codes.json.
func LoadCountryCodes(path string, logger arbor.ILogger) ([]models.CountryCode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if logger != nil {
				logger.Warn().Str("path", path).Msg("country codes file does not exist; country_full_name joins will be empty")
			}
			return nil, nil
		}
		return nil, fmt.Errorf("reading country codes %s: %w", path, err)
	}

	var raw []countryCodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing country codes %s: %w", path, err)
	}

	out := make([]models.CountryCode, 0, len(raw))
	for _, c := range raw {
		out = append(out, models.CountryCode{
			Name:        c.Name,
			Alpha2:      strings.ToUpper(c.Alpha2),
			Alpha3:      strings.ToUpper(c.Alpha3),
			NumericCode: c.NumericCode,
			Region:      c.Region,
			SubRegion:   c.SubRegion,
		})
	}
	return out, nil
}

// ResolveAlpha2 maps a free-form country string scraped from a roaster page
// (full name, alpha-3, or already alpha-2) to its ISO alpha-2 code. Returns
// ("", false) when nothing in the table matches, so callers can fall back to
// storing the raw string and flagging it for manual review.
func ResolveAlpha2(codes []models.CountryCode, raw string) (string, bool) {
	needle := strings.TrimSpace(strings.ToUpper(raw))
	if needle == "" {
		return "", false
	}
	for _, c := range codes {
		if needle == c.Alpha2 || needle == c.Alpha3 || strings.EqualFold(needle, c.Name) {
			return c.Alpha2, true
		}
	}
	return "", false
}
