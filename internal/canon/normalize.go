// Package canon loads and serves the Canonicalization Tables (§4.2): region,
// farm, varietal, and processing-method mappings, plus the normalization
// helpers the loader applies to raw farm/region strings before lookup.
package canon

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeFarmName and NormalizeRegionName share one normalization rule
// (§4.2): NFKD decompose, strip to ASCII, lowercase, replace
// non-alphanumerics with single hyphens, trim. Grounded on
// db.py's normalize_farm_name/normalize_region_name (Python unicodedata
// NFKD + regex), reimplemented with golang.org/x/text/unicode/norm.

func NormalizeFarmName(s string) string  { return normalizeSlug(s) }
func NormalizeRegionName(s string) string { return normalizeSlug(s) }

// Slugify applies the same normalization rule to any display name that
// needs a case/accent-insensitive URL path segment (varietal names in the
// /varietals browse routes).
func Slugify(s string) string { return normalizeSlug(s) }

func normalizeSlug(s string) string {
	decomposed := norm.NFKD.String(s)

	var ascii strings.Builder
	for _, r := range decomposed {
		if r > unicode.MaxASCII {
			continue // drop combining marks and anything non-ASCII left after NFKD
		}
		ascii.WriteRune(r)
	}

	lower := strings.ToLower(ascii.String())

	var out strings.Builder
	prevHyphen := false
	for _, r := range lower {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen && out.Len() > 0 {
				out.WriteByte('-')
				prevHyphen = true
			}
		}
	}

	return strings.Trim(out.String(), "-")
}
