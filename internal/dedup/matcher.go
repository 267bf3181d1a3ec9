package dedup

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/ternarybob/kissaten/internal/canon"
)

// DefaultNameThreshold is the minimum token-sorted name similarity ratio
// required before two entries are considered for merging (§4.9).
const DefaultNameThreshold = 0.90

// Entry is one farm_normalized group awaiting clustering within a single
// country/region: a representative farm/producer spelling plus the
// distinct bean count behind it.
type Entry struct {
	FarmNormalized string
	FarmName       string
	ProducerName   string
	BeanCount      int
}

// ShouldMerge decides whether two farm entries name the same physical
// farm: token-sorted name similarity at or above nameThreshold AND a
// shared producer surname. Both signals are required — name similarity
// alone catches unrelated farms sharing a common word, and a shared
// surname alone catches father/son farms with different land names.
func ShouldMerge(a, b Entry, nameThreshold float64) (merge bool, confidence float64) {
	similarity := nameSimilarity(a.FarmName, b.FarmName)
	if similarity < nameThreshold {
		return false, 0
	}
	if !sharedProducerSurname(a.ProducerName, b.ProducerName) {
		return false, 0
	}
	return true, similarity
}

// nameSimilarity compares two farm names as accent-stripped token sets,
// factoring out tokens common to both before scoring — so a name that's a
// superset of another's words (e.g. "Finca Quebraditas" containing
// "Quebraditas") still scores near 1.0 rather than being penalized for
// the extra word.
func nameSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return tokenSetRatio(ta, tb)
}

func tokenize(s string) []string {
	slug := canon.NormalizeFarmName(s)
	if slug == "" {
		return nil
	}
	return strings.Split(slug, "-")
}

// tokenSetRatio is a fuzzy token-set comparison: tokens shared by both
// names are factored into a common core, and the core is compared against
// the core-plus-leftover of each side, taking the best of the three
// pairings. A pure subset relationship (all of one side's tokens appear in
// the other) yields a ratio of 1.0.
func tokenSetRatio(ta, tb []string) float64 {
	setA, setB := toSet(ta), toSet(tb)
	var inter, onlyA, onlyB []string
	for t := range setA {
		if setB[t] {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	core := strings.Join(inter, "-")
	withA := joinNonEmpty(core, strings.Join(onlyA, "-"))
	withB := joinNonEmpty(core, strings.Join(onlyB, "-"))

	best := ratio(core, withA)
	if r := ratio(core, withB); r > best {
		best = r
	}
	if r := ratio(withA, withB); r > best {
		best = r
	}
	return best
}

func toSet(tokens []string) map[string]bool {
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[t] = true
	}
	return out
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "-" + b
}

// ratio is a Levenshtein-normalized similarity in [0,1]; two empty
// strings are treated as identical.
func ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// sharedProducerSurname reports whether two producer names share a
// surname — their last normalized token.
func sharedProducerSurname(a, b string) bool {
	sa, sb := surname(a), surname(b)
	return sa != "" && sa == sb
}

func surname(producer string) string {
	slug := canon.NormalizeFarmName(producer)
	if slug == "" {
		return ""
	}
	tokens := strings.Split(slug, "-")
	return tokens[len(tokens)-1]
}
