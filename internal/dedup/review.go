package dedup

// ReviewThreshold is the default confidence below which a cluster is
// surfaced to manual review before being written to the export artifact.
const ReviewThreshold = 0.90

// NeedsReview reports whether a cluster's confidence falls below the
// manual-review threshold.
func NeedsReview(c Cluster, threshold float64) bool {
	return c.Confidence < threshold
}

// ReviewDecision is an interactive reviewer's disposition of one
// low-confidence cluster.
type ReviewDecision int

const (
	ReviewApprove ReviewDecision = iota
	ReviewReject
	ReviewPartial
)

// ApplyReview resolves a cluster per §4.9's manual-review contract:
// approve keeps it as one cluster, reject splits every entry into its own
// singleton, and partial keeps only the entries named in keep together
// and splits the rest into singletons.
func ApplyReview(c Cluster, decision ReviewDecision, keep map[string]bool) []Cluster {
	switch decision {
	case ReviewReject:
		return singletons(c.Entries)
	case ReviewPartial:
		var kept, rest []Entry
		for _, e := range c.Entries {
			if keep[e.FarmNormalized] {
				kept = append(kept, e)
			} else {
				rest = append(rest, e)
			}
		}
		out := singletons(rest)
		if len(kept) == 0 {
			return out
		}
		total := 0
		for _, e := range kept {
			total += e.BeanCount
		}
		return append([]Cluster{{
			CanonicalName:  SelectCanonicalName(kept),
			Entries:        kept,
			TotalBeanCount: total,
			Confidence:     1.0,
		}}, out...)
	default: // ReviewApprove
		return []Cluster{c}
	}
}

// ReviewRequest is one reviewer decision submitted against a cluster,
// addressed by the cluster's canonical name. Keep is consulted only for
// ReviewPartial.
type ReviewRequest struct {
	CanonicalName string
	Decision      ReviewDecision
	Keep          []string // farm_normalized slugs to keep clustered together
}

// ResolveReviews applies submitted decisions to a freshly computed cluster
// set. Clusters with no matching request pass through unchanged (including
// low-confidence ones the reviewer chose not to touch this round).
func ResolveReviews(clusters []Cluster, reviews []ReviewRequest) []Cluster {
	byName := make(map[string]ReviewRequest, len(reviews))
	for _, r := range reviews {
		byName[r.CanonicalName] = r
	}

	out := make([]Cluster, 0, len(clusters))
	for _, c := range clusters {
		review, ok := byName[c.CanonicalName]
		if !ok {
			out = append(out, c)
			continue
		}
		keep := make(map[string]bool, len(review.Keep))
		for _, slug := range review.Keep {
			keep[slug] = true
		}
		out = append(out, ApplyReview(c, review.Decision, keep)...)
	}
	return out
}

func singletons(entries []Entry) []Cluster {
	out := make([]Cluster, 0, len(entries))
	for _, e := range entries {
		out = append(out, Cluster{CanonicalName: e.FarmName, Entries: []Entry{e}, TotalBeanCount: e.BeanCount, Confidence: 1.0})
	}
	return out
}
