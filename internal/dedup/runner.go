package dedup

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ternarybob/arbor"
)

// RunForRegion executes the full clustering pipeline for one
// country/region and persists the result to the export artifact,
// preserving every other region's existing mappings. It is the entry
// point the "recluster" background job (§5) drives per region;
// low-confidence clusters are approved as-is pending manual review via
// RunForRegionWithReviews.
func RunForRegion(ctx context.Context, db *sql.DB, logger arbor.ILogger, mappingsPath, country, regionSlug string, nameThreshold float64) ([]Cluster, error) {
	return RunForRegionWithReviews(ctx, db, logger, mappingsPath, country, regionSlug, nameThreshold, nil)
}

// RunForRegionWithReviews is RunForRegion with reviewer decisions folded
// in: clusters are recomputed, the submitted approve/reject/partial
// decisions applied, and the resolved set persisted. A nil reviews slice
// keeps every cluster as computed.
func RunForRegionWithReviews(ctx context.Context, db *sql.DB, logger arbor.ILogger, mappingsPath, country, regionSlug string, nameThreshold float64, reviews []ReviewRequest) ([]Cluster, error) {
	entries, err := FetchEntries(ctx, db, country, regionSlug)
	if err != nil {
		return nil, fmt.Errorf("fetching farm entries for %s/%s: %w", country, regionSlug, err)
	}

	clusters := ClusterFarms(entries, nameThreshold)
	clusters = ResolveReviews(clusters, reviews)

	reviewCount := 0
	for _, c := range clusters {
		if NeedsReview(c, ReviewThreshold) {
			reviewCount++
		}
	}
	if reviewCount > 0 && logger != nil {
		logger.Warn().Str("country", country).Str("region", regionSlug).Int("clusters_needing_review", reviewCount).
			Msg("low-confidence farm clusters persisted; review them via the recluster review endpoint")
	}

	mappings := ToMappings(country, regionSlug, clusters)
	if err := SaveRegionMappings(mappingsPath, country, regionSlug, mappings); err != nil {
		return nil, fmt.Errorf("saving farm mappings for %s/%s: %w", country, regionSlug, err)
	}

	if logger != nil {
		logger.Info().Str("country", country).Str("region", regionSlug).Int("entries", len(entries)).
			Int("clusters", len(clusters)).Int("reviews_applied", len(reviews)).
			Msg("recomputed farm clusters")
	}
	return clusters, nil
}

// PendingReview recomputes clusters for one country/region and returns
// only those below the confidence threshold — the set §4.9 says must be
// surfaced to an interactive reviewer.
func PendingReview(ctx context.Context, db *sql.DB, country, regionSlug string, nameThreshold float64) ([]Cluster, error) {
	entries, err := FetchEntries(ctx, db, country, regionSlug)
	if err != nil {
		return nil, fmt.Errorf("fetching farm entries for %s/%s: %w", country, regionSlug, err)
	}

	var out []Cluster
	for _, c := range ClusterFarms(entries, nameThreshold) {
		if NeedsReview(c, ReviewThreshold) {
			out = append(out, c)
		}
	}
	return out, nil
}

// RunAll drives RunForRegion across every region known for country, or
// every region in the warehouse when country is empty. Each region is
// processed and persisted independently, so a failure partway through
// still leaves earlier regions' mappings correctly saved.
func RunAll(ctx context.Context, db *sql.DB, logger arbor.ILogger, mappingsPath, country string, nameThreshold float64) (int, error) {
	regions, err := ListRegions(ctx, db, country)
	if err != nil {
		return 0, fmt.Errorf("listing regions for recluster: %w", err)
	}

	for _, r := range regions {
		if _, err := RunForRegion(ctx, db, logger, mappingsPath, r.Country, r.RegionSlug, nameThreshold); err != nil {
			return 0, fmt.Errorf("reclustering %s/%s: %w", r.Country, r.RegionSlug, err)
		}
	}
	return len(regions), nil
}
