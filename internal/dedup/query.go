package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// FetchEntries enumerates farm_normalized groups within one country/region
// from the warehouse (§4.9 step 1), picking each group's most frequently
// seen raw farm and producer spelling as its representative strings.
func FetchEntries(ctx context.Context, db *sql.DB, country, regionSlug string) ([]Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT o.farm_normalized, o.farm, o.producer, o.bean_id
		FROM origins o
		WHERE o.country = ? AND o.region_normalized = ?
		  AND o.farm_normalized IS NOT NULL AND o.farm_normalized != ''`, country, regionSlug)
	if err != nil {
		return nil, fmt.Errorf("fetching farm groups: %w", err)
	}
	defer rows.Close()

	type group struct {
		farmCounts     map[string]int
		producerCounts map[string]int
		beanIDs        map[int64]struct{}
	}
	groups := make(map[string]*group)
	var order []string

	for rows.Next() {
		var farmNormalized, farm, producer sql.NullString
		var beanID int64
		if err := rows.Scan(&farmNormalized, &farm, &producer, &beanID); err != nil {
			return nil, err
		}

		key := farmNormalized.String
		g, ok := groups[key]
		if !ok {
			g = &group{farmCounts: map[string]int{}, producerCounts: map[string]int{}, beanIDs: map[int64]struct{}{}}
			groups[key] = g
			order = append(order, key)
		}
		if farm.Valid && farm.String != "" {
			g.farmCounts[farm.String]++
		}
		if producer.Valid && producer.String != "" {
			g.producerCounts[producer.String]++
		}
		g.beanIDs[beanID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(order) // deterministic across runs
	out := make([]Entry, 0, len(order))
	for _, key := range order {
		g := groups[key]
		out = append(out, Entry{
			FarmNormalized: key,
			FarmName:       mostCommon(g.farmCounts),
			ProducerName:   mostCommon(g.producerCounts),
			BeanCount:      len(g.beanIDs),
		})
	}
	return out, nil
}

// RegionKey identifies one country/region pair worth reclustering.
type RegionKey struct {
	Country    string
	RegionSlug string
}

// ListRegions enumerates every distinct (country, region_normalized) pair
// with at least one farm-bearing origin row, optionally restricted to a
// single country. It backs the "recluster all regions" job variant.
func ListRegions(ctx context.Context, db *sql.DB, country string) ([]RegionKey, error) {
	query := `
		SELECT DISTINCT o.country, o.region_normalized
		FROM origins o
		WHERE o.farm_normalized IS NOT NULL AND o.farm_normalized != ''
		  AND o.region_normalized IS NOT NULL AND o.region_normalized != ''`
	args := []any{}
	if country != "" {
		query += " AND o.country = ?"
		args = append(args, country)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing regions: %w", err)
	}
	defer rows.Close()

	var out []RegionKey
	for rows.Next() {
		var k RegionKey
		if err := rows.Scan(&k.Country, &k.RegionSlug); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Country != out[j].Country {
			return out[i].Country < out[j].Country
		}
		return out[i].RegionSlug < out[j].RegionSlug
	})
	return out, nil
}

// mostCommon returns the highest-count key, breaking ties alphabetically
// for determinism.
func mostCommon(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestN := "", 0
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}
