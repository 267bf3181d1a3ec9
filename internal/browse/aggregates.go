package browse

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ternarybob/kissaten/internal/canon"
	"github.com/ternarybob/kissaten/internal/models"
)

// countryStatistics computes the aggregate block of §4.7's country detail:
// bean/roaster/region/farm counts plus average elevation and USD price.
func (s *Service) countryStatistics(ctx context.Context, code string) (*models.CountryStatistics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT b.id),
			COUNT(DISTINCT b.roaster),
			COUNT(DISTINCT o.region_normalized),
			COUNT(DISTINCT o.farm_normalized),
			AVG((o.elevation_min + o.elevation_max) / 2.0),
			AVG(b.price_usd)
		FROM origins o JOIN beans b ON b.id = o.bean_id
		WHERE o.country = ?`, code)

	var stats models.CountryStatistics
	var avgElev, avgPrice sql.NullFloat64
	if err := row.Scan(&stats.TotalBeans, &stats.TotalRoasters, &stats.TotalRegions, &stats.TotalFarms, &avgElev, &avgPrice); err != nil {
		return nil, fmt.Errorf("aggregating country statistics: %w", err)
	}
	if avgElev.Valid {
		v := int(avgElev.Float64)
		stats.AvgElevation = &v
	}
	if avgPrice.Valid {
		v := avgPrice.Float64
		stats.AvgPriceUSD = &v
	}
	return &stats, nil
}

// regionStatistics computes the aggregate block of §4.7's region detail.
func (s *Service) regionStatistics(ctx context.Context, code, regionSlug string) (*models.RegionStatistics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT b.id),
			COUNT(DISTINCT b.roaster),
			COUNT(DISTINCT o.farm_normalized),
			AVG((o.elevation_min + o.elevation_max) / 2.0),
			AVG(b.price_usd)
		FROM origins o JOIN beans b ON b.id = o.bean_id
		WHERE o.country = ? AND o.region_normalized = ?`, code, regionSlug)

	var stats models.RegionStatistics
	var avgElev, avgPrice sql.NullFloat64
	if err := row.Scan(&stats.TotalBeans, &stats.TotalRoasters, &stats.TotalFarms, &avgElev, &avgPrice); err != nil {
		return nil, fmt.Errorf("aggregating region statistics: %w", err)
	}
	if avgElev.Valid {
		v := int(avgElev.Float64)
		stats.AvgElevation = &v
	}
	if avgPrice.Valid {
		v := avgPrice.Float64
		stats.AvgPriceUSD = &v
	}
	return &stats, nil
}

// regionDisplayName picks a representative raw region label for a slug and
// reports whether the slug came from a canonical-state mapping (is_geocoded)
// rather than a raw normalize fallback.
func (s *Service) regionDisplayName(ctx context.Context, code, regionSlug string) (name string, isGeocoded bool, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT region, COUNT(*) AS n FROM origins
		WHERE country = ? AND region_normalized = ?
		GROUP BY region ORDER BY n DESC LIMIT 1`, code, regionSlug)
	var region sql.NullString
	var n int
	scanErr := row.Scan(&region, &n)
	if scanErr == sql.ErrNoRows {
		return "", false, false, nil
	}
	if scanErr != nil {
		return "", false, false, fmt.Errorf("resolving region display name: %w", scanErr)
	}
	// A region is geocoded when its slug differs from the raw region's own
	// normalized form, i.e. it only matches because of a canonical mapping.
	isGeocoded = canon.NormalizeRegionName(region.String) != regionSlug
	return region.String, isGeocoded, true, nil
}

// topFarms aggregates per-farm bean/producer/elevation stats for a region
// detail, limited to the N largest by bean count.
func (s *Service) topFarms(ctx context.Context, where string, args []any, limit int) ([]models.FarmSummary, error) {
	query := fmt.Sprintf(`
		SELECT o.farm, MAX(o.producer), COUNT(DISTINCT b.id), AVG((o.elevation_min + o.elevation_max) / 2.0)
		FROM origins o JOIN beans b ON b.id = o.bean_id
		WHERE %s AND o.farm IS NOT NULL AND o.farm != ''
		GROUP BY o.farm
		ORDER BY COUNT(DISTINCT b.id) DESC
		LIMIT ?`, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("aggregating top farms: %w", err)
	}
	defer rows.Close()

	var out []models.FarmSummary
	for rows.Next() {
		var f models.FarmSummary
		var producer sql.NullString
		var avgElev sql.NullFloat64
		if err := rows.Scan(&f.FarmName, &producer, &f.BeanCount, &avgElev); err != nil {
			return nil, err
		}
		f.ProducerName = producer.String
		if avgElev.Valid {
			v := int(avgElev.Float64)
			f.AvgElevation = &v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// producerSummaries consolidates producer mention counts across a farm's
// origin rows (§4.7: "consolidates producer statistics across Origin rows").
func (s *Service) producerSummaries(ctx context.Context, where string, args []any) ([]models.ProducerSummary, error) {
	query := fmt.Sprintf(`
		SELECT o.producer, COUNT(*) FROM origins o
		WHERE %s AND o.producer IS NOT NULL AND o.producer != ''
		GROUP BY o.producer ORDER BY COUNT(*) DESC`, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating producers: %w", err)
	}
	defer rows.Close()

	var out []models.ProducerSummary
	for rows.Next() {
		var p models.ProducerSummary
		if err := rows.Scan(&p.Name, &p.MentionCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// topRoasters counts distinct beans per roaster within an origin-level
// filter, e.g. "o.country = ?".
func (s *Service) topRoasters(ctx context.Context, where string, args []any, limit int) ([]models.TopRoaster, error) {
	query := fmt.Sprintf(`
		SELECT b.roaster, COUNT(DISTINCT b.id) FROM origins o JOIN beans b ON b.id = o.bean_id
		WHERE %s
		GROUP BY b.roaster ORDER BY COUNT(DISTINCT b.id) DESC LIMIT ?`, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("aggregating top roasters: %w", err)
	}
	defer rows.Close()

	var out []models.TopRoaster
	for rows.Next() {
		var r models.TopRoaster
		if err := rows.Scan(&r.RoasterName, &r.BeanCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// commonTastingNotes counts tasting note frequency among beans matching an
// origin-level filter, unnesting each bean's tasting_notes JSON array.
func (s *Service) commonTastingNotes(ctx context.Context, where string, args []any, limit int) ([]models.TopNote, error) {
	query := fmt.Sprintf(`
		SELECT je.value, COUNT(*) FROM origins o
		JOIN beans b ON b.id = o.bean_id
		JOIN json_each(b.tasting_notes) je
		WHERE (%s) AND je.value IS NOT NULL
		GROUP BY je.value ORDER BY COUNT(*) DESC LIMIT ?`, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("aggregating tasting notes: %w", err)
	}
	defer rows.Close()

	var out []models.TopNote
	for rows.Next() {
		var n models.TopNote
		if err := rows.Scan(&n.Note, &n.Frequency); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// topVarietals counts canonical varietal frequency among origins matching a
// filter, unnesting variety_canonical.
func (s *Service) topVarietals(ctx context.Context, where string, args []any, limit int) ([]models.TopVariety, error) {
	query := fmt.Sprintf(`
		SELECT je.value, COUNT(*) FROM origins o
		JOIN json_each(o.variety_canonical) je
		WHERE (%s) AND je.value IS NOT NULL
		GROUP BY je.value ORDER BY COUNT(*) DESC LIMIT ?`, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("aggregating top varietals: %w", err)
	}
	defer rows.Close()

	var out []models.TopVariety
	for rows.Next() {
		var v models.TopVariety
		if err := rows.Scan(&v.Variety, &v.Count); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// topProcesses counts processing method frequency among origins matching a
// filter.
func (s *Service) topProcesses(ctx context.Context, where string, args []any, limit int) ([]models.TopProcess, error) {
	query := fmt.Sprintf(`
		SELECT o.process_common_name, COUNT(*) FROM origins o
		WHERE %s AND o.process_common_name IS NOT NULL AND o.process_common_name != ''
		GROUP BY o.process_common_name ORDER BY COUNT(*) DESC LIMIT ?`, where)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("aggregating top processes: %w", err)
	}
	defer rows.Close()

	var out []models.TopProcess
	for rows.Next() {
		var p models.TopProcess
		if err := rows.Scan(&p.Process, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// elevationInfo computes min/max/avg elevation over origins matching a
// filter, treating each origin's own min/max as its sample range.
func (s *Service) elevationInfo(ctx context.Context, where string, args []any) (*models.ElevationInfo, error) {
	query := fmt.Sprintf(`
		SELECT MIN(o.elevation_min), MAX(o.elevation_max), AVG((o.elevation_min + o.elevation_max) / 2.0)
		FROM origins o WHERE %s`, where)
	row := s.db.QueryRowContext(ctx, query, args...)
	var min, max, avg sql.NullFloat64
	if err := row.Scan(&min, &max, &avg); err != nil {
		return nil, fmt.Errorf("aggregating elevation: %w", err)
	}
	info := &models.ElevationInfo{}
	if min.Valid {
		v := int(min.Float64)
		info.Min = &v
	}
	if max.Valid {
		v := int(max.Float64)
		info.Max = &v
	}
	if avg.Valid {
		v := int(avg.Float64)
		info.Avg = &v
	}
	return info, nil
}

// countBeans counts distinct beans matching an origin-level filter, used by
// OriginSearch to report bean_count per typeahead hit.
func (s *Service) countBeans(ctx context.Context, where string, args []any) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(DISTINCT o.bean_id) FROM origins o WHERE %s", where)
	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}
