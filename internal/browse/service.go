// Package browse implements the Geography/Taxonomy Browse engine (§4.7):
// country/region/farm detail aggregates and origin typeahead search, all
// sharing the filter/canonicalization surface of internal/search so that
// "beans in Huila with chocolate notes under $20" counts consistently
// across search and browse. Grounded on
// original_source/src/kissaten/schemas/geography_models.py's response
// shapes, with the SQL aggregation written in the teacher's
// storage-layer idiom.
package browse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/apperr"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/search"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

// Service answers §4.7 browse requests.
type Service struct {
	db     *sql.DB
	refs   *sqlite.ReferenceStorage
	search *search.Service
	logger arbor.ILogger
}

func NewService(db *sql.DB, refs *sqlite.ReferenceStorage, searchSvc *search.Service, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{db: db, refs: refs, search: searchSvc, logger: logger}
}

// CountryDetail aggregates the country-wide statistics of §4.7.
func (s *Service) CountryDetail(ctx context.Context, countryCode string) (*models.CountryDetail, error) {
	code := strings.ToUpper(countryCode)
	name, ok, err := s.refs.CountryFullName(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("resolving country name: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("unknown country code %q", code))
	}

	stats, err := s.countryStatistics(ctx, code)
	if err != nil {
		return nil, err
	}
	roasters, err := s.topRoasters(ctx, "o.country = ?", []any{code}, 10)
	if err != nil {
		return nil, err
	}
	notes, err := s.commonTastingNotes(ctx, "o.country = ?", []any{code}, 15)
	if err != nil {
		return nil, err
	}
	varieties, err := s.topVarietals(ctx, "o.country = ?", []any{code}, 15)
	if err != nil {
		return nil, err
	}
	processes, err := s.topProcesses(ctx, "o.country = ?", []any{code}, 15)
	if err != nil {
		return nil, err
	}
	elevation, err := s.elevationInfo(ctx, "o.country = ?", []any{code})
	if err != nil {
		return nil, err
	}

	return &models.CountryDetail{
		CountryCode:           code,
		CountryName:           name,
		Statistics:            *stats,
		TopRoasters:           roasters,
		CommonTastingNotes:    notes,
		Varietals:             varieties,
		ProcessingMethods:     processes,
		ElevationDistribution: *elevation,
	}, nil
}

// RegionDetail resolves (country, region_slug) by matching the precomputed
// origins.region_normalized against the slug. The loader fills that column
// from the canonical state when the region has a mapping and from the raw
// region text otherwise; neither the raw region text nor the mapping table
// is consulted at query time.
func (s *Service) RegionDetail(ctx context.Context, countryCode, regionSlug string) (*models.RegionDetail, error) {
	code := strings.ToUpper(countryCode)
	countryName, ok, err := s.refs.CountryFullName(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("resolving country name: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("unknown country code %q", code))
	}

	regionName, isGeocoded, found, err := s.regionDisplayName(ctx, code, regionSlug)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound(fmt.Sprintf("unknown region %q in %q", regionSlug, code))
	}

	where := "o.country = ? AND o.region_normalized = ?"
	args := []any{code, regionSlug}

	stats, err := s.regionStatistics(ctx, code, regionSlug)
	if err != nil {
		return nil, err
	}
	farms, err := s.topFarms(ctx, where, args, 10)
	if err != nil {
		return nil, err
	}
	roasters, err := s.topRoasters(ctx, where, args, 10)
	if err != nil {
		return nil, err
	}
	notes, err := s.commonTastingNotes(ctx, where, args, 15)
	if err != nil {
		return nil, err
	}
	varieties, err := s.topVarietals(ctx, where, args, 15)
	if err != nil {
		return nil, err
	}
	processes, err := s.topProcesses(ctx, where, args, 15)
	if err != nil {
		return nil, err
	}
	elevation, err := s.elevationInfo(ctx, "o.country = ? AND o.region_normalized = ?", args)
	if err != nil {
		return nil, err
	}

	return &models.RegionDetail{
		RegionName:         regionName,
		CountryCode:        code,
		CountryName:        countryName,
		Statistics:         *stats,
		TopFarms:           farms,
		TopRoasters:        roasters,
		CommonTastingNotes: notes,
		Varietals:          varieties,
		ProcessingMethods:  processes,
		ElevationRange:     *elevation,
		IsGeocoded:         isGeocoded,
	}, nil
}

// FarmDetail resolves (country, region_slug, farm_normalized) and
// consolidates producer statistics across origin rows, per §4.7.
func (s *Service) FarmDetail(ctx context.Context, countryCode, regionSlug, farmSlug string) (*models.FarmDetail, error) {
	code := strings.ToUpper(countryCode)
	countryName, ok, err := s.refs.CountryFullName(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("resolving country name: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("unknown country code %q", code))
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT farm, region, lat, lon, MIN(elevation_min), MAX(elevation_max)
		FROM origins o
		WHERE o.country = ? AND o.region_normalized = ? AND o.farm_normalized = ?
		GROUP BY farm, region
		LIMIT 1`, code, regionSlug, farmSlug)
	var farmName, regionName sql.NullString
	var lat, lon sql.NullFloat64
	var elevMin, elevMax sql.NullInt64
	if err := row.Scan(&farmName, &regionName, &lat, &lon, &elevMin, &elevMax); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound(fmt.Sprintf("unknown farm %q in %q/%q", farmSlug, code, regionSlug))
		}
		return nil, fmt.Errorf("looking up farm: %w", err)
	}

	where := "o.country = ? AND o.region_normalized = ? AND o.farm_normalized = ?"
	args := []any{code, regionSlug, farmSlug}

	producers, err := s.producerSummaries(ctx, where, args)
	if err != nil {
		return nil, err
	}
	varieties, err := s.topVarietals(ctx, where, args, 15)
	if err != nil {
		return nil, err
	}
	processes, err := s.topProcesses(ctx, where, args, 15)
	if err != nil {
		return nil, err
	}
	notes, err := s.commonTastingNotes(ctx, where, args, 15)
	if err != nil {
		return nil, err
	}

	var beans []models.ScoredBean
	if s.search != nil {
		result, err := s.search.Search(ctx, models.SearchRequest{
			Origin:  []string{code},
			Region:  regionSlug,
			Farm:    farmSlug,
			PerPage: 100,
		})
		if err != nil {
			return nil, err
		}
		beans = result.Beans
	}

	detail := &models.FarmDetail{
		FarmName:           farmName.String,
		RegionName:         regionName.String,
		CountryCode:        code,
		CountryName:        countryName,
		Beans:              beans,
		Varietals:          varieties,
		ProcessingMethods:  processes,
		CommonTastingNotes: notes,
		Producers:          producers,
	}
	if lat.Valid {
		v := lat.Float64
		detail.Lat = &v
	}
	if lon.Valid {
		v := lon.Float64
		detail.Lon = &v
	}
	if elevMin.Valid {
		v := int(elevMin.Int64)
		detail.ElevationMin = &v
	}
	if elevMax.Valid {
		v := int(elevMax.Int64)
		detail.ElevationMax = &v
	}
	if len(producers) > 0 {
		detail.ProducerName = producers[0].Name
	}
	return detail, nil
}

// OriginSearch is the free-text typeahead of §4.7 across countries,
// regions, and farms.
func (s *Service) OriginSearch(ctx context.Context, q string, limit int) ([]models.OriginSearchResult, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	pattern := "%" + q + "%"

	var out []models.OriginSearchResult

	countryRows, err := s.db.QueryContext(ctx, `
		SELECT alpha_2, name FROM country_codes WHERE name LIKE ? COLLATE NOCASE LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching countries: %w", err)
	}
	for countryRows.Next() {
		var code, name string
		if err := countryRows.Scan(&code, &name); err != nil {
			countryRows.Close()
			return nil, err
		}
		out = append(out, models.OriginSearchResult{Type: models.OriginHitCountry, Name: name, CountryCode: code, CountryName: name})
	}
	countryRows.Close()

	regionRows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT o.country, cc.name, o.region, o.region_normalized
		FROM origins o JOIN country_codes cc ON cc.alpha_2 = o.country
		WHERE o.region LIKE ? COLLATE NOCASE LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching regions: %w", err)
	}
	for regionRows.Next() {
		var code, countryName, region, regionSlug string
		if err := regionRows.Scan(&code, &countryName, &region, &regionSlug); err != nil {
			regionRows.Close()
			return nil, err
		}
		out = append(out, models.OriginSearchResult{
			Type: models.OriginHitRegion, Name: region, CountryCode: code, CountryName: countryName,
			RegionName: region, RegionSlug: regionSlug,
		})
	}
	regionRows.Close()

	farmRows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT o.country, cc.name, o.region, o.region_normalized, o.farm, o.farm_normalized, o.producer
		FROM origins o JOIN country_codes cc ON cc.alpha_2 = o.country
		WHERE o.farm LIKE ? COLLATE NOCASE LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching farms: %w", err)
	}
	for farmRows.Next() {
		var code, countryName, region, regionSlug, farm, farmSlug, producer sql.NullString
		if err := farmRows.Scan(&code, &countryName, &region, &regionSlug, &farm, &farmSlug, &producer); err != nil {
			farmRows.Close()
			return nil, err
		}
		out = append(out, models.OriginSearchResult{
			Type: models.OriginHitFarm, Name: farm.String, CountryCode: code.String, CountryName: countryName.String,
			RegionName: region.String, RegionSlug: regionSlug.String, FarmSlug: farmSlug.String,
			ProducerName: producer.String,
		})
	}
	farmRows.Close()

	// Counts run after every cursor is closed: the pool holds one connection.
	for i, h := range out {
		where, args := "o.country = ?", []any{h.CountryCode}
		if h.Type != models.OriginHitCountry {
			where, args = where+" AND o.region_normalized = ?", append(args, h.RegionSlug)
		}
		if h.Type == models.OriginHitFarm {
			where, args = where+" AND o.farm_normalized = ?", append(args, h.FarmSlug)
		}
		out[i].BeanCount, _ = s.countBeans(ctx, where, args)
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TastingNoteCategories returns the category hierarchy backing the
// /tasting-note-categories browse endpoint.
func (s *Service) TastingNoteCategories(ctx context.Context) ([]models.TastingNoteCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tasting_note, primary_category, secondary_category, tertiary_category, confidence
		FROM tasting_notes_categories ORDER BY primary_category, secondary_category, tasting_note`)
	if err != nil {
		return nil, fmt.Errorf("listing tasting note categories: %w", err)
	}
	defer rows.Close()

	var out []models.TastingNoteCategory
	for rows.Next() {
		var c models.TastingNoteCategory
		var secondary, tertiary sql.NullString
		if err := rows.Scan(&c.TastingNote, &c.PrimaryCategory, &secondary, &tertiary, &c.Confidence); err != nil {
			return nil, err
		}
		c.SecondaryCategory = secondary.String
		c.TertiaryCategory = tertiary.String
		out = append(out, c)
	}
	return out, rows.Err()
}
