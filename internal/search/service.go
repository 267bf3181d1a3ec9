// Package search implements the Search & Scoring Engine (§4.6): it
// compiles the recognized request options of models.SearchRequest into a
// parameterized warehouse query via internal/querylang, executes it,
// applies relevance scoring, deduplicates by clean_url_slug, paginates,
// and optionally converts prices through the Currency Service. Grounded
// on the teacher's advanced_search_service.go parse -> filter -> score
// pipeline shape, generalized from document search to the bean/origin
// schema.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/apperr"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/currency"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/querylang"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

// Field weights for relevance scoring (§4.6): higher is more specific.
// Name-tier weights are mutually exclusive — only the highest matching
// tier contributes, the others are implied by it and would otherwise be
// double-counted.
const (
	WeightExactName     = 100
	WeightPhraseName    = 70
	WeightSubstringName = 50
	WeightTastingNotes  = 40
	WeightRoaster       = 35
	WeightCountry       = 25
	WeightRegionFarm    = 20
	WeightDescription   = 10

	// MaxPossibleScore is the sum of every independent weight a single bean
	// could ever accumulate: the highest name tier plus every other field,
	// reported in response metadata per §4.6.
	MaxPossibleScore = WeightExactName + WeightTastingNotes + WeightRoaster + WeightCountry + WeightRegionFarm + WeightDescription
)

// Service answers §4.6 search requests and, sharing its filter surface,
// backs the §4.7 browse aggregates.
type Service struct {
	db       *sql.DB
	beans    *sqlite.BeanStorage
	origins  *sqlite.OriginStorage
	refs     *sqlite.ReferenceStorage
	currency *currency.Service
	logger   arbor.ILogger
}

func NewService(db *sql.DB, refs *sqlite.ReferenceStorage, curr *currency.Service, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Service{
		db:       db,
		beans:    sqlite.NewBeanStorage(db, logger),
		origins:  sqlite.NewOriginStorage(db, logger),
		refs:     refs,
		currency: curr,
		logger:   logger,
	}
}

// candidateRow is a bean row plus its origins, loaded in one pass before
// Go-side scoring/dedup/sort/paginate.
type candidateRow struct {
	bean    models.Bean
	origins []models.Origin
}

// Search executes one §4.6 request end to end.
func (s *Service) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResult, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	// Price bounds are compared in the conversion currency when one is
	// requested: translate them through the USD pivot and filter on
	// price_usd instead of the per-bean currency column.
	if req.ConvertToCurrency != "" && s.currency != nil {
		if req.MinPrice != nil {
			if v, err := s.currency.Convert(ctx, *req.MinPrice, req.ConvertToCurrency, "USD"); err == nil && v != nil {
				req.MinPriceUSD = v
				req.MinPrice = nil
			}
		}
		if req.MaxPrice != nil {
			if v, err := s.currency.Convert(ctx, *req.MaxPrice, req.ConvertToCurrency, "USD"); err == nil && v != nil {
				req.MaxPriceUSD = v
				req.MaxPrice = nil
			}
		}
	}

	where, args, err := s.buildWhere(req)
	if err != nil {
		return nil, err
	}

	rows, err := s.fetchCandidates(ctx, where, args)
	if err != nil {
		return nil, fmt.Errorf("fetching search candidates: %w", err)
	}

	rows = dedupeByCleanSlug(rows)

	useRelevance := req.SortBy == models.SortRelevance || req.Query != ""
	scored := make([]models.ScoredBean, 0, len(rows))
	for _, r := range rows {
		sc := 0
		if useRelevance {
			sc = scoreBean(r, req.Query)
		}
		scored = append(scored, models.ScoredBean{Bean: r.bean, Score: sc})
	}

	sortBy, sortOrder := req.SortBy, req.SortOrder
	if sortBy == "" && req.Query != "" {
		sortBy = models.SortRelevance
	}
	if sortBy == models.SortRelevance && sortOrder == "" {
		sortOrder = models.OrderDesc
	}
	sortScored(scored, sortBy, sortOrder)

	total := len(scored)
	totalPages := (total + req.PerPage - 1) / req.PerPage
	start := (req.Page - 1) * req.PerPage
	end := start + req.PerPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	page := scored[start:end]

	convertedCount := 0
	if req.ConvertToCurrency != "" && s.currency != nil {
		for i := range page {
			if s.applyConversion(ctx, &page[i], req.ConvertToCurrency) {
				convertedCount++
			}
		}
	}

	return &models.SearchResult{
		Beans:            page,
		Total:            total,
		Page:             req.Page,
		PerPage:          req.PerPage,
		TotalPages:       totalPages,
		MaxPossibleScore: MaxPossibleScore,
		ConvertedCount:   convertedCount,
	}, nil
}

// applyConversion converts a single result's price in place, per §4.6:
// "each returned bean keeps its currency set to the target, stores the
// original under original_*, and sets price_converted=true." A missing
// rate degrades gracefully — price is left untouched and price_converted
// stays false, never an error (§5 cancellation & timeouts).
func (s *Service) applyConversion(ctx context.Context, sb *models.ScoredBean, target string) bool {
	if sb.Bean.Price == nil || sb.Bean.Currency == "" {
		return false
	}
	converted, err := s.currency.Convert(ctx, *sb.Bean.Price, sb.Bean.Currency, target)
	if err != nil || converted == nil {
		return false
	}
	original := *sb.Bean.Price
	originalCurrency := sb.Bean.Currency
	sb.OriginalPrice = &original
	sb.OriginalCurrency = originalCurrency
	sb.Bean.Price = converted
	sb.Bean.Currency = target
	sb.PriceConverted = true
	return true
}

// validate enforces §4.6's recognized-options bounds, reported as
// ValidationError (422) per §7.
func validate(req *models.SearchRequest) error {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = 20
	}
	if req.PerPage > 100 {
		return apperr.Validation("per_page must be between 1 and 100")
	}
	switch req.SortBy {
	case "", models.SortName, models.SortRoaster, models.SortPrice, models.SortWeight,
		models.SortScrapedAt, models.SortOrigin, models.SortVariety, models.SortRoastLvl,
		models.SortRoastProf, models.SortRelevance, models.SortRandom, models.SortDateAdded:
	default:
		return apperr.Validation(fmt.Sprintf("unrecognized sort_by %q", req.SortBy))
	}
	switch req.SortOrder {
	case "", models.OrderAsc, models.OrderDesc, models.OrderRandom:
	default:
		return apperr.Validation(fmt.Sprintf("unrecognized sort_order %q", req.SortOrder))
	}
	if len(req.BeanURLPaths) > 100 {
		return apperr.Validation("bean_url_paths accepts at most 100 entries")
	}
	return nil
}

// buildWhere lowers every recognized filter into one parameterized SQL
// predicate, never string-interpolating a bind value (Design Notes §9).
// Bean-level predicates join directly; Origin-level predicates (region,
// producer, farm, variety, elevation) are wrapped in EXISTS so a bean
// matches if any of its origins satisfies the clause, per §4.6.
func (s *Service) buildWhere(req models.SearchRequest) (string, []any, error) {
	var clauses []string
	var args []any

	if len(req.BeanURLPaths) > 0 {
		ph := make([]string, len(req.BeanURLPaths))
		for i, p := range req.BeanURLPaths {
			ph[i] = "?"
			args = append(args, p)
		}
		clauses = append(clauses, fmt.Sprintf("beans.bean_url_path IN (%s)", strings.Join(ph, ",")))
	}

	if len(req.Roaster) > 0 {
		ph := make([]string, len(req.Roaster))
		for i, r := range req.Roaster {
			ph[i] = "?"
			args = append(args, r)
		}
		clauses = append(clauses, fmt.Sprintf("beans.roaster IN (%s)", strings.Join(ph, ",")))
	}
	if len(req.RoasterLocation) > 0 {
		ph := make([]string, len(req.RoasterLocation))
		for i, r := range req.RoasterLocation {
			ph[i] = "?"
			args = append(args, r)
		}
		clauses = append(clauses, fmt.Sprintf("beans.roaster_location IN (%s)", strings.Join(ph, ",")))
	}
	if len(req.Origin) > 0 {
		ph := make([]string, len(req.Origin))
		for i, o := range req.Origin {
			ph[i] = "?"
			args = append(args, strings.ToUpper(o))
		}
		clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM origins o WHERE o.bean_id = beans.id AND o.country IN (%s))", strings.Join(ph, ",")))
	}

	if req.InStockOnly {
		clauses = append(clauses, "beans.in_stock = 1")
	}
	if req.IsDecaf != nil {
		clauses = append(clauses, "beans.is_decaf = ?")
		args = append(args, boolInt(*req.IsDecaf))
	}
	if req.IsSingleOrigin != nil {
		clauses = append(clauses, "beans.is_single_origin = ?")
		args = append(args, boolInt(*req.IsSingleOrigin))
	}

	if req.MinPrice != nil {
		clauses = append(clauses, "beans.price >= ?")
		args = append(args, *req.MinPrice)
	}
	if req.MaxPrice != nil {
		clauses = append(clauses, "beans.price <= ?")
		args = append(args, *req.MaxPrice)
	}
	if req.MinPriceUSD != nil {
		clauses = append(clauses, "beans.price_usd >= ?")
		args = append(args, *req.MinPriceUSD)
	}
	if req.MaxPriceUSD != nil {
		clauses = append(clauses, "beans.price_usd <= ?")
		args = append(args, *req.MaxPriceUSD)
	}
	if req.MinWeight != nil {
		clauses = append(clauses, "beans.weight_grams >= ?")
		args = append(args, *req.MinWeight)
	}
	if req.MaxWeight != nil {
		clauses = append(clauses, "beans.weight_grams <= ?")
		args = append(args, *req.MaxWeight)
	}
	if req.MinElevation != nil || req.MaxElevation != nil {
		sub := "EXISTS (SELECT 1 FROM origins o WHERE o.bean_id = beans.id"
		if req.MinElevation != nil {
			sub += " AND (o.elevation_max IS NULL OR o.elevation_max >= ?)"
			args = append(args, *req.MinElevation)
		}
		if req.MaxElevation != nil {
			sub += " AND (o.elevation_min IS NULL OR o.elevation_min <= ?)"
			args = append(args, *req.MaxElevation)
		}
		sub += ")"
		clauses = append(clauses, sub)
	}

	// Bean-level mini-language filters.
	if req.RoastLevel != "" {
		frag, a, err := querylang.CompileString(req.RoastLevel, querylang.ColumnRef{Plain: "beans.roast_level"})
		if err != nil {
			return "", nil, apperr.QueryCompile(err.Error())
		}
		clauses = append(clauses, frag)
		args = append(args, a...)
	}
	if req.RoastProfile != "" {
		frag, a, err := querylang.CompileString(req.RoastProfile, querylang.ColumnRef{Plain: "beans.roast_profile"})
		if err != nil {
			return "", nil, apperr.QueryCompile(err.Error())
		}
		clauses = append(clauses, frag)
		args = append(args, a...)
	}
	if req.TastingNotesQuery != "" {
		frag, a, err := querylang.CompileString(req.TastingNotesQuery, querylang.ColumnRef{JSONArray: "beans.tasting_notes"})
		if err != nil {
			return "", nil, apperr.QueryCompile(err.Error())
		}
		clauses = append(clauses, frag)
		args = append(args, a...)
	}

	// Origin-level mini-language filters, wrapped in EXISTS per §4.6. Region
	// and farm match against the normalized/canonical-slug columns, not the
	// raw scraped text, so that search(origin, region=region_slug) agrees
	// with region_detail's canonical-state resolution (§4.7 consistency
	// invariant) and likewise for farm_normalized.
	if req.Region != "" {
		frag, a, err := compileOriginFilter(req.Region, "region_normalized")
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, frag)
		args = append(args, a...)
	}
	if req.Producer != "" {
		frag, a, err := compileOriginFilter(req.Producer, "producer")
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, frag)
		args = append(args, a...)
	}
	if req.Farm != "" {
		frag, a, err := compileOriginFilter(req.Farm, "farm_normalized")
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, frag)
		args = append(args, a...)
	}
	if req.Process != "" {
		frag, a, err := compileOriginFilter(req.Process, "process_common_name")
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, frag)
		args = append(args, a...)
	}
	if req.Variety != "" {
		// §4.5 special case: a bean matches if either the original variety
		// or the unnested canonical array matches.
		fragOrig, argsOrig, err := querylang.CompileString(req.Variety, querylang.ColumnRef{Plain: "o.variety"})
		if err != nil {
			return "", nil, apperr.QueryCompile(err.Error())
		}
		fragCanon, argsCanon, err := querylang.CompileString(req.Variety, querylang.ColumnRef{JSONArray: "o.variety_canonical"})
		if err != nil {
			return "", nil, apperr.QueryCompile(err.Error())
		}
		combined, combinedArgs := querylang.Or2(fragOrig, argsOrig, fragCanon, argsCanon)
		clauses = append(clauses, fmt.Sprintf("EXISTS (SELECT 1 FROM origins o WHERE o.bean_id = beans.id AND %s)", combined))
		args = append(args, combinedArgs...)
	}

	// Free text, matched across name, roaster, description, country full
	// name, region, farm, tasting_notes (§4.6). Acts as both a filter (a
	// bean must match at least one field) and, when scoring is active, the
	// basis of the field-weighted relevance score.
	if req.Query != "" && !req.TastingNotesOnly {
		frag, a := freeTextPredicate(req.Query)
		clauses = append(clauses, frag)
		args = append(args, a...)
	} else if req.Query != "" && req.TastingNotesOnly {
		frag, a, err := querylang.CompileString(req.Query, querylang.ColumnRef{JSONArray: "beans.tasting_notes"})
		if err != nil {
			return "", nil, apperr.QueryCompile(err.Error())
		}
		clauses = append(clauses, frag)
		args = append(args, a...)
	}

	if len(clauses) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

func compileOriginFilter(expr, column string) (string, []any, error) {
	frag, args, err := querylang.CompileString(expr, querylang.ColumnRef{Plain: "o." + column})
	if err != nil {
		return "", nil, apperr.QueryCompile(err.Error())
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM origins o WHERE o.bean_id = beans.id AND %s)", frag), args, nil
}

// freeTextPredicate builds the OR-of-substring-match clause for the plain
// `query` parameter, deliberately bypassing the mini-language (§4.6 names
// `query` separately from the wildcard-filter list in §4.5).
func freeTextPredicate(q string) (string, []any) {
	pattern := "%" + escapeLike(q) + "%"
	clause := `(beans.name LIKE ? ESCAPE '\' OR beans.roaster LIKE ? ESCAPE '\' OR beans.description LIKE ? ESCAPE '\'
		OR EXISTS (SELECT 1 FROM origins o JOIN country_codes cc ON cc.alpha_2 = o.country WHERE o.bean_id = beans.id AND cc.name LIKE ? ESCAPE '\')
		OR EXISTS (SELECT 1 FROM origins o WHERE o.bean_id = beans.id AND (o.region LIKE ? ESCAPE '\' OR o.farm LIKE ? ESCAPE '\'))
		OR EXISTS (SELECT 1 FROM json_each(beans.tasting_notes) WHERE value LIKE ? ESCAPE '\'))`
	return clause, []any{pattern, pattern, pattern, pattern, pattern, pattern, pattern}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// fetchCandidates runs the compiled WHERE against the warehouse and loads
// each matching bean's origins, so the rest of the pipeline (scoring,
// dedup, sort) never round-trips to SQL again.
func (s *Service) fetchCandidates(ctx context.Context, where string, args []any) ([]candidateRow, error) {
	beans, err := s.beans.Search(ctx, where, args)
	if err != nil {
		return nil, err
	}

	out := make([]candidateRow, 0, len(beans))
	for _, b := range beans {
		origins, err := s.origins.ByBeanID(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, candidateRow{bean: b, origins: origins})
	}
	return out, nil
}

// dedupeByCleanSlug implements §4.6's dedup rule: the same physical product
// seen across multiple scrape dates collapses to one row, the newest
// scraped_at wins.
func dedupeByCleanSlug(rows []candidateRow) []candidateRow {
	best := make(map[string]candidateRow, len(rows))
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		key := r.bean.RoasterDirectory + "\x00" + r.bean.CleanURLSlug
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = r
			continue
		}
		if r.bean.ScrapedAt.After(existing.bean.ScrapedAt) {
			best[key] = r
		}
	}
	out := make([]candidateRow, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// scoreBean implements §4.6's relevance score: the sum of field weights
// whose predicate matches, with the three name tiers mutually exclusive
// (only the most specific one that matches contributes).
func scoreBean(r candidateRow, query string) int {
	if query == "" {
		return 0
	}
	q := strings.ToLower(query)
	score := 0

	name := strings.ToLower(r.bean.Name)
	switch {
	case name == q:
		score += WeightExactName
	case containsWordBoundary(name, q):
		score += WeightPhraseName
	case strings.Contains(name, q):
		score += WeightSubstringName
	}

	for _, note := range r.bean.TastingNotes {
		if strings.Contains(strings.ToLower(note), q) {
			score += WeightTastingNotes
			break
		}
	}

	if strings.Contains(strings.ToLower(r.bean.Roaster), q) {
		score += WeightRoaster
	}

	for _, o := range r.origins {
		if strings.Contains(strings.ToLower(o.Country), q) {
			score += WeightCountry
			break
		}
	}

	for _, o := range r.origins {
		if strings.Contains(strings.ToLower(o.Region), q) || strings.Contains(strings.ToLower(o.Farm), q) {
			score += WeightRegionFarm
			break
		}
	}

	if strings.Contains(strings.ToLower(r.bean.Description), q) {
		score += WeightDescription
	}

	return score
}

func containsWordBoundary(haystack, needle string) bool {
	idx := strings.Index(haystack, needle)
	if idx < 0 {
		return false
	}
	before := idx == 0 || haystack[idx-1] == ' '
	after := idx+len(needle) == len(haystack) || haystack[idx+len(needle)] == ' '
	return before && after
}

// sortScored orders results per §4.6's sort_by/sort_order, breaking
// relevance ties by in_stock first then name, and sorting rows with a
// null weight last when sorting by price-per-gram regardless of direction
// (DESIGN.md Open Question 2).
func sortScored(scored []models.ScoredBean, sortBy models.SortField, order models.SortOrder) {
	if order == models.OrderRandom || sortBy == models.SortRandom {
		rand.Shuffle(len(scored), func(i, j int) { scored[i], scored[j] = scored[j], scored[i] })
		return
	}

	desc := order == models.OrderDesc
	less := func(i, j int) bool {
		a, b := scored[i], scored[j]
		switch sortBy {
		case models.SortRelevance:
			if a.Score != b.Score {
				if desc {
					return a.Score > b.Score
				}
				return a.Score < b.Score
			}
			if a.Bean.InStock != b.Bean.InStock {
				return a.Bean.InStock
			}
			return a.Bean.Name < b.Bean.Name
		case models.SortRoaster:
			return cmpStr(a.Bean.Roaster, b.Bean.Roaster, desc)
		case models.SortPrice:
			return cmpPricePerGram(a.Bean, b.Bean, desc)
		case models.SortWeight:
			return cmpNullableInt(a.Bean.WeightGrams, b.Bean.WeightGrams, desc)
		case models.SortScrapedAt:
			if desc {
				return a.Bean.ScrapedAt.After(b.Bean.ScrapedAt)
			}
			return a.Bean.ScrapedAt.Before(b.Bean.ScrapedAt)
		case models.SortDateAdded:
			if desc {
				return a.Bean.DateAdded.After(b.Bean.DateAdded)
			}
			return a.Bean.DateAdded.Before(b.Bean.DateAdded)
		case models.SortRoastLvl:
			return cmpStr(a.Bean.RoastLevel, b.Bean.RoastLevel, desc)
		case models.SortRoastProf:
			return cmpStr(a.Bean.RoastProfile, b.Bean.RoastProfile, desc)
		default: // name, origin, variety fall back to name ordering
			return cmpStr(a.Bean.Name, b.Bean.Name, desc)
		}
	}
	sort.SliceStable(scored, less)
}

func cmpStr(a, b string, desc bool) bool {
	if desc {
		return a > b
	}
	return a < b
}

func cmpNullableInt(a, b *int, desc bool) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil {
		return false // nulls sort last regardless of direction
	}
	if b == nil {
		return true
	}
	if desc {
		return *a > *b
	}
	return *a < *b
}

// cmpPricePerGram compares price_usd/weight_grams, sorting beans with an
// unknown weight last in either direction (DESIGN.md Open Question 2).
func cmpPricePerGram(a, b models.Bean, desc bool) bool {
	ap, aok := pricePerGram(a)
	bp, bok := pricePerGram(b)
	if !aok && !bok {
		return false
	}
	if !aok {
		return false // nulls sort last regardless of direction
	}
	if !bok {
		return true
	}
	if desc {
		return ap > bp
	}
	return ap < bp
}

func pricePerGram(b models.Bean) (float64, bool) {
	if b.WeightGrams == nil || *b.WeightGrams == 0 || b.PriceUSD == nil {
		return 0, false
	}
	return *b.PriceUSD / float64(*b.WeightGrams), true
}
