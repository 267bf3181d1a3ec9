package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/kissaten/internal/aicache"
	"github.com/ternarybob/kissaten/internal/browse"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/handlers"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/ratelimit"
	"github.com/ternarybob/kissaten/internal/search"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

func newTestServer(t *testing.T) (*Server, *sqlite.SQLiteDB) {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Storage.DatabasePath = filepath.Join(t.TempDir(), "server_test.db")

	db, err := sqlite.NewSQLiteDB(common.GetLogger(), config.SQLite())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := common.GetLogger()
	refs := sqlite.NewReferenceStorage(db.DB(), logger)
	searchSvc := search.NewService(db.DB(), refs, nil, logger)
	browseSvc := browse.NewService(db.DB(), refs, searchSvc, logger)
	cacheStore := aicache.NewStore(sqlite.NewAICacheStorage(db.DB(), logger), logger)

	srv := New(config, logger, Handlers{
		Search:    handlers.NewSearchHandler(searchSvc, logger),
		Origins:   handlers.NewOriginsHandler(browseSvc, logger),
		Varietals: handlers.NewVarietalsHandler(browseSvc, searchSvc, logger),
		Currency:  handlers.NewCurrencyHandler(nil, logger),
		AI:        handlers.NewAIHandler(cacheStore, nil, ratelimit.NewLimiter(100), time.Hour, logger),
		Admin:     handlers.NewAdminHandler(nil, db.DB(), filepath.Join(t.TempDir(), "farm_mappings.json"), 0.90, logger),
		API:       handlers.NewAPIHandler(browseSvc, logger),
	})
	return srv, db
}

func seedBean(t *testing.T, db *sqlite.SQLiteDB, b models.Bean, origins ...models.Origin) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	logger := common.GetLogger()
	require.NoError(t, sqlite.NewBeanStorage(db.DB(), logger).InsertBatch(ctx, tx, []models.Bean{b}))
	for i := range origins {
		origins[i].BeanID = b.ID
	}
	if len(origins) > 0 {
		require.NoError(t, sqlite.NewOriginStorage(db.DB(), logger).InsertBatch(ctx, tx, origins))
	}
	require.NoError(t, tx.Commit())
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func post(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes_SearchReturnsSeededBean(t *testing.T) {
	srv, db := newTestServer(t)
	now := time.Now().UTC()
	seedBean(t, db, models.Bean{
		ID: 1, Name: "Ethiopia Chelbesa", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://acme/chelbesa", CleanURLSlug: "chelbesa", BeanURLPath: "/acme/chelbesa",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "GBP",
	}, models.Origin{ID: 1, Country: "ET", Region: "Gedeb", RegionNormalized: "gedeb"})

	rec := get(t, srv, "/v1/search?query=chelbesa")
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "Ethiopia Chelbesa", result.Beans[0].Bean.Name)
	assert.Positive(t, result.Beans[0].Score)
	assert.Positive(t, result.MaxPossibleScore)
}

func TestRoutes_SearchInvalidExpressionIs400(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv, "/v1/search?variety="+`%22unterminated`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutes_SearchInvalidPaginationIs422(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv, "/v1/search?per_page=500")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = get(t, srv, "/v1/search?min_price=cheap")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRoutes_SearchByPaths(t *testing.T) {
	srv, db := newTestServer(t)
	now := time.Now().UTC()
	seedBean(t, db, models.Bean{
		ID: 1, Name: "A", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://acme/a", CleanURLSlug: "a", BeanURLPath: "/acme/a",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "GBP",
	})
	seedBean(t, db, models.Bean{
		ID: 2, Name: "B", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://acme/b", CleanURLSlug: "b", BeanURLPath: "/acme/b",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "GBP",
	})

	rec := post(t, srv, "/v1/search/by-paths", `{"bean_url_paths": ["/acme/a"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "A", result.Beans[0].Bean.Name)

	rec = post(t, srv, "/v1/search/by-paths", `{"bean_url_paths": []}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRoutes_OriginsCountryAndRegionDetail(t *testing.T) {
	srv, db := newTestServer(t)
	now := time.Now().UTC()
	seedBean(t, db, models.Bean{
		ID: 1, Name: "Huila Lot", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://acme/huila", CleanURLSlug: "huila", BeanURLPath: "/acme/huila",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "GBP",
	}, models.Origin{ID: 1, Country: "CO", Region: "Huila", RegionNormalized: "huila", Farm: "El Paraiso", FarmNormalized: "el-paraiso"})
	_, err := db.DB().Exec(`INSERT INTO country_codes (alpha_2, name) VALUES ('CO', 'Colombia')`)
	require.NoError(t, err)

	rec := get(t, srv, "/v1/origins/co")
	require.Equal(t, http.StatusOK, rec.Code)
	var country models.CountryDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &country))
	assert.Equal(t, "CO", country.CountryCode)
	assert.Equal(t, 1, country.Statistics.TotalBeans)

	rec = get(t, srv, "/v1/origins/CO/huila")
	require.Equal(t, http.StatusOK, rec.Code)
	var region models.RegionDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &region))
	assert.Equal(t, 1, region.Statistics.TotalBeans)

	rec = get(t, srv, "/v1/origins/CO/huila/el-paraiso")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, "/v1/origins/ZZ")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_VarietalsListingAndDetail(t *testing.T) {
	srv, db := newTestServer(t)
	now := time.Now().UTC()
	seedBean(t, db, models.Bean{
		ID: 1, Name: "Gesha Lot", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://acme/gesha", CleanURLSlug: "gesha", BeanURLPath: "/acme/gesha",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "GBP",
	}, models.Origin{ID: 1, Country: "PA", Variety: "Gesha", VarietyCanonical: []string{"Gesha"}})

	rec := get(t, srv, "/v1/varietals")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Gesha")

	rec = get(t, srv, "/v1/varietals/GESHA")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, "/v1/varietals/gesha/beans")
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Total)

	rec = get(t, srv, "/v1/varietals/no-such-varietal")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_AISearchServesCachedTranslation(t *testing.T) {
	srv, db := newTestServer(t)

	logger := common.GetLogger()
	store := aicache.NewStore(sqlite.NewAICacheStorage(db.DB(), logger), logger)
	maxPrice := 25.0
	require.NoError(t, store.Put(context.Background(), "fruity Ethiopian under £25", models.SearchParameters{
		Origin:            []string{"ET"},
		TastingNotesQuery: "fruit*|berry*",
		MaxPrice:          &maxPrice,
	}))

	// Whitespace/case variations share the normalized hash.
	rec := post(t, srv, "/v1/ai/search", `{"query": "  FRUITY   ethiopian under £25 "}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Cached           bool                     `json:"cached"`
		SearchURL        string                   `json:"search_url"`
		SearchParameters *models.SearchParameters `json:"search_parameters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	require.NotNil(t, resp.SearchParameters)
	assert.Equal(t, []string{"ET"}, resp.SearchParameters.Origin)
	assert.Contains(t, resp.SearchURL, "origin=ET")

	// Uncached query with no translator configured degrades to 503.
	rec = post(t, srv, "/v1/ai/search", `{"query": "something never cached"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutes_SystemAndFallback(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, "/v1/version")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, "/v1/tasting-note-categories")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, "/v1/no-such-route")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Admin without a queue wired answers 503, not a panic.
	rec = post(t, srv, "/v1/admin/reingest", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutes_ReclusterReviewFlow(t *testing.T) {
	srv, db := newTestServer(t)
	now := time.Now().UTC()
	seedBean(t, db, models.Bean{
		ID: 1, Name: "Huila Lot", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://acme/huila", CleanURLSlug: "huila", BeanURLPath: "/acme/huila",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "GBP",
	}, models.Origin{Country: "CO", Region: "Huila", RegionNormalized: "huila", Farm: "El Paraiso", FarmNormalized: "el-paraiso", Producer: "Diego Bermudez"})

	// Missing parameters are a validation error.
	rec := get(t, srv, "/v1/admin/recluster/review")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// A single-entry region has only confident singletons: nothing to review.
	rec = get(t, srv, "/v1/admin/recluster/review?country=CO&region=huila")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Total    int `json:"total"`
		Clusters []struct {
			CanonicalName string `json:"canonical_name"`
		} `json:"clusters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Zero(t, listing.Total)

	// Submitting a decision persists the resolved cluster set.
	rec = post(t, srv, "/v1/admin/recluster/review", `{
		"country": "co", "region_slug": "huila",
		"decisions": [{"canonical_name": "El Paraiso", "action": "approve"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "saved")

	// An unrecognized action is rejected.
	rec = post(t, srv, "/v1/admin/recluster/review", `{
		"country": "CO", "region_slug": "huila",
		"decisions": [{"canonical_name": "El Paraiso", "action": "merge-harder"}]
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
