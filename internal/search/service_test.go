package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

func newTestDB(t *testing.T) *sqlite.SQLiteDB {
	t.Helper()
	cfg := &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "search_test.db"),
		Environment:   "test",
		CacheSizeMB:   8,
		BusyTimeoutMS: 1000,
	}
	db, err := sqlite.NewSQLiteDB(common.GetLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func f64(v float64) *float64 { return &v }
func ip(v int) *int          { return &v }

func seedBean(t *testing.T, db *sqlite.SQLiteDB, b models.Bean, origins []models.Origin) {
	t.Helper()
	tx, err := db.BeginTx(context.Background())
	require.NoError(t, err)
	beans := sqlite.NewBeanStorage(db.DB(), common.GetLogger())
	require.NoError(t, beans.InsertBatch(context.Background(), tx, []models.Bean{b}))
	if len(origins) > 0 {
		for i := range origins {
			origins[i].BeanID = b.ID
		}
		origs := sqlite.NewOriginStorage(db.DB(), common.GetLogger())
		require.NoError(t, origs.InsertBatch(context.Background(), tx, origins))
	}
	require.NoError(t, tx.Commit())
}

func TestSearch_FreeTextMatchesNameAndScoresHigherOnExactMatch(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "Ethiopia Yirgacheffe", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://x/1", CleanURLSlug: "ethiopia-yirgacheffe", BeanURLPath: "acme/1",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, nil)
	seedBean(t, db, models.Bean{
		ID: 2, Name: "Yirgacheffe", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://x/2", CleanURLSlug: "yirgacheffe", BeanURLPath: "acme/2",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, nil)

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	result, err := svc.Search(context.Background(), models.SearchRequest{Query: "Yirgacheffe", PerPage: 20})
	require.NoError(t, err)
	require.Len(t, result.Beans, 2)
	assert.Equal(t, "Yirgacheffe", result.Beans[0].Bean.Name) // exact match outranks substring
	assert.Equal(t, MaxPossibleScore, result.MaxPossibleScore)
}

func TestSearch_DedupesByCleanURLSlugKeepingNewestScrape(t *testing.T) {
	db := newTestDB(t)
	older := time.Now().Add(-48 * time.Hour).UTC()
	newer := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "Colombia Huila", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://x/1", CleanURLSlug: "colombia-huila", BeanURLPath: "acme/1",
		InStock: true, ScrapedAt: older, DateAdded: older, Currency: "USD", Price: f64(10),
	}, nil)
	seedBean(t, db, models.Bean{
		ID: 2, Name: "Colombia Huila", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://x/1?variant=250g", CleanURLSlug: "colombia-huila", BeanURLPath: "acme/1",
		InStock: false, ScrapedAt: newer, DateAdded: older, Currency: "USD", Price: f64(12),
	}, nil)

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	result, err := svc.Search(context.Background(), models.SearchRequest{PerPage: 20})
	require.NoError(t, err)
	require.Len(t, result.Beans, 1)
	assert.Equal(t, int64(2), result.Beans[0].Bean.ID)
	assert.False(t, result.Beans[0].Bean.InStock)
}

func TestSearch_RegionFilterMatchesNormalizedSlug(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "Huila Lot 1", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://x/1", CleanURLSlug: "huila-1", BeanURLPath: "acme/1",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", Region: "Huila Dept.", RegionNormalized: "huila"}})
	seedBean(t, db, models.Bean{
		ID: 2, Name: "Narino Lot 1", Roaster: "Acme", RoasterDirectory: "acme",
		URL: "http://x/2", CleanURLSlug: "narino-1", BeanURLPath: "acme/2",
		InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", Region: "Narino", RegionNormalized: "narino"}})

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	result, err := svc.Search(context.Background(), models.SearchRequest{Origin: []string{"co"}, Region: "huila", PerPage: 20})
	require.NoError(t, err)
	require.Len(t, result.Beans, 1)
	assert.Equal(t, int64(1), result.Beans[0].Bean.ID)
}

func TestSearch_WildcardRegionUnionMatchesOrLaw(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "A", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/1",
		CleanURLSlug: "a", BeanURLPath: "acme/1", InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", RegionNormalized: "huila"}})
	seedBean(t, db, models.Bean{
		ID: 2, Name: "B", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/2",
		CleanURLSlug: "b", BeanURLPath: "acme/2", InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", RegionNormalized: "narino"}})
	seedBean(t, db, models.Bean{
		ID: 3, Name: "C", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/3",
		CleanURLSlug: "c", BeanURLPath: "acme/3", InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", RegionNormalized: "cauca"}})

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	union, err := svc.Search(context.Background(), models.SearchRequest{Region: "huila|narino", PerPage: 20})
	require.NoError(t, err)
	assert.Len(t, union.Beans, 2)

	huila, err := svc.Search(context.Background(), models.SearchRequest{Region: "huila", PerPage: 20})
	require.NoError(t, err)
	narino, err := svc.Search(context.Background(), models.SearchRequest{Region: "narino", PerPage: 20})
	require.NoError(t, err)
	assert.Equal(t, huila.Total+narino.Total, union.Total)
}

func TestSearch_InvalidPerPageIsValidationError(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	_, err := svc.Search(context.Background(), models.SearchRequest{PerPage: 1000})
	require.Error(t, err)
}

func TestSearch_PriceSortPutsNullWeightLast(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "Cheap per gram", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/1",
		CleanURLSlug: "cheap", BeanURLPath: "acme/1", InStock: true, ScrapedAt: now, DateAdded: now,
		Currency: "USD", Price: f64(10), PriceUSD: f64(10), WeightGrams: ip(500),
	}, nil)
	seedBean(t, db, models.Bean{
		ID: 2, Name: "No weight reported", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/2",
		CleanURLSlug: "noweight", BeanURLPath: "acme/2", InStock: true, ScrapedAt: now, DateAdded: now,
		Currency: "USD", Price: f64(5), PriceUSD: f64(5), WeightGrams: nil,
	}, nil)

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	asc, err := svc.Search(context.Background(), models.SearchRequest{SortBy: models.SortPrice, SortOrder: models.OrderAsc, PerPage: 20})
	require.NoError(t, err)
	require.Len(t, asc.Beans, 2)
	assert.Equal(t, int64(2), asc.Beans[len(asc.Beans)-1].Bean.ID)

	desc, err := svc.Search(context.Background(), models.SearchRequest{SortBy: models.SortPrice, SortOrder: models.OrderDesc, PerPage: 20})
	require.NoError(t, err)
	require.Len(t, desc.Beans, 2)
	assert.Equal(t, int64(2), desc.Beans[len(desc.Beans)-1].Bean.ID)
}

func TestDedupeByCleanSlug_KeepsNewestPerRoasterDirectory(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	rows := []candidateRow{
		{bean: models.Bean{ID: 1, RoasterDirectory: "acme", CleanURLSlug: "x", ScrapedAt: older}},
		{bean: models.Bean{ID: 2, RoasterDirectory: "acme", CleanURLSlug: "x", ScrapedAt: newer}},
		{bean: models.Bean{ID: 3, RoasterDirectory: "other", CleanURLSlug: "x", ScrapedAt: older}},
	}
	out := dedupeByCleanSlug(rows)
	require.Len(t, out, 2)
}

func TestScoreBean_NameTiersAreMutuallyExclusive(t *testing.T) {
	exact := candidateRow{bean: models.Bean{Name: "Huila"}}
	phrase := candidateRow{bean: models.Bean{Name: "Colombia Huila Lot"}}
	substr := candidateRow{bean: models.Bean{Name: "Huilandia Reserve"}}

	assert.Equal(t, WeightExactName, scoreBean(exact, "Huila"))
	assert.Equal(t, WeightPhraseName, scoreBean(phrase, "Huila"))
	assert.Equal(t, WeightSubstringName, scoreBean(substr, "Huila"))
}

func TestContainsWordBoundary(t *testing.T) {
	assert.True(t, containsWordBoundary("colombia huila lot", "huila"))
	assert.False(t, containsWordBoundary("huilandia reserve", "huila"))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
}
