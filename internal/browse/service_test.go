package browse

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/search"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

func newTestDB(t *testing.T) *sqlite.SQLiteDB {
	t.Helper()
	cfg := &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "browse_test.db"),
		Environment:   "test",
		CacheSizeMB:   8,
		BusyTimeoutMS: 1000,
	}
	db, err := sqlite.NewSQLiteDB(common.GetLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

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

func seedColombia(t *testing.T, db *sqlite.SQLiteDB) {
	t.Helper()
	_, err := db.DB().Exec(`INSERT INTO country_codes (alpha_2, name) VALUES ('CO', 'Colombia')`)
	require.NoError(t, err)
}

func f64(v float64) *float64 { return &v }
func ip(v int) *int          { return &v }

func TestCountryDetail_AggregatesAcrossOrigins(t *testing.T) {
	db := newTestDB(t)
	seedColombia(t, db)
	now := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "Huila Lot", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/1",
		CleanURLSlug: "huila-lot", BeanURLPath: "acme/1", InStock: true, ScrapedAt: now, DateAdded: now,
		Currency: "USD", PriceUSD: f64(20),
	}, []models.Origin{{Country: "CO", Region: "Huila", RegionNormalized: "huila", Farm: "La Palma", FarmNormalized: "la-palma", ElevationMin: ip(1700), ElevationMax: ip(1900)}})
	seedBean(t, db, models.Bean{
		ID: 2, Name: "Narino Lot", Roaster: "Beta", RoasterDirectory: "beta", URL: "http://x/2",
		CleanURLSlug: "narino-lot", BeanURLPath: "beta/2", InStock: true, ScrapedAt: now, DateAdded: now,
		Currency: "USD", PriceUSD: f64(30),
	}, []models.Origin{{Country: "CO", Region: "Narino", RegionNormalized: "narino", Farm: "El Diviso", FarmNormalized: "el-diviso", ElevationMin: ip(1600), ElevationMax: ip(1800)}})

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	detail, err := svc.CountryDetail(context.Background(), "co")
	require.NoError(t, err)
	assert.Equal(t, "CO", detail.CountryCode)
	assert.Equal(t, "Colombia", detail.CountryName)
	assert.Equal(t, 2, detail.Statistics.TotalBeans)
	assert.Equal(t, 2, detail.Statistics.TotalRoasters)
	assert.Equal(t, 2, detail.Statistics.TotalRegions)
	assert.Equal(t, 2, detail.Statistics.TotalFarms)
	require.NotNil(t, detail.Statistics.AvgPriceUSD)
	assert.InDelta(t, 25.0, *detail.Statistics.AvgPriceUSD, 0.0001)
}

func TestCountryDetail_UnknownCodeReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	_, err := svc.CountryDetail(context.Background(), "zz")
	require.Error(t, err)
}

func TestRegionDetail_MatchesSearchTotalsForSameFilter(t *testing.T) {
	db := newTestDB(t)
	seedColombia(t, db)
	now := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "Huila A", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/1",
		CleanURLSlug: "huila-a", BeanURLPath: "acme/1", InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", Region: "Huila", RegionNormalized: "huila"}})
	seedBean(t, db, models.Bean{
		ID: 2, Name: "Huila B", Roaster: "Beta", RoasterDirectory: "beta", URL: "http://x/2",
		CleanURLSlug: "huila-b", BeanURLPath: "beta/2", InStock: false, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", Region: "Huila", RegionNormalized: "huila"}})
	seedBean(t, db, models.Bean{
		ID: 3, Name: "Narino A", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/3",
		CleanURLSlug: "narino-a", BeanURLPath: "acme/3", InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", Region: "Narino", RegionNormalized: "narino"}})

	refs := sqlite.NewReferenceStorage(db.DB(), common.GetLogger())
	searchSvc := search.NewService(db.DB(), refs, nil, common.GetLogger())
	browseSvc := NewService(db.DB(), refs, searchSvc, common.GetLogger())

	region, err := browseSvc.RegionDetail(context.Background(), "CO", "huila")
	require.NoError(t, err)

	result, err := searchSvc.Search(context.Background(), models.SearchRequest{
		Origin: []string{"CO"}, Region: "huila", PerPage: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, result.Total, region.Statistics.TotalBeans)
	assert.False(t, region.IsGeocoded) // "Huila" normalizes to "huila" with no canonical mapping loaded
}

func TestRegionDetail_UnknownSlugReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	seedColombia(t, db)

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())
	_, err := svc.RegionDetail(context.Background(), "CO", "nonexistent")
	require.Error(t, err)
}

func TestFarmDetail_ConsolidatesProducersAcrossOrigins(t *testing.T) {
	db := newTestDB(t)
	seedColombia(t, db)
	now := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "Lot A", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/1",
		CleanURLSlug: "lot-a", BeanURLPath: "acme/1", InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", Region: "Huila", RegionNormalized: "huila", Farm: "La Palma", FarmNormalized: "la-palma", Producer: "Jose Rojas"}})
	seedBean(t, db, models.Bean{
		ID: 2, Name: "Lot B", Roaster: "Beta", RoasterDirectory: "beta", URL: "http://x/2",
		CleanURLSlug: "lot-b", BeanURLPath: "beta/2", InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", Region: "Huila", RegionNormalized: "huila", Farm: "La Palma", FarmNormalized: "la-palma", Producer: "Jose Rojas"}})

	refs := sqlite.NewReferenceStorage(db.DB(), common.GetLogger())
	searchSvc := search.NewService(db.DB(), refs, nil, common.GetLogger())
	browseSvc := NewService(db.DB(), refs, searchSvc, common.GetLogger())

	farm, err := browseSvc.FarmDetail(context.Background(), "CO", "huila", "la-palma")
	require.NoError(t, err)
	assert.Equal(t, "La Palma", farm.FarmName)
	require.Len(t, farm.Producers, 1)
	assert.Equal(t, "Jose Rojas", farm.Producers[0].Name)
	assert.Equal(t, 2, farm.Producers[0].MentionCount)
	assert.Len(t, farm.Beans, 2)
}

func TestOriginSearch_FindsCountryRegionAndFarmHits(t *testing.T) {
	db := newTestDB(t)
	seedColombia(t, db)
	now := time.Now().UTC()

	seedBean(t, db, models.Bean{
		ID: 1, Name: "Lot A", Roaster: "Acme", RoasterDirectory: "acme", URL: "http://x/1",
		CleanURLSlug: "lot-a", BeanURLPath: "acme/1", InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}, []models.Origin{{Country: "CO", Region: "Huila", RegionNormalized: "huila", Farm: "Finca Huila Alta", FarmNormalized: "finca-huila-alta"}})

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())

	hits, err := svc.OriginSearch(context.Background(), "Huila", 20)
	require.NoError(t, err)
	var sawRegion, sawFarm bool
	for _, h := range hits {
		if h.Type == models.OriginHitRegion {
			sawRegion = true
		}
		if h.Type == models.OriginHitFarm {
			sawFarm = true
		}
	}
	assert.True(t, sawRegion)
	assert.True(t, sawFarm)
}

func TestTastingNoteCategories_ListsInsertedRows(t *testing.T) {
	db := newTestDB(t)
	_, err := db.DB().Exec(`INSERT INTO tasting_notes_categories (tasting_note, primary_category, secondary_category, confidence)
		VALUES ('blueberry', 'Fruity', 'Berry', 0.95)`)
	require.NoError(t, err)

	svc := NewService(db.DB(), sqlite.NewReferenceStorage(db.DB(), common.GetLogger()), nil, common.GetLogger())
	cats, err := svc.TastingNoteCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "blueberry", cats[0].TastingNote)
	assert.Equal(t, "Berry", cats[0].SecondaryCategory)
}
