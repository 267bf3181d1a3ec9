package dedup

import (
	"context"
	"fmt"
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
		Path:          filepath.Join(t.TempDir(), "dedup_test.db"),
		Environment:   "test",
		CacheSizeMB:   8,
		BusyTimeoutMS: 1000,
	}
	db, err := sqlite.NewSQLiteDB(common.GetLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedOriginRow(t *testing.T, db *sqlite.SQLiteDB, beanID int64, origin models.Origin) {
	t.Helper()
	now := time.Now().UTC()
	tx, err := db.BeginTx(context.Background())
	require.NoError(t, err)
	beans := sqlite.NewBeanStorage(db.DB(), common.GetLogger())
	require.NoError(t, beans.InsertBatch(context.Background(), tx, []models.Bean{{
		ID: beanID, Name: "Lot", Roaster: "Acme", RoasterDirectory: "acme", URL: fmt.Sprintf("http://x/%d", beanID),
		CleanURLSlug: fmt.Sprintf("lot-%d", beanID), BeanURLPath: fmt.Sprintf("acme/lot-%d", beanID), InStock: true, ScrapedAt: now, DateAdded: now, Currency: "USD",
	}}))
	origin.BeanID = beanID
	origs := sqlite.NewOriginStorage(db.DB(), common.GetLogger())
	require.NoError(t, origs.InsertBatch(context.Background(), tx, []models.Origin{origin}))
	require.NoError(t, tx.Commit())
}

func TestFetchEntries_GroupsByFarmNormalizedWithMostCommonSpelling(t *testing.T) {
	db := newTestDB(t)
	seedOriginRow(t, db, 1, models.Origin{Country: "CO", RegionNormalized: "huila", Farm: "Quebraditas", FarmNormalized: "quebraditas", Producer: "Edinson Argote"})
	seedOriginRow(t, db, 2, models.Origin{Country: "CO", RegionNormalized: "huila", Farm: "quebraditas", FarmNormalized: "quebraditas", Producer: "Edinson Argote"})
	seedOriginRow(t, db, 3, models.Origin{Country: "CO", RegionNormalized: "huila", Farm: "Quebraditas", FarmNormalized: "quebraditas", Producer: "Edinson Argote"})

	entries, err := FetchEntries(context.Background(), db.DB(), "CO", "huila")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Quebraditas", entries[0].FarmName) // 2 of 3 rows spell it this way
	assert.Equal(t, 3, entries[0].BeanCount)
}

func TestRunForRegion_ClustersAndPersistsMappings(t *testing.T) {
	db := newTestDB(t)
	seedOriginRow(t, db, 1, models.Origin{Country: "CO", RegionNormalized: "huila", Farm: "Quebraditas", FarmNormalized: "quebraditas", Producer: "Edinson Argote"})
	seedOriginRow(t, db, 2, models.Origin{Country: "CO", RegionNormalized: "huila", Farm: "Finca Quebraditas", FarmNormalized: "finca-quebraditas", Producer: "Edinson Argote"})

	path := filepath.Join(t.TempDir(), "farm_mappings.json")
	clusters, err := RunForRegion(context.Background(), db.DB(), common.GetLogger(), path, "CO", "huila", DefaultNameThreshold)
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	loaded, err := LoadMappings(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.ElementsMatch(t, []string{"quebraditas", "finca-quebraditas"}, loaded[0].NormalizedFarmNames)
}

func TestRunForRegion_EmptyRegionProducesNoMappings(t *testing.T) {
	db := newTestDB(t)
	path := filepath.Join(t.TempDir(), "farm_mappings.json")

	clusters, err := RunForRegion(context.Background(), db.DB(), common.GetLogger(), path, "CO", "nowhere", DefaultNameThreshold)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}
