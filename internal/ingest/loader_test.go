package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/models"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

func newTestDB(t *testing.T) *sqlite.SQLiteDB {
	t.Helper()
	cfg := &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "ingest_test.db"),
		Environment:   "test",
		CacheSizeMB:   8,
		BusyTimeoutMS: 1000,
	}
	db, err := sqlite.NewSQLiteDB(common.GetLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// writeFile writes a snapshot or diff under
// <dataDir>/roasters/<roaster>/<date>/<name>.
func writeFile(t *testing.T, dataDir, roaster, date, name string, doc map[string]interface{}) string {
	t.Helper()
	dir := filepath.Join(dataDir, "roasters", roaster, date)
	require.NoError(t, os.MkdirAll(dir, 0755))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func snapshot(url, name, scrapedAt string, extra map[string]interface{}) map[string]interface{} {
	doc := map[string]interface{}{
		"url":        url,
		"name":       name,
		"roaster":    "Acme Coffee",
		"scraped_at": scrapedAt,
		"currency":   "GBP",
		"origins": []map[string]interface{}{
			{"country": "CO", "region": "Huila", "farm": "Finca El Paraiso", "producer": "Diego Bermudez"},
		},
	}
	for k, v := range extra {
		doc[k] = v
	}
	return doc
}

func testConfig(dataDir string) common.IngestConfig {
	missing := filepath.Join(dataDir, "no-such-file.json")
	return common.IngestConfig{
		DataDir:           dataDir,
		Incremental:       true,
		RoasterRegistry:   missing,
		RegionMappingsDir: filepath.Join(dataDir, "no-such-dir"),
		FarmMappingsFile:  missing,
		VarietalMapFile:   filepath.Join(dataDir, "varietal_mappings.json"),
		ProcessingMapFile: missing,
		CountryCodesFile:  missing,
	}
}

func beanByURL(t *testing.T, db *sqlite.SQLiteDB, url string) *models.Bean {
	t.Helper()
	bean, err := sqlite.NewBeanStorage(db.DB(), common.GetLogger()).ByURL(context.Background(), url)
	require.NoError(t, err)
	return bean
}

func countBeans(t *testing.T, db *sqlite.SQLiteDB) int {
	t.Helper()
	var n int
	require.NoError(t, db.DB().QueryRow("SELECT COUNT(*) FROM beans").Scan(&n))
	return n
}

func TestRun_StockDerivationAcrossScrapeDates(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	// Bean A in both dates, bean B only in the earlier one.
	writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", nil))
	writeFile(t, dataDir, "acme", "20250908", "bean-b_090000.json",
		snapshot("http://acme/b", "Bean B", "2025-09-08T09:00:00Z", nil))
	writeFile(t, dataDir, "acme", "20250911", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-11T09:00:00Z", nil))

	loader := NewLoader(db, nil, testConfig(dataDir), common.GetLogger())
	stats, err := loader.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.BeansInserted)

	a := beanByURL(t, db, "http://acme/a")
	require.NotNil(t, a)
	assert.True(t, a.InStock)
	assert.Equal(t, "2025-09-08T09:00:00Z", a.DateAdded.Format("2006-01-02T15:04:05Z"))
	assert.Equal(t, "2025-09-11T09:00:00Z", a.ScrapedAt.Format("2006-01-02T15:04:05Z"))
	assert.Equal(t, "bean-a", a.CleanURLSlug)
	assert.Equal(t, "/acme/bean-a", a.BeanURLPath)

	b := beanByURL(t, db, "http://acme/b")
	require.NotNil(t, b)
	assert.False(t, b.InStock)

	// B reappears in a newer scrape: back in stock.
	writeFile(t, dataDir, "acme", "20250913", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-13T09:00:00Z", nil))
	writeFile(t, dataDir, "acme", "20250913", "bean-b_090000.json",
		snapshot("http://acme/b", "Bean B", "2025-09-13T09:00:00Z", nil))
	_, err = loader.Run(context.Background(), false)
	require.NoError(t, err)

	b = beanByURL(t, db, "http://acme/b")
	require.NotNil(t, b)
	assert.True(t, b.InStock)
	assert.Equal(t, "2025-09-08T09:00:00Z", b.DateAdded.Format("2006-01-02T15:04:05Z"))
	assert.Equal(t, 2, countBeans(t, db))
}

func TestRun_DiffUpdatesApplyInScrapedAtOrder(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", map[string]interface{}{"price": 2800.0}))

	// Two diffs for the same url: the later scraped_at must win. Unknown
	// fields (origins) must be dropped, not rejected.
	writeFile(t, dataDir, "acme", "20250912", "bean-a_080000.diffjson", map[string]interface{}{
		"url": "http://acme/a", "price": 3100.0, "scraped_at": "2025-09-12T08:00:00Z",
		"origins": []map[string]interface{}{{"country": "XX"}},
	})
	writeFile(t, dataDir, "acme", "20250912", "bean-a_150000.diffjson", map[string]interface{}{
		"url": "http://acme/a", "price": 3650.0, "in_stock": false, "scraped_at": "2025-09-12T15:00:00Z",
	})

	loader := NewLoader(db, nil, testConfig(dataDir), common.GetLogger())
	stats, err := loader.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DiffsApplied)

	a := beanByURL(t, db, "http://acme/a")
	require.NotNil(t, a)
	assert.Equal(t, "Bean A", a.Name)
	require.NotNil(t, a.Price)
	assert.Equal(t, 3650.0, *a.Price)
	assert.False(t, a.InStock)

	// A malformed diff is skipped, never fatal.
	badDir := filepath.Join(dataDir, "roasters", "acme", "20250913")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "bad_090000.diffjson"), []byte("{not json"), 0644))
	stats, err = loader.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DiffsSkipped)
}

func TestRun_FullRefreshIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	for i := 0; i < 3; i++ {
		writeFile(t, dataDir, "acme", "20250908", fmt.Sprintf("bean-%d_090000.json", i),
			snapshot(fmt.Sprintf("http://acme/%d", i), fmt.Sprintf("Bean %d", i), "2025-09-08T09:00:00Z", nil))
	}

	cfg := testConfig(dataDir)
	cfg.Incremental = false
	loader := NewLoader(db, nil, cfg, common.GetLogger())

	_, err := loader.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, countBeans(t, db))

	_, err = loader.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 3, countBeans(t, db))

	var dupes int
	require.NoError(t, db.DB().QueryRow(
		"SELECT COUNT(*) FROM (SELECT url FROM beans GROUP BY roaster_directory, url HAVING COUNT(*) > 1)").Scan(&dupes))
	assert.Zero(t, dupes)
}

func TestRun_IncrementalAddsOnlyNewFiles(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", nil))

	loader := NewLoader(db, nil, testConfig(dataDir), common.GetLogger())
	_, err := loader.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, countBeans(t, db))

	// Second incremental run with nothing new is a no-op.
	stats, err := loader.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, stats.BeansInserted)
	assert.Equal(t, 1, stats.FilesSkipped)

	writeFile(t, dataDir, "acme", "20250908", "bean-c_100000.json",
		snapshot("http://acme/c", "Bean C", "2025-09-08T10:00:00Z", nil))
	stats, err = loader.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BeansInserted)
	assert.Equal(t, 2, countBeans(t, db))
}

func TestRun_ChecksumDetectionControlsReprocessing(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	path := writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", map[string]interface{}{"price": 2800.0}))

	cfg := testConfig(dataDir)
	loader := NewLoader(db, nil, cfg, common.GetLogger())
	_, err := loader.Run(context.Background(), false)
	require.NoError(t, err)

	// Rewrite the file with a new price.
	changed := snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", map[string]interface{}{"price": 3200.0})
	data, err := json.Marshal(changed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	// Without checksum verification the old values stand.
	_, err = loader.Run(context.Background(), false)
	require.NoError(t, err)
	a := beanByURL(t, db, "http://acme/a")
	require.NotNil(t, a)
	assert.Equal(t, 2800.0, *a.Price)

	// With it, the change is observed.
	cfg.CheckForChanges = true
	loader = NewLoader(db, nil, cfg, common.GetLogger())
	_, err = loader.Run(context.Background(), false)
	require.NoError(t, err)
	a = beanByURL(t, db, "http://acme/a")
	require.NotNil(t, a)
	assert.Equal(t, 3200.0, *a.Price)
	assert.Equal(t, 1, countBeans(t, db))
}

func TestRun_DeletionCascadeRemovesBeansAndLedgerEntry(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	path := writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", nil))
	writeFile(t, dataDir, "acme", "20250908", "bean-b_090000.json",
		snapshot("http://acme/b", "Bean B", "2025-09-08T09:00:00Z", nil))

	loader := NewLoader(db, nil, testConfig(dataDir), common.GetLogger())
	_, err := loader.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, countBeans(t, db))

	require.NoError(t, os.Remove(path))
	stats, err := loader.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.BeansDeleted)
	assert.Equal(t, 1, countBeans(t, db))
	assert.Nil(t, beanByURL(t, db, "http://acme/a"))

	var origins int
	require.NoError(t, db.DB().QueryRow(
		"SELECT COUNT(*) FROM origins o WHERE NOT EXISTS (SELECT 1 FROM beans b WHERE b.id = o.bean_id)").Scan(&origins))
	assert.Zero(t, origins, "orphaned origins after cascade")

	var ledger int
	require.NoError(t, db.DB().QueryRow("SELECT COUNT(*) FROM processed_files").Scan(&ledger))
	assert.Equal(t, 1, ledger)
}

func TestRun_CompoundVarietalExplodesToCanonicalNames(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	mappings := []map[string]interface{}{{
		"original_name":   "Yellow Catuai, Mundo Novo",
		"canonical_names": []string{"Yellow Catuai", "Mundo Novo"},
		"confidence":      0.98,
		"is_compound":     true,
		"separator":       ",",
	}}
	data, err := json.Marshal(mappings)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "varietal_mappings.json"), data, 0644))

	doc := snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", nil)
	doc["origins"] = []map[string]interface{}{
		{"country": "BR", "region": "Cerrado", "variety": "yellow catuai, mundo novo"},
	}
	writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json", doc)

	loader := NewLoader(db, nil, testConfig(dataDir), common.GetLogger())
	_, err = loader.Run(context.Background(), false)
	require.NoError(t, err)

	a := beanByURL(t, db, "http://acme/a")
	require.NotNil(t, a)
	origins, err := sqlite.NewOriginStorage(db.DB(), common.GetLogger()).ByBeanID(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, origins, 1)
	assert.Equal(t, []string{"Yellow Catuai", "Mundo Novo"}, origins[0].VarietyCanonical)
}

func TestRun_OutOfBoundsSnapshotIsSkippedAndCounted(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	// Weight below the 50g floor: whole record rejected.
	writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", map[string]interface{}{"weight": 20}))
	// Cupping score above 100.
	writeFile(t, dataDir, "acme", "20250908", "bean-b_090000.json",
		snapshot("http://acme/b", "Bean B", "2025-09-08T09:00:00Z", map[string]interface{}{"cupping_score": 105.0}))
	// Harvest date before the 2020 floor.
	badHarvest := snapshot("http://acme/c", "Bean C", "2025-09-08T09:00:00Z", nil)
	badHarvest["origins"] = []map[string]interface{}{{"country": "CO", "harvest_date": "2016-05-01"}}
	writeFile(t, dataDir, "acme", "20250908", "bean-c_090000.json", badHarvest)
	// A valid record alongside, proving the batch survives.
	writeFile(t, dataDir, "acme", "20250908", "bean-d_090000.json",
		snapshot("http://acme/d", "Bean D", "2025-09-08T09:00:00Z", map[string]interface{}{"weight": 250, "cupping_score": 87.5}))

	loader := NewLoader(db, nil, testConfig(dataDir), common.GetLogger())
	stats, err := loader.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.SnapshotsSkipped)
	assert.Len(t, stats.Errors, 3)
	assert.Equal(t, 1, stats.BeansInserted)
	assert.Equal(t, 1, countBeans(t, db))
	assert.Nil(t, beanByURL(t, db, "http://acme/a"))
	assert.NotNil(t, beanByURL(t, db, "http://acme/d"))
}

func TestRun_OutOfBoundsDiffIsSkippedAndCounted(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", map[string]interface{}{"price": 2800.0}))
	// Negative price violates the positivity bound.
	writeFile(t, dataDir, "acme", "20250912", "bean-a_080000.diffjson", map[string]interface{}{
		"url": "http://acme/a", "price": -5.0, "scraped_at": "2025-09-12T08:00:00Z",
	})

	loader := NewLoader(db, nil, testConfig(dataDir), common.GetLogger())
	stats, err := loader.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DiffsSkipped)
	assert.Zero(t, stats.DiffsApplied)
	assert.Len(t, stats.Errors, 1)

	a := beanByURL(t, db, "http://acme/a")
	require.NotNil(t, a)
	assert.Equal(t, 2800.0, *a.Price)
}

func TestRun_TastingNotesDedupedAndTitleCased(t *testing.T) {
	db := newTestDB(t)
	dataDir := t.TempDir()

	writeFile(t, dataDir, "acme", "20250908", "bean-a_090000.json",
		snapshot("http://acme/a", "Bean A", "2025-09-08T09:00:00Z", map[string]interface{}{
			"tasting_notes": []string{"dark chocolate", "Dark Chocolate", " cherry "},
		}))

	loader := NewLoader(db, nil, testConfig(dataDir), common.GetLogger())
	_, err := loader.Run(context.Background(), false)
	require.NoError(t, err)

	a := beanByURL(t, db, "http://acme/a")
	require.NotNil(t, a)
	assert.Equal(t, []string{"Dark Chocolate", "Cherry"}, a.TastingNotes)
}
