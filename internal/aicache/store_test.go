package aicache

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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "aicache_test.db"),
		Environment:   "test",
		CacheSizeMB:   8,
		BusyTimeoutMS: 1000,
	}
	db, err := sqlite.NewSQLiteDB(common.GetLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(sqlite.NewAICacheStorage(db.DB(), common.GetLogger()), common.GetLogger())
}

func TestStore_TextQueryMissThenHit(t *testing.T) {
	s := newTestStore(t)

	miss, err := s.Get(context.Background(), "colombia huila")
	require.NoError(t, err)
	assert.Nil(t, miss)

	params := models.SearchParameters{Origin: []string{"CO"}, Region: "huila"}
	require.NoError(t, s.Put(context.Background(), "colombia huila", params))

	hit, err := s.Get(context.Background(), "colombia huila")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, params, *hit)
}

func TestStore_ImageQueryRoundTrips(t *testing.T) {
	s := newTestStore(t)
	imageData := []byte{0xde, 0xad, 0xbe, 0xef}

	miss, err := s.GetImage(context.Background(), imageData)
	require.NoError(t, err)
	assert.Nil(t, miss)

	params := models.SearchParameters{Roaster: []string{"Acme"}}
	require.NoError(t, s.PutImage(context.Background(), imageData, params))

	hit, err := s.GetImage(context.Background(), imageData)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, params, *hit)
}

func TestStore_QueryNormalizationSharesHash(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(context.Background(), "  Huila   Lot ", models.SearchParameters{Region: "huila"}))

	hit, err := s.Get(context.Background(), "huila lot")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "huila", hit.Region)
}

func TestStore_HitCountIncrementsOnEachHit(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(context.Background(), "narino", models.SearchParameters{Region: "narino"}))

	for i := 0; i < 3; i++ {
		hit, err := s.Get(context.Background(), "narino")
		require.NoError(t, err)
		require.NotNil(t, hit)
	}

	entry, err := s.storage.Get(context.Background(), HashText("narino"), models.QueryTypeText)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 4, entry.HitCount) // 1 from Put + 3 Get hits
}

func TestStore_ExpiredEntryIsMissButCountedNotDeleted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutWithTTL(context.Background(), "old query", models.SearchParameters{Region: "huila"}, -time.Hour))

	hit, err := s.Get(context.Background(), "old query")
	require.NoError(t, err)
	assert.Nil(t, hit)

	expired, err := s.CountExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	entry, err := s.storage.Get(context.Background(), HashText("old query"), models.QueryTypeText)
	require.NoError(t, err)
	require.NotNil(t, entry) // still present, cleanup never deletes
}

func TestStore_ClearDeletesEverything(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(context.Background(), "huila", models.SearchParameters{Region: "huila"}))
	require.NoError(t, s.Put(context.Background(), "narino", models.SearchParameters{Region: "narino"}))

	n, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	hit, err := s.Get(context.Background(), "huila")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestHashText_Consistency(t *testing.T) {
	assert.Equal(t, HashText("Huila  Lot"), HashText("huila lot"))
	assert.NotEqual(t, HashText("Huila Lot"), HashText("Narino Lot"))
}

func TestHashImage_Consistency(t *testing.T) {
	data := []byte{1, 2, 3}
	assert.Equal(t, HashImage(data), HashImage(data))
	assert.NotEqual(t, HashImage(data), HashImage([]byte{1, 2, 4}))
}

func TestStore_PutReplacesParamsButKeepsIdentityAndHitCount(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(context.Background(), "huila", models.SearchParameters{Region: "huila"}))
	_, _ = s.Get(context.Background(), "huila") // bump hit_count to 2

	require.NoError(t, s.Put(context.Background(), "huila", models.SearchParameters{Region: "huila", Producer: "Jose Rojas"}))

	entry, err := s.storage.Get(context.Background(), HashText("huila"), models.QueryTypeText)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Jose Rojas", entry.Params.Producer)
	assert.Equal(t, 2, entry.HitCount) // re-caching preserves accumulated hit_count
}
