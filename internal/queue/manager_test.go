package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/kissaten/internal/common"
	"github.com/ternarybob/kissaten/internal/storage/sqlite"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "queue_test.db"),
		Environment:   "test",
		CacheSizeMB:   8,
		BusyTimeoutMS: 1000,
	}
	db, err := sqlite.NewSQLiteDB(common.GetLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mgr, err := NewManager(db.DB(), "kissaten_jobs_test")
	require.NoError(t, err)
	return mgr
}

func TestManager_EnqueueThenReceiveRoundTrips(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	payload, _ := json.Marshal(ReingestPayload{DataDir: "/data/roasters", Incremental: true})
	require.NoError(t, mgr.Enqueue(ctx, Message{JobID: "job-1", Type: JobKindReingest, Payload: payload}))

	msg, deleteFn, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, JobKindReingest, msg.Type)

	var decoded ReingestPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, "/data/roasters", decoded.DataDir)

	require.NoError(t, deleteFn())
}

func TestManager_ReceiveOnEmptyQueueReturnsErrNoMessage(t *testing.T) {
	mgr := newTestManager(t)
	_, _, err := mgr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestManager_DeletedMessageIsNotRedelivered(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, Message{JobID: "job-1", Type: JobKindRecluster}))

	_, deleteFn, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, deleteFn())

	_, _, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}
