package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/kissaten/internal/common"
)

func testWorkerConfig() Config {
	return Config{QueueName: "kissaten_jobs_test", PollInterval: 20 * time.Millisecond, Concurrency: 1}
}

func TestWorkerPool_DispatchesRegisteredHandler(t *testing.T) {
	mgr := newTestManager(t)
	pool := NewWorkerPool(mgr, testWorkerConfig(), common.GetLogger())

	var mu sync.Mutex
	var received *Message
	done := make(chan struct{})

	pool.RegisterHandler(JobKindRecluster, func(ctx context.Context, msg *Message) error {
		mu.Lock()
		received = msg
		mu.Unlock()
		close(done)
		return nil
	})

	require.NoError(t, mgr.Enqueue(context.Background(), Message{JobID: "job-1", Type: JobKindRecluster}))

	pool.Start()
	defer pool.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked in time")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	assert.Equal(t, "job-1", received.JobID)
}

func TestWorkerPool_UnhandledJobTypeIsDeletedNotRetriedForever(t *testing.T) {
	mgr := newTestManager(t)
	pool := NewWorkerPool(mgr, testWorkerConfig(), common.GetLogger())
	// no handlers registered at all

	require.NoError(t, mgr.Enqueue(context.Background(), Message{JobID: "job-1", Type: "unknown_kind"}))

	pool.Start()
	defer pool.Stop()

	// give the pool a few poll cycles to drain the unhandled message
	time.Sleep(200 * time.Millisecond)

	_, _, err := mgr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}
