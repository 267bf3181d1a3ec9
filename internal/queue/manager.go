package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"maragu.dev/goqite"
)

// ErrNoMessage is returned when the queue is empty.
var ErrNoMessage = errors.New("no messages in queue")

// Manager is a thin wrapper around goqite. It provides only queue
// operations; job dispatch lives in WorkerPool.
type Manager struct {
	q *goqite.Queue
}

// NewManager opens (or creates) the named goqite queue against db. The
// warehouse connection already runs goqite.Setup once at startup
// (internal/storage/sqlite/connection.go); Setup here tolerates a second
// caller doing it again so Manager is safe to construct independently of
// that call order.
func NewManager(db *sql.DB, queueName string) (*Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := goqite.Setup(ctx, db); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return nil, err
		}
	}

	q := goqite.New(goqite.NewOpts{
		DB:   db,
		Name: queueName,
	})

	return &Manager{q: q}, nil
}

// Enqueue adds a message to the queue. This is the only way to add jobs.
func (m *Manager) Enqueue(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return m.q.Send(ctx, goqite.Message{Body: data})
}

// Receive pulls the next message from the queue, returning ErrNoMessage
// when empty. The returned delete function must be called once processing
// finishes (success or failure) to remove the message from the queue.
func (m *Manager) Receive(ctx context.Context) (*Message, func() error, error) {
	gMsg, err := m.q.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if gMsg == nil {
		return nil, nil, ErrNoMessage
	}

	var msg Message
	if err := json.Unmarshal(gMsg.Body, &msg); err != nil {
		return nil, nil, err
	}

	deleteFn := func() error {
		deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.q.Delete(deleteCtx, gMsg.ID)
	}

	return &msg, deleteFn, nil
}

// Close closes the queue manager. goqite needs no explicit teardown; this
// exists for symmetry with the rest of the service layer.
func (m *Manager) Close() error {
	return nil
}
