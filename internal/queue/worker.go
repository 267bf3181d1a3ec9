package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/common"
)

// JobHandler processes one decoded job message. Handlers run on the
// worker pool's context and should respect cancellation for anything
// long-running.
type JobHandler func(ctx context.Context, msg *Message) error

// WorkerPool polls a Manager's queue and dispatches messages to
// type-registered handlers.
type WorkerPool struct {
	mgr      *Manager
	cfg      Config
	handlers map[string]JobHandler
	logger   arbor.ILogger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWorkerPool creates a worker pool bound to mgr.
func NewWorkerPool(mgr *Manager, cfg Config, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		mgr:      mgr,
		cfg:      cfg,
		handlers: make(map[string]JobHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler binds a handler to a job type (JobKindReingest,
// JobKindRecluster, ...). Call before Start.
func (wp *WorkerPool) RegisterHandler(jobType string, handler JobHandler) {
	wp.handlers[jobType] = handler
	wp.logger.Debug().Str("job_type", jobType).Msg("job handler registered")
}

// Start launches cfg.Concurrency polling goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info().Int("concurrency", wp.cfg.Concurrency).Msg("starting worker pool")
	for i := 0; i < wp.cfg.Concurrency; i++ {
		workerID := i
		common.SafeGo(wp.logger, fmt.Sprintf("queue-worker-%d", workerID), func() {
			wp.worker(workerID)
		})
	}
}

// Stop cancels the worker pool context and gives in-flight workers a
// moment to exit their current poll cycle.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("stopping worker pool")
	wp.cancel()
	time.Sleep(500 * time.Millisecond)
	wp.logger.Info().Msg("worker pool stopped")
}

func (wp *WorkerPool) worker(workerID int) {
	if wp.cfg.Concurrency > 0 {
		stagger := (wp.cfg.PollInterval / time.Duration(wp.cfg.Concurrency)) * time.Duration(workerID)
		if stagger > 0 {
			time.Sleep(stagger)
		}
	}

	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("worker stopped")
			return
		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil {
				if isBenignPollError(err) {
					continue
				}
				wp.logger.Warn().Err(err).Int("worker_id", workerID).Msg("error processing message")
			}
		}
	}
}

func (wp *WorkerPool) processMessage(workerID int) error {
	msg, deleteFn, err := wp.mgr.Receive(wp.ctx)
	if err != nil {
		return err
	}

	wp.logger.Debug().Str("job_id", msg.JobID).Str("type", msg.Type).Int("worker_id", workerID).Msg("processing message")

	handler, ok := wp.handlers[msg.Type]
	if !ok {
		wp.logger.Error().Str("type", msg.Type).Str("job_id", msg.JobID).Msg("no handler registered for job type")
		return wp.retryDelete(deleteFn, "unknown job type", msg)
	}

	start := time.Now()
	handlerErr := handler(wp.ctx, msg)
	duration := time.Since(start)

	if handlerErr != nil {
		wp.logger.Error().Err(handlerErr).Str("job_id", msg.JobID).Str("type", msg.Type).Dur("duration", duration).
			Int("worker_id", workerID).Msg("job handler failed")
		if err := wp.retryDelete(deleteFn, "handler failed", msg); err != nil {
			wp.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("failed to delete message after handler failure")
		}
		return handlerErr
	}

	wp.logger.Info().Str("job_id", msg.JobID).Str("type", msg.Type).Dur("duration", duration).
		Int("worker_id", workerID).Msg("job completed")
	return wp.retryDelete(deleteFn, "job completed", msg)
}

// retryDelete retries queue message deletion with exponential backoff on
// SQLITE_BUSY/"database is locked", which are expected under concurrent
// workers and clear up on the next attempt.
func (wp *WorkerPool) retryDelete(deleteFn func() error, reason string, msg *Message) error {
	var lastErr error
	delay := 200 * time.Millisecond

	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = deleteFn()
		if lastErr == nil {
			return nil
		}
		if !isBusyError(lastErr) {
			return lastErr
		}
		if attempt < 3 {
			wp.logger.Warn().Int("attempt", attempt).Str("reason", reason).Str("job_id", msg.JobID).Err(lastErr).
				Msg("queue delete failed, retrying")
			select {
			case <-wp.ctx.Done():
				return wp.ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return lastErr
}

func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isBenignPollError(err error) bool {
	return err == ErrNoMessage || isBusyError(err)
}
