package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler processes one claimed task. Returning an error counts the attempt
// as failed; the queue's backoff policy decides whether it is redelivered.
type Handler func(ctx context.Context, task *Task) error

// Pool runs a set of workers consuming one named queue.
type Pool struct {
	q         *Queue
	queueName string
	handler   Handler
	workers   int
	logger    *slog.Logger
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Queue     *Queue
	QueueName string
	Handler   Handler
	Workers   int // number of concurrent workers (default 4)
	Logger    *slog.Logger
}

// NewPool creates a worker pool. It does nothing until Run is called.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		q:         cfg.Queue,
		queueName: cfg.QueueName,
		handler:   cfg.Handler,
		workers:   workers,
		logger:    logger.With("component", "queue-pool", "queue", cfg.QueueName),
	}
}

// Run starts the workers and the promoter loop, blocking until ctx is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("worker pool starting", "workers", p.workers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.promoterLoop(ctx)
	}()

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			p.workerLoop(ctx, workerNum)
		}(i)
	}

	wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	logger := p.logger.With("worker_num", workerNum)
	logger.Debug("worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("worker stopping")
			return
		}

		id, err := p.q.rdb.BLMove(ctx,
			p.q.pendingKey(p.queueName), p.q.activeKey(p.queueName),
			"RIGHT", "LEFT", time.Second,
		).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("claim failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		p.runTask(ctx, id, logger)
	}
}

// runTask executes one claimed attempt and records the outcome.
func (p *Pool) runTask(ctx context.Context, id string, logger *slog.Logger) {
	task, err := p.q.Status(ctx, p.queueName, id)
	if err != nil {
		logger.Warn("claimed unknown task", "task_id", id, "error", err)
		p.dropActive(ctx, id)
		return
	}

	// Cancelled or already-finished tasks can still surface from the
	// pending list after a requeue race; drop them without running.
	switch task.State {
	case StateCancelled, StateCompleted, StateFailed:
		p.dropActive(ctx, id)
		return
	}

	task.Attempts++
	lease := task.Timeout
	if lease <= 0 {
		lease = defaultLease
	}
	pipe := p.q.rdb.TxPipeline()
	pipe.HSet(ctx, p.q.taskKey(p.queueName, id), map[string]any{
		"state":      string(StateActive),
		"attempts":   task.Attempts,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Set(ctx, p.q.leaseKey(p.queueName, id), "1", lease)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("failed to mark task active", "task_id", id, "error", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
	}
	handlerErr := p.safeHandle(runCtx, task)
	if cancel != nil {
		cancel()
	}

	if handlerErr == nil {
		p.finish(ctx, id, StateCompleted, "")
		logger.Debug("task completed", "task_id", id, "attempt", task.Attempts)
		return
	}

	logger.Warn("task attempt failed",
		"task_id", id,
		"attempt", task.Attempts,
		"max_attempts", task.MaxAttempts,
		"error", handlerErr,
	)

	if task.Attempts >= task.MaxAttempts {
		p.finish(ctx, id, StateFailed, handlerErr.Error())
		return
	}

	// Schedule the next attempt after the configured backoff.
	delay := retryDelay(task.Backoff, task.BackoffDelay, task.Attempts)
	readyAt := time.Now().Add(delay)
	pipe = p.q.rdb.TxPipeline()
	pipe.LRem(ctx, p.q.activeKey(p.queueName), 0, id)
	pipe.Del(ctx, p.q.leaseKey(p.queueName, id))
	pipe.ZAdd(ctx, p.q.scheduledKey(p.queueName), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: id,
	})
	pipe.HSet(ctx, p.q.taskKey(p.queueName, id), map[string]any{
		"state":      string(StateScheduled),
		"last_error": handlerErr.Error(),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("failed to schedule retry", "task_id", id, "error", err)
	}
}

// safeHandle runs the handler, converting a panic into an attempt failure so
// one bad payload cannot take down the worker.
func (p *Pool) safeHandle(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, task)
}

func (p *Pool) finish(ctx context.Context, id string, state State, lastError string) {
	pipe := p.q.rdb.TxPipeline()
	pipe.LRem(ctx, p.q.activeKey(p.queueName), 0, id)
	pipe.Del(ctx, p.q.leaseKey(p.queueName, id))
	fields := map[string]any{
		"state":      string(state),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if lastError != "" {
		fields["last_error"] = lastError
	}
	pipe.HSet(ctx, p.q.taskKey(p.queueName, id), fields)
	pipe.Expire(ctx, p.q.taskKey(p.queueName, id), retention)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("failed to finish task", "task_id", id, "error", err)
	}
}

func (p *Pool) dropActive(ctx context.Context, id string) {
	_ = p.q.rdb.LRem(ctx, p.q.activeKey(p.queueName), 0, id).Err()
	_ = p.q.rdb.Del(ctx, p.q.leaseKey(p.queueName, id)).Err()
}

// promoterLoop moves due scheduled tasks back to pending and requeues
// orphaned active tasks whose lease has expired (a crashed worker).
func (p *Pool) promoterLoop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.promoteDue(ctx)
			p.reapOrphans(ctx)
		}
	}
}

func (p *Pool) promoteDue(ctx context.Context) {
	now := time.Now().UnixMilli()
	ids, err := p.q.rdb.ZRangeByScore(ctx, p.q.scheduledKey(p.queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Count: 100,
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}

	for _, id := range ids {
		pipe := p.q.rdb.TxPipeline()
		pipe.ZRem(ctx, p.q.scheduledKey(p.queueName), id)
		pipe.LPush(ctx, p.q.pendingKey(p.queueName), id)
		pipe.HSet(ctx, p.q.taskKey(p.queueName, id), "state", string(StatePending))
		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Warn("failed to promote task", "task_id", id, "error", err)
		}
	}
}

func (p *Pool) reapOrphans(ctx context.Context) {
	ids, err := p.q.rdb.LRange(ctx, p.q.activeKey(p.queueName), 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return
	}

	for _, id := range ids {
		exists, err := p.q.rdb.Exists(ctx, p.q.leaseKey(p.queueName, id)).Result()
		if err != nil || exists > 0 {
			continue
		}

		task, err := p.q.Status(ctx, p.queueName, id)
		if err != nil {
			p.dropActive(ctx, id)
			continue
		}
		p.logger.Warn("requeueing task with expired lease", "task_id", id, "attempt", task.Attempts)

		if task.Attempts >= task.MaxAttempts {
			p.finish(ctx, id, StateFailed, "worker lease expired")
			continue
		}
		pipe := p.q.rdb.TxPipeline()
		pipe.LRem(ctx, p.q.activeKey(p.queueName), 0, id)
		pipe.LPush(ctx, p.q.pendingKey(p.queueName), id)
		pipe.HSet(ctx, p.q.taskKey(p.queueName, id), "state", string(StatePending))
		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Warn("failed to requeue orphan", "task_id", id, "error", err)
		}
	}
}
