// Package queue provides a Redis-backed durable task queue with configurable
// retry and backoff. Submission is decoupled from processing: tasks survive
// process restarts and are delivered at least once, so handlers must be
// idempotent with respect to redelivery.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sentinel errors for the queue package.
var (
	// ErrTaskNotFound is returned when no task exists for the id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotCancelable is returned when a task has already started or
	// finished and can no longer be cancelled.
	ErrNotCancelable = errors.New("task not cancelable")
)

// State represents the dispatch state of a task.
type State string

const (
	StatePending   State = "pending"   // waiting in the queue
	StateActive    State = "active"    // claimed by a worker
	StateScheduled State = "scheduled" // waiting out a retry backoff
	StateCompleted State = "completed"
	StateFailed    State = "failed" // attempts exhausted
	StateCancelled State = "cancelled"
)

// BackoffKind selects the retry delay progression.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

const (
	// maxBackoff caps exponential retry delays.
	maxBackoff = time.Hour

	// defaultLease bounds how long a claimed task can sit without a live
	// worker before the reaper requeues it.
	defaultLease = 5 * time.Minute

	// retention keeps finished task records around for status queries.
	retention = 24 * time.Hour
)

// Options configure one enqueued task.
type Options struct {
	// MaxAttempts is the total number of delivery attempts (default 1).
	MaxAttempts int

	// Backoff selects the delay progression between attempts.
	Backoff BackoffKind

	// BackoffDelay is the base delay (default 10s).
	BackoffDelay time.Duration

	// IdempotencyKey doubles as the task id. Duplicate enqueue calls with
	// the same key collapse to the existing task. Empty generates a fresh id.
	IdempotencyKey string

	// Timeout bounds one attempt's execution. Zero means no per-attempt
	// deadline; the reaper lease still applies.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Backoff == "" {
		o.Backoff = BackoffFixed
	}
	if o.BackoffDelay <= 0 {
		o.BackoffDelay = 10 * time.Second
	}
	return o
}

// Task is the stored dispatch record for one payload.
type Task struct {
	ID           string
	Queue        string
	Payload      []byte
	State        State
	Attempts     int
	MaxAttempts  int
	Backoff      BackoffKind
	BackoffDelay time.Duration
	Timeout      time.Duration
	LastError    string
	EnqueuedAt   time.Time
	UpdatedAt    time.Time
}

// Queue enqueues, inspects, and cancels tasks.
type Queue struct {
	rdb    redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// Config configures a Queue.
type Config struct {
	Client redis.UniversalClient
	Prefix string // key namespace (default "bindery:queue")
	Logger *slog.Logger
}

// New creates a Queue.
func New(cfg Config) *Queue {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "bindery:queue"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		rdb:    cfg.Client,
		prefix: prefix,
		logger: logger.With("component", "queue"),
	}
}

func (q *Queue) pendingKey(queue string) string   { return q.prefix + ":" + queue + ":pending" }
func (q *Queue) activeKey(queue string) string    { return q.prefix + ":" + queue + ":active" }
func (q *Queue) scheduledKey(queue string) string { return q.prefix + ":" + queue + ":scheduled" }
func (q *Queue) taskKey(queue, id string) string  { return q.prefix + ":" + queue + ":task:" + id }
func (q *Queue) leaseKey(queue, id string) string { return q.prefix + ":" + queue + ":lease:" + id }

// Enqueue submits a payload to the named queue and returns the task id.
// A duplicate call with the same idempotency key returns the existing task's
// id without enqueueing again.
func (q *Queue) Enqueue(ctx context.Context, queue string, payload []byte, opts Options) (string, error) {
	opts = opts.withDefaults()

	id := opts.IdempotencyKey
	if id == "" {
		id = uuid.New().String()
	}
	taskKey := q.taskKey(queue, id)

	// HSetNX on the state field is the dedup point: only the first enqueue
	// for a key creates the record.
	created, err := q.rdb.HSetNX(ctx, taskKey, "state", string(StatePending)).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}
	if !created {
		return id, nil
	}

	now := time.Now().UTC()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, taskKey, map[string]any{
		"payload":      string(payload),
		"attempts":     0,
		"max_attempts": opts.MaxAttempts,
		"backoff":      string(opts.Backoff),
		"backoff_ms":   opts.BackoffDelay.Milliseconds(),
		"timeout_ms":   opts.Timeout.Milliseconds(),
		"enqueued_at":  now.Format(time.RFC3339Nano),
		"updated_at":   now.Format(time.RFC3339Nano),
	})
	pipe.LPush(ctx, q.pendingKey(queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}

	q.logger.Debug("task enqueued", "queue", queue, "task_id", id, "max_attempts", opts.MaxAttempts)
	return id, nil
}

// Status returns the task record or ErrTaskNotFound.
func (q *Queue) Status(ctx context.Context, queue, id string) (*Task, error) {
	fields, err := q.rdb.HGetAll(ctx, q.taskKey(queue, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("task status: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrTaskNotFound, queue, id)
	}
	return taskFromHash(queue, id, fields), nil
}

// Cancel removes a not-yet-started task. A task already claimed by a worker
// is not forcibly interrupted; it either finishes normally or times out and
// becomes eligible for retry.
func (q *Queue) Cancel(ctx context.Context, queue, id string) error {
	task, err := q.Status(ctx, queue, id)
	if err != nil {
		return err
	}

	switch task.State {
	case StatePending:
		if err := q.rdb.LRem(ctx, q.pendingKey(queue), 0, id).Err(); err != nil {
			return fmt.Errorf("cancel: %w", err)
		}
	case StateScheduled:
		if err := q.rdb.ZRem(ctx, q.scheduledKey(queue), id).Err(); err != nil {
			return fmt.Errorf("cancel: %w", err)
		}
	default:
		return fmt.Errorf("%w: %s/%s is %s", ErrNotCancelable, queue, id, task.State)
	}

	return q.setState(ctx, queue, id, StateCancelled, "")
}

func (q *Queue) setState(ctx context.Context, queue, id string, state State, lastError string) error {
	fields := map[string]any{
		"state":      string(state),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if lastError != "" {
		fields["last_error"] = lastError
	}
	if err := q.rdb.HSet(ctx, q.taskKey(queue, id), fields).Err(); err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	return nil
}

// retryDelay computes the wait before the given attempt is redelivered.
func retryDelay(kind BackoffKind, base time.Duration, attempt int) time.Duration {
	if kind != BackoffExponential || attempt <= 1 {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func taskFromHash(queue, id string, fields map[string]string) *Task {
	task := &Task{
		ID:        id,
		Queue:     queue,
		Payload:   []byte(fields["payload"]),
		State:     State(fields["state"]),
		Backoff:   BackoffKind(fields["backoff"]),
		LastError: fields["last_error"],
	}
	task.Attempts, _ = strconv.Atoi(fields["attempts"])
	task.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	if ms, err := strconv.ParseInt(fields["backoff_ms"], 10, 64); err == nil {
		task.BackoffDelay = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(fields["timeout_ms"], 10, 64); err == nil {
		task.Timeout = time.Duration(ms) * time.Millisecond
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err == nil {
		task.EnqueuedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		task.UpdatedAt = t
	}
	return task
}
