// Package service is the facade the CLI and HTTP surfaces call into. It owns
// the submission and read paths: jobs are created in the durable store,
// mirrored into the status cache, and dispatched onto the work queue.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/bindery/internal/convert"
	"github.com/jackzampolin/bindery/internal/delivery"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/queue"
	"github.com/jackzampolin/bindery/internal/source"
	"github.com/jackzampolin/bindery/internal/statuscache"
)

// ErrNotReady is returned when a download or delivery is requested for a job
// that has not completed.
var ErrNotReady = errors.New("job not ready")

// defaultStaleAfter bounds how old a non-terminal cache entry may be before
// a status read double-checks the durable store.
const defaultStaleAfter = 30 * time.Second

// RetryPolicy configures how conversion tasks are retried.
type RetryPolicy struct {
	MaxAttempts  int
	Backoff      queue.BackoffKind
	BackoffDelay time.Duration
	Timeout      time.Duration
}

// Config configures a Service.
type Config struct {
	Store         jobs.Store
	DeliveryStore delivery.Store
	Cache         *statuscache.Cache
	Queue         *queue.Queue
	Registry      *source.Registry
	Convert       RetryPolicy
	Delivery      RetryPolicy
	StaleAfter    time.Duration
	Logger        *slog.Logger
}

// Service coordinates job submission, status reads, and Kindle delivery.
type Service struct {
	store         jobs.Store
	deliveryStore delivery.Store
	cache         *statuscache.Cache
	queue         *queue.Queue
	registry      *source.Registry
	convertOpts   queue.Options
	deliveryOpts  queue.Options
	staleAfter    time.Duration
	logger        *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         cfg.Store,
		deliveryStore: cfg.DeliveryStore,
		cache:         cfg.Cache,
		queue:         cfg.Queue,
		registry:      cfg.Registry,
		convertOpts:   policyOptions(cfg.Convert),
		deliveryOpts:  policyOptions(cfg.Delivery),
		staleAfter:    staleAfter,
		logger:        logger.With("component", "service"),
	}
}

func policyOptions(p RetryPolicy) queue.Options {
	return queue.Options{
		MaxAttempts:  p.MaxAttempts,
		Backoff:      p.Backoff,
		BackoffDelay: p.BackoffDelay,
		Timeout:      p.Timeout,
	}
}

// Submit validates the novel id, creates the durable job, seeds the status
// cache, and enqueues the conversion. Validation happens before any state is
// created: an unsupported source leaves no job behind.
func (s *Service) Submit(ctx context.Context, novelID, userID string) (*jobs.Job, error) {
	if _, _, err := s.registry.Resolve(novelID); err != nil {
		return nil, err
	}

	job, err := s.store.Create(ctx, novelID, userID)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.cache.Write(ctx, job.ID, statuscache.FromJob(job)); err != nil {
		// Reads fall back to the store until the reconciler rehydrates it.
		s.logger.Warn("failed to seed status cache", "job_id", job.ID, "error", err)
	}

	payload, err := json.Marshal(convert.TaskPayload{JobID: job.ID, NovelID: job.NovelID})
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	opts := s.convertOpts
	// The job id doubles as the idempotency key so a retried submit call
	// cannot double-enqueue the same job.
	opts.IdempotencyKey = job.ID
	if _, err := s.queue.Enqueue(ctx, convert.QueueName, payload, opts); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	s.logger.Info("job submitted", "job_id", job.ID, "novel_id", novelID, "user_id", userID)
	return job, nil
}

// GetStatus returns the current view of a job, preferring the cache. A miss
// or a stale non-terminal entry falls through to the durable store, and the
// fresh record is written back so the next read hits the cache again.
func (s *Service) GetStatus(ctx context.Context, jobID string) (*statuscache.Entry, error) {
	entry, err := s.cache.Read(ctx, jobID)
	if err == nil {
		fresh := entry.Status.Terminal() ||
			time.Since(entry.UpdatedAt) < s.staleAfter
		if fresh {
			return entry, nil
		}
	} else if !errors.Is(err, statuscache.ErrMiss) {
		s.logger.Warn("status cache read failed, falling back to store", "job_id", jobID, "error", err)
	}

	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Write(ctx, job.ID, statuscache.FromJob(job)); err != nil {
		s.logger.Warn("status cache write-through failed", "job_id", jobID, "error", err)
	}

	// Re-read so terminal protection applied during the merge is reflected
	// in what the caller sees.
	if entry, err := s.cache.Read(ctx, jobID); err == nil {
		return entry, nil
	}
	return entryFromJob(job), nil
}

// GetDownloadLink returns the artifact URL for a completed job.
func (s *Service) GetDownloadLink(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != jobs.StatusCompleted || job.PublicURL == "" {
		return "", fmt.Errorf("%w: job %s is %s", ErrNotReady, jobID, job.Status)
	}
	return job.PublicURL, nil
}

// ListJobs returns one page of a user's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID string, page, limit int) ([]*jobs.Job, int, error) {
	return s.store.ListByUser(ctx, userID, page, limit)
}

// SendToKindle creates a delivery record for a completed job and enqueues the
// send. The gate is the durable store, not the cache: a cached "completed"
// that the store does not corroborate must not trigger a delivery.
func (s *Service) SendToKindle(ctx context.Context, jobID, userID, address string) (*delivery.Record, error) {
	if address == "" {
		return nil, fmt.Errorf("delivery address is required")
	}

	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusCompleted || job.PublicURL == "" {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, jobID, job.Status)
	}

	rec := delivery.NewRecord(jobID, userID, address)
	if err := s.deliveryStore.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}

	payload, err := json.Marshal(delivery.TaskPayload{DeliveryID: rec.ID})
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}
	opts := s.deliveryOpts
	opts.IdempotencyKey = rec.ID
	if _, err := s.queue.Enqueue(ctx, delivery.QueueName, payload, opts); err != nil {
		return nil, fmt.Errorf("enqueue delivery %s: %w", rec.ID, err)
	}

	s.logger.Info("delivery submitted", "delivery_id", rec.ID, "job_id", jobID, "address", address)
	return rec, nil
}

// GetDeliveryHistory returns one page of a user's deliveries, newest first.
func (s *Service) GetDeliveryHistory(ctx context.Context, userID string, page, limit int) ([]*delivery.Record, int, error) {
	return s.deliveryStore.ListByUser(ctx, userID, page, limit)
}

func entryFromJob(job *jobs.Job) *statuscache.Entry {
	return &statuscache.Entry{
		JobID:        job.ID,
		Status:       job.Status,
		UserID:       job.UserID,
		PublicURL:    job.PublicURL,
		ErrorMessage: job.ErrorMessage,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		UpdatedAt:    time.Now().UTC(),
	}
}
