// Package convert runs the novel-to-ebook conversion pipeline for queued
// jobs. Tasks are delivered at least once, so every step is written to be
// safe under redelivery: a job that already reached a terminal state is never
// reprocessed, and the terminal transition itself happens under a
// distributed lock.
package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackzampolin/bindery/internal/artifact"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/lock"
	"github.com/jackzampolin/bindery/internal/novel"
	"github.com/jackzampolin/bindery/internal/queue"
	"github.com/jackzampolin/bindery/internal/source"
	"github.com/jackzampolin/bindery/internal/statuscache"
)

// QueueName is the queue conversion tasks are submitted to.
const QueueName = "convert"

// fetchWorkers bounds concurrent chapter downloads per job.
const fetchWorkers = 4

// TaskPayload is the queue payload for one conversion.
type TaskPayload struct {
	JobID   string `json:"job_id"`
	NovelID string `json:"novel_id"`
}

// Processor executes conversion tasks.
type Processor struct {
	store     jobs.Store
	cache     *statuscache.Cache
	registry  *source.Registry
	generator artifact.Generator
	storage   artifact.BlobStorage
	locker    *lock.Locker
	logger    *slog.Logger
}

// Config configures a Processor.
type Config struct {
	Store     jobs.Store
	Cache     *statuscache.Cache
	Registry  *source.Registry
	Generator artifact.Generator
	Storage   artifact.BlobStorage
	Locker    *lock.Locker
	Logger    *slog.Logger
}

// New creates a Processor.
func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     cfg.Store,
		cache:     cfg.Cache,
		registry:  cfg.Registry,
		generator: cfg.Generator,
		storage:   cfg.Storage,
		locker:    cfg.Locker,
		logger:    logger.With("component", "convert"),
	}
}

// Handler returns the queue handler for conversion tasks.
func (p *Processor) Handler() queue.Handler {
	return func(ctx context.Context, task *queue.Task) error {
		var payload TaskPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			// A payload that cannot decode will never succeed; drop it.
			p.logger.Error("dropping undecodable task", "task_id", task.ID, "error", err)
			return nil
		}
		return p.Process(ctx, payload)
	}
}

// Process runs one conversion end to end.
func (p *Processor) Process(ctx context.Context, payload TaskPayload) error {
	logger := p.logger.With("job_id", payload.JobID, "novel_id", payload.NovelID)

	job, err := p.store.FindByID(ctx, payload.JobID)
	if errors.Is(err, jobs.ErrNotFound) {
		// The durable record is gone; there is nothing to transition.
		logger.Warn("task references missing job, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", payload.JobID, err)
	}

	// Redelivery of an already-finished job is a no-op, not an error.
	if job.Status.Terminal() {
		logger.Info("job already terminal, skipping", "status", job.Status)
		return nil
	}

	if err := p.markProcessing(ctx, job); err != nil {
		return err
	}
	logger.Info("conversion started")

	publicURL, convErr := p.convert(ctx, job)
	if convErr != nil {
		logger.Error("conversion failed", "error", convErr)
		if err := p.finish(ctx, job.ID, func(j *jobs.Job, now time.Time) error {
			return j.MarkFailed(convErr.Error(), now)
		}); err != nil {
			logger.Error("failed to persist failure", "error", err)
		}
		// Surface the original error so the queue applies its retry policy.
		return convErr
	}

	if err := p.finish(ctx, job.ID, func(j *jobs.Job, now time.Time) error {
		return j.MarkCompleted(publicURL, now)
	}); err != nil {
		return err
	}
	logger.Info("conversion completed", "public_url", publicURL)
	return nil
}

// markProcessing persists the processing transition in both the durable
// store and the cache.
func (p *Processor) markProcessing(ctx context.Context, job *jobs.Job) error {
	if err := job.MarkProcessing(time.Now().UTC()); err != nil {
		return fmt.Errorf("mark processing %s: %w", job.ID, err)
	}
	if err := p.store.Save(ctx, job); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	if err := p.cache.Write(ctx, job.ID, statuscache.FromJob(job)); err != nil {
		// The durable store already holds the truth; a cache write failure
		// degrades reads but must not fail the job.
		p.logger.Warn("cache write failed", "job_id", job.ID, "error", err)
	}
	return nil
}

// convert performs the fetch/generate/upload portion of the pipeline and
// returns the artifact's public URL.
func (p *Processor) convert(ctx context.Context, job *jobs.Job) (string, error) {
	strategy, url, err := p.registry.Resolve(job.NovelID)
	if err != nil {
		return "", err
	}

	index, err := strategy.FetchNovelIndex(ctx, url)
	if err != nil {
		return "", err
	}
	if len(index.Chapters) == 0 {
		return "", fmt.Errorf("%w: no chapters listed at %s", source.ErrFetchFailed, url)
	}

	chapters, err := p.fetchChapters(ctx, strategy, index.Chapters)
	if err != nil {
		return "", err
	}

	art, err := p.generator.Generate(ctx, index, chapters)
	if err != nil {
		return "", err
	}

	objectName := job.ID + "/" + art.FileName
	publicURL, err := p.storage.Upload(ctx, art.LocalPath, objectName)
	if err != nil {
		return "", err
	}

	if err := os.Remove(art.LocalPath); err != nil {
		p.logger.Warn("local artifact cleanup failed", "path", art.LocalPath, "error", err)
	}
	return publicURL, nil
}

// fetchChapters downloads chapter bodies with bounded concurrency,
// preserving listing order. The first fetch error cancels the rest.
func (p *Processor) fetchChapters(ctx context.Context, strategy source.Strategy, refs []novel.ChapterRef) ([]novel.Chapter, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chapters := make([]novel.Chapter, len(refs))
	work := make(chan int)
	errCh := make(chan error, fetchWorkers)

	var wg sync.WaitGroup
	for w := 0; w < fetchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				content, err := strategy.FetchChapterContent(ctx, refs[i].URL)
				if err != nil {
					errCh <- fmt.Errorf("chapter %q: %w", refs[i].Title, err)
					cancel()
					return
				}
				chapters[i] = novel.Chapter{Ref: refs[i], Content: content}
			}
		}()
	}

	for i := range refs {
		select {
		case work <- i:
		case <-ctx.Done():
		}
	}
	close(work)
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return chapters, nil
}

// finish applies a terminal transition under the job's distributed lock and
// persists it to both stores. If another worker finished the job first, the
// transition is skipped.
func (p *Processor) finish(ctx context.Context, jobID string, transition func(*jobs.Job, time.Time) error) error {
	handle, err := p.locker.Acquire(ctx, "job:"+jobID, lock.DefaultTTL, 10*time.Second)
	if err != nil {
		return fmt.Errorf("lock job %s: %w", jobID, err)
	}
	defer func() {
		if err := handle.Release(ctx); err != nil {
			p.logger.Warn("lock release failed", "job_id", jobID, "error", err)
		}
	}()

	job, err := p.store.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		p.logger.Info("job finished elsewhere, keeping existing result",
			"job_id", jobID, "status", job.Status)
		return nil
	}

	if err := transition(job, time.Now().UTC()); err != nil {
		return fmt.Errorf("transition job %s: %w", jobID, err)
	}
	if err := p.store.Save(ctx, job); err != nil {
		return fmt.Errorf("save job %s: %w", jobID, err)
	}
	if err := p.cache.Write(ctx, job.ID, statuscache.FromJob(job)); err != nil {
		p.logger.Warn("cache write failed", "job_id", job.ID, "error", err)
	}
	return nil
}
