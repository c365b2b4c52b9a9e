package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackzampolin/bindery/internal/convert"
	"github.com/jackzampolin/bindery/internal/delivery"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/novel"
	"github.com/jackzampolin/bindery/internal/queue"
	"github.com/jackzampolin/bindery/internal/source"
	"github.com/jackzampolin/bindery/internal/statuscache"
	"github.com/jackzampolin/bindery/internal/testutil"
)

type stubStrategy struct{}

func (stubStrategy) Tag() string { return "novelfull" }

func (stubStrategy) NovelURL(slug string) string { return "https://novelfull.test/" + slug }

func (stubStrategy) FetchNovelIndex(ctx context.Context, url string) (*novel.Index, error) {
	return nil, errors.New("not used")
}

func (stubStrategy) FetchChapterContent(ctx context.Context, url string) (string, error) {
	return "", errors.New("not used")
}

type serviceEnv struct {
	svc      *Service
	store    *jobs.MemoryStore
	delStore *delivery.MemoryStore
	cache    *statuscache.Cache
	queue    *queue.Queue
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	_, client := testutil.NewRedis(t)

	store := jobs.NewMemoryStore()
	delStore := delivery.NewMemoryStore()
	cache := statuscache.New(statuscache.Config{Client: client})
	q := queue.New(queue.Config{Client: client})

	svc := New(Config{
		Store:         store,
		DeliveryStore: delStore,
		Cache:         cache,
		Queue:         q,
		Registry:      source.NewRegistry(stubStrategy{}),
		Convert:       RetryPolicy{MaxAttempts: 3},
	})
	return &serviceEnv{svc: svc, store: store, delStore: delStore, cache: cache, queue: q}
}

func (e *serviceEnv) completeJob(t *testing.T, job *jobs.Job, url string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := job.MarkProcessing(now); err != nil {
		t.Fatal(err)
	}
	if err := job.MarkCompleted(url, now); err != nil {
		t.Fatal(err)
	}
	if err := e.store.Save(ctx, job); err != nil {
		t.Fatal(err)
	}
}

func TestSubmit(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "novelfull:martial-world", "user-1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.Status != jobs.StatusQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}

	// Cache seeded.
	entry, err := e.cache.Read(ctx, job.ID)
	if err != nil {
		t.Fatalf("cache Read() error = %v", err)
	}
	if entry.Status != jobs.StatusQueued || entry.UserID != "user-1" {
		t.Errorf("seeded entry = %+v", entry)
	}

	// Task enqueued under the job id.
	task, err := e.queue.Status(ctx, convert.QueueName, job.ID)
	if err != nil {
		t.Fatalf("queue Status() error = %v", err)
	}
	if task.State != queue.StatePending {
		t.Errorf("task state = %s, want pending", task.State)
	}
	if task.MaxAttempts != 3 {
		t.Errorf("task max attempts = %d, want 3", task.MaxAttempts)
	}
}

func TestSubmitUnsupportedSourceLeavesNoState(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	_, err := e.svc.Submit(ctx, "webnovel:some-book", "user-1")
	if !errors.Is(err, source.ErrUnsupportedSource) {
		t.Fatalf("Submit() = %v, want ErrUnsupportedSource", err)
	}

	// No job, no cache entry, no task may exist after a rejected submit.
	found, err := e.store.FindByStatus(ctx, jobs.StatusQueued, jobs.StatusProcessing,
		jobs.StatusCompleted, jobs.StatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 0 {
		t.Errorf("rejected submit created %d jobs", len(found))
	}
}

func TestSubmitMalformedNovelID(t *testing.T) {
	e := newServiceEnv(t)
	_, err := e.svc.Submit(context.Background(), "no-separator", "user-1")
	if !errors.Is(err, source.ErrBadNovelID) {
		t.Errorf("Submit() = %v, want ErrBadNovelID", err)
	}
}

func TestGetStatusCacheHit(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "novelfull:martial-world", "user-1")
	if err != nil {
		t.Fatal(err)
	}

	entry, err := e.svc.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if entry.Status != jobs.StatusQueued {
		t.Errorf("status = %s", entry.Status)
	}
}

func TestGetStatusFallsBackToStore(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "novelfull:martial-world", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	// Simulate cache eviction.
	if err := e.cache.Remove(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	entry, err := e.svc.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if entry.Status != jobs.StatusQueued {
		t.Errorf("status = %s", entry.Status)
	}

	// Write-through repopulated the cache.
	if _, err := e.cache.Read(ctx, job.ID); err != nil {
		t.Errorf("cache not repopulated: %v", err)
	}
}

func TestGetStatusUnknownJob(t *testing.T) {
	e := newServiceEnv(t)
	_, err := e.svc.GetStatus(context.Background(), "missing")
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("GetStatus() = %v, want ErrNotFound", err)
	}
}

func TestGetDownloadLink(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "novelfull:martial-world", "user-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.svc.GetDownloadLink(ctx, job.ID); !errors.Is(err, ErrNotReady) {
		t.Errorf("GetDownloadLink() before completion = %v, want ErrNotReady", err)
	}

	e.completeJob(t, job, "https://cdn.example.com/martial-world.epub")

	url, err := e.svc.GetDownloadLink(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetDownloadLink() error = %v", err)
	}
	if url != "https://cdn.example.com/martial-world.epub" {
		t.Errorf("url = %s", url)
	}
}

func TestSendToKindleGatesOnStore(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "novelfull:martial-world", "user-1")
	if err != nil {
		t.Fatal(err)
	}

	// A cached "completed" must not be enough; the durable store still says
	// queued.
	url := "https://cdn.example.com/out.epub"
	if err := e.cache.Write(ctx, job.ID, statuscache.Update{
		Status:    jobs.StatusCompleted,
		PublicURL: &url,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.SendToKindle(ctx, job.ID, "user-1", "reader@kindle.com"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("SendToKindle() = %v, want ErrNotReady", err)
	}

	e.completeJob(t, job, url)

	rec, err := e.svc.SendToKindle(ctx, job.ID, "user-1", "reader@kindle.com")
	if err != nil {
		t.Fatalf("SendToKindle() error = %v", err)
	}
	if rec.Status != delivery.StatusPending {
		t.Errorf("record status = %s", rec.Status)
	}

	task, err := e.queue.Status(ctx, delivery.QueueName, rec.ID)
	if err != nil {
		t.Fatalf("queue Status() error = %v", err)
	}
	if task.State != queue.StatePending {
		t.Errorf("task state = %s", task.State)
	}
}

func TestGetDeliveryHistory(t *testing.T) {
	e := newServiceEnv(t)
	ctx := context.Background()

	job, err := e.svc.Submit(ctx, "novelfull:martial-world", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	e.completeJob(t, job, "https://cdn.example.com/out.epub")

	if _, err := e.svc.SendToKindle(ctx, job.ID, "user-1", "reader@kindle.com"); err != nil {
		t.Fatal(err)
	}

	recs, total, err := e.svc.GetDeliveryHistory(ctx, "user-1", 1, 10)
	if err != nil {
		t.Fatalf("GetDeliveryHistory() error = %v", err)
	}
	if total != 1 || len(recs) != 1 {
		t.Errorf("history = %d records, total %d", len(recs), total)
	}
}
