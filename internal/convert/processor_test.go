package convert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/bindery/internal/artifact"
	"github.com/jackzampolin/bindery/internal/jobs"
	"github.com/jackzampolin/bindery/internal/lock"
	"github.com/jackzampolin/bindery/internal/novel"
	"github.com/jackzampolin/bindery/internal/queue"
	"github.com/jackzampolin/bindery/internal/source"
	"github.com/jackzampolin/bindery/internal/statuscache"
	"github.com/jackzampolin/bindery/internal/testutil"
)

type fakeStrategy struct {
	indexCalls int32
	indexErr   error
	chapterErr error
}

func (f *fakeStrategy) Tag() string { return "fake" }

func (f *fakeStrategy) NovelURL(slug string) string { return "https://fake.example.com/" + slug }

func (f *fakeStrategy) FetchNovelIndex(ctx context.Context, url string) (*novel.Index, error) {
	atomic.AddInt32(&f.indexCalls, 1)
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	return &novel.Index{
		Title:  "Martial World",
		Author: "Cocooned Cow",
		Chapters: []novel.ChapterRef{
			{Title: "Chapter 1", URL: url + "/1"},
			{Title: "Chapter 2", URL: url + "/2"},
			{Title: "Chapter 3", URL: url + "/3"},
		},
	}, nil
}

func (f *fakeStrategy) FetchChapterContent(ctx context.Context, url string) (string, error) {
	if f.chapterErr != nil {
		return "", f.chapterErr
	}
	return "<p>" + url + "</p>", nil
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(ctx context.Context, index *novel.Index, chapters []novel.Chapter) (*artifact.Artifact, error) {
	for i, ch := range chapters {
		if ch.Content == "" {
			return nil, fmt.Errorf("chapter %d has no content", i)
		}
	}
	return &artifact.Artifact{LocalPath: "/tmp/out.epub", FileName: "martial-world.epub"}, nil
}

type fakeStorage struct {
	uploads int32
	err     error
}

func (f *fakeStorage) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	atomic.AddInt32(&f.uploads, 1)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/" + objectName, nil
}

func (f *fakeStorage) Delete(ctx context.Context, objectName string) error { return nil }

type env struct {
	proc     *Processor
	store    *jobs.MemoryStore
	cache    *statuscache.Cache
	strategy *fakeStrategy
	storage  *fakeStorage
}

func newEnv(t *testing.T) *env {
	t.Helper()
	_, client := testutil.NewRedis(t)

	strategy := &fakeStrategy{}
	storage := &fakeStorage{}
	store := jobs.NewMemoryStore()
	cache := statuscache.New(statuscache.Config{Client: client})

	proc := New(Config{
		Store:     store,
		Cache:     cache,
		Registry:  source.NewRegistry(strategy),
		Generator: fakeGenerator{},
		Storage:   storage,
		Locker:    lock.New(lock.Config{Client: client}),
	})
	return &env{proc: proc, store: store, cache: cache, strategy: strategy, storage: storage}
}

func (e *env) createJob(t *testing.T, novelID string) *jobs.Job {
	t.Helper()
	job, err := e.store.Create(context.Background(), novelID, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return job
}

func TestProcessSuccess(t *testing.T) {
	e := newEnv(t)
	job := e.createJob(t, "fake:martial-world")
	ctx := context.Background()

	err := e.proc.Process(ctx, TaskPayload{JobID: job.ID, NovelID: job.NovelID})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, err := e.store.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Status != jobs.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.PublicURL == "" {
		t.Error("completed job has no public URL")
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not set")
	}

	entry, err := e.cache.Read(ctx, job.ID)
	if err != nil {
		t.Fatalf("cache Read() error = %v", err)
	}
	if entry.Status != jobs.StatusCompleted || entry.PublicURL != got.PublicURL {
		t.Errorf("cache entry = %+v", entry)
	}
}

func TestProcessTerminalShortCircuit(t *testing.T) {
	e := newEnv(t)
	job := e.createJob(t, "fake:martial-world")
	ctx := context.Background()

	now := time.Now().UTC()
	if err := job.MarkProcessing(now); err != nil {
		t.Fatal(err)
	}
	if err := job.MarkCompleted("https://cdn.example.com/done.epub", now); err != nil {
		t.Fatal(err)
	}
	if err := e.store.Save(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := e.proc.Process(ctx, TaskPayload{JobID: job.ID, NovelID: job.NovelID}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if calls := atomic.LoadInt32(&e.strategy.indexCalls); calls != 0 {
		t.Errorf("terminal job triggered %d fetches, want 0", calls)
	}
	if uploads := atomic.LoadInt32(&e.storage.uploads); uploads != 0 {
		t.Errorf("terminal job triggered %d uploads, want 0", uploads)
	}
}

func TestProcessFailurePersistsBothStores(t *testing.T) {
	e := newEnv(t)
	e.strategy.chapterErr = errors.New("connection reset")
	job := e.createJob(t, "fake:martial-world")
	ctx := context.Background()

	err := e.proc.Process(ctx, TaskPayload{JobID: job.ID, NovelID: job.NovelID})
	if err == nil {
		t.Fatal("Process() should surface the conversion error for retry")
	}

	got, err := e.store.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Status != jobs.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("failed job has no error message")
	}

	entry, err := e.cache.Read(ctx, job.ID)
	if err != nil {
		t.Fatalf("cache Read() error = %v", err)
	}
	if entry.Status != jobs.StatusFailed || entry.ErrorMessage == "" {
		t.Errorf("cache entry = %+v", entry)
	}
}

func TestProcessMissingJobDropsTask(t *testing.T) {
	e := newEnv(t)

	err := e.proc.Process(context.Background(), TaskPayload{JobID: "nope", NovelID: "fake:x"})
	if err != nil {
		t.Errorf("Process() for missing job = %v, want nil (drop)", err)
	}
}

func TestProcessUnsupportedSourceFails(t *testing.T) {
	e := newEnv(t)
	job := e.createJob(t, "unknown:slug")

	err := e.proc.Process(context.Background(), TaskPayload{JobID: job.ID, NovelID: job.NovelID})
	if !errors.Is(err, source.ErrUnsupportedSource) {
		t.Fatalf("Process() = %v, want ErrUnsupportedSource", err)
	}

	got, _ := e.store.FindByID(context.Background(), job.ID)
	if got.Status != jobs.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestHandlerDropsUndecodablePayload(t *testing.T) {
	e := newEnv(t)
	handler := e.proc.Handler()

	err := handler(context.Background(), &queue.Task{ID: "t1", Payload: []byte("not json")})
	if err != nil {
		t.Errorf("handler = %v, want nil for undecodable payload", err)
	}
}

func TestHandlerRoundTrip(t *testing.T) {
	e := newEnv(t)
	job := e.createJob(t, "fake:martial-world")

	payload, err := json.Marshal(TaskPayload{JobID: job.ID, NovelID: job.NovelID})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.proc.Handler()(context.Background(), &queue.Task{ID: job.ID, Payload: payload}); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	got, _ := e.store.FindByID(context.Background(), job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
