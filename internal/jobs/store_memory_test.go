package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	job, err := store.Create(ctx, "novelfull:martial-world", "u1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if job.Status != StatusQueued {
		t.Errorf("new job status = %s, want queued", job.Status)
	}

	got, err := store.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.NovelID != job.NovelID || got.UserID != "u1" {
		t.Errorf("FindByID() = %+v", got)
	}

	if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByID(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSaveIsWholeRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	job, _ := store.Create(ctx, "novelfull:martial-world", "")
	if err := job.MarkProcessing(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, _ := store.FindByID(ctx, job.ID)
	if got.Status != StatusProcessing || got.StartedAt == nil {
		t.Errorf("saved job = %+v", got)
	}

	unknown := New("novelfull:other", "")
	if err := store.Save(ctx, unknown); !errors.Is(err, ErrNotFound) {
		t.Errorf("Save(unknown) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreFindByStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	queued, _ := store.Create(ctx, "novelfull:a", "")
	processing, _ := store.Create(ctx, "novelfull:b", "")
	_ = processing.MarkProcessing(time.Now())
	_ = store.Save(ctx, processing)
	done, _ := store.Create(ctx, "novelfull:c", "")
	_ = done.MarkProcessing(time.Now())
	_ = done.MarkCompleted("https://x/c.epub", time.Now())
	_ = store.Save(ctx, done)

	active, err := store.FindByStatus(ctx, StatusQueued, StatusProcessing)
	if err != nil {
		t.Fatalf("FindByStatus() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("FindByStatus() returned %d jobs, want 2", len(active))
	}
	for _, j := range active {
		if j.ID == done.ID {
			t.Error("terminal job returned from active query")
		}
	}
	_ = queued
}

func TestMemoryStoreFindRecentActive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old, _ := store.Create(ctx, "novelfull:a", "")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	_ = store.Save(ctx, old)
	fresh, _ := store.Create(ctx, "novelfull:b", "")

	got, err := store.FindRecentActive(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindRecentActive() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Errorf("FindRecentActive() = %v jobs", len(got))
	}
}

func TestMemoryStoreListByUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		job, _ := store.Create(ctx, "novelfull:a", "u1")
		job.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		_ = store.Save(ctx, job)
	}
	_, _ = store.Create(ctx, "novelfull:b", "u2")
	_, _ = store.Create(ctx, "novelfull:c", "") // anonymous, never listed

	page1, total, err := store.ListByUser(ctx, "u1", 1, 3)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page1) != 3 {
		t.Errorf("page 1 size = %d, want 3", len(page1))
	}
	page2, _, _ := store.ListByUser(ctx, "u1", 2, 3)
	if len(page2) != 2 {
		t.Errorf("page 2 size = %d, want 2", len(page2))
	}
	if len(page1) > 1 && page1[0].CreatedAt.Before(page1[1].CreatedAt) {
		t.Error("listing not newest-first")
	}
}
