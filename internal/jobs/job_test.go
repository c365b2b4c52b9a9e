package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestMarkProcessing(t *testing.T) {
	t.Run("sets started_at once", func(t *testing.T) {
		job := New("novelfull:martial-world", "")
		first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
		if err := job.MarkProcessing(first); err != nil {
			t.Fatalf("MarkProcessing() error = %v", err)
		}
		if job.StartedAt == nil || !job.StartedAt.Equal(first) {
			t.Fatalf("StartedAt = %v, want %v", job.StartedAt, first)
		}

		// Redelivery re-enters processing without moving the timestamp.
		if err := job.MarkProcessing(first.Add(time.Hour)); err != nil {
			t.Fatalf("MarkProcessing() re-entry error = %v", err)
		}
		if !job.StartedAt.Equal(first) {
			t.Errorf("StartedAt moved on re-entry: %v", job.StartedAt)
		}
	})

	t.Run("rejected on terminal job", func(t *testing.T) {
		job := New("novelfull:martial-world", "")
		now := time.Now()
		if err := job.MarkCompleted("https://cdn.example.com/a.epub", now); err != nil {
			t.Fatalf("MarkCompleted() error = %v", err)
		}
		err := job.MarkProcessing(now)
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("MarkProcessing() on completed job = %v, want ErrInvalidState", err)
		}
	})
}

func TestMarkCompleted(t *testing.T) {
	t.Run("requires public URL", func(t *testing.T) {
		job := New("novelfull:martial-world", "u1")
		err := job.MarkCompleted("", time.Now())
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("MarkCompleted(\"\") = %v, want ErrInvalidState", err)
		}
	})

	t.Run("clears prior error message", func(t *testing.T) {
		job := New("novelfull:martial-world", "u1")
		job.ErrorMessage = "chapter 3 fetch failed"
		now := time.Now()
		if err := job.MarkCompleted("https://cdn.example.com/a.epub", now); err != nil {
			t.Fatalf("MarkCompleted() error = %v", err)
		}
		if job.ErrorMessage != "" {
			t.Errorf("ErrorMessage = %q, want cleared", job.ErrorMessage)
		}
		if job.CompletedAt == nil {
			t.Error("CompletedAt not set")
		}
	})
}

func TestMarkFailed(t *testing.T) {
	t.Run("requires error message", func(t *testing.T) {
		job := New("novelfull:martial-world", "")
		err := job.MarkFailed("", time.Now())
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("MarkFailed(\"\") = %v, want ErrInvalidState", err)
		}
	})

	t.Run("preserves earlier public URL", func(t *testing.T) {
		job := New("novelfull:martial-world", "")
		job.PublicURL = "https://cdn.example.com/partial.epub"
		if err := job.MarkFailed("upload timed out", time.Now()); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
		if job.PublicURL == "" {
			t.Error("PublicURL erased by failure")
		}
	})

	t.Run("no transition leaves terminal", func(t *testing.T) {
		job := New("novelfull:martial-world", "")
		if err := job.MarkFailed("boom", time.Now()); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
		if err := job.MarkCompleted("https://x/y.epub", time.Now()); !errors.Is(err, ErrInvalidState) {
			t.Errorf("MarkCompleted() on failed job = %v, want ErrInvalidState", err)
		}
	})
}
