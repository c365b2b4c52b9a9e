// Package jobs defines the conversion job model, its state machine, and the
// durable Store contract. Jobs are mutated only through the transition
// methods here; stores persist whole records and enforce nothing themselves.
package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a conversion job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job represents one conversion request.
//
// UserID is empty for anonymous submissions. StartedAt and CompletedAt are
// set once and never move backwards; PublicURL and ErrorMessage are mutually
// exclusive once the job settles (a success clears any error from an earlier
// failed attempt).
type Job struct {
	ID           string     `json:"id"`
	NovelID      string     `json:"novel_id"`
	UserID       string     `json:"user_id,omitempty"`
	Status       Status     `json:"status"`
	PublicURL    string     `json:"public_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// New creates a job in the queued state. userID may be empty.
func New(novelID, userID string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		NovelID:   novelID,
		UserID:    userID,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkProcessing transitions the job to processing. Re-entry from a queue
// redelivery is idempotent: an already-set StartedAt is preserved.
func (j *Job) MarkProcessing(now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, j.ID, j.Status)
	}
	j.Status = StatusProcessing
	if j.StartedAt == nil {
		t := now.UTC()
		j.StartedAt = &t
	}
	return nil
}

// MarkCompleted transitions the job to completed with its public artifact
// address. Any error message from a prior failed attempt is cleared.
func (j *Job) MarkCompleted(publicURL string, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, j.ID, j.Status)
	}
	if publicURL == "" {
		return fmt.Errorf("%w: completion requires a public URL", ErrInvalidState)
	}
	j.Status = StatusCompleted
	j.PublicURL = publicURL
	j.ErrorMessage = ""
	if j.CompletedAt == nil {
		t := now.UTC()
		j.CompletedAt = &t
	}
	return nil
}

// MarkFailed transitions the job to failed. A public URL from an earlier
// partial success is preserved.
func (j *Job) MarkFailed(errMsg string, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, j.ID, j.Status)
	}
	if errMsg == "" {
		return fmt.Errorf("%w: failure requires an error message", ErrInvalidState)
	}
	j.Status = StatusFailed
	j.ErrorMessage = errMsg
	if j.CompletedAt == nil {
		t := now.UTC()
		j.CompletedAt = &t
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	out := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
