// Package delivery implements the Kindle delivery sub-pipeline: durable
// delivery records gated on completed conversion jobs, plus the queue
// consumer that sends the artifact to a device mailbox.
package delivery

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a delivery record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record represents one attempt to forward a completed artifact to a device
// mailbox. Transitions are strictly forward; a failed delivery is retried by
// creating a new record, never by reusing this one, so history stays
// auditable.
type Record struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	UserID       string     `json:"user_id"`
	Address      string     `json:"address"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewRecord creates a pending delivery record.
func NewRecord(jobID, userID, address string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:        uuid.New().String(),
		JobID:     jobID,
		UserID:    userID,
		Address:   address,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkProcessing transitions the record to processing.
func (r *Record) MarkProcessing(now time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: delivery %s is %s", ErrInvalidState, r.ID, r.Status)
	}
	r.Status = StatusProcessing
	r.UpdatedAt = now.UTC()
	return nil
}

// MarkCompleted transitions the record to completed and stamps SentAt.
func (r *Record) MarkCompleted(now time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: delivery %s is %s", ErrInvalidState, r.ID, r.Status)
	}
	t := now.UTC()
	r.Status = StatusCompleted
	r.SentAt = &t
	r.UpdatedAt = t
	return nil
}

// MarkFailed transitions the record to failed with the required error message.
func (r *Record) MarkFailed(errMsg string, now time.Time) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: delivery %s is %s", ErrInvalidState, r.ID, r.Status)
	}
	if errMsg == "" {
		return fmt.Errorf("%w: failure requires an error message", ErrInvalidState)
	}
	r.Status = StatusFailed
	r.ErrorMessage = errMsg
	r.UpdatedAt = now.UTC()
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	if r.SentAt != nil {
		t := *r.SentAt
		out.SentAt = &t
	}
	return &out
}
