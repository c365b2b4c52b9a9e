package jobs

import (
	"context"
	"time"
)

// Store is the durable record of conversion jobs.
//
// Save is a whole-record overwrite; there is no partial-field update at this
// layer. Callers reconstruct the full record before saving, which is what
// makes the set-once fields (StartedAt, CompletedAt) a caller-discipline
// invariant rather than a store-enforced one.
type Store interface {
	// Create persists a new queued job. userID may be empty for anonymous
	// submissions.
	Create(ctx context.Context, novelID, userID string) (*Job, error)

	// FindByID returns the job or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Job, error)

	// Save overwrites the full job record. Returns ErrNotFound if the job
	// was never created.
	Save(ctx context.Context, job *Job) error

	// FindByStatus returns all jobs whose status is in the given set.
	FindByStatus(ctx context.Context, statuses ...Status) ([]*Job, error)

	// FindRecentActive returns non-terminal jobs created after the cutoff.
	FindRecentActive(ctx context.Context, since time.Time) ([]*Job, error)

	// ListByUser returns one page of the user's jobs ordered newest first,
	// plus the total count.
	ListByUser(ctx context.Context, userID string, page, limit int) ([]*Job, int, error)
}
