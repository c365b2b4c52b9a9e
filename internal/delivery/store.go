package delivery

import "context"

// Store is the durable record of delivery attempts. Like the job store,
// Save is a whole-record overwrite.
type Store interface {
	// Create persists a new pending record.
	Create(ctx context.Context, rec *Record) error

	// FindByID returns the record or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Record, error)

	// Save overwrites the full record. Returns ErrNotFound if the record
	// was never created.
	Save(ctx context.Context, rec *Record) error

	// ListByUser returns one page of the user's deliveries ordered newest
	// first, plus the total count.
	ListByUser(ctx context.Context, userID string, page, limit int) ([]*Record, int, error)
}
