package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackzampolin/bindery/internal/delivery"
)

const deliveryColumns = `id, job_id, user_id, address, status, error_message, sent_at, created_at, updated_at`

// DeliveryStore is the pgx-backed delivery.Store.
type DeliveryStore struct {
	pool *pgxpool.Pool
}

// NewDeliveryStore creates a DeliveryStore.
func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	return &DeliveryStore{pool: pool}
}

func (s *DeliveryStore) Create(ctx context.Context, rec *delivery.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deliveries (`+deliveryColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.JobID, rec.UserID, rec.Address, string(rec.Status),
		rec.ErrorMessage, rec.SentAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

func (s *DeliveryStore) FindByID(ctx context.Context, id string) (*delivery.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	rec, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", delivery.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery %s: %w", id, err)
	}
	return rec, nil
}

func (s *DeliveryStore) Save(ctx context.Context, rec *delivery.Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deliveries SET status=$2, error_message=$3, sent_at=$4, updated_at=$5
		 WHERE id = $1`,
		rec.ID, string(rec.Status), rec.ErrorMessage, rec.SentAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save delivery %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", delivery.ErrNotFound, rec.ID)
	}
	return nil
}

func (s *DeliveryStore) ListByUser(ctx context.Context, userID string, page, limit int) ([]*delivery.Record, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count deliveries: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*delivery.Record
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan delivery: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return out, total, nil
}

func scanDelivery(row pgx.Row) (*delivery.Record, error) {
	var rec delivery.Record
	var status string
	err := row.Scan(&rec.ID, &rec.JobID, &rec.UserID, &rec.Address, &status,
		&rec.ErrorMessage, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = delivery.Status(status)
	return &rec, nil
}
