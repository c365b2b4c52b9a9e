package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackzampolin/bindery/internal/jobs"
)

const jobColumns = `id, novel_id, user_id, status, public_url, error_message, created_at, started_at, completed_at`

// JobStore is the pgx-backed jobs.Store.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a JobStore.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

func (s *JobStore) Create(ctx context.Context, novelID, userID string) (*jobs.Job, error) {
	job := jobs.New(novelID, userID)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		job.ID, job.NovelID, job.UserID, string(job.Status), job.PublicURL,
		job.ErrorMessage, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (s *JobStore) FindByID(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

func (s *JobStore) Save(ctx context.Context, job *jobs.Job) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET novel_id=$2, user_id=$3, status=$4, public_url=$5,
		        error_message=$6, started_at=$7, completed_at=$8
		 WHERE id = $1`,
		job.ID, job.NovelID, job.UserID, string(job.Status), job.PublicURL,
		job.ErrorMessage, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, job.ID)
	}
	return nil
}

func (s *JobStore) FindByStatus(ctx context.Context, statuses ...jobs.Status) ([]*jobs.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]string, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ANY($1) ORDER BY created_at DESC`, args)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) FindRecentActive(ctx context.Context, since time.Time) ([]*jobs.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ($1, $2) AND created_at > $3
		 ORDER BY created_at DESC`,
		string(jobs.StatusQueued), string(jobs.StatusProcessing), since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent active jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) ListByUser(ctx context.Context, userID string, page, limit int) ([]*jobs.Job, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	out, err := scanJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func scanJob(row pgx.Row) (*jobs.Job, error) {
	var job jobs.Job
	var status string
	err := row.Scan(&job.ID, &job.NovelID, &job.UserID, &status, &job.PublicURL,
		&job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*jobs.Job, error) {
	var out []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return out, nil
}
