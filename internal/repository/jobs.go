package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vectaconvert/api/internal/model"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, session_token, output_format, quality, lossless, resize_width,
	resize_height, resize_percent, total_files, completed_files, failed_files, status,
	created_at, updated_at, expires_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	job := &model.Job{}
	var status, format string
	err := row.Scan(
		&job.ID, &job.SessionToken, &format, &job.Quality, &job.Lossless,
		&job.ResizeWidth, &job.ResizeHeight, &job.ResizePercent,
		&job.TotalFiles, &job.CompletedFiles, &job.FailedFiles, &status,
		&job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	job.OutputFormat = model.OutputFormat(format)
	job.Status = model.JobStatus(status)
	return job, nil
}

func (r *JobRepository) Create(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	query := `
		INSERT INTO jobs (id, session_token, output_format, quality, lossless,
			resize_width, resize_height, resize_percent, total_files, status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		job.ID, job.SessionToken, string(job.OutputFormat), job.Quality, job.Lossless,
		job.ResizeWidth, job.ResizeHeight, job.ResizePercent,
		job.TotalFiles, string(job.Status), job.ExpiresAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	return job, nil
}

func (r *JobRepository) FindByIDAndSession(ctx context.Context, id, sessionToken string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1 AND session_token=$2`
	job, err := scanJob(r.pool.QueryRow(ctx, query, id, sessionToken))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job by id and session: %w", err)
	}
	return job, nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status model.JobStatus) error {
	query := `UPDATE jobs SET status=$2, updated_at=now() WHERE id=$1`
	if _, err := r.pool.Exec(ctx, query, id, string(status)); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// IncrementCompleted atomically bumps the completed counter and returns the
// updated row. The completion check must run against this returned row, not
// a separate read, or two workers finishing together can both miss the final
// total and leave the job stuck in processing.
func (r *JobRepository) IncrementCompleted(ctx context.Context, id string) (*model.Job, error) {
	query := `UPDATE jobs SET completed_files = completed_files + 1, updated_at = now()
		WHERE id=$1 RETURNING ` + jobColumns
	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("increment completed_files: %w", err)
	}
	return job, nil
}

// IncrementFailed is the failure-side counterpart of IncrementCompleted.
func (r *JobRepository) IncrementFailed(ctx context.Context, id string) (*model.Job, error) {
	query := `UPDATE jobs SET failed_files = failed_files + 1, updated_at = now()
		WHERE id=$1 RETURNING ` + jobColumns
	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("increment failed_files: %w", err)
	}
	return job, nil
}

// MarkCompleted flips a processing job to completed. The status guard keeps
// the transition idempotent when several workers resolve a full counter at
// the same time.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	query := `UPDATE jobs SET status='completed', updated_at=now()
		WHERE id=$1 AND status='processing'`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark job completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindExpired returns jobs past their expiry that are not already terminal.
func (r *JobRepository) FindExpired(ctx context.Context, now time.Time) ([]*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE expires_at < $1 AND status <> 'failed'`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("find expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkExpired claims a job for cleanup by moving it to the failed terminal
// state. Returns false when another reaper invocation already claimed it.
func (r *JobRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	query := `UPDATE jobs SET status='failed', updated_at=now()
		WHERE id=$1 AND status <> 'failed'`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark job expired: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
