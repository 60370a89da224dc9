package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vectaconvert/api/internal/model"
)

type JobFileRepository struct {
	pool *pgxpool.Pool
}

func NewJobFileRepository(pool *pgxpool.Pool) *JobFileRepository {
	return &JobFileRepository{pool: pool}
}

const fileColumns = `id, job_id, original_name, original_key, original_size, original_format,
	status, COALESCE(converted_key, ''), COALESCE(converted_size, 0),
	COALESCE(error_message, ''), created_at, updated_at`

func scanFile(row pgx.Row) (*model.JobFile, error) {
	f := &model.JobFile{}
	var status string
	err := row.Scan(
		&f.ID, &f.JobID, &f.OriginalName, &f.OriginalKey, &f.OriginalSize,
		&f.OriginalFormat, &status, &f.ConvertedKey, &f.ConvertedSize,
		&f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = model.FileStatus(status)
	return f, nil
}

func (r *JobFileRepository) Create(ctx context.Context, f *model.JobFile) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	query := `
		INSERT INTO job_files (id, job_id, original_name, original_key, original_size, original_format)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		f.ID, f.JobID, f.OriginalName, f.OriginalKey, f.OriginalSize, f.OriginalFormat,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job file: %w", err)
	}
	f.Status = model.FileStatusPending
	return nil
}

func (r *JobFileRepository) FindByID(ctx context.Context, id string) (*model.JobFile, error) {
	query := `SELECT ` + fileColumns + ` FROM job_files WHERE id=$1`
	f, err := scanFile(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job file by id: %w", err)
	}
	return f, nil
}

func (r *JobFileRepository) FindByJobID(ctx context.Context, jobID string) ([]*model.JobFile, error) {
	query := `SELECT ` + fileColumns + ` FROM job_files WHERE job_id=$1 ORDER BY created_at`
	return r.queryFiles(ctx, query, jobID)
}

func (r *JobFileRepository) FindCompletedByJobID(ctx context.Context, jobID string) ([]*model.JobFile, error) {
	query := `SELECT ` + fileColumns + ` FROM job_files WHERE job_id=$1 AND status='completed' ORDER BY created_at`
	return r.queryFiles(ctx, query, jobID)
}

func (r *JobFileRepository) queryFiles(ctx context.Context, query string, args ...interface{}) ([]*model.JobFile, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job files: %w", err)
	}
	defer rows.Close()

	var files []*model.JobFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *JobFileRepository) MarkProcessing(ctx context.Context, id string) error {
	query := `UPDATE job_files SET status='processing', updated_at=now() WHERE id=$1`
	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark file processing: %w", err)
	}
	return nil
}

func (r *JobFileRepository) MarkCompleted(ctx context.Context, id, convertedKey string, convertedSize int64) error {
	query := `UPDATE job_files SET status='completed', converted_key=$2, converted_size=$3,
		updated_at=now() WHERE id=$1`
	if _, err := r.pool.Exec(ctx, query, id, convertedKey, convertedSize); err != nil {
		return fmt.Errorf("mark file completed: %w", err)
	}
	return nil
}

func (r *JobFileRepository) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `UPDATE job_files SET status='failed', error_message=$2, updated_at=now() WHERE id=$1`
	if _, err := r.pool.Exec(ctx, query, id, errorMessage); err != nil {
		return fmt.Errorf("mark file failed: %w", err)
	}
	return nil
}
