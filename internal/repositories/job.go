package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// JobRepository persists [models.JobRecord] rows.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, kind, target, state, message, error, item_count, event_count, created_at, finished_at`

// Create inserts a job row. CreatedAt defaults to now.
func (r *JobRepository) Create(ctx context.Context, job *models.JobRecord) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Kind, job.Target, job.State,
		nullString(job.Message), nullString(job.Error),
		job.Items, job.Events, job.CreatedAt, nullTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Finish records the terminal state of a job.
func (r *JobRepository) Finish(ctx context.Context, job *models.JobRecord) error {
	if job.FinishedAt == nil {
		now := time.Now().UTC()
		job.FinishedAt = &now
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, message = ?, error = ?, item_count = ?, event_count = ?, finished_at = ?
		WHERE id = ?`,
		job.State, nullString(job.Message), nullString(job.Error),
		job.Items, job.Events, *job.FinishedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, job.ID)
	}
	return nil
}

// Get retrieves a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return job, err
}

// List returns the most recent jobs first. A non-positive limit means 50.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteBefore removes finished jobs older than cutoff and returns how many were removed.
func (r *JobRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	return result.RowsAffected()
}

func scanJob(s scanner) (*models.JobRecord, error) {
	var (
		job        models.JobRecord
		message    sql.NullString
		errMessage sql.NullString
		finishedAt sql.NullTime
	)
	err := s.Scan(
		&job.ID, &job.Kind, &job.Target, &job.State, &message, &errMessage,
		&job.Items, &job.Events, &job.CreatedAt, &finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Message = message.String
	job.Error = errMessage.String
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return &job, nil
}
