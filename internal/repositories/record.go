package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/stemx/internal/models"
)

// ErrRecordNotFound is returned when no record exists for a path.
var ErrRecordNotFound = errors.New("storage record not found")

// RecordRepository mirrors remote object state in sqlite.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new RecordRepository with the given database connection
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// SaveRecord inserts or replaces the record for rec.Path.
func (r *RecordRepository) SaveRecord(ctx context.Context, rec models.StorageRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO storage_records (path, version, size, public_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			version = excluded.version,
			size = excluded.size,
			public_url = excluded.public_url,
			updated_at = excluded.updated_at`,
		rec.Path, rec.Version, rec.Size, nullString(rec.PublicURL), rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save storage record: %w", err)
	}
	return nil
}

// DeleteRecord removes the record for path. Missing records are not an error.
func (r *RecordRepository) DeleteRecord(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM storage_records WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete storage record: %w", err)
	}
	return nil
}

// GetRecord returns the record for path.
func (r *RecordRepository) GetRecord(ctx context.Context, path string) (*models.StorageRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT path, version, size, public_url, updated_at FROM storage_records WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, path)
	}
	return rec, err
}

// ListRecords returns records whose path starts with prefix, ordered by path.
func (r *RecordRepository) ListRecords(ctx context.Context, prefix string) ([]*models.StorageRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT path, version, size, public_url, updated_at
		FROM storage_records
		WHERE substr(path, 1, length(?)) = ?
		ORDER BY path`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query storage records: %w", err)
	}
	defer rows.Close()

	var records []*models.StorageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(s scanner) (*models.StorageRecord, error) {
	var (
		rec       models.StorageRecord
		publicURL sql.NullString
	)
	if err := s.Scan(&rec.Path, &rec.Version, &rec.Size, &publicURL, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan storage record: %w", err)
	}
	rec.PublicURL = publicURL.String
	return &rec, nil
}
