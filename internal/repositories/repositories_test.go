package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create And Get", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		job := &models.JobRecord{ID: "job-1", Kind: "isolate", Target: "chan", State: "running"}

		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		if job.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set on create")
		}

		got, err := repo.Get(ctx, "job-1")
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if got.Kind != "isolate" || got.Target != "chan" || got.Finished() {
			t.Errorf("unexpected job %+v", got)
		}
	})

	t.Run("Finish", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		job := &models.JobRecord{ID: "job-2", Kind: "fetch", Target: "chan", State: "running"}
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		job.State = "failed"
		job.Error = "No MP3 files found"
		job.Events = 3
		if err := repo.Finish(ctx, job); err != nil {
			t.Fatalf("failed to finish job: %v", err)
		}

		got, err := repo.Get(ctx, "job-2")
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if got.State != "failed" || got.Error != "No MP3 files found" || got.Events != 3 || !got.Finished() {
			t.Errorf("unexpected job %+v", got)
		}
	})

	t.Run("List Newest First", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"a", "b", "c"} {
			job := &models.JobRecord{ID: id, Kind: "fetch", Target: "chan", State: "completed", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
			if err := repo.Create(ctx, job); err != nil {
				t.Fatalf("failed to create job: %v", err)
			}
		}

		jobs, err := repo.List(ctx, 2)
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(jobs) != 2 || jobs[0].ID != "c" || jobs[1].ID != "b" {
			t.Errorf("unexpected order: %v, %v", jobs[0].ID, jobs[1].ID)
		}
	})

	t.Run("DeleteBefore", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))
		old := time.Now().Add(-48 * time.Hour).UTC()
		job := &models.JobRecord{ID: "old", Kind: "fetch", Target: "chan", State: "completed", FinishedAt: &old}
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		running := &models.JobRecord{ID: "running", Kind: "fetch", Target: "chan", State: "running"}
		if err := repo.Create(ctx, running); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		n, err := repo.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
		if err != nil || n != 1 {
			t.Errorf("DeleteBefore() = %d, %v; want 1", n, err)
		}
	})

	t.Run("Errors", func(t *testing.T) {
		repo := NewJobRepository(setupTestDB(t))

		if err := repo.Create(ctx, &models.JobRecord{Kind: "fetch", State: "running"}); err == nil {
			t.Error("expected validation error for missing id")
		}
		if _, err := repo.Get(ctx, "missing"); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		if err := repo.Finish(ctx, &models.JobRecord{ID: "missing", State: "failed"}); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}

		job := &models.JobRecord{ID: "dup", Kind: "fetch", Target: "chan", State: "running"}
		repo.Create(ctx, job)
		if err := repo.Create(ctx, job); err == nil {
			t.Error("expected error for duplicate id")
		}
	})
}

func TestRecordRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Save Upserts", func(t *testing.T) {
		repo := NewRecordRepository(setupTestDB(t))
		rec := models.StorageRecord{Path: "chan/Song/Song.mp3", Version: "v1", Size: 10, PublicURL: "https://x/1"}
		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("failed to save record: %v", err)
		}

		rec.Version = "v2"
		rec.Size = 20
		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("failed to update record: %v", err)
		}

		got, err := repo.GetRecord(ctx, "chan/Song/Song.mp3")
		if err != nil {
			t.Fatalf("failed to get record: %v", err)
		}
		if got.Version != "v2" || got.Size != 20 || got.PublicURL != "https://x/1" {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("List By Prefix", func(t *testing.T) {
		repo := NewRecordRepository(setupTestDB(t))
		for _, p := range []string{"chan/B/B.mp3", "chan/A/A.mp3", "other/C/C.mp3"} {
			if err := repo.SaveRecord(ctx, models.StorageRecord{Path: p, Version: "v"}); err != nil {
				t.Fatalf("failed to save record: %v", err)
			}
		}

		records, err := repo.ListRecords(ctx, "chan/")
		if err != nil {
			t.Fatalf("failed to list records: %v", err)
		}
		if len(records) != 2 || records[0].Path != "chan/A/A.mp3" {
			t.Errorf("unexpected records %+v", records)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := NewRecordRepository(setupTestDB(t))
		repo.SaveRecord(ctx, models.StorageRecord{Path: "a", Version: "v"})
		if err := repo.DeleteRecord(ctx, "a"); err != nil {
			t.Fatalf("failed to delete record: %v", err)
		}
		if _, err := repo.GetRecord(ctx, "a"); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
		if err := repo.DeleteRecord(ctx, "a"); err != nil {
			t.Errorf("deleting a missing record should succeed: %v", err)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		repo := NewRecordRepository(setupTestDB(t))
		if err := repo.SaveRecord(ctx, models.StorageRecord{Path: "a"}); err == nil {
			t.Error("expected validation error for missing version")
		}
	})
}
