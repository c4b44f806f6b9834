// package models defines the persisted records of stemx
package models

import (
	"fmt"
	"time"
)

// JobRecord is the persisted summary of a job.
type JobRecord struct {
	ID         string
	Kind       string // fetch, isolate, cover
	Target     string // collection or collection/item the job works on
	State      string
	Message    string
	Error      string
	Items      int
	Events     int
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Validate checks required fields.
func (j *JobRecord) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("job id is required")
	case j.Kind == "":
		return fmt.Errorf("job kind is required")
	case j.State == "":
		return fmt.Errorf("job state is required")
	}
	return nil
}

// Finished reports whether the job reached a terminal state.
func (j *JobRecord) Finished() bool { return j.FinishedAt != nil }

// StorageRecord is the remote state of one logical path as last observed by this process.
type StorageRecord struct {
	Path      string
	Version   string
	Size      int64
	PublicURL string
	UpdatedAt time.Time
}

// Validate checks required fields.
func (s *StorageRecord) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("storage record path is required")
	}
	if s.Version == "" {
		return fmt.Errorf("storage record version is required")
	}
	return nil
}
