package jobs

import (
	"context"

	"github.com/desertthunder/stemx/internal/models"
)

// Store persists job outcomes.
type Store interface {
	Create(ctx context.Context, job *models.JobRecord) error
	Finish(ctx context.Context, job *models.JobRecord) error
}

// Record snapshots j for persistence.
func Record(j *Job) *models.JobRecord {
	rec := &models.JobRecord{
		ID:        j.ID,
		Kind:      j.Kind,
		Target:    j.Target,
		State:     j.State().String(),
		Events:    j.events.Len(),
		CreatedAt: j.CreatedAt.UTC(),
	}
	if terminal, ok := j.Result(); ok {
		rec.Message = terminal.Message
		rec.Error = terminal.Error
		if terminal.Count != nil {
			rec.Items = *terminal.Count
		}
		finished := j.FinishedAt().UTC()
		rec.FinishedAt = &finished
	}
	return rec
}

func (r *Runner) persistStart(ctx context.Context, j *Job) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.Create(ctx, Record(j)); err != nil {
		r.logger.Warn("failed to persist job", "job", j.ID, "err", err)
	}
}

func (r *Runner) persistFinish(ctx context.Context, j *Job) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.Finish(ctx, Record(j)); err != nil {
		r.logger.Warn("failed to persist job outcome", "job", j.ID, "err", err)
	}
}
