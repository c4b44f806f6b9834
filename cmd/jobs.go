package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
	"github.com/desertthunder/stemx/internal/ui"
)

// Fetch downloads a URL into the library.
func (r *Runner) Fetch(ctx context.Context, cmd *cli.Command) error {
	url := strings.TrimSpace(cmd.StringArg("url"))
	if url == "" {
		return fmt.Errorf("%w: url", shared.ErrMissingArgument)
	}
	mode, err := services.ParseMode(cmd.String("mode"))
	if err != nil {
		return err
	}

	req := tasks.FetchRequest{URL: url, Mode: mode, Audio: !cmd.Bool("video"), Collection: cmd.String("collection")}
	return r.follow(ctx, cmd, "fetch", req.Target(), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		return r.engine.Fetch(ctx, emit, req)
	})
}

// Isolate separates a collection, or one item of it, into stems.
func (r *Runner) Isolate(ctx context.Context, cmd *cli.Command) error {
	collection, item := cmd.StringArg("collection"), cmd.StringArg("item")
	if collection == "" {
		return fmt.Errorf("%w: collection", shared.ErrMissingArgument)
	}

	req := tasks.IsolateRequest{Collection: collection, Item: item, SingleStem: cmd.String("single-stem")}
	return r.follow(ctx, cmd, "isolate", target(collection, item), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		return r.engine.Isolate(ctx, emit, req)
	})
}

// Cover generates an AI cover of one item.
func (r *Runner) Cover(ctx context.Context, cmd *cli.Command) error {
	collection, item := cmd.StringArg("collection"), cmd.StringArg("item")
	if collection == "" || item == "" {
		return fmt.Errorf("%w: collection and item", shared.ErrMissingArgument)
	}

	stems := cmd.StringSlice("stem")
	if len(stems) == 0 {
		return fmt.Errorf("%w: at least one --stem", shared.ErrMissingArgument)
	}
	roles := make([]catalog.Role, 0, len(stems))
	for _, s := range stems {
		role, ok := catalog.ParseRole(s)
		if !ok {
			return fmt.Errorf("%w: unknown stem type %q", shared.ErrInvalidArgument, s)
		}
		roles = append(roles, role)
	}

	req := tasks.CoverRequest{Collection: collection, Item: item, Stems: roles, Genre: cmd.String("genre")}
	return r.follow(ctx, cmd, "cover", target(collection, item), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		return r.engine.Cover(ctx, emit, req)
	})
}

// Restore downloads the missing files of a collection from remote storage.
func (r *Runner) Restore(ctx context.Context, cmd *cli.Command) error {
	collection, item := cmd.StringArg("collection"), cmd.StringArg("item")
	if collection == "" {
		return fmt.Errorf("%w: collection", shared.ErrMissingArgument)
	}

	req := tasks.RestoreRequest{Collection: collection, Item: item}
	return r.follow(ctx, cmd, "restore", target(collection, item), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		return r.engine.Restore(ctx, emit, req)
	})
}

func target(collection, item string) string {
	if item == "" {
		return collection
	}
	return collection + "/" + item
}

// follow starts fn and reports its events until the terminal one.
// With --tui the events are shown in the watch model, otherwise one line per event is written to the output.
func (r *Runner) follow(ctx context.Context, cmd *cli.Command, kind, tgt string, fn jobs.Func) error {
	tui := cmd.Bool("tui")
	if tui {
		// Components capture their logger when the stack is built, so the switch happens first.
		restore, err := r.quietLogs("./tmp/stemx-tui.log")
		if err != nil {
			return err
		}
		defer restore()
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	j := r.runner.Start(ctx, kind, tgt, fn)
	r.logger.Debug("job started", "id", j.ID, "kind", kind, "target", tgt)

	if tui {
		return r.watch(ctx, j, fmt.Sprintf("%s: %s", kind, tgt))
	}

	rd := j.Events()
	for {
		e, err := rd.Next(ctx, 0)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		r.writePlain("%s\n", e.String())
	}
	return outcome(j)
}

func (r *Runner) watch(ctx context.Context, j *jobs.Job, title string) error {
	model := ui.NewWatchModel(ctx, j, title)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	if !j.State().Terminal() {
		r.writePlain("Waiting for job %s to finish...\n", j.ID)
		<-j.Done()
	}
	return outcome(j)
}

func outcome(j *jobs.Job) error {
	e, ok := j.Result()
	if !ok || e.Failed() {
		return fmt.Errorf("%w: %s", errJobFailed, e.Error)
	}
	return nil
}

// Jobs lists persisted job history, newest first.
func (r *Runner) Jobs(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	if d := cmd.Duration("prune"); d > 0 {
		n, err := r.jobsRepo.DeleteBefore(ctx, time.Now().Add(-d))
		if err != nil {
			return fmt.Errorf("failed to prune job history: %w", err)
		}
		r.logger.Info("pruned job history", "deleted", n)
	}

	records, err := r.jobsRepo.List(ctx, int(cmd.Int("limit")))
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(records, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("Jobs (%d)", len(records)))
	for _, rec := range records {
		r.writePlain("%s  %-8s %-9s %s\n", rec.CreatedAt.Format(time.DateTime), rec.Kind, rec.State, rec.Target)
		switch {
		case rec.Error != "":
			r.writePlain("    ✗ %s\n", shared.Truncate(rec.Error, 100))
		case rec.Message != "":
			r.writePlain("    ✓ %s\n", shared.Truncate(rec.Message, 100))
		}
	}
	return nil
}
