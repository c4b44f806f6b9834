package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/tasks"
	"github.com/desertthunder/stemx/internal/ui"
)

// TUI launches the interactive library browser.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	restore, err := r.quietLogs(cmd.String("log-file"))
	if err != nil {
		return err
	}
	defer restore()

	if err := r.open(ctx); err != nil {
		return err
	}

	model := ui.NewModel(ctx, r.store, r.launch)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	running := 0
	for _, j := range r.runner.List() {
		if !j.State().Terminal() {
			running++
		}
	}
	if running > 0 {
		r.writePlain("Waiting for %d running job(s) to finish...\n", running)
		r.runner.Wait()
	}
	return nil
}

// launch starts the job behind a UI action.
func (r *Runner) launch(ctx context.Context, action ui.Action, collection, item string) *jobs.Job {
	switch action {
	case ui.Restore:
		req := tasks.RestoreRequest{Collection: collection, Item: item}
		return r.runner.Start(ctx, "restore", target(collection, item), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
			return r.engine.Restore(ctx, emit, req)
		})
	default:
		req := tasks.IsolateRequest{Collection: collection, Item: item}
		return r.runner.Start(ctx, "isolate", target(collection, item), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
			return r.engine.Isolate(ctx, emit, req)
		})
	}
}

// quietLogs sends log output to path until the returned func is called.
func (r *Runner) quietLogs(path string) (func(), error) {
	fileLogger, f, err := shared.NewFileLogger(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())

	prev := r.logger
	r.SetLogger(fileLogger)
	return func() {
		r.SetLogger(prev)
		f.Close()
	}, nil
}
