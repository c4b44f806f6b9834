package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/stemx/internal/server"
	"github.com/desertthunder/stemx/internal/shared"
)

// Serve runs the HTTP server and the job sweeper until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.open(ctx); err != nil {
		return err
	}

	addr := r.config.Server.Addr()
	if cmd.IsSet("addr") {
		addr = cmd.String("addr")
	}
	if r.config.Server.PublicBaseURL == "" && !r.config.RemoteEnabled() {
		r.logger.Warn("PUBLIC_BASE_URL is not set and remote storage is disabled: cover generation will fail")
	}

	srv := server.New(server.Options{
		Runner:  r.runner,
		Engine:  r.engine,
		History: r.jobsRepo,
		Metrics: r.metrics.Handler(),
		Logger:  shared.WithLogger(r.logger, "component", "http"),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.runner.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
	return g.Wait()
}
