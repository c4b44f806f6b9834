package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/metrics"
	"github.com/desertthunder/stemx/internal/remote"
	"github.com/desertthunder/stemx/internal/repositories"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/storage"
	"github.com/desertthunder/stemx/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The configuration is read by the root command's Before hook; the database, remote client, storage and job
// runner are built on first use by [Runner.open].
type Runner struct {
	config  *shared.Config
	logger  *log.Logger
	output  io.Writer
	getenv  func(string) string
	backend remote.Backend
	tasks   *tasks.Options

	db       *sql.DB
	jobsRepo *repositories.JobRepository
	metrics  *metrics.Metrics
	store    *storage.Synchronizer
	runner   *jobs.Runner
	engine   *tasks.MediaEngine
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
	// Getenv reads deployment overrides. Defaults to [os.Getenv].
	Getenv func(string) string
	// Backend replaces the configured remote backend.
	Backend remote.Backend
	// Tasks replaces the external tools built from the configuration.
	Tasks *tasks.Options
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}

	return &Runner{
		config:  opts.Config,
		logger:  opts.Logger,
		output:  opts.Output,
		getenv:  opts.Getenv,
		backend: opts.Backend,
		tasks:   opts.Tasks,
	}
}

// SetLogger replaces the logger, used when the terminal UI takes over stderr.
func (r *Runner) SetLogger(l *log.Logger) { r.logger = l }

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, configCommand, serveCommand,
		fetchCommand, isolateCommand, coverCommand, restoreCommand,
		libraryCommand, deleteCommand, storageCommand, migrateCommand, jobsCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig is the root Before hook. A missing config file keeps the defaults.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else if cmd.IsSet("config") {
		return ctx, fmt.Errorf("%w: %s", shared.ErrMissingConfig, path)
	}

	r.config.ApplyEnv(r.getenv)
	if err := r.config.Validate(); err != nil {
		return ctx, err
	}

	level := r.config.Log.Level
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))
	return ctx, nil
}

// open builds the storage and job stack once.
func (r *Runner) open(ctx context.Context) error {
	if r.engine != nil {
		return nil
	}
	cfg := r.config

	db, err := shared.OpenDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	r.db = db
	r.jobsRepo = repositories.NewJobRepository(db)
	r.metrics = metrics.New()

	backend, err := r.remoteBackend(ctx)
	if err != nil {
		return err
	}
	client := remote.NewClient(backend, remote.Options{
		MaxObjectSize:   cfg.Remote.MaxObjectSize.Int64(),
		ContentTimeout:  cfg.Remote.ContentTimeout,
		MetadataTimeout: cfg.Remote.MetadataTimeout,
		ListDepth:       cfg.Remote.ListDepth,
		RequestsPerSec:  cfg.Remote.RequestsPerSec,
		Observer:        r.metrics,
	}, shared.WithLogger(r.logger, "component", "remote"))

	r.store = storage.New(cfg.Storage.Root, client, storage.Options{
		Records:       repositories.NewRecordRepository(db),
		DeleteWorkers: cfg.Remote.DeleteWorkers,
		Logger:        shared.WithLogger(r.logger, "component", "storage"),
	})

	r.runner = jobs.NewRunner(jobs.Options{
		KeepAlive:   cfg.Jobs.KeepAlive,
		IdleTimeout: cfg.Jobs.IdleTimeout,
		GCInterval:  cfg.Jobs.GCInterval,
		Observer:    r.metrics,
		Store:       r.jobsRepo,
	}, shared.WithLogger(r.logger, "component", "jobs"))

	r.engine = tasks.NewMediaEngine(r.store, r.taskOptions())
	return nil
}

// remoteBackend returns nil when the remote tier is disabled or incompletely configured.
func (r *Runner) remoteBackend(ctx context.Context) (remote.Backend, error) {
	if r.backend != nil {
		return r.backend, nil
	}
	cfg := r.config
	if !cfg.RemoteEnabled() {
		if cfg.Remote.Backend != "none" && cfg.Remote.Backend != "" {
			r.logger.Warn("remote storage disabled: backend is not fully configured", "backend", cfg.Remote.Backend)
		}
		return nil, nil
	}

	switch cfg.Remote.Backend {
	case "github":
		gh := cfg.Remote.GitHub
		b, err := remote.NewGitHubBackend(remote.GitHubOptions{
			Token:      gh.Token,
			Repo:       gh.Repo,
			Branch:     gh.Branch,
			PathPrefix: gh.PathPrefix,
			APIURL:     gh.APIURL,
			RawURL:     gh.RawURL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
		}
		return b, nil
	case "s3":
		s3 := cfg.Remote.S3
		b, err := remote.NewS3Backend(ctx, remote.S3Options{
			Bucket:       s3.Bucket,
			Region:       s3.Region,
			Endpoint:     s3.Endpoint,
			Prefix:       s3.Prefix,
			UsePathStyle: s3.UsePathStyle,
			PublicURL:    s3.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
		}
		return b, nil
	}
	return nil, nil
}

func (r *Runner) taskOptions() tasks.Options {
	cfg := r.config
	opts := tasks.Options{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		PollInterval:  cfg.Cover.PollInterval,
		CoverTimeout:  cfg.Cover.Timeout,
		Workers:       cfg.Remote.DeleteWorkers,
	}
	if r.tasks != nil {
		opts.Downloader = r.tasks.Downloader
		opts.Separator = r.tasks.Separator
		opts.Analyzer = r.tasks.Analyzer
		opts.Cover = r.tasks.Cover
		if r.tasks.PollInterval > 0 {
			opts.PollInterval = r.tasks.PollInterval
		}
	} else {
		tb := services.NewToolbox(cfg, shared.WithLogger(r.logger, "component", "tools"))
		opts.Downloader = tb.Downloader
		opts.Separator = tb.Separator
		opts.Analyzer = tb.Analyzer
		opts.Cover = tb.Cover
	}
	opts.Logger = shared.WithLogger(r.logger, "component", "tasks")
	return opts
}

// close waits for running jobs, then releases the database.
func (r *Runner) close() error {
	if r.runner != nil {
		r.runner.Wait()
	}
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// errJobFailed marks a job that reached its terminal failure event.
var errJobFailed = errors.New("job failed")
