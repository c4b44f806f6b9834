// package jobs runs long operations in the background and exposes their progress as an ordered event stream.
//
// A job is started with [Runner.Start] and runs on its own goroutine, detached from the caller's context: readers
// that disconnect never cancel the work. Every job ends with exactly one terminal event, derived from the worker's
// return value (or a recovered panic).
package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/stemx/internal/shared"
)

// Result is what a worker returns on success.
type Result struct {
	Message string
	Count   *int
}

// Done is a success result without a count.
func Done(msg string) Result { return Result{Message: msg} }

// DoneCount is a success result carrying an item count.
func DoneCount(msg string, n int) Result { return Result{Message: msg, Count: &n} }

// Func is the body of a job. ctx is never cancelled by the runner today; it is the seam for cancellation.
type Func func(ctx context.Context, emit Emitter) (Result, error)

// Observer receives lifecycle notifications, e.g. for metrics.
type Observer interface {
	ObserveJobStart(kind string)
	ObserveJobFinish(kind string, state State, d time.Duration)
}

// Options configure a [Runner].
type Options struct {
	// KeepAlive is the idle interval after which stream surfaces emit a keep-alive frame.
	KeepAlive time.Duration
	// IdleTimeout evicts finished jobs that not every reader has drained.
	IdleTimeout time.Duration
	// GCInterval is the sweep period used by [Runner.Run].
	GCInterval time.Duration
	Observer   Observer
	// Store, when set, receives a row per job at dispatch and its outcome at the end.
	Store Store
	// OnFinish runs after the terminal event is published, on the worker goroutine.
	OnFinish func(ctx context.Context, j *Job)
	Now      func() time.Time
}

// Runner owns the set of live jobs.
type Runner struct {
	opts   Options
	logger *log.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewRunner returns a runner with defaults filled in.
func NewRunner(opts Options, logger *log.Logger) *Runner {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{opts: opts, logger: logger, jobs: make(map[string]*Job)}
}

// KeepAlive returns the configured keep-alive interval.
func (r *Runner) KeepAlive() time.Duration { return r.opts.KeepAlive }

// Start registers a job and dispatches fn on a new goroutine. The returned job is already Running.
//
// ctx only contributes values; its cancellation does not reach fn.
func (r *Runner) Start(ctx context.Context, kind, target string, fn Func) *Job {
	ctx = context.WithoutCancel(ctx)
	j := newJob(shared.GenerateID(), kind, target, r.opts.Now())

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	j.start(r.opts.Now())
	r.persistStart(ctx, j)
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveJobStart(kind)
	}

	logger := r.logger.With("job", j.ID, "kind", kind)
	logger.Info("job started", "target", target)

	r.wg.Add(1)
	go r.run(ctx, j, fn, logger)
	return j
}

func (r *Runner) run(ctx context.Context, j *Job, fn Func, logger *log.Logger) {
	defer r.wg.Done()

	terminal := r.execute(ctx, j, fn, logger)
	if !j.finish(terminal, r.opts.Now()) {
		return
	}

	state := j.State()
	if terminal.Failed() {
		logger.Error("job failed", "err", terminal.Error, "duration", j.Duration())
	} else {
		logger.Info("job completed", "message", terminal.Message, "duration", j.Duration())
	}
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveJobFinish(j.Kind, state, j.Duration())
	}
	r.persistFinish(ctx, j)
	if r.opts.OnFinish != nil {
		r.opts.OnFinish(ctx, j)
	}
}

// execute runs fn and converts its outcome into the terminal event.
func (r *Runner) execute(ctx context.Context, j *Job, fn Func, logger *log.Logger) (terminal Event) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("job panicked", "panic", p)
			terminal = FailedEvent(fmt.Sprintf("internal error: %v", p))
		}
	}()

	res, err := fn(ctx, j)
	if err != nil {
		return FailedEvent(err.Error())
	}
	return CompleteEvent(res.Message, res.Count)
}

// Get looks up a live job.
func (r *Runner) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return j, nil
}

// List returns live jobs, newest first.
func (r *Runner) List() []*Job {
	r.mu.RLock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Job) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

// Sweep evicts finished jobs whose streams every reader has drained, or that finished more than IdleTimeout ago.
// It returns the number of evicted jobs.
func (r *Runner) Sweep() int {
	now := r.opts.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, j := range r.jobs {
		if !j.State().Terminal() {
			continue
		}
		if j.events.drained() || now.Sub(j.FinishedAt()) > r.opts.IdleTimeout {
			delete(r.jobs, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Debug("swept finished jobs", "count", evicted)
	}
	return evicted
}

// Run sweeps on every GCInterval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Wait blocks until every dispatched worker has returned.
func (r *Runner) Wait() { r.wg.Wait() }
