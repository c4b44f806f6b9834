package jobs

import (
	"fmt"
	"sync"
	"time"
)

// State of a job. Transitions only move forward: Created -> Running -> Completed | Failed.
type State int

const (
	Created State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool { return s == Completed || s == Failed }

// Emitter is the producer side of a job's event stream handed to the worker function.
type Emitter interface {
	Status(format string, args ...any)
	Progress(pct float64)
	Download(item string)
	Error(format string, args ...any)
}

// Job is the handle for one background operation.
type Job struct {
	ID        string
	Kind      string
	Target    string
	CreatedAt time.Time

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	finishedAt time.Time
	result     Event

	events *Channel
	done   chan struct{}
}

func newJob(id, kind, target string, now time.Time) *Job {
	return &Job{
		ID:        id,
		Kind:      kind,
		Target:    target,
		CreatedAt: now,
		state:     Created,
		events:    newChannel(),
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the terminal event has been published.
func (j *Job) Done() <-chan struct{} { return j.done }

// Events attaches a reader that replays the stream from the beginning.
func (j *Job) Events() *Reader { return j.events.Reader() }

// Channel exposes the underlying event log.
func (j *Job) Channel() *Channel { return j.events }

// Result returns the terminal event, or false while the job is still running.
func (j *Job) Result() (Event, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.state.Terminal()
}

// FinishedAt is zero until the job reaches a terminal state.
func (j *Job) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}

// Duration is the wall time between dispatch and the terminal event.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finishedAt.IsZero() || j.startedAt.IsZero() {
		return 0
	}
	return j.finishedAt.Sub(j.startedAt)
}

func (j *Job) start(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Created {
		return false
	}
	j.state = Running
	j.startedAt = now
	return true
}

// finish publishes terminal and moves to the matching state. Only the first call has any effect.
func (j *Job) finish(terminal Event, now time.Time) bool {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return false
	}
	if terminal.Failed() {
		j.state = Failed
	} else {
		j.state = Completed
	}
	j.finishedAt = now
	j.result = terminal
	j.mu.Unlock()

	j.events.publish(terminal)
	close(j.done)
	return true
}

func (j *Job) emit(e Event) {
	if e.IsTerminal() {
		return
	}
	j.events.publish(e)
}

func (j *Job) Status(format string, args ...any) { j.emit(StatusEvent(fmt.Sprintf(format, args...))) }

func (j *Job) Progress(pct float64) { j.emit(ProgressEvent(pct)) }

func (j *Job) Download(item string) { j.emit(DownloadEvent(item)) }

func (j *Job) Error(format string, args ...any) { j.emit(ErrorEvent(fmt.Sprintf(format, args...))) }
