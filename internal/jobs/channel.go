package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrIdle is returned by [Reader.Next] when no event arrived within the idle interval. The stream is still open.
var ErrIdle = errors.New("no event within idle interval")

// Channel is an append-only, ordered event log with a single producer and any number of readers. Every reader sees
// the full sequence from the first event. Nothing is accepted after the terminal event.
type Channel struct {
	mu       sync.Mutex
	events   []Event
	closed   bool
	wake     chan struct{}
	readers  int
	finished int
}

func newChannel() *Channel {
	return &Channel{wake: make(chan struct{})}
}

// publish appends e and wakes waiting readers. It reports false once the channel is closed.
func (c *Channel) publish(e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, e)
	if e.IsTerminal() {
		c.closed = true
	}
	close(c.wake)
	c.wake = make(chan struct{})
	return true
}

// Len returns the number of events published so far.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Closed reports whether the terminal event has been published.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of everything published so far.
func (c *Channel) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// drained reports whether at least one reader attached and every attached reader has consumed the terminal event.
func (c *Channel) drained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed && c.readers > 0 && c.finished == c.readers
}

// Reader attaches a new reader positioned at the first event.
func (c *Channel) Reader() *Reader {
	c.mu.Lock()
	c.readers++
	c.mu.Unlock()
	return &Reader{ch: c}
}

// Reader consumes a [Channel] in order. A Reader is not safe for concurrent use.
type Reader struct {
	ch   *Channel
	next int
	done bool
}

// Next blocks until the next event is available. It returns [ErrIdle] when idle elapses first (idle <= 0 waits
// indefinitely), [io.EOF] after the terminal event has been returned, or ctx.Err() when the caller gives up.
// Abandoning a reader has no effect on the producer.
func (r *Reader) Next(ctx context.Context, idle time.Duration) (Event, error) {
	if r.done {
		return Event{}, io.EOF
	}

	var timeout <-chan time.Time
	if idle > 0 {
		timer := time.NewTimer(idle)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		r.ch.mu.Lock()
		if r.next < len(r.ch.events) {
			e := r.ch.events[r.next]
			r.next++
			if e.IsTerminal() {
				r.done = true
				r.ch.finished++
			}
			r.ch.mu.Unlock()
			return e, nil
		}
		wake := r.ch.wake
		r.ch.mu.Unlock()

		select {
		case <-wake:
		case <-timeout:
			return Event{}, ErrIdle
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
