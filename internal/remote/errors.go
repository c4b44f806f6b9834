package remote

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("remote object not found")
	// ErrConflict is returned when the presented version token is stale.
	ErrConflict = errors.New("remote version conflict")
	// ErrUnavailable wraps transport failures and unexpected responses. It never means absence.
	ErrUnavailable = errors.New("remote store unavailable")
	// ErrSizeExceeded is returned before any request when an object is over the size ceiling.
	ErrSizeExceeded = errors.New("object exceeds remote size ceiling")
	// ErrDisabled is returned by a client with no backend configured.
	ErrDisabled = errors.New("remote store disabled")
)

// OpError records the operation and logical path that failed.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// StatusError is a non-success HTTP status from a backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// classify maps anything that is not already one of the taxonomy errors onto [ErrUnavailable].
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnavailable), errors.Is(err, ErrSizeExceeded), errors.Is(err, ErrDisabled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: timed out: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// outcome is the metrics label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrSizeExceeded):
		return "too_large"
	default:
		return "error"
	}
}
