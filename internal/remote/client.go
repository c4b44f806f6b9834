// package remote talks to the durable content store.
//
// A [Client] wraps one [Backend] (GitHub contents API, S3 or in-memory) and adds what every backend needs: the
// object size ceiling, per-call timeouts, request pacing and metrics. All paths are logical, e.g.
// "channel/Song/isolated_samples/Vocals_Song.mp3".
package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// DefaultMaxObjectSize is the remote per-object ceiling.
const DefaultMaxObjectSize int64 = 100 * 1024 * 1024

// Object is the remote state of one logical path.
type Object struct {
	Path    string
	Version string
	Size    int64
	URL     string
}

// Entry is one node of a directory listing.
type Entry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	URL  string `json:"url,omitempty"`
	Dir  bool   `json:"-"`
}

// Backend is a concrete object store.
//
// Put with an empty expected version must fail with [ErrConflict] when the object already exists. Remove with an
// empty expected version deletes whatever is current.
type Backend interface {
	Name() string
	Stat(ctx context.Context, path string) (Object, error)
	Get(ctx context.Context, path string) ([]byte, Object, error)
	Put(ctx context.Context, path string, data []byte, expected string) (Object, error)
	Remove(ctx context.Context, path string, expected string) error
	// ReadDir lists the immediate children of prefix. A missing prefix is [ErrNotFound].
	ReadDir(ctx context.Context, prefix string) ([]Entry, error)
	PublicURL(path string) string
}

// Sizer is implemented by backends that can report the store's total size in bytes.
type Sizer interface {
	TotalSize(ctx context.Context) (int64, error)
}

// Observer receives one call per backend request.
type Observer interface {
	ObserveRemote(backend, op, outcome string, d time.Duration, bytes int64)
}

// Options tune a [Client]. Zero values fall back to defaults.
type Options struct {
	MaxObjectSize   int64
	ContentTimeout  time.Duration
	MetadataTimeout time.Duration
	ListDepth       int
	// RequestsPerSec paces backend calls. Zero means unlimited.
	RequestsPerSec float64
	Observer       Observer
}

// Client is safe for concurrent use.
type Client struct {
	backend  Backend
	opts     Options
	limiter  *rate.Limiter
	logger   *log.Logger
	observer Observer
}

// NewClient wraps backend. A nil backend yields a disabled client.
func NewClient(backend Backend, opts Options, logger *log.Logger) *Client {
	if opts.MaxObjectSize <= 0 {
		opts.MaxObjectSize = DefaultMaxObjectSize
	}
	if opts.ContentTimeout <= 0 {
		opts.ContentTimeout = 30 * time.Second
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = 10 * time.Second
	}
	if opts.ListDepth <= 0 {
		opts.ListDepth = 4
	}
	if logger == nil {
		logger = log.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}

	return &Client{
		backend:  backend,
		opts:     opts,
		limiter:  limiter,
		logger:   logger,
		observer: opts.Observer,
	}
}

// Disabled returns a client that answers every call with [ErrDisabled].
func Disabled() *Client {
	return NewClient(nil, Options{}, nil)
}

// Enabled reports whether a backend is configured.
func (c *Client) Enabled() bool { return c != nil && c.backend != nil }

// Backend returns the backend name, or "none".
func (c *Client) Backend() string {
	if !c.Enabled() {
		return "none"
	}
	return c.backend.Name()
}

// MaxObjectSize returns the configured ceiling in bytes.
func (c *Client) MaxObjectSize() int64 { return c.opts.MaxObjectSize }

// call paces, bounds and observes a single backend request.
func (c *Client) call(ctx context.Context, op, path string, timeout time.Duration, fn func(context.Context) (int64, error)) error {
	if !c.Enabled() {
		return &OpError{Op: op, Path: path, Err: ErrDisabled}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return &OpError{Op: op, Path: path, Err: classify(err)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := fn(ctx)
	err = classify(err)
	if c.observer != nil {
		c.observer.ObserveRemote(c.backend.Name(), op, outcome(err), time.Since(start), n)
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			c.logger.Warn("remote request failed", "op", op, "path", path, "err", err)
		}
		return &OpError{Op: op, Path: path, Err: err}
	}
	return nil
}

// Version returns the current version token of path. A missing object is found=false, not an error.
func (c *Client) Version(ctx context.Context, path string) (token string, found bool, err error) {
	err = c.call(ctx, "version", path, c.opts.MetadataTimeout, func(ctx context.Context) (int64, error) {
		obj, err := c.backend.Stat(ctx, path)
		token = obj.Version
		return 0, err
	})
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// Read fetches the content of path and its version token. The ceiling is checked on the stored size before the
// content is pulled into memory.
func (c *Client) Read(ctx context.Context, path string) ([]byte, string, error) {
	var (
		data  []byte
		token string
	)
	err := c.call(ctx, "read", path, c.opts.ContentTimeout, func(ctx context.Context) (int64, error) {
		obj, err := c.backend.Stat(ctx, path)
		if err != nil {
			return 0, err
		}
		if obj.Size > c.opts.MaxObjectSize {
			return 0, c.sizeErr(obj.Size)
		}
		data, obj, err = c.backend.Get(ctx, path)
		if err != nil {
			return 0, err
		}
		if int64(len(data)) > c.opts.MaxObjectSize {
			return 0, c.sizeErr(int64(len(data)))
		}
		token = obj.Version
		return int64(len(data)), nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, token, nil
}

// Write stores data at path. expected must be the current token, or empty when the object should not exist yet.
func (c *Client) Write(ctx context.Context, path string, data []byte, expected string) (Object, error) {
	if int64(len(data)) > c.opts.MaxObjectSize {
		return Object{}, &OpError{Op: "write", Path: path, Err: c.sizeErr(int64(len(data)))}
	}

	var obj Object
	err := c.call(ctx, "write", path, c.opts.ContentTimeout, func(ctx context.Context) (int64, error) {
		var err error
		obj, err = c.backend.Put(ctx, path, data, expected)
		return int64(len(data)), err
	})
	if err != nil {
		return Object{}, err
	}
	if obj.URL == "" {
		obj.URL = c.backend.PublicURL(path)
	}
	return obj, nil
}

// WriteFile uploads a local file. The ceiling is checked on the file size before the file is read.
func (c *Client) WriteFile(ctx context.Context, path, localFile, expected string) (Object, error) {
	if !c.Enabled() {
		return Object{}, &OpError{Op: "write", Path: path, Err: ErrDisabled}
	}

	info, err := os.Stat(localFile)
	if err != nil {
		return Object{}, fmt.Errorf("failed to stat %s: %w", localFile, err)
	}
	if info.Size() > c.opts.MaxObjectSize {
		return Object{}, &OpError{Op: "write", Path: path, Err: c.sizeErr(info.Size())}
	}

	data, err := os.ReadFile(localFile)
	if err != nil {
		return Object{}, fmt.Errorf("failed to read %s: %w", localFile, err)
	}
	return c.Write(ctx, path, data, expected)
}

func (c *Client) sizeErr(n int64) error {
	return fmt.Errorf("%w: %d bytes > %d", ErrSizeExceeded, n, c.opts.MaxObjectSize)
}

// Delete removes path, presenting expected as the version the caller last observed.
func (c *Client) Delete(ctx context.Context, path, expected string) error {
	return c.call(ctx, "delete", path, c.opts.MetadataTimeout, func(ctx context.Context) (int64, error) {
		return 0, c.backend.Remove(ctx, path, expected)
	})
}

// TotalSize reports the approximate size of the whole store.
func (c *Client) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := c.call(ctx, "size", "", c.opts.MetadataTimeout, func(ctx context.Context) (int64, error) {
		sizer, ok := c.backend.(Sizer)
		if !ok {
			return 0, fmt.Errorf("%w: %s cannot report its size", ErrUnavailable, c.backend.Name())
		}
		var err error
		total, err = sizer.TotalSize(ctx)
		return 0, err
	})
	return total, err
}

// PublicURL returns the URL a third party can fetch path from.
func (c *Client) PublicURL(path string) string {
	if !c.Enabled() {
		return ""
	}
	return c.backend.PublicURL(path)
}

// List returns every file beneath prefix, depth first. A missing prefix is an empty result.
func (c *Client) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	w := c.Walk(prefix)
	for w.Next(ctx) {
		entries = append(entries, w.Entry())
	}
	return entries, w.Err()
}

// Walk starts a lazy depth first listing of prefix. Directory nodes are fetched as the walk reaches them and no
// deeper than the configured list depth.
func (c *Client) Walk(prefix string) *Walker {
	return &Walker{c: c, stack: []frame{{prefix: prefix, depth: 0}}, maxDepth: c.opts.ListDepth}
}

type frame struct {
	prefix  string
	depth   int
	entries []Entry
	loaded  bool
}

// Walker iterates a listing. Use it like [database/sql.Rows]: loop on Next, read Entry, check Err.
type Walker struct {
	c        *Client
	stack    []frame
	maxDepth int
	cur      Entry
	err      error
}

// Next advances to the next file. It returns false at the end of the listing or on error.
func (w *Walker) Next(ctx context.Context) bool {
	for w.err == nil && len(w.stack) > 0 {
		top := &w.stack[len(w.stack)-1]
		if !top.loaded {
			entries, err := w.readDir(ctx, top.prefix)
			if err != nil {
				w.err = err
				return false
			}
			top.entries, top.loaded = entries, true
		}

		if len(top.entries) == 0 {
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}

		e := top.entries[0]
		top.entries = top.entries[1:]
		if e.Dir {
			if top.depth+1 < w.maxDepth {
				w.stack = append(w.stack, frame{prefix: e.Path, depth: top.depth + 1})
			}
			continue
		}
		w.cur = e
		return true
	}
	return false
}

func (w *Walker) readDir(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	err := w.c.call(ctx, "list", prefix, w.c.opts.MetadataTimeout, func(ctx context.Context) (int64, error) {
		var err error
		entries, err = w.c.backend.ReadDir(ctx, prefix)
		return 0, err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return entries, err
}

// Entry returns the current file.
func (w *Walker) Entry() Entry { return w.cur }

// Err returns the error that stopped the walk, if any.
func (w *Walker) Err() error { return w.err }
