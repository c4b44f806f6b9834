package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/shared"
)

// RestoreRequest selects the remote files to bring back into the local cache.
type RestoreRequest struct {
	Collection string
	// Item limits the restore to one item when set.
	Item string
}

type restoreResult struct {
	logical string
	found   bool
	err     error
}

// Restore downloads every remote file under the requested collection or item that is missing locally.
//
// Downloads run on a pool of [Options.Workers] goroutines. A failed file is reported and does not stop the others.
func (e *MediaEngine) Restore(ctx context.Context, emit jobs.Emitter, req RestoreRequest) (jobs.Result, error) {
	if !e.store.Remote().Enabled() {
		return jobs.Result{}, fmt.Errorf("%w: remote storage is disabled", shared.ErrMissingConfig)
	}
	req.Collection = catalog.SanitizeName(req.Collection)
	if !catalog.ValidName(req.Collection) || (req.Item != "" && !catalog.ValidName(req.Item)) {
		return jobs.Result{}, fmt.Errorf("%w: %s/%s", shared.ErrInvalidArgument, req.Collection, req.Item)
	}

	prefix := req.Collection
	if req.Item != "" {
		prefix = catalog.ItemDir(req.Collection, req.Item)
	}

	r := reporter{emit}
	r.checkingRemote()

	var missing []string
	w := e.store.Remote().Walk(prefix)
	for w.Next(ctx) {
		logical := w.Entry().Path
		local, err := e.store.LocalPath(logical)
		if err != nil {
			continue
		}
		if _, err := os.Stat(local); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, logical)
		}
	}
	if err := w.Err(); err != nil {
		return jobs.Result{}, fmt.Errorf("failed to list remote storage: %w", err)
	}

	if len(missing) == 0 {
		return jobs.DoneCount("Local cache is already up to date.", 0), nil
	}

	restored, failed := e.restore(ctx, r, missing)
	msg := fmt.Sprintf("Restored %d of %d file(s) from remote storage.", restored, len(missing))
	if failed > 0 {
		msg = fmt.Sprintf("Restored %d of %d file(s) from remote storage, %d failed.", restored, len(missing), failed)
	}
	return jobs.DoneCount(msg, restored), nil
}

// restore fetches paths concurrently and returns how many were restored and how many failed. Paths absent from
// the remote store count as neither.
func (e *MediaEngine) restore(ctx context.Context, r reporter, paths []string) (restored, failed int) {
	if len(paths) == 0 {
		return 0, 0
	}

	queue := make(chan string, len(paths))
	results := make(chan restoreResult, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < min(e.opts.Workers, len(paths)); i++ {
		wg.Add(1)
		go e.restoreWorker(ctx, &wg, r, queue, results)
	}

	for _, p := range paths {
		queue <- p
	}
	close(queue)

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		name := path.Base(res.logical)
		switch {
		case res.err != nil:
			failed++
			r.Error("Failed to download %s: %v", name, res.err)
		case res.found:
			restored++
			r.restored(name)
		}
	}
	return restored, failed
}

// restoreWorker pulls logical paths from queue until it is closed.
func (e *MediaEngine) restoreWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	r reporter,
	queue <-chan string,
	results chan<- restoreResult,
) {
	defer wg.Done()

	for logical := range queue {
		_, exists, err := e.store.Remote().Version(ctx, logical)
		if err != nil || !exists {
			results <- restoreResult{logical: logical, err: err}
			continue
		}

		r.restoring(path.Base(logical))
		_, found, err := e.store.EnsureLocal(ctx, logical)
		results <- restoreResult{logical: logical, found: found, err: err}
	}
}
