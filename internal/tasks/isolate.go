package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
)

// IsolateRequest selects the items whose primary asset is split into stems.
type IsolateRequest struct {
	Collection string
	// Item limits the job to one item when set.
	Item string
	// SingleStem asks the separator for one stem only.
	SingleStem string
}

// ErrNoInputs is returned when a collection has no primary audio to isolate.
var ErrNoInputs = errors.New("No MP3 files found")

// Isolate runs stem separation over the mp3 primaries of a collection.
//
// Legacy flat downloads are migrated first and primaries missing locally are restored from the remote store. Each
// item is then analyzed, separated and renamed through the [Pipeline]. Per-item failures are reported as
// non-terminal errors and the batch continues.
func (e *MediaEngine) Isolate(ctx context.Context, emit jobs.Emitter, req IsolateRequest) (jobs.Result, error) {
	if e.opts.Separator == nil {
		return jobs.Result{}, fmt.Errorf("%w: separator not configured", shared.ErrMissingConfig)
	}
	collection := catalog.SanitizeName(req.Collection)
	if !catalog.ValidName(collection) || (req.Item != "" && !catalog.ValidName(req.Item)) {
		return jobs.Result{}, fmt.Errorf("%w: %s/%s", shared.ErrInvalidArgument, req.Collection, req.Item)
	}

	r := reporter{emit}
	if e.store.Remote().Enabled() {
		r.checkingRemote()
	}

	if _, err := os.Stat(filepath.Join(e.store.Root(), collection, catalog.LegacyDir)); err == nil {
		r.migrating()
		if _, err := e.store.MigrateLegacy(collection); err != nil {
			r.Error("Migration incomplete: %v", err)
		}
	}

	inputs, err := e.inputs(ctx, r, collection, req.Item)
	if err != nil {
		return jobs.Result{}, err
	}
	if len(inputs) == 0 {
		return jobs.Result{}, ErrNoInputs
	}

	total := len(inputs)
	processed := 0
	for i, item := range inputs {
		if e.isolateItem(ctx, r, collection, item, i+1, total, req.SingleStem) {
			processed++
		}
	}

	msg := fmt.Sprintf("Stem isolation complete! (%d/%d beats processed)", processed, total)
	return jobs.DoneCount(msg, processed), nil
}

// inputs lists the items of collection with a local mp3 primary, restoring missing primaries first.
func (e *MediaEngine) inputs(ctx context.Context, r reporter, collection, only string) ([]string, error) {
	names, err := e.store.ItemNames(ctx, collection)
	if err != nil && names == nil {
		return nil, err
	}
	if err != nil {
		r.Error("Remote listing failed: %v", err)
	}

	var candidates, missing []string
	for _, name := range names {
		if only != "" && name != only {
			continue
		}
		candidates = append(candidates, name)
		local, err := e.store.LocalPath(catalog.PrimaryPath(collection, name, "mp3"))
		if err != nil {
			continue
		}
		if _, err := os.Stat(local); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, catalog.PrimaryPath(collection, name, "mp3"))
		}
	}
	if len(missing) > 0 && e.store.Remote().Enabled() {
		e.restore(ctx, r, missing)
	}

	var inputs []string
	for _, name := range candidates {
		local, err := e.store.LocalPath(catalog.PrimaryPath(collection, name, "mp3"))
		if err != nil {
			continue
		}
		if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
			inputs = append(inputs, name)
		}
	}
	return inputs, nil
}

// isolateItem processes one item and reports whether it produced stems.
func (e *MediaEngine) isolateItem(ctx context.Context, r reporter, collection, item string, step, total int, singleStem string) bool {
	input, err := e.store.LocalPath(catalog.PrimaryPath(collection, item, "mp3"))
	if err != nil {
		r.Error("Skipped %s: %v", item, err)
		return false
	}

	r.analyzing(step, total, item)
	r.detectingTags()
	tags, err := e.opts.Analyzer.Analyze(ctx, input)
	if err != nil {
		e.logger.Warn("tag detection failed", "item", item, "err", err)
		tags = catalog.Tags{}
	}

	stemsDir := filepath.Join(filepath.Dir(input), catalog.StemsDir)
	if err := os.MkdirAll(stemsDir, 0o755); err != nil {
		r.Error("Failed to create %s: %v", catalog.StemsDir, err)
		return false
	}
	r.detected(tags)

	r.separating()
	stderr, err := e.opts.Separator.Separate(ctx, input, stemsDir, singleStem)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrToolTimeout):
			r.Error("audio-separator timed out on %s", item)
		case errors.Is(err, services.ErrToolMissing):
			r.Error("audio-separator is not installed: %v", err)
		default:
			r.Error("audio-separator error: %s", shared.Truncate(diagnostic(stderr, err), services.DiagnosticLimit))
		}
		return false
	}

	if countAudio(stemsDir) == 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = "No output files created. Check audio-separator installation."
		}
		r.Error("No stem files created for %s. Error: %s", item, shared.Truncate(msg, services.DiagnosticLimit))
		return false
	}

	if _, err := e.pipeline.Apply(ctx, r, collection, item, stemsDir, tags); err != nil {
		r.Error("Failed: %s - %v", item, err)
		return false
	}
	r.completed(item)
	return true
}

func diagnostic(stderr string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	return err.Error()
}

func countAudio(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			n++
		}
	}
	return n
}
