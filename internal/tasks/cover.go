package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/storage"
)

const defaultCoverPrompt = "A creative cover in a new style"

var (
	// ErrNoStems is returned when the item has not been isolated yet.
	ErrNoStems = errors.New("No stem files found. Please isolate stems first.")
	// ErrCoverTimeout is returned when polling runs past [Options.CoverTimeout].
	ErrCoverTimeout = errors.New("Generation timeout. The task may still be processing.")
	// ErrNoPublicURL is returned when no URL reachable by the cover API can be produced for the source stem.
	ErrNoPublicURL = errors.New("Failed to upload audio file. Please try again.")
)

// stemPriority orders the roles a cover source is picked from.
var stemPriority = []catalog.Role{catalog.Vocals, catalog.Drums, catalog.Bass, catalog.Other}

// CoverRequest describes a cover generation job.
type CoverRequest struct {
	Collection string
	Item       string
	// Stems are the roles chosen by the user. Without Vocals the cover is instrumental.
	Stems []catalog.Role
	// Genre doubles as the prompt.
	Genre string
}

// Cover generates an AI cover of an item from one of its stems.
//
// The source stem must be reachable by the cover API: its remote URL is used when the remote tier holds it,
// otherwise it is published first, and with the remote tier disabled it is served from [Options.PublicBaseURL].
// The task is polled every [Options.PollInterval] until it settles or [Options.CoverTimeout] passes.
func (e *MediaEngine) Cover(ctx context.Context, emit jobs.Emitter, req CoverRequest) (jobs.Result, error) {
	if e.opts.Cover == nil || !e.opts.Cover.Configured() {
		return jobs.Result{}, fmt.Errorf("%w: cover API key not set", shared.ErrMissingCredentials)
	}
	req.Collection = catalog.SanitizeName(req.Collection)

	stems, err := e.store.ListStems(ctx, req.Collection, req.Item)
	if err != nil {
		return jobs.Result{}, err
	}
	stem, ok := pickStem(stems, req.Stems)
	if !ok {
		return jobs.Result{}, ErrNoStems
	}

	r := reporter{emit}
	r.usingStem(stem.Name)

	source, err := e.sourceURL(ctx, r, stem)
	if err != nil {
		return jobs.Result{}, err
	}
	r.fileUploaded(source)

	prompt := strings.TrimSpace(req.Genre)
	if prompt == "" {
		prompt = defaultCoverPrompt
	}

	r.sendingCover()
	taskID, err := e.opts.Cover.Submit(ctx, services.CoverRequest{
		SourceURL:    source,
		Prompt:       prompt,
		Instrumental: !slices.Contains(req.Stems, catalog.Vocals),
	})
	if err != nil {
		return jobs.Result{}, fmt.Errorf("API Error: %w", err)
	}
	r.taskCreated(taskID)

	task, err := e.poll(ctx, r, taskID)
	if err != nil {
		return jobs.Result{}, err
	}

	r.downloadingCover()
	data, err := e.opts.Cover.Fetch(ctx, task.AudioURLs[0])
	if err != nil {
		return jobs.Result{}, fmt.Errorf("Failed to download generated audio: %w", err)
	}

	name := catalog.CoverFileName(req.Genre, e.opts.Now())
	logical := catalog.CoverPath(req.Collection, req.Item, name)
	local, err := e.store.LocalPath(logical)
	if err != nil {
		return jobs.Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return jobs.Result{}, fmt.Errorf("failed to create %s: %w", catalog.CoversDir, err)
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return jobs.Result{}, fmt.Errorf("failed to save cover: %w", err)
	}
	r.created(name)
	e.publish(ctx, r, local, logical)

	return jobs.Done("AI Cover generated successfully!"), nil
}

// pickStem chooses the source stem by role priority. Selected roles narrow the choice when any of them is present.
func pickStem(stems []storage.StemInfo, selected []catalog.Role) (storage.StemInfo, bool) {
	var known []storage.StemInfo
	for _, s := range stems {
		if s.Role.Valid() {
			known = append(known, s)
		}
	}
	if len(known) == 0 {
		return storage.StemInfo{}, false
	}

	pool := known
	if len(selected) > 0 {
		var narrowed []storage.StemInfo
		for _, s := range known {
			if slices.Contains(selected, s.Role) {
				narrowed = append(narrowed, s)
			}
		}
		if len(narrowed) > 0 {
			pool = narrowed
		}
	}

	for _, role := range stemPriority {
		for _, s := range pool {
			if s.Role == role {
				return s, true
			}
		}
	}
	return pool[0], true
}

// sourceURL returns a URL the cover API can fetch stem from.
func (e *MediaEngine) sourceURL(ctx context.Context, r reporter, stem storage.StemInfo) (string, error) {
	if e.store.Remote().Enabled() {
		_, found, err := e.store.Remote().Version(ctx, stem.Path)
		if err != nil {
			return "", err
		}
		if found {
			return e.store.Remote().PublicURL(stem.Path), nil
		}

		r.uploadingForCover()
		local, ok, err := e.store.EnsureLocal(ctx, stem.Path)
		if err != nil || !ok {
			return "", ErrNoPublicURL
		}
		u, err := e.store.Publish(ctx, local, stem.Path)
		if err != nil || u == "" {
			r.Error("Failed to upload to remote storage: %v", err)
			return "", ErrNoPublicURL
		}
		return u, nil
	}

	base := e.opts.PublicBaseURL
	if base == "" || isLocalhost(base) {
		r.Error("WARNING: the server is only reachable locally. The cover API needs a public URL to fetch files.")
		r.Error("Expose the server (for example with a tunnel) and set PUBLIC_BASE_URL (server.public_base_url) to its address.")
		return "", ErrNoPublicURL
	}
	return base + "/serve-audio/" + escapePath(stem.Path), nil
}

func isLocalhost(base string) bool {
	u, err := url.Parse(base)
	if err != nil {
		return true
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func escapePath(logical string) string {
	segs := strings.Split(path.Clean(logical), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// poll waits for taskID to settle. Lookup errors are reported and polling continues.
func (e *MediaEngine) poll(ctx context.Context, r reporter, taskID string) (services.CoverTask, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CoverTimeout)
	defer cancel()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		task, err := e.opts.Cover.Task(ctx, taskID)
		switch {
		case err != nil && ctx.Err() != nil:
			return services.CoverTask{}, ErrCoverTimeout
		case err != nil:
			r.Error("Status check failed: %v", err)
		case task.Status == services.TaskSuccess:
			if len(task.AudioURLs) == 0 {
				return task, fmt.Errorf("%w: task %s finished without audio", services.ErrCoverAPI, taskID)
			}
			return task, nil
		case task.Done():
			return task, task.Err()
		default:
			r.generating(task.Status)
		}

		select {
		case <-ctx.Done():
			return services.CoverTask{}, ErrCoverTimeout
		case <-ticker.C:
		}
	}
}
