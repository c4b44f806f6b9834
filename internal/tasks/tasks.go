package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/storage"
)

// Downloader fetches source media into a directory.
type Downloader interface {
	Download(ctx context.Context, req services.DownloadRequest, onProgress func(services.ProgressLine)) error
}

// Separator splits one audio file into stems.
type Separator interface {
	Separate(ctx context.Context, input, outDir, singleStem string) (string, error)
}

// CoverAPI is the generative cover service.
type CoverAPI interface {
	Configured() bool
	Submit(ctx context.Context, req services.CoverRequest) (string, error)
	Task(ctx context.Context, taskID string) (services.CoverTask, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configure a [MediaEngine]. Zero values fall back to defaults.
type Options struct {
	Downloader Downloader
	Separator  Separator
	Analyzer   services.Analyzer
	Cover      CoverAPI
	// Markers maps separator output to roles.
	Markers []catalog.Marker
	// PublicBaseURL is where this server is reachable from the cover API when the remote tier is disabled.
	PublicBaseURL string
	PollInterval  time.Duration
	CoverTimeout  time.Duration
	// Workers bounds parallel restores from the remote store.
	Workers int
	Now     func() time.Time
	Logger  *log.Logger
}

// MediaEngine runs the media jobs against one storage root.
type MediaEngine struct {
	store    *storage.Synchronizer
	opts     Options
	pipeline Pipeline
	logger   *log.Logger
}

// NewMediaEngine creates a new MediaEngine over store.
func NewMediaEngine(store *storage.Synchronizer, opts Options) *MediaEngine {
	if opts.Analyzer == nil {
		opts.Analyzer = services.NoAnalyzer{}
	}
	if len(opts.Markers) == 0 {
		opts.Markers = catalog.DefaultMarkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.CoverTimeout <= 0 {
		opts.CoverTimeout = 10 * time.Minute
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")

	return &MediaEngine{
		store:    store,
		opts:     opts,
		pipeline: Pipeline{Markers: opts.Markers, Publisher: store},
		logger:   opts.Logger,
	}
}

// Store returns the synchronizer the engine works on.
func (e *MediaEngine) Store() *storage.Synchronizer { return e.store }

// FetchRequest describes a fetch job.
type FetchRequest struct {
	URL  string
	Mode services.Mode
	// Audio extracts mp3 instead of keeping the video.
	Audio bool
	// Collection overrides the collection derived from URL.
	Collection string
}

// Target is the collection the request writes to.
func (r FetchRequest) Target() string {
	if r.Collection != "" {
		return catalog.SanitizeName(r.Collection)
	}
	return catalog.SanitizeName(catalog.CollectionID(r.URL))
}

// Fetch downloads r.URL into a temporary folder of the collection, moves every media file into its own item folder,
// and publishes the primary assets.
func (e *MediaEngine) Fetch(ctx context.Context, emit jobs.Emitter, req FetchRequest) (jobs.Result, error) {
	if e.opts.Downloader == nil {
		return jobs.Result{}, fmt.Errorf("%w: downloader not configured", shared.ErrMissingConfig)
	}
	if strings.TrimSpace(req.URL) == "" {
		return jobs.Result{}, fmt.Errorf("%w: url", shared.ErrMissingArgument)
	}

	collection := req.Target()
	if !catalog.ValidName(collection) {
		return jobs.Result{}, fmt.Errorf("%w: collection %q", shared.ErrInvalidArgument, collection)
	}

	collectionDir, err := e.store.LocalPath(collection)
	if err != nil {
		return jobs.Result{}, err
	}
	tempDir := filepath.Join(collectionDir, catalog.TempDir)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return jobs.Result{}, fmt.Errorf("failed to create download folder: %w", err)
	}
	defer os.RemoveAll(tempDir)

	r := reporter{emit}
	r.startDownload(req.Mode)

	var seen []string
	dlErr := e.opts.Downloader.Download(ctx, services.DownloadRequest{
		URL:    req.URL,
		Mode:   req.Mode,
		Audio:  req.Audio,
		OutDir: tempDir,
	}, func(p services.ProgressLine) {
		if p.HasPercent {
			r.Progress(p.Percent)
		}
		if p.Item != "" {
			r.Download(p.Item)
			if !slices.Contains(seen, p.Item) {
				seen = append(seen, p.Item)
			}
		}
	})
	switch {
	case errors.Is(dlErr, services.ErrToolMissing):
		return jobs.Result{}, dlErr
	case errors.Is(dlErr, services.ErrToolTimeout):
		r.Error("Download stopped: %v", dlErr)
	case dlErr != nil:
		e.logger.Warn("downloader exited with errors", "collection", collection, "err", dlErr)
	}

	r.organizing()
	organized := e.organize(ctx, r, collection, tempDir)

	if dlErr != nil {
		return jobs.Done("Download finished with warnings."), nil
	}
	count := organized
	if count == 0 {
		count = len(seen)
	}
	switch count {
	case 0:
		return jobs.DoneCount("Download complete!", 0), nil
	case 1:
		return jobs.DoneCount("1 video downloaded!", 1), nil
	default:
		return jobs.DoneCount(fmt.Sprintf("%d videos downloaded!", count), count), nil
	}
}

// organize moves each media file of tempDir to "{collection}/{item}/{file}", creates the stems folder and publishes
// the file. Existing targets are kept. It returns the number of files handled.
func (e *MediaEngine) organize(ctx context.Context, r reporter, collection, tempDir string) int {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		r.Error("Failed to read downloaded files: %v", err)
		return 0
	}

	organized := 0
	for _, entry := range entries {
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !entry.Type().IsRegular() || (ext != ".mp3" && ext != ".mp4") {
			continue
		}

		item := strings.TrimSuffix(name, filepath.Ext(name))
		if !catalog.ValidName(item) {
			r.Error("Skipped %s: unusable item name", name)
			continue
		}

		logical := catalog.PrimaryPath(collection, item, ext)
		target, err := e.store.LocalPath(logical)
		if err != nil {
			r.Error("Skipped %s: %v", name, err)
			continue
		}
		if err := os.MkdirAll(filepath.Join(filepath.Dir(target), catalog.StemsDir), 0o755); err != nil {
			r.Error("Failed to create folder for %s: %v", item, err)
			continue
		}
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			if err := os.Rename(filepath.Join(tempDir, name), target); err != nil {
				r.Error("Failed to move %s: %v", name, err)
				continue
			}
		}

		e.publish(ctx, r, target, logical)
		organized++
	}
	return organized
}

// publish uploads a produced file. Failures are reported and otherwise ignored.
func (e *MediaEngine) publish(ctx context.Context, r reporter, local, logical string) string {
	url, err := e.store.Publish(ctx, local, logical)
	if err != nil {
		r.uploadFailed(filepath.Base(logical), err)
		return ""
	}
	if url != "" {
		r.uploaded(filepath.Base(logical))
	}
	return url
}
