package tasks

import (
	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/services"
)

// reporter names the messages a media job sends to its event stream.
type reporter struct {
	jobs.Emitter
}

func (r reporter) startDownload(mode services.Mode) {
	r.Status("Starting %s download...", mode.Label())
}

func (r reporter) organizing() { r.Status("Organizing downloaded files...") }

func (r reporter) uploaded(name string) { r.Status("Uploaded to remote storage: %s", name) }

func (r reporter) uploadFailed(name string, err error) {
	r.Error("Remote upload failed for %s: %v", name, err)
}

func (r reporter) checkingRemote() { r.Status("Checking cloud storage...") }

func (r reporter) migrating() { r.Status("Migrating old files to new structure...") }

func (r reporter) restoring(name string) { r.Status("Downloading %s from remote storage...", name) }

func (r reporter) restored(name string) { r.Status("Downloaded: %s", name) }

func (r reporter) analyzing(step, total int, item string) {
	r.Status("[%d/%d] Analyzing %s...", step, total, item)
}

func (r reporter) detectingTags() { r.Status("Detecting BPM and key...") }

func (r reporter) detected(tags catalog.Tags) {
	if tags.Known() {
		r.Status("Detected: %.1f BPM, Key: %s", tags.Tempo, tags.Key)
	}
}

func (r reporter) separating() { r.Status("Starting AI stem isolation (~30-60s per beat)...") }

func (r reporter) created(name string) { r.Status("Created: %s", name) }

func (r reporter) completed(item string) { r.Status("Completed: %s", item) }

func (r reporter) usingStem(name string) { r.Status("Using stem: %s", name) }

func (r reporter) uploadingForCover() { r.Status("Uploading to remote storage for the cover API...") }

func (r reporter) fileUploaded(url string) { r.Status("File uploaded: %s", url) }

func (r reporter) sendingCover() { r.Status("Sending request to cover API...") }

func (r reporter) taskCreated(id string) {
	r.Status("Task created! ID: %s. Waiting for generation...", id)
}

func (r reporter) generating(status string) {
	if status == services.TaskFirstSuccess {
		r.Status("First track complete, waiting for the rest...")
		return
	}
	r.Status("Generating... (this may take 1-2 minutes)")
}

func (r reporter) downloadingCover() { r.Status("Downloading generated audio...") }
