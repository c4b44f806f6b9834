package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
)

// Publisher uploads a produced file to the remote tier.
type Publisher interface {
	Publish(ctx context.Context, localFile, logical string) (string, error)
}

// Artifact is a file produced by the naming pipeline.
type Artifact struct {
	Role    catalog.Role
	Name    string
	Local   string
	Logical string
	// URL is empty when publishing failed or the remote tier is disabled.
	URL string
}

// Pipeline renames raw separator output into variant file names and publishes the result.
type Pipeline struct {
	Markers   []catalog.Marker
	Publisher Publisher
}

// Apply processes every file in dir, the stems folder of collection/item.
//
// Files carrying a known marker are renamed with [catalog.VariantFileName] and published; other files are left
// alone and not returned. A rename error skips that file. A publish error is reported and the file is still
// returned.
func (p Pipeline) Apply(ctx context.Context, emit jobs.Emitter, collection, item, dir string, tags catalog.Tags) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	r := reporter{emit}
	var artifacts []Artifact
	for _, name := range names {
		role, ok := catalog.MatchMarker(p.Markers, name)
		if !ok {
			continue
		}

		newName := catalog.VariantFileName(role, item, tags, filepath.Ext(name))
		dst := filepath.Join(dir, newName)
		if err := os.Rename(filepath.Join(dir, name), dst); err != nil {
			r.Error("Failed to rename %s: %v", name, err)
			continue
		}
		r.created(newName)

		a := Artifact{Role: role, Name: newName, Local: dst, Logical: catalog.StemPath(collection, item, newName)}
		if p.Publisher != nil {
			url, err := p.Publisher.Publish(ctx, dst, a.Logical)
			if err != nil {
				r.uploadFailed(newName, err)
			}
			a.URL = url
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}
