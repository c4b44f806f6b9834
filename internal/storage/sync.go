// package storage keeps the local cache tier in step with the remote store.
//
// The local tier is a plain directory tree rooted at the configured storage root, laid out exactly like the
// logical paths of internal/catalog. The remote tier is authoritative for durability: anything missing locally can be
// recreated by [Synchronizer.EnsureLocal].
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/remote"
	"github.com/desertthunder/stemx/internal/shared"
)

// RecordStore persists the last observed remote state per path.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec models.StorageRecord) error
	DeleteRecord(ctx context.Context, path string) error
}

// Options configure a [Synchronizer].
type Options struct {
	Records       RecordStore
	DeleteWorkers int
	Logger        *log.Logger
}

// Synchronizer reconciles the local cache with the remote store.
type Synchronizer struct {
	root          string
	remote        *remote.Client
	records       RecordStore
	deleteWorkers int
	logger        *log.Logger
}

// New returns a synchronizer for root. A nil client is treated as a disabled remote tier.
func New(root string, client *remote.Client, opts Options) *Synchronizer {
	if client == nil {
		client = remote.Disabled()
	}
	if opts.DeleteWorkers <= 0 {
		opts.DeleteWorkers = 4
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return &Synchronizer{
		root:          abs,
		remote:        client,
		records:       opts.Records,
		deleteWorkers: opts.DeleteWorkers,
		logger:        opts.Logger,
	}
}

// Root returns the absolute local storage root.
func (s *Synchronizer) Root() string { return s.root }

// Remote returns the underlying remote client.
func (s *Synchronizer) Remote() *remote.Client { return s.remote }

// LocalPath maps a logical path into the storage root, rejecting paths that escape it.
func (s *Synchronizer) LocalPath(logical string) (string, error) {
	slashed := strings.ReplaceAll(logical, `\`, "/")
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", shared.ErrInvalidPath, logical)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidPath, logical)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// LogicalPath is the inverse of [Synchronizer.LocalPath].
func (s *Synchronizer) LogicalPath(local string) (string, error) {
	rel, err := filepath.Rel(s.root, local)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidPath, local)
	}
	return filepath.ToSlash(rel), nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// EnsureLocal returns the local path of logical, downloading it from the remote store when the local copy is
// missing. found=false means neither tier has the object.
func (s *Synchronizer) EnsureLocal(ctx context.Context, logical string) (local string, found bool, err error) {
	local, err = s.LocalPath(logical)
	if err != nil {
		return "", false, err
	}
	if fileExists(local) {
		return local, true, nil
	}
	if !s.remote.Enabled() {
		return local, false, nil
	}

	data, token, err := s.remote.Read(ctx, logical)
	if errors.Is(err, remote.ErrNotFound) {
		return local, false, nil
	}
	if err != nil {
		return "", false, err
	}

	// another job may have produced the file while the download was in flight
	if fileExists(local) {
		return local, true, nil
	}
	if err := writeAtomic(local, data); err != nil {
		return "", false, err
	}

	s.logger.Debug("restored from remote", "path", logical, "bytes", len(data))
	s.record(ctx, models.StorageRecord{Path: logical, Version: token, Size: int64(len(data)), PublicURL: s.remote.PublicURL(logical)})
	return local, true, nil
}

// writeAtomic writes data to a temporary file in the target directory and renames it into place, so readers never
// observe a partial file.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(target), err)
	}
	return nil
}

// Publish uploads localFile to logical and returns its public URL.
//
// The current version token is read first and presented with the write. On a conflict the token is re-read and the
// write retried once; a second failure is returned. With the remote tier disabled Publish is a no-op.
func (s *Synchronizer) Publish(ctx context.Context, localFile, logical string) (string, error) {
	if !s.remote.Enabled() {
		return "", nil
	}

	info, err := os.Stat(localFile)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", localFile, err)
	}
	if info.Size() > s.remote.MaxObjectSize() {
		return "", &remote.OpError{
			Op:   "write",
			Path: logical,
			Err:  fmt.Errorf("%w: %d bytes > %d", remote.ErrSizeExceeded, info.Size(), s.remote.MaxObjectSize()),
		}
	}

	obj, err := s.publishOnce(ctx, localFile, logical)
	if errors.Is(err, remote.ErrConflict) {
		s.logger.Warn("version conflict on publish, retrying once", "path", logical)
		obj, err = s.publishOnce(ctx, localFile, logical)
	}
	if err != nil {
		return "", err
	}

	s.record(ctx, models.StorageRecord{Path: logical, Version: obj.Version, Size: obj.Size, PublicURL: obj.URL})
	return obj.URL, nil
}

func (s *Synchronizer) publishOnce(ctx context.Context, localFile, logical string) (remote.Object, error) {
	token, _, err := s.remote.Version(ctx, logical)
	if err != nil {
		return remote.Object{}, err
	}
	return s.remote.WriteFile(ctx, logical, localFile, token)
}

func (s *Synchronizer) record(ctx context.Context, rec models.StorageRecord) {
	if s.records == nil || rec.Version == "" {
		return
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.records.SaveRecord(ctx, rec); err != nil {
		s.logger.Warn("failed to save storage record", "path", rec.Path, "err", err)
	}
}

func (s *Synchronizer) forget(ctx context.Context, logical string) {
	if s.records == nil {
		return
	}
	if err := s.records.DeleteRecord(ctx, logical); err != nil {
		s.logger.Warn("failed to delete storage record", "path", logical, "err", err)
	}
}

// MigrateLegacy moves files from the flat "{collection}/downloads" folder into per-item folders and returns how many
// files moved. Files whose target already exists stay where they are. Failure to remove the legacy folder afterwards
// is ignored.
func (s *Synchronizer) MigrateLegacy(collection string) (int, error) {
	if !catalog.ValidName(collection) {
		return 0, fmt.Errorf("%w: collection %q", shared.ErrInvalidArgument, collection)
	}

	legacy := filepath.Join(s.root, collection, catalog.LegacyDir)
	entries, err := os.ReadDir(legacy)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", legacy, err)
	}

	moved := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isMediaFile(entry.Name()) {
			continue
		}

		logical, ok := catalog.MigrateLegacyPath(path.Join(collection, catalog.LegacyDir, entry.Name()))
		if !ok {
			continue
		}
		target, err := s.LocalPath(logical)
		if err != nil {
			return moved, err
		}
		if err := os.MkdirAll(filepath.Join(filepath.Dir(target), catalog.StemsDir), 0o755); err != nil {
			return moved, fmt.Errorf("failed to create item folder: %w", err)
		}
		if fileExists(target) {
			continue
		}
		if err := os.Rename(filepath.Join(legacy, entry.Name()), target); err != nil {
			return moved, fmt.Errorf("failed to move %s: %w", entry.Name(), err)
		}
		moved++
	}

	if err := os.Remove(legacy); err != nil {
		s.logger.Debug("legacy folder left in place", "path", legacy, "err", err)
	}
	return moved, nil
}

func isMediaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3", ".mp4", ".m4a", ".wav":
		return true
	}
	return false
}
