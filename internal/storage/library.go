package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/remote"
	"github.com/desertthunder/stemx/internal/shared"
)

// StemInfo describes one stem file of an item.
type StemInfo struct {
	Name string       `json:"name"`
	Role catalog.Role `json:"type"`
	Item string       `json:"beat,omitempty"`
	Path string       `json:"path"`
	URL  string       `json:"url,omitempty"`
}

// SampleGroup lists the stems of one collection.
type SampleGroup struct {
	Name  string     `json:"name"`
	Stems []StemInfo `json:"stems"`
	Count int        `json:"count"`
}

func visibleDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || e.Name() == catalog.LegacyDir {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n
}

// localPrimary finds "{item}.{ext}" inside an item folder, preferring mp3.
func localPrimary(itemDir, item string) string {
	entries, err := os.ReadDir(itemDir)
	if err != nil {
		return ""
	}
	var found string
	for _, e := range entries {
		if !e.Type().IsRegular() || !catalog.IsPrimaryFile(item, e.Name()) {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			return e.Name()
		}
		if found == "" {
			found = e.Name()
		}
	}
	return found
}

func (s *Synchronizer) localItems(collection string) ([]catalog.ItemSummary, error) {
	dir := filepath.Join(s.root, collection)
	names, err := visibleDirs(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var items []catalog.ItemSummary
	for _, name := range names {
		itemDir := filepath.Join(dir, name)
		primary := localPrimary(itemDir, name)
		if primary == "" {
			continue
		}
		items = append(items, catalog.ItemSummary{
			Collection: collection,
			Name:       name,
			Primary:    primary,
			Stems:      countFiles(filepath.Join(itemDir, catalog.StemsDir)),
			Covers:     countFiles(filepath.Join(itemDir, catalog.CoversDir)),
		})
	}
	return items, nil
}

// remoteItems rebuilds item summaries from a remote listing, grouping by the item segment of each path.
func (s *Synchronizer) remoteItems(ctx context.Context, prefix string) ([]catalog.ItemSummary, error) {
	entries, err := s.remote.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	byItem := make(map[string]*catalog.ItemSummary)
	var order []string
	for _, e := range entries {
		loc, ok := catalog.Locate(e.Path)
		if !ok {
			continue
		}
		key := loc.Collection + "/" + loc.Item
		sum, seen := byItem[key]
		if !seen {
			sum = &catalog.ItemSummary{Collection: loc.Collection, Name: loc.Item, Remote: true}
			byItem[key] = sum
			order = append(order, key)
		}
		switch loc.Kind {
		case catalog.KindPrimary:
			if sum.Primary == "" || strings.EqualFold(path.Ext(loc.File), ".mp3") {
				sum.Primary = loc.File
			}
		case catalog.KindStem:
			sum.Stems++
		case catalog.KindCover:
			sum.Covers++
		}
	}

	items := make([]catalog.ItemSummary, 0, len(order))
	for _, key := range order {
		items = append(items, *byItem[key])
	}
	return items, nil
}

// ListKnownItems returns the items of collection. The local cache is scanned first; when it holds nothing the list
// is reconstructed from the remote store alone.
func (s *Synchronizer) ListKnownItems(ctx context.Context, collection string) ([]catalog.ItemSummary, error) {
	if !catalog.ValidName(collection) {
		return nil, fmt.Errorf("%w: collection %q", shared.ErrInvalidArgument, collection)
	}

	items, err := s.localItems(collection)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 && s.remote.Enabled() {
		items, err = s.remoteItems(ctx, collection)
		if err != nil {
			return nil, err
		}
	}

	slices.SortFunc(items, func(a, b catalog.ItemSummary) int { return strings.Compare(a.Name, b.Name) })
	return items, nil
}

// ItemNames returns the union of local item folders and items indexed by the remote store, sorted. Local folders
// are included even when their primary asset is missing locally. A remote failure is returned together with the
// local names.
func (s *Synchronizer) ItemNames(ctx context.Context, collection string) ([]string, error) {
	if !catalog.ValidName(collection) {
		return nil, fmt.Errorf("%w: collection %q", shared.ErrInvalidArgument, collection)
	}

	names, err := visibleDirs(filepath.Join(s.root, collection))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}

	var remoteErr error
	if s.remote.Enabled() {
		items, err := s.remoteItems(ctx, collection)
		if err != nil {
			remoteErr = err
		}
		for _, it := range items {
			if it.Primary != "" && !slices.Contains(names, it.Name) {
				names = append(names, it.Name)
			}
		}
	}

	slices.Sort(names)
	return names, remoteErr
}

// ListCollections summarizes every collection. With an empty local cache the remote store is listed instead.
func (s *Synchronizer) ListCollections(ctx context.Context) ([]catalog.CollectionSummary, error) {
	names, err := visibleDirs(s.root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	var collections []catalog.CollectionSummary
	for _, name := range names {
		items, err := s.localItems(name)
		if err != nil {
			return nil, err
		}
		collections = append(collections, summarize(name, items))
	}

	if len(collections) == 0 && s.remote.Enabled() {
		items, err := s.remoteItems(ctx, "")
		if err != nil {
			return nil, err
		}
		grouped := make(map[string][]catalog.ItemSummary)
		for _, it := range items {
			grouped[it.Collection] = append(grouped[it.Collection], it)
		}
		for name, its := range grouped {
			collections = append(collections, summarize(name, its))
		}
	}

	slices.SortFunc(collections, func(a, b catalog.CollectionSummary) int { return strings.Compare(a.Name, b.Name) })
	return collections, nil
}

func summarize(name string, items []catalog.ItemSummary) catalog.CollectionSummary {
	sum := catalog.CollectionSummary{Name: name}
	for _, it := range items {
		if it.Primary == "" {
			continue
		}
		sum.Count++
		if it.HasStems() {
			sum.HasIsolated = true
		}
	}
	return sum
}

// ListStems returns the stems of one item, falling back to the remote listing when the local folder is empty.
func (s *Synchronizer) ListStems(ctx context.Context, collection, item string) ([]StemInfo, error) {
	if !catalog.ValidName(collection) || !catalog.ValidName(item) {
		return nil, fmt.Errorf("%w: %s/%s", shared.ErrInvalidArgument, collection, item)
	}

	var stems []StemInfo
	dir := filepath.Join(s.root, collection, item, catalog.StemsDir)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && isMediaFile(e.Name()) {
			stems = append(stems, s.stemInfo(catalog.StemPath(collection, item, e.Name()), item))
		}
	}

	if len(stems) == 0 && s.remote.Enabled() {
		remoteEntries, err := s.remote.List(ctx, path.Join(collection, item, catalog.StemsDir))
		if err != nil {
			return nil, err
		}
		for _, e := range remoteEntries {
			info := s.stemInfo(e.Path, item)
			info.URL = e.URL
			stems = append(stems, info)
		}
	}
	return stems, nil
}

func (s *Synchronizer) stemInfo(logical, item string) StemInfo {
	name := path.Base(logical)
	role, ok := catalog.RoleFromFileName(name)
	if !ok {
		role = "Unknown"
	}
	return StemInfo{Name: name, Role: role, Item: item, Path: logical, URL: s.remote.PublicURL(logical)}
}

// ListSamples groups local stems by collection. Collections without stems are omitted.
func (s *Synchronizer) ListSamples(ctx context.Context) ([]SampleGroup, error) {
	collections, err := visibleDirs(s.root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	var groups []SampleGroup
	for _, collection := range collections {
		items, err := visibleDirs(filepath.Join(s.root, collection))
		if err != nil {
			continue
		}
		group := SampleGroup{Name: collection}
		for _, item := range items {
			entries, err := os.ReadDir(filepath.Join(s.root, collection, item, catalog.StemsDir))
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
					group.Stems = append(group.Stems, s.stemInfo(catalog.StemPath(collection, item, e.Name()), item))
				}
			}
		}
		if group.Count = len(group.Stems); group.Count > 0 {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// DeleteKind selects which files of an item a delete touches.
type DeleteKind string

const (
	DeleteAll      DeleteKind = "all"
	DeleteOriginal DeleteKind = "original"
	DeleteStems    DeleteKind = "stems"
	DeleteCovers   DeleteKind = "covers"
)

// ParseDeleteKind validates a delete kind; empty means [DeleteAll].
func ParseDeleteKind(s string) (DeleteKind, error) {
	switch k := DeleteKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return DeleteAll, nil
	case DeleteAll, DeleteOriginal, DeleteStems, DeleteCovers:
		return k, nil
	default:
		return "", fmt.Errorf("%w: delete type %q", shared.ErrInvalidArgument, s)
	}
}

func (k DeleteKind) matches(kind catalog.Kind) bool {
	switch k {
	case DeleteOriginal:
		return kind == catalog.KindPrimary
	case DeleteStems:
		return kind == catalog.KindStem
	case DeleteCovers:
		return kind == catalog.KindCover
	default:
		return true
	}
}

// DeleteRequest selects what to remove. An empty Item targets the whole collection.
type DeleteRequest struct {
	Collection string
	Item       string
	Kind       DeleteKind
	Remote     bool
}

// DeleteResult counts removed files per tier.
type DeleteResult struct {
	Local  int `json:"deleted_local"`
	Remote int `json:"deleted_github"`
}

// Message is a human readable summary of the result.
func (r DeleteResult) Message() string {
	return fmt.Sprintf("Deleted %d local file(s) and %d remote file(s)", r.Local, r.Remote)
}

// Delete removes files of a collection or item from the local cache and, when asked, from the remote store.
// Remote deletes run in parallel, each presenting the version token it just observed.
func (s *Synchronizer) Delete(ctx context.Context, req DeleteRequest) (DeleteResult, error) {
	var result DeleteResult
	if !catalog.ValidName(req.Collection) || (req.Item != "" && !catalog.ValidName(req.Item)) {
		return result, fmt.Errorf("%w: %s/%s", shared.ErrInvalidArgument, req.Collection, req.Item)
	}
	if req.Kind == "" {
		req.Kind = DeleteAll
	}

	prefix := req.Collection
	if req.Item != "" {
		prefix = catalog.ItemDir(req.Collection, req.Item)
	}

	if req.Remote && s.remote.Enabled() {
		n, err := s.deleteRemote(ctx, prefix, req.Kind)
		result.Remote = n
		if err != nil {
			return result, err
		}
	}

	n, err := s.deleteLocal(prefix, req.Kind)
	result.Local = n
	return result, err
}

func (s *Synchronizer) deleteRemote(ctx context.Context, prefix string, kind DeleteKind) (int, error) {
	entries, err := s.remote.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	var deleted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deleteWorkers)
	for _, e := range entries {
		loc, ok := catalog.Locate(e.Path)
		if !ok || !kind.matches(loc.Kind) {
			continue
		}
		g.Go(func() error {
			token, found, err := s.remote.Version(gctx, e.Path)
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			err = s.remote.Delete(gctx, e.Path, token)
			if errors.Is(err, remote.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			s.forget(gctx, e.Path)
			deleted.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(deleted.Load()), err
}

// deleteLocal removes matching files. Deleting everything under an item removes the item folder.
func (s *Synchronizer) deleteLocal(prefix string, kind DeleteKind) (int, error) {
	root, err := s.LocalPath(prefix)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	var targets []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == catalog.TempDir {
				return filepath.SkipDir
			}
			return nil
		}
		logical, err := s.LogicalPath(p)
		if err != nil {
			return err
		}
		loc, ok := catalog.Locate(logical)
		if ok && kind.matches(loc.Kind) {
			targets = append(targets, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	deleted := 0
	for _, p := range targets {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return deleted, fmt.Errorf("failed to delete %s: %w", p, err)
		}
		deleted++
	}

	if kind == DeleteAll {
		if err := os.RemoveAll(root); err != nil {
			return deleted, fmt.Errorf("failed to remove %s: %w", root, err)
		}
	}
	return deleted, nil
}

// Usage describes how much each tier holds.
type Usage struct {
	RemoteEnabled bool   `json:"github_enabled"`
	Backend       string `json:"backend"`
	LocalPath     string `json:"local_path"`
	LocalBytes    int64  `json:"local_bytes"`
	LocalHuman    string `json:"local_size"`
	// RemoteBytes is -1 when the store could not report its size.
	RemoteBytes int64  `json:"remote_bytes"`
	RemoteHuman string `json:"remote_size,omitempty"`
}

// Usage sums the local cache and asks the remote store for its size. A remote failure leaves RemoteBytes at -1.
func (s *Synchronizer) Usage(ctx context.Context) (Usage, error) {
	u := Usage{RemoteEnabled: s.remote.Enabled(), Backend: s.remote.Backend(), LocalPath: s.root, RemoteBytes: -1}

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				u.LocalBytes += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		return u, fmt.Errorf("failed to measure local storage: %w", err)
	}
	u.LocalHuman = humanize.IBytes(uint64(u.LocalBytes))

	if u.RemoteEnabled {
		total, err := s.remote.TotalSize(ctx)
		if err != nil {
			s.logger.Warn("remote size unavailable", "err", err)
		} else {
			u.RemoteBytes = total
			u.RemoteHuman = humanize.IBytes(uint64(total))
		}
	}
	return u, nil
}
