package catalog

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Kind locates a logical path within an item.
type Kind int

const (
	KindUnknown Kind = iota
	KindPrimary
	KindStem
	KindCover
)

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "original"
	case KindStem:
		return "stem"
	case KindCover:
		return "cover"
	default:
		return "unknown"
	}
}

// Location is a logical path split into its catalog parts.
type Location struct {
	Collection string
	Item       string
	Kind       Kind
	File       string
}

// ItemDir is the logical folder of an item.
func ItemDir(collection, item string) string {
	return path.Join(collection, item)
}

// PrimaryPath is the logical path of an item's primary asset.
func PrimaryPath(collection, item, ext string) string {
	return path.Join(collection, item, item+"."+normalizeExt(ext))
}

// StemPath is the logical path of a stem file.
func StemPath(collection, item, file string) string {
	return path.Join(collection, item, StemsDir, file)
}

// CoverPath is the logical path of a generated cover.
func CoverPath(collection, item, file string) string {
	return path.Join(collection, item, CoversDir, file)
}

// CoverFileName names a generated cover. Genre text is cut to 30 characters with spaces replaced.
func CoverFileName(genre string, at time.Time) string {
	label := strings.TrimSpace(genre)
	if len(label) > 30 {
		label = label[:30]
	}
	label = strings.TrimSpace(strings.ReplaceAll(label, " ", "_"))
	if label == "" {
		label = "cover"
	}
	return fmt.Sprintf("AI_Cover_%s_%d.mp3", label, at.Unix())
}

// IsPrimaryFile reports whether file is the primary asset of item, i.e. "{item}.{ext}".
func IsPrimaryFile(item, file string) bool {
	ext := path.Ext(file)
	return ext != "" && strings.TrimSuffix(file, ext) == item
}

// Locate splits a logical path into collection, item and kind. Paths outside the layout return ok=false.
func Locate(logical string) (Location, bool) {
	parts := strings.Split(strings.Trim(path.Clean(logical), "/"), "/")
	if len(parts) < 3 || parts[1] == LegacyDir || parts[1] == TempDir {
		return Location{}, false
	}

	loc := Location{Collection: parts[0], Item: parts[1], File: parts[len(parts)-1]}
	switch {
	case len(parts) == 3 && IsPrimaryFile(loc.Item, loc.File):
		loc.Kind = KindPrimary
	case len(parts) == 4 && parts[2] == StemsDir:
		loc.Kind = KindStem
	case len(parts) == 4 && parts[2] == CoversDir:
		loc.Kind = KindCover
	}
	return loc, true
}

// MigrateLegacyPath maps "{collection}/downloads/{file}" onto "{collection}/{stem(file)}/{file}".
func MigrateLegacyPath(oldPath string) (string, bool) {
	parts := strings.Split(strings.Trim(path.Clean(oldPath), "/"), "/")
	if len(parts) != 3 || parts[1] != LegacyDir {
		return "", false
	}
	file := parts[2]
	item := strings.TrimSuffix(file, path.Ext(file))
	if item == "" {
		return "", false
	}
	return path.Join(parts[0], item, file), true
}

// ValidName reports whether s can be used as a single path segment of a collection or item.
func ValidName(s string) bool {
	if s == "" || s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

// ItemSummary describes an item as seen by listings.
type ItemSummary struct {
	Collection string `json:"channel"`
	Name       string `json:"name"`
	Primary    string `json:"filename,omitempty"`
	Stems      int    `json:"stems"`
	Covers     int    `json:"covers"`
	Remote     bool   `json:"remote,omitempty"`
}

// HasStems reports whether any isolated stem exists for the item.
func (s ItemSummary) HasStems() bool { return s.Stems > 0 }

// CollectionSummary describes a collection as seen by listings.
type CollectionSummary struct {
	Name        string `json:"name"`
	Count       int    `json:"count"`
	HasIsolated bool   `json:"hasIsolated"`
}
