// package catalog derives collection, item and variant identity from source metadata.
//
// Everything here is pure: the same inputs always produce the same names, which is what lets the local cache be
// rebuilt from the remote store by path alone.
package catalog

import (
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"
)

const (
	// UnknownCollection is used when a source URL carries no recognizable collection token.
	UnknownCollection = "unknown_channel"
	// StemsDir holds isolated stems beneath an item folder.
	StemsDir = "isolated_samples"
	// CoversDir holds generated covers beneath an item folder.
	CoversDir = "ai_covers"
	// LegacyDir is the flat per-collection folder used before items had their own directories.
	LegacyDir = "downloads"
	// TempDir receives downloader output before it is organized into item folders.
	TempDir = ".temp_download"
)

// Role classifies a variant.
type Role string

const (
	Vocals Role = "Vocals"
	Drums  Role = "Drums"
	Bass   Role = "Bass"
	Other  Role = "Other"
)

// Roles lists every role in cover selection priority order.
var Roles = []Role{Vocals, Drums, Bass, Other}

var roleAliases = map[string]Role{
	"vocals":       Vocals,
	"vocal":        Vocals,
	"drums":        Drums,
	"bass":         Bass,
	"other":        Other,
	"melody":       Other,
	"instrumental": Other,
	"sample":       Other,
}

// ParseRole maps a role name, or one of its aliases, to a [Role].
func ParseRole(s string) (Role, bool) {
	r, ok := roleAliases[strings.ToLower(strings.TrimSpace(s))]
	return r, ok
}

// Valid reports whether r is one of the four canonical roles.
func (r Role) Valid() bool {
	switch r {
	case Vocals, Drums, Bass, Other:
		return true
	}
	return false
}

// Mode is the scale of a key.
type Mode string

const (
	Major Mode = "maj"
	Minor Mode = "min"
)

// Key is a pitch class plus a mode. The zero value means unknown.
type Key struct {
	Pitch string
	Mode  Mode
}

// NewKey builds a key from an estimator's pitch and scale output ("C", "major").
func NewKey(pitch, scale string) (Key, bool) {
	pitch = strings.TrimSpace(pitch)
	if !pitchPattern.MatchString(pitch) {
		return Key{}, false
	}
	switch strings.ToLower(strings.TrimSpace(scale)) {
	case "major", "maj":
		return Key{Pitch: pitch, Mode: Major}, true
	case "minor", "min":
		return Key{Pitch: pitch, Mode: Minor}, true
	}
	return Key{}, false
}

func (k Key) IsZero() bool { return k.Pitch == "" || k.Mode == "" }

func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	return k.Pitch + string(k.Mode)
}

// Tags carries the optional analysis results attached to a variant.
type Tags struct {
	Tempo float64
	Key   Key
}

// Known reports whether both tempo and key are available, which is when they appear in file names.
func (t Tags) Known() bool {
	return t.Tempo > 0 && !t.Key.IsZero()
}

// RoundTempo rounds a tempo to one decimal place.
func RoundTempo(bpm float64) float64 {
	return math.Round(bpm*10) / 10
}

// CorrectOctave folds half and double time estimates back into the usual range.
func CorrectOctave(bpm float64) float64 {
	switch {
	case bpm > 170:
		bpm /= 2
	case bpm > 0 && bpm < 55:
		bpm *= 2
	}
	return RoundTempo(bpm)
}

var (
	channelPattern = regexp.MustCompile(`@([^/?]+)`)
	legacyPattern  = regexp.MustCompile(`/(c/|channel/|user/)([^/?]+)`)
	pitchPattern   = regexp.MustCompile(`^[A-G](#|b)?$`)
	tagsPattern    = regexp.MustCompile(`^(.+)_(\d+\.\d)BPM_([A-G](?:#|b)?)(maj|min)$`)
)

// CollectionID extracts the collection token from a source URL.
//
// A handle after '@' wins, then a /c/, /channel/ or /user/ segment, and otherwise [UnknownCollection].
func CollectionID(rawSourceURL string) string {
	if strings.Contains(rawSourceURL, "@") {
		if m := channelPattern.FindStringSubmatch(rawSourceURL); m != nil {
			return m[1]
		}
	}
	if m := legacyPattern.FindStringSubmatch(rawSourceURL); m != nil {
		return strings.ReplaceAll(m[2], "/", "_")
	}
	return UnknownCollection
}

// SanitizeName strips '@' and surrounding whitespace from a collection or item name.
func SanitizeName(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, "@", ""))
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(ext, ".")
}

// VariantFileName builds the deterministic file name of a variant.
//
// With both tags known the form is "{Role}_{item}_{tempo}BPM_{key}.{ext}", e.g. "Vocals_Song_128.0BPM_Cmaj.mp3";
// otherwise "{Role}_{item}.{ext}".
func VariantFileName(role Role, itemName string, tags Tags, ext string) string {
	ext = normalizeExt(ext)
	if tags.Known() {
		tempo := strconv.FormatFloat(RoundTempo(tags.Tempo), 'f', 1, 64)
		return fmt.Sprintf("%s_%s_%sBPM_%s.%s", role, itemName, tempo, tags.Key, ext)
	}
	return fmt.Sprintf("%s_%s.%s", role, itemName, ext)
}

// RoleFromFileName recovers the role of a file named by [VariantFileName].
func RoleFromFileName(name string) (Role, bool) {
	prefix, _, ok := strings.Cut(path.Base(name), "_")
	if !ok {
		return "", false
	}
	r := Role(prefix)
	return r, r.Valid()
}

// Variant is the parsed form of a variant file name.
type Variant struct {
	Role Role
	Item string
	Tags Tags
	Ext  string
}

// ParseVariantFileName is the inverse of [VariantFileName].
func ParseVariantFileName(name string) (Variant, bool) {
	name = path.Base(name)
	role, ok := RoleFromFileName(name)
	if !ok {
		return Variant{}, false
	}

	ext := path.Ext(name)
	rest := strings.TrimSuffix(strings.TrimPrefix(name, string(role)+"_"), ext)
	if rest == "" {
		return Variant{}, false
	}

	v := Variant{Role: role, Item: rest, Ext: normalizeExt(ext)}
	if m := tagsPattern.FindStringSubmatch(rest); m != nil {
		tempo, err := strconv.ParseFloat(m[2], 64)
		if err == nil {
			v.Item = m[1]
			v.Tags = Tags{Tempo: tempo, Key: Key{Pitch: m[3], Mode: Mode(m[4])}}
		}
	}
	return v, true
}

// Marker maps a substring written by the separation tool to the role of the file carrying it.
type Marker struct {
	Token string
	Role  Role
}

// DefaultMarkers is the ordered marker table for audio-separator output. The first matching entry wins.
var DefaultMarkers = []Marker{
	{Token: "(Vocals)", Role: Vocals},
	{Token: "(Instrumental)", Role: Other},
	{Token: "(Drums)", Role: Drums},
	{Token: "(Other)", Role: Other},
	{Token: "(Bass)", Role: Bass},
}

// MatchMarker returns the role of the first marker contained in name.
func MatchMarker(markers []Marker, name string) (Role, bool) {
	for _, m := range markers {
		if strings.Contains(name, m.Token) {
			return m.Role, true
		}
	}
	return "", false
}
