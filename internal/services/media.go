package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/shared"
)

// Mode selects how much of a source URL the downloader fetches.
type Mode string

const (
	ModeVideo    Mode = "video"
	ModePlaylist Mode = "playlist"
	ModeChannel  Mode = "channel"
)

// ParseMode maps user input onto a [Mode]; empty means channel.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeChannel:
		return ModeChannel, nil
	case ModeVideo:
		return ModeVideo, nil
	case ModePlaylist:
		return ModePlaylist, nil
	}
	return "", fmt.Errorf("%w: mode %q", shared.ErrInvalidArgument, s)
}

// Label is the human name used in status messages.
func (m Mode) Label() string {
	switch m {
	case ModeVideo:
		return "single video"
	case ModePlaylist:
		return "playlist"
	default:
		return "entire channel"
	}
}

// DownloadRequest describes one downloader run.
type DownloadRequest struct {
	URL    string
	Mode   Mode
	Audio  bool
	OutDir string
}

// Downloader wraps the media downloader (yt-dlp compatible).
type Downloader struct {
	Tool Tool
}

// Args builds the command line for req.
func (d Downloader) Args(req DownloadRequest) []string {
	args := []string{"--no-warnings", "--ignore-errors", "--progress"}
	if req.Mode == ModeVideo {
		args = append([]string{"--no-playlist"}, args...)
	}
	if req.Audio {
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "0")
	} else {
		args = append(args, "-f", "bestvideo+bestaudio/best", "--merge-output-format", "mp4")
	}
	return append(args, "-o", req.OutDir+"/%(title)s.%(ext)s", req.URL)
}

// Download runs the downloader and reports recognized progress lines to onProgress. Other output is dropped.
func (d Downloader) Download(ctx context.Context, req DownloadRequest, onProgress func(ProgressLine)) error {
	return d.Tool.Stream(ctx, func(line string) {
		if p, ok := ParseProgressLine(line); ok && onProgress != nil {
			onProgress(p)
		}
	}, d.Args(req)...)
}

// Separator wraps the stem separation tool (audio-separator compatible).
type Separator struct {
	Tool  Tool
	Model string
}

// diagnosticMarkers in stderr mean the run failed even when the exit code says otherwise.
var diagnosticMarkers = []string{"ERROR", "Failed"}

// Args builds the command line. singleStem, when set, limits output to that stem.
func (s Separator) Args(input, outDir, singleStem string) []string {
	args := []string{input, "-m", s.Model, "--output_dir", outDir, "--output_format", "mp3"}
	if singleStem != "" {
		args = append(args, "--single_stem", singleStem)
	}
	return args
}

// Separate splits input into stems written to outDir. The returned stderr is kept for diagnostics even on success.
func (s Separator) Separate(ctx context.Context, input, outDir, singleStem string) (string, error) {
	out, err := s.Tool.Run(ctx, s.Args(input, outDir, singleStem)...)
	if err != nil {
		return out.Stderr, err
	}
	for _, marker := range diagnosticMarkers {
		if strings.Contains(out.Stderr, marker) {
			return out.Stderr, &ToolError{Tool: s.Tool.Name(), Stderr: out.Stderr, Err: ErrToolFailed}
		}
	}
	return out.Stderr, nil
}

// Analyzer estimates tempo and key of an audio file. Unknown values are left zero.
type Analyzer interface {
	Analyze(ctx context.Context, file string) (catalog.Tags, error)
}

// NoAnalyzer reports nothing; names are then produced without tags.
type NoAnalyzer struct{}

func (NoAnalyzer) Analyze(context.Context, string) (catalog.Tags, error) { return catalog.Tags{}, nil }

// ToolAnalyzer runs an external estimator that prints {"bpm": 128.2, "key": "C", "scale": "major"} on stdout.
type ToolAnalyzer struct {
	Tool Tool
}

type analysis struct {
	BPM   float64 `json:"bpm"`
	Key   string  `json:"key"`
	Scale string  `json:"scale"`
}

// Analyze applies octave correction to the reported tempo.
func (a ToolAnalyzer) Analyze(ctx context.Context, file string) (catalog.Tags, error) {
	out, err := a.Tool.Run(ctx, file)
	if err != nil {
		return catalog.Tags{}, err
	}

	var res analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stdout)), &res); err != nil {
		return catalog.Tags{}, &ToolError{Tool: a.Tool.Name(), Stderr: out.Stdout, Err: fmt.Errorf("%w: unreadable output", ErrToolFailed)}
	}

	tags := catalog.Tags{Tempo: catalog.CorrectOctave(res.BPM)}
	if key, ok := catalog.NewKey(res.Key, res.Scale); ok {
		tags.Key = key
	}
	return tags, nil
}
