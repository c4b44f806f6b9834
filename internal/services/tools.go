package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/stemx/internal/shared"
)

var (
	// ErrToolFailed covers a non-zero exit or recognized failure text in a tool's diagnostics.
	ErrToolFailed = errors.New("external tool failed")
	// ErrToolTimeout is returned when a tool is killed for running past its ceiling.
	ErrToolTimeout = errors.New("external tool timed out")
	// ErrToolMissing means the executable could not be found.
	ErrToolMissing = errors.New("external tool not found")
)

// DiagnosticLimit bounds the tool output excerpt carried in errors.
const DiagnosticLimit = 500

// DefaultToolTimeout is the hard ceiling for a single tool invocation.
const DefaultToolTimeout = 5 * time.Minute

// ToolError describes a failed tool invocation.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Tool, e.Err)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + shared.Truncate(e.Stderr, DiagnosticLimit)
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Tool runs one external program with a hard timeout.
type Tool struct {
	Path    string
	Timeout time.Duration
	Logger  *log.Logger
}

// NewTool returns a tool with the default ceiling when timeout is not positive.
func NewTool(path string, timeout time.Duration, logger *log.Logger) Tool {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return Tool{Path: path, Timeout: timeout, Logger: logger}
}

// Name is the base name of the executable.
func (t Tool) Name() string { return filepath.Base(t.Path) }

// Available reports whether the executable can be resolved.
func (t Tool) Available() bool {
	if t.Path == "" {
		return false
	}
	_, err := exec.LookPath(t.Path)
	return err == nil
}

// Output is the captured result of [Tool.Run].
type Output struct {
	Stdout string
	Stderr string
}

// Run executes the tool and captures both streams.
func (t Tool) Run(ctx context.Context, args ...string) (Output, error) {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	t.Logger.Debug("running tool", "tool", t.Name(), "args", args)
	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	return out, t.classify(ctx, err, out.Stderr)
}

// Stream executes the tool with stdout and stderr merged and calls onLine for each trimmed line as it arrives.
func (t Tool) Stream(ctx context.Context, onLine func(line string), args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, t.Path, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.WaitDelay = time.Second

	t.Logger.Debug("streaming tool", "tool", t.Name(), "args", args)
	if err := cmd.Start(); err != nil {
		pw.Close()
		return t.classify(ctx, err, "")
	}

	var (
		wg   sync.WaitGroup
		tail tailBuffer
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			tail.add(line)
			if onLine != nil {
				onLine(line)
			}
		}
		io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	wg.Wait()
	return t.classify(ctx, err, tail.String())
}

func (t Tool) classify(ctx context.Context, err error, stderr string) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ToolError{Tool: t.Name(), Stderr: stderr, Err: fmt.Errorf("%w after %s", ErrToolTimeout, t.Timeout)}
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return &ToolError{Tool: t.Name(), Err: ErrToolMissing}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Tool: t.Name(), ExitCode: exitErr.ExitCode(), Stderr: stderr, Err: ErrToolFailed}
	}
	return &ToolError{Tool: t.Name(), Stderr: stderr, Err: fmt.Errorf("%w: %v", ErrToolFailed, err)}
}

// tailBuffer keeps the last DiagnosticLimit bytes of merged output.
type tailBuffer struct {
	buf []byte
}

func (b *tailBuffer) add(line string) {
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if over := len(b.buf) - DiagnosticLimit; over > 0 {
		b.buf = b.buf[over:]
	}
}

func (b *tailBuffer) String() string { return string(b.buf) }

var percentPattern = regexp.MustCompile(`(\d+\.?\d*)%`)

// ProgressLine is what [ParseProgressLine] extracts from downloader output.
type ProgressLine struct {
	Percent    float64
	HasPercent bool
	// Item is the current item name when the line announces a destination file.
	Item string
}

// destinationPrefix marks the line naming the file being written.
const destinationPrefix = "Destination:"

// ParseProgressLine recognizes "[download]" lines carrying a percentage or a destination file. Any other line
// reports ok=false and should be dropped.
func ParseProgressLine(line string) (ProgressLine, bool) {
	if !strings.Contains(line, "[download]") {
		return ProgressLine{}, false
	}

	var p ProgressLine
	if _, after, found := strings.Cut(line, destinationPrefix); found {
		name := filepath.Base(strings.TrimSpace(after))
		p.Item = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if strings.Contains(line, "%") {
		if m := percentPattern.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				p.Percent, p.HasPercent = v, true
			}
		}
	}
	return p, p.HasPercent || p.Item != ""
}
