package shared

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestTruncate(t *testing.T) {
	tc := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short input kept", in: "boom", n: 10, want: "boom"},
		{name: "keeps tail", in: "abcdefghij", n: 4, want: "ghij"},
		{name: "trims whitespace first", in: "  abc \n", n: 3, want: "abc"},
		{name: "non positive limit", in: "abc", n: 0, want: "abc"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("Truncate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	if got := ParseLogLevel("DEBUG"); got != log.DebugLevel {
		t.Errorf("expected debug, got %v", got)
	}
	if got := ParseLogLevel("nonsense"); got != log.InfoLevel {
		t.Errorf("expected info fallback, got %v", got)
	}
}

func TestLoggers(t *testing.T) {
	t.Run("NewLogger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := WithLogger(NewLogger(&buf), "job", "abc")
		logger.Info("started")
		if !strings.Contains(buf.String(), "job=abc") {
			t.Errorf("expected child fields in output, got %q", buf.String())
		}
	})

	t.Run("NewFileLogger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "stemx.log")
		logger, f, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger() error = %v", err)
		}
		defer f.Close()
		logger.Warn("written")
		if err := f.Sync(); err != nil {
			t.Fatalf("sync: %v", err)
		}
	})

	t.Run("GenerateID", func(t *testing.T) {
		a, b := GenerateID(), GenerateID()
		if a == b || len(a) != 36 {
			t.Errorf("expected distinct uuids, got %q and %q", a, b)
		}
	})
}
