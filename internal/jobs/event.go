package jobs

import (
	"fmt"
	"strings"
)

// Event is one entry of a job's event stream. Exactly one field group is set per event; the zero values are omitted
// from the wire form so clients can switch on key presence.
type Event struct {
	Status   string   `json:"status,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Download string   `json:"download,omitempty"`
	Error    string   `json:"error,omitempty"`
	Complete bool     `json:"complete,omitempty"`
	Message  string   `json:"message,omitempty"`
	Count    *int     `json:"count,omitempty"`
}

// IsTerminal reports whether e closes the stream.
func (e Event) IsTerminal() bool { return e.Complete }

// Failed reports whether e is a terminal failure.
func (e Event) Failed() bool { return e.Complete && e.Error != "" }

// Kind names the field group carried by e.
func (e Event) Kind() string {
	switch {
	case e.Complete && e.Error != "":
		return "failed"
	case e.Complete:
		return "complete"
	case e.Error != "":
		return "error"
	case e.Progress != nil:
		return "progress"
	case e.Download != "":
		return "download"
	default:
		return "status"
	}
}

// String renders e for line-oriented terminals.
func (e Event) String() string {
	switch e.Kind() {
	case "failed":
		return "failed: " + e.Error
	case "complete":
		if e.Count != nil {
			return fmt.Sprintf("done: %s (%d)", e.Message, *e.Count)
		}
		return "done: " + e.Message
	case "error":
		return "error: " + e.Error
	case "progress":
		return fmt.Sprintf("progress: %.1f%%", *e.Progress)
	case "download":
		return "downloading: " + e.Download
	default:
		return e.Status
	}
}

func StatusEvent(msg string) Event { return Event{Status: msg} }

func ProgressEvent(pct float64) Event { return Event{Progress: &pct} }

func DownloadEvent(item string) Event { return Event{Download: item} }

// ErrorEvent is a non-terminal failure report; the job keeps running.
func ErrorEvent(msg string) Event { return Event{Error: msg} }

// CompleteEvent is the terminal success event. count may be nil.
func CompleteEvent(msg string, count *int) Event {
	return Event{Complete: true, Message: msg, Count: count}
}

// FailedEvent is the terminal failure event. An empty msg becomes "job failed".
func FailedEvent(msg string) Event {
	if strings.TrimSpace(msg) == "" {
		msg = "job failed"
	}
	return Event{Error: msg, Complete: true}
}
