package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/stemx/internal/jobs"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

// Event renders one line of a job log, colored by event kind.
func (p *Palette) Event(e jobs.Event) string {
	switch e.Kind() {
	case "failed":
		return p.err.Render("✗ " + e.Error)
	case "complete":
		return p.ok.Render("✓ " + e.Message)
	case "error":
		return p.warn.Render("! " + e.Error)
	case "download":
		return p.help.Render("↓ " + e.Download)
	default:
		return e.String()
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
