package ui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/shared"
)

type fakeLibrary struct {
	collections []catalog.CollectionSummary
	items       map[string][]catalog.ItemSummary
	err         error
}

func (f fakeLibrary) ListCollections(ctx context.Context) ([]catalog.CollectionSummary, error) {
	return f.collections, f.err
}

func (f fakeLibrary) ListKnownItems(ctx context.Context, collection string) ([]catalog.ItemSummary, error) {
	return f.items[collection], f.err
}

func keyPress(s string) tea.KeyMsg {
	if s == "enter" {
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	if s == "esc" {
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// drain runs cmd and feeds its messages back until a job message has been handled or nothing is left.
func drain(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	for cmd != nil {
		msg := cmd()
		switch msg := msg.(type) {
		case tea.BatchMsg:
			for _, c := range msg {
				if c == nil {
					continue
				}
				if inner, ok := c().(Msg); ok {
					_, cmd = m.Update(inner)
					drain(t, m, cmd)
				}
			}
			return
		case Msg:
			_, cmd = m.Update(msg)
		default:
			return
		}
	}
}

func newRunner(t *testing.T) *jobs.Runner {
	r := jobs.NewRunner(jobs.Options{}, shared.NewLogger(io.Discard))
	t.Cleanup(r.Wait)
	return r
}

func TestModel(t *testing.T) {
	library := fakeLibrary{
		collections: []catalog.CollectionSummary{{Name: "beats", Count: 1}},
		items: map[string][]catalog.ItemSummary{
			"beats": {{Collection: "beats", Name: "Song", Primary: "Song.mp3", Stems: 4}},
		},
	}

	t.Run("Browse And Isolate", func(t *testing.T) {
		runner := newRunner(t)
		var launched []string
		launch := func(ctx context.Context, action Action, collection, item string) *jobs.Job {
			launched = append(launched, action.String()+" "+target(collection, item))
			return runner.Start(ctx, "isolate", target(collection, item), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
				emit.Status("Separating stems...")
				emit.Progress(50)
				return jobs.DoneCount("Stem isolation complete! (1/1 beats processed)", 1), nil
			})
		}

		m := NewModel(context.Background(), library, launch)
		m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
		drain(t, m, m.Init())
		if !m.collReady || m.view != CollectionListView {
			t.Fatalf("expected loaded collection list, view = %v", m.view)
		}

		_, cmd := m.Update(keyPress("enter"))
		drain(t, m, cmd)
		if m.view != ItemListView || m.collection != "beats" {
			t.Fatalf("expected item list for beats, view = %v", m.view)
		}
		if !strings.Contains(m.View(), "Song") {
			t.Errorf("item list does not show Song:\n%s", m.View())
		}

		m.Update(keyPress("i"))
		if m.view != ConfirmView || m.item != "Song" {
			t.Fatalf("expected confirm view for Song, view = %v", m.view)
		}
		if !strings.Contains(m.View(), "Isolate stems for 'beats/Song'?") {
			t.Errorf("unexpected confirm view:\n%s", m.View())
		}

		_, cmd = m.Update(keyPress("y"))
		if m.view != JobView {
			t.Fatalf("expected job view, got %v", m.view)
		}
		drain(t, m, cmd)

		if len(launched) != 1 || launched[0] != "Isolate stems beats/Song" {
			t.Errorf("launched = %v", launched)
		}
		if m.view != ResultView {
			t.Fatalf("expected result view, got %v", m.view)
		}
		outcome, ok := m.Outcome()
		if !ok || outcome.Count == nil || *outcome.Count != 1 {
			t.Errorf("unexpected outcome %+v", outcome)
		}
		if m.percent != 50 {
			t.Errorf("percent = %v, want 50", m.percent)
		}
		view := m.View()
		for _, want := range []string{"Stem isolation complete!", "Separating stems...", "Items: 1"} {
			if !strings.Contains(view, want) {
				t.Errorf("result view missing %q:\n%s", want, view)
			}
		}

		_, cmd = m.Update(keyPress("r"))
		if m.view != CollectionListView || m.result != nil {
			t.Errorf("restart did not reset the model")
		}
		drain(t, m, cmd)
	})

	t.Run("Cancel Confirm", func(t *testing.T) {
		m := NewModel(context.Background(), library, func(context.Context, Action, string, string) *jobs.Job {
			t.Fatal("launcher must not run")
			return nil
		})
		drain(t, m, m.Init())

		m.Update(keyPress("s"))
		if m.view != ConfirmView || m.action != Restore || m.item != "" {
			t.Fatalf("expected restore confirm for the collection, view = %v", m.view)
		}
		m.Update(keyPress("n"))
		if m.view != CollectionListView {
			t.Errorf("expected collection list after cancel, got %v", m.view)
		}
	})

	t.Run("Library Error", func(t *testing.T) {
		m := NewModel(context.Background(), fakeLibrary{err: errors.New("disk gone")}, nil)
		drain(t, m, m.Init())
		if m.Err() == nil || !strings.Contains(m.View(), "disk gone") {
			t.Errorf("expected error view, got:\n%s", m.View())
		}
	})
}

func TestWatchModel(t *testing.T) {
	runner := newRunner(t)
	job := runner.Start(context.Background(), "restore", "beats", func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		emit.Status("Checking cloud storage...")
		return jobs.Result{}, errors.New("remote storage is not configured")
	})

	m := NewWatchModel(context.Background(), job, "Restore: beats")
	drain(t, m, m.Init())

	outcome, ok := m.Outcome()
	if !ok || !outcome.Failed() {
		t.Fatalf("expected failed outcome, got %+v", outcome)
	}
	view := m.View()
	if !strings.Contains(view, "Job failed") || !strings.Contains(view, "remote storage is not configured") {
		t.Errorf("unexpected view:\n%s", view)
	}

	m.Update(keyPress("r"))
	if m.view != ResultView {
		t.Errorf("watch model should stay on the result, got %v", m.view)
	}
}
