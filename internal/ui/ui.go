package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	CollectionListView ViewState = iota
	ItemListView
	ConfirmView
	JobView
	ResultView
)

// Action is a job the browser can start on the selected item.
type Action int

const (
	Isolate Action = iota
	Restore
)

func (a Action) String() string {
	if a == Restore {
		return "Restore from remote storage"
	}
	return "Isolate stems"
}

// Library is the read side of the storage synchronizer used by the browser.
type Library interface {
	ListCollections(ctx context.Context) ([]catalog.CollectionSummary, error)
	ListKnownItems(ctx context.Context, collection string) ([]catalog.ItemSummary, error)
}

// Launcher starts a job for an action on a collection or item.
type Launcher func(ctx context.Context, action Action, collection, item string) *jobs.Job

const maxLogLines = 8

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	view    ViewState
	library Library
	launch  Launcher
	// watchOnly models follow a single job and have no library to return to.
	watchOnly bool

	width      int
	height     int
	collList   list.Model
	itemList   list.Model
	collReady  bool
	itemReady  bool
	collection string
	item       string
	action     Action

	job      *jobs.Job
	reader   *jobs.Reader
	title    string
	log      []string
	percent  float64
	result   *jobs.Event
	spinner  spinner.Model
	progress progress.Model

	err  error
	help help.Model
	keys keyMap
}

func newModel(ctx context.Context) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.title.UnsetMarginBottom()
	return &Model{
		ctx:      ctx,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// NewModel creates a library browser that can start isolate and restore jobs.
func NewModel(ctx context.Context, library Library, launch Launcher) *Model {
	m := newModel(ctx)
	m.view = CollectionListView
	m.library = library
	m.launch = launch
	return m
}

// NewWatchModel follows an already running job until its terminal event.
func NewWatchModel(ctx context.Context, job *jobs.Job, title string) *Model {
	m := newModel(ctx)
	m.watchOnly = true
	m.follow(job, title)
	return m
}

// Outcome is the terminal event of the followed job, if it arrived.
func (m *Model) Outcome() (jobs.Event, bool) {
	if m.result == nil {
		return jobs.Event{}, false
	}
	return *m.result, true
}

// Err is the last error shown by the model.
func (m *Model) Err() error { return m.err }

// Init fetches the collection list, or starts reading events in watch mode.
func (m *Model) Init() tea.Cmd {
	if m.watchOnly {
		return tea.Batch(m.spinner.Tick, m.waitForEvent())
	}
	return m.fetchCollections()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.collReady {
			m.collList.SetSize(msg.Width-4, msg.Height-8)
		}
		if m.itemReady {
			m.itemList.SetSize(msg.Width-4, msg.Height-8)
		}
		m.progress.Width = max(msg.Width-8, 10)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case CollectionListView:
			return m.handleCollectionKeys(msg)
		case ItemListView:
			return m.handleItemKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case JobView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case spinner.TickMsg:
		if m.view != JobView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgCollectionsFetched:
		data := msg.data.(collectionsData)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		items := make([]list.Item, len(data.collections))
		for i, c := range data.collections {
			items[i] = collectionItem{collection: c}
		}
		m.collList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.collList.Title = "Collections"
		m.collList.SetSize(m.width-4, m.height-8)
		m.collReady = true
		return m, nil

	case MsgItemsFetched:
		data := msg.data.(itemsData)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.collection = data.collection
		items := make([]list.Item, len(data.items))
		for i, it := range data.items {
			items[i] = itemItem{item: it}
		}
		m.itemList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.itemList.Title = fmt.Sprintf("Items in '%s'", data.collection)
		m.itemList.SetSize(m.width-4, m.height-8)
		m.itemReady = true
		m.view = ItemListView
		return m, nil

	case MsgJobEvent:
		e := msg.data.(jobs.Event)
		m.record(e)
		if e.IsTerminal() {
			m.result = &e
			m.view = ResultView
			return m, nil
		}
		return m, m.waitForEvent()

	case MsgJobDone:
		if err, _ := msg.data.(error); err != nil {
			m.err = err
		}
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

func (m *Model) record(e jobs.Event) {
	if e.Progress != nil {
		m.percent = *e.Progress
		return
	}
	m.log = append(m.log, styles.Event(e))
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case CollectionListView:
		if !m.collReady {
			return m.spinner.View() + " Loading library..."
		}
		return m.renderList(m.collList, m.keys.enter, m.keys.restore, m.keys.quit)
	case ItemListView:
		return m.renderList(m.itemList, m.keys.isolate, m.keys.restore, m.keys.back, m.keys.quit)
	case ConfirmView:
		return m.renderConfirm()
	case JobView:
		return m.renderJob()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleCollectionKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.collList.FilterState() == list.Filtering {
		return m.updateLists(msg)
	}
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if c, ok := m.collList.SelectedItem().(collectionItem); ok {
			return m, m.fetchItems(c.collection.Name)
		}
	case key.Matches(msg, m.keys.restore):
		if c, ok := m.collList.SelectedItem().(collectionItem); ok {
			m.confirm(Restore, c.collection.Name, "")
			return m, nil
		}
	}
	return m.updateLists(msg)
}

func (m *Model) handleItemKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.itemList.FilterState() == list.Filtering {
		return m.updateLists(msg)
	}
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = CollectionListView
		return m, nil
	case key.Matches(msg, m.keys.isolate), key.Matches(msg, m.keys.enter):
		if it, ok := m.itemList.SelectedItem().(itemItem); ok {
			m.confirm(Isolate, m.collection, it.item.Name)
			return m, nil
		}
	case key.Matches(msg, m.keys.restore):
		if it, ok := m.itemList.SelectedItem().(itemItem); ok {
			m.confirm(Restore, m.collection, it.item.Name)
			return m, nil
		}
	}
	return m.updateLists(msg)
}

func (m *Model) confirm(action Action, collection, item string) {
	m.action = action
	m.collection = collection
	m.item = item
	m.view = ConfirmView
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
		if m.item == "" {
			m.view = CollectionListView
		} else {
			m.view = ItemListView
		}
		return m, nil
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.yes):
		job := m.launch(m.ctx, m.action, m.collection, m.item)
		m.follow(job, fmt.Sprintf("%s: %s", m.action, target(m.collection, m.item)))
		return m, tea.Batch(m.spinner.Tick, m.waitForEvent())
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart) && !m.watchOnly:
		m.job, m.reader, m.result, m.err = nil, nil, nil, nil
		m.view = CollectionListView
		return m, m.fetchCollections()
	}
	return m, nil
}

func (m *Model) follow(job *jobs.Job, title string) {
	m.job = job
	m.reader = job.Events()
	m.title = title
	m.log = nil
	m.percent = 0
	m.result = nil
	m.view = JobView
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch {
	case m.view == CollectionListView && m.collReady:
		m.collList, cmd = m.collList.Update(msg)
	case m.view == ItemListView && m.itemReady:
		m.itemList, cmd = m.itemList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchCollections() tea.Cmd {
	return func() tea.Msg {
		collections, err := m.library.ListCollections(m.ctx)
		return collectionsFetchedMsg(collections, err)
	}
}

func (m *Model) fetchItems(collection string) tea.Cmd {
	return func() tea.Msg {
		items, err := m.library.ListKnownItems(m.ctx, collection)
		return itemsFetchedMsg(collection, items, err)
	}
}

// waitForEvent reads the next event. Only one read is in flight at a time, which the reader requires.
func (m *Model) waitForEvent() tea.Cmd {
	rd := m.reader
	return func() tea.Msg {
		e, err := rd.Next(m.ctx, 0)
		if errors.Is(err, io.EOF) {
			return jobDoneMsg(nil)
		}
		if err != nil {
			return jobDoneMsg(err)
		}
		return jobEventMsg(e)
	}
}

func target(collection, item string) string {
	if item == "" {
		return collection
	}
	return collection + "/" + item
}

func (m *Model) renderList(l list.Model, keys ...key.Binding) string {
	return fmt.Sprintf("%s\n\n%s", l.View(), m.help.ShortHelpView(keys))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("%s for '%s'?", m.action, target(m.collection, m.item)))
	info := fmt.Sprintf("\nCollection: %s\n", m.collection)
	if m.item != "" {
		info += fmt.Sprintf("Item: %s\n", m.item)
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no, m.keys.quit})
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderJob() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(m.title))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s Working...\n\n", m.spinner.View())
	if m.percent > 0 {
		b.WriteString(m.progress.ViewAs(m.percent / 100))
		b.WriteString("\n\n")
	}
	for _, line := range m.log {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(styles.help.Render("Closing the UI does not stop the job. Press q to quit."))
	return b.String()
}

func (m *Model) renderResult() string {
	var b strings.Builder
	switch {
	case m.err != nil:
		b.WriteString(styles.err.Render(fmt.Sprintf("Lost track of the job: %v", m.err)))
	case m.result == nil:
		b.WriteString(styles.err.Render("No result available"))
	case m.result.Failed():
		b.WriteString(styles.err.Render("✗ Job failed"))
		b.WriteString("\n\n")
		b.WriteString(m.result.Error)
	default:
		b.WriteString(styles.ok.Render("✓ " + m.result.Message))
		if m.result.Count != nil {
			fmt.Fprintf(&b, "\n\nItems: %d", *m.result.Count)
		}
	}

	if len(m.log) > 0 {
		b.WriteString("\n\n")
		b.WriteString(styles.help.Render("Last events:"))
		for _, line := range m.log {
			b.WriteString("\n  ")
			b.WriteString(line)
		}
	}

	keys := []key.Binding{m.keys.restart, m.keys.quit}
	if m.watchOnly {
		keys = []key.Binding{m.keys.quit}
	}
	b.WriteString("\n\n")
	b.WriteString(m.help.ShortHelpView(keys))
	return b.String()
}
