// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The browser walks the library and starts jobs on it:
//  1. [CollectionListView] : Browse collections
//  2. [ItemListView] : Browse the items of a collection
//  3. [ConfirmView] : Confirm an isolate or restore job
//  4. [JobView] : Follow the job's event stream with a spinner, progress bar and recent log
//  5. [ResultView] : Show the terminal message, or the failure
//
// [NewWatchModel] starts directly in [JobView] for a job launched from the command line.
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Events are read from a [jobs.Reader] one at a time inside a tea.Cmd, so the UI never blocks the job.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
