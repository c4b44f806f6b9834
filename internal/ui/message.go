package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgCollectionsFetched MsgKind = iota
	MsgItemsFetched
	MsgJobEvent
	MsgJobDone
)

type collectionsData struct {
	collections []catalog.CollectionSummary
	err         error
}

type itemsData struct {
	collection string
	items      []catalog.ItemSummary
	err        error
}

// collectionsFetchedMsg is the constructor for [MsgCollectionsFetched]
func collectionsFetchedMsg(collections []catalog.CollectionSummary, err error) Msg {
	return Msg{kind: MsgCollectionsFetched, data: collectionsData{collections, err}}
}

// itemsFetchedMsg is the constructor for [MsgItemsFetched]
func itemsFetchedMsg(collection string, items []catalog.ItemSummary, err error) Msg {
	return Msg{kind: MsgItemsFetched, data: itemsData{collection, items, err}}
}

// jobEventMsg is the constructor for [MsgJobEvent]
func jobEventMsg(e jobs.Event) Msg {
	return Msg{kind: MsgJobEvent, data: e}
}

// jobDoneMsg is the constructor for [MsgJobDone]. err is set when the stream broke before its terminal event.
func jobDoneMsg(err error) Msg {
	return Msg{kind: MsgJobDone, data: err}
}
