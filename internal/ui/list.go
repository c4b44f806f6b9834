package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/stemx/internal/catalog"
)

var (
	_ list.Item = collectionItem{}
	_ list.Item = itemItem{}
)

// collectionItem wraps [catalog.CollectionSummary] to implement [list.Item].
type collectionItem struct {
	collection catalog.CollectionSummary
}

func (i collectionItem) FilterValue() string { return i.collection.Name }
func (i collectionItem) Title() string       { return i.collection.Name }
func (i collectionItem) Description() string {
	desc := fmt.Sprintf("%d items", i.collection.Count)
	if i.collection.HasIsolated {
		desc += " • stems available"
	}
	return desc
}

// itemItem wraps [catalog.ItemSummary] to implement [list.Item].
type itemItem struct {
	item catalog.ItemSummary
}

func (i itemItem) FilterValue() string { return i.item.Name }
func (i itemItem) Title() string       { return i.item.Name }
func (i itemItem) Description() string {
	desc := fmt.Sprintf("%d stems • %d covers", i.item.Stems, i.item.Covers)
	if i.item.Remote {
		desc += " • remote only"
	}
	return desc
}
