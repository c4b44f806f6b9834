package server

import (
	"errors"
	"net/http"
	"os"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/storage"
)

// LibraryHandler serves listings, deletes and the audio files themselves.
type LibraryHandler struct {
	server *Server
}

// Register implements [Handler].
func (h *LibraryHandler) Register(r Router) {
	r.Handle(http.MethodGet, "/downloads", http.HandlerFunc(h.collections))
	r.Handle(http.MethodGet, "/beats/{channel}", http.HandlerFunc(h.items))
	r.Handle(http.MethodGet, "/samples", http.HandlerFunc(h.samples))
	r.Handle(http.MethodGet, "/stems/{channel}/{beat}", http.HandlerFunc(h.stems))
	r.Handle(http.MethodGet, "/storage-info", http.HandlerFunc(h.usage))
	r.Handle(http.MethodPost, "/delete", http.HandlerFunc(h.delete))
	r.Handle(http.MethodGet, "/serve-audio/{path...}", http.HandlerFunc(h.serveAudio))
}

func (h *LibraryHandler) collections(w http.ResponseWriter, r *http.Request) {
	collections, err := h.server.store.ListCollections(r.Context())
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	if collections == nil {
		collections = []catalog.CollectionSummary{}
	}
	writeJSON(w, http.StatusOK, collections)
}

func (h *LibraryHandler) items(w http.ResponseWriter, r *http.Request) {
	items, err := h.server.store.ListKnownItems(r.Context(), r.PathValue("channel"))
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	if items == nil {
		items = []catalog.ItemSummary{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *LibraryHandler) samples(w http.ResponseWriter, r *http.Request) {
	groups, err := h.server.store.ListSamples(r.Context())
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	if groups == nil {
		groups = []storage.SampleGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *LibraryHandler) stems(w http.ResponseWriter, r *http.Request) {
	stems, err := h.server.store.ListStems(r.Context(), r.PathValue("channel"), r.PathValue("beat"))
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	if stems == nil {
		stems = []storage.StemInfo{}
	}
	writeJSON(w, http.StatusOK, stems)
}

func (h *LibraryHandler) usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.server.store.Usage(r.Context())
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type deleteBody struct {
	Channel    string `json:"channel"`
	Beat       string `json:"beat"`
	Type       string `json:"type"`
	FromRemote *bool  `json:"deleteFromGithub"`
}

type deleteResponse struct {
	Success bool `json:"success"`
	storage.DeleteResult
	Message string `json:"message"`
}

func (h *LibraryHandler) delete(w http.ResponseWriter, r *http.Request) {
	var body deleteBody
	if err := decode(r, &body); err != nil {
		h.server.fail(w, r, err)
		return
	}
	if body.Channel == "" {
		writeError(w, http.StatusBadRequest, "Channel name required")
		return
	}
	kind, err := storage.ParseDeleteKind(body.Type)
	if err != nil {
		h.server.fail(w, r, err)
		return
	}

	result, err := h.server.store.Delete(r.Context(), storage.DeleteRequest{
		Collection: body.Channel,
		Item:       body.Beat,
		Kind:       kind,
		Remote:     body.FromRemote == nil || *body.FromRemote,
	})
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, DeleteResult: result, Message: result.Message()})
}

// serveAudio serves a file from the local cache. Paths that leave the storage root are rejected.
func (h *LibraryHandler) serveAudio(w http.ResponseWriter, r *http.Request) {
	local, err := h.server.store.LocalPath(r.PathValue("path"))
	if err != nil {
		h.server.fail(w, r, err)
		return
	}

	f, err := os.Open(local)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		h.server.fail(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	if !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
