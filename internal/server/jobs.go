package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/tasks"
)

const (
	historyLimit = 100
	wsWriteWait  = 10 * time.Second
)

// JobHandler starts jobs and streams their events.
type JobHandler struct {
	server *Server
}

// Register implements [Handler].
func (h *JobHandler) Register(r Router) {
	r.Handle(http.MethodPost, "/download", http.HandlerFunc(h.download))
	r.Handle(http.MethodPost, "/isolate", http.HandlerFunc(h.isolate))
	r.Handle(http.MethodPost, "/cover", http.HandlerFunc(h.cover))
	r.Handle(http.MethodPost, "/restore", http.HandlerFunc(h.restore))

	r.Handle(http.MethodGet, "/jobs", http.HandlerFunc(h.list))
	r.Handle(http.MethodGet, "/jobs/history", http.HandlerFunc(h.history))
	r.Handle(http.MethodGet, "/jobs/{id}", http.HandlerFunc(h.get))
	r.Handle(http.MethodGet, "/jobs/{id}/events", http.HandlerFunc(h.events))
	r.Handle(http.MethodGet, "/jobs/{id}/ws", http.HandlerFunc(h.websocket))
}

type downloadBody struct {
	URL   string `json:"url"`
	ToMp3 *bool  `json:"toMp3"`
	Mode  string `json:"mode"`
}

func (h *JobHandler) download(w http.ResponseWriter, r *http.Request) {
	var body downloadBody
	if err := decode(r, &body); err != nil {
		h.server.fail(w, r, err)
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}
	mode, err := services.ParseMode(body.Mode)
	if err != nil {
		h.server.fail(w, r, err)
		return
	}

	req := tasks.FetchRequest{URL: strings.TrimSpace(body.URL), Mode: mode, Audio: body.ToMp3 == nil || *body.ToMp3}
	h.stream(w, r, "fetch", req.Target(), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		return h.server.engine.Fetch(ctx, emit, req)
	})
}

type isolateBody struct {
	Folder     string `json:"folder"`
	Beat       string `json:"beat"`
	SingleStem string `json:"singleStem"`
}

func (h *JobHandler) isolate(w http.ResponseWriter, r *http.Request) {
	var body isolateBody
	if err := decode(r, &body); err != nil {
		h.server.fail(w, r, err)
		return
	}
	if body.Folder == "" {
		writeError(w, http.StatusBadRequest, "Folder name required")
		return
	}

	req := tasks.IsolateRequest{Collection: body.Folder, Item: body.Beat, SingleStem: body.SingleStem}
	h.stream(w, r, "isolate", target(body.Folder, body.Beat), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		return h.server.engine.Isolate(ctx, emit, req)
	})
}

type coverBody struct {
	Channel string   `json:"channel"`
	Beat    string   `json:"beat"`
	Stems   []string `json:"stems"`
	Genre   string   `json:"genre"`
}

func (h *JobHandler) cover(w http.ResponseWriter, r *http.Request) {
	var body coverBody
	if err := decode(r, &body); err != nil {
		h.server.fail(w, r, err)
		return
	}
	if body.Channel == "" || body.Beat == "" {
		writeError(w, http.StatusBadRequest, "Channel and beat are required")
		return
	}
	if len(body.Stems) == 0 {
		writeError(w, http.StatusBadRequest, "Please select at least one stem")
		return
	}

	roles := make([]catalog.Role, 0, len(body.Stems))
	for _, s := range body.Stems {
		role, ok := catalog.ParseRole(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown stem type: "+s)
			return
		}
		roles = append(roles, role)
	}

	req := tasks.CoverRequest{Collection: body.Channel, Item: body.Beat, Stems: roles, Genre: body.Genre}
	h.stream(w, r, "cover", target(body.Channel, body.Beat), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		return h.server.engine.Cover(ctx, emit, req)
	})
}

type restoreBody struct {
	Channel string `json:"channel"`
	Beat    string `json:"beat"`
}

func (h *JobHandler) restore(w http.ResponseWriter, r *http.Request) {
	var body restoreBody
	if err := decode(r, &body); err != nil {
		h.server.fail(w, r, err)
		return
	}
	if body.Channel == "" {
		writeError(w, http.StatusBadRequest, "Channel name required")
		return
	}

	req := tasks.RestoreRequest{Collection: body.Channel, Item: body.Beat}
	h.stream(w, r, "restore", target(body.Channel, body.Beat), func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		return h.server.engine.Restore(ctx, emit, req)
	})
}

func target(collection, item string) string {
	if item == "" {
		return collection
	}
	return collection + "/" + item
}

// stream dispatches fn and writes the job's events to the response. The job keeps running if the client leaves.
func (h *JobHandler) stream(w http.ResponseWriter, r *http.Request, kind, tgt string, fn jobs.Func) {
	j := h.server.runner.Start(r.Context(), kind, tgt, fn)
	h.writeEvents(w, r, j)
}

func (h *JobHandler) writeEvents(w http.ResponseWriter, r *http.Request, j *jobs.Job) {
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Set("X-Job-ID", j.ID)
	w.WriteHeader(http.StatusOK)

	err := jobs.Stream(r.Context(), w, j.Events(), h.server.runner.KeepAlive())
	if err != nil && !errors.Is(err, context.Canceled) {
		h.server.logger.Warn("event stream ended early", "job", j.ID, "err", err)
	}
}

type jobView struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	Target     string      `json:"target"`
	State      string      `json:"state"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Events     int         `json:"events"`
	Result     *jobs.Event `json:"result,omitempty"`
}

func viewOf(j *jobs.Job) jobView {
	v := jobView{
		ID:        j.ID,
		Kind:      j.Kind,
		Target:    j.Target,
		State:     j.State().String(),
		CreatedAt: j.CreatedAt,
		Events:    j.Channel().Len(),
	}
	if result, ok := j.Result(); ok {
		finished := j.FinishedAt()
		v.FinishedAt = &finished
		v.Result = &result
	}
	return v
}

func (h *JobHandler) list(w http.ResponseWriter, r *http.Request) {
	live := h.server.runner.List()
	views := make([]jobView, 0, len(live))
	for _, j := range live {
		views = append(views, viewOf(j))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *JobHandler) get(w http.ResponseWriter, r *http.Request) {
	j, err := h.server.runner.Get(r.PathValue("id"))
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(j))
}

type historyView struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Target     string     `json:"target"`
	State      string     `json:"state"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	Items      int        `json:"items"`
	Events     int        `json:"events"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func historyOf(rec *models.JobRecord) historyView {
	return historyView{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Target:     rec.Target,
		State:      rec.State,
		Message:    rec.Message,
		Error:      rec.Error,
		Items:      rec.Items,
		Events:     rec.Events,
		CreatedAt:  rec.CreatedAt,
		FinishedAt: rec.FinishedAt,
	}
}

func (h *JobHandler) history(w http.ResponseWriter, r *http.Request) {
	if h.server.history == nil {
		writeJSON(w, http.StatusOK, []historyView{})
		return
	}
	records, err := h.server.history.List(r.Context(), historyLimit)
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	views := make([]historyView, 0, len(records))
	for _, rec := range records {
		views = append(views, historyOf(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// events replays a job's stream from the first event, so a late subscriber sees everything.
func (h *JobHandler) events(w http.ResponseWriter, r *http.Request) {
	j, err := h.server.runner.Get(r.PathValue("id"))
	if err != nil {
		h.server.fail(w, r, err)
		return
	}
	h.writeEvents(w, r, j)
}

// websocket sends each event as one JSON text message, pings while the job is quiet, and closes normally after the
// terminal event.
func (h *JobHandler) websocket(w http.ResponseWriter, r *http.Request) {
	j, err := h.server.runner.Get(r.PathValue("id"))
	if err != nil {
		h.server.fail(w, r, err)
		return
	}

	conn, err := h.server.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.server.logger.Warn("websocket upgrade failed", "job", j.ID, "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is only needed to notice the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	rd := j.Events()
	for {
		e, err := rd.Next(ctx, h.server.runner.KeepAlive())
		switch {
		case errors.Is(err, jobs.ErrIdle):
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		case errors.Is(err, io.EOF):
			return
		case err != nil:
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			h.server.logger.Debug("websocket write failed", "job", j.ID, "err", err)
			return
		}
		if e.IsTerminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, e.Kind())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
			return
		}
	}
}
