package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/desertthunder/stemx/internal/jobs"
	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/services"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/storage"
	"github.com/desertthunder/stemx/internal/tasks"
	tu "github.com/desertthunder/stemx/internal/testing"
)

type fakeDownloader struct{ files []string }

func (d fakeDownloader) Download(ctx context.Context, req services.DownloadRequest, onProgress func(services.ProgressLine)) error {
	for _, f := range d.files {
		if err := os.WriteFile(filepath.Join(req.OutDir, f), []byte("audio"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type fakeHistory struct {
	records []*models.JobRecord
	err     error
}

func (f fakeHistory) List(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	return f.records, f.err
}

type fixture struct {
	server *Server
	runner *jobs.Runner
	root   string
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	root := t.TempDir()
	logger := shared.NewLogger(io.Discard)

	store := storage.New(root, nil, storage.Options{Logger: logger})
	engine := tasks.NewMediaEngine(store, tasks.Options{
		Downloader: fakeDownloader{files: []string{"Song.mp3"}},
		Logger:     logger,
	})
	runner := jobs.NewRunner(jobs.Options{KeepAlive: 50 * time.Millisecond}, logger)
	t.Cleanup(runner.Wait)

	opts.Runner = runner
	opts.Engine = engine
	opts.Logger = logger
	return fixture{server: New(opts), runner: runner, root: root}
}

func (f fixture) seed(t *testing.T, logical, content string) {
	t.Helper()
	tu.MustWriteFile(t, filepath.Join(f.root, filepath.FromSlash(logical)), []byte(content))
}

func (f fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, httptest.NewRequest(method, target, rd))
	return rec
}

func TestJobEndpoints(t *testing.T) {
	t.Run("Download Streams Events", func(t *testing.T) {
		f := newFixture(t, Options{})
		rec := f.do(http.MethodPost, "/download", `{"url":"https://www.youtube.com/@beats","mode":"video"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("Content-Type = %q", ct)
		}
		if rec.Header().Get("X-Job-ID") == "" {
			t.Error("expected X-Job-ID header")
		}

		body := rec.Body.String()
		if !strings.HasPrefix(body, "data: ") {
			t.Errorf("expected SSE frames, got %q", body)
		}
		want := `data: {"complete":true,"message":"1 video downloaded!","count":1}` + "\n\n"
		if !strings.HasSuffix(body, want) {
			t.Errorf("expected terminal frame %q, got %q", want, body)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t, Options{})
		tests := []struct {
			name   string
			target string
			body   string
			want   string
		}{
			{"missing url", "/download", `{"url":"  "}`, "URL is required"},
			{"bad mode", "/download", `{"url":"https://example.com/v","mode":"album"}`, "invalid argument"},
			{"missing folder", "/isolate", `{}`, "Folder name required"},
			{"no stems", "/cover", `{"channel":"c","beat":"b","stems":[]}`, "Please select at least one stem"},
			{"unknown stem", "/cover", `{"channel":"c","beat":"b","stems":["kazoo"]}`, "Unknown stem type"},
			{"missing channel", "/restore", `{"beat":"b"}`, "Channel name required"},
			{"malformed body", "/isolate", `{"folder":`, "invalid argument"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := f.do(http.MethodPost, tt.target, tt.body)
				if rec.Code != http.StatusBadRequest {
					t.Fatalf("status = %d, want 400", rec.Code)
				}
				if !strings.Contains(rec.Body.String(), tt.want) {
					t.Errorf("body %q does not mention %q", rec.Body.String(), tt.want)
				}
			})
		}
		if n := len(f.runner.List()); n != 0 {
			t.Errorf("rejected requests started %d job(s)", n)
		}
	})

	t.Run("Failed Job Ends With Error Frame", func(t *testing.T) {
		f := newFixture(t, Options{})
		rec := f.do(http.MethodPost, "/restore", `{"channel":"beats"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"complete":true`) || !strings.Contains(rec.Body.String(), `"error":`) {
			t.Errorf("expected terminal error frame, got %q", rec.Body.String())
		}
	})

	t.Run("Replay And Lookup", func(t *testing.T) {
		f := newFixture(t, Options{})
		j := f.runner.Start(context.Background(), "isolate", "beats", func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
			emit.Status("working")
			return jobs.DoneCount("finished", 2), nil
		})
		<-j.Done()

		rec := f.do(http.MethodGet, "/jobs/"+j.ID+"/events", "")
		want := "data: {\"status\":\"working\"}\n\ndata: {\"complete\":true,\"message\":\"finished\",\"count\":2}\n\n"
		if rec.Body.String() != want {
			t.Errorf("replay = %q, want %q", rec.Body.String(), want)
		}

		rec = f.do(http.MethodGet, "/jobs/"+j.ID, "")
		var view jobView
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if view.State != "completed" || view.Result == nil || view.Result.Message != "finished" || view.FinishedAt == nil {
			t.Errorf("unexpected view %+v", view)
		}

		rec = f.do(http.MethodGet, "/jobs", "")
		var views []jobView
		if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(views) != 1 || views[0].ID != j.ID {
			t.Errorf("expected one live job, got %+v", views)
		}
	})

	t.Run("Unknown Job", func(t *testing.T) {
		f := newFixture(t, Options{})
		for _, target := range []string{"/jobs/nope", "/jobs/nope/events", "/jobs/nope/ws"} {
			if rec := f.do(http.MethodGet, target, ""); rec.Code != http.StatusNotFound {
				t.Errorf("%s: status = %d, want 404", target, rec.Code)
			}
		}
	})

	t.Run("History", func(t *testing.T) {
		finished := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		f := newFixture(t, Options{History: fakeHistory{records: []*models.JobRecord{
			{ID: "j1", Kind: "fetch", Target: "beats", State: "completed", Message: "done", Items: 3, FinishedAt: &finished},
		}}})

		rec := f.do(http.MethodGet, "/jobs/history", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var views []historyView
		if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(views) != 1 || views[0].ID != "j1" || views[0].Items != 3 {
			t.Errorf("unexpected history %+v", views)
		}

		f = newFixture(t, Options{History: fakeHistory{err: errors.New("db closed")}})
		if rec := f.do(http.MethodGet, "/jobs/history", ""); rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

func TestWebsocket(t *testing.T) {
	f := newFixture(t, Options{})
	release := make(chan struct{})
	j := f.runner.Start(context.Background(), "cover", "beats/song", func(ctx context.Context, emit jobs.Emitter) (jobs.Result, error) {
		emit.Status("queued")
		<-release
		return jobs.Done("AI Cover generated successfully!"), nil
	})

	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jobs/" + j.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first jobs.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.Status != "queued" {
		t.Errorf("first event = %+v", first)
	}

	close(release)

	var last jobs.Event
	if err := conn.ReadJSON(&last); err != nil {
		t.Fatalf("read terminal: %v", err)
	}
	if !last.IsTerminal() || last.Message != "AI Cover generated successfully!" {
		t.Errorf("terminal event = %+v", last)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal closure, got %v", err)
	}
}

func TestLibraryEndpoints(t *testing.T) {
	t.Run("Listings", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.seed(t, "beats/Song/Song.mp3", "primary")
		f.seed(t, "beats/Song/isolated_samples/Vocals_Song.mp3", "vocals")
		f.seed(t, "beats/Other/Other.mp4", "video")

		rec := f.do(http.MethodGet, "/downloads", "")
		if !strings.Contains(rec.Body.String(), `{"name":"beats","count":2,"hasIsolated":true}`) {
			t.Errorf("/downloads = %s", rec.Body.String())
		}

		rec = f.do(http.MethodGet, "/beats/beats", "")
		var items []map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(items) != 2 || items[0]["name"] != "Other" || items[1]["filename"] != "Song.mp3" {
			t.Errorf("/beats/beats = %s", rec.Body.String())
		}

		rec = f.do(http.MethodGet, "/stems/beats/Song", "")
		var stems []storage.StemInfo
		if err := json.Unmarshal(rec.Body.Bytes(), &stems); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(stems) != 1 || stems[0].Role != "Vocals" || stems[0].Path != "beats/Song/isolated_samples/Vocals_Song.mp3" {
			t.Errorf("/stems = %s", rec.Body.String())
		}

		rec = f.do(http.MethodGet, "/samples", "")
		if !strings.Contains(rec.Body.String(), `"count":1`) {
			t.Errorf("/samples = %s", rec.Body.String())
		}
	})

	t.Run("Empty Library", func(t *testing.T) {
		f := newFixture(t, Options{})
		for _, target := range []string{"/downloads", "/samples", "/beats/none", "/stems/none/none"} {
			rec := f.do(http.MethodGet, target, "")
			if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
				t.Errorf("%s: %d %q", target, rec.Code, rec.Body.String())
			}
		}
	})

	t.Run("Storage Info", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.seed(t, "beats/Song/Song.mp3", "12345")

		rec := f.do(http.MethodGet, "/storage-info", "")
		var u storage.Usage
		if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if u.RemoteEnabled || u.LocalBytes != 5 {
			t.Errorf("unexpected usage %+v", u)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.seed(t, "beats/Song/Song.mp3", "primary")
		f.seed(t, "beats/Song/isolated_samples/Vocals_Song.mp3", "vocals")

		rec := f.do(http.MethodPost, "/delete", `{"channel":"beats","beat":"Song","type":"stems","deleteFromGithub":false}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Success bool   `json:"success"`
			Local   int    `json:"deleted_local"`
			Remote  int    `json:"deleted_github"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.Success || resp.Local != 1 || resp.Remote != 0 || resp.Message == "" {
			t.Errorf("unexpected response %+v", resp)
		}
		tu.AssertFileExists(t, filepath.Join(f.root, "beats", "Song", "Song.mp3"))
		tu.AssertNoFile(t, filepath.Join(f.root, "beats", "Song", "isolated_samples", "Vocals_Song.mp3"))

		for _, body := range []string{`{"beat":"Song"}`, `{"channel":"beats","type":"everything"}`, `{"channel":"../x"}`} {
			if rec := f.do(http.MethodPost, "/delete", body); rec.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", body, rec.Code)
			}
		}
	})

	t.Run("Serve Audio", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.seed(t, "beats/Song/Song.mp3", "primary audio")
		tu.MustWriteFile(t, filepath.Join(filepath.Dir(f.root), "secret.txt"), []byte("top-secret-bytes"))

		rec := f.do(http.MethodGet, "/serve-audio/beats/Song/Song.mp3", "")
		if rec.Code != http.StatusOK || rec.Body.String() != "primary audio" {
			t.Errorf("serve = %d %q", rec.Code, rec.Body.String())
		}

		if rec := f.do(http.MethodGet, "/serve-audio/beats/Song/missing.mp3", ""); rec.Code != http.StatusNotFound {
			t.Errorf("missing file status = %d, want 404", rec.Code)
		}
		if rec := f.do(http.MethodGet, "/serve-audio/beats/Song", ""); rec.Code != http.StatusNotFound {
			t.Errorf("directory status = %d, want 404", rec.Code)
		}

		rec = f.do(http.MethodGet, "/serve-audio/../secret.txt", "")
		if rec.Code == http.StatusOK || strings.Contains(rec.Body.String(), "top-secret-bytes") {
			t.Errorf("traversal served %d %q", rec.Code, rec.Body.String())
		}
	})
}

func TestMiddleware(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("Recoverer", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recoverer(logger), RequestLogger(logger))
		r.HandleFunc(http.MethodGet, "/boom", func(w http.ResponseWriter, r *http.Request) { panic("boom") })

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("Order", func(t *testing.T) {
		var calls []string
		tag := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					calls = append(calls, name)
					next.ServeHTTP(w, r)
				})
			}
		}
		r := NewBasicRouter()
		r.Use(tag("first"), tag("second"))
		r.HandleFunc(http.MethodGet, "/", func(w http.ResponseWriter, r *http.Request) { calls = append(calls, "handler") })

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		if strings.Join(calls, ",") != "first,second,handler" {
			t.Errorf("calls = %v", calls)
		}
	})

	t.Run("CORS Preflight", func(t *testing.T) {
		f := newFixture(t, Options{})
		rec := f.do(http.MethodOptions, "/download", "")
		if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("preflight = %d %v", rec.Code, rec.Header())
		}
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		f := newFixture(t, Options{})
		if rec := f.do(http.MethodGet, "/download", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("Metrics Mounted", func(t *testing.T) {
		f := newFixture(t, Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "stemx_up 1")
		})})
		if rec := f.do(http.MethodGet, "/metrics", ""); rec.Body.String() != "stemx_up 1" {
			t.Errorf("metrics = %q", rec.Body.String())
		}
	})
}
