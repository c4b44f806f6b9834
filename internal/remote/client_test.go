package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) ObserveRemote(backend, op, outcome string, d time.Duration, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op+":"+outcome)
}

func newTestClient(t *testing.T, opts Options) (*Client, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend("https://cdn.example.com/storage")
	return NewClient(backend, opts, nil), backend
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Version of missing object", func(t *testing.T) {
		c, _ := newTestClient(t, Options{})
		token, found, err := c.Version(ctx, "chan/Song/Song.mp3")
		if err != nil || found || token != "" {
			t.Errorf("Version() = %q, %v, %v; want absent without error", token, found, err)
		}
	})

	t.Run("Write Read Round Trip", func(t *testing.T) {
		c, _ := newTestClient(t, Options{})
		obj, err := c.Write(ctx, "chan/Song/Song.mp3", []byte("audio"), "")
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if obj.URL != "https://cdn.example.com/storage/chan/Song/Song.mp3" {
			t.Errorf("unexpected public url %q", obj.URL)
		}

		data, token, err := c.Read(ctx, "chan/Song/Song.mp3")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if string(data) != "audio" || token != obj.Version {
			t.Errorf("Read() = %q, %q; want audio, %q", data, token, obj.Version)
		}
	})

	t.Run("Read of missing object", func(t *testing.T) {
		c, _ := newTestClient(t, Options{})
		if _, _, err := c.Read(ctx, "nope.mp3"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Stale Token Is Rejected", func(t *testing.T) {
		c, _ := newTestClient(t, Options{})
		first, _ := c.Write(ctx, "a.mp3", []byte("v1"), "")
		if _, err := c.Write(ctx, "a.mp3", []byte("v2"), first.Version); err != nil {
			t.Fatalf("update with current token failed: %v", err)
		}

		if _, err := c.Write(ctx, "a.mp3", []byte("v3"), first.Version); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict for stale token, got %v", err)
		}
		if _, err := c.Write(ctx, "a.mp3", []byte("v3"), ""); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict creating over existing object, got %v", err)
		}

		data, _, _ := c.Read(ctx, "a.mp3")
		if string(data) != "v2" {
			t.Errorf("stale write must not change content, got %q", data)
		}
	})

	t.Run("Concurrent Writers With Same Token", func(t *testing.T) {
		c, _ := newTestClient(t, Options{})
		base, _ := c.Write(ctx, "race.mp3", []byte("base"), "")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = c.Write(ctx, "race.mp3", []byte{byte('a' + i)}, base.Version)
			}(i)
		}
		wg.Wait()

		var ok, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			}
		}
		if ok != 1 || conflicts != 1 {
			t.Errorf("expected one success and one conflict, got %v", errs)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c, _ := newTestClient(t, Options{})
		obj, _ := c.Write(ctx, "d.mp3", []byte("x"), "")

		if err := c.Delete(ctx, "d.mp3", "r999"); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
		if err := c.Delete(ctx, "d.mp3", obj.Version); err != nil {
			t.Errorf("Delete() error = %v", err)
		}
		if err := c.Delete(ctx, "d.mp3", obj.Version); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Size Ceiling Checked Before Upload", func(t *testing.T) {
		obs := &recordingObserver{}
		c, backend := newTestClient(t, Options{MaxObjectSize: 1024, Observer: obs})

		big := filepath.Join(t.TempDir(), "big.mp3")
		f, err := os.Create(big)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := f.Truncate(2048); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		f.Close()

		if _, err := c.WriteFile(ctx, "big.mp3", big, ""); !errors.Is(err, ErrSizeExceeded) {
			t.Fatalf("expected ErrSizeExceeded, got %v", err)
		}
		if backend.Len() != 0 || len(obs.calls) != 0 {
			t.Errorf("oversize object must not reach the backend, calls=%v", obs.calls)
		}

		if _, err := c.Write(ctx, "big.mp3", make([]byte, 1025), ""); !errors.Is(err, ErrSizeExceeded) {
			t.Errorf("expected ErrSizeExceeded for in-memory data, got %v", err)
		}

		at := filepath.Join(t.TempDir(), "at.mp3")
		if err := os.WriteFile(at, make([]byte, 1024), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := c.WriteFile(ctx, "at.mp3", at, ""); err != nil {
			t.Errorf("object exactly at the ceiling should upload: %v", err)
		}
	})

	t.Run("Size Ceiling Checked Before Download", func(t *testing.T) {
		writer, backend := newTestClient(t, Options{})
		if _, err := writer.Write(ctx, "big.mp3", make([]byte, 2048), ""); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		obs := &recordingObserver{}
		c := NewClient(backend, Options{MaxObjectSize: 1024, Observer: obs}, nil)
		data, _, err := c.Read(ctx, "big.mp3")
		if !errors.Is(err, ErrSizeExceeded) || data != nil {
			t.Errorf("Read() = %d bytes, %v; want ErrSizeExceeded", len(data), err)
		}
		if len(obs.calls) != 1 || obs.calls[0] != "read:too_large" {
			t.Errorf("observer calls = %v", obs.calls)
		}
	})

	t.Run("Transport Failure Is Not Absence", func(t *testing.T) {
		c, backend := newTestClient(t, Options{})
		backend.Fail(errors.New("connection reset by peer"))

		_, found, err := c.Version(ctx, "a.mp3")
		if !errors.Is(err, ErrUnavailable) || found {
			t.Errorf("Version() = %v, %v; want ErrUnavailable", found, err)
		}
		if _, err := c.List(ctx, "chan"); !errors.Is(err, ErrUnavailable) {
			t.Errorf("List() should surface ErrUnavailable, got %v", err)
		}

		var opErr *OpError
		if !errors.As(err, &opErr) || opErr.Op != "version" {
			t.Errorf("expected *OpError for version, got %T", err)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		c := Disabled()
		if c.Enabled() || c.Backend() != "none" {
			t.Error("disabled client should report no backend")
		}
		if _, _, err := c.Version(ctx, "a"); !errors.Is(err, ErrDisabled) {
			t.Errorf("expected ErrDisabled, got %v", err)
		}
		if _, err := c.WriteFile(ctx, "a", "/does/not/matter", ""); !errors.Is(err, ErrDisabled) {
			t.Errorf("expected ErrDisabled, got %v", err)
		}
		if c.PublicURL("a") != "" {
			t.Error("disabled client has no public urls")
		}
	})

	t.Run("TotalSize", func(t *testing.T) {
		c, _ := newTestClient(t, Options{})
		c.Write(ctx, "a", []byte("12345"), "")
		c.Write(ctx, "b/c", []byte("678"), "")
		total, err := c.TotalSize(ctx)
		if err != nil || total != 8 {
			t.Errorf("TotalSize() = %d, %v; want 8", total, err)
		}
	})

	t.Run("Observer", func(t *testing.T) {
		obs := &recordingObserver{}
		c, _ := newTestClient(t, Options{Observer: obs})
		c.Version(ctx, "missing")
		c.Write(ctx, "x", []byte("1"), "")
		want := []string{"version:not_found", "write:ok"}
		if len(obs.calls) != len(want) || obs.calls[0] != want[0] || obs.calls[1] != want[1] {
			t.Errorf("observer calls = %v, want %v", obs.calls, want)
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, Options{ListDepth: 3})
	for _, p := range []string{
		"chan/Song/Song.mp3",
		"chan/Song/isolated_samples/Vocals_Song.mp3",
		"chan/Song/isolated_samples/deep/too_deep.mp3",
		"chan/Other/Other.mp3",
		"elsewhere/x.mp3",
	} {
		if _, err := c.Write(ctx, p, []byte(p), ""); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	t.Run("depth first and bounded", func(t *testing.T) {
		entries, err := c.List(ctx, "chan")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{
			"chan/Other/Other.mp3",
			"chan/Song/Song.mp3",
			"chan/Song/isolated_samples/Vocals_Song.mp3",
		}
		if len(entries) != len(want) {
			t.Fatalf("List() returned %d entries, want %d: %+v", len(entries), len(want), entries)
		}
		for i, e := range entries {
			if e.Path != want[i] {
				t.Errorf("entry %d = %q, want %q", i, e.Path, want[i])
			}
		}
	})

	t.Run("missing prefix is empty", func(t *testing.T) {
		entries, err := c.List(ctx, "nobody")
		if err != nil || len(entries) != 0 {
			t.Errorf("List() = %v, %v; want empty", entries, err)
		}
	})

	t.Run("walker stops early", func(t *testing.T) {
		w := c.Walk("chan")
		if !w.Next(ctx) {
			t.Fatalf("expected at least one entry: %v", w.Err())
		}
		if w.Entry().Path != "chan/Other/Other.mp3" {
			t.Errorf("first entry = %q", w.Entry().Path)
		}
	})
}
