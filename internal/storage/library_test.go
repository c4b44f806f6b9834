package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertthunder/stemx/internal/catalog"
	"github.com/desertthunder/stemx/internal/remote"
	"github.com/desertthunder/stemx/internal/shared"
)

func seedLocal(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(f)), []byte(f))
	}
}

func seedRemote(t *testing.T, c *remote.Client, files ...string) {
	t.Helper()
	for _, f := range files {
		if _, err := c.Write(context.Background(), f, []byte(f), ""); err != nil {
			t.Fatalf("seed %s: %v", f, err)
		}
	}
}

func TestListKnownItems(t *testing.T) {
	ctx := context.Background()

	t.Run("local scan", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedLocal(t, f.root,
			"chan/B/B.mp3",
			"chan/B/isolated_samples/Vocals_B.mp3",
			"chan/B/isolated_samples/Drums_B.mp3",
			"chan/A/A.mp3",
			"chan/A/ai_covers/AI_Cover_x_1.mp3",
			"chan/NoPrimary/other.mp3",
			"chan/downloads/Legacy.mp3",
		)

		items, err := f.sync.ListKnownItems(ctx, "chan")
		if err != nil {
			t.Fatalf("ListKnownItems() error = %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %+v", items)
		}
		if items[0].Name != "A" || items[0].Covers != 1 || items[0].HasStems() {
			t.Errorf("unexpected item A: %+v", items[0])
		}
		if items[1].Name != "B" || items[1].Stems != 2 || items[1].Primary != "B.mp3" {
			t.Errorf("unexpected item B: %+v", items[1])
		}
	})

	t.Run("cold cache rebuilt from remote", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedRemote(t, f.sync.Remote(),
			"chan/Song/Song.mp3",
			"chan/Song/isolated_samples/Vocals_Song_128.0BPM_Cmaj.mp3",
			"chan/Song/isolated_samples/Bass_Song_128.0BPM_Cmaj.mp3",
			"chan/Other/Other.mp3",
			"elsewhere/X/X.mp3",
		)

		items, err := f.sync.ListKnownItems(ctx, "chan")
		if err != nil {
			t.Fatalf("ListKnownItems() error = %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %+v", items)
		}
		if items[1].Name != "Song" || items[1].Stems != 2 || !items[1].Remote || items[1].Primary != "Song.mp3" {
			t.Errorf("unexpected remote item: %+v", items[1])
		}
		if entries, _ := os.ReadDir(f.root); len(entries) != 0 {
			t.Error("listing must not download anything")
		}
	})

	t.Run("invalid collection", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		if _, err := f.sync.ListKnownItems(ctx, "../etc"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestItemNames(t *testing.T) {
	ctx := context.Background()

	t.Run("union of both tiers", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedLocal(t, f.root,
			"chan/A/A.mp3",
			"chan/Bare/isolated_samples/Vocals_Bare.mp3",
			"chan/downloads/Legacy.mp3",
		)
		seedRemote(t, f.sync.Remote(), "chan/A/A.mp3", "chan/R/R.mp3", "chan/StemsOnly/isolated_samples/Bass_StemsOnly.mp3")

		names, err := f.sync.ItemNames(ctx, "chan")
		if err != nil {
			t.Fatalf("ItemNames() error = %v", err)
		}
		want := []string{"A", "Bare", "R"}
		if len(names) != len(want) {
			t.Fatalf("ItemNames() = %v, want %v", names, want)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("ItemNames()[%d] = %q, want %q", i, names[i], want[i])
			}
		}
	})

	t.Run("remote failure keeps local names", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedLocal(t, f.root, "chan/A/A.mp3")
		f.backend.Fail(errors.New("boom"))

		names, err := f.sync.ItemNames(ctx, "chan")
		if err == nil {
			t.Error("expected the remote error to be returned")
		}
		if len(names) != 1 || names[0] != "A" {
			t.Errorf("ItemNames() = %v, want [A]", names)
		}
	})

	t.Run("invalid collection", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		if _, err := f.sync.ItemNames(ctx, "../etc"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestListCollections(t *testing.T) {
	ctx := context.Background()

	t.Run("local", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedLocal(t, f.root,
			"beta/S/S.mp3",
			"alpha/A/A.mp3",
			"alpha/A/isolated_samples/Vocals_A.mp3",
			"alpha/B/B.mp3",
			".hidden/H/H.mp3",
		)
		got, err := f.sync.ListCollections(ctx)
		if err != nil {
			t.Fatalf("ListCollections() error = %v", err)
		}
		want := []catalog.CollectionSummary{
			{Name: "alpha", Count: 2, HasIsolated: true},
			{Name: "beta", Count: 1},
		}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("ListCollections() = %+v, want %+v", got, want)
		}
	})

	t.Run("remote fallback", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedRemote(t, f.sync.Remote(), "chan/A/A.mp3", "chan/A/isolated_samples/Drums_A.mp3")
		got, err := f.sync.ListCollections(ctx)
		if err != nil {
			t.Fatalf("ListCollections() error = %v", err)
		}
		if len(got) != 1 || got[0].Name != "chan" || got[0].Count != 1 || !got[0].HasIsolated {
			t.Errorf("ListCollections() = %+v", got)
		}
	})
}

func TestListStemsAndSamples(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, remote.Options{})
	seedLocal(t, f.root,
		"chan/A/A.mp3",
		"chan/A/isolated_samples/Vocals_A.mp3",
		"chan/A/isolated_samples/Other_A_90.0BPM_Amin.mp3",
		"chan/A/isolated_samples/mystery.mp3",
	)

	stems, err := f.sync.ListStems(ctx, "chan", "A")
	if err != nil {
		t.Fatalf("ListStems() error = %v", err)
	}
	roles := map[string]catalog.Role{}
	for _, s := range stems {
		roles[s.Name] = s.Role
	}
	if roles["Vocals_A.mp3"] != catalog.Vocals || roles["Other_A_90.0BPM_Amin.mp3"] != catalog.Other || roles["mystery.mp3"] != "Unknown" {
		t.Errorf("unexpected roles %v", roles)
	}

	seedRemote(t, f.sync.Remote(), "chan/B/isolated_samples/Bass_B.mp3")
	remoteStems, err := f.sync.ListStems(ctx, "chan", "B")
	if err != nil || len(remoteStems) != 1 || remoteStems[0].URL == "" {
		t.Errorf("remote ListStems() = %+v, %v", remoteStems, err)
	}

	groups, err := f.sync.ListSamples(ctx)
	if err != nil {
		t.Fatalf("ListSamples() error = %v", err)
	}
	if len(groups) != 1 || groups[0].Count != 3 || groups[0].Stems[0].Item != "A" {
		t.Errorf("ListSamples() = %+v", groups)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	files := []string{
		"chan/A/A.mp3",
		"chan/A/isolated_samples/Vocals_A.mp3",
		"chan/A/isolated_samples/Drums_A.mp3",
		"chan/A/ai_covers/AI_Cover_x_1.mp3",
		"chan/B/B.mp3",
	}

	t.Run("stems of one item on both tiers", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedLocal(t, f.root, files...)
		seedRemote(t, f.sync.Remote(), files...)

		res, err := f.sync.Delete(ctx, DeleteRequest{Collection: "chan", Item: "A", Kind: DeleteStems, Remote: true})
		if err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if res.Local != 2 || res.Remote != 2 {
			t.Errorf("Delete() = %+v, want 2/2", res)
		}
		if f.backend.Len() != 3 {
			t.Errorf("expected 3 remote objects left, got %d", f.backend.Len())
		}
		if _, err := os.Stat(filepath.Join(f.root, "chan", "A", "A.mp3")); err != nil {
			t.Error("primary asset should survive a stems delete")
		}
	})

	t.Run("whole collection local only", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedLocal(t, f.root, files...)
		seedRemote(t, f.sync.Remote(), files...)

		res, err := f.sync.Delete(ctx, DeleteRequest{Collection: "chan", Kind: DeleteAll})
		if err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if res.Local != len(files) || res.Remote != 0 {
			t.Errorf("Delete() = %+v", res)
		}
		if _, err := os.Stat(filepath.Join(f.root, "chan")); !os.IsNotExist(err) {
			t.Error("collection folder should be removed")
		}
		if f.backend.Len() != len(files) {
			t.Error("remote must be untouched when Remote is false")
		}
	})

	t.Run("originals across collection", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedLocal(t, f.root, files...)
		res, err := f.sync.Delete(ctx, DeleteRequest{Collection: "chan", Kind: DeleteOriginal, Remote: true})
		if err != nil || res.Local != 2 {
			t.Errorf("Delete() = %+v, %v", res, err)
		}
	})

	t.Run("remote failure is reported", func(t *testing.T) {
		f := newFixture(t, remote.Options{})
		seedRemote(t, f.sync.Remote(), files...)
		f.backend.Fail(errors.New("boom"))
		if _, err := f.sync.Delete(ctx, DeleteRequest{Collection: "chan", Remote: true}); !errors.Is(err, remote.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("ParseDeleteKind", func(t *testing.T) {
		if k, err := ParseDeleteKind(""); err != nil || k != DeleteAll {
			t.Errorf("ParseDeleteKind(\"\") = %v, %v", k, err)
		}
		if _, err := ParseDeleteKind("everything"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestUsage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, remote.Options{})
	seedLocal(t, f.root, "chan/A/A.mp3")
	seedRemote(t, f.sync.Remote(), "chan/A/A.mp3", "chan/B/B.mp3")

	u, err := f.sync.Usage(ctx)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if !u.RemoteEnabled || u.Backend != "memory" {
		t.Errorf("unexpected remote fields %+v", u)
	}
	if u.LocalBytes != int64(len("chan/A/A.mp3")) {
		t.Errorf("LocalBytes = %d", u.LocalBytes)
	}
	if u.RemoteBytes != int64(2*len("chan/A/A.mp3")) {
		t.Errorf("RemoteBytes = %d", u.RemoteBytes)
	}

	f.backend.Fail(errors.New("down"))
	u, err = f.sync.Usage(ctx)
	if err != nil || u.RemoteBytes != -1 {
		t.Errorf("remote failure should leave RemoteBytes at -1, got %+v, %v", u, err)
	}
}
