package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// fakeS3 serves path-style requests for one bucket and enforces conditional headers.
type fakeS3 struct {
	mu      sync.Mutex
	etags   map[string]string
	headers []http.Header
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = append(f.headers, r.Header.Clone())

	key, _ := strings.CutPrefix(r.URL.Path, "/beats/")
	if r.URL.Query().Get("list-type") == "2" {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>beats</Name><Prefix>storage/chan/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
<Contents><Key>storage/chan/readme.txt</Key><Size>3</Size></Contents>
<CommonPrefixes><Prefix>storage/chan/Song/</Prefix></CommonPrefixes>
</ListBucketResult>`))
		return
	}

	etag, exists := f.etags[key]
	switch r.Method {
	case http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Length", "4")
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		if im := r.Header.Get("If-Match"); im != "" && im != etag {
			preconditionFailed(w)
			return
		}
		if r.Header.Get("If-None-Match") == "*" && exists {
			preconditionFailed(w)
			return
		}
		next := `"etag-` + string(rune('a'+len(f.etags))) + `"`
		f.etags[key] = next
		w.Header().Set("ETag", next)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.etags, key)
		w.WriteHeader(http.StatusNoContent)
	}
}

func preconditionFailed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusPreconditionFailed)
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message></Error>`))
}

func newS3Client(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	fake := &fakeS3{etags: make(map[string]string)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	awsCfg := aws.Config{Region: "us-east-1", Credentials: aws.AnonymousCredentials{}, HTTPClient: server.Client()}
	backend := NewS3BackendFromConfig(awsCfg, S3Options{
		Bucket:       "beats",
		Endpoint:     server.URL,
		Prefix:       "storage",
		UsePathStyle: true,
		PublicURL:    "https://cdn.example.com",
	})
	return NewClient(backend, Options{}, nil), fake
}

func TestS3Backend(t *testing.T) {
	ctx := context.Background()

	t.Run("missing object", func(t *testing.T) {
		c, _ := newS3Client(t)
		if _, found, err := c.Version(ctx, "chan/a.mp3"); err != nil || found {
			t.Errorf("Version() = %v, %v; want absent", found, err)
		}
	})

	t.Run("conditional writes", func(t *testing.T) {
		c, fake := newS3Client(t)

		obj, err := c.Write(ctx, "chan/a.mp3", []byte("data"), "")
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if got := fake.headers[len(fake.headers)-1].Get("If-None-Match"); got != "*" {
			t.Errorf("create should send If-None-Match *, got %q", got)
		}
		if obj.URL != "https://cdn.example.com/storage/chan/a.mp3" {
			t.Errorf("public url = %s", obj.URL)
		}

		token, found, err := c.Version(ctx, "chan/a.mp3")
		if err != nil || !found || token != obj.Version {
			t.Errorf("Version() = %s, %v, %v; want %s", token, found, err, obj.Version)
		}

		if _, err := c.Write(ctx, "chan/a.mp3", []byte("data"), ""); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict on existing object, got %v", err)
		}
		if _, err := c.Write(ctx, "chan/a.mp3", []byte("data"), `"stale"`); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict on stale etag, got %v", err)
		}
		if _, err := c.Write(ctx, "chan/a.mp3", []byte("data"), obj.Version); err != nil {
			t.Errorf("update with current etag failed: %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		c, _ := newS3Client(t)
		obj, _ := c.Write(ctx, "chan/a.mp3", []byte("data"), "")
		if err := c.Delete(ctx, "chan/a.mp3", `"stale"`); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
		if err := c.Delete(ctx, "chan/a.mp3", obj.Version); err != nil {
			t.Errorf("Delete() error = %v", err)
		}
		if err := c.Delete(ctx, "chan/a.mp3", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("read dir", func(t *testing.T) {
		c, _ := newS3Client(t)
		w := c.Walk("chan")
		w.maxDepth = 1
		var got []string
		for w.Next(ctx) {
			got = append(got, w.Entry().Path)
		}
		if w.Err() != nil {
			t.Fatalf("walk error = %v", w.Err())
		}
		if len(got) != 1 || got[0] != "chan/readme.txt" {
			t.Errorf("walk = %v", got)
		}
	})
}
