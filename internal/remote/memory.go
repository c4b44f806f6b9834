package remote

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// MemoryBackend is an in-process [Backend]. Version tokens are per-path revision counters.
type MemoryBackend struct {
	mu      sync.Mutex
	objects map[string]memObject
	rev     int
	baseURL string
	fail    error
}

type memObject struct {
	data    []byte
	version string
}

// NewMemoryBackend returns an empty store whose public URLs are rooted at baseURL.
func NewMemoryBackend(baseURL string) *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]memObject), baseURL: strings.TrimRight(baseURL, "/")}
}

func (m *MemoryBackend) Name() string { return "memory" }

// Fail makes every subsequent call return err until Fail(nil) is called.
func (m *MemoryBackend) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func clean(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "." {
		return ""
	}
	return p
}

func (m *MemoryBackend) object(p string, obj memObject) Object {
	return Object{Path: p, Version: obj.version, Size: int64(len(obj.data)), URL: m.PublicURL(p)}
}

func (m *MemoryBackend) Stat(ctx context.Context, p string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return Object{}, m.fail
	}
	p = clean(p)
	obj, ok := m.objects[p]
	if !ok {
		return Object{}, ErrNotFound
	}
	return m.object(p, obj), nil
}

func (m *MemoryBackend) Get(ctx context.Context, p string) ([]byte, Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, Object{}, m.fail
	}
	p = clean(p)
	obj, ok := m.objects[p]
	if !ok {
		return nil, Object{}, ErrNotFound
	}
	return slices.Clone(obj.data), m.object(p, obj), nil
}

func (m *MemoryBackend) Put(ctx context.Context, p string, data []byte, expected string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return Object{}, m.fail
	}
	p = clean(p)
	cur, exists := m.objects[p]
	switch {
	case expected == "" && exists:
		return Object{}, fmt.Errorf("%w: %s already exists", ErrConflict, p)
	case expected != "" && !exists:
		return Object{}, fmt.Errorf("%w: %s no longer exists", ErrConflict, p)
	case expected != "" && cur.version != expected:
		return Object{}, fmt.Errorf("%w: %s is at %s, not %s", ErrConflict, p, cur.version, expected)
	}

	m.rev++
	obj := memObject{data: slices.Clone(data), version: "r" + strconv.Itoa(m.rev)}
	m.objects[p] = obj
	return m.object(p, obj), nil
}

func (m *MemoryBackend) Remove(ctx context.Context, p string, expected string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	p = clean(p)
	cur, ok := m.objects[p]
	if !ok {
		return ErrNotFound
	}
	if expected != "" && cur.version != expected {
		return fmt.Errorf("%w: %s is at %s, not %s", ErrConflict, p, cur.version, expected)
	}
	delete(m.objects, p)
	return nil
}

func (m *MemoryBackend) ReadDir(ctx context.Context, prefix string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}

	prefix = clean(prefix)
	dirs := make(map[string]bool)
	var entries []Entry
	for p, obj := range m.objects {
		rest := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(p, prefix+"/")
		}
		head, _, nested := strings.Cut(rest, "/")
		child := path.Join(prefix, head)
		if nested {
			if !dirs[child] {
				dirs[child] = true
				entries = append(entries, Entry{Path: child, Dir: true})
			}
			continue
		}
		entries = append(entries, Entry{Path: child, Size: int64(len(obj.data)), URL: m.PublicURL(child)})
	}

	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return entries, nil
}

func (m *MemoryBackend) PublicURL(p string) string {
	return m.baseURL + "/" + clean(p)
}

// TotalSize sums every stored object.
func (m *MemoryBackend) TotalSize(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	var total int64
	for _, obj := range m.objects {
		total += int64(len(obj.data))
	}
	return total, nil
}

// Len returns the number of stored objects.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
