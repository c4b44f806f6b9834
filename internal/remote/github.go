package remote

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// GitHubOptions configures a repository used as a content store.
type GitHubOptions struct {
	Token string
	// Repo is "owner/name".
	Repo       string
	Branch     string
	PathPrefix string
	APIURL     string
	RawURL     string
	// HTTPClient is the base transport. The token is layered on top of it.
	HTTPClient *http.Client
}

// GitHubBackend stores objects through the repository contents API. Version tokens are git blob SHAs.
type GitHubBackend struct {
	opts   GitHubOptions
	client *http.Client
}

type ghContent struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

// NewGitHubBackend validates opts and builds an authenticated client.
func NewGitHubBackend(opts GitHubOptions) (*GitHubBackend, error) {
	owner, name, ok := strings.Cut(opts.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid repository %q: expected owner/name", opts.Repo)
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.APIURL == "" {
		opts.APIURL = "https://api.github.com"
	}
	if opts.RawURL == "" {
		opts.RawURL = "https://raw.githubusercontent.com"
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	opts.RawURL = strings.TrimRight(opts.RawURL, "/")
	opts.PathPrefix = strings.Trim(opts.PathPrefix, "/")

	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	client := base
	if opts.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	}

	return &GitHubBackend{opts: opts, client: client}, nil
}

func (g *GitHubBackend) Name() string { return "github" }

// BlobSHA computes the git blob id of data, which is what the contents API reports as a file's sha.
func BlobSHA(data []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (g *GitHubBackend) repoPath(p string) string {
	return strings.Trim(path.Join(g.opts.PathPrefix, clean(p)), "/")
}

func (g *GitHubBackend) logicalPath(repoPath string) string {
	if g.opts.PathPrefix == "" {
		return repoPath
	}
	return strings.TrimPrefix(repoPath, g.opts.PathPrefix+"/")
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (g *GitHubBackend) contentsURL(p string, withRef bool) string {
	u := fmt.Sprintf("%s/repos/%s/contents/%s", g.opts.APIURL, g.opts.Repo, escapePath(g.repoPath(p)))
	if withRef {
		u += "?ref=" + url.QueryEscape(g.opts.Branch)
	}
	return u
}

// do sends req and returns the status and body. Transport failures wrap [ErrUnavailable].
func (g *GitHubBackend) do(ctx context.Context, method, u, accept string, body any) (int, []byte, error) {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		r = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	return resp.StatusCode, data, nil
}

// statusError maps a non-success status. Writes treat 409 and 422 as stale sha.
func statusError(status int, body []byte, write bool) error {
	se := &StatusError{Status: status, Body: truncateBody(body)}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, se)
	case status == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %w", ErrConflict, se)
	case write && (status == http.StatusConflict || status == http.StatusUnprocessableEntity):
		return fmt.Errorf("%w: %w", ErrConflict, se)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, se)
	}
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func (g *GitHubBackend) object(c ghContent) Object {
	p := g.logicalPath(c.Path)
	return Object{Path: p, Version: c.SHA, Size: c.Size, URL: g.PublicURL(p)}
}

func (g *GitHubBackend) Stat(ctx context.Context, p string) (Object, error) {
	status, body, err := g.do(ctx, http.MethodGet, g.contentsURL(p, true), "application/vnd.github+json", nil)
	if err != nil {
		return Object{}, err
	}
	if status != http.StatusOK {
		return Object{}, statusError(status, body, false)
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		return Object{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, p)
	}
	var c ghContent
	if err := json.Unmarshal(body, &c); err != nil {
		return Object{}, fmt.Errorf("%w: failed to decode contents: %v", ErrUnavailable, err)
	}
	if c.Type != "file" {
		return Object{}, fmt.Errorf("%w: %s is a %s", ErrNotFound, p, c.Type)
	}
	return g.object(c), nil
}

// Get fetches raw bytes, which works past the 1 MB limit of inline contents, and derives the sha locally.
func (g *GitHubBackend) Get(ctx context.Context, p string) ([]byte, Object, error) {
	status, body, err := g.do(ctx, http.MethodGet, g.contentsURL(p, true), "application/vnd.github.raw", nil)
	if err != nil {
		return nil, Object{}, err
	}
	if status != http.StatusOK {
		return nil, Object{}, statusError(status, body, false)
	}

	logical := clean(p)
	return body, Object{Path: logical, Version: BlobSHA(body), Size: int64(len(body)), URL: g.PublicURL(logical)}, nil
}

func (g *GitHubBackend) Put(ctx context.Context, p string, data []byte, expected string) (Object, error) {
	payload := map[string]string{
		"message": "Upload " + clean(p),
		"content": base64.StdEncoding.EncodeToString(data),
		"branch":  g.opts.Branch,
	}
	if expected != "" {
		payload["sha"] = expected
	}

	status, body, err := g.do(ctx, http.MethodPut, g.contentsURL(p, false), "application/vnd.github+json", payload)
	if err != nil {
		return Object{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return Object{}, statusError(status, body, true)
	}

	var resp struct {
		Content ghContent `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Object{}, fmt.Errorf("%w: failed to decode upload response: %v", ErrUnavailable, err)
	}
	obj := g.object(resp.Content)
	if obj.Version == "" {
		obj.Version = BlobSHA(data)
	}
	if obj.Size == 0 {
		obj.Size = int64(len(data))
	}
	obj.Path = clean(p)
	return obj, nil
}

func (g *GitHubBackend) Remove(ctx context.Context, p string, expected string) error {
	if expected == "" {
		obj, err := g.Stat(ctx, p)
		if err != nil {
			return err
		}
		expected = obj.Version
	}

	payload := map[string]string{
		"message": "Delete " + clean(p),
		"sha":     expected,
		"branch":  g.opts.Branch,
	}
	status, body, err := g.do(ctx, http.MethodDelete, g.contentsURL(p, false), "application/vnd.github+json", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, body, true)
	}
	return nil
}

func (g *GitHubBackend) ReadDir(ctx context.Context, prefix string) ([]Entry, error) {
	status, body, err := g.do(ctx, http.MethodGet, g.contentsURL(prefix, true), "application/vnd.github+json", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body, false)
	}

	var items []ghContent
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, prefix)
	}

	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		p := g.logicalPath(it.Path)
		switch it.Type {
		case "dir":
			entries = append(entries, Entry{Path: p, Dir: true})
		case "file":
			entries = append(entries, Entry{Path: p, Size: it.Size, URL: g.PublicURL(p)})
		}
	}
	return entries, nil
}

// TotalSize reports the repository size. GitHub reports kilobytes and updates the figure lazily.
func (g *GitHubBackend) TotalSize(ctx context.Context) (int64, error) {
	u := fmt.Sprintf("%s/repos/%s", g.opts.APIURL, g.opts.Repo)
	status, body, err := g.do(ctx, http.MethodGet, u, "application/vnd.github+json", nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, statusError(status, body, false)
	}

	var repo struct {
		Size json.Number `json:"size"`
	}
	if err := json.Unmarshal(body, &repo); err != nil {
		return 0, fmt.Errorf("%w: failed to decode repository: %v", ErrUnavailable, err)
	}
	kb, err := strconv.ParseInt(repo.Size.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad repository size %q", ErrUnavailable, repo.Size)
	}
	return kb * 1024, nil
}

func (g *GitHubBackend) PublicURL(p string) string {
	return fmt.Sprintf("%s/%s/%s/%s", g.opts.RawURL, g.opts.Repo, url.PathEscape(g.opts.Branch), escapePath(g.repoPath(p)))
}
