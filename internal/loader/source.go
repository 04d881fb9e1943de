package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// ErrModuleNotFound is returned when a module source does not exist.
var ErrModuleNotFound = errors.New("module not found")

const maxModuleSize = 4 << 20 // 4 MB

// Asset is a fetched module source.
type Asset struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Size   int    `json:"size"`
	Digest string `json:"digest"`
}

// Source resolves module identifiers against a base prefix and fetches them.
type Source interface {
	URL(id string) string
	Fetch(ctx context.Context, id string) (Asset, error)
}

// NewSource picks the source for base: an absolute http(s) base is fetched
// over the network, anything else is read from fsys (the tree served under
// that prefix).
func NewSource(base string, fsys fs.FS, client *http.Client) Source {
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		return NewHTTPSource(base, client)
	}
	return NewFSSource(base, fsys)
}

// FSSource reads modules from a file system mounted at a URL prefix.
type FSSource struct {
	base string
	fsys fs.FS
}

// NewFSSource creates an FSSource. Module id "panels/ciclos.js" resolves to
// base+"panels/ciclos.js" and is read from fsys at "panels/ciclos.js".
func NewFSSource(base string, fsys fs.FS) *FSSource {
	return &FSSource{base: withSlash(base), fsys: fsys}
}

// URL returns the public URL of id.
func (s *FSSource) URL(id string) string {
	return s.base + strings.TrimPrefix(id, "/")
}

// Fetch reads the module.
func (s *FSSource) Fetch(ctx context.Context, id string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	name := path.Clean(strings.TrimPrefix(id, "/"))
	if !fs.ValidPath(name) {
		return Asset{}, fmt.Errorf("%w: invalid module path %q", ErrModuleNotFound, id)
	}
	data, err := fs.ReadFile(s.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return Asset{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if err != nil {
		return Asset{}, fmt.Errorf("reading module %s: %w", id, err)
	}
	return newAsset(id, s.URL(id), data), nil
}

// HTTPSource fetches modules from another origin.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource creates an HTTPSource. A nil client uses http.DefaultClient.
func NewHTTPSource(base string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{base: withSlash(base), client: client}
}

// URL returns the absolute URL of id.
func (s *HTTPSource) URL(id string) string {
	return s.base + strings.TrimPrefix(id, "/")
}

// Fetch downloads the module.
func (s *HTTPSource) Fetch(ctx context.Context, id string) (Asset, error) {
	u := s.URL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("building request for %s: %w", id, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("fetching module %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Asset{}, fmt.Errorf("%w: %s", ErrModuleNotFound, u)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Asset{}, fmt.Errorf("fetching module %s: HTTP %d", u, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleSize))
	if err != nil {
		return Asset{}, fmt.Errorf("reading module %s: %w", u, err)
	}
	return newAsset(id, u, data), nil
}

func newAsset(id, url string, data []byte) Asset {
	sum := sha256.Sum256(data)
	return Asset{ID: id, URL: url, Size: len(data), Digest: hex.EncodeToString(sum[:6])}
}

func withSlash(base string) string {
	if base == "" || strings.HasSuffix(base, "/") {
		return base
	}
	return base + "/"
}
