// Package loader loads the feature modules of a page load.
//
// Loading a module fetches its source from the asset base and then runs the
// module's registration against the page's Scope, which is where a module
// binds its initializers, publishes shared capabilities or attaches to the
// readiness signal. Loads are strictly sequential and idempotent per page
// load: a module is attempted at most once, and LoadAll never starts the
// next module before the previous one has settled.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantpanel/quantpanel/internal/backend"
	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/handoff"
	"github.com/quantpanel/quantpanel/internal/readiness"
	"github.com/quantpanel/quantpanel/internal/registry"
)

// Scope is what a module sees while it registers.
type Scope struct {
	PageID   string
	Identity string
	Locale   string
	Registry *registry.Registry
	Ready    *readiness.Signal
	Doc      *dom.Document
	Backend  *backend.Client
	Handoff  *handoff.Buffer
}

// Module is the Go side of a module source.
type Module interface {
	Register(s *Scope) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(s *Scope) error

// Register calls f(s).
func (f ModuleFunc) Register(s *Scope) error { return f(s) }

// Catalog maps module identifiers to their registrations. A module with a
// source but no catalog entry loads without registering anything.
type Catalog map[string]Module

// Status of a settled load.
const (
	StatusLoaded = "loaded"
	StatusFailed = "failed"
)

// Result records one settled module load.
type Result struct {
	ID       string        `json:"id"`
	URL      string        `json:"url"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Digest   string        `json:"digest,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Loader loads modules for one page load.
type Loader struct {
	source  Source
	catalog Catalog
	scope   *Scope
	observe func(Result)

	mu      sync.Mutex
	settled map[string]Result
	order   []Result
}

// New creates a Loader that registers modules into scope.
func New(source Source, catalog Catalog, scope *Scope) *Loader {
	return &Loader{
		source:  source,
		catalog: catalog,
		scope:   scope,
		settled: make(map[string]Result),
	}
}

// SetObserver reports every settled load to fn. Call before loading.
func (l *Loader) SetObserver(fn func(Result)) {
	l.observe = fn
}

// LoadAll loads ids in order, each settling before the next begins.
// Failures are logged and do not stop the sequence.
func (l *Loader) LoadAll(ctx context.Context, ids []string) []Result {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.Load(ctx, id))
	}
	return out
}

// Load loads a single module. Loading an id a second time returns the first
// result without fetching again.
func (l *Loader) Load(ctx context.Context, id string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if res, ok := l.settled[id]; ok {
		return res
	}

	start := time.Now()
	res := Result{ID: id, URL: l.source.URL(id)}
	asset, err := l.source.Fetch(ctx, id)
	if err == nil {
		res.Digest = asset.Digest
		res.URL = asset.URL
		err = l.register(id)
	}
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		slog.Warn("module load failed", "page", l.scope.PageID, "module", id, "err", err)
	} else {
		res.Status = StatusLoaded
		slog.Debug("module loaded", "page", l.scope.PageID, "module", id, "duration", res.Duration)
	}

	l.settled[id] = res
	l.order = append(l.order, res)
	if l.observe != nil {
		l.observe(res)
	}
	return res
}

// Loaded reports whether id loaded successfully.
func (l *Loader) Loaded(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settled[id].Status == StatusLoaded
}

// Results returns every settled load in the order it settled.
func (l *Loader) Results() []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Result, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Loader) register(id string) (err error) {
	m, ok := l.catalog[id]
	if !ok {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("registering %s panicked: %v", id, p)
		}
	}()
	if err := m.Register(l.scope); err != nil {
		return fmt.Errorf("registering %s: %w", id, err)
	}
	return nil
}
