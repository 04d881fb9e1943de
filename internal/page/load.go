package page

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"time"

	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/overlay"
	"github.com/quantpanel/quantpanel/internal/readiness"
	"github.com/quantpanel/quantpanel/internal/registry"
	"github.com/quantpanel/quantpanel/internal/router"
)

var (
	// ErrNotFound is returned for unknown or expired page loads.
	ErrNotFound = errors.New("page load not found")
	// ErrAlreadyBooted is returned when Boot runs a second time.
	ErrAlreadyBooted = errors.New("page load already booted")
)

// Load is one page load: its document, registry, readiness signal and
// overlay state.
type Load struct {
	ID       string
	Path     string
	Identity string
	Session  string
	Created  time.Time

	Doc      *dom.Document
	Registry *registry.Registry
	Ready    *readiness.Signal
	Loader   *loader.Loader
	Overlay  *overlay.Overlay

	mu        sync.Mutex
	booted    bool
	report    router.Report
	listeners []readiness.Result
	lastSeen  time.Time
}

// Boot runs the orchestrator on the load, waits for the readiness listeners
// and appends a script tag per loaded module in load order. It runs once.
func (l *Load) Boot(ctx context.Context, r *router.Router) (router.Report, error) {
	l.mu.Lock()
	if l.booted {
		l.mu.Unlock()
		return router.Report{}, ErrAlreadyBooted
	}
	l.booted = true
	l.mu.Unlock()

	rep := r.Boot(ctx, router.Target{
		PageID:   l.ID,
		Identity: l.Identity,
		Path:     l.Path,
		Loader:   l.Loader,
		Registry: l.Registry,
		Ready:    l.Ready,
	})
	listeners := l.Ready.Wait()

	for _, m := range rep.Modules {
		if m.Status != loader.StatusLoaded {
			continue
		}
		if err := l.Doc.AppendBody(scriptTag(m)); err != nil {
			slog.Warn("script tag not appended", "page", l.ID, "module", m.ID, "err", err)
		}
	}

	l.mu.Lock()
	l.report = rep
	l.listeners = listeners
	l.mu.Unlock()
	return rep, nil
}

func scriptTag(m loader.Result) string {
	return fmt.Sprintf(`<script src="%s" data-module="%s" defer></script>`,
		html.EscapeString(m.URL), html.EscapeString(m.ID))
}

// Snapshot is the JSON view of a page load.
type Snapshot struct {
	ID        string             `json:"id"`
	Path      string             `json:"path"`
	Identity  string             `json:"identity"`
	Created   time.Time          `json:"created"`
	LastSeen  time.Time          `json:"last_seen"`
	Boot      router.Report      `json:"boot"`
	Listeners []readiness.Result `json:"listeners"`
	Overlay   overlay.State      `json:"overlay"`
	Closed    bool               `json:"closed"`
}

// Snapshot returns the current view of the load.
func (l *Load) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		ID:        l.ID,
		Path:      l.Path,
		Identity:  l.Identity,
		Created:   l.Created,
		LastSeen:  l.lastSeen,
		Boot:      l.report,
		Listeners: append([]readiness.Result(nil), l.listeners...),
		Overlay:   l.Overlay.State(),
		Closed:    l.Doc.Closed(),
	}
}

// Report returns the boot report.
func (l *Load) Report() router.Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.report
}

func (l *Load) touch(now time.Time) {
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
}

func (l *Load) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen
}
