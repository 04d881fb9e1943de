// Package page owns page loads: it renders the page skeleton, boots the
// modules of its identity and keeps the live document around for the overlay
// layer until the load goes idle.
package page

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantpanel/quantpanel/internal/backend"
	"github.com/quantpanel/quantpanel/internal/config"
	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/handoff"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
	"github.com/quantpanel/quantpanel/internal/overlay"
	"github.com/quantpanel/quantpanel/internal/readiness"
	"github.com/quantpanel/quantpanel/internal/registry"
	"github.com/quantpanel/quantpanel/internal/router"
	"github.com/quantpanel/quantpanel/web"
)

// Options wires a Manager.
type Options struct {
	Router  *router.Router
	Catalog loader.Catalog
	Handoff handoff.Store
	Metrics *metrics.Collector
	// Assets is the module tree served under the asset prefix, used when
	// the config names no assets directory. Defaults to the embedded modules.
	Assets     fs.FS
	HTTPClient *http.Client
}

// settings is the config-derived state swapped as a whole on reload.
type settings struct {
	cfg     *config.Config
	backend *backend.Client
	source  loader.Source
}

// Manager creates and tracks page loads.
type Manager struct {
	opts   Options
	layout *Layout
	cur    atomic.Pointer[settings]

	mu    sync.RWMutex
	loads map[string]*Load

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewManager creates a Manager for cfg.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	layout, err := NewLayout()
	if err != nil {
		return nil, err
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.Backend.Timeout}
	}
	if opts.Handoff == nil {
		opts.Handoff = handoff.NewMemoryStore()
	}
	if opts.Assets == nil {
		opts.Assets = web.Modules()
	}
	m := &Manager{
		opts:   opts,
		layout: layout,
		loads:  make(map[string]*Load),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	m.SetConfig(cfg)
	return m, nil
}

// SetConfig applies a reloaded config to loads opened from now on.
func (m *Manager) SetConfig(cfg *config.Config) {
	var fsys fs.FS = m.opts.Assets
	if cfg.Assets.Dir != "" {
		fsys = os.DirFS(cfg.Assets.Dir)
	}
	m.cur.Store(&settings{
		cfg:     cfg,
		backend: backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout),
		source:  loader.NewSource(cfg.Assets.BasePrefix, fsys, m.opts.HTTPClient),
	})
}

// Config returns the active config.
func (m *Manager) Config() *config.Config {
	return m.cur.Load().cfg
}

// Backend returns the data API client of the active config.
func (m *Manager) Backend() *backend.Client {
	return m.cur.Load().backend
}

// Source returns the module source of the active config.
func (m *Manager) Source() loader.Source {
	return m.cur.Load().source
}

// Identity returns the identity configured for path, if any.
func (m *Manager) Identity(path string) (string, bool) {
	id, ok := m.Config().Pages[path]
	return id, ok
}

// Open creates a page load for path and boots it. session scopes the handoff
// buffer; an empty session confines it to the load itself.
func (m *Manager) Open(ctx context.Context, path, session string) (*Load, error) {
	st := m.cur.Load()
	cfg := st.cfg
	id := uuid.NewString()
	identity := cfg.Pages[path]

	raw, err := m.layout.Render(identity, id, cfg.Page.RootID)
	if err != nil {
		return nil, err
	}
	doc, err := dom.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing page %s: %w", path, err)
	}
	if identity != "" {
		if err := doc.SetAttr(cfg.Page.RootID, cfg.Page.Attribute, identity); err != nil {
			return nil, fmt.Errorf("stamping page identity: %w", err)
		}
	}

	scope := session
	if scope == "" {
		scope = id
	}
	buf := handoff.NewBuffer(m.opts.Handoff, scope, cfg.Handoff.TTL).
		WithObserver(m.opts.Metrics.HandoffRead)

	reg := registry.New()
	ready := readiness.New(cfg.Page.ListenerConcurrency)
	s := &loader.Scope{
		PageID:   id,
		Identity: router.IdentityFrom(doc, cfg.Page.RootID, cfg.Page.Attribute),
		Locale:   cfg.Page.Locale,
		Registry: reg,
		Ready:    ready,
		Doc:      doc,
		Backend:  st.backend,
		Handoff:  buf,
	}
	now := m.now()
	l := &Load{
		ID:       id,
		Path:     path,
		Identity: s.Identity,
		Session:  session,
		Created:  now,
		Doc:      doc,
		Registry: reg,
		Ready:    ready,
		Loader:   loader.New(st.source, m.opts.Catalog, s),
		Overlay:  overlay.New(id, doc, reg, cfg.Overlay, m.opts.Metrics),
		lastSeen: now,
	}

	if _, err := l.Boot(ctx, m.opts.Router); err != nil {
		return nil, err
	}

	m.mu.Lock()
	evicted := m.evictLocked(cfg.Page.MaxLoads - 1)
	m.loads[id] = l
	n := len(m.loads)
	m.mu.Unlock()

	for _, old := range evicted {
		old.Doc.Close()
	}
	if len(evicted) > 0 {
		slog.Info("page load limit reached, evicted idle loads",
			"evicted", len(evicted), "max_loads", cfg.Page.MaxLoads)
	}
	m.opts.Metrics.SetPageLoads(n)
	return l, nil
}

// evictLocked removes the least recently seen loads until at most keep
// remain and returns them. A negative keep means no limit. Must hold m.mu.
func (m *Manager) evictLocked(keep int) []*Load {
	if keep < 0 || len(m.loads) <= keep {
		return nil
	}
	loads := make([]*Load, 0, len(m.loads))
	for _, l := range m.loads {
		loads = append(loads, l)
	}
	sort.Slice(loads, func(i, j int) bool {
		return loads[i].idleSince().Before(loads[j].idleSince())
	})
	evicted := loads[:len(loads)-keep]
	for _, l := range evicted {
		delete(m.loads, l.ID)
	}
	return evicted
}

// Get returns a live load and marks it as seen.
func (m *Manager) Get(id string) (*Load, error) {
	m.mu.RLock()
	l, ok := m.loads[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	l.touch(m.now())
	return l, nil
}

// Remove drops a load and closes its document.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	l, ok := m.loads[id]
	delete(m.loads, id)
	n := len(m.loads)
	m.mu.Unlock()
	if !ok {
		return false
	}
	l.Doc.Close()
	m.opts.Metrics.SetPageLoads(n)
	return true
}

// Len returns the number of live loads.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.loads)
}

// IDs returns the live load ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.loads))
	for id := range m.loads {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshots returns a view of every live load, ordered by id. Unlike Get it
// does not mark the loads as seen.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	loads := make([]*Load, 0, len(m.loads))
	for _, l := range m.loads {
		loads = append(loads, l)
	}
	m.mu.RUnlock()
	sort.Slice(loads, func(i, j int) bool { return loads[i].ID < loads[j].ID })

	out := make([]Snapshot, len(loads))
	for i, l := range loads {
		out[i] = l.Snapshot()
	}
	return out
}

// Start begins periodic expiry of idle loads.
func (m *Manager) Start() {
	interval := m.Config().Page.TTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(interval)
	}()
	slog.Info("page reaper started", "interval", interval, "ttl", m.Config().Page.TTL)
}

// Stop stops the reaper and closes every live load. Safe to call multiple
// times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	for id, l := range m.loads {
		l.Doc.Close()
		delete(m.loads, id)
	}
	m.mu.Unlock()
	m.opts.Metrics.SetPageLoads(0)
	slog.Info("page reaper stopped")
}

func (m *Manager) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Expire(m.now())
		case <-m.stopCh:
			return
		}
	}
}

// Expire closes loads idle for longer than the page TTL and sweeps expired
// handoff records. It returns the number of loads closed.
func (m *Manager) Expire(now time.Time) int {
	ttl := m.Config().Page.TTL

	m.mu.Lock()
	var expired []*Load
	for id, l := range m.loads {
		if now.Sub(l.idleSince()) > ttl {
			expired = append(expired, l)
			delete(m.loads, id)
		}
	}
	n := len(m.loads)
	m.mu.Unlock()

	for _, l := range expired {
		l.Doc.Close()
	}
	if len(expired) > 0 {
		slog.Debug("page loads expired", "count", len(expired), "live", n)
	}
	m.opts.Metrics.SetPageLoads(n)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if swept, err := m.opts.Handoff.Sweep(ctx); err != nil {
		slog.Warn("handoff sweep failed", "err", err)
	} else if swept > 0 {
		slog.Debug("handoff records expired", "count", swept)
	}
	return len(expired)
}
