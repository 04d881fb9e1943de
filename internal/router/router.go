package router

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantpanel/quantpanel/internal/config"
	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
	"github.com/quantpanel/quantpanel/internal/readiness"
	"github.com/quantpanel/quantpanel/internal/registry"
)

// Route is the resolved ModuleRoute and InitSequence of a page load.
type Route struct {
	Identity string   `json:"identity"`
	Modules  []string `json:"modules"`
	Init     []string `json:"init"`
	// Fallback is set when the route was inferred from the URL path.
	Fallback bool `json:"fallback"`
}

// Router resolves page identities to the modules and initializers they need.
type Router struct {
	mu      sync.RWMutex
	routes  map[string]config.RouteConfig
	legacy  []config.LegacyRouteConfig
	metrics *metrics.Collector
}

// New creates a Router populated from the given config.
func New(cfg *config.Config, m *metrics.Collector) *Router {
	r := &Router{metrics: m}
	r.Reload(cfg)
	return r
}

// Reload replaces the routing tables from a new config. Page loads already
// booting keep the route they resolved.
func (r *Router) Reload(cfg *config.Config) {
	routes := make(map[string]config.RouteConfig, len(cfg.Routes))
	for id, rc := range cfg.Routes {
		routes[id] = config.RouteConfig{
			Modules: append([]string(nil), rc.Modules...),
			Init:    append([]string(nil), rc.Init...),
		}
	}
	legacy := make([]config.LegacyRouteConfig, len(cfg.LegacyRoutes))
	copy(legacy, cfg.LegacyRoutes)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = routes
	r.legacy = legacy
}

// Lookup returns the declared route of identity.
func (r *Router) Lookup(identity string) (config.RouteConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.routes[identity]
	return rc, ok
}

// Identities returns every declared identity, sorted.
func (r *Router) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve returns the route for identity. An empty or undeclared identity
// falls back to the legacy path rules: every rule whose substring occurs in
// path contributes its modules and initializers, each at most once, in rule
// order. No match yields an empty route.
func (r *Router) Resolve(identity, path string) Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rc, ok := r.routes[identity]; ok {
		return Route{
			Identity: identity,
			Modules:  append([]string(nil), rc.Modules...),
			Init:     append([]string(nil), rc.Init...),
		}
	}

	route := Route{Identity: identity, Fallback: true}
	seenMod := make(map[string]bool)
	seenInit := make(map[string]bool)
	for _, rule := range r.legacy {
		if !strings.Contains(path, rule.Match) {
			continue
		}
		for _, m := range rule.Modules {
			if !seenMod[m] {
				seenMod[m] = true
				route.Modules = append(route.Modules, m)
			}
		}
		for _, in := range rule.Init {
			if !seenInit[in] {
				seenInit[in] = true
				route.Init = append(route.Init, in)
			}
		}
	}
	return route
}

// IdentityFrom reads the page identity from the root element's attribute.
// It returns "" when the root or the attribute is absent.
func IdentityFrom(doc *dom.Document, rootID, attr string) string {
	v, _ := doc.Attr(rootID, attr)
	return strings.TrimSpace(v)
}

// Target is everything Boot acts on for one page load.
type Target struct {
	PageID   string
	Identity string
	Path     string
	Loader   *loader.Loader
	Registry *registry.Registry
	Ready    *readiness.Signal
}

// Report summarizes a boot.
type Report struct {
	Route    Route             `json:"route"`
	Modules  []loader.Result   `json:"modules"`
	Inits    []registry.Result `json:"inits"`
	ReadyAt  time.Time         `json:"ready_at"`
	Duration time.Duration     `json:"duration_ns"`
}

// Boot resolves the route, loads its modules in order, runs its init
// sequence and fires the readiness signal. Nothing a module or initializer
// does can stop the sequence: load failures and init failures are logged and
// the next step runs. The signal fires exactly once, after the last
// initializer settled, even when the route is empty.
func (r *Router) Boot(ctx context.Context, t Target) Report {
	start := time.Now()
	route := r.Resolve(t.Identity, t.Path)
	rep := Report{Route: route}

	if route.Fallback && len(route.Modules) > 0 {
		slog.Info("page identity not declared, inferred modules from path",
			"page", t.PageID, "identity", t.Identity, "path", t.Path, "modules", len(route.Modules))
	}

	for _, id := range route.Modules {
		res := t.Loader.Load(ctx, id)
		r.metrics.ModuleLoaded(id, res.Status, res.Duration)
		rep.Modules = append(rep.Modules, res)
	}

	for _, name := range route.Init {
		res := t.Registry.Invoke(ctx, name)
		r.metrics.InitializerRan(name, res.Outcome.String(), "boot")
		switch res.Outcome {
		case registry.OutcomeFailed:
			slog.Warn("initializer failed", "page", t.PageID, "initializer", name, "err", res.Err)
		case registry.OutcomeMissing:
			slog.Debug("initializer not registered, skipping", "page", t.PageID, "initializer", name)
		}
		rep.Inits = append(rep.Inits, res)
	}

	t.Ready.Fire(ctx)
	rep.ReadyAt = t.Ready.FiredAt()
	rep.Duration = time.Since(start)
	r.metrics.BootCompleted(route.Identity, rep.Duration)

	slog.Debug("page ready", "page", t.PageID, "identity", route.Identity,
		"modules", len(rep.Modules), "inits", len(rep.Inits), "duration", rep.Duration)
	return rep
}
