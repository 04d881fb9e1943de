package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/fstest"

	"pgregory.net/rapid"

	"github.com/quantpanel/quantpanel/internal/config"
	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/readiness"
	"github.com/quantpanel/quantpanel/internal/registry"
)

func newTestConfig() *config.Config {
	return config.Default()
}

// recorder is a fake module catalog that records the order of events.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func assetFS(ids ...string) fstest.MapFS {
	fs := fstest.MapFS{}
	for _, id := range ids {
		fs[id] = &fstest.MapFile{Data: []byte("// " + id)}
	}
	return fs
}

type harness struct {
	rec    *recorder
	reg    *registry.Registry
	ready  *readiness.Signal
	loader *loader.Loader
}

// newHarness builds a page load whose modules each register one
// initializer. Modules listed in failing have no source. Initializers
// listed in broken return an error.
func newHarness(modules map[string]string, failing, broken map[string]bool) *harness {
	h := &harness{rec: &recorder{}, reg: registry.New(), ready: readiness.New(0)}
	catalog := loader.Catalog{}
	var present []string
	for id, init := range modules {
		id, init := id, init
		if !failing[id] {
			present = append(present, id)
		}
		catalog[id] = loader.ModuleFunc(func(s *loader.Scope) error {
			h.rec.add("load:" + id)
			if init == "" {
				return nil
			}
			s.Registry.Register(init, func(context.Context) error {
				h.rec.add("init:" + init)
				if broken[init] {
					return errors.New("boom")
				}
				return nil
			})
			return nil
		})
	}
	scope := &loader.Scope{PageID: "test", Registry: h.reg, Ready: h.ready}
	h.loader = loader.New(loader.NewFSSource("/static/js/", assetFS(present...)), catalog, scope)
	h.ready.On("probe", func(context.Context) error {
		h.rec.add("ready")
		return nil
	})
	return h
}

func (h *harness) target(identity, path string) Target {
	return Target{PageID: "test", Identity: identity, Path: path, Loader: h.loader, Registry: h.reg, Ready: h.ready}
}

func TestResolveDeclared(t *testing.T) {
	r := New(newTestConfig(), nil)

	route := r.Resolve("parametrizacao-backtest", "/anything")
	if route.Fallback {
		t.Error("declared identity should not use the fallback")
	}
	want := []string{config.ModuleCharts, config.ModuleBacktest}
	if fmt.Sprint(route.Modules) != fmt.Sprint(want) {
		t.Errorf("modules = %v, want %v", route.Modules, want)
	}
	if fmt.Sprint(route.Init) != "[initBacktest]" {
		t.Errorf("init = %v", route.Init)
	}
}

func TestResolveDeclaredEmptyRoute(t *testing.T) {
	r := New(newTestConfig(), nil)

	route := r.Resolve("upload", "/upload/padronizacao")
	if route.Fallback || len(route.Modules) != 0 || len(route.Init) != 0 {
		t.Errorf("upload should resolve to an empty declared route, got %+v", route)
	}
}

func TestResolveLegacyFallback(t *testing.T) {
	r := New(newTestConfig(), nil)

	route := r.Resolve("", "/padronizacao-drawdown")
	if !route.Fallback {
		t.Fatal("expected fallback")
	}
	want := []string{config.ModuleFormatters, config.ModuleCharts, config.ModulePadronizacao, config.ModuleDrawdown}
	if fmt.Sprint(route.Modules) != fmt.Sprint(want) {
		t.Errorf("modules = %v, want %v", route.Modules, want)
	}
	if fmt.Sprint(route.Init) != "[initPadronizacao initDrawdown]" {
		t.Errorf("init = %v", route.Init)
	}
}

func TestResolveUnknownNoMatch(t *testing.T) {
	r := New(newTestConfig(), nil)

	route := r.Resolve("mystery", "/settings")
	if len(route.Modules) != 0 || len(route.Init) != 0 {
		t.Errorf("expected empty route, got %+v", route)
	}
}

func TestReload(t *testing.T) {
	r := New(newTestConfig(), nil)

	cfg := newTestConfig()
	cfg.Routes = map[string]config.RouteConfig{
		"custom": {Modules: []string{"x.js"}, Init: []string{"initX"}},
	}
	r.Reload(cfg)

	if _, ok := r.Lookup("dashboard"); ok {
		t.Error("dashboard should be gone after reload")
	}
	if ids := r.Identities(); len(ids) != 1 || ids[0] != "custom" {
		t.Errorf("identities = %v", ids)
	}

	// Mutating the config after reload must not leak into the router.
	cfg.Routes["custom"].Modules[0] = "y.js"
	if rc, _ := r.Lookup("custom"); rc.Modules[0] != "x.js" {
		t.Errorf("router shares slices with config: %v", rc.Modules)
	}
}

func TestIdentityFrom(t *testing.T) {
	doc, err := dom.ParseString(`<html><body><main id="app" data-page=" comparativo "></main></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if got := IdentityFrom(doc, "app", "data-page"); got != "comparativo" {
		t.Errorf("got %q", got)
	}
	if got := IdentityFrom(doc, "missing", "data-page"); got != "" {
		t.Errorf("missing root should give empty identity, got %q", got)
	}
}

func TestBootBacktestScenario(t *testing.T) {
	cfg := newTestConfig()
	h := newHarness(map[string]string{
		config.ModuleCharts:   "",
		config.ModuleBacktest: "initBacktest",
	}, nil, nil)

	rep := New(cfg, nil).Boot(context.Background(), h.target("parametrizacao-backtest", "/parametrizacao-backtest"))
	h.ready.Wait()

	want := []string{"load:" + config.ModuleCharts, "load:" + config.ModuleBacktest, "init:initBacktest", "ready"}
	if got := h.rec.snapshot(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if len(rep.Inits) != 1 || rep.Inits[0].Outcome != registry.OutcomeOK {
		t.Errorf("unexpected inits %+v", rep.Inits)
	}
	if rep.ReadyAt.IsZero() {
		t.Error("ReadyAt should be set")
	}
}

func TestBootContinuesPastFailures(t *testing.T) {
	cfg := newTestConfig()
	cfg.Routes = map[string]config.RouteConfig{
		"p": {Modules: []string{"a.js", "b.js", "c.js"}, Init: []string{"initA", "initB", "initC", "initGhost"}},
	}
	h := newHarness(map[string]string{
		"a.js": "initA",
		"b.js": "initB",
		"c.js": "initC",
	}, map[string]bool{"b.js": true}, map[string]bool{"initA": true})

	rep := New(cfg, nil).Boot(context.Background(), h.target("p", "/p"))
	h.ready.Wait()

	want := []string{"load:a.js", "load:c.js", "init:initA", "init:initC", "ready"}
	if got := h.rec.snapshot(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	outcomes := map[string]registry.Outcome{}
	for _, r := range rep.Inits {
		outcomes[r.Name] = r.Outcome
	}
	if outcomes["initA"] != registry.OutcomeFailed || outcomes["initB"] != registry.OutcomeMissing ||
		outcomes["initC"] != registry.OutcomeOK || outcomes["initGhost"] != registry.OutcomeMissing {
		t.Errorf("unexpected outcomes %v", outcomes)
	}
	if rep.Modules[1].Status != loader.StatusFailed {
		t.Errorf("b.js should have failed, got %+v", rep.Modules[1])
	}
}

func TestBootEmptyRouteStillFires(t *testing.T) {
	h := newHarness(nil, nil, nil)

	New(newTestConfig(), nil).Boot(context.Background(), h.target("upload", "/upload"))
	h.ready.Wait()

	if got := h.rec.snapshot(); fmt.Sprint(got) != "[ready]" {
		t.Errorf("events = %v", got)
	}
}

func TestBootFiresOnce(t *testing.T) {
	h := newHarness(nil, nil, nil)
	r := New(newTestConfig(), nil)

	r.Boot(context.Background(), h.target("upload", "/upload"))
	r.Boot(context.Background(), h.target("upload", "/upload"))
	h.ready.Wait()

	if got := h.rec.snapshot(); len(got) != 1 {
		t.Errorf("readiness should fire once, got %v", got)
	}
}

func TestBootProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 6).Draw(t, "modules")
		modules := map[string]string{}
		failing := map[string]bool{}
		broken := map[string]bool{}
		var route config.RouteConfig
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("m%d.js", i)
			init := fmt.Sprintf("init%d", i)
			modules[id] = init
			route.Modules = append(route.Modules, id)
			route.Init = append(route.Init, init)
			if rapid.Bool().Draw(t, "fail-"+id) {
				failing[id] = true
			}
			if rapid.Bool().Draw(t, "broken-"+init) {
				broken[init] = true
			}
		}
		cfg := newTestConfig()
		cfg.Routes = map[string]config.RouteConfig{"p": route}
		h := newHarness(modules, failing, broken)

		rep := New(cfg, nil).Boot(context.Background(), h.target("p", "/p"))
		h.ready.Wait()
		events := h.rec.snapshot()

		// Readiness fires exactly once and last.
		if len(events) == 0 || events[len(events)-1] != "ready" {
			t.Fatalf("ready must be the last event: %v", events)
		}
		readies := 0
		for _, e := range events {
			if e == "ready" {
				readies++
			}
		}
		if readies != 1 {
			t.Fatalf("ready fired %d times", readies)
		}

		// Every loaded module ran its initializer, in route order, and no
		// failure stopped a later one.
		var wantInits []string
		for i := 0; i < n; i++ {
			if !failing[fmt.Sprintf("m%d.js", i)] {
				wantInits = append(wantInits, fmt.Sprintf("init:init%d", i))
			}
		}
		var gotInits []string
		for _, e := range events {
			if len(e) > 5 && e[:5] == "init:" {
				gotInits = append(gotInits, e)
			}
		}
		if fmt.Sprint(gotInits) != fmt.Sprint(wantInits) {
			t.Fatalf("inits = %v, want %v", gotInits, wantInits)
		}
		if len(rep.Modules) != n || len(rep.Inits) != n {
			t.Fatalf("report sizes %d/%d, want %d", len(rep.Modules), len(rep.Inits), n)
		}
	})
}
