package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/quantpanel/quantpanel/internal/registry"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"utils/formatters.js": {Data: []byte("// formatters")},
		"panels/ciclos.js":    {Data: []byte("// ciclos")},
		"panels/fluxo.js":     {Data: []byte("// fluxo")},
	}
}

func newScope() *Scope {
	return &Scope{PageID: "test", Registry: registry.New()}
}

func TestFSSourceURLAndFetch(t *testing.T) {
	src := NewFSSource("/static/js", testFS())

	if got := src.URL("panels/ciclos.js"); got != "/static/js/panels/ciclos.js" {
		t.Errorf("unexpected URL %s", got)
	}
	a, err := src.Fetch(context.Background(), "panels/ciclos.js")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if a.Size != len("// ciclos") || a.Digest == "" {
		t.Errorf("unexpected asset %+v", a)
	}

	if _, err := src.Fetch(context.Background(), "panels/nope.js"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
	if _, err := src.Fetch(context.Background(), "../etc/passwd"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected escaping path to be rejected, got %v", err)
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/js/panels/ciclos.js":
			w.Write([]byte("// ciclos"))
		case "/js/panels/broken.js":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewSource(srv.URL+"/js/", nil, srv.Client())
	if _, ok := src.(*HTTPSource); !ok {
		t.Fatalf("expected HTTPSource for absolute base, got %T", src)
	}

	if _, err := src.Fetch(context.Background(), "panels/ciclos.js"); err != nil {
		t.Errorf("Fetch failed: %v", err)
	}
	if _, err := src.Fetch(context.Background(), "panels/missing.js"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
	if _, err := src.Fetch(context.Background(), "panels/broken.js"); err == nil || errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected a non-404 failure, got %v", err)
	}
}

func TestLoadRegistersModule(t *testing.T) {
	scope := newScope()
	catalog := Catalog{
		"panels/ciclos.js": ModuleFunc(func(s *Scope) error {
			s.Registry.Register("initCiclos", func(context.Context) error { return nil })
			return nil
		}),
	}
	l := New(NewFSSource("/static/js/", testFS()), catalog, scope)

	res := l.Load(context.Background(), "panels/ciclos.js")
	if res.Status != StatusLoaded {
		t.Fatalf("expected loaded, got %+v", res)
	}
	if _, ok := scope.Registry.Lookup("initCiclos"); !ok {
		t.Error("expected initCiclos registered")
	}
	if !l.Loaded("panels/ciclos.js") {
		t.Error("expected Loaded to report true")
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	registrations := 0
	catalog := Catalog{
		"panels/ciclos.js": ModuleFunc(func(s *Scope) error {
			registrations++
			return nil
		}),
	}
	l := New(NewFSSource("/static/js/", testFS()), catalog, newScope())

	l.LoadAll(context.Background(), []string{"panels/ciclos.js", "panels/ciclos.js"})
	l.Load(context.Background(), "panels/ciclos.js")

	if registrations != 1 {
		t.Errorf("expected one registration, got %d", registrations)
	}
	if n := len(l.Results()); n != 1 {
		t.Errorf("expected one settled result, got %d", n)
	}
}

func TestLoadFailureContinues(t *testing.T) {
	catalog := Catalog{
		"panels/fluxo.js": ModuleFunc(func(s *Scope) error { panic("bad module") }),
	}
	l := New(NewFSSource("/static/js/", testFS()), catalog, newScope())

	var observed []string
	l.SetObserver(func(r Result) { observed = append(observed, r.ID+":"+r.Status) })

	res := l.LoadAll(context.Background(), []string{"panels/missing.js", "panels/fluxo.js", "panels/ciclos.js"})
	want := []string{
		"panels/missing.js:failed",
		"panels/fluxo.js:failed",
		"panels/ciclos.js:loaded",
	}
	if len(res) != 3 || len(observed) != 3 {
		t.Fatalf("expected 3 results, got %d / %d", len(res), len(observed))
	}
	for i, w := range want {
		if observed[i] != w {
			t.Errorf("result %d = %s, want %s", i, observed[i], w)
		}
	}
}

// orderedSource records when each fetch starts and ends.
type orderedSource struct {
	mu     sync.Mutex
	events []string
	fail   map[string]bool
}

func (s *orderedSource) URL(id string) string { return "/js/" + id }

func (s *orderedSource) Fetch(ctx context.Context, id string) (Asset, error) {
	s.mu.Lock()
	s.events = append(s.events, "start:"+id)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.events = append(s.events, "end:"+id)
		s.mu.Unlock()
	}()
	if s.fail[id] {
		return Asset{}, errors.New("network down")
	}
	return Asset{ID: id, URL: s.URL(id)}, nil
}

func TestLoadAllIsSequential(t *testing.T) {
	src := &orderedSource{fail: map[string]bool{"b": true}}
	l := New(src, nil, newScope())

	l.LoadAll(context.Background(), []string{"a", "b", "c"})

	want := []string{"start:a", "end:a", "start:b", "end:b", "start:c", "end:c"}
	if len(src.events) != len(want) {
		t.Fatalf("unexpected events %v", src.events)
	}
	for i := range want {
		if src.events[i] != want[i] {
			t.Fatalf("events %v, want %v", src.events, want)
		}
	}
}
