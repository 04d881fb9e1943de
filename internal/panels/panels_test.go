package panels

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quantpanel/quantpanel/internal/backend"
	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/format"
	"github.com/quantpanel/quantpanel/internal/handoff"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
	"github.com/quantpanel/quantpanel/internal/readiness"
	"github.com/quantpanel/quantpanel/internal/registry"
)

// fakeBackend answers each path with a fixed body and status.
type fakeBackend struct {
	mu     sync.Mutex
	bodies map[string]string
	hits   map[string]int
}

func newFakeBackend(t *testing.T, bodies map[string]string) (*backend.Client, *fakeBackend) {
	fb := &fakeBackend{bodies: bodies, hits: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.hits[r.URL.Path]++
		body, ok := fb.bodies[r.URL.Path]
		fb.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return backend.New(srv.URL, 2*time.Second), fb
}

func (fb *fakeBackend) count(path string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.hits[path]
}

func pageWith(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><main id="app">`)
	for _, id := range ids {
		b.WriteString(`<div id="` + id + `"></div>`)
	}
	b.WriteString(`</main></body></html>`)
	return b.String()
}

type fixture struct {
	scope *loader.Scope
	doc   *dom.Document
	m     *metrics.Collector
	store *handoff.MemoryStore
}

func newFixture(t *testing.T, client *backend.Client, ids ...string) *fixture {
	t.Helper()
	doc, err := dom.ParseString(pageWith(ids...))
	if err != nil {
		t.Fatal(err)
	}
	store := handoff.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return &fixture{
		scope: &loader.Scope{
			PageID:   "test",
			Locale:   "pt-BR",
			Registry: registry.New(),
			Ready:    readiness.New(0),
			Doc:      doc,
			Backend:  client,
			Handoff:  handoff.NewBuffer(store, "session-1", time.Minute),
		},
		doc:   doc,
		m:     metrics.New(),
		store: store,
	}
}

func (f *fixture) register(t *testing.T, mods ...loader.Module) {
	t.Helper()
	for _, m := range mods {
		if err := m.Register(f.scope); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
}

func (f *fixture) text(t *testing.T, id string) string {
	t.Helper()
	s, ok := f.doc.Text(id)
	if !ok {
		t.Fatalf("element %s missing", id)
	}
	return s
}

var pt = format.New("pt-BR")

func TestUtilityModulesProvideCapabilities(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, FormatterModule(), ChartModule(chart.Options{}))

	if _, ok := registry.Get[*format.Formatter](f.scope.Registry, CapFormatter); !ok {
		t.Error("formatter capability missing")
	}
	if _, ok := registry.Get[*chart.Renderer](f.scope.Registry, CapChart); !ok {
		t.Error("chart capability missing")
	}
}

func TestCiclos(t *testing.T) {
	client, _ := newFakeBackend(t, map[string]string{
		"/api/ciclos": `{"status":"success","data":{
			"ultimo_ciclo":{"duracao":"12 dias","maxima_divida":1234.5},
			"estatisticas_duracao":{"maxima":"30 dias","media":"10 dias","percentil_75":"15 dias"}}}`,
	})
	f := newFixture(t, client, append(ciclosFields, "ciclos-status")...)
	f.register(t, FormatterModule(), CiclosModule(f.m))

	res := f.scope.Registry.Invoke(context.Background(), "initCiclos")
	if res.Outcome != registry.OutcomeOK {
		t.Fatalf("initCiclos: %+v", res)
	}
	if got := f.text(t, IDCicloDuracaoAtual); got != "12 dias" {
		t.Errorf("duracaoAtual = %q", got)
	}
	if got, want := f.text(t, IDCicloMaximo), pt.Currency(1234.5); got != want {
		t.Errorf("maximoCiclo = %q, want %q", got, want)
	}
	if got := f.text(t, IDCicloP75Duracao); got != "15 dias" {
		t.Errorf("percentil75 = %q", got)
	}
}

func TestDataFailureRendersPlaceholders(t *testing.T) {
	client, _ := newFakeBackend(t, map[string]string{
		"/api/ciclos": `{"status":"error","message":"sem dados"}`,
	})
	f := newFixture(t, client, append(ciclosFields, "ciclos-status")...)
	f.register(t, FormatterModule(), CiclosModule(f.m))

	res := f.scope.Registry.Invoke(context.Background(), "initCiclos")
	if res.Outcome != registry.OutcomeOK {
		t.Fatalf("data failures must not fail the initializer: %+v", res)
	}
	for _, id := range ciclosFields {
		if got := f.text(t, id); got != format.Placeholder {
			t.Errorf("%s = %q, want placeholder", id, got)
		}
	}
	if got := f.text(t, "ciclos-status"); got != StatusUnavailable {
		t.Errorf("status = %q", got)
	}
}

func TestMissingCapabilityFailsOnlyThatPanel(t *testing.T) {
	client, fb := newFakeBackend(t, map[string]string{
		"/api/drawdown": `{"status":"success","data":{}}`,
	})
	f := newFixture(t, client, drawdownFields...)
	f.register(t, DrawdownModule(f.m))

	res := f.scope.Registry.Invoke(context.Background(), "initDrawdown")
	if res.Outcome != registry.OutcomeFailed || !errors.Is(res.Err, ErrNoFormatter) {
		t.Fatalf("expected ErrNoFormatter, got %+v", res)
	}
	if fb.count("/api/drawdown") != 0 {
		t.Error("panel should not fetch without its utilities")
	}
}

func TestFluxoRendersChart(t *testing.T) {
	client, _ := newFakeBackend(t, map[string]string{
		"/api/fluxo": `{"status":"ok","data":{
			"variaveis_fluxo":{"divida_acumulada":-500,"destaque":"Ciclo saudável","valor_emprestado":1000},
			"serie":[{"label":"jan","value":1},{"label":"fev","value":-2}]}}`,
	})
	f := newFixture(t, client, append(fluxoFields, IDFluxoGrafico, "fluxo-status")...)
	f.register(t, FormatterModule(), ChartModule(chart.Options{}), FluxoModule(f.m))

	if res := f.scope.Registry.Invoke(context.Background(), "initFluxo"); res.Outcome != registry.OutcomeOK {
		t.Fatalf("initFluxo: %+v", res)
	}
	if got := f.text(t, IDFluxoDestaque); got != "Ciclo saudável" {
		t.Errorf("destaque = %q", got)
	}
	if got := f.text(t, IDFluxoAmortizacao); got != format.Placeholder {
		t.Errorf("missing value should render placeholder, got %q", got)
	}
	if html, _ := f.doc.HTML(IDFluxoGrafico); !strings.Contains(html, "<svg") {
		t.Errorf("expected svg chart, got %q", html)
	}
}

func TestPadronizacaoShares(t *testing.T) {
	client, _ := newFakeBackend(t, map[string]string{
		"/api/padronizacao": `{"status":"success","data":{
			"padronizacao":{"resultado_bruto_padronizado":200,"resultado_liquido_padronizado":150}}}`,
	})
	f := newFixture(t, client, append(padronizacaoFields, IDPadBarraLiquido, IDPadBarraTaxas, IDPadGrafico)...)
	f.register(t, FormatterModule(), ChartModule(chart.Options{}), PadronizacaoModule(f.m))

	f.scope.Registry.Invoke(context.Background(), "initPadronizacao")

	if got, want := f.text(t, IDPadTaxas), pt.Currency(50); got != want {
		t.Errorf("taxas = %q, want %q", got, want)
	}
	if got, want := f.text(t, IDPadPctLiquido), pt.Percent(75); got != want {
		t.Errorf("pct liquido = %q, want %q", got, want)
	}
	if style, _ := f.doc.Attr(IDPadBarraTaxas, "style"); style != "width: 25%" {
		t.Errorf("bar style = %q", style)
	}
}

const backtestBody = `{"status":"success","data":{
	"params":{"ativacao_percentual":2.5,"ativacao_base":"capital","encerrar_ao_fim_do_ciclo":true},
	"metricas_original":{"total_operacoes":120,"lucro_final":1000,"drawdown_maximo":-500},
	"metricas_backtest":{"total_operacoes":80,"lucro_final":1250,"drawdown_maximo":-300},
	"resumo_ciclo":"3 ciclos",
	"curva":[{"label":"1","value":10},{"label":"2","value":12}]}}`

func TestBacktestWritesHandoffPair(t *testing.T) {
	client, _ := newFakeBackend(t, map[string]string{"/api/backtest/params": backtestBody})
	ids := append(allMetricIDs(), IDResumoCiclo, IDBacktestGrafico, IDEncerrarCiclo, "ativacao_percentual", "ativacao_base")
	f := newFixture(t, client, ids...)
	// The backtest route loads charts only; the panel falls back to a
	// locale formatter.
	f.register(t, ChartModule(chart.Options{}), BacktestModule(f.m))

	if res := f.scope.Registry.Invoke(context.Background(), "initBacktest"); res.Outcome != registry.OutcomeOK {
		t.Fatalf("initBacktest: %+v", res)
	}
	if v, _ := f.doc.Attr("ativacao_percentual", "value"); v != "2.5" {
		t.Errorf("ativacao_percentual value = %q", v)
	}
	if _, ok := f.doc.Attr(IDEncerrarCiclo, "checked"); !ok {
		t.Error("encerrar_ciclo should be checked")
	}
	if got, want := f.text(t, IDLucroFinal+SuffixBacktest), pt.Currency(1250); got != want {
		t.Errorf("lucro_final_backtest = %q, want %q", got, want)
	}

	var base, variant Metrics
	ctx := context.Background()
	if ok, _ := f.scope.Handoff.ReadOnce(ctx, handoff.KeyBaseline, &base); !ok || *base.LucroFinal != 1000 {
		t.Errorf("baseline handoff missing or wrong: %v %+v", ok, base)
	}
	if ok, _ := f.scope.Handoff.ReadOnce(ctx, handoff.KeyBacktest, &variant); !ok || *variant.LucroFinal != 1250 {
		t.Errorf("backtest handoff missing or wrong: %v %+v", ok, variant)
	}
}

func TestComparativoPrefersHandoff(t *testing.T) {
	client, fb := newFakeBackend(t, map[string]string{
		"/api/comparativo": `{"status":"success","data":{"base":{"lucro_final":1},"backtest":{"lucro_final":2}}}`,
	})
	f := newFixture(t, client, append(allMetricIDs(), IDHeadline)...)
	f.register(t, FormatterModule(), ComparativoModule(f.m))

	ctx := context.Background()
	lucroBase, lucroVar := 1000.0, 1250.0
	ddBase, ddVar := -500.0, -300.0
	err := f.scope.Handoff.WritePair(ctx,
		handoff.KeyBaseline, Metrics{LucroFinal: &lucroBase, DrawdownMaximo: &ddBase},
		handoff.KeyBacktest, Metrics{LucroFinal: &lucroVar, DrawdownMaximo: &ddVar})
	if err != nil {
		t.Fatal(err)
	}

	f.scope.Registry.Invoke(ctx, "initComparativo")
	if fb.count("/api/comparativo") != 0 {
		t.Error("handoff present: backend should not be called")
	}
	if got, want := f.text(t, IDLucroFinal), pt.Currency(1000); got != want {
		t.Errorf("lucro_final = %q, want %q", got, want)
	}
	if got := f.text(t, IDHeadline); got != "+25% de Lucro com −40% de Prejuízos" {
		t.Errorf("headline = %q", got)
	}

	// The records were consumed: the next init falls back to the backend.
	f.scope.Registry.Invoke(ctx, "initComparativo")
	if fb.count("/api/comparativo") != 1 {
		t.Errorf("expected backend fallback, hits=%d", fb.count("/api/comparativo"))
	}
	if got, want := f.text(t, IDLucroFinal+SuffixBacktest), pt.Currency(2); got != want {
		t.Errorf("lucro_final_backtest = %q, want %q", got, want)
	}
}

func TestComparativoHalfHandoffFallsBack(t *testing.T) {
	client, fb := newFakeBackend(t, map[string]string{
		"/api/comparativo": `{"status":"success","data":{"base":{"lucro_final":1},"backtest":{"lucro_final":2}}}`,
	})
	f := newFixture(t, client, append(allMetricIDs(), IDHeadline)...)
	f.register(t, FormatterModule(), ComparativoModule(f.m))

	ctx := context.Background()
	f.scope.Handoff.Write(ctx, handoff.KeyBaseline, Metrics{})
	f.scope.Registry.Invoke(ctx, "initComparativo")

	if fb.count("/api/comparativo") != 1 {
		t.Error("a single half must fall back to the backend")
	}
}

func TestComparativoBackendFailure(t *testing.T) {
	client, _ := newFakeBackend(t, nil)
	f := newFixture(t, client, append(allMetricIDs(), IDHeadline)...)
	f.register(t, FormatterModule(), ComparativoModule(f.m))

	f.scope.Registry.Invoke(context.Background(), "initComparativo")
	if got := f.text(t, IDHeadline); got != headlineFailed {
		t.Errorf("headline = %q", got)
	}
	if got := f.text(t, IDLucroFinal); got != format.Placeholder {
		t.Errorf("lucro_final = %q", got)
	}
}

func TestHeadline(t *testing.T) {
	v := func(f float64) *float64 { return &f }
	tests := []struct {
		name          string
		base, variant *Metrics
		want          string
	}{
		{"missing", nil, &Metrics{}, headlineDefault},
		{"gain and reduction", &Metrics{LucroFinal: v(100), DrawdownMaximo: v(-50)},
			&Metrics{LucroFinal: v(150), DrawdownMaximo: v(-25)}, "+50% de Lucro com −50% de Prejuízos"},
		{"loss and increase", &Metrics{LucroFinal: v(100), DrawdownMaximo: v(-50)},
			&Metrics{LucroFinal: v(80), DrawdownMaximo: v(-75)}, "-20% de Lucro com +50% de Prejuízos"},
		{"zero base", &Metrics{LucroFinal: v(0)}, &Metrics{LucroFinal: v(10)}, "— com —"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Headline(tt.base, tt.variant); got != tt.want {
				t.Errorf("Headline = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInsightsStartOnReadiness(t *testing.T) {
	client, _ := newFakeBackend(t, map[string]string{
		"/api/insights": `{"status":"success","data":{"insights":[{"texto":"Drawdown <alto>","severidade":"alta"}]}}`,
		"/api/strategies/recent": `{"status":"success","data":{"items":[
			{"id":"s1","title":"Trend Hunter","ativo":"WIN","status":"ativo","spark":[1,2,3]}]}}`,
	})
	f := newFixture(t, client, IDInsightsList, IDInsightsUpdated, IDRecentGrid, IDRecentEmpty)
	f.register(t, ChartModule(chart.Options{}), InsightsModule(f.m), RecentStrategiesModule(f.m))

	if html, _ := f.doc.HTML(IDInsightsList); html != "" {
		t.Fatal("insights must wait for readiness")
	}
	f.scope.Ready.Fire(context.Background())
	for _, r := range f.scope.Ready.Wait() {
		if r.Error != "" {
			t.Errorf("listener %s failed: %s", r.Name, r.Error)
		}
	}

	html, _ := f.doc.HTML(IDInsightsList)
	if !strings.Contains(html, "insight-high") || !strings.Contains(html, "Drawdown &lt;alto&gt;") {
		t.Errorf("unexpected insights %q", html)
	}
	grid, _ := f.doc.HTML(IDRecentGrid)
	if !strings.Contains(grid, "Trend Hunter") || !strings.Contains(grid, "dspark_s1") {
		t.Errorf("unexpected recent grid %q", grid)
	}
	if !f.doc.HasClass(IDRecentEmpty, "hidden") {
		t.Error("empty state should be hidden")
	}
}

func TestRecentStrategiesEmptyState(t *testing.T) {
	client, _ := newFakeBackend(t, map[string]string{
		"/api/strategies/recent": `{"status":"success","data":{"items":[]}}`,
	})
	f := newFixture(t, client, IDRecentGrid, IDRecentEmpty)
	f.doc.AddClass(IDRecentEmpty, "hidden")
	f.register(t, RecentStrategiesModule(f.m))

	f.scope.Registry.Invoke(context.Background(), "initRecentStrategies")
	if f.doc.HasClass(IDRecentEmpty, "hidden") {
		t.Error("empty state should be visible")
	}
}

func TestStaleWriteIsDropped(t *testing.T) {
	client, _ := newFakeBackend(t, map[string]string{
		"/api/ciclos": `{"status":"success","data":{"ultimo_ciclo":{"duracao":"1 dia"}}}`,
	})
	f := newFixture(t, client, ciclosFields...)
	f.register(t, FormatterModule(), CiclosModule(f.m))
	f.doc.Remove(IDCicloDuracaoAtual)
	f.doc.Close()

	if res := f.scope.Registry.Invoke(context.Background(), "initCiclos"); res.Outcome != registry.OutcomeOK {
		t.Fatalf("writes into a closed page must be dropped silently: %+v", res)
	}
	if f.doc.Has(IDCicloDuracaoAtual) {
		t.Error("removed element must not be recreated")
	}
}

func TestCatalogCoversDefaultModules(t *testing.T) {
	cat := Catalog(nil)
	if len(cat) != 10 {
		t.Errorf("expected 10 modules, got %d", len(cat))
	}
}
