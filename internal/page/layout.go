package page

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/quantpanel/quantpanel/web"
)

// legacyTemplate renders pages that carry no identity.
const legacyTemplate = "legacy"

// NavItem is one entry of the header navigation.
type NavItem struct {
	Path     string
	Label    string
	Identity string
	// Overlay is the alias sent to the overlay layer instead of navigating.
	// Only set on the dashboard, where the sections live.
	Overlay string
	Active  bool
}

var navigation = []NavItem{
	{Path: "/", Label: "Início", Identity: "dashboard", Overlay: "inicio"},
	{Path: "/analise-drawdown", Label: "Drawdowns", Identity: "analise-drawdown", Overlay: "pagina-drawdown"},
	{Path: "/padronizacao", Label: "Padronização", Identity: "padronizacao", Overlay: "pagina-padronizacao"},
	{Path: "/insights", Label: "Insights", Identity: "insights", Overlay: "pagina-insights"},
	{Path: "/parametrizacao-backtest", Label: "Backtest", Identity: "parametrizacao-backtest"},
	{Path: "/comparativo", Label: "Comparativo", Identity: "comparativo"},
	{Path: "/upload", Label: "Upload", Identity: "upload"},
}

var titles = map[string]string{
	"dashboard":               "Painel",
	"upload":                  "Upload",
	"analise-drawdown":        "Drawdowns e lucros",
	"padronizacao":            "Padronização",
	"parametrizacao-backtest": "Parametrização do backtest",
	"comparativo":             "Comparativo",
	"insights":                "Insights",
}

type layoutData struct {
	Title  string
	LoadID string
	RootID string
	Nav    []NavItem
}

// Layout renders the server-side page skeleton a page load boots on.
type Layout struct {
	pages map[string]*template.Template
}

// NewLayout parses the embedded page templates.
func NewLayout() (*Layout, error) {
	pages, err := web.Pages()
	if err != nil {
		return nil, err
	}
	if _, ok := pages[legacyTemplate]; !ok {
		return nil, fmt.Errorf("page template %q missing", legacyTemplate)
	}
	return &Layout{pages: pages}, nil
}

// Render renders the skeleton for identity. Identities without a template
// of their own get the legacy skeleton.
func (l *Layout) Render(identity, loadID, rootID string) ([]byte, error) {
	t, ok := l.pages[identity]
	if !ok {
		t = l.pages[legacyTemplate]
	}
	title, ok := titles[identity]
	if !ok {
		title = "QuantPanel"
	}
	data := layoutData{Title: title, LoadID: loadID, RootID: rootID, Nav: nav(identity)}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", identity, err)
	}
	return buf.Bytes(), nil
}

func nav(identity string) []NavItem {
	out := make([]NavItem, len(navigation))
	for i, item := range navigation {
		item.Active = item.Identity == identity
		if identity != "dashboard" {
			item.Overlay = ""
		}
		out[i] = item
	}
	return out
}
