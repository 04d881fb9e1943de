// Package panels holds the feature modules a page load can request.
//
// Each module registers against the page's loader.Scope: utility modules
// publish shared capabilities, panel modules bind their initializers or
// attach to the readiness signal. Panels read the backend, write into their
// own elements of the document and never fail the page: a data failure
// leaves placeholders and an inline status message in the panel's section.
package panels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/format"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
	"github.com/quantpanel/quantpanel/internal/registry"
)

// Capability names published by the utility modules.
const (
	CapFormatter = "formatter"
	CapChart     = "chart"
)

// StatusUnavailable is the inline message of a degraded panel.
const StatusUnavailable = "Dados indisponíveis no momento."

var (
	// ErrNoFormatter is returned by initializers whose page did not load the
	// formatter utility.
	ErrNoFormatter = errors.New("panels: formatter capability not loaded")
	// ErrNoChart is the charting counterpart of ErrNoFormatter.
	ErrNoChart = errors.New("panels: chart capability not loaded")
)

// panel carries what every panel needs to fetch and render.
type panel struct {
	name    string
	scope   *loader.Scope
	metrics *metrics.Collector
}

func newPanel(name string, s *loader.Scope, m *metrics.Collector) *panel {
	return &panel{name: name, scope: s, metrics: m}
}

func (p *panel) statusID() string { return p.name + "-status" }

func (p *panel) formatter() (*format.Formatter, error) {
	f, ok := registry.Get[*format.Formatter](p.scope.Registry, CapFormatter)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p.name, ErrNoFormatter)
	}
	return f, nil
}

// formatterOrLocal returns the shared formatter, or one built for the page
// locale when the page did not load the formatter utility.
func (p *panel) formatterOrLocal() *format.Formatter {
	if f, err := p.formatter(); err == nil {
		return f
	}
	return format.New(p.scope.Locale)
}

func (p *panel) chart() (*chart.Renderer, error) {
	c, ok := registry.Get[*chart.Renderer](p.scope.Registry, CapChart)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p.name, ErrNoChart)
	}
	return c, nil
}

func (p *panel) fetch(ctx context.Context, path string, out any) error {
	if p.scope.Backend == nil {
		return fmt.Errorf("%s: no backend configured", p.name)
	}
	return p.scope.Backend.Get(ctx, path, out)
}

// set writes text into element id. Writes into elements that are gone, or
// into a page load that ended, are dropped.
func (p *panel) set(id, text string) {
	p.guard(id, p.scope.Doc.SetText(id, text))
}

func (p *panel) setHTML(id, fragment string) {
	p.guard(id, p.scope.Doc.SetHTML(id, fragment))
}

func (p *panel) setAttr(id, key, val string) {
	p.guard(id, p.scope.Doc.SetAttr(id, key, val))
}

func (p *panel) guard(id string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, dom.ErrMissing), errors.Is(err, dom.ErrClosed):
		slog.Debug("panel write dropped", "page", p.scope.PageID, "panel", p.name, "element", id, "err", err)
	default:
		slog.Warn("panel write failed", "page", p.scope.PageID, "panel", p.name, "element", id, "err", err)
	}
}

// ready clears the inline status message.
func (p *panel) ready() {
	p.set(p.statusID(), "")
}

// degrade renders placeholders into ids and the inline status message.
func (p *panel) degrade(err error, ids ...string) {
	slog.Warn("panel data unavailable", "page", p.scope.PageID, "panel", p.name, "err", err)
	p.metrics.PanelFetchFailed(p.name)
	for _, id := range ids {
		p.set(id, format.Placeholder)
	}
	p.set(p.statusID(), StatusUnavailable)
}

// text returns s, or the placeholder when s is blank.
func text(s string) string {
	if s == "" {
		return format.Placeholder
	}
	return s
}
