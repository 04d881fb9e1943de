package panels

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/quantpanel/quantpanel/internal/handoff"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// IDHeadline is the comparison headline element.
const IDHeadline = "headlineComparativo"

const (
	headlineDefault = "Comparando execução sempre ligada vs automação inteligente."
	headlineFailed  = "Não foi possível carregar o comparativo agora. Tente novamente após novo processamento."
)

// ComparativoData is the payload of GET /api/comparativo.
type ComparativoData struct {
	Base     *Metrics `json:"base"`
	Backtest *Metrics `json:"backtest"`
}

// ComparativoModule binds initComparativo.
func ComparativoModule(m *metrics.Collector) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		p := newPanel("comparativo", s, m)
		s.Registry.Register("initComparativo", p.initComparativo)
		return nil
	})
}

// initComparativo prefers the pair the backtest page handed off and
// fetches the comparison from the backend when either half is absent.
func (p *panel) initComparativo(ctx context.Context) error {
	f, err := p.formatter()
	if err != nil {
		return err
	}

	base, variant, ok := p.readHandoff(ctx)
	if !ok {
		var d ComparativoData
		if err := p.fetch(ctx, "/api/comparativo", &d); err != nil {
			p.degrade(err, allMetricIDs()...)
			p.set(IDHeadline, headlineFailed)
			return nil
		}
		base, variant = d.Base, d.Backtest
	}

	p.fillMetrics(f, base, "")
	p.fillMetrics(f, variant, SuffixBacktest)
	p.set(IDHeadline, Headline(base, variant))
	p.ready()
	return nil
}

func (p *panel) readHandoff(ctx context.Context) (base, variant *Metrics, ok bool) {
	h := p.scope.Handoff
	if h == nil {
		return nil, nil, false
	}
	var b, v Metrics
	okBase, err := h.ReadOnce(ctx, handoff.KeyBaseline, &b)
	if err != nil {
		slog.Warn("handoff read failed", "page", p.scope.PageID, "key", handoff.KeyBaseline, "err", err)
	}
	okVariant, err := h.ReadOnce(ctx, handoff.KeyBacktest, &v)
	if err != nil {
		slog.Warn("handoff read failed", "page", p.scope.PageID, "key", handoff.KeyBacktest, "err", err)
	}
	if !okBase || !okVariant {
		return nil, nil, false
	}
	return &b, &v, true
}

// Headline summarizes the variant against the baseline as profit gained and
// losses avoided, e.g. "+25% de Lucro com −40% de Prejuízos".
func Headline(base, variant *Metrics) string {
	if base == nil || variant == nil {
		return headlineDefault
	}

	lucro, risco := "—", "—"
	if base.LucroFinal != nil && variant.LucroFinal != nil && math.Abs(*base.LucroFinal) > 1e-9 {
		ganho := (*variant.LucroFinal - *base.LucroFinal) / math.Abs(*base.LucroFinal) * 100
		sign := ""
		if ganho >= 0 {
			sign = "+"
		}
		lucro = fmt.Sprintf("%s%.0f%% de Lucro", sign, ganho)
	}
	if base.DrawdownMaximo != nil && variant.DrawdownMaximo != nil {
		ddBase, ddVariant := math.Abs(*base.DrawdownMaximo), math.Abs(*variant.DrawdownMaximo)
		if ddBase > 1e-9 {
			redu := (ddBase - ddVariant) / ddBase * 100
			sign := "+"
			if redu >= 0 {
				sign = "−"
			}
			risco = fmt.Sprintf("%s%.0f%% de Prejuízos", sign, math.Abs(redu))
		}
	}
	return lucro + " com " + risco
}
