package panels

import (
	"context"

	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// Drawdown panel element ids.
const (
	IDDrawdownMaximo     = "drawdownMaximo"
	IDDrawdownPercentual = "drawdownPercentual"
	IDDrawdownCorrente   = "drawdownCorrente"
	IDDrawdownCiclos     = "drawdownCiclos"
	IDDrawdownGrafico    = "grafico-ciclos-drawdown"
)

var drawdownFields = []string{IDDrawdownMaximo, IDDrawdownPercentual, IDDrawdownCorrente, IDDrawdownCiclos}

// DrawdownData is the payload of GET /api/drawdown.
type DrawdownData struct {
	Maximo     *float64      `json:"maximo"`
	Percentual *float64      `json:"percentual_maximo"`
	Atual      *float64      `json:"atual"`
	Ciclos     *float64      `json:"ciclos"`
	Serie      []chart.Point `json:"serie"`
}

// DrawdownModule binds initDrawdown.
func DrawdownModule(m *metrics.Collector) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		p := newPanel("drawdown", s, m)
		s.Registry.Register("initDrawdown", p.initDrawdown)
		return nil
	})
}

func (p *panel) initDrawdown(ctx context.Context) error {
	f, err := p.formatter()
	if err != nil {
		return err
	}
	c, err := p.chart()
	if err != nil {
		return err
	}
	var d DrawdownData
	if err := p.fetch(ctx, "/api/drawdown", &d); err != nil {
		p.degrade(err, drawdownFields...)
		return nil
	}
	p.set(IDDrawdownMaximo, f.CurrencyPtr(d.Maximo))
	p.set(IDDrawdownPercentual, f.PercentPtr(d.Percentual))
	p.set(IDDrawdownCorrente, f.CurrencyPtr(d.Atual))
	p.set(IDDrawdownCiclos, f.IntegerPtr(d.Ciclos))
	p.setHTML(IDDrawdownGrafico, c.Bars(IDDrawdownGrafico+"-svg", d.Serie))
	p.ready()
	return nil
}
