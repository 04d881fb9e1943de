package panels

import (
	"context"
	"math"
	"strconv"

	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// Standardization panel element ids.
const (
	IDPadBruto        = "pad_resultado_bruto"
	IDPadLiquido      = "pad_resultado_liquido"
	IDPadTaxas        = "pad_taxas_totais"
	IDPadPctLiquido   = "pad_percentual_liquido"
	IDPadPctTaxas     = "pad_percentual_taxas"
	IDPadBarraLiquido = "barraLiquido"
	IDPadBarraTaxas   = "barraTaxas"
	IDPadGrafico      = "grafico-operacoes"
)

var padronizacaoFields = []string{IDPadBruto, IDPadLiquido, IDPadTaxas, IDPadPctLiquido, IDPadPctTaxas}

// PadronizacaoData is the payload of GET /api/padronizacao.
type PadronizacaoData struct {
	Padronizacao struct {
		Bruto   *float64 `json:"resultado_bruto_padronizado"`
		Liquido *float64 `json:"resultado_liquido_padronizado"`
		Taxas   *float64 `json:"taxas_totais_padronizadas"`
	} `json:"padronizacao"`
	Operacoes []chart.Point `json:"operacoes"`
}

// PadronizacaoModule binds initPadronizacao.
func PadronizacaoModule(m *metrics.Collector) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		p := newPanel("padronizacao", s, m)
		s.Registry.Register("initPadronizacao", p.initPadronizacao)
		return nil
	})
}

func (p *panel) initPadronizacao(ctx context.Context) error {
	f, err := p.formatter()
	if err != nil {
		return err
	}
	c, err := p.chart()
	if err != nil {
		return err
	}
	var d PadronizacaoData
	if err := p.fetch(ctx, "/api/padronizacao", &d); err != nil {
		p.degrade(err, padronizacaoFields...)
		return nil
	}

	pad := d.Padronizacao
	bruto, liquido := deref(pad.Bruto), deref(pad.Liquido)
	taxas := bruto - liquido
	if pad.Taxas != nil {
		taxas = *pad.Taxas
	}

	p.set(IDPadBruto, f.CurrencyPtr(pad.Bruto))
	p.set(IDPadLiquido, f.CurrencyPtr(pad.Liquido))
	p.set(IDPadTaxas, f.Currency(taxas))

	base := math.Abs(bruto)
	pctLiquido, pctTaxas := share(liquido, base), share(taxas, base)
	p.set(IDPadPctLiquido, f.Percent(pctLiquido))
	p.set(IDPadPctTaxas, f.Percent(pctTaxas))
	p.setAttr(IDPadBarraLiquido, "style", barWidth(pctLiquido))
	p.setAttr(IDPadBarraTaxas, "style", barWidth(pctTaxas))

	p.setHTML(IDPadGrafico, c.Bars(IDPadGrafico+"-svg", d.Operacoes))
	p.ready()
	return nil
}

// share returns max(0, v) as a percentage of base.
func share(v, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return math.Max(0, v) / base * 100
}

func barWidth(pct float64) string {
	return "width: " + strconv.FormatFloat(math.Min(100, pct), 'f', 0, 64) + "%"
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
