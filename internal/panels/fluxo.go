package panels

import (
	"context"

	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// Cash-flow panel element ids.
const (
	IDFluxoDrawdownAtual   = "drawdownAtual"
	IDFluxoDestaque        = "destaqueFluxo"
	IDFluxoPerc25Dividas   = "perc25Dividas"
	IDFluxoMediaDividas    = "mediaDividas"
	IDFluxoDividaAtual     = "dividaAtual"
	IDFluxoValorEmprestado = "valorEmprestado"
	IDFluxoAmortizacao     = "amortizacao"
	IDFluxoLucroGerado     = "lucroGerado"
	IDFluxoGrafico         = "grafico-divida-real-time"
)

var fluxoFields = []string{
	IDFluxoDrawdownAtual, IDFluxoDestaque, IDFluxoPerc25Dividas, IDFluxoMediaDividas,
	IDFluxoDividaAtual, IDFluxoValorEmprestado, IDFluxoAmortizacao, IDFluxoLucroGerado,
}

// FluxoData is the payload of GET /api/fluxo.
type FluxoData struct {
	Variaveis struct {
		DividaAcumulada *float64 `json:"divida_acumulada"`
		Destaque        string   `json:"destaque"`
		Perc25Dividas   *float64 `json:"perc25_das_maximas_dividas"`
		MediaDividas    *float64 `json:"media_das_maximas_dividas"`
		ValorEmprestado *float64 `json:"valor_emprestado"`
		Amortizacao     *float64 `json:"amortizacao"`
		LucroGerado     *float64 `json:"lucro_gerado"`
	} `json:"variaveis_fluxo"`
	Serie []chart.Point `json:"serie"`
}

// FluxoModule binds initFluxo.
func FluxoModule(m *metrics.Collector) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		p := newPanel("fluxo", s, m)
		s.Registry.Register("initFluxo", p.initFluxo)
		return nil
	})
}

func (p *panel) initFluxo(ctx context.Context) error {
	f, err := p.formatter()
	if err != nil {
		return err
	}
	c, err := p.chart()
	if err != nil {
		return err
	}
	var d FluxoData
	if err := p.fetch(ctx, "/api/fluxo", &d); err != nil {
		p.degrade(err, fluxoFields...)
		return nil
	}
	v := d.Variaveis
	p.set(IDFluxoDrawdownAtual, f.CurrencyPtr(v.DividaAcumulada))
	p.set(IDFluxoDestaque, text(v.Destaque))
	p.set(IDFluxoPerc25Dividas, f.CurrencyPtr(v.Perc25Dividas))
	p.set(IDFluxoMediaDividas, f.CurrencyPtr(v.MediaDividas))
	p.set(IDFluxoDividaAtual, f.CurrencyPtr(v.DividaAcumulada))
	p.set(IDFluxoValorEmprestado, f.CurrencyPtr(v.ValorEmprestado))
	p.set(IDFluxoAmortizacao, f.CurrencyPtr(v.Amortizacao))
	p.set(IDFluxoLucroGerado, f.CurrencyPtr(v.LucroGerado))
	p.setHTML(IDFluxoGrafico, c.Line(IDFluxoGrafico+"-svg", d.Serie))
	p.ready()
	return nil
}
