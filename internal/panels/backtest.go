package panels

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/format"
	"github.com/quantpanel/quantpanel/internal/handoff"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// Backtest panel element ids. Metric fields are suffixed with
// SuffixBacktest for the variant column.
const (
	IDTotalOperacoes       = "total_operacoes"
	IDOperacoesNegativas   = "operacoes_negativas"
	IDOperacoesAmortizacao = "operacoes_amortizacao"
	IDOperacoesLucro       = "operacoes_lucro"
	IDLucroFinal           = "lucro_final"
	IDDrawdownMaximoMetric = "drawdown_maximo"
	IDMaiorLucroAcumulado  = "maior_lucro_acumulado"
	IDResumoCiclo          = "resumo_ciclo"
	IDBacktestGrafico      = "grafico-backtest"
	IDEncerrarCiclo        = "encerrar_ciclo"

	SuffixBacktest = "_backtest"
)

var metricFields = []string{
	IDTotalOperacoes, IDOperacoesNegativas, IDOperacoesAmortizacao, IDOperacoesLucro,
	IDLucroFinal, IDDrawdownMaximoMetric, IDMaiorLucroAcumulado,
}

// Metrics summarizes one run of a strategy. It is also the handoff record
// the backtest page leaves for the comparison page.
type Metrics struct {
	TotalOperacoes       *float64 `json:"total_operacoes"`
	OperacoesNegativas   *float64 `json:"operacoes_negativas"`
	OperacoesAmortizacao *float64 `json:"operacoes_amortizacao"`
	OperacoesLucro       *float64 `json:"operacoes_lucro"`
	LucroFinal           *float64 `json:"lucro_final"`
	DrawdownMaximo       *float64 `json:"drawdown_maximo"`
	MaiorLucroAcumulado  *float64 `json:"maior_lucro_acumulado"`
}

// BacktestParams are the automation thresholds of the backtest form.
type BacktestParams struct {
	AtivacaoPercentual    *float64 `json:"ativacao_percentual"`
	AtivacaoBase          string   `json:"ativacao_base"`
	ComparadorAtivacao    string   `json:"comparador_ativacao"`
	PausaPercentual       *float64 `json:"pausa_percentual"`
	PausaBase             string   `json:"pausa_base"`
	ComparadorPausa       string   `json:"comparador_pausa"`
	DesativacaoPercentual *float64 `json:"desativacao_percentual"`
	DesativacaoBase       string   `json:"desativacao_base"`
	ComparadorDesativacao string   `json:"comparador_desativacao"`
	EncerrarAoFimDoCiclo  bool     `json:"encerrar_ao_fim_do_ciclo"`
}

// BacktestData is the payload of GET /api/backtest/params. The metric
// blocks are present once a backtest has been computed.
type BacktestData struct {
	Params      BacktestParams `json:"params"`
	Original    *Metrics       `json:"metricas_original"`
	Backtest    *Metrics       `json:"metricas_backtest"`
	ResumoCiclo string         `json:"resumo_ciclo"`
	Curva       []chart.Point  `json:"curva"`
}

// BacktestModule binds initBacktest.
func BacktestModule(m *metrics.Collector) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		p := newPanel("backtest", s, m)
		s.Registry.Register("initBacktest", p.initBacktest)
		return nil
	})
}

func (p *panel) initBacktest(ctx context.Context) error {
	c, err := p.chart()
	if err != nil {
		return err
	}
	// The backtest page does not load the formatter utility.
	f := p.formatterOrLocal()

	var d BacktestData
	if err := p.fetch(ctx, "/api/backtest/params", &d); err != nil {
		p.degrade(err, allMetricIDs()...)
		return nil
	}

	p.fillParams(d.Params)
	if d.Original == nil || d.Backtest == nil {
		p.ready()
		return nil
	}

	p.fillMetrics(f, d.Original, "")
	p.fillMetrics(f, d.Backtest, SuffixBacktest)
	p.set(IDResumoCiclo, d.ResumoCiclo)
	p.setHTML(IDBacktestGrafico, c.Line(IDBacktestGrafico+"-svg", d.Curva))

	if h := p.scope.Handoff; h != nil {
		if err := h.WritePair(ctx, handoff.KeyBaseline, d.Original, handoff.KeyBacktest, d.Backtest); err != nil {
			slog.Warn("backtest handoff not written", "page", p.scope.PageID, "err", err)
		}
	}
	p.ready()
	return nil
}

func (p *panel) fillParams(bp BacktestParams) {
	values := map[string]string{
		"ativacao_percentual":    floatValue(bp.AtivacaoPercentual),
		"ativacao_base":          bp.AtivacaoBase,
		"comparador_ativacao":    bp.ComparadorAtivacao,
		"pausa_percentual":       floatValue(bp.PausaPercentual),
		"pausa_base":             bp.PausaBase,
		"comparador_pausa":       bp.ComparadorPausa,
		"desativacao_percentual": floatValue(bp.DesativacaoPercentual),
		"desativacao_base":       bp.DesativacaoBase,
		"comparador_desativacao": bp.ComparadorDesativacao,
	}
	for id, v := range values {
		p.setAttr(id, "value", v)
	}
	if bp.EncerrarAoFimDoCiclo {
		p.setAttr(IDEncerrarCiclo, "checked", "checked")
	}
}

// fillMetrics renders m into the metric fields carrying suffix.
func (p *panel) fillMetrics(f *format.Formatter, m *Metrics, suffix string) {
	if m == nil {
		for _, id := range metricFields {
			p.set(id+suffix, format.Placeholder)
		}
		return
	}
	p.set(IDTotalOperacoes+suffix, f.IntegerPtr(m.TotalOperacoes))
	p.set(IDOperacoesNegativas+suffix, f.IntegerPtr(m.OperacoesNegativas))
	p.set(IDOperacoesAmortizacao+suffix, f.IntegerPtr(m.OperacoesAmortizacao))
	p.set(IDOperacoesLucro+suffix, f.IntegerPtr(m.OperacoesLucro))
	p.set(IDLucroFinal+suffix, f.CurrencyPtr(m.LucroFinal))
	p.set(IDDrawdownMaximoMetric+suffix, f.CurrencyPtr(m.DrawdownMaximo))
	p.set(IDMaiorLucroAcumulado+suffix, f.CurrencyPtr(m.MaiorLucroAcumulado))
}

// allMetricIDs returns the metric fields of both columns.
func allMetricIDs() []string {
	out := make([]string, 0, 2*len(metricFields))
	for _, id := range metricFields {
		out = append(out, id, id+SuffixBacktest)
	}
	return out
}

func floatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
