package panels

import (
	"context"

	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// Cycle panel element ids.
const (
	IDCicloDuracaoAtual = "duracaoAtual"
	IDCicloMaximo       = "maximoCiclo"
	IDCicloMaxDuracao   = "maximaDuracao"
	IDCicloMediaDuracao = "mediaDuracao"
	IDCicloP75Duracao   = "percentil75Duracao"
)

var ciclosFields = []string{IDCicloDuracaoAtual, IDCicloMaximo, IDCicloMaxDuracao, IDCicloMediaDuracao, IDCicloP75Duracao}

// CiclosData is the payload of GET /api/ciclos.
type CiclosData struct {
	UltimoCiclo struct {
		Duracao      string   `json:"duracao"`
		MaximaDivida *float64 `json:"maxima_divida"`
	} `json:"ultimo_ciclo"`
	Duracao struct {
		Maxima      string `json:"maxima"`
		Media       string `json:"media"`
		Percentil75 string `json:"percentil_75"`
	} `json:"estatisticas_duracao"`
}

// CiclosModule binds initCiclos.
func CiclosModule(m *metrics.Collector) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		p := newPanel("ciclos", s, m)
		s.Registry.Register("initCiclos", p.initCiclos)
		return nil
	})
}

func (p *panel) initCiclos(ctx context.Context) error {
	f, err := p.formatter()
	if err != nil {
		return err
	}
	var d CiclosData
	if err := p.fetch(ctx, "/api/ciclos", &d); err != nil {
		p.degrade(err, ciclosFields...)
		return nil
	}
	p.set(IDCicloDuracaoAtual, text(d.UltimoCiclo.Duracao))
	p.set(IDCicloMaximo, f.CurrencyPtr(d.UltimoCiclo.MaximaDivida))
	p.set(IDCicloMaxDuracao, text(d.Duracao.Maxima))
	p.set(IDCicloMediaDuracao, text(d.Duracao.Media))
	p.set(IDCicloP75Duracao, text(d.Duracao.Percentil75))
	p.ready()
	return nil
}
