package panels

import (
	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/config"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// Catalog returns every module shipped with quantpanel, keyed by its source
// identifier.
func Catalog(m *metrics.Collector) loader.Catalog {
	return loader.Catalog{
		config.ModuleFormatters:       FormatterModule(),
		config.ModuleCharts:           ChartModule(chart.Options{}),
		config.ModuleCiclos:           CiclosModule(m),
		config.ModuleFluxo:            FluxoModule(m),
		config.ModuleDrawdown:         DrawdownModule(m),
		config.ModulePadronizacao:     PadronizacaoModule(m),
		config.ModuleBacktest:         BacktestModule(m),
		config.ModuleComparativo:      ComparativoModule(m),
		config.ModuleInsights:         InsightsModule(m),
		config.ModuleRecentStrategies: RecentStrategiesModule(m),
	}
}
