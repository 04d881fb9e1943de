package config

// DefaultAssetBase is the public assets root module identifiers resolve against.
const DefaultAssetBase = "/static/js/"

// Module source identifiers shipped with quantpanel.
const (
	ModuleFormatters       = "utils/formatters.js"
	ModuleCharts           = "utils/charts.js"
	ModuleCiclos           = "panels/ciclos.js"
	ModuleFluxo            = "panels/fluxo.js"
	ModuleDrawdown         = "panels/drawdown.js"
	ModulePadronizacao     = "panels/padronizacao.js"
	ModuleBacktest         = "panels/backtest.js"
	ModuleInsights         = "panels/insights.js"
	ModuleComparativo      = "panels/comparativo.js"
	ModuleRecentStrategies = "panels/recent-strategies.js"
)

// DefaultRoutes returns the built-in ModuleRoute/InitSequence table.
func DefaultRoutes() map[string]RouteConfig {
	return map[string]RouteConfig{
		"dashboard": {
			// Drawdown and padronizacao are overlay sections of the dashboard:
			// loaded up front, initialized when their overlay opens.
			Modules: []string{
				ModuleFormatters, ModuleCharts, ModuleCiclos, ModuleFluxo,
				ModuleDrawdown, ModulePadronizacao, ModuleInsights, ModuleRecentStrategies,
			},
			Init: []string{"initCiclos", "initFluxo"},
		},
		"upload": {},
		"analise-drawdown": {
			Modules: []string{ModuleFormatters, ModuleCharts, ModuleDrawdown},
			Init:    []string{"initDrawdown"},
		},
		"padronizacao": {
			Modules: []string{ModuleFormatters, ModuleCharts, ModulePadronizacao},
			Init:    []string{"initPadronizacao"},
		},
		"parametrizacao-backtest": {
			Modules: []string{ModuleCharts, ModuleBacktest},
			Init:    []string{"initBacktest"},
		},
		"comparativo": {
			Modules: []string{ModuleFormatters, ModuleComparativo},
			Init:    []string{"initComparativo"},
		},
		"insights": {
			Modules: []string{ModuleFormatters, ModuleInsights},
		},
	}
}

// DefaultLegacyRoutes returns the path-substring rules used when a page
// carries no usable identity. Several rules may match the same path.
func DefaultLegacyRoutes() []LegacyRouteConfig {
	return []LegacyRouteConfig{
		{
			Match:   "padronizacao",
			Modules: []string{ModuleFormatters, ModuleCharts, ModulePadronizacao},
			Init:    []string{"initPadronizacao"},
		},
		{
			Match:   "drawdown",
			Modules: []string{ModuleFormatters, ModuleCharts, ModuleDrawdown},
			Init:    []string{"initDrawdown"},
		},
		{
			Match:   "backtest",
			Modules: []string{ModuleCharts, ModuleBacktest},
			Init:    []string{"initBacktest"},
		},
		{
			Match:   "comparativo",
			Modules: []string{ModuleFormatters, ModuleComparativo},
			Init:    []string{"initComparativo"},
		},
		{
			Match:   "fluxo",
			Modules: []string{ModuleFormatters, ModuleCharts, ModuleFluxo},
			Init:    []string{"initFluxo"},
		},
	}
}

// DefaultOverlayAliases returns the fixed alias surface of the overlay layer.
func DefaultOverlayAliases() map[string]string {
	return map[string]string{
		"dashboard":              "",
		"inicio":                 "",
		"pagina-dashboard":       "",
		"pagina-ciclos":          "ciclos",
		"pagina-fluxo":           "fluxo",
		"pagina-drawdown":        "drawdown",
		"pagina-padronizacao":    "padronizacao",
		"pagina-prepadronizacao": "prepadronizacao",
		"pagina-backtest":        "backtest",
		"pagina-insights":        "insights",
		"pagina-comparativo":     "comparativo",
		"pagina-upload":          "upload",
		"pagina-modelos":         "estrategia",
		"pagina-exportacoes":     "exportacoes",
	}
}

// DefaultOverlayRefresh returns the initializers re-run when a section opens.
func DefaultOverlayRefresh() map[string][]string {
	return map[string][]string{
		"ciclos":       {"initCiclos"},
		"fluxo":        {"initFluxo"},
		"drawdown":     {"initDrawdown"},
		"padronizacao": {"initPadronizacao"},
		"backtest":     {"initBacktest"},
		"insights":     {"initInsights", "initRecentStrategies"},
		"comparativo":  {"initComparativo"},
	}
}

// DefaultPages maps URL paths to the identity stamped on the page root.
func DefaultPages() map[string]string {
	return map[string]string{
		"/":                        "dashboard",
		"/dashboard":               "dashboard",
		"/upload":                  "upload",
		"/analise-drawdown":        "analise-drawdown",
		"/padronizacao":            "padronizacao",
		"/parametrizacao-backtest": "parametrizacao-backtest",
		"/comparativo":             "comparativo",
		"/insights":                "insights",
	}
}
