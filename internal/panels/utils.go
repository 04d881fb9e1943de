package panels

import (
	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/format"
	"github.com/quantpanel/quantpanel/internal/loader"
)

// FormatterModule publishes the page-locale formatter.
func FormatterModule() loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		s.Registry.Provide(CapFormatter, format.New(s.Locale))
		return nil
	})
}

// ChartModule publishes the SVG chart renderer.
func ChartModule(opts chart.Options) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		s.Registry.Provide(CapChart, chart.New(opts))
		return nil
	})
}
