package panels

import (
	"bytes"
	"context"
	"html/template"
	"strconv"
	"time"

	"github.com/quantpanel/quantpanel/internal/chart"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// Insight and recent-strategy element ids.
const (
	IDInsightsList    = "insights-list"
	IDInsightsUpdated = "insights-updated"
	IDRecentGrid      = "recent-strategies"
	IDRecentEmpty     = "recent-empty"
)

const recentLimit = 6

// Insight is one line of GET /api/insights.
type Insight struct {
	Texto      string `json:"texto"`
	Severidade string `json:"severidade"`
}

// InsightsData is the payload of GET /api/insights.
type InsightsData struct {
	Insights []Insight `json:"insights"`
}

// Strategy is one card of GET /api/strategies/recent.
type Strategy struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Ativo     string    `json:"ativo"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Spark     []float64 `json:"spark"`
}

// RecentData is the payload of GET /api/strategies/recent.
type RecentData struct {
	Items []Strategy `json:"items"`
}

var insightsTmpl = template.Must(template.New("insights").Parse(
	`{{range .}}<li class="insight insight-{{.Level}}">{{.Icon}} {{.Texto}}</li>{{else}}<li class="insight insight-empty">Nenhum insight disponível.</li>{{end}}`))

var recentTmpl = template.Must(template.New("recent").Parse(
	`{{range .}}<div class="if-card" id="strategy-{{.ID}}">` +
		`<div class="if-card-head"><h3 title="{{.Title}}">{{.Title}}</h3><span class="if-badge">{{.Status}}</span></div>` +
		`<div class="if-meta">Ativo: <strong>{{.Ativo}}</strong>{{if .Created}} · {{.Created}}{{end}}</div>` +
		`<div class="if-chart">{{.Spark}}</div>` +
		`</div>{{end}}`))

type insightView struct {
	Texto string
	Level string
	Icon  string
}

type strategyView struct {
	ID      string
	Title   string
	Ativo   string
	Status  string
	Created string
	Spark   template.HTML
}

// InsightsModule binds initInsights and starts the panel once the page is
// ready.
func InsightsModule(m *metrics.Collector) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		p := newPanel("insights", s, m)
		s.Registry.Register("initInsights", p.initInsights)
		if s.Ready != nil {
			s.Ready.On("insights", p.initInsights)
		}
		return nil
	})
}

// RecentStrategiesModule binds initRecentStrategies and starts the panel
// once the page is ready.
func RecentStrategiesModule(m *metrics.Collector) loader.Module {
	return loader.ModuleFunc(func(s *loader.Scope) error {
		p := newPanel("recent-strategies", s, m)
		s.Registry.Register("initRecentStrategies", p.initRecentStrategies)
		if s.Ready != nil {
			s.Ready.On("recent-strategies", p.initRecentStrategies)
		}
		return nil
	})
}

func (p *panel) initInsights(ctx context.Context) error {
	if !p.scope.Doc.Has(IDInsightsList) {
		return nil
	}
	var d InsightsData
	if err := p.fetch(ctx, "/api/insights", &d); err != nil {
		p.degrade(err)
		d.Insights = nil
	} else {
		p.ready()
	}

	views := make([]insightView, 0, len(d.Insights))
	for _, in := range d.Insights {
		level, icon := severity(in.Severidade)
		views = append(views, insightView{Texto: in.Texto, Level: level, Icon: icon})
	}
	var buf bytes.Buffer
	if err := insightsTmpl.Execute(&buf, views); err != nil {
		return err
	}
	p.setHTML(IDInsightsList, buf.String())
	p.set(IDInsightsUpdated, time.Now().Format("02/01/2006 15:04"))
	return nil
}

func (p *panel) initRecentStrategies(ctx context.Context) error {
	if !p.scope.Doc.Has(IDRecentGrid) {
		return nil
	}
	var d RecentData
	if err := p.fetch(ctx, "/api/strategies/recent?limit="+strconv.Itoa(recentLimit), &d); err != nil {
		p.degrade(err)
		d.Items = nil
	}
	if len(d.Items) > recentLimit {
		d.Items = d.Items[:recentLimit]
	}
	if len(d.Items) == 0 {
		p.setHTML(IDRecentGrid, "")
		p.guard(IDRecentEmpty, p.scope.Doc.RemoveClass(IDRecentEmpty, "hidden"))
		return nil
	}

	// Sparklines are optional: cards render without them when the page did
	// not load the chart utility.
	c, _ := p.chart()
	views := make([]strategyView, 0, len(d.Items))
	for i, s := range d.Items {
		v := strategyView{
			ID:     s.ID,
			Title:  s.Title,
			Ativo:  text(s.Ativo),
			Status: s.Status,
		}
		if v.ID == "" {
			v.ID = "d" + strconv.Itoa(i)
		}
		if v.Title == "" {
			v.Title = "Estratégia"
		}
		if v.Status == "" {
			v.Status = "draft"
		}
		if !s.CreatedAt.IsZero() {
			v.Created = s.CreatedAt.Format("02/01/2006")
		}
		if c != nil && len(s.Spark) > 0 {
			v.Spark = template.HTML(c.Line("dspark_"+v.ID, sparkPoints(s.Spark)))
		}
		views = append(views, v)
	}

	var buf bytes.Buffer
	if err := recentTmpl.Execute(&buf, views); err != nil {
		return err
	}
	p.setHTML(IDRecentGrid, buf.String())
	p.guard(IDRecentEmpty, p.scope.Doc.AddClass(IDRecentEmpty, "hidden"))
	p.ready()
	return nil
}

func severity(s string) (level, icon string) {
	switch s {
	case "alta", "high", "critica":
		return "high", "⚠️"
	case "media", "medium":
		return "medium", "🔶"
	case "positivo", "positive":
		return "positive", "✅"
	default:
		return "info", "💡"
	}
}

func sparkPoints(values []float64) []chart.Point {
	pts := make([]chart.Point, len(values))
	for i, v := range values {
		pts[i] = chart.Point{Label: strconv.Itoa(i), Value: v}
	}
	return pts
}
