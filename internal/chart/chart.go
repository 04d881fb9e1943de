// Package chart draws the small SVG charts panels embed in their sections.
package chart

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	svg "github.com/ajstarks/svgo"
)

// Point is one labelled sample of a series.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Options controls chart geometry and colors.
type Options struct {
	Width  int
	Height int
	Stroke string
	Fill   string
	Title  string
}

var defaultOptions = Options{
	Width:  640,
	Height: 220,
	Stroke: "#58a6ff",
	Fill:   "#1f6feb",
}

const pad = 24

// Renderer turns series into inline SVG markup.
type Renderer struct {
	opts Options
}

// New returns a Renderer. Zero-valued fields of opts take the defaults.
func New(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = defaultOptions.Width
	}
	if opts.Height <= 0 {
		opts.Height = defaultOptions.Height
	}
	if opts.Stroke == "" {
		opts.Stroke = defaultOptions.Stroke
	}
	if opts.Fill == "" {
		opts.Fill = defaultOptions.Fill
	}
	return &Renderer{opts: opts}
}

// Line renders the series as a polyline with a zero baseline when the
// series crosses zero.
func (r *Renderer) Line(id string, points []Point) string {
	var buf bytes.Buffer
	canvas := r.start(&buf, id)
	if len(points) == 0 {
		r.empty(canvas)
		canvas.End()
		return trimProlog(buf.String())
	}

	lo, hi := bounds(points)
	w, h := r.opts.Width, r.opts.Height
	xs := make([]int, len(points))
	ys := make([]int, len(points))
	for i, p := range points {
		xs[i] = xAt(i, len(points), w)
		ys[i] = yAt(p.Value, lo, hi, h)
	}

	if lo < 0 && hi > 0 {
		zy := yAt(0, lo, hi, h)
		canvas.Line(pad, zy, w-pad, zy, "stroke:#8b949e;stroke-width:1;stroke-dasharray:4,4")
	}
	canvas.Polyline(xs, ys, fmt.Sprintf("fill:none;stroke:%s;stroke-width:2", r.opts.Stroke))

	last := len(points) - 1
	canvas.Circle(xs[last], ys[last], 3, fmt.Sprintf("fill:%s", r.opts.Stroke))
	canvas.Text(pad, h-4, points[0].Label, "fill:#8b949e;font-size:11px")
	canvas.Text(w-pad, h-4, points[last].Label, "fill:#8b949e;font-size:11px;text-anchor:end")
	canvas.End()
	return trimProlog(buf.String())
}

// Bars renders the series as vertical bars from a zero baseline.
func (r *Renderer) Bars(id string, points []Point) string {
	var buf bytes.Buffer
	canvas := r.start(&buf, id)
	if len(points) == 0 {
		r.empty(canvas)
		canvas.End()
		return trimProlog(buf.String())
	}

	lo, hi := bounds(points)
	lo = math.Min(lo, 0)
	hi = math.Max(hi, 0)
	w, h := r.opts.Width, r.opts.Height
	slot := (w - 2*pad) / len(points)
	if slot < 1 {
		slot = 1
	}
	barW := slot * 3 / 4
	if barW < 1 {
		barW = 1
	}
	zy := yAt(0, lo, hi, h)

	for i, p := range points {
		x := pad + i*slot + (slot-barW)/2
		y := yAt(p.Value, lo, hi, h)
		top, height := y, zy-y
		if height < 0 {
			top, height = zy, -height
		}
		canvas.Rect(x, top, barW, height, fmt.Sprintf("fill:%s", r.opts.Fill))
		if len(points) <= 12 {
			canvas.Text(x+barW/2, h-4, p.Label, "fill:#8b949e;font-size:10px;text-anchor:middle")
		}
	}
	canvas.Line(pad, zy, w-pad, zy, "stroke:#8b949e;stroke-width:1")
	canvas.End()
	return trimProlog(buf.String())
}

func (r *Renderer) start(buf *bytes.Buffer, id string) *svg.SVG {
	canvas := svg.New(buf)
	canvas.Start(r.opts.Width, r.opts.Height, fmt.Sprintf(`id="%s"`, id), `class="chart"`)
	if r.opts.Title != "" {
		canvas.Title(r.opts.Title)
	}
	return canvas
}

func (r *Renderer) empty(canvas *svg.SVG) {
	canvas.Text(r.opts.Width/2, r.opts.Height/2, "sem dados", "fill:#8b949e;font-size:13px;text-anchor:middle")
}

func bounds(points []Point) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	if lo == hi {
		return lo - 1, hi + 1
	}
	return lo, hi
}

func xAt(i, n, w int) int {
	if n <= 1 {
		return w / 2
	}
	return pad + i*(w-2*pad)/(n-1)
}

func yAt(v, lo, hi float64, h int) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = lo
	}
	span := float64(h - 2*pad)
	return h - pad - int(math.Round((v-lo)/(hi-lo)*span))
}

// trimProlog drops the XML declaration svgo emits so the markup can be
// embedded inline in an HTML document.
func trimProlog(s string) string {
	if i := strings.Index(s, "<svg"); i > 0 {
		return s[i:]
	}
	return s
}
