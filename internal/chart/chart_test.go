package chart

import (
	"strings"
	"testing"
)

func TestLineRendersInlineSVG(t *testing.T) {
	r := New(Options{})
	out := r.Line("fluxo-svg", []Point{
		{Label: "jan", Value: 100},
		{Label: "fev", Value: -50},
		{Label: "mar", Value: 200},
	})

	if !strings.HasPrefix(out, "<svg") {
		t.Errorf("expected markup to start with <svg, got %.40q", out)
	}
	if !strings.Contains(out, `id="fluxo-svg"`) {
		t.Error("expected chart id attribute")
	}
	if !strings.Contains(out, "<polyline") {
		t.Error("expected a polyline")
	}
	if !strings.Contains(out, "stroke-dasharray") {
		t.Error("expected a zero baseline for a series crossing zero")
	}
	if !strings.Contains(out, "jan") || !strings.Contains(out, "mar") {
		t.Error("expected first and last labels")
	}
}

func TestBars(t *testing.T) {
	r := New(Options{Width: 300, Height: 100})
	out := r.Bars("dist", []Point{{"a", 1}, {"b", 3}, {"c", 2}})

	if got := strings.Count(out, "<rect"); got != 3 {
		t.Errorf("expected 3 bars, got %d", got)
	}
}

func TestEmptySeries(t *testing.T) {
	r := New(Options{})
	if out := r.Line("x", nil); !strings.Contains(out, "sem dados") {
		t.Error("expected empty-state text")
	}
	if out := r.Bars("x", nil); !strings.Contains(out, "sem dados") {
		t.Error("expected empty-state text")
	}
}

func TestBoundsFlatSeries(t *testing.T) {
	lo, hi := bounds([]Point{{"a", 5}, {"b", 5}})
	if lo >= hi {
		t.Errorf("flat series must widen bounds, got [%v, %v]", lo, hi)
	}
}
