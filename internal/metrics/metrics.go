package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector holds all Prometheus metrics for quantpanel. A nil *Collector
// is valid and records nothing.
type Collector struct {
	Registry *prometheus.Registry

	moduleLoads         *prometheus.CounterVec
	moduleLoadDuration  *prometheus.HistogramVec
	initializerRuns     *prometheus.CounterVec
	bootDuration        *prometheus.HistogramVec
	readinessFired      *prometheus.CounterVec
	pageLoadsActive     prometheus.Gauge
	overlayTransitions  *prometheus.CounterVec
	handoffReads        *prometheus.CounterVec
	panelFetchFailures  *prometheus.CounterVec
	targetHealth        *prometheus.GaugeVec
	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec
}

// New creates all metrics and registers them on a fresh registry together
// with the Go runtime and process collectors.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		moduleLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpanel_module_loads_total",
				Help: "Settled module loads by module and status",
			},
			[]string{"module", "status"},
		),
		moduleLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantpanel_module_load_duration_seconds",
				Help:    "Time to fetch and register a module",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"module"},
		),
		initializerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpanel_initializer_runs_total",
				Help: "Initializer invocations by name, outcome and trigger (boot or overlay)",
			},
			[]string{"initializer", "outcome", "trigger"},
		),
		bootDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantpanel_boot_duration_seconds",
				Help:    "Time from boot start until the readiness signal fired",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"page"},
		),
		readinessFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpanel_readiness_fired_total",
				Help: "Readiness signals fired per page identity",
			},
			[]string{"page"},
		),
		pageLoadsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quantpanel_page_loads_active",
				Help: "Page loads currently kept for overlay interaction",
			},
		),
		overlayTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpanel_overlay_transitions_total",
				Help: "Overlay transitions by section and action (open, switch, close, noop)",
			},
			[]string{"section", "action"},
		),
		handoffReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpanel_handoff_reads_total",
				Help: "Handoff reads by key and result (hit or miss)",
			},
			[]string{"key", "result"},
		),
		panelFetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpanel_panel_fetch_failures_total",
				Help: "Backend fetches a panel degraded on",
			},
			[]string{"panel"},
		),
		targetHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantpanel_target_health",
				Help: "Health of a probed dependency (1=healthy, 0=unhealthy)",
			},
			[]string{"target"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantpanel_health_check_duration_seconds",
				Help:    "Duration of dependency probes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"target"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpanel_health_check_errors_total",
				Help: "Failed dependency probes by reason",
			},
			[]string{"target", "reason"},
		),
	}

	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.moduleLoads,
		c.moduleLoadDuration,
		c.initializerRuns,
		c.bootDuration,
		c.readinessFired,
		c.pageLoadsActive,
		c.overlayTransitions,
		c.handoffReads,
		c.panelFetchFailures,
		c.targetHealth,
		c.healthCheckDuration,
		c.healthCheckErrors,
	)

	return c
}

// ModuleLoaded records a settled module load.
func (c *Collector) ModuleLoaded(module, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.moduleLoads.WithLabelValues(module, status).Inc()
	c.moduleLoadDuration.WithLabelValues(module).Observe(d.Seconds())
}

// InitializerRan records an initializer invocation.
func (c *Collector) InitializerRan(name, outcome, trigger string) {
	if c == nil {
		return
	}
	c.initializerRuns.WithLabelValues(name, outcome, trigger).Inc()
}

// BootCompleted records a finished boot and its readiness broadcast.
func (c *Collector) BootCompleted(page string, d time.Duration) {
	if c == nil {
		return
	}
	if page == "" {
		page = "unknown"
	}
	c.bootDuration.WithLabelValues(page).Observe(d.Seconds())
	c.readinessFired.WithLabelValues(page).Inc()
}

// SetPageLoads sets the number of live page loads.
func (c *Collector) SetPageLoads(n int) {
	if c == nil {
		return
	}
	c.pageLoadsActive.Set(float64(n))
}

// OverlayTransition records an overlay state change.
func (c *Collector) OverlayTransition(section, action string) {
	if c == nil {
		return
	}
	if section == "" {
		section = "none"
	}
	c.overlayTransitions.WithLabelValues(section, action).Inc()
}

// HandoffRead records a handoff read.
func (c *Collector) HandoffRead(key string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.handoffReads.WithLabelValues(key, result).Inc()
}

// PanelFetchFailed records a degraded panel fetch.
func (c *Collector) PanelFetchFailed(panel string) {
	if c == nil {
		return
	}
	c.panelFetchFailures.WithLabelValues(panel).Inc()
}

// SetTargetHealth sets the health gauge for a probed dependency.
func (c *Collector) SetTargetHealth(target string, healthy bool) {
	if c == nil {
		return
	}
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.targetHealth.WithLabelValues(target).Set(val)
}

// HealthCheckCompleted observes a probe duration.
func (c *Collector) HealthCheckCompleted(target string, d time.Duration) {
	if c == nil {
		return
	}
	c.healthCheckDuration.WithLabelValues(target).Observe(d.Seconds())
}

// HealthCheckError counts a failed probe.
func (c *Collector) HealthCheckError(target, reason string) {
	if c == nil {
		return
	}
	c.healthCheckErrors.WithLabelValues(target, reason).Inc()
}
