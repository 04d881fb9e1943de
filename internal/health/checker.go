package health

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantpanel/quantpanel/internal/backend"
	"github.com/quantpanel/quantpanel/internal/config"
	"github.com/quantpanel/quantpanel/internal/loader"
	"github.com/quantpanel/quantpanel/internal/metrics"
)

// Status represents the health status of a dependency.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Target names.
const (
	TargetBackend = "backend"
	TargetAssets  = "assets"
)

// Target is one dependency the checker probes.
type Target struct {
	Name  string
	Probe func(ctx context.Context) error
}

// BackendTarget probes the data API health endpoint.
func BackendTarget(c *backend.Client, path string) Target {
	return Target{Name: TargetBackend, Probe: func(ctx context.Context) error {
		return c.Ping(ctx, path)
	}}
}

// AssetTarget probes the module source by fetching one module.
func AssetTarget(src loader.Source, module string) Target {
	return Target{Name: TargetAssets, Probe: func(ctx context.Context) error {
		_, err := src.Fetch(ctx, module)
		return err
	}}
}

// TargetHealth holds health information for a dependency.
type TargetHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic health checks on the backend and asset source.
type Checker struct {
	mu      sync.RWMutex
	targets map[string]*TargetHealth
	list    func() []Target
	metrics *metrics.Collector

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a health checker. targets is called on every round, so
// the probed dependencies follow config reloads.
func NewChecker(targets func() []Target, m *metrics.Collector, hcCfg config.HealthCheckConfig) *Checker {
	return &Checker{
		targets:           make(map[string]*TargetHealth),
		list:              targets,
		metrics:           m,
		interval:          hcCfg.Interval,
		failureThreshold:  hcCfg.FailureThreshold,
		connectionTimeout: hcCfg.ConnectionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.CheckAll(context.Background())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckAll(context.Background())
		case <-c.stopCh:
			return
		}
	}
}

// CheckAll probes every target once, in parallel.
func (c *Checker) CheckAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(4)
	for _, t := range c.list() {
		g.Go(func() error {
			c.check(ctx, t)
			return nil
		})
	}
	g.Wait()
}

func (c *Checker) check(ctx context.Context, t Target) {
	if c.connectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.connectionTimeout)
		defer cancel()
	}

	start := time.Now()
	err := t.Probe(ctx)
	c.metrics.HealthCheckCompleted(t.Name, time.Since(start))
	if err != nil {
		c.metrics.HealthCheckError(t.Name, reason(err))
		c.setLastError(t.Name, err.Error())
	}
	c.updateStatus(t.Name, err == nil)
}

func reason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, loader.ErrModuleNotFound):
		return "not_found"
	case errors.Is(err, backend.ErrSoftFailure):
		return "bad_response"
	default:
		return "unreachable"
	}
}

func (c *Checker) setLastError(name, errMsg string) {
	c.mu.Lock()
	th := c.getOrCreate(name)
	if errMsg != "" {
		th.LastError = errMsg
	}
	c.mu.Unlock()
}

func (c *Checker) updateStatus(name string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	th := c.getOrCreate(name)
	th.LastCheck = time.Now()

	if healthy {
		if th.ConsecutiveFailures > 0 {
			slog.Info("dependency recovered", "target", name, "failures", th.ConsecutiveFailures)
		}
		th.Status = StatusHealthy
		th.ConsecutiveFailures = 0
		th.LastError = ""
	} else {
		th.ConsecutiveFailures++
		if th.ConsecutiveFailures >= c.failureThreshold {
			if th.Status != StatusUnhealthy {
				slog.Warn("dependency marked unhealthy", "target", name, "failures", th.ConsecutiveFailures, "error", th.LastError)
			}
			th.Status = StatusUnhealthy
		}
	}

	c.metrics.SetTargetHealth(name, th.Status == StatusHealthy)
}

func (c *Checker) getOrCreate(name string) *TargetHealth {
	th, ok := c.targets[name]
	if !ok {
		th = &TargetHealth{Status: StatusUnknown}
		c.targets[name] = th
	}
	return th
}

// IsHealthy returns whether a target is healthy (or unknown, which is treated as healthy).
func (c *Checker) IsHealthy(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	th, ok := c.targets[name]
	if !ok {
		return true
	}
	return th.Status != StatusUnhealthy
}

// GetStatus returns the health status for a target.
func (c *Checker) GetStatus(name string) TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	th, ok := c.targets[name]
	if !ok {
		return TargetHealth{Status: StatusUnknown}
	}
	return *th
}

// GetAllStatuses returns health statuses for all probed targets.
func (c *Checker) GetAllStatuses() map[string]TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]TargetHealth, len(c.targets))
	for name, th := range c.targets {
		out[name] = *th
	}
	return out
}

// Names returns the probed target names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.targets))
	for name := range c.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OverallHealthy returns true if no target is unhealthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, th := range c.targets {
		if th.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}
