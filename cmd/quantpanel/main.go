package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantpanel/quantpanel/internal/api"
	"github.com/quantpanel/quantpanel/internal/config"
	"github.com/quantpanel/quantpanel/internal/handoff"
	"github.com/quantpanel/quantpanel/internal/health"
	"github.com/quantpanel/quantpanel/internal/metrics"
	"github.com/quantpanel/quantpanel/internal/page"
	"github.com/quantpanel/quantpanel/internal/panels"
	"github.com/quantpanel/quantpanel/internal/router"
	"github.com/quantpanel/quantpanel/web"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/quantpanel.yaml", "path to configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		slog.Error("invalid log level", "level", *logLevel, "err", err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("QuantPanel starting...")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "path", *configPath,
		"routes", len(cfg.Routes), "legacy_routes", len(cfg.LegacyRoutes), "pages", len(cfg.Pages))

	store, err := openHandoff(cfg.Handoff)
	if err != nil {
		slog.Error("failed to open handoff store", "store", cfg.Handoff.Store, "err", err)
		os.Exit(1)
	}

	// Initialize components
	m := metrics.New()
	r := router.New(cfg, m)
	pm, err := page.NewManager(cfg, page.Options{
		Router:  r,
		Catalog: panels.Catalog(m),
		Handoff: store,
		Metrics: m,
		Assets:  web.Modules(),
	})
	if err != nil {
		slog.Error("failed to build page manager", "err", err)
		os.Exit(1)
	}
	hc := health.NewChecker(func() []health.Target {
		c := pm.Config()
		return []health.Target{
			health.BackendTarget(pm.Backend(), c.Backend.HealthPath),
			health.AssetTarget(pm.Source(), config.ModuleFormatters),
		}
	}, m, cfg.HealthCheck)

	// Start background loops
	hc.Start()
	pm.Start()

	// Start HTTP server
	server := api.NewServer(pm, hc, m, store, web.Static(), cfg.Listen)
	if err := server.Start(); err != nil {
		slog.Error("failed to start HTTP server", "err", err)
		os.Exit(1)
	}

	// Set up config hot-reload
	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		slog.Info("reloading configuration...")
		r.Reload(newCfg)
		pm.SetConfig(newCfg)
	})
	if err != nil {
		slog.Warn("config hot-reload not available", "err", err)
	}

	slog.Info("QuantPanel ready",
		"bind", cfg.Listen.Bind,
		"port", cfg.Listen.Port,
		"backend", cfg.Backend.BaseURL,
		"assets", cfg.Assets.BasePrefix)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down...", "signal", sig)

	// Graceful shutdown with timeout
	done := make(chan struct{})
	go func() {
		if configWatcher != nil {
			configWatcher.Stop()
		}
		server.Stop()
		hc.Stop()
		pm.Stop()
		store.Close()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("QuantPanel stopped")
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
		os.Exit(1)
	}
}

func openHandoff(hc config.HandoffConfig) (handoff.Store, error) {
	if hc.Store == "sqlite" {
		s, err := handoff.OpenSQLite(hc.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return handoff.NewMemoryStore(), nil
}
