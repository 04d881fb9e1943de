package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for quantpanel.
type Config struct {
	Listen       ListenConfig           `yaml:"listen"`
	Assets       AssetsConfig           `yaml:"assets"`
	Backend      BackendConfig          `yaml:"backend"`
	Page         PageConfig             `yaml:"page"`
	Handoff      HandoffConfig          `yaml:"handoff"`
	HealthCheck  HealthCheckConfig      `yaml:"health_check"`
	Routes       map[string]RouteConfig `yaml:"routes"`
	LegacyRoutes []LegacyRouteConfig    `yaml:"legacy_routes"`
	Overlay      OverlayConfig          `yaml:"overlay"`
	Pages        map[string]string      `yaml:"pages"`
}

// ListenConfig defines the HTTP listener.
type ListenConfig struct {
	Port         int    `yaml:"port"`
	Bind         string `yaml:"bind"`
	APIKey       string `yaml:"api_key"`
	APIKeyBcrypt string `yaml:"api_key_bcrypt"`
	TLSCert      string `yaml:"tls_cert"`
	TLSKey       string `yaml:"tls_key"`
}

// AssetsConfig controls where module sources are resolved from.
//
// BasePrefix is either a path prefix served by quantpanel itself (modules are
// read from Dir, or from the embedded assets when Dir is empty) or an absolute
// http(s) URL, in which case modules are fetched over the network.
type AssetsConfig struct {
	BasePrefix string `yaml:"base_prefix"`
	Dir        string `yaml:"dir"`
}

// BackendConfig points panels at the data API.
type BackendConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	HealthPath string        `yaml:"health_path"`
}

// PageConfig controls page loads.
type PageConfig struct {
	RootID              string        `yaml:"root_id"`
	Attribute           string        `yaml:"attribute"`
	TTL                 time.Duration `yaml:"ttl"`
	MaxLoads            int           `yaml:"max_loads"`
	ListenerConcurrency int           `yaml:"listener_concurrency"`
	Locale              string        `yaml:"locale"`
}

// HandoffConfig selects the cross-page handoff store.
type HandoffConfig struct {
	Store string        `yaml:"store"`
	Path  string        `yaml:"path"`
	TTL   time.Duration `yaml:"ttl"`
}

// HealthCheckConfig controls periodic probes of the backend and asset source.
type HealthCheckConfig struct {
	Interval          time.Duration `yaml:"interval"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// RouteConfig is the ModuleRoute and InitSequence of one page identity.
type RouteConfig struct {
	Modules []string `yaml:"modules"`
	Init    []string `yaml:"init"`
}

// LegacyRouteConfig maps a URL path substring to the modules it implies when
// a page carries no usable identity.
type LegacyRouteConfig struct {
	Match   string   `yaml:"match"`
	Modules []string `yaml:"modules"`
	Init    []string `yaml:"init"`
}

// OverlayConfig is the alias surface of the overlay layer.
//
// An alias mapped to the empty string is the home alias and closes the overlay.
type OverlayConfig struct {
	Aliases map[string]string   `yaml:"aliases"`
	Refresh map[string][]string `yaml:"refresh"`
}

// TLSEnabled returns true if both TLS cert and key paths are configured.
func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

// Remote reports whether module sources are fetched from another origin.
func (ac AssetsConfig) Remote() bool {
	return strings.HasPrefix(ac.BasePrefix, "http://") || strings.HasPrefix(ac.BasePrefix, "https://")
}

// Redacted returns a copy of the listen config with secrets masked.
func (lc ListenConfig) Redacted() ListenConfig {
	c := lc
	if c.APIKey != "" {
		c.APIKey = "***REDACTED***"
	}
	if c.APIKeyBcrypt != "" {
		c.APIKeyBcrypt = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, validates it and applies defaults.
func Parse(data []byte) (*Config, error) {
	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8080
	}
	if cfg.Listen.Bind == "" {
		cfg.Listen.Bind = "127.0.0.1"
	}
	if cfg.Assets.BasePrefix == "" {
		cfg.Assets.BasePrefix = DefaultAssetBase
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://127.0.0.1:5000"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 15 * time.Second
	}
	if cfg.Backend.HealthPath == "" {
		cfg.Backend.HealthPath = "/api/health"
	}
	if cfg.Page.RootID == "" {
		cfg.Page.RootID = "app"
	}
	if cfg.Page.Attribute == "" {
		cfg.Page.Attribute = "data-page"
	}
	if cfg.Page.TTL == 0 {
		cfg.Page.TTL = 10 * time.Minute
	}
	if cfg.Page.MaxLoads == 0 {
		cfg.Page.MaxLoads = 1000
	}
	if cfg.Page.ListenerConcurrency == 0 {
		cfg.Page.ListenerConcurrency = 4
	}
	if cfg.Page.Locale == "" {
		cfg.Page.Locale = "pt-BR"
	}
	if cfg.Handoff.Store == "" {
		cfg.Handoff.Store = "memory"
	}
	if cfg.Handoff.Path == "" {
		cfg.Handoff.Path = "quantpanel-handoff.db"
	}
	if cfg.Handoff.TTL == 0 {
		cfg.Handoff.TTL = 30 * time.Minute
	}
	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = 30 * time.Second
	}
	if cfg.HealthCheck.FailureThreshold == 0 {
		cfg.HealthCheck.FailureThreshold = 3
	}
	if cfg.HealthCheck.ConnectionTimeout == 0 {
		cfg.HealthCheck.ConnectionTimeout = 5 * time.Second
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = DefaultRoutes()
	}
	if cfg.LegacyRoutes == nil {
		cfg.LegacyRoutes = DefaultLegacyRoutes()
	}
	if len(cfg.Overlay.Aliases) == 0 {
		cfg.Overlay.Aliases = DefaultOverlayAliases()
	}
	if len(cfg.Overlay.Refresh) == 0 {
		cfg.Overlay.Refresh = DefaultOverlayRefresh()
	}
	if len(cfg.Pages) == 0 {
		cfg.Pages = DefaultPages()
	}
}

func validate(cfg *Config) error {
	switch cfg.Handoff.Store {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("handoff: unsupported store %q (must be memory or sqlite)", cfg.Handoff.Store)
	}
	if cfg.Backend.BaseURL != "" {
		u, err := url.Parse(cfg.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backend: base_url %q must be an absolute URL", cfg.Backend.BaseURL)
		}
	}
	if cfg.Page.MaxLoads < 0 {
		return fmt.Errorf("page: max_loads must not be negative")
	}
	if cfg.Page.ListenerConcurrency < 0 {
		return fmt.Errorf("page: listener_concurrency must not be negative")
	}
	for id, rc := range cfg.Routes {
		if id == "" {
			return fmt.Errorf("routes: empty page identity")
		}
		if err := checkNames(rc.Modules); err != nil {
			return fmt.Errorf("route %q: modules: %w", id, err)
		}
		if err := checkNames(rc.Init); err != nil {
			return fmt.Errorf("route %q: init: %w", id, err)
		}
	}
	for i, lr := range cfg.LegacyRoutes {
		if lr.Match == "" {
			return fmt.Errorf("legacy_routes[%d]: match is required", i)
		}
		if err := checkNames(lr.Modules); err != nil {
			return fmt.Errorf("legacy_routes[%d]: modules: %w", i, err)
		}
	}
	for alias := range cfg.Overlay.Aliases {
		if alias == "" {
			return fmt.Errorf("overlay: empty alias")
		}
	}
	for path := range cfg.Pages {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("pages: path %q must start with /", path)
		}
	}
	return nil
}

func checkNames(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return fmt.Errorf("blank entry")
		}
		if seen[n] {
			return fmt.Errorf("duplicate entry %q", n)
		}
		seen[n] = true
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce so editors that write in several steps trigger one reload.
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "err", err)
		case <-cw.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config reload rejected, keeping previous configuration", "path", cw.path, "err", err)
		return
	}

	slog.Info("configuration reloaded", "path", cw.path, "routes", len(cfg.Routes))
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
