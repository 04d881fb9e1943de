package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/quantpanel/quantpanel/internal/config"
	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/handoff"
	"github.com/quantpanel/quantpanel/internal/health"
	"github.com/quantpanel/quantpanel/internal/metrics"
	"github.com/quantpanel/quantpanel/internal/overlay"
	"github.com/quantpanel/quantpanel/internal/page"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// SessionCookie scopes the handoff buffer to one browser session.
const SessionCookie = "qp_session"

// Server serves pages, the overlay and handoff surfaces, and the
// management endpoints.
type Server struct {
	pages       *page.Manager
	healthCheck *health.Checker
	metrics     *metrics.Collector
	handoff     handoff.Store
	static      fs.FS
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
}

// NewServer creates a new server. static is the tree served under /static/.
func NewServer(pm *page.Manager, hc *health.Checker, m *metrics.Collector, store handoff.Store, static fs.FS, lc config.ListenConfig) *Server {
	return &Server{
		pages:       pm,
		healthCheck: hc,
		metrics:     m,
		handoff:     store,
		static:      static,
		startTime:   time.Now(),
		listenCfg:   lc,
	}
}

// authMiddleware returns a middleware that checks for a valid API key.
// It wraps the management endpoints only; pages stay public.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.listenCfg.APIKey == "" && s.listenCfg.APIKeyBcrypt == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || !s.validKey(strings.TrimPrefix(auth, "Bearer ")) {
			writeError(w, http.StatusUnauthorized, "unauthorized: invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) validKey(key string) bool {
	if s.listenCfg.APIKeyBcrypt != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.listenCfg.APIKeyBcrypt), []byte(key)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.listenCfg.APIKey)) == 1
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	admin := s.authMiddleware

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	// Prometheus metrics
	if s.metrics != nil && s.metrics.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Server status & config
	r.Handle("/status", admin(http.HandlerFunc(s.statusHandler))).Methods("GET")
	r.Handle("/config", admin(http.HandlerFunc(s.configHandler))).Methods("GET")
	r.Handle("/loads", admin(http.HandlerFunc(s.listLoads))).Methods("GET")
	r.Handle("/loads/{id}", admin(http.HandlerFunc(s.getLoad))).Methods("GET")
	r.Handle("/loads/{id}", admin(http.HandlerFunc(s.deleteLoad))).Methods("DELETE")

	// Page loads: what the page's own script calls
	r.HandleFunc("/loads/{id}/document", s.loadDocument).Methods("GET")
	r.HandleFunc("/loads/{id}/overlay/{alias}", s.openOverlay).Methods("POST")
	r.HandleFunc("/loads/{id}/overlay", s.closeOverlay).Methods("DELETE")
	r.HandleFunc("/loads/{id}/events", s.loadEvent).Methods("POST")

	// Cross-page handoff
	r.HandleFunc("/api/handoff/{key}", s.putHandoff).Methods("PUT")
	r.HandleFunc("/api/handoff/{key}", s.getHandoff).Methods("GET")

	// Assets
	if dir := s.pages.Config().Assets; dir.Dir != "" && !dir.Remote() {
		prefix := "/" + strings.Trim(dir.BasePrefix, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(dir.Dir))))
	}
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(s.static))))

	// Pages: catch-all for extensionless paths, registered last
	r.PathPrefix("/").MatcherFunc(isPagePath).HandlerFunc(s.pageHandler).Methods("GET")

	return s.securityHeaders(r)
}

func isPagePath(r *http.Request, _ *mux.RouteMatch) bool {
	return path.Ext(r.URL.Path) == ""
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	bind := s.listenCfg.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", bind, s.listenCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	if s.listenCfg.APIKey == "" && s.listenCfg.APIKeyBcrypt == "" {
		slog.Warn("API key not configured, management endpoints are unauthenticated")
	}
	slog.Info("HTTP server listening", "addr", addr, "tls", s.listenCfg.TLSEnabled())

	go func() {
		var err error
		if s.listenCfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.listenCfg.TLSCert, s.listenCfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Page Handlers ---

func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	l, err := s.pages.Open(r.Context(), r.URL.Path, session)
	if err != nil {
		slog.Error("page load failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "page load failed")
		return
	}
	slog.Debug("page served", "path", r.URL.Path, "page", l.ID, "identity", l.Identity)
	writeDocument(w, l.Doc)
}

func (s *Server) listLoads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pages.Snapshots())
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (*page.Load, bool) {
	l, err := s.pages.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "page load not found")
		return nil, false
	}
	return l, true
}

func (s *Server) getLoad(w http.ResponseWriter, r *http.Request) {
	if l, ok := s.load(w, r); ok {
		writeJSON(w, http.StatusOK, l.Snapshot())
	}
}

func (s *Server) deleteLoad(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.pages.Remove(id) {
		writeError(w, http.StatusNotFound, "page load not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "load": id})
}

func (s *Server) loadDocument(w http.ResponseWriter, r *http.Request) {
	if l, ok := s.load(w, r); ok {
		writeDocument(w, l.Doc)
	}
}

// --- Overlay Handlers ---

func (s *Server) openOverlay(w http.ResponseWriter, r *http.Request) {
	l, ok := s.load(w, r)
	if !ok {
		return
	}
	tr, err := l.Overlay.Open(r.Context(), mux.Vars(r)["alias"])
	writeTransition(w, tr, err)
}

func (s *Server) closeOverlay(w http.ResponseWriter, r *http.Request) {
	l, ok := s.load(w, r)
	if !ok {
		return
	}
	tr, err := l.Overlay.Close()
	writeTransition(w, tr, err)
}

type eventRequest struct {
	Type   string `json:"type"`
	Key    string `json:"key,omitempty"`
	Target string `json:"target,omitempty"`
}

func (s *Server) loadEvent(w http.ResponseWriter, r *http.Request) {
	l, ok := s.load(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var ev eventRequest
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var (
		tr  overlay.Transition
		err error
	)
	switch {
	case ev.Type == "keydown":
		tr, err = l.Overlay.HandleKey(ev.Key)
	case ev.Type == "click" && ev.Target == overlay.BackdropID:
		tr, err = l.Overlay.BackdropClick()
	case ev.Type == "click" && ev.Target == overlay.DismissID:
		tr, err = l.Overlay.Close()
	default:
		writeError(w, http.StatusBadRequest, "unsupported event")
		return
	}
	writeTransition(w, tr, err)
}

func writeTransition(w http.ResponseWriter, tr overlay.Transition, err error) {
	if errors.Is(err, dom.ErrClosed) {
		writeError(w, http.StatusGone, "page load closed")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// --- Handoff Handlers ---

func (s *Server) buffer(session string) *handoff.Buffer {
	return handoff.NewBuffer(s.handoff, session, s.pages.Config().Handoff.TTL).
		WithObserver(s.metrics.HandoffRead)
}

func (s *Server) putHandoff(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if !json.Valid(data) {
		writeError(w, http.StatusBadRequest, "handoff value must be JSON")
		return
	}
	key := mux.Vars(r)["key"]
	if err := s.buffer(session).WriteRaw(r.Context(), key, data); err != nil {
		slog.Warn("handoff write failed", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, "handoff write failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getHandoff(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusNotFound, "no handoff for this session")
		return
	}
	key := mux.Vars(r)["key"]
	data, ok, err := s.buffer(c.Value).ReadOnceRaw(r.Context(), key)
	if err != nil {
		slog.Warn("handoff read failed", "key", key, "err", err)
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no handoff for this session")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// session returns the browser session id, issuing a cookie on first use.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.listenCfg.TLSEnabled(),
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// --- Health Handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":  boolToStatus(allHealthy),
		"targets": statuses,
	})
}

// readyHandler reports ready while the module source is usable. A failing
// backend only degrades panels, so it does not affect readiness.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck.IsHealthy(health.TargetAssets) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// --- Status & Config Handlers ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"page_loads":     s.pages.Len(),
		"listen": map[string]interface{}{
			"bind": s.listenCfg.Bind,
			"port": s.listenCfg.Port,
			"tls":  s.listenCfg.TLSEnabled(),
		},
	})
}

func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.pages.Config()
	lc := s.listenCfg.Redacted()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listen": map[string]interface{}{
			"bind":           lc.Bind,
			"port":           lc.Port,
			"api_key":        lc.APIKey,
			"api_key_bcrypt": lc.APIKeyBcrypt,
			"tls":            lc.TLSEnabled(),
		},
		"assets": map[string]string{
			"base_prefix": cfg.Assets.BasePrefix,
			"dir":         cfg.Assets.Dir,
		},
		"backend": map[string]string{
			"base_url":    cfg.Backend.BaseURL,
			"timeout":     cfg.Backend.Timeout.String(),
			"health_path": cfg.Backend.HealthPath,
		},
		"page": map[string]interface{}{
			"root_id":              cfg.Page.RootID,
			"attribute":            cfg.Page.Attribute,
			"ttl":                  cfg.Page.TTL.String(),
			"listener_concurrency": cfg.Page.ListenerConcurrency,
			"locale":               cfg.Page.Locale,
		},
		"handoff": map[string]string{
			"store": cfg.Handoff.Store,
			"ttl":   cfg.Handoff.TTL.String(),
		},
		"routes":        cfg.Routes,
		"legacy_routes": cfg.LegacyRoutes,
		"overlay": map[string]interface{}{
			"aliases": cfg.Overlay.Aliases,
			"refresh": cfg.Overlay.Refresh,
		},
		"pages": cfg.Pages,
	})
}

// securityHeaders adds security-related HTTP headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeDocument(w http.ResponseWriter, doc *dom.Document) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := doc.Render(w); err != nil {
		slog.Warn("document render failed", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
