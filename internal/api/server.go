package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/star/guidestar/internal/auth"
	"github.com/star/guidestar/internal/catalog"
	"github.com/star/guidestar/internal/dualfield"
	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/handoff"
	"github.com/star/guidestar/internal/health"
	"github.com/star/guidestar/internal/lightcurve"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/observability"
	"github.com/star/guidestar/internal/parec"
	"github.com/star/guidestar/internal/resolve"
)

// Config holds HTTP-level settings.
type Config struct {
	Addr         string
	RadiusArcmin float64
	// RenderMaxConcurrent bounds dual-field renders per client IP.
	RenderMaxConcurrent int
	// RenderMaxTotal bounds dual-field renders across all clients.
	RenderMaxTotal int
	// TrustProxy takes client IPs from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// VizierMaxRows caps rows requested from VizieR.
	VizierMaxRows int
	DualField     dualfield.Config
	Observability observability.Config
	DefaultPA     parec.Config
}

// Deps are the components the handlers work on. Fetcher, CatalogCache,
// Resolver, Handoff and LightCurves may be nil; the routes that need them
// then answer 503 or skip the optional step.
type Deps struct {
	Catalogs     *catalog.Store
	CatalogCache *catalog.Cache
	Fetcher      *catalog.Fetcher
	Session      *fieldsearch.Session
	Sites        *observability.Registry
	Resolver     resolve.Resolver
	Handoff      *handoff.Store
	LightCurves  *lightcurve.Store
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        Config
	deps       Deps
	pa         atomic.Pointer[parec.Config]
	limiter    *renderLimiter
}

// NewServer creates a configured HTTP server.
func NewServer(cfg Config, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	if cfg.RadiusArcmin <= 0 {
		cfg.RadiusArcmin = fieldsearch.DefaultRadiusArcmin
	}
	if cfg.RenderMaxTotal <= 0 {
		cfg.RenderMaxTotal = 16
	}
	s := &Server{
		logger:  logger,
		cfg:     cfg,
		deps:    deps,
		limiter: newRenderLimiter(cfg.RenderMaxConcurrent, cfg.RenderMaxTotal),
	}
	pa := cfg.DefaultPA
	s.pa.Store(&pa)

	ready := health.NewReadiness(s.readinessChecks())

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", ready.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/sites", s.handleSites)
	mux.HandleFunc("GET /api/v1/catalogs", s.handleCatalogs)
	mux.HandleFunc("POST /api/v1/catalogs/{name}", s.handleCatalogLoad)
	mux.HandleFunc("DELETE /api/v1/catalogs/{name}", s.handleCatalogDelete)
	mux.HandleFunc("GET /api/v1/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/v1/search", s.handleSearch)
	mux.HandleFunc("POST /api/v1/filter", s.handleFilter)
	mux.HandleFunc("GET /api/v1/stars", s.handleStars)
	mux.HandleFunc("GET /api/v1/wedges", s.handleWedges)
	mux.HandleFunc("POST /api/v1/observability", s.handleObservability)
	mux.HandleFunc("POST /api/v1/handoff", s.handleHandoffSave)
	mux.HandleFunc("GET /api/v1/handoff/{id}", s.handleHandoffLoad)
	mux.HandleFunc("POST /api/v1/dualfield", s.handleDualField)
	mux.HandleFunc("GET /api/v1/export.xlsx", s.handleExport)
	mux.HandleFunc("GET /api/v1/lightcurve", s.handleLightCurve)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) readinessChecks() map[string]health.Check {
	checks := map[string]health.Check{
		"sites": func(context.Context) error {
			if s.deps.Sites == nil || len(s.deps.Sites.All()) == 0 {
				return errors.New("no observatory sites registered")
			}
			return nil
		},
	}
	if s.deps.Handoff != nil {
		checks["handoff"] = s.deps.Handoff.Ping
	}
	if s.deps.LightCurves != nil {
		checks["lightcurves"] = s.deps.LightCurves.Ping
	}
	return checks
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
