package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guidestar_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_searches_total",
			Help: "Field searches by outcome.",
		},
		[]string{"outcome"},
	)

	rankedStars = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guidestar_ranked_stars",
			Help:    "Number of stars in the ranked list of a successful search.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	observabilityChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_observability_checks_total",
			Help: "Observability checks by verdict.",
		},
		[]string{"observable"},
	)

	rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_dualfield_renders_total",
			Help: "Dual-field renders by outcome.",
		},
		[]string{"outcome"},
	)

	renderDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guidestar_dualfield_render_duration_seconds",
			Help:    "Time to render a dual-field composite.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	handoffSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_handoff_saves_total",
			Help: "Handoff snapshot saves by outcome.",
		},
		[]string{"outcome"},
	)

	resolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_name_resolutions_total",
			Help: "Object name resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	lightCurveLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_lightcurve_lookups_total",
			Help: "Light-curve lookups by match method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	catalogRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guidestar_catalog_rows",
			Help: "Rows held per loaded catalog.",
		},
		[]string{"catalog"},
	)

	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_cache_hits_total",
			Help: "Cache hits.",
		},
		[]string{"cache"},
	)

	cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_cache_misses_total",
			Help: "Cache misses.",
		},
		[]string{"cache"},
	)

	cacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guidestar_cache_evictions_total",
			Help: "Cache entries evicted.",
		},
		[]string{"cache"},
	)

	cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guidestar_cache_entries",
			Help: "Current number of cache entries.",
		},
		[]string{"cache"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		searchesTotal,
		rankedStars,
		observabilityChecksTotal,
		rendersTotal,
		renderDurationSeconds,
		handoffSavesTotal,
		resolveTotal,
		lightCurveLookupsTotal,
		catalogRows,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheEntries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSearch records a field search. ranked is ignored unless ok.
func ObserveSearch(ok bool, ranked int) {
	if !ok {
		searchesTotal.WithLabelValues("error").Inc()
		return
	}
	searchesTotal.WithLabelValues("ok").Inc()
	rankedStars.Observe(float64(ranked))
}

// IncObservabilityCheck counts an observability verdict.
func IncObservabilityCheck(observable bool) {
	observabilityChecksTotal.WithLabelValues(strconv.FormatBool(observable)).Inc()
}

// ObserveRender records a dual-field render; outcome is "ok", "projection",
// "capture", "rejected" or "error".
func ObserveRender(outcome string, d time.Duration) {
	rendersTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		renderDurationSeconds.Observe(d.Seconds())
	}
}

// IncHandoffSave counts a handoff save; outcome is "ok", "quota" or "error".
func IncHandoffSave(outcome string) {
	handoffSavesTotal.WithLabelValues(outcome).Inc()
}

// IncResolve counts a name resolution; outcome is "ok", "not_found" or "error".
func IncResolve(outcome string) {
	resolveTotal.WithLabelValues(outcome).Inc()
}

// IncLightCurveLookup counts a light-curve lookup; method is "id" or
// "position", outcome is "ok", "not_found" or "error".
func IncLightCurveLookup(method, outcome string) {
	lightCurveLookupsTotal.WithLabelValues(method, outcome).Inc()
}

// SetCatalogRows publishes the row count of a loaded catalog.
func SetCatalogRows(catalog string, n int) {
	catalogRows.WithLabelValues(catalog).Set(float64(n))
}

// DeleteCatalog drops the row gauge of an unloaded catalog.
func DeleteCatalog(catalog string) {
	catalogRows.DeleteLabelValues(catalog)
}

// IncCacheHits counts a hit in the named cache.
func IncCacheHits(cache string) { cacheHitsTotal.WithLabelValues(cache).Inc() }

// IncCacheMisses counts a miss in the named cache.
func IncCacheMisses(cache string) { cacheMissesTotal.WithLabelValues(cache).Inc() }

// AddCacheEvictions counts n evictions from the named cache.
func AddCacheEvictions(cache string, n int) {
	cacheEvictionsTotal.WithLabelValues(cache).Add(float64(n))
}

// SetCacheEntries publishes the size of the named cache.
func SetCacheEntries(cache string, n int) {
	cacheEntries.WithLabelValues(cache).Set(float64(n))
}

// knownRoutes are served verbatim as path labels.
var knownRoutes = map[string]bool{
	"/":                     true,
	"/healthz":              true,
	"/readyz":               true,
	"/metrics":              true,
	"/api/v1/sites":         true,
	"/api/v1/catalogs":      true,
	"/api/v1/search":        true,
	"/api/v1/filter":        true,
	"/api/v1/stars":         true,
	"/api/v1/wedges":        true,
	"/api/v1/observability": true,
	"/api/v1/resolve":       true,
	"/api/v1/handoff":       true,
	"/api/v1/dualfield":     true,
	"/api/v1/export.xlsx":   true,
	"/api/v1/lightcurve":    true,
}

// parameterized maps a path prefix to the label used for its children.
var parameterized = []struct {
	prefix string
	label  string
}{
	{"/api/v1/catalogs/", "/api/v1/catalogs/{name}"},
	{"/api/v1/handoff/", "/api/v1/handoff/{id}"},
}

// normalizeRoute maps a request path to a bounded set of metric labels so
// that catalog names, snapshot IDs and scanner noise do not blow up
// cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	for _, p := range parameterized {
		if rest, ok := strings.CutPrefix(path, p.prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			return p.label
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
