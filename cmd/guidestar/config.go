package main

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/star/guidestar/internal/auth"
	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/handoff"
)

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("GUIDESTAR_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("GUIDESTAR_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("GUIDESTAR_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("GUIDESTAR_AUTH_TOKEN is required when auth is enabled")
		}
		cfg.ReadOnlyToken = os.Getenv("GUIDESTAR_AUTH_READONLY_TOKEN")
		if cfg.ReadOnlyToken == cfg.Token {
			return cfg, errors.New("GUIDESTAR_AUTH_READONLY_TOKEN must differ from GUIDESTAR_AUTH_TOKEN")
		}
		logger.Info("auth enabled", "read_only_token", cfg.ReadOnlyToken != "")
	}

	return cfg, nil
}

// searchConfig bounds field searches.
type searchConfig struct {
	MaxResults   int
	RadiusArcmin float64
}

func loadSearchConfig(logger *slog.Logger) searchConfig {
	cfg := searchConfig{
		MaxResults:   fieldsearch.DefaultMaxResults,
		RadiusArcmin: fieldsearch.DefaultRadiusArcmin,
	}

	if v := os.Getenv("GUIDESTAR_MAX_RESULTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GUIDESTAR_MAX_RESULTS value, using default", "value", v, "default", cfg.MaxResults)
		} else {
			cfg.MaxResults = n
		}
	}

	if v := os.Getenv("GUIDESTAR_FIELD_RADIUS_ARCMIN"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !(f > 0) || f > 600 {
			logger.Warn("invalid GUIDESTAR_FIELD_RADIUS_ARCMIN value, using default", "value", v, "default", cfg.RadiusArcmin)
		} else {
			cfg.RadiusArcmin = f
		}
	}

	logger.Info("search config",
		"max_results", cfg.MaxResults,
		"radius_arcmin", cfg.RadiusArcmin,
	)

	return cfg
}

// catalogConfig controls catalog loading.
type catalogConfig struct {
	EnableFetch   bool
	CacheDir      string
	MaxFiles      int
	VizierMaxRows int
}

func loadCatalogConfig(logger *slog.Logger) catalogConfig {
	cfg := catalogConfig{
		EnableFetch:   true,
		CacheDir:      "/tmp/guidestar/catalogs",
		MaxFiles:      3,
		VizierMaxRows: 5000,
	}

	if v := os.Getenv("GUIDESTAR_ENABLE_CATALOG_FETCH"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid GUIDESTAR_ENABLE_CATALOG_FETCH value, defaulting to false", "value", v)
			cfg.EnableFetch = false
		} else {
			cfg.EnableFetch = enabled
		}
	}

	if v := os.Getenv("GUIDESTAR_CATALOG_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}

	if v := os.Getenv("GUIDESTAR_CATALOG_CACHE_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GUIDESTAR_CATALOG_CACHE_MAX_FILES value, using default", "value", v, "default", cfg.MaxFiles)
		} else {
			cfg.MaxFiles = n
		}
	}

	if v := os.Getenv("GUIDESTAR_VIZIER_MAX_ROWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GUIDESTAR_VIZIER_MAX_ROWS value, using default", "value", v, "default", cfg.VizierMaxRows)
		} else {
			cfg.VizierMaxRows = n
		}
	}

	logger.Info("catalog config",
		"fetch_enabled", cfg.EnableFetch,
		"cache_dir", cfg.CacheDir,
		"max_files", cfg.MaxFiles,
	)

	return cfg
}

// handoffConfig locates and bounds the snapshot store.
type handoffConfig struct {
	Path  string
	Store handoff.Config
}

func loadHandoffConfig(logger *slog.Logger) handoffConfig {
	cfg := handoffConfig{
		Path: "/tmp/guidestar/handoff.db",
		Store: handoff.Config{
			MaxBytes:     handoff.DefaultMaxBytes,
			MaxSnapshots: handoff.DefaultMaxSnapshots,
		},
	}

	if v := os.Getenv("GUIDESTAR_HANDOFF_DB"); v != "" {
		cfg.Path = v
	}

	if v := os.Getenv("GUIDESTAR_HANDOFF_MAX_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1024 {
			logger.Warn("invalid GUIDESTAR_HANDOFF_MAX_BYTES value, using default", "value", v, "default", cfg.Store.MaxBytes)
		} else {
			cfg.Store.MaxBytes = n
		}
	}

	if v := os.Getenv("GUIDESTAR_HANDOFF_MAX_SNAPSHOTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GUIDESTAR_HANDOFF_MAX_SNAPSHOTS value, using default", "value", v, "default", cfg.Store.MaxSnapshots)
		} else {
			cfg.Store.MaxSnapshots = n
		}
	}

	logger.Info("handoff config",
		"path", cfg.Path,
		"max_bytes", cfg.Store.MaxBytes,
		"max_snapshots", cfg.Store.MaxSnapshots,
	)

	return cfg
}

// renderConfig bounds dual-field rendering.
type renderConfig struct {
	MaxConcurrentPerIP int
	MaxConcurrentTotal int
	OutputWidth        int
	TrustProxy         bool
}

func loadRenderConfig(logger *slog.Logger) renderConfig {
	cfg := renderConfig{
		MaxConcurrentPerIP: 2,
		MaxConcurrentTotal: 16,
		OutputWidth:        512,
	}

	if v := os.Getenv("GUIDESTAR_RENDER_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GUIDESTAR_RENDER_MAX_CONCURRENT value, using default", "value", v, "default", cfg.MaxConcurrentPerIP)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("GUIDESTAR_RENDER_MAX_TOTAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GUIDESTAR_RENDER_MAX_TOTAL value, using default", "value", v, "default", cfg.MaxConcurrentTotal)
		} else {
			cfg.MaxConcurrentTotal = n
		}
	}

	if v := os.Getenv("GUIDESTAR_RENDER_OUTPUT_WIDTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 4096 {
			logger.Warn("invalid GUIDESTAR_RENDER_OUTPUT_WIDTH value, using default", "value", v, "default", cfg.OutputWidth)
		} else {
			cfg.OutputWidth = n
		}
	}

	if v := os.Getenv("GUIDESTAR_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid GUIDESTAR_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("render config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_concurrent_total", cfg.MaxConcurrentTotal,
		"output_width", cfg.OutputWidth,
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}

// resolverConfig controls name resolution.
type resolverConfig struct {
	Enabled  bool
	URL      string
	CacheTTL time.Duration
}

func loadResolverConfig(logger *slog.Logger) resolverConfig {
	cfg := resolverConfig{
		Enabled:  true,
		CacheTTL: 24 * time.Hour,
	}

	if v := os.Getenv("GUIDESTAR_ENABLE_RESOLVER"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid GUIDESTAR_ENABLE_RESOLVER value, defaulting to true", "value", v)
		} else {
			cfg.Enabled = enabled
		}
	}

	if v := os.Getenv("GUIDESTAR_SESAME_URL"); v != "" {
		cfg.URL = v
	}

	if v := os.Getenv("GUIDESTAR_RESOLVER_CACHE_TTL"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 1 {
			logger.Warn("invalid GUIDESTAR_RESOLVER_CACHE_TTL value, defaulting to 86400", "value", v)
		} else {
			cfg.CacheTTL = time.Duration(seconds) * time.Second
		}
	}

	logger.Info("resolver config",
		"enabled", cfg.Enabled,
		"url", cfg.URL,
		"cache_ttl_seconds", cfg.CacheTTL.Seconds(),
	)

	return cfg
}

// loadLightCurveDB returns the photometry archive path; empty disables the
// light-curve route.
func loadLightCurveDB(logger *slog.Logger) string {
	path := os.Getenv("GUIDESTAR_LIGHTCURVE_DB")
	logger.Info("light curve config", "path", path, "enabled", path != "")
	return path
}
