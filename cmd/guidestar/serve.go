package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/guidestar/internal/api"
	"github.com/star/guidestar/internal/cache"
	"github.com/star/guidestar/internal/catalog"
	"github.com/star/guidestar/internal/dualfield"
	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/handoff"
	"github.com/star/guidestar/internal/lightcurve"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/observability"
	"github.com/star/guidestar/internal/parec"
	"github.com/star/guidestar/internal/resolve"
	"github.com/star/guidestar/internal/skygeom"
)

func newServeCmd() *cobra.Command {
	var sitesFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(os.Stdout, slog.LevelDebug)
			if sitesFile == "" {
				sitesFile = os.Getenv("GUIDESTAR_SITES_FILE")
			}
			return serve(logger, sitesFile)
		},
	}
	cmd.Flags().StringVar(&sitesFile, "sites", "", "TOML file with extra observatory sites (default $GUIDESTAR_SITES_FILE)")
	return cmd
}

func serve(logger *slog.Logger, sitesFile string) error {
	addr := os.Getenv("GUIDESTAR_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		return err
	}

	sites, err := observability.LoadSitesFile(sitesFile, logger)
	if err != nil {
		logger.Error("failed to load sites", "path", sitesFile, "error", err)
		return err
	}

	searchCfg := loadSearchConfig(logger)
	catCfg := loadCatalogConfig(logger)
	store := catalog.NewStore()
	catCache := catalog.NewCache(catCfg.CacheDir, catCfg.MaxFiles)
	loadCachedCatalogs(logger, store, catCache)

	var fetcher *catalog.Fetcher
	if catCfg.EnableFetch {
		fetcher = catalog.NewFetcher(logger)
	}

	hoCfg := loadHandoffConfig(logger)
	if dir := filepath.Dir(hoCfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("failed to create handoff directory", "dir", dir, "error", err)
		}
	}
	snapshots, err := handoff.Open(hoCfg.Path, hoCfg.Store, logger)
	if err != nil {
		logger.Error("failed to open handoff store", "path", hoCfg.Path, "error", err)
		return err
	}
	defer snapshots.Close()

	var curves *lightcurve.Store
	if lcPath := loadLightCurveDB(logger); lcPath != "" {
		curves, err = lightcurve.Open(lcPath, logger)
		if err != nil {
			logger.Error("failed to open light curve archive", "path", lcPath, "error", err)
			return err
		}
		defer curves.Close()
		if n, err := curves.Count(context.Background()); err == nil {
			logger.Info("light curve archive opened", "path", lcPath, "sources", n)
		}
	}

	renderCfg := loadRenderConfig(logger)
	dfCfg := dualfield.DefaultConfig()
	dfCfg.OutputWidth = renderCfg.OutputWidth

	resCfg := loadResolverConfig(logger)
	var (
		resolver resolve.Resolver
		names    *cache.TTL[string, skygeom.Coordinate]
	)
	if resCfg.Enabled {
		names = cache.New[string, skygeom.Coordinate](cache.Config{Name: "names", TTL: resCfg.CacheTTL}, logger)
		sesame := resolve.NewSesame(logger, names)
		if resCfg.URL != "" {
			sesame.WithBaseURL(resCfg.URL)
		}
		resolver = sesame
	}

	srv := api.NewServer(api.Config{
		Addr:                addr,
		RadiusArcmin:        searchCfg.RadiusArcmin,
		RenderMaxConcurrent: renderCfg.MaxConcurrentPerIP,
		RenderMaxTotal:      renderCfg.MaxConcurrentTotal,
		TrustProxy:          renderCfg.TrustProxy,
		VizierMaxRows:       catCfg.VizierMaxRows,
		DualField:           dfCfg,
		Observability:       observability.DefaultConfig(),
		DefaultPA:           parec.Config{ToleranceDeg: 30},
	}, logger, authCfg, api.Deps{
		Catalogs:     store,
		CatalogCache: catCache,
		Fetcher:      fetcher,
		Session:      fieldsearch.NewSession(searchCfg.MaxResults),
		Sites:        sites,
		Resolver:     resolver,
		Handoff:      snapshots,
		LightCurves:  curves,
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the name cache janitor.
	if names != nil {
		go names.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled, "catalog_fetch_enabled", catCfg.EnableFetch)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		return err
	}

	if names != nil {
		st := names.Stats()
		logger.Info("name cache stats", "entries", st.Entries, "hits", st.Hits, "misses", st.Misses, "evictions", st.Evictions)
	}
	logger.Info("server stopped")
	return nil
}

// loadCachedCatalogs restores every catalog found in the on-disk cache.
func loadCachedCatalogs(logger *slog.Logger, store *catalog.Store, c *catalog.Cache) {
	names, err := c.Names()
	if err != nil {
		logger.Warn("failed to list catalog cache", "error", err)
		return
	}
	if len(names) == 0 {
		logger.Info("no catalog cache found, starting without catalogs")
		return
	}
	for _, name := range names {
		data, ts, err := c.LoadLatest(name)
		if err != nil {
			logger.Warn("failed to read cached catalog", "catalog", name, "error", err)
			continue
		}
		cat, err := catalog.Decode(data, name, logger)
		if err != nil {
			logger.Warn("failed to parse cached catalog", "catalog", name, "error", err)
			continue
		}
		cat.Source = "cache"
		cat.LoadedAt = ts
		store.Put(cat)
		metrics.SetCatalogRows(name, len(cat.Rows))
		logger.Info("loaded catalog from cache", "catalog", name, "rows", len(cat.Rows), "cached_at", ts.Format(time.RFC3339))
	}
}
