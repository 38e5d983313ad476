package api

import (
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/star/guidestar/internal/catalog"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/resolve"
)

// maxUploadBytes caps an uploaded catalog body.
const maxUploadBytes = 64 << 20

var catalogNameRE = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sites": s.deps.Sites.All()})
}

type catalogInfo struct {
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	Rows     int       `json:"rows"`
	Columns  []string  `json:"columns"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (s *Server) handleCatalogs(w http.ResponseWriter, r *http.Request) {
	cats := s.deps.Catalogs.Catalogs()
	out := make([]catalogInfo, 0, len(cats))
	for _, c := range cats {
		out = append(out, catalogInfo{
			Name:     c.Name,
			Source:   c.Source,
			Rows:     len(c.Rows),
			Columns:  c.Columns,
			LoadedAt: c.LoadedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"catalogs":    out,
		"total_rows":  s.deps.Catalogs.Get().RowCount(),
		"age_seconds": s.deps.Catalogs.AgeSeconds(),
	})
}

// handleCatalogLoad loads a catalog under {name}. With ?vizier=<source> the
// rows are fetched from VizieR around ?target (or the current search target);
// otherwise the request body is a CSV/TSV/XLSX file.
// POST /api/v1/catalogs/{name}
func (s *Server) handleCatalogLoad(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !catalogNameRE.MatchString(name) {
		writeError(w, http.StatusBadRequest, "invalid catalog name")
		return
	}

	var (
		cat  *catalog.Catalog
		data []byte
		err  error
	)
	if source := r.URL.Query().Get("vizier"); source != "" {
		cat, data, err = s.fetchVizier(r, name, source)
		if err != nil {
			s.logger.Warn("catalog fetch failed", "catalog", name, "source", source, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	} else {
		data, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "catalog upload too large")
			return
		}
		cat, err = catalog.Decode(data, name, s.logger)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cat.Source = "upload"
	}

	s.deps.Catalogs.Put(cat)
	metrics.SetCatalogRows(cat.Name, len(cat.Rows))

	if s.deps.CatalogCache != nil {
		if err := s.deps.CatalogCache.Write(cat.Name, data, time.Now()); err != nil {
			s.logger.Warn("failed to cache catalog", "catalog", cat.Name, "error", err)
		}
	}

	s.logger.Info("catalog loaded", "catalog", cat.Name, "source", cat.Source, "rows", len(cat.Rows))
	writeJSON(w, http.StatusOK, catalogInfo{
		Name:     cat.Name,
		Source:   cat.Source,
		Rows:     len(cat.Rows),
		Columns:  cat.Columns,
		LoadedAt: cat.LoadedAt,
	})
}

func (s *Server) fetchVizier(r *http.Request, name, source string) (*catalog.Catalog, []byte, error) {
	if s.deps.Fetcher == nil {
		return nil, nil, errCatalogFetchDisabled
	}
	center, err := s.targetFromQuery(r)
	if err != nil {
		return nil, nil, err
	}
	u := catalog.VizierURL(source, center, s.cfg.RadiusArcmin, s.cfg.VizierMaxRows)
	return s.deps.Fetcher.FetchCatalog(r.Context(), name, u)
}

// DELETE /api/v1/catalogs/{name}
func (s *Server) handleCatalogDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.deps.Catalogs.Remove(name) {
		writeError(w, http.StatusNotFound, "catalog not loaded")
		return
	}
	metrics.DeleteCatalog(name)
	if s.deps.CatalogCache != nil {
		if err := s.deps.CatalogCache.Remove(name); err != nil {
			s.logger.Warn("failed to remove cached catalog", "catalog", name, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/resolve?name=M42
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("name")
	if text == "" {
		writeError(w, http.StatusBadRequest, "missing name parameter")
		return
	}
	res, err := resolve.Target(r.Context(), text, s.deps.Resolver)
	if err != nil {
		status, msg := targetErrorStatus(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
