package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/parec"
	"github.com/star/guidestar/internal/resolve"
	"github.com/star/guidestar/internal/skygeom"
)

var errCatalogFetchDisabled = errors.New("remote catalog fetch is disabled")

// targetErrorStatus maps a resolve.Target error to an HTTP status.
func targetErrorStatus(err error) (int, string) {
	var perr *skygeom.ParseError
	switch {
	case errors.Is(err, resolve.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &perr):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusBadGateway, err.Error()
	}
}

// targetFromQuery reads ?target, falling back to the current search target.
func (s *Server) targetFromQuery(r *http.Request) (skygeom.Coordinate, error) {
	if text := r.URL.Query().Get("target"); text != "" {
		res, err := resolve.Target(r.Context(), text, s.deps.Resolver)
		if err != nil {
			return skygeom.Coordinate{}, err
		}
		return res.Coordinate, nil
	}
	if cur := s.deps.Session.Current(); cur != nil {
		return cur.Target, nil
	}
	return skygeom.Coordinate{}, fieldsearch.ErrNoTargetSet
}

type searchRequest struct {
	Target       string                       `json:"target"`
	RadiusArcmin float64                      `json:"radius_arcmin"`
	Filter       *fieldsearch.MagnitudeFilter `json:"filter"`
	PA           *parec.Config                `json:"pa"`
}

// resultView is the JSON shape of the current search state.
type resultView struct {
	Resolution  *resolve.Resolution         `json:"resolution,omitempty"`
	Target      skygeom.Coordinate          `json:"target"`
	TargetRA    string                      `json:"target_ra"`
	TargetDec   string                      `json:"target_dec"`
	RadiusDeg   float64                     `json:"radius_deg"`
	RankedCount int                         `json:"ranked_count"`
	Displayed   []parec.Annotated           `json:"displayed"`
	Filter      fieldsearch.MagnitudeFilter `json:"filter"`
	Columns     []string                    `json:"columns"`
	PA          parec.Config                `json:"pa"`
	SlitPA      float64                     `json:"slit_pa"`
}

func newResultView(res *fieldsearch.Result, pa parec.Config) resultView {
	return resultView{
		Target:      res.Target,
		TargetRA:    skygeom.FormatRA(res.Target.RA),
		TargetDec:   skygeom.FormatDec(res.Target.Dec),
		RadiusDeg:   res.RadiusDeg,
		RankedCount: len(res.Ranked),
		Displayed:   pa.Annotate(res.Displayed),
		Filter:      res.Filter,
		Columns:     res.Columns,
		PA:          pa,
		SlitPA:      pa.SlitPA(),
	}
}

// POST /api/v1/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PA != nil {
		if err := validatePA(*req.PA); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	target, err := resolve.Target(r.Context(), req.Target, s.deps.Resolver)
	if err != nil {
		metrics.ObserveSearch(false, 0)
		status, msg := targetErrorStatus(err)
		writeError(w, status, msg)
		return
	}

	radius := req.RadiusArcmin
	if radius <= 0 {
		radius = s.cfg.RadiusArcmin
	}
	var filter fieldsearch.MagnitudeFilter
	if req.Filter != nil {
		filter = *req.Filter
	}

	res, err := s.deps.Session.Search(target.Coordinate, s.deps.Catalogs.Catalogs(), radius, filter)
	if err != nil {
		metrics.ObserveSearch(false, 0)
		switch {
		case errors.Is(err, fieldsearch.ErrNoCatalogsLoaded):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, fieldsearch.ErrNoTargetSet):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("search failed", "target", req.Target, "error", err)
			writeError(w, http.StatusInternalServerError, "search failed")
		}
		return
	}
	metrics.ObserveSearch(true, len(res.Ranked))

	if req.PA != nil {
		pa := *req.PA
		s.pa.Store(&pa)
	}
	view := newResultView(res, *s.pa.Load())
	view.Resolution = &target

	s.logger.Info("field searched",
		"target", req.Target,
		"method", target.Method,
		"radius_arcmin", radius,
		"ranked", len(res.Ranked),
		"displayed", len(res.Displayed),
	)
	writeJSON(w, http.StatusOK, view)
}

// POST /api/v1/filter
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var f fieldsearch.MagnitudeFilter
	if err := decodeJSON(w, r, &f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		writeError(w, http.StatusBadRequest, "filter min exceeds max")
		return
	}
	res, err := s.deps.Session.Filter(f)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newResultView(res, *s.pa.Load()))
}

// GET /api/v1/stars?inst_pa=&tolerance=&pa_enabled=
func (s *Server) handleStars(w http.ResponseWriter, r *http.Request) {
	cur := s.deps.Session.Current()
	if cur == nil {
		writeError(w, http.StatusConflict, fieldsearch.ErrNoTargetSet.Error())
		return
	}
	pa, err := s.paFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view := newResultView(cur, pa)
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  view,
		"markers": pa.Markers(cur.Displayed),
	})
}

// GET /api/v1/wedges?segments=32
func (s *Server) handleWedges(w http.ResponseWriter, r *http.Request) {
	cur := s.deps.Session.Current()
	if cur == nil {
		writeError(w, http.StatusConflict, fieldsearch.ErrNoTargetSet.Error())
		return
	}
	pa, err := s.paFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	segments := 32
	if v := r.URL.Query().Get("segments"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 512 {
			writeError(w, http.StatusBadRequest, "invalid segments parameter, must be 1-512")
			return
		}
		segments = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"target":  cur.Target,
		"slit_pa": pa.SlitPA(),
		"pa":      pa,
		"wedges":  pa.Wedges(cur.Target, cur.RadiusDeg, segments),
	})
}

// paFromQuery overlays query parameters on the stored PA settings.
func (s *Server) paFromQuery(r *http.Request) (parec.Config, error) {
	pa := *s.pa.Load()
	q := r.URL.Query()
	if v := q.Get("pa_enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return pa, fmt.Errorf("invalid pa_enabled parameter")
		}
		pa.Enabled = b
	}
	if v := q.Get("inst_pa"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return pa, fmt.Errorf("invalid inst_pa parameter")
		}
		pa.InstrumentPA = f
	}
	if v := q.Get("tolerance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return pa, fmt.Errorf("invalid tolerance parameter")
		}
		pa.ToleranceDeg = f
	}
	return pa, validatePA(pa)
}

func validatePA(pa parec.Config) error {
	if pa.ToleranceDeg < 0 || pa.ToleranceDeg > 90 {
		return fmt.Errorf("tolerance must be within 0-90 degrees")
	}
	if math.IsNaN(pa.InstrumentPA) || math.IsInf(pa.InstrumentPA, 0) {
		return fmt.Errorf("instrument PA is not a number")
	}
	return nil
}
