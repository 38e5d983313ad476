package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/lightcurve"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/resolve"
	"github.com/star/guidestar/internal/skygeom"
)

// GET /api/v1/lightcurve?source_id= | ?position= | ?guide_index=
// with optional skip=<cut>[,<cut>...] to relax quality cuts.
func (s *Server) handleLightCurve(w http.ResponseWriter, r *http.Request) {
	if s.deps.LightCurves == nil {
		writeError(w, http.StatusServiceUnavailable, "light curve archive not configured")
		return
	}
	q := r.URL.Query()

	cuts := lightcurve.DefaultCuts()
	if v := q.Get("skip"); v != "" {
		var unknown []string
		cuts, unknown = cuts.Skip(strings.Split(v, ","))
		if len(unknown) > 0 {
			writeError(w, http.StatusBadRequest, "unknown quality cut: "+strings.Join(unknown, ", "))
			return
		}
	}

	id := q.Get("source_id")
	method := "id"
	var pos skygeom.Coordinate
	if id == "" {
		method = "position"
		var err error
		pos, err = s.lightCurvePosition(r)
		if err != nil {
			status, msg := targetErrorStatus(err)
			switch {
			case errors.Is(err, errLightCurveSelector), errors.Is(err, errBadGuideIndex):
				status = http.StatusBadRequest
			case errors.Is(err, fieldsearch.ErrNoTargetSet):
				status = http.StatusConflict
			}
			writeError(w, status, msg)
			return
		}
	}

	curve, err := s.deps.LightCurves.Lookup(r.Context(), id, pos, cuts)
	if err != nil {
		if errors.Is(err, lightcurve.ErrNotFound) {
			metrics.IncLightCurveLookup(method, "not_found")
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		metrics.IncLightCurveLookup(method, "error")
		s.logger.Error("light curve lookup failed", "source_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "light curve lookup failed")
		return
	}
	metrics.IncLightCurveLookup(method, "ok")
	s.logger.Debug("light curve served",
		"source_id", curve.SourceID,
		"method", method,
		"observations", len(curve.Observations),
		"raw", curve.Raw,
	)
	writeJSON(w, http.StatusOK, curve)
}

var errLightCurveSelector = errors.New("source_id, position or guide_index is required")

// lightCurvePosition reads ?position (coordinate or name) or ?guide_index
// into the displayed list.
func (s *Server) lightCurvePosition(r *http.Request) (skygeom.Coordinate, error) {
	q := r.URL.Query()
	if v := q.Get("guide_index"); v != "" {
		cur := s.deps.Session.Current()
		if cur == nil {
			return skygeom.Coordinate{}, fieldsearch.ErrNoTargetSet
		}
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 || i >= len(cur.Displayed) {
			return skygeom.Coordinate{}, errBadGuideIndex
		}
		return cur.Displayed[i].Coordinate(), nil
	}
	text := q.Get("position")
	if text == "" {
		return skygeom.Coordinate{}, errLightCurveSelector
	}
	res, err := resolve.Target(r.Context(), text, s.deps.Resolver)
	if err != nil {
		return skygeom.Coordinate{}, err
	}
	return res.Coordinate, nil
}
