package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/observability"
	"github.com/star/guidestar/internal/resolve"
	"github.com/star/guidestar/internal/skygeom"
)

type observabilityRequest struct {
	Site string `json:"site"`
	// Date is the local calendar date the night starts on (YYYY-MM-DD).
	Date string `json:"date"`
	// Target defaults to the current search target.
	Target string `json:"target"`
	// Guide is a coordinate or name; GuideIndex picks a star from the
	// displayed list instead.
	Guide          string   `json:"guide"`
	GuideIndex     *int     `json:"guide_index"`
	MinAltitudeDeg *float64 `json:"min_altitude_deg"`
	Refine         bool     `json:"refine"`
	// Candidates adds a verdict for every displayed star.
	Candidates bool `json:"candidates"`
}

type candidateVerdict struct {
	Index           int        `json:"index"`
	RA              float64    `json:"ra"`
	Dec             float64    `json:"dec"`
	Observable      bool       `json:"observable"`
	BestAltitudeDeg float64    `json:"best_altitude_deg"`
	RiseTime        *time.Time `json:"rise_time"`
	SetTime         *time.Time `json:"set_time"`
}

// POST /api/v1/observability
func (s *Server) handleObservability(w http.ResponseWriter, r *http.Request) {
	var req observabilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	key := req.Site
	if key == "" {
		key = observability.DefaultSiteKey
	}
	site, ok := s.deps.Sites.Lookup(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown site "+key)
		return
	}

	date := time.Now().In(site.Location())
	if req.Date != "" {
		d, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
		date = d
	}

	cur := s.deps.Session.Current()
	target, err := s.observeTarget(r, req.Target, cur)
	if err != nil {
		status, msg := targetErrorStatus(err)
		if errors.Is(err, fieldsearch.ErrNoTargetSet) {
			status = http.StatusConflict
		}
		writeError(w, status, msg)
		return
	}
	guide, err := s.observeGuide(r, req, cur)
	if err != nil {
		status, msg := targetErrorStatus(err)
		if errors.Is(err, errBadGuideIndex) || errors.Is(err, errGuideRequired) || errors.Is(err, fieldsearch.ErrNoTargetSet) {
			status = http.StatusBadRequest
		}
		writeError(w, status, msg)
		return
	}

	cfg := s.cfg.Observability
	if req.MinAltitudeDeg != nil {
		if *req.MinAltitudeDeg < -5 || *req.MinAltitudeDeg >= 90 {
			writeError(w, http.StatusBadRequest, "min_altitude_deg must be within -5 and 90")
			return
		}
		cfg.MinAltitudeDeg = *req.MinAltitudeDeg
	}
	cfg.RefineCrossings = cfg.RefineCrossings || req.Refine

	v := observability.Check(target, guide, site, date, cfg)
	metrics.IncObservabilityCheck(v.Observable)

	resp := map[string]any{"verdict": v}
	if req.Candidates && cur != nil {
		objs := make([]skygeom.Coordinate, len(cur.Displayed))
		for i, st := range cur.Displayed {
			objs[i] = st.Coordinate()
		}
		reports := observability.EvaluateAll(r.Context(), objs, v.Night, cfg)
		cands := make([]candidateVerdict, len(reports))
		for i, rep := range reports {
			cands[i] = candidateVerdict{
				Index:           i,
				RA:              objs[i].RA,
				Dec:             objs[i].Dec,
				Observable:      rep.Observable,
				BestAltitudeDeg: rep.BestAltitudeDeg,
				RiseTime:        rep.RiseTime,
				SetTime:         rep.SetTime,
			}
		}
		resp["candidates"] = cands
	}

	s.logger.Info("observability checked",
		"site", site.Key,
		"date", v.Night.Date,
		"observable", v.Observable,
		"dark", v.Night.Dark(),
	)
	writeJSON(w, http.StatusOK, resp)
}

var (
	errBadGuideIndex = errors.New("guide_index out of range of the displayed list")
	errGuideRequired = errors.New("guide or guide_index is required")
)

func (s *Server) observeTarget(r *http.Request, text string, cur *fieldsearch.Result) (skygeom.Coordinate, error) {
	if text != "" {
		res, err := resolve.Target(r.Context(), text, s.deps.Resolver)
		return res.Coordinate, err
	}
	if cur == nil {
		return skygeom.Coordinate{}, fieldsearch.ErrNoTargetSet
	}
	return cur.Target, nil
}

func (s *Server) observeGuide(r *http.Request, req observabilityRequest, cur *fieldsearch.Result) (skygeom.Coordinate, error) {
	switch {
	case req.GuideIndex != nil:
		if cur == nil {
			return skygeom.Coordinate{}, fieldsearch.ErrNoTargetSet
		}
		i := *req.GuideIndex
		if i < 0 || i >= len(cur.Displayed) {
			return skygeom.Coordinate{}, errBadGuideIndex
		}
		return cur.Displayed[i].Coordinate(), nil
	case req.Guide != "":
		res, err := resolve.Target(r.Context(), req.Guide, s.deps.Resolver)
		return res.Coordinate, err
	default:
		return skygeom.Coordinate{}, errGuideRequired
	}
}
