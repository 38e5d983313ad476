package api

import (
	"errors"
	"net/http"

	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/handoff"
)

// POST /api/v1/handoff
func (s *Server) handleHandoffSave(w http.ResponseWriter, r *http.Request) {
	if s.deps.Handoff == nil {
		writeError(w, http.StatusServiceUnavailable, "handoff store not configured")
		return
	}
	cur := s.deps.Session.Current()
	if cur == nil {
		writeError(w, http.StatusConflict, fieldsearch.ErrNoTargetSet.Error())
		return
	}

	snap, err := s.deps.Handoff.Save(r.Context(), handoff.FromResult(cur, *s.pa.Load()))
	if err != nil {
		if errors.Is(err, handoff.ErrStorageQuotaExceeded) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": err.Error(),
				"hint":  "narrow the result with a magnitude filter and try again",
			})
			return
		}
		s.logger.Error("handoff save failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save snapshot")
		return
	}

	w.Header().Set("Location", "/api/v1/handoff/"+snap.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         snap.ID,
		"created_at": snap.CreatedAt,
		"ranked":     len(snap.Ranked),
		"displayed":  len(snap.Displayed),
	})
}

// GET /api/v1/handoff/{id}; the id "latest" returns the newest snapshot.
func (s *Server) handleHandoffLoad(w http.ResponseWriter, r *http.Request) {
	if s.deps.Handoff == nil {
		writeError(w, http.StatusServiceUnavailable, "handoff store not configured")
		return
	}
	id := r.PathValue("id")

	var (
		snap handoff.Snapshot
		err  error
	)
	if id == "latest" {
		snap, err = s.deps.Handoff.Latest(r.Context())
	} else {
		snap, err = s.deps.Handoff.Load(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, handoff.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("handoff load failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
