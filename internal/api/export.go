package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/star/guidestar/internal/catalog"
	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/skygeom"
)

// exportHeader precedes the catalog columns in the exported sheet.
var exportHeader = []string{
	"catalog", "ra_deg", "dec_deg", "ra_hms", "dec_dms",
	"separation_arcmin", "position_angle_deg", "recommended",
}

// handleExport writes the displayed star list as an XLSX workbook.
// GET /api/v1/export.xlsx?all=1 exports the full ranked list instead.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	cur := s.deps.Session.Current()
	if cur == nil {
		writeError(w, http.StatusConflict, fieldsearch.ErrNoTargetSet.Error())
		return
	}
	stars := cur.Displayed
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		stars = cur.Ranked
	}
	pa := *s.pa.Load()

	header := append(append([]string{}, exportHeader...), cur.Columns...)
	rows := make([][]any, 0, len(stars))
	for _, st := range stars {
		row := []any{
			st.Catalog,
			st.RA,
			st.Dec,
			skygeom.FormatRA(st.RA),
			skygeom.FormatDec(st.Dec),
			st.SeparationDeg * 60,
			st.PositionAngleDeg,
			pa.Recommended(st.PositionAngleDeg),
		}
		for _, col := range cur.Columns {
			row = append(row, st.Row[col])
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	if err := catalog.WriteXLSX(&buf, "guide stars", header, rows); err != nil {
		s.logger.Error("xlsx export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "guidestars.xlsx"))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
