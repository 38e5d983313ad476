package lightcurve

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// csvTable reads a comma-separated file with a header row. Lines starting
// with '#' are comments.
type csvTable struct {
	r      *csv.Reader
	header map[string]int
	line   []string
}

func newCSVTable(r io.Reader, required ...string) (*csvTable, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("file has no header row")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	t := &csvTable{r: cr, header: make(map[string]int, len(head))}
	for i, h := range head {
		t.header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	return t, nil
}

// next advances to the next record, returning false at EOF.
func (t *csvTable) next() (bool, error) {
	rec, err := t.r.Read()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	t.line = rec
	return true, nil
}

func (t *csvTable) str(col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(t.line) {
		return ""
	}
	return strings.TrimSpace(t.line[i])
}

func (t *csvTable) float(col string) (float64, error) {
	v := t.str(col)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: invalid number %q", col, v)
	}
	return f, nil
}

// optFloat reads a column that may be empty or absent.
func (t *csvTable) optFloat(col string) (*float64, error) {
	if t.str(col) == "" {
		return nil, nil
	}
	f, err := t.float(col)
	return &f, err
}

// ImportSources reads source_id,ra,dec[,allwise_id] rows into the store.
// Malformed rows are skipped with a warning. It returns the number stored.
func (s *Store) ImportSources(ctx context.Context, r io.Reader) (int, error) {
	t, err := newCSVTable(r, "source_id", "ra", "dec")
	if err != nil {
		return 0, fmt.Errorf("sources: %w", err)
	}
	n := 0
	for row := 1; ; row++ {
		ok, err := t.next()
		if err != nil {
			return n, fmt.Errorf("sources row %d: %w", row, err)
		}
		if !ok {
			break
		}
		src := Source{SourceID: t.str("source_id"), AllWISEID: t.str("allwise_id")}
		if src.RA, err = t.float("ra"); err == nil {
			src.Dec, err = t.float("dec")
		}
		if err == nil {
			err = s.PutSource(ctx, src)
		}
		if err != nil {
			s.logger.Warn("skipping light curve source", "row_index", row, "error", err)
			continue
		}
		n++
	}
	s.logger.Info("light curve sources imported", "count", n)
	return n, nil
}

// ImportMeasurements reads NEOWISE single-exposure rows (source_id, mjd,
// band, mpro, sigmpro and optional mpro_corrected plus quality columns).
// Rows for unknown sources or with malformed numbers are skipped with a
// warning. It returns the number stored.
func (s *Store) ImportMeasurements(ctx context.Context, r io.Reader) (int, error) {
	t, err := newCSVTable(r, "source_id", "mjd", "band", "mpro", "sigmpro")
	if err != nil {
		return 0, fmt.Errorf("measurements: %w", err)
	}

	bySource := make(map[string][]Measurement)
	var order []string
	for row := 1; ; row++ {
		ok, err := t.next()
		if err != nil {
			return 0, fmt.Errorf("measurements row %d: %w", row, err)
		}
		if !ok {
			break
		}
		m, err := t.measurement()
		if err != nil {
			s.logger.Warn("skipping light curve measurement", "row_index", row, "error", err)
			continue
		}
		id := t.str("source_id")
		if _, seen := bySource[id]; !seen {
			order = append(order, id)
		}
		bySource[id] = append(bySource[id], m)
	}

	n := 0
	for _, id := range order {
		if err := s.AddMeasurements(ctx, id, bySource[id]); err != nil {
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn("skipping measurements for unknown source", "source_id", id, "count", len(bySource[id]))
				continue
			}
			return n, err
		}
		n += len(bySource[id])
	}
	s.logger.Info("light curve measurements imported", "count", n, "sources", len(order))
	return n, nil
}

func (t *csvTable) measurement() (Measurement, error) {
	m := Measurement{
		Band:       strings.ToUpper(t.str("band")),
		CCFlags:    t.str("cc_flags"),
		PhQual:     t.str("ph_qual"),
		MoonMasked: t.str("moon_masked"),
	}
	if m.Band != "W1" && m.Band != "W2" {
		return m, fmt.Errorf("unknown band %q", m.Band)
	}

	var err error
	for _, f := range []struct {
		col string
		dst *float64
	}{
		{"mjd", &m.MJD},
		{"mpro", &m.Mag},
		{"sigmpro", &m.MagErr},
	} {
		if *f.dst, err = t.float(f.col); err != nil {
			return m, err
		}
	}
	for _, f := range []struct {
		col string
		dst *float64
	}{
		{"qi_fact", &m.QIFact},
		{"saa_sep", &m.SAASep},
		{"sat", &m.Sat},
		{"rchi2", &m.RChi2},
		{"qual_frame", &m.QualFrame},
	} {
		v, err := t.optFloat(f.col)
		if err != nil {
			return m, err
		}
		if v != nil {
			*f.dst = *v
		}
	}
	if v := t.str("sso_flg"); v != "" {
		if m.SSOFlag, err = strconv.Atoi(v); err != nil {
			return m, fmt.Errorf("column sso_flg: invalid integer %q", v)
		}
	}
	if m.MagCorrected, err = t.optFloat("mpro_corrected"); err != nil {
		return m, err
	}
	if m.Sky, err = t.optFloat("sky"); err != nil {
		return m, err
	}
	return m, nil
}
