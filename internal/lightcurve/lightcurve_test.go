package lightcurve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/star/guidestar/internal/skygeom"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lightcurves.db"), testLogger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func f64(v float64) *float64 { return &v }

// good returns a measurement that passes every cut.
func good(band string, mjd, mag float64) Measurement {
	return Measurement{
		MJD: mjd, Band: band, Mag: mag, MagErr: 0.02,
		CCFlags: "00", PhQual: "AA", MoonMasked: "00",
		QIFact: 1, SAASep: 20, Sat: 0, RChi2: 1.2, QualFrame: 10, Sky: f64(12.5),
	}
}

func TestNearestWithinMatchRadius(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, src := range []Source{
		{SourceID: "4515624509348164608", RA: 292.181969, Dec: 19.522439, AllWISEID: "J192843.67+193120.8"},
		{SourceID: "neighbour", RA: 292.1825, Dec: 19.5224},
		{SourceID: "wrap", RA: 359.9997, Dec: 0},
	} {
		if err := s.PutSource(ctx, src); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		pos     skygeom.Coordinate
		want    string
		wantSep float64
	}{
		{"exact", skygeom.Coordinate{RA: 292.181969, Dec: 19.522439}, "4515624509348164608", 0},
		{"one arcsec north", skygeom.Coordinate{RA: 292.181969, Dec: 19.522439 + 1.0/3600}, "4515624509348164608", 1},
		{"across zero RA", skygeom.Coordinate{RA: 0.0002, Dec: 0}, "wrap", 1.8},
		{"too far", skygeom.Coordinate{RA: 292.181969, Dec: 19.522439 - 5.0/3600}, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, sep, err := s.Nearest(ctx, tt.pos)
			if tt.want == "" {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("err = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if src.SourceID != tt.want {
				t.Errorf("source = %s, want %s", src.SourceID, tt.want)
			}
			if math.Abs(sep-tt.wantSep) > 0.01 {
				t.Errorf("separation = %.3f arcsec, want %.2f", sep, tt.wantSep)
			}
		})
	}
}

func TestPutSourceValidates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.PutSource(ctx, Source{RA: 10, Dec: 10}); err == nil {
		t.Error("expected error for empty source_id")
	}
	if err := s.PutSource(ctx, Source{SourceID: "x", RA: 10, Dec: 95}); err == nil {
		t.Error("expected error for Dec out of range")
	}
	if err := s.PutSource(ctx, Source{SourceID: "x", RA: 10, Dec: 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSource(ctx, Source{SourceID: "x", RA: 11, Dec: 10, AllWISEID: "J1"}); err != nil {
		t.Fatal(err)
	}
	src, err := s.Source(ctx, "x")
	if err != nil || src.RA != 11 || src.AllWISEID != "J1" {
		t.Errorf("upsert: src=%+v err=%v", src, err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if err := s.AddMeasurements(ctx, "missing", []Measurement{good("W1", 1, 10)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("measurements for unknown source: err = %v", err)
	}
}

func TestCutsPass(t *testing.T) {
	mutate := func(band string, f func(*Measurement)) Measurement {
		m := good(band, 58000, 10)
		f(&m)
		return m
	}
	tests := []struct {
		name string
		m    Measurement
		skip string
		want bool
	}{
		{"clean W1", good("W1", 58000, 10), "", true},
		{"clean W2", good("W2", 58000, 10), "", true},
		{"unknown band", good("W3", 58000, 10), "", false},
		{"W2 contaminated", mutate("W2", func(m *Measurement) { m.CCFlags = "0D" }), "", false},
		{"W1 ignores W2 flag", mutate("W1", func(m *Measurement) { m.CCFlags = "0D" }), "", true},
		{"short flag string", mutate("W2", func(m *Measurement) { m.PhQual = "A" }), "", false},
		{"solar system object", mutate("W1", func(m *Measurement) { m.SSOFlag = 1 }), "", false},
		{"poor frame", mutate("W1", func(m *Measurement) { m.QIFact = 0.5 }), "", false},
		{"near SAA", mutate("W1", func(m *Measurement) { m.SAASep = 4.9 }), "", false},
		{"moon", mutate("W1", func(m *Measurement) { m.MoonMasked = "10" }), "", false},
		{"saturated", mutate("W1", func(m *Measurement) { m.Sat = 0.06 }), "", false},
		{"bad fit", mutate("W1", func(m *Measurement) { m.RChi2 = 51 }), "", false},
		{"zero frame quality", mutate("W1", func(m *Measurement) { m.QualFrame = 0 }), "", false},
		{"no sky", mutate("W1", func(m *Measurement) { m.Sky = nil }), "", false},
		{"saturation cut skipped", mutate("W1", func(m *Measurement) { m.Sat = 0.5 }), "sat", true},
		{"all cuts skipped", mutate("W2", func(m *Measurement) { *m = Measurement{Band: "W2"} }), "all", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cuts, unknown := DefaultCuts().Skip(strings.Split(tt.skip, ","))
			if len(unknown) != 0 {
				t.Fatalf("unknown cuts %v", unknown)
			}
			if got := cuts.Pass(tt.m); got != tt.want {
				t.Errorf("Pass = %v, want %v", got, tt.want)
			}
		})
	}

	if _, unknown := DefaultCuts().Skip([]string{"sat", "bogus"}); len(unknown) != 1 || unknown[0] != "bogus" {
		t.Errorf("unknown = %v, want [bogus]", unknown)
	}
}

func TestBuildMergesBandsAndClips(t *testing.T) {
	var ms []Measurement
	for i := range 20 {
		ms = append(ms, good("W1", 58000+float64(i), 10))
	}
	ms = append(ms, good("W1", 58020, 15)) // outlier
	w2 := good("W2", 58000, 9.5)
	w2.MagCorrected = f64(9.4)
	ms = append(ms, w2, good("W2", 58030, 9.6))
	bad := good("W2", 58031, 9.6)
	bad.SAASep = 1
	ms = append(ms, bad)

	src := Source{SourceID: "s1", RA: 10, Dec: 10}
	curve := Build(src, ms, DefaultCuts())

	if curve.Raw != len(ms) {
		t.Errorf("raw = %d, want %d", curve.Raw, len(ms))
	}
	// 20 W1 epochs (58000 shared with W2) plus the W2-only epoch at 58030.
	if len(curve.Observations) != 21 {
		t.Fatalf("observations = %d, want 21", len(curve.Observations))
	}
	first := curve.Observations[0]
	if first.MJD != 58000 || first.W1 == nil || first.W2 == nil {
		t.Fatalf("first epoch = %+v, want both bands at 58000", first)
	}
	if first.W2.Mag != 9.4 {
		t.Errorf("W2 mag = %v, want zero-point corrected 9.4", first.W2.Mag)
	}
	last := curve.Observations[len(curve.Observations)-1]
	if last.MJD != 58030 || last.W1 != nil || last.W2 == nil {
		t.Errorf("last epoch = %+v, want W2 only at 58030", last)
	}
	for _, o := range curve.Observations {
		if o.MJD == 58020 {
			t.Error("3σ outlier survived")
		}
		if o.MJD == 58031 {
			t.Error("SAA measurement survived")
		}
	}
	for i := 1; i < len(curve.Observations); i++ {
		if curve.Observations[i].MJD <= curve.Observations[i-1].MJD {
			t.Fatalf("observations not sorted at %d", i)
		}
	}

	raw, _ := DefaultCuts().Skip([]string{"all"})
	all := Build(src, ms, raw)
	if len(all.Observations) != 23 {
		t.Errorf("unfiltered observations = %d, want 23", len(all.Observations))
	}
	if all.Observations[0].W2.Mag != 9.5 {
		t.Errorf("unfiltered W2 mag = %v, want uncorrected 9.5", all.Observations[0].W2.Mag)
	}
}

func TestSigmaClipFlatSeries(t *testing.T) {
	ms := []Measurement{good("W1", 1, 10), good("W1", 2, 10), good("W1", 3, 10)}
	if got := sigmaClip(ms, 3); len(got) != 3 {
		t.Errorf("flat series clipped to %d", len(got))
	}
	if got := sigmaClip(ms[:1], 3); len(got) != 1 {
		t.Errorf("single point clipped to %d", len(got))
	}
}

const sourcesCSV = `# NEOWISE targets
source_id,ra,dec,AllWISE_ID
4515624509348164608,292.181969,19.522439,J192843.67+193120.8
5972956420926034944,251.354,-46.196,J164524.96-461145.6
broken,abc,1
`

const measurementsCSV = `source_id,mjd,band,mpro,sigmpro,mpro_corrected,cc_flags,ph_qual,moon_masked,sso_flg,qi_fact,saa_sep,sat,rchi2,qual_frame,sky
4515624509348164608,57000.1,W1,11.20,0.02,11.18,00,AA,00,0,1,30,0,1.1,10,12.4
4515624509348164608,57000.1,W2,10.90,0.03,,00,AA,00,0,1,30,0,1.3,10,13.0
4515624509348164608,57180.4,W1,11.25,0.02,11.22,00,AA,00,0,1,30,0,1.0,10,
4515624509348164608,57180.4,W9,11.25,0.02,,00,AA,00,0,1,30,0,1.0,10,12
unknown,57000.1,W1,9,0.02,,00,AA,00,0,1,30,0,1.1,10,12
`

func TestImportAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.ImportSources(ctx, strings.NewReader(sourcesCSV))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("sources imported = %d, want 2", n)
	}
	n, err = s.ImportMeasurements(ctx, strings.NewReader(measurementsCSV))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("measurements imported = %d, want 3", n)
	}

	ms, err := s.Measurements(ctx, "4515624509348164608")
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 3 || ms[1].MagCorrected != nil || ms[2].Sky != nil {
		t.Fatalf("measurements = %+v", ms)
	}

	byID, err := s.Lookup(ctx, "4515624509348164608", skygeom.Coordinate{}, DefaultCuts())
	if err != nil {
		t.Fatal(err)
	}
	if byID.AllWISEID != "J192843.67+193120.8" || byID.SeparationArcsec != nil {
		t.Errorf("by id = %+v", byID)
	}
	// The second W1 epoch has no sky value and is cut.
	if len(byID.Observations) != 1 || byID.Observations[0].W1.Mag != 11.18 {
		t.Errorf("observations = %+v", byID.Observations)
	}

	near := skygeom.Coordinate{RA: 292.181969, Dec: 19.522439 + 2.0/3600}
	byPos, err := s.Lookup(ctx, "", near, DefaultCuts())
	if err != nil {
		t.Fatal(err)
	}
	if byPos.SourceID != "4515624509348164608" || byPos.SeparationArcsec == nil || math.Abs(*byPos.SeparationArcsec-2) > 0.01 {
		t.Errorf("by position = %+v", byPos)
	}

	if _, err := s.Lookup(ctx, "nope", skygeom.Coordinate{}, DefaultCuts()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: err = %v", err)
	}
}

func TestImportRejectsMissingColumns(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.ImportSources(context.Background(), strings.NewReader("source_id,ra\n1,2\n")); err == nil {
		t.Error("expected error for missing dec column")
	}
	if _, err := s.ImportMeasurements(context.Background(), strings.NewReader("")); err == nil {
		t.Error("expected error for empty file")
	}
}
