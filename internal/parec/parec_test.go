package parec

import (
	"math"
	"testing"

	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/skygeom"
)

func TestSlitPA(t *testing.T) {
	tests := []struct {
		inst, want float64
	}{
		{0, 90},
		{270, 0},
		{300, 30},
		{-45, 45},
	}
	for _, tt := range tests {
		if got := (Config{InstrumentPA: tt.inst}).SlitPA(); got != tt.want {
			t.Errorf("SlitPA(%g) = %g, want %g", tt.inst, got, tt.want)
		}
	}
}

func TestRecommended(t *testing.T) {
	cfg := Config{Enabled: true, InstrumentPA: 0, ToleranceDeg: 30}

	tests := []struct {
		pa   float64
		want bool
	}{
		{95, true},
		{150, false},
		{90, true},
		{270, true},
		{241, true},
		{300, false}, // exactly on the boundary: strict inequality
		{60, false},
		{0, false},
		{119.9, true},
	}
	for _, tt := range tests {
		if got := cfg.Recommended(tt.pa); got != tt.want {
			t.Errorf("Recommended(%g) = %v, want %v", tt.pa, got, tt.want)
		}
	}
}

func TestRecommendedWrapAround(t *testing.T) {
	// Slit PA 0: the wedges straddle North.
	cfg := Config{Enabled: true, InstrumentPA: 270, ToleranceDeg: 10}
	for _, pa := range []float64{355, 0, 5, 175, 185} {
		if !cfg.Recommended(pa) {
			t.Errorf("Recommended(%g) = false, want true", pa)
		}
	}
	if cfg.Recommended(20) {
		t.Error("Recommended(20) = true, want false")
	}
}

func TestRecommendedAtSlitForAnyTolerance(t *testing.T) {
	for _, tol := range []float64{1e-9, 0.5, 5, 90} {
		for inst := 0.0; inst < 360; inst += 15 {
			cfg := Config{Enabled: true, InstrumentPA: inst, ToleranceDeg: tol}
			if !cfg.Recommended(cfg.SlitPA()) {
				t.Fatalf("star at slit PA not recommended (inst=%g tol=%g)", inst, tol)
			}
			// Boundary of the opposite wedge must evaluate without trouble.
			_ = cfg.Recommended(skygeom.NormalizeDeg(cfg.SlitPA() + 180 + tol))
			_ = cfg.Recommended(skygeom.NormalizeDeg(cfg.SlitPA() + 180 - tol))
		}
	}
}

func TestDisabledNeverRecommends(t *testing.T) {
	cfg := Config{Enabled: false, InstrumentPA: 0, ToleranceDeg: 180}
	for pa := 0.0; pa < 360; pa += 10 {
		if cfg.Recommended(pa) {
			t.Fatalf("disabled config recommended pa=%g", pa)
		}
	}
	if w := cfg.Wedges(skygeom.Coordinate{RA: 10, Dec: 10}, 0.4, 8); w != nil {
		t.Errorf("disabled config produced %d wedges", len(w))
	}
}

func TestWedgesGeometry(t *testing.T) {
	target := skygeom.Coordinate{RA: 271.756, Dec: -20.086}
	cfg := Config{Enabled: true, InstrumentPA: 0, ToleranceDeg: 30}
	radius := 25.0 / 60

	wedges := cfg.Wedges(target, radius, 10)
	if len(wedges) != 2 {
		t.Fatalf("wedges = %d, want 2", len(wedges))
	}
	if wedges[0].CenterDeg != 90 || wedges[1].CenterDeg != 270 {
		t.Errorf("centers = %g, %g; want 90, 270", wedges[0].CenterDeg, wedges[1].CenterDeg)
	}

	wantPA := [3]float64{90, 60, 120}
	for i, r := range wedges[0].Rays {
		if r.PositionAngleDeg != wantPA[i] {
			t.Errorf("ray %d PA = %g, want %g", i, r.PositionAngleDeg, wantPA[i])
		}
		if len(r.Points) != 11 {
			t.Fatalf("ray %d has %d points, want 11", i, len(r.Points))
		}
		if r.Points[0] != target {
			t.Errorf("ray %d does not start at the target", i)
		}
		end := skygeom.Separation(target, r.Points[len(r.Points)-1])
		if math.Abs(end-radius) > 1e-9 {
			t.Errorf("ray %d length = %g, want %g", i, end, radius)
		}
	}
	if wedges[0].Rays[0].Kind != RayCenter || wedges[0].Rays[1].Kind != RayBoundary {
		t.Error("unexpected ray kinds")
	}
}

func TestMarkersAndAnnotate(t *testing.T) {
	stars := []fieldsearch.FieldStar{
		{RA: 1, Dec: 1, SeparationDeg: 0.05, PositionAngleDeg: 95},
		{RA: 2, Dec: 2, SeparationDeg: 0.10, PositionAngleDeg: 150},
	}
	cfg := Config{Enabled: true, InstrumentPA: 0, ToleranceDeg: 30}

	markers := cfg.Markers(stars)
	if len(markers) != 2 {
		t.Fatalf("markers = %d, want 2", len(markers))
	}
	if !markers[0].Recommended || markers[0].Size <= markers[1].Size || markers[0].Color == markers[1].Color {
		t.Errorf("recommended marker not highlighted: %+v vs %+v", markers[0], markers[1])
	}
	if markers[1].Index != 1 {
		t.Errorf("marker index = %d, want 1", markers[1].Index)
	}

	ann := cfg.Annotate(stars)
	if !ann[0].Recommended || ann[1].Recommended {
		t.Errorf("annotations = %v, %v; want true, false", ann[0].Recommended, ann[1].Recommended)
	}
}
