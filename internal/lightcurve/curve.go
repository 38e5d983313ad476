package lightcurve

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/star/guidestar/internal/skygeom"
)

// Bands in the order their flag characters appear.
var bands = []string{"W1", "W2"}

// Cuts selects the quality cuts applied to single-exposure photometry.
type Cuts struct {
	CCFlags    bool `json:"cc_flags"`    // contamination flag '0' in the band
	SSOFlag    bool `json:"sso_flg"`     // no solar-system object association
	QIFact     bool `json:"qi_fact"`     // frame quality factor 1
	SAASep     bool `json:"saa_sep"`     // at least 5° from the South Atlantic Anomaly
	PhQual     bool `json:"ph_qual"`     // photometric quality 'A' in the band
	MoonMasked bool `json:"moon_masked"` // moon mask '0' in the band
	Saturation bool `json:"sat"`         // saturated pixel fraction at most 0.05
	RChi2      bool `json:"rchi2"`       // profile-fit reduced chi² at most 50
	QualFrame  bool `json:"qual_frame"`  // positive frame quality score
	Sky        bool `json:"sky"`         // sky background measured
	ZeroPoint  bool `json:"zp"`          // use the zero-point corrected magnitude when present
	SigmaClip  bool `json:"sigma_clip"`  // drop points beyond 3σ of the band mean
}

// DefaultCuts enables every cut.
func DefaultCuts() Cuts {
	return Cuts{
		CCFlags: true, SSOFlag: true, QIFact: true, SAASep: true,
		PhQual: true, MoonMasked: true, Saturation: true, RChi2: true,
		QualFrame: true, Sky: true, ZeroPoint: true, SigmaClip: true,
	}
}

// byName maps the cut names accepted by Skip to their fields.
func (c *Cuts) byName() map[string]*bool {
	return map[string]*bool{
		"cc_flags":    &c.CCFlags,
		"sso_flg":     &c.SSOFlag,
		"qi_fact":     &c.QIFact,
		"saa_sep":     &c.SAASep,
		"ph_qual":     &c.PhQual,
		"moon_masked": &c.MoonMasked,
		"sat":         &c.Saturation,
		"rchi2":       &c.RChi2,
		"qual_frame":  &c.QualFrame,
		"sky":         &c.Sky,
		"zp":          &c.ZeroPoint,
		"sigma_clip":  &c.SigmaClip,
	}
}

// Skip turns off the named cuts. "all" disables every cut. Unknown names
// are returned so callers can reject them.
func (c Cuts) Skip(names []string) (Cuts, []string) {
	fields := c.byName()
	var unknown []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		switch {
		case n == "":
		case n == "all":
			for _, f := range fields {
				*f = false
			}
		case fields[n] != nil:
			*fields[n] = false
		default:
			unknown = append(unknown, n)
		}
	}
	return c, unknown
}

// Pass reports whether m survives the enabled cuts.
func (c Cuts) Pass(m Measurement) bool {
	i := slices.Index(bands, m.Band)
	if i < 0 {
		return false
	}
	flagIs := func(flags string, want byte) bool {
		return len(flags) > i && flags[i] == want
	}
	switch {
	case c.CCFlags && !flagIs(m.CCFlags, '0'):
	case c.SSOFlag && m.SSOFlag != 0:
	case c.QIFact && m.QIFact != 1:
	case c.SAASep && m.SAASep < 5:
	case c.PhQual && !flagIs(m.PhQual, 'A'):
	case c.MoonMasked && !flagIs(m.MoonMasked, '0'):
	case c.Saturation && m.Sat > 0.05:
	case c.RChi2 && m.RChi2 > 50:
	case c.QualFrame && m.QualFrame <= 0:
	case c.Sky && m.Sky == nil:
	default:
		return true
	}
	return false
}

// Point is a magnitude and its error.
type Point struct {
	Mag float64 `json:"mag"`
	Err float64 `json:"err"`
}

// Observation is one epoch of the merged curve; a band without a surviving
// measurement at that MJD is nil.
type Observation struct {
	MJD float64 `json:"mjd"`
	W1  *Point  `json:"w1"`
	W2  *Point  `json:"w2"`
}

// Curve is a source's merged light curve.
type Curve struct {
	Source
	// SeparationArcsec is set for positional matches.
	SeparationArcsec *float64      `json:"separation_arcsec,omitempty"`
	Cuts             Cuts          `json:"cuts"`
	Raw              int           `json:"raw_measurements"`
	Observations     []Observation `json:"observations"`
}

// Build applies cuts to ms per band and merges the survivors by MJD.
func Build(src Source, ms []Measurement, cuts Cuts) Curve {
	curve := Curve{Source: src, Cuts: cuts, Raw: len(ms), Observations: []Observation{}}

	byMJD := make(map[float64]*Observation)
	for bi, band := range bands {
		var kept []Measurement
		for _, m := range ms {
			if m.Band == band && cuts.Pass(m) {
				if cuts.ZeroPoint && m.MagCorrected != nil {
					m.Mag = *m.MagCorrected
				}
				kept = append(kept, m)
			}
		}
		if cuts.SigmaClip {
			kept = sigmaClip(kept, 3)
		}
		for _, m := range kept {
			obs, ok := byMJD[m.MJD]
			if !ok {
				obs = &Observation{MJD: m.MJD}
				byMJD[m.MJD] = obs
			}
			p := &Point{Mag: m.Mag, Err: m.MagErr}
			if bi == 0 {
				obs.W1 = p
			} else {
				obs.W2 = p
			}
		}
	}

	for _, obs := range byMJD {
		curve.Observations = append(curve.Observations, *obs)
	}
	slices.SortFunc(curve.Observations, func(a, b Observation) int {
		switch {
		case a.MJD < b.MJD:
			return -1
		case a.MJD > b.MJD:
			return 1
		}
		return 0
	})
	return curve
}

// sigmaClip keeps the measurements within k sample standard deviations of
// the mean magnitude. Fewer than two points, or zero spread, pass unchanged.
func sigmaClip(ms []Measurement, k float64) []Measurement {
	n := float64(len(ms))
	if n < 2 {
		return ms
	}
	var sum float64
	for _, m := range ms {
		sum += m.Mag
	}
	mean := sum / n
	var ss float64
	for _, m := range ms {
		ss += (m.Mag - mean) * (m.Mag - mean)
	}
	std := math.Sqrt(ss / (n - 1))
	if !(std > 0) {
		return ms
	}
	out := ms[:0:0]
	for _, m := range ms {
		if math.Abs(m.Mag-mean) <= k*std {
			out = append(out, m)
		}
	}
	return out
}

// Lookup finds a source by ID, or by position when id is empty, and builds
// its curve with cuts.
func (s *Store) Lookup(ctx context.Context, id string, pos skygeom.Coordinate, cuts Cuts) (Curve, error) {
	var (
		src Source
		sep *float64
		err error
	)
	if id != "" {
		src, err = s.Source(ctx, id)
	} else {
		var d float64
		src, d, err = s.Nearest(ctx, pos)
		sep = &d
	}
	if err != nil {
		return Curve{}, err
	}

	ms, err := s.Measurements(ctx, src.SourceID)
	if err != nil {
		return Curve{}, err
	}
	curve := Build(src, ms, cuts)
	curve.SeparationArcsec = sep
	return curve, nil
}
