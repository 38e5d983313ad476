package observability

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/star/guidestar/internal/skygeom"
	"github.com/star/guidestar/internal/transform"
)

const (
	// DefaultMinAltitudeDeg is the altitude an object must reach to be observable.
	DefaultMinAltitudeDeg = 30.0
	// DefaultSamples is the number of altitude samples across the night.
	DefaultSamples = 48

	refineTolerance = time.Second
	refineMaxIter   = 32
)

// Config tunes Evaluate. MinAltitudeDeg is used as given, so zero means the
// horizon; start from DefaultConfig for the 30° limit.
type Config struct {
	MinAltitudeDeg float64
	Samples        int
	// RefineCrossings bisects between the bracketing samples so rise and set
	// times are accurate to about a second instead of one sample interval.
	RefineCrossings bool
}

// DefaultConfig returns the sample-resolution configuration.
func DefaultConfig() Config {
	return Config{MinAltitudeDeg: DefaultMinAltitudeDeg, Samples: DefaultSamples}
}

func (c Config) withDefaults() Config {
	if c.Samples < 2 {
		c.Samples = DefaultSamples
	}
	return c
}

// Sample is one point of an object's altitude curve.
type Sample struct {
	Time        time.Time `json:"time"`
	AltitudeDeg float64   `json:"altitude_deg"`
	AzimuthDeg  float64   `json:"azimuth_deg"`
	Airmass     float64   `json:"airmass"`
}

// Report is the observability of one object during one night.
type Report struct {
	Sunrise         *time.Time `json:"sunrise"`
	Sunset          *time.Time `json:"sunset"`
	EveningTwilight *time.Time `json:"evening_twilight"`
	MorningTwilight *time.Time `json:"morning_twilight"`
	Observable      bool       `json:"observable"`
	BestTime        *time.Time `json:"best_time"`
	BestAltitudeDeg float64    `json:"best_altitude_deg"`
	RiseTime        *time.Time `json:"rise_time"`
	SetTime         *time.Time `json:"set_time"`
	Samples         []Sample   `json:"samples,omitempty"`
}

// Evaluate samples obj's altitude between evening and morning twilight of w.
// A window without darkness yields a non-observable report, never an error.
func Evaluate(obj skygeom.Coordinate, w Window, cfg Config) Report {
	cfg = cfg.withDefaults()
	rep := Report{
		Sunrise:         w.Sunrise,
		Sunset:          w.Sunset,
		EveningTwilight: w.EveningTwilight,
		MorningTwilight: w.MorningTwilight,
	}
	if !w.Dark() {
		return rep
	}

	lat, lon := w.Site.LatitudeDeg, w.Site.LongitudeDeg
	altAt := func(t time.Time) float64 {
		return transform.AltAz(obj.RA, obj.Dec, t, lat, lon).AltitudeDeg
	}

	step := w.Length() / time.Duration(cfg.Samples)
	limit := cfg.MinAltitudeDeg
	rep.Samples = make([]Sample, cfg.Samples)
	rep.BestAltitudeDeg = math.Inf(-1)

	riseIdx, setIdx := -1, -1
	for i := range cfg.Samples {
		t := w.EveningTwilight.Add(time.Duration(i) * step)
		h := transform.AltAz(obj.RA, obj.Dec, t, lat, lon)
		rep.Samples[i] = Sample{
			Time:        t,
			AltitudeDeg: h.AltitudeDeg,
			AzimuthDeg:  h.AzimuthDeg,
			Airmass:     Airmass(h.AltitudeDeg),
		}
		if h.AltitudeDeg > rep.BestAltitudeDeg {
			rep.BestAltitudeDeg = h.AltitudeDeg
			best := t
			rep.BestTime = &best
		}
		if i == 0 {
			continue
		}
		prev := rep.Samples[i-1].AltitudeDeg
		if prev < limit && h.AltitudeDeg >= limit && riseIdx < 0 {
			riseIdx = i
		}
		if prev >= limit && h.AltitudeDeg < limit {
			setIdx = i
		}
	}

	rep.Observable = rep.BestAltitudeDeg >= limit
	if riseIdx > 0 {
		rep.RiseTime = crossingTime(rep.Samples, riseIdx, cfg.RefineCrossings, altAt, limit)
	}
	if setIdx > 0 {
		rep.SetTime = crossingTime(rep.Samples, setIdx, cfg.RefineCrossings, altAt, limit)
	}
	return rep
}

// crossingTime returns the sample time at index i, or with refine the
// bisected instant between samples i-1 and i where alt crosses limit.
func crossingTime(samples []Sample, i int, refine bool, alt func(time.Time) float64, limit float64) *time.Time {
	t := samples[i].Time
	if !refine {
		return &t
	}
	lo, hi := samples[i-1].Time, samples[i].Time
	loAbove := samples[i-1].AltitudeDeg >= limit
	for n := 0; n < refineMaxIter && hi.Sub(lo) > refineTolerance; n++ {
		mid := lo.Add(hi.Sub(lo) / 2)
		if (alt(mid) >= limit) == loAbove {
			lo = mid
		} else {
			hi = mid
		}
	}
	return &hi
}

// Airmass is the Kasten-Young (1989) relative air mass, clamped to [1, 40].
// Below -2° it returns 99 to flag "below the horizon".
func Airmass(altDeg float64) float64 {
	if altDeg < -2 {
		return 99
	}
	x := 1 / (math.Sin(altDeg*math.Pi/180) + 0.50572*math.Pow(altDeg+6.07995, -1.6364))
	if math.IsNaN(x) || x > 40 || x < 0 {
		return 40
	}
	return math.Max(1, x)
}

// Verdict combines target and guide reports for the same night.
type Verdict struct {
	Night      Window `json:"night"`
	Target     Report `json:"target"`
	Guide      Report `json:"guide"`
	Observable bool   `json:"observable"`
}

// Check evaluates target and guide against the night starting on date at site.
// The pair is observable only if both objects are.
func Check(target, guide skygeom.Coordinate, site Site, date time.Time, cfg Config) Verdict {
	w := Night(site, date)
	v := Verdict{
		Night:  w,
		Target: Evaluate(target, w, cfg),
		Guide:  Evaluate(guide, w, cfg),
	}
	v.Observable = v.Target.Observable && v.Guide.Observable
	return v
}

// EvaluateAll evaluates many objects against one window. Each object runs in
// its own goroutine, bounded by a semaphore of runtime.NumCPU(). Objects not
// reached before ctx is cancelled keep a zero (non-observable) report.
func EvaluateAll(ctx context.Context, objs []skygeom.Coordinate, w Window, cfg Config) []Report {
	results := make([]Report, len(objs))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, obj := range objs {
		wg.Add(1)
		go func(idx int, c skygeom.Coordinate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
			rep := Evaluate(c, w, cfg)
			rep.Samples = nil
			results[idx] = rep
		}(i, obj)
	}

	wg.Wait()
	return results
}
