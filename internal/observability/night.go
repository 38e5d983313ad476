// Package observability decides whether a target and its guide star can be
// observed from a site on a given night: sunset, sunrise and astronomical
// twilight by coarse time scans, then an altitude window for each object.
package observability

import (
	"time"

	"github.com/star/guidestar/internal/transform"
)

const (
	// SunsetAltitudeDeg is the Sun's altitude at sunset and sunrise.
	SunsetAltitudeDeg = -0.5
	// TwilightAltitudeDeg is the astronomical twilight limit.
	TwilightAltitudeDeg = -18.0

	scanStep   = 15 * time.Minute
	scanWindow = 24 * time.Hour
)

// Window is the dark interval for one site and local civil date. Any of the
// four events is nil when the scan found no crossing (polar day or night,
// or a summer night that never gets astronomically dark).
type Window struct {
	Site            Site       `json:"site"`
	Date            string     `json:"date"` // YYYY-MM-DD, site civil date
	Sunset          *time.Time `json:"sunset"`
	EveningTwilight *time.Time `json:"evening_twilight"`
	MorningTwilight *time.Time `json:"morning_twilight"`
	Sunrise         *time.Time `json:"sunrise"`
}

// Dark reports whether both twilight bounds exist and enclose a positive interval.
func (w Window) Dark() bool {
	return w.EveningTwilight != nil && w.MorningTwilight != nil &&
		w.MorningTwilight.After(*w.EveningTwilight)
}

// Length is the astronomical night length, zero when not Dark.
func (w Window) Length() time.Duration {
	if !w.Dark() {
		return 0
	}
	return w.MorningTwilight.Sub(*w.EveningTwilight)
}

// Night computes the twilight window for the night that starts on date's
// calendar day at site. Evening events are scanned forward from local noon
// and morning events from the following local midnight.
func Night(site Site, date time.Time) Window {
	loc := site.Location()
	y, m, d := date.Date()
	noon := time.Date(y, m, d, 12, 0, 0, 0, loc)
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	sunAlt := func(t time.Time) float64 {
		return transform.SunAltitude(t, site.LatitudeDeg, site.LongitudeDeg)
	}

	return Window{
		Site:            site,
		Date:            noon.Format(time.DateOnly),
		Sunset:          scanDown(sunAlt, noon, SunsetAltitudeDeg),
		EveningTwilight: scanDown(sunAlt, noon, TwilightAltitudeDeg),
		MorningTwilight: scanUp(sunAlt, midnight, TwilightAltitudeDeg),
		Sunrise:         scanUp(sunAlt, midnight, SunsetAltitudeDeg),
	}
}

// scanDown returns the first sample at which alt drops below limit.
func scanDown(alt func(time.Time) float64, start time.Time, limit float64) *time.Time {
	return scan(alt, start, func(prev, cur float64) bool { return prev >= limit && cur < limit })
}

// scanUp returns the first sample at which alt rises above limit.
func scanUp(alt func(time.Time) float64, start time.Time, limit float64) *time.Time {
	return scan(alt, start, func(prev, cur float64) bool { return prev <= limit && cur > limit })
}

func scan(alt func(time.Time) float64, start time.Time, crossed func(prev, cur float64) bool) *time.Time {
	prev := alt(start)
	end := start.Add(scanWindow)
	for t := start.Add(scanStep); !t.After(end); t = t.Add(scanStep) {
		cur := alt(t)
		if crossed(prev, cur) {
			return &t
		}
		prev = cur
	}
	return nil
}
