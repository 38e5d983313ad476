package transform

import (
	"math"
	"time"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Equatorial is an apparent RA/Dec in degrees.
type Equatorial struct {
	RA  float64
	Dec float64
}

// SunPosition returns the Sun's low-precision apparent equatorial position
// (Astronomical Almanac short series, good to about 0.01° over 1950-2050).
func SunPosition(t time.Time) Equatorial {
	n := JulianDate(t) - j2000

	L := normalizeDeg(280.460 + 0.9856474*n) // mean longitude
	g := normalizeDeg(357.528+0.9856003*n) * degToRad

	// Ecliptic longitude via the equation of center.
	lambda := (L + 1.915*math.Sin(g) + 0.020*math.Sin(2*g)) * degToRad
	eps := (23.439 - 0.0000004*n) * degToRad

	ra := math.Atan2(math.Cos(eps)*math.Sin(lambda), math.Cos(lambda))
	dec := math.Asin(math.Sin(eps) * math.Sin(lambda))

	return Equatorial{
		RA:  normalizeDeg(ra * radToDeg),
		Dec: dec * radToDeg,
	}
}
