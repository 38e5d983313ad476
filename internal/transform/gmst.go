// Package transform provides the low-precision time and coordinate-frame
// conversions behind the observability engine: Julian Date, sidereal time,
// the Sun's apparent position and the equatorial to horizontal transform.
//
// Accuracy is at the arcminute level, which is ample for twilight times and
// altitude windows sampled every few minutes. Refraction, nutation and
// aberration are ignored.
package transform

import (
	"math"
	"time"
)

const (
	// j2000 is the Julian Date of the J2000.0 epoch.
	j2000 = 2451545.0
	// unixEpochJD is the Julian Date of 1970-01-01T00:00:00Z.
	unixEpochJD   = 2440587.5
	secondsPerDay = 86400.0
)

// JulianDate returns the Julian Date of t. UTC is used in place of UT1; the
// difference (under a second) is far below the engine's resolution.
func JulianDate(t time.Time) float64 {
	sec := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return unixEpochJD + sec/secondsPerDay
}

// GMST returns Greenwich mean sidereal time in radians [0, 2π) using the
// IAU 1982 expression in days since J2000.0 (Meeus eq. 12.4):
//
//	θ = 280.46061837° + 360.98564736629°·d + 0.000387933°·T² − T³/38710000
//
// with d = JD − 2451545.0 and T = d/36525.
func GMST(t time.Time) float64 {
	d := JulianDate(t) - j2000
	T := d / 36525.0
	deg := 280.46061837 + 360.98564736629*d + 0.000387933*T*T - T*T*T/38710000.0
	return normalizeDeg(deg) * math.Pi / 180
}

// LST returns the local mean sidereal time in degrees [0, 360) for an observer
// at east longitude lonDeg.
func LST(t time.Time, lonDeg float64) float64 {
	return normalizeDeg(GMST(t)*180/math.Pi + lonDeg)
}

func normalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	return a
}
