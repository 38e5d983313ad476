package transform

import (
	"math"
	"time"
)

// Horizontal holds the local position of an object for an observer.
type Horizontal struct {
	AltitudeDeg  float64 // 0 = horizon, 90 = zenith
	AzimuthDeg   float64 // 0 = North, clockwise
	HourAngleDeg float64 // (-180, 180], positive west of the meridian
}

// HorizontalFromEquatorial converts RA/Dec (degrees) to altitude/azimuth for
// an observer at latitude latDeg with local sidereal time lstDeg.
func HorizontalFromEquatorial(raDeg, decDeg, latDeg, lstDeg float64) Horizontal {
	ha := normalizeHourAngle(lstDeg - raDeg)

	dec := decDeg * degToRad
	lat := latDeg * degToRad
	h := ha * degToRad

	sinAlt := math.Sin(dec)*math.Sin(lat) + math.Cos(dec)*math.Cos(lat)*math.Cos(h)
	sinAlt = clamp(sinAlt, -1, 1)
	alt := math.Asin(sinAlt)

	// Azimuth from North; undefined at the zenith or the poles, where 0 is returned.
	var az float64
	denom := math.Cos(alt) * math.Cos(lat)
	if math.Abs(denom) > 1e-12 {
		cosAz := clamp((math.Sin(dec)-sinAlt*math.Sin(lat))/denom, -1, 1)
		az = math.Acos(cosAz) * radToDeg
		if math.Sin(h) > 0 {
			az = 360 - az
		}
	}

	return Horizontal{
		AltitudeDeg:  alt * radToDeg,
		AzimuthDeg:   normalizeDeg(az),
		HourAngleDeg: ha,
	}
}

// AltAz evaluates HorizontalFromEquatorial at time t for an observer at
// (latDeg, lonDeg), east longitude positive.
func AltAz(raDeg, decDeg float64, t time.Time, latDeg, lonDeg float64) Horizontal {
	return HorizontalFromEquatorial(raDeg, decDeg, latDeg, LST(t, lonDeg))
}

// SunAltitude returns the Sun's altitude in degrees at time t.
func SunAltitude(t time.Time, latDeg, lonDeg float64) float64 {
	sun := SunPosition(t)
	return AltAz(sun.RA, sun.Dec, t, latDeg, lonDeg).AltitudeDeg
}

// normalizeHourAngle maps an angle into (-180, 180].
func normalizeHourAngle(a float64) float64 {
	a = normalizeDeg(a)
	if a > 180 {
		a -= 360
	}
	return a
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
