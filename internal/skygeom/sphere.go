package skygeom

import "math"

// Separation returns the great-circle distance between a and b in degrees.
// Uses the haversine form 2·asin(sqrt(hav)), which stays well conditioned for
// small separations.
func Separation(a, b Coordinate) float64 {
	ra1, dec1 := a.RA*degToRad, a.Dec*degToRad
	ra2, dec2 := b.RA*degToRad, b.Dec*degToRad

	sdDec := math.Sin((dec2 - dec1) / 2)
	sdRA := math.Sin((ra2 - ra1) / 2)
	hav := sdDec*sdDec + math.Cos(dec1)*math.Cos(dec2)*sdRA*sdRA

	// Rounding can push hav marginally outside [0, 1] near antipodes.
	hav = math.Max(0, math.Min(1, hav))

	return 2 * math.Asin(math.Sqrt(hav)) * radToDeg
}

// PositionAngle returns the bearing from one position to another, measured
// from North through East, in [0, 360).
func PositionAngle(from, to Coordinate) float64 {
	dec1 := from.Dec * degToRad
	dec2 := to.Dec * degToRad
	dRA := (to.RA - from.RA) * degToRad

	y := math.Sin(dRA)
	x := math.Cos(dec1)*math.Tan(dec2) - math.Sin(dec1)*math.Cos(dRA)
	pa := math.Atan2(y, x) * radToDeg
	if pa < 0 {
		pa += 360
	}
	if pa >= 360 {
		pa -= 360
	}
	return pa
}

// Offset returns the position reached by travelling distDeg along the great
// circle leaving from with position angle paDeg.
func Offset(from Coordinate, paDeg, distDeg float64) Coordinate {
	dec1 := from.Dec * degToRad
	theta := paDeg * degToRad
	delta := distDeg * degToRad

	sinDec2 := math.Sin(dec1)*math.Cos(delta) + math.Cos(dec1)*math.Sin(delta)*math.Cos(theta)
	sinDec2 = math.Max(-1, math.Min(1, sinDec2))
	dec2 := math.Asin(sinDec2)

	dRA := math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(dec1),
		math.Cos(delta)-math.Sin(dec1)*sinDec2,
	)

	return Coordinate{
		RA:  NormalizeDeg(from.RA + dRA*radToDeg),
		Dec: dec2 * radToDeg,
	}
}
