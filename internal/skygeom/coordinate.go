// Package skygeom provides spherical-geometry primitives on the celestial sphere:
// coordinate parsing, great-circle separation, position angle and sexagesimal
// formatting. All angles are in degrees unless a name says otherwise.
package skygeom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Coordinate is an equatorial position. RA is in [0, 360), Dec in [-90, 90].
type Coordinate struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// Valid reports whether both components are finite and Dec is within [-90, 90].
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.RA) || math.IsInf(c.RA, 0) || math.IsNaN(c.Dec) || math.IsInf(c.Dec, 0) {
		return false
	}
	return c.Dec >= -90 && c.Dec <= 90
}

func (c Coordinate) String() string {
	return FormatRA(c.RA) + " " + FormatDec(c.Dec)
}

// ParseError reports coordinate text that could not be read as sexagesimal
// RA/Dec. Callers usually fall back to name resolution.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse coordinate %q: %s", e.Input, e.Reason)
}

// unitReplacer turns unit letters and common separators into whitespace.
var unitReplacer = strings.NewReplacer(
	"h", " ", "m", " ", "s", " ", "d", " ",
	"H", " ", "M", " ", "S", " ", "D", " ",
	":", " ", "°", " ", "'", " ", "\"", " ", ",", " ",
)

// ParseCoordinate reads "RAh RAm RAs sDECd DECm DECs", with or without unit
// letters, e.g. "18h09m01.48s -20d05m08.0s" or "18 09 01.48 -20 05 08.0".
// The Dec sign is taken from the fourth token, so "-00 30 00" is negative.
func ParseCoordinate(text string) (Coordinate, error) {
	tokens := strings.Fields(unitReplacer.Replace(text))
	if len(tokens) != 6 {
		return Coordinate{}, &ParseError{Input: text, Reason: fmt.Sprintf("expected 6 sexagesimal fields, got %d", len(tokens))}
	}

	vals := make([]float64, 6)
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Coordinate{}, &ParseError{Input: text, Reason: fmt.Sprintf("field %d (%q) is not a number", i+1, tok)}
		}
		vals[i] = v
	}

	ra := (vals[0] + vals[1]/60 + vals[2]/3600) * 15
	dec := math.Abs(vals[3]) + vals[4]/60 + vals[5]/3600
	if strings.HasPrefix(tokens[3], "-") {
		dec = -dec
	}

	c := Coordinate{RA: NormalizeDeg(ra), Dec: dec}
	if !c.Valid() {
		return Coordinate{}, &ParseError{Input: text, Reason: "declination out of range"}
	}
	return c, nil
}

// ParseRA reads "HH:MM:SS.ss" (or "HHhMMmSS.ss s") and returns degrees.
func ParseRA(text string) (float64, error) {
	tokens := strings.Fields(unitReplacer.Replace(text))
	if len(tokens) != 3 {
		return 0, &ParseError{Input: text, Reason: "expected 3 sexagesimal fields"}
	}
	var v [3]float64
	for i, tok := range tokens {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, &ParseError{Input: text, Reason: fmt.Sprintf("field %d (%q) is not a number", i+1, tok)}
		}
		v[i] = f
	}
	return NormalizeDeg((v[0] + v[1]/60 + v[2]/3600) * 15), nil
}

// ParseDec reads "+DD:MM:SS.s" and returns degrees. The sign of the first
// field applies to the whole value.
func ParseDec(text string) (float64, error) {
	tokens := strings.Fields(unitReplacer.Replace(text))
	if len(tokens) != 3 {
		return 0, &ParseError{Input: text, Reason: "expected 3 sexagesimal fields"}
	}
	var v [3]float64
	for i, tok := range tokens {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, &ParseError{Input: text, Reason: fmt.Sprintf("field %d (%q) is not a number", i+1, tok)}
		}
		v[i] = f
	}
	dec := math.Abs(v[0]) + v[1]/60 + v[2]/3600
	if strings.HasPrefix(tokens[0], "-") {
		dec = -dec
	}
	return dec, nil
}

// NormalizeDeg maps an angle into [0, 360).
func NormalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a -= 360
	}
	return a
}
