package skygeom

import (
	"fmt"
	"math"
)

// FormatRA renders RA degrees as "HH:MM:SS.ss".
func FormatRA(deg float64) string {
	// Work in integer hundredths of a second of time so rounding carries.
	cs := int64(math.Round(NormalizeDeg(deg) / 15 * 3600 * 100))
	cs %= 24 * 3600 * 100

	h := cs / 360000
	m := (cs % 360000) / 6000
	s := float64(cs%6000) / 100

	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, s)
}

// FormatDec renders Dec degrees as "+DD:MM:SS.s" with an explicit sign.
func FormatDec(deg float64) string {
	sign := "+"
	if deg < 0 {
		sign = "-"
	}
	ds := int64(math.Round(math.Abs(deg) * 3600 * 10))
	if ds == 0 {
		sign = "+"
	}

	d := ds / 36000
	m := (ds % 36000) / 600
	s := float64(ds%600) / 10

	return fmt.Sprintf("%s%02d:%02d:%04.1f", sign, d, m, s)
}
