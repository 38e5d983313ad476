// Package parec classifies candidate guide stars against an instrument's
// position-angle constraint. The slit axis is the instrument PA plus 90°, and
// a star is recommended when its position angle from the target falls within
// the tolerance of either end of the slit axis.
package parec

import (
	"math"

	"github.com/star/guidestar/internal/skygeom"
)

// SlitOffsetDeg is the fixed offset between the instrument PA and the slit axis.
const SlitOffsetDeg = 90.0

// Config holds the PA restriction settings.
type Config struct {
	Enabled      bool    `json:"enabled"`
	InstrumentPA float64 `json:"instrument_pa"`
	ToleranceDeg float64 `json:"tolerance_deg"`
}

// SlitPA returns the slit axis position angle in [0, 360).
func (c Config) SlitPA() float64 {
	return skygeom.NormalizeDeg(c.InstrumentPA + SlitOffsetDeg)
}

// WedgeCenters returns the two allowed directions: the slit PA and its opposite.
func (c Config) WedgeCenters() [2]float64 {
	slit := c.SlitPA()
	return [2]float64{slit, skygeom.NormalizeDeg(slit + 180)}
}

// Recommended reports whether a star at position angle pa lies strictly
// within the tolerance of either wedge center. Always false when disabled.
func (c Config) Recommended(pa float64) bool {
	if !c.Enabled {
		return false
	}
	for _, center := range c.WedgeCenters() {
		if angularDistance(pa, center) < c.ToleranceDeg {
			return true
		}
	}
	return false
}

// angularDistance is the smaller arc between two directions, in [0, 180].
func angularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	return math.Min(d, 360-d)
}
