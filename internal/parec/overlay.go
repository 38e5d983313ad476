package parec

import (
	"fmt"

	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/skygeom"
)

// RayKind distinguishes a wedge's center line from its boundaries.
type RayKind string

const (
	RayCenter   RayKind = "center"
	RayBoundary RayKind = "boundary"
)

// Ray is a polyline leaving the target along a constant initial bearing.
type Ray struct {
	Kind             RayKind              `json:"kind"`
	PositionAngleDeg float64              `json:"position_angle_deg"`
	Points           []skygeom.Coordinate `json:"points"`
}

// Wedge is one allowed direction: a center ray plus two boundary rays at ±τ.
type Wedge struct {
	CenterDeg float64 `json:"center_deg"`
	Rays      [3]Ray  `json:"rays"`
}

// Wedges returns the overlay geometry for both wedges, each ray drawn as
// segments points along the great circle from target out to radiusDeg.
// Returns nil when the restriction is disabled.
func (c Config) Wedges(target skygeom.Coordinate, radiusDeg float64, segments int) []Wedge {
	if !c.Enabled {
		return nil
	}
	if segments < 1 {
		segments = 1
	}
	var out []Wedge
	for _, center := range c.WedgeCenters() {
		out = append(out, Wedge{
			CenterDeg: center,
			Rays: [3]Ray{
				ray(RayCenter, target, center, radiusDeg, segments),
				ray(RayBoundary, target, skygeom.NormalizeDeg(center-c.ToleranceDeg), radiusDeg, segments),
				ray(RayBoundary, target, skygeom.NormalizeDeg(center+c.ToleranceDeg), radiusDeg, segments),
			},
		})
	}
	return out
}

func ray(kind RayKind, from skygeom.Coordinate, pa, radius float64, segments int) Ray {
	pts := make([]skygeom.Coordinate, 0, segments+1)
	pts = append(pts, from)
	for i := 1; i <= segments; i++ {
		pts = append(pts, skygeom.Offset(from, pa, radius*float64(i)/float64(segments)))
	}
	return Ray{Kind: kind, PositionAngleDeg: pa, Points: pts}
}

// Marker is one entry for the sky viewer's marker layer. Index points back
// into the star list the markers were built from.
type Marker struct {
	RA          float64 `json:"ra"`
	Dec         float64 `json:"dec"`
	Color       string  `json:"color"`
	Size        int     `json:"size"`
	Shape       string  `json:"shape"`
	Label       string  `json:"label"`
	Index       int     `json:"index"`
	Recommended bool    `json:"recommended"`
}

const (
	colorDefault     = "#ff9900"
	colorRecommended = "#00ff66"
	sizeDefault      = 8
	sizeRecommended  = 14
)

// Markers builds the marker layer for stars, highlighting recommended ones.
func (c Config) Markers(stars []fieldsearch.FieldStar) []Marker {
	out := make([]Marker, 0, len(stars))
	for i, s := range stars {
		m := Marker{
			RA:    s.RA,
			Dec:   s.Dec,
			Color: colorDefault,
			Size:  sizeDefault,
			Shape: "circle",
			Label: fmt.Sprintf("%d: %.2f' PA %.1f°", i+1, s.SeparationDeg*60, s.PositionAngleDeg),
			Index: i,
		}
		if c.Recommended(s.PositionAngleDeg) {
			m.Color = colorRecommended
			m.Size = sizeRecommended
			m.Shape = "square"
			m.Recommended = true
		}
		out = append(out, m)
	}
	return out
}

// Annotated pairs a star with its recommendation flag.
type Annotated struct {
	fieldsearch.FieldStar
	Recommended bool `json:"recommended"`
}

// Annotate flags each star in stars.
func (c Config) Annotate(stars []fieldsearch.FieldStar) []Annotated {
	out := make([]Annotated, len(stars))
	for i, s := range stars {
		out[i] = Annotated{FieldStar: s, Recommended: c.Recommended(s.PositionAngleDeg)}
	}
	return out
}
