package dualfield

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/star/guidestar/internal/raster"
	"github.com/star/guidestar/internal/skygeom"
)

// StaticView is a Viewer and Capturer over a fixed image with a known
// tangent point and plate scale: gnomonic projection, north up, east left.
// CenterOn does not move the image; it only records the requested centre.
type StaticView struct {
	img         image.Image
	center      skygeom.Coordinate
	arcsecPerPx float64 // CSS pixels are image pixels

	mu        sync.Mutex
	requested skygeom.Coordinate
}

// NewStaticView wraps img, whose central pixel shows center at arcsecPerPx
// arcseconds per image pixel.
func NewStaticView(img image.Image, center skygeom.Coordinate, arcsecPerPx float64) (*StaticView, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("static view: empty image")
	}
	if !center.Valid() {
		return nil, fmt.Errorf("static view: invalid centre %v", center)
	}
	if !(arcsecPerPx > 0) || math.IsInf(arcsecPerPx, 0) {
		return nil, fmt.Errorf("static view: plate scale must be positive")
	}
	if img.Bounds().Min != (image.Point{}) {
		rgba := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
		img = rgba
	}
	return &StaticView{img: img, center: center, arcsecPerPx: arcsecPerPx, requested: center}, nil
}

// Project implements Viewer. Points on or behind the tangent plane's horizon
// return NaN.
func (v *StaticView) Project(ra, dec float64) (float64, float64) {
	const rad = math.Pi / 180
	a0, d0 := v.center.RA*rad, v.center.Dec*rad
	a, d := ra*rad, dec*rad

	cosC := math.Sin(d0)*math.Sin(d) + math.Cos(d0)*math.Cos(d)*math.Cos(a-a0)
	if cosC <= 1e-9 {
		return math.NaN(), math.NaN()
	}
	xi := math.Cos(d) * math.Sin(a-a0) / cosC
	eta := (math.Cos(d0)*math.Sin(d) - math.Sin(d0)*math.Cos(d)*math.Cos(a-a0)) / cosC

	scale := v.arcsecPerPx * math.Pi / (180 * 3600) // radians per pixel
	b := v.img.Bounds()
	return float64(b.Dx())/2 - xi/scale, float64(b.Dy())/2 - eta/scale
}

// CenterOn implements Viewer.
func (v *StaticView) CenterOn(ctx context.Context, ra, dec float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	v.requested = skygeom.Coordinate{RA: ra, Dec: dec}
	v.mu.Unlock()
	return nil
}

// Requested returns the last centre passed to CenterOn.
func (v *StaticView) Requested() skygeom.Coordinate {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requested
}

// Capture implements Capturer, resampling the image when scale is not 1.
func (v *StaticView) Capture(ctx context.Context, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !(scale > 0) {
		return nil, fmt.Errorf("invalid capture scale %g", scale)
	}
	if scale == 1 {
		return v.img, nil
	}
	b := v.img.Bounds()
	w := int(math.Round(float64(b.Dx()) * scale))
	h := int(math.Round(float64(b.Dy()) * scale))
	return raster.Scale(v.img, w, h), nil
}
