// Package raster holds small image operations used to cut aligned fields out
// of a rendered sky view: rotate a region without clipping its corners, scale,
// flip, and composite side by side.
//
// Angles are in pixel space with y pointing down, so a positive angle turns
// the picture clockwise on screen and maps a direction atan2(dy, dx) = θ to
// θ + angle.
package raster

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

// MinMargin is the smallest oversize factor RotateNoClip accepts.
const MinMargin = 2.0

// RotateNoClip returns the w×h region of src centred on (cx, cy), rotated by
// angleDeg about that centre. The region is first copied into a square buffer
// of side ceil(diag(w,h)·margin), rotated there, and centre-cropped, so the
// corners of the result never fall outside the rotated buffer. margin is
// clamped to at least MinMargin. Pixels outside src come out transparent.
func RotateNoClip(src image.Image, cx, cy float64, w, h int, angleDeg, margin float64) *image.RGBA {
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	if margin < MinMargin || math.IsNaN(margin) {
		margin = MinMargin
	}
	side := int(math.Ceil(math.Hypot(float64(w), float64(h)) * margin))

	// Square buffer centred on (cx, cy).
	buf := image.NewRGBA(image.Rect(0, 0, side, side))
	origin := image.Pt(int(math.Round(cx))-side/2, int(math.Round(cy))-side/2)
	draw.Draw(buf, buf.Bounds(), src, origin, draw.Src)

	// (px, py) is (cx, cy) in buffer coordinates.
	px, py := cx-float64(origin.X), cy-float64(origin.Y)

	rot := image.NewRGBA(buf.Bounds())
	draw.BiLinear.Transform(rot, rotationAbout(px, py, angleDeg), buf, buf.Bounds(), draw.Src, nil)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	crop := image.Pt(int(math.Round(px-float64(w)/2)), int(math.Round(py-float64(h)/2)))
	draw.Draw(out, out.Bounds(), rot, crop, draw.Src)
	return out
}

// rotationAbout is the source-to-destination affine map for a rotation of
// angleDeg about (px, py).
func rotationAbout(px, py, angleDeg float64) f64.Aff3 {
	sin, cos := math.Sincos(angleDeg * math.Pi / 180)
	return f64.Aff3{
		cos, -sin, px - cos*px + sin*py,
		sin, cos, py - sin*px - cos*py,
	}
}

// Scale resamples src to exactly w×h with Catmull-Rom interpolation.
func Scale(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 0), max(h, 0)))
	if w <= 0 || h <= 0 || src.Bounds().Empty() {
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Rotate180 returns src turned upside down.
func Rotate180(src image.Image) *image.RGBA {
	in := ToRGBA(src)
	b := in.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.SetRGBA(b.Dx()-1-x, b.Dy()-1-y, in.RGBAAt(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// ToRGBA returns src as an *image.RGBA, copying only when needed.
func ToRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	return out
}

// Fill paints the whole of dst with c.
func Fill(dst draw.Image, c color.Color) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

// VLine paints a vertical band of the given width starting at column x.
func VLine(dst draw.Image, x, width int, c color.Color) {
	b := dst.Bounds()
	r := image.Rect(x, b.Min.Y, x+width, b.Max.Y).Intersect(b)
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// SideBySide places left and right next to each other, separated by a gap
// of gap pixels painted in gapColor. Both are top-aligned; the canvas is as
// tall as the taller of the two.
func SideBySide(left, right image.Image, gap int, gapColor color.Color) *image.RGBA {
	lb, rb := left.Bounds(), right.Bounds()
	gap = max(gap, 0)
	out := image.NewRGBA(image.Rect(0, 0, lb.Dx()+gap+rb.Dx(), max(lb.Dy(), rb.Dy())))
	draw.Draw(out, image.Rect(0, 0, lb.Dx(), lb.Dy()), left, lb.Min, draw.Src)
	if gap > 0 {
		VLine(out, lb.Dx(), gap, gapColor)
	}
	draw.Draw(out, image.Rect(lb.Dx()+gap, 0, lb.Dx()+gap+rb.Dx(), rb.Dy()), right, rb.Min, draw.Src)
	return out
}

// Label draws s with its baseline starting at (x, y) in the 7x13 bitmap font.
func Label(dst draw.Image, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
