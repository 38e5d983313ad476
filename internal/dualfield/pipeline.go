// Package dualfield cuts two aligned fields, one around the target and one
// around the guide star, out of a rendered sky view and composites them side
// by side. The view itself (rendering, projection, screenshots) is supplied
// through the Viewer and Capturer interfaces.
package dualfield

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/star/guidestar/internal/raster"
	"github.com/star/guidestar/internal/skygeom"
)

var (
	// ErrProjectionUnavailable means an object could not be placed in the
	// current view. Only the extraction is aborted.
	ErrProjectionUnavailable = errors.New("object not projectable in the current view")
	// ErrCaptureFailure means the screenshot of the view failed.
	ErrCaptureFailure = errors.New("view capture failed")
)

// Viewer is the sky viewer that owns the world to pixel projection.
type Viewer interface {
	// Project maps a sky position to CSS pixel coordinates of the view.
	// Both results are NaN when the position is not projectable.
	Project(ra, dec float64) (x, y float64)
	// CenterOn re-centres the view.
	CenterOn(ctx context.Context, ra, dec float64) error
}

// Capturer rasterises the current view. scale is raster pixels per CSS pixel.
type Capturer interface {
	Capture(ctx context.Context, scale float64) (image.Image, error)
}

// Params describes one dual-field extraction.
type Params struct {
	Target            skygeom.Coordinate `json:"target"`
	Guide             skygeom.Coordinate `json:"guide"`
	PositionAngleRad  float64            `json:"position_angle_rad"`
	FieldWidthArcmin  float64            `json:"field_width_arcmin"`
	FieldHeightArcmin float64            `json:"field_height_arcmin"`
}

// NewParams fills in the target to guide position angle.
func NewParams(target, guide skygeom.Coordinate, widthArcmin, heightArcmin float64) Params {
	return Params{
		Target:            target,
		Guide:             guide,
		PositionAngleRad:  skygeom.PositionAngle(target, guide) * math.Pi / 180,
		FieldWidthArcmin:  widthArcmin,
		FieldHeightArcmin: heightArcmin,
	}
}

// Validate checks that params describe a drawable extraction.
func (p Params) Validate() error {
	switch {
	case !p.Target.Valid():
		return fmt.Errorf("invalid target %v", p.Target)
	case !p.Guide.Valid():
		return fmt.Errorf("invalid guide %v", p.Guide)
	case !(p.FieldWidthArcmin > 0) || !(p.FieldHeightArcmin > 0):
		return fmt.Errorf("field size must be positive (got %gx%g arcmin)", p.FieldWidthArcmin, p.FieldHeightArcmin)
	case math.IsNaN(p.PositionAngleRad) || math.IsInf(p.PositionAngleRad, 0):
		return fmt.Errorf("position angle is not finite")
	}
	return nil
}

// Config tunes the pipeline.
type Config struct {
	// OutputWidth is the width in pixels of each panel; height follows the
	// field aspect ratio.
	OutputWidth int
	// CaptureScale is raster pixels per CSS pixel.
	CaptureScale float64
	// SettleDelay lets the viewer finish drawing after re-centring.
	SettleDelay time.Duration
	// Margin is the oversize factor for rotation (at least raster.MinMargin).
	Margin float64
	// EpsilonDeg is the angular step used to measure the on-screen direction
	// of the target to guide bearing.
	EpsilonDeg float64
	// FlipComposite turns both panels by 180°.
	FlipComposite  bool
	SeparatorWidth int
	SeparatorColor color.Color
	// Labels captions each panel.
	Labels bool
}

// DefaultConfig returns the settings used by the service.
func DefaultConfig() Config {
	return Config{
		OutputWidth:    512,
		CaptureScale:   1,
		SettleDelay:    1500 * time.Millisecond,
		Margin:         raster.MinMargin,
		EpsilonDeg:     10.0 / 3600,
		FlipComposite:  true,
		SeparatorWidth: 2,
		SeparatorColor: color.RGBA{255, 255, 255, 255},
		Labels:         true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OutputWidth <= 0 {
		c.OutputWidth = d.OutputWidth
	}
	if !(c.CaptureScale > 0) {
		c.CaptureScale = d.CaptureScale
	}
	if c.Margin < raster.MinMargin {
		c.Margin = raster.MinMargin
	}
	if !(c.EpsilonDeg > 0) {
		c.EpsilonDeg = d.EpsilonDeg
	}
	if c.SeparatorColor == nil {
		c.SeparatorColor = d.SeparatorColor
	}
	return c
}

// Pipeline renders dual-field composites from one viewer.
type Pipeline struct {
	viewer   Viewer
	capturer Capturer
	cfg      Config
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. Zero fields of cfg take their defaults.
func NewPipeline(v Viewer, c Capturer, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		viewer:   v,
		capturer: c,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// panel is one extracted field.
type panel struct {
	obj   skygeom.Coordinate
	role  string
	image *image.RGBA
}

// Render centres the view between target and guide, captures it and returns
// the composite. The object with the smaller RA is always on the left.
func (p *Pipeline) Render(ctx context.Context, params Params) (*image.RGBA, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	sep := skygeom.Separation(params.Target, params.Guide)
	mid := skygeom.Offset(params.Target, skygeom.PositionAngle(params.Target, params.Guide), sep/2)
	if err := p.viewer.CenterOn(ctx, mid.RA, mid.Dec); err != nil {
		return nil, fmt.Errorf("center view: %w", err)
	}

	if p.cfg.SettleDelay > 0 {
		timer := time.NewTimer(p.cfg.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	shot, err := p.capturer.Capture(ctx, p.cfg.CaptureScale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	if shot == nil || shot.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrCaptureFailure)
	}

	target, err := p.extract(shot, params.Target, params)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	guide, err := p.extract(shot, params.Guide, params)
	if err != nil {
		return nil, fmt.Errorf("guide: %w", err)
	}

	out := p.composite(panel{params.Target, "TARGET", target}, panel{params.Guide, "GUIDE", guide})
	p.logger.Debug("dual field rendered",
		"separation_arcmin", sep*60,
		"width", out.Bounds().Dx(),
		"height", out.Bounds().Dy(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// extract cuts the field around obj out of shot, rotated so the target to
// guide bearing runs horizontally, and scales it to the panel size.
func (p *Pipeline) extract(shot image.Image, obj skygeom.Coordinate, params Params) (*image.RGBA, error) {
	s := p.cfg.CaptureScale
	cx, cy := p.viewer.Project(obj.RA, obj.Dec)
	if !finite(cx, cy) {
		return nil, ErrProjectionUnavailable
	}
	bounds := shot.Bounds()
	if !image.Pt(int(math.Floor(cx*s)), int(math.Floor(cy*s))).In(bounds) {
		return nil, fmt.Errorf("%w: outside the captured view", ErrProjectionUnavailable)
	}

	angle, err := p.rotation(obj, params)
	if err != nil {
		return nil, err
	}

	wPx, hPx, err := p.footprint(obj, params)
	if err != nil {
		return nil, err
	}
	w := max(1, int(math.Round(wPx*s)))
	h := max(1, int(math.Round(hPx*s)))

	field := raster.RotateNoClip(shot, cx*s, cy*s, w, h, angle, p.cfg.Margin)

	outW := p.cfg.OutputWidth
	outH := max(1, int(math.Round(float64(outW)*params.FieldHeightArcmin/params.FieldWidthArcmin)))
	return raster.Scale(field, outW, outH), nil
}

// rotation measures the on-screen direction of the bearing at obj and
// returns the pixel rotation that makes it horizontal.
func (p *Pipeline) rotation(obj skygeom.Coordinate, params Params) (float64, error) {
	pa := params.PositionAngleRad * 180 / math.Pi
	fwd := skygeom.Offset(obj, pa, p.cfg.EpsilonDeg)
	back := skygeom.Offset(obj, pa+180, p.cfg.EpsilonDeg)
	x1, y1 := p.viewer.Project(fwd.RA, fwd.Dec)
	x0, y0 := p.viewer.Project(back.RA, back.Dec)
	if !finite(x0, y0, x1, y1) {
		return 0, ErrProjectionUnavailable
	}
	if x1 == x0 && y1 == y0 {
		return 0, fmt.Errorf("%w: view scale too coarse to resolve orientation", ErrProjectionUnavailable)
	}
	angle := -math.Atan2(y1-y0, x1-x0) * 180 / math.Pi
	if params.Target.RA > params.Guide.RA {
		angle += 180
	}
	return angle, nil
}

// footprint returns the field size in CSS pixels at obj, measured from the
// projected extent of ±half the field along RA and Dec.
func (p *Pipeline) footprint(obj skygeom.Coordinate, params Params) (w, h float64, err error) {
	halfW := params.FieldWidthArcmin / 120
	halfH := params.FieldHeightArcmin / 120
	cosDec := math.Max(math.Cos(obj.Dec*math.Pi/180), 1e-6)

	ax, ay := p.viewer.Project(skygeom.NormalizeDeg(obj.RA-halfW/cosDec), obj.Dec)
	bx, by := p.viewer.Project(skygeom.NormalizeDeg(obj.RA+halfW/cosDec), obj.Dec)
	cx, cy := p.viewer.Project(obj.RA, math.Max(obj.Dec-halfH, -90))
	dx, dy := p.viewer.Project(obj.RA, math.Min(obj.Dec+halfH, 90))
	if !finite(ax, ay, bx, by, cx, cy, dx, dy) {
		return 0, 0, ErrProjectionUnavailable
	}
	return math.Hypot(bx-ax, by-ay), math.Hypot(dx-cx, dy-cy), nil
}

// composite joins the two panels, smaller RA on the left.
func (p *Pipeline) composite(a, b panel) *image.RGBA {
	left, right := a, b
	if b.obj.RA < a.obj.RA {
		left, right = b, a
	}
	if p.cfg.FlipComposite {
		left.image = raster.Rotate180(left.image)
		right.image = raster.Rotate180(right.image)
	}
	out := raster.SideBySide(left.image, right.image, p.cfg.SeparatorWidth, p.cfg.SeparatorColor)
	if p.cfg.Labels {
		labelColor := color.RGBA{255, 255, 0, 255}
		raster.Label(out, left.role, 4, 14, labelColor)
		raster.Label(out, right.role, left.image.Bounds().Dx()+p.cfg.SeparatorWidth+4, 14, labelColor)
	}
	return out
}

// WriteFile renders params and writes the composite to path as PNG. The file
// is written to a temporary name and renamed, so a failed render or encode
// never leaves a partial file behind.
func (p *Pipeline) WriteFile(ctx context.Context, params Params, path string) error {
	img, err := p.Render(ctx, params)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".dualfield-*.png")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}

	p.logger.Info("dual field written", "path", path)
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
