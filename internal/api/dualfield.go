package api

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"strconv"
	"time"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/star/guidestar/internal/dualfield"
	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/httputil"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/resolve"
	"github.com/star/guidestar/internal/skygeom"
)

const (
	maxRenderUploadBytes = 32 << 20
	defaultFieldArcmin   = 2.0
)

// renderRequest is a parsed multipart dual-field request.
type renderRequest struct {
	img         image.Image
	center      skygeom.Coordinate
	arcsecPerPx float64
	params      dualfield.Params
	flip        *bool
}

// handleDualField renders a target/guide composite from an uploaded sky
// image with a known centre and plate scale.
// POST /api/v1/dualfield (multipart: image, center, scale, target, guide,
// guide_index, width_arcmin, height_arcmin, flip)
func (s *Server) handleDualField(w http.ResponseWriter, r *http.Request) {
	ip := httputil.LimitKey(httputil.ClientIP(r, s.cfg.TrustProxy))
	release, retry, ok := s.limiter.acquire(ip)
	if !ok {
		metrics.ObserveRender("rejected", 0)
		s.logger.Warn("render rate limit exceeded",
			"remote_ip", ip,
			"current_count", s.limiter.count(ip),
			"retry_after", retry,
		)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retry)))
		writeError(w, http.StatusTooManyRequests, "too many concurrent renders")
		return
	}
	defer release()

	start := time.Now()
	req, err := s.parseRenderRequest(w, r)
	if err != nil {
		metrics.ObserveRender("rejected", 0)
		writeError(w, renderRequestStatus(err), err.Error())
		return
	}

	view, err := dualfield.NewStaticView(req.img, req.center, req.arcsecPerPx)
	if err != nil {
		metrics.ObserveRender("rejected", 0)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.cfg.DualField
	cfg.SettleDelay = 0
	if req.flip != nil {
		cfg.FlipComposite = *req.flip
	}
	out, err := dualfield.NewPipeline(view, view, cfg, s.logger).Render(r.Context(), req.params)
	if err != nil {
		switch {
		case errors.Is(err, dualfield.ErrProjectionUnavailable):
			metrics.ObserveRender("projection", 0)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, dualfield.ErrCaptureFailure):
			metrics.ObserveRender("capture", 0)
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			metrics.ObserveRender("error", 0)
			s.logger.Error("dual field render failed", "error", err)
			writeError(w, http.StatusInternalServerError, "render failed")
		}
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		metrics.ObserveRender("error", 0)
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	metrics.ObserveRender("ok", time.Since(start))

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) parseRenderRequest(w http.ResponseWriter, r *http.Request) (renderRequest, error) {
	var req renderRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRenderUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return req, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return req, fmt.Errorf("missing image: %w", err)
	}
	defer file.Close()
	img, format, err := image.Decode(file)
	if err != nil {
		return req, fmt.Errorf("decoding image: %w", err)
	}
	s.logger.Debug("render image decoded", "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	req.img = img

	centerText := r.FormValue("center")
	if centerText == "" {
		return req, errors.New("missing center")
	}
	center, err := resolve.Target(r.Context(), centerText, s.deps.Resolver)
	if err != nil {
		return req, &lookupError{field: "center", err: err}
	}
	req.center = center.Coordinate

	if req.arcsecPerPx, err = formFloat(r, "scale", 0); err != nil {
		return req, err
	}
	if !(req.arcsecPerPx > 0) {
		return req, errors.New("scale (arcsec per pixel) must be positive")
	}

	target, guide, err := s.renderObjects(r)
	if err != nil {
		return req, err
	}

	width, err := formFloat(r, "width_arcmin", defaultFieldArcmin)
	if err != nil {
		return req, err
	}
	height, err := formFloat(r, "height_arcmin", defaultFieldArcmin)
	if err != nil {
		return req, err
	}
	req.params = dualfield.NewParams(target, guide, width, height)
	if err := req.params.Validate(); err != nil {
		return req, err
	}

	if v := r.FormValue("flip"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, errors.New("invalid flip value")
		}
		req.flip = &b
	}
	return req, nil
}

// renderObjects reads the target (default: current search target) and the
// guide (a coordinate, a name, or an index into the displayed list).
func (s *Server) renderObjects(r *http.Request) (target, guide skygeom.Coordinate, err error) {
	cur := s.deps.Session.Current()
	target, err = s.observeTarget(r, r.FormValue("target"), cur)
	if err != nil {
		return target, guide, &lookupError{field: "target", err: err}
	}

	if v := r.FormValue("guide_index"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || cur == nil || i < 0 || i >= len(cur.Displayed) {
			return target, guide, errBadGuideIndex
		}
		return target, cur.Displayed[i].Coordinate(), nil
	}
	text := r.FormValue("guide")
	if text == "" {
		return target, guide, errGuideRequired
	}
	res, err := resolve.Target(r.Context(), text, s.deps.Resolver)
	if err != nil {
		return target, guide, &lookupError{field: "guide", err: err}
	}
	return target, res.Coordinate, nil
}

// lookupError is a failed coordinate parse or name resolution for one form
// field. Its status follows the resolver outcome rather than a flat 400.
type lookupError struct {
	field string
	err   error
}

func (e *lookupError) Error() string { return e.field + ": " + e.err.Error() }
func (e *lookupError) Unwrap() error { return e.err }

// renderRequestStatus maps a parseRenderRequest failure to an HTTP status.
func renderRequestStatus(err error) int {
	var lerr *lookupError
	if !errors.As(err, &lerr) {
		return http.StatusBadRequest
	}
	if errors.Is(lerr.err, fieldsearch.ErrNoTargetSet) {
		return http.StatusConflict
	}
	status, _ := targetErrorStatus(lerr.err)
	return status
}

func formFloat(r *http.Request, key string, def float64) (float64, error) {
	v := r.FormValue(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value", key)
	}
	return f, nil
}
