package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/star/guidestar/internal/auth"
	"github.com/star/guidestar/internal/catalog"
	"github.com/star/guidestar/internal/dualfield"
	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/handoff"
	"github.com/star/guidestar/internal/lightcurve"
	"github.com/star/guidestar/internal/observability"
	"github.com/star/guidestar/internal/resolve"
	"github.com/star/guidestar/internal/skygeom"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// stubResolver knows a fixed set of names.
type stubResolver map[string]skygeom.Coordinate

func (s stubResolver) Resolve(ctx context.Context, name string) (skygeom.Coordinate, error) {
	if c, ok := s[name]; ok {
		return c, nil
	}
	return skygeom.Coordinate{}, resolve.ErrNotFound
}

const testCatalogCSV = `name,ra,dec,Rmag
S1,271.80,-20.10,10.2
S2,271.70,-20.00,12.4
FAR,280.00,-20.00,9.0
`

func newTestServer(t *testing.T, authCfg auth.Config) *Server {
	t.Helper()
	logger := testLogger()
	store, err := handoff.Open(filepath.Join(t.TempDir(), "handoff.db"), handoff.Config{}, logger)
	if err != nil {
		t.Fatalf("handoff.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	curves, err := lightcurve.Open(filepath.Join(t.TempDir(), "lightcurves.db"), logger)
	if err != nil {
		t.Fatalf("lightcurve.Open: %v", err)
	}
	t.Cleanup(func() { curves.Close() })

	df := dualfield.DefaultConfig()
	df.OutputWidth = 64

	return NewServer(Config{
		RadiusArcmin:        25,
		RenderMaxConcurrent: 2,
		DualField:           df,
		Observability:       observability.DefaultConfig(),
	}, logger, authCfg, Deps{
		Catalogs:     catalog.NewStore(),
		CatalogCache: catalog.NewCache(t.TempDir(), 2),
		Session:      fieldsearch.NewSession(0),
		Sites:        observability.NewRegistry(),
		Resolver:     stubResolver{"M8": {RA: 270.904, Dec: -24.387}},
		Handoff:      store,
		LightCurves:  curves,
	})
}

func do(t *testing.T, srv *Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := do(t, srv, method, path, strings.NewReader(body), "application/json")
	var resp map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return w, resp
}

func TestProbes(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	if w := do(t, srv, http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/readyz", nil, ""); w.Code != http.StatusOK {
		t.Errorf("readyz = %d: %s", w.Code, w.Body.String())
	}
	w := do(t, srv, http.MethodGet, "/metrics", nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "guidestar_http_requests_total") {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestSearchWithoutCatalogs(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/search", `{"target":"271.756 -20.086"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if resp["error"] != fieldsearch.ErrNoCatalogsLoaded.Error() {
		t.Errorf("error = %v", resp["error"])
	}

	// Nothing searched yet: session-dependent routes refuse.
	for _, path := range []string{"/api/v1/stars", "/api/v1/wedges", "/api/v1/export.xlsx"} {
		if w := do(t, srv, http.MethodGet, path, nil, ""); w.Code != http.StatusConflict {
			t.Errorf("%s = %d, want 409", path, w.Code)
		}
	}
}

func TestWorkflow(t *testing.T) {
	srv := newTestServer(t, auth.Config{})

	// Upload a catalog.
	w := do(t, srv, http.MethodPost, "/api/v1/catalogs/local", strings.NewReader(testCatalogCSV), "text/csv")
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", w.Code, w.Body.String())
	}
	if names, _ := srv.deps.CatalogCache.Names(); len(names) != 1 || names[0] != "local" {
		t.Errorf("cached catalogs = %v", names)
	}

	_, resp := doJSON(t, srv, http.MethodGet, "/api/v1/catalogs", "")
	if rows := resp["total_rows"].(float64); rows != 3 {
		t.Errorf("total_rows = %v, want 3", rows)
	}

	// Search with PA restriction: instPA 0, tolerance 30 -> slit PA 90.
	w, resp = doJSON(t, srv, http.MethodPost, "/api/v1/search",
		`{"target":"271.756 -20.086","radius_arcmin":25,"pa":{"enabled":true,"instrument_pa":0,"tolerance_deg":30}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d: %s", w.Code, w.Body.String())
	}
	if resp["ranked_count"].(float64) != 2 {
		t.Fatalf("ranked_count = %v, want 2", resp["ranked_count"])
	}
	if resp["slit_pa"].(float64) != 90 {
		t.Errorf("slit_pa = %v", resp["slit_pa"])
	}
	displayed := resp["displayed"].([]any)
	first := displayed[0].(map[string]any)
	if first["row"].(map[string]any)["name"] != "S1" {
		t.Errorf("first star = %v, want S1", first["row"])
	}
	if sep := first["separation_deg"].(float64); sep < 0.049 || sep > 0.0505 {
		t.Errorf("S1 separation = %v, want ~0.0497", sep)
	}
	if first["recommended"] != true {
		t.Error("S1 should be recommended")
	}
	if displayed[1].(map[string]any)["recommended"] != false {
		t.Error("S2 should not be recommended")
	}

	// Filter to the bright star, then clear.
	w, resp = doJSON(t, srv, http.MethodPost, "/api/v1/filter", `{"column":"Rmag","max":11}`)
	if w.Code != http.StatusOK || len(resp["displayed"].([]any)) != 1 {
		t.Fatalf("filter = %d %v", w.Code, resp["displayed"])
	}
	_, resp = doJSON(t, srv, http.MethodPost, "/api/v1/filter", `{"column":""}`)
	if len(resp["displayed"].([]any)) != 2 {
		t.Errorf("cleared filter displayed = %d, want 2", len(resp["displayed"].([]any)))
	}

	// Stars with a PA override.
	_, resp = doJSON(t, srv, http.MethodGet, "/api/v1/stars?inst_pa=90", "")
	markers := resp["markers"].([]any)
	if len(markers) != 2 {
		t.Fatalf("markers = %d", len(markers))
	}
	// Slit PA 180: S1 at ~109° is now outside.
	if markers[0].(map[string]any)["recommended"] != false {
		t.Error("S1 marker should not be recommended at inst_pa=90")
	}

	_, resp = doJSON(t, srv, http.MethodGet, "/api/v1/wedges?segments=4", "")
	if n := len(resp["wedges"].([]any)); n != 2 {
		t.Errorf("wedges = %d, want 2", n)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/wedges?segments=0", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("segments=0 = %d, want 400", w.Code)
	}

	// Observability with a displayed guide.
	w, resp = doJSON(t, srv, http.MethodPost, "/api/v1/observability",
		`{"site":"kiso","date":"2026-06-15","guide_index":0,"candidates":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("observability = %d: %s", w.Code, w.Body.String())
	}
	verdict := resp["verdict"].(map[string]any)
	if _, ok := verdict["observable"].(bool); !ok {
		t.Errorf("verdict lacks observable: %v", verdict)
	}
	if n := len(resp["candidates"].([]any)); n != 2 {
		t.Errorf("candidates = %d, want 2", n)
	}
	if w, _ := doJSON(t, srv, http.MethodPost, "/api/v1/observability", `{"site":"nowhere","guide":"M8"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown site = %d, want 404", w.Code)
	}
	if w, _ := doJSON(t, srv, http.MethodPost, "/api/v1/observability", `{"guide_index":7}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad guide index = %d, want 400", w.Code)
	}

	// Handoff save and load.
	w, resp = doJSON(t, srv, http.MethodPost, "/api/v1/handoff", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("handoff save = %d: %s", w.Code, w.Body.String())
	}
	id := resp["id"].(string)
	w, resp = doJSON(t, srv, http.MethodGet, "/api/v1/handoff/"+id, "")
	if w.Code != http.StatusOK || resp["id"] != id {
		t.Fatalf("handoff load = %d %v", w.Code, resp["id"])
	}
	if pa := resp["pa"].(map[string]any); pa["tolerance_deg"].(float64) != 30 {
		t.Errorf("snapshot PA = %v", pa)
	}
	if _, resp = doJSON(t, srv, http.MethodGet, "/api/v1/handoff/latest", ""); resp["id"] != id {
		t.Errorf("latest = %v, want %s", resp["id"], id)
	}
	if w, _ := doJSON(t, srv, http.MethodGet, "/api/v1/handoff/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown snapshot = %d, want 404", w.Code)
	}

	// Export.
	w = do(t, srv, http.MethodGet, "/api/v1/export.xlsx", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", w.Code, w.Body.String())
	}
	cat, err := catalog.ParseXLSX(w.Body, "export", "", testLogger())
	if err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	if len(cat.Rows) != 2 {
		t.Errorf("export rows = %d, want 2", len(cat.Rows))
	}
	if v, ok := cat.Rows[0].Float("Rmag"); !ok || v != 10.2 {
		t.Errorf("export Rmag = %v %v", v, ok)
	}

	// Delete the catalog.
	if w := do(t, srv, http.MethodDelete, "/api/v1/catalogs/local", nil, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if names, _ := srv.deps.CatalogCache.Names(); len(names) != 0 {
		t.Errorf("cache after delete = %v, want empty", names)
	}
	if w := do(t, srv, http.MethodDelete, "/api/v1/catalogs/local", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestObservabilityHorizonLimit(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	const body = `{"site":"kiso","date":"2024-01-15","target":"100 -45","guide":"100 -45"%s}`

	_, resp := doJSON(t, srv, http.MethodPost, "/api/v1/observability", fmt.Sprintf(body, ""))
	if resp["verdict"].(map[string]any)["observable"] != false {
		t.Errorf("default limit: verdict = %v, want not observable", resp["verdict"])
	}

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/observability", fmt.Sprintf(body, `,"min_altitude_deg":0`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	verdict := resp["verdict"].(map[string]any)
	if verdict["observable"] != true {
		t.Errorf("horizon limit: verdict = %v, want observable", verdict)
	}
	best := verdict["target"].(map[string]any)["best_altitude_deg"].(float64)
	if best < 8.5 || best > 9.3 {
		t.Errorf("best altitude = %.2f, want ~9.2", best)
	}
}

func TestSearchTargetErrors(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	do(t, srv, http.MethodPost, "/api/v1/catalogs/local", strings.NewReader(testCatalogCSV), "text/csv")

	tests := []struct {
		body string
		want int
	}{
		{`{"target":"NGC 6000"}`, http.StatusNotFound},
		{`{"target":"M8"}`, http.StatusOK},
		{`{"target":"1 2 3"}`, http.StatusNotFound},
		{`{"target":"x","bogus":1}`, http.StatusBadRequest},
		{`{"target":"M8","pa":{"enabled":true,"tolerance_deg":120}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w, _ := doJSON(t, srv, http.MethodPost, "/api/v1/search", tt.body); w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.body, w.Code, tt.want)
		}
	}
}

func TestResolveRoute(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	w, resp := doJSON(t, srv, http.MethodGet, "/api/v1/resolve?name=M8", "")
	if w.Code != http.StatusOK || resp["method"] != string(resolve.MethodName) {
		t.Fatalf("resolve = %d %v", w.Code, resp)
	}
	w, resp = doJSON(t, srv, http.MethodGet, "/api/v1/resolve?name=18h09m01.48s+-20d05m08.0s", "")
	if w.Code != http.StatusOK || resp["method"] != string(resolve.MethodSexagesimal) {
		t.Fatalf("resolve sexagesimal = %d %v", w.Code, resp)
	}
	if w, _ := doJSON(t, srv, http.MethodGet, "/api/v1/resolve", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing name = %d, want 400", w.Code)
	}
}

func TestHandoffQuota(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	store, err := handoff.Open(filepath.Join(t.TempDir(), "tiny.db"), handoff.Config{MaxBytes: 64}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	srv.deps.Handoff = store

	do(t, srv, http.MethodPost, "/api/v1/catalogs/local", strings.NewReader(testCatalogCSV), "text/csv")
	doJSON(t, srv, http.MethodPost, "/api/v1/search", `{"target":"271.756 -20.086"}`)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/handoff", "")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if resp["hint"] == nil {
		t.Error("expected hint in quota response")
	}
	// The session is untouched.
	if srv.deps.Session.Current() == nil || len(srv.deps.Session.Current().Ranked) != 2 {
		t.Error("session changed after quota failure")
	}
}

// skyImage draws a 300x150 field at 1"/px centred on (100.01, 10).
func skyImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 150))
	for y := range 150 {
		for x := range 300 {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y), 80, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func renderForm(t *testing.T, fields map[string]string, img []byte) (io.Reader, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if img != nil {
		fw, err := mw.CreateFormFile("image", "sky.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(img)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func TestDualFieldRoute(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	img := skyImage(t)
	base := map[string]string{
		"center":        "100.01 10",
		"scale":         "1",
		"target":        "100.0 10",
		"guide":         "100.02 10",
		"width_arcmin":  "1",
		"height_arcmin": "0.5",
	}

	body, ct := renderForm(t, base, img)
	w := do(t, srv, http.MethodPost, "/api/v1/dualfield", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("render = %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type = %q", got)
	}
	out, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("decoding composite: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 2*64+2 || b.Dy() != 32 {
		t.Errorf("composite size = %dx%d, want 130x32", b.Dx(), b.Dy())
	}

	// Guide outside the uploaded field.
	far := map[string]string{}
	for k, v := range base {
		far[k] = v
	}
	far["guide"] = "101 10"
	body, ct = renderForm(t, far, img)
	if w := do(t, srv, http.MethodPost, "/api/v1/dualfield", body, ct); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("outside field = %d, want 422", w.Code)
	}

	// Missing image.
	body, ct = renderForm(t, base, nil)
	if w := do(t, srv, http.MethodPost, "/api/v1/dualfield", body, ct); w.Code != http.StatusBadRequest {
		t.Errorf("missing image = %d, want 400", w.Code)
	}

	// Bad scale.
	bad := map[string]string{}
	for k, v := range base {
		bad[k] = v
	}
	bad["scale"] = "-1"
	body, ct = renderForm(t, bad, img)
	if w := do(t, srv, http.MethodPost, "/api/v1/dualfield", body, ct); w.Code != http.StatusBadRequest {
		t.Errorf("bad scale = %d, want 400", w.Code)
	}
}

// downResolver fails every lookup as an unreachable name service would.
type downResolver struct{}

func (downResolver) Resolve(ctx context.Context, name string) (skygeom.Coordinate, error) {
	return skygeom.Coordinate{}, errors.New("sesame: connection refused")
}

func TestDualFieldLookupStatus(t *testing.T) {
	img := skyImage(t)
	form := func(overrides map[string]string) map[string]string {
		f := map[string]string{
			"center": "100.01 10",
			"scale":  "1",
			"target": "100.0 10",
			"guide":  "100.02 10",
		}
		for k, v := range overrides {
			if v == "" {
				delete(f, k)
			} else {
				f[k] = v
			}
		}
		return f
	}

	tests := []struct {
		name       string
		resolver   resolve.Resolver
		noResolver bool
		fields     map[string]string
		want       int
	}{
		{"unknown center name", nil, false, form(map[string]string{"center": "NGC 99999"}), http.StatusNotFound},
		{"unknown guide name", nil, false, form(map[string]string{"guide": "M99"}), http.StatusNotFound},
		{"unparsable center without resolver", nil, true, form(map[string]string{"center": "M8"}), http.StatusBadRequest},
		{"resolver unreachable", downResolver{}, false, form(map[string]string{"center": "M8"}), http.StatusBadGateway},
		{"guide resolver unreachable", downResolver{}, false, form(map[string]string{"guide": "M8"}), http.StatusBadGateway},
		{"no target and no search", nil, false, form(map[string]string{"target": ""}), http.StatusConflict},
		{"missing guide", nil, false, form(map[string]string{"guide": ""}), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, auth.Config{})
			if tt.resolver != nil || tt.noResolver {
				srv.deps.Resolver = tt.resolver
			}
			body, ct := renderForm(t, tt.fields, img)
			w := do(t, srv, http.MethodPost, "/api/v1/dualfield", body, ct)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestDualFieldRateLimit(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	srv.limiter = newRenderLimiter(1, 1)
	// httptest requests come from 192.0.2.1.
	release, _, _ := srv.limiter.acquire("192.0.2.1")
	defer release()

	body, ct := renderForm(t, map[string]string{"center": "100 10", "scale": "1"}, skyImage(t))
	w := do(t, srv, http.MethodPost, "/api/v1/dualfield", body, ct)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2 from the initial render estimate", got)
	}
}

func TestAuthChain(t *testing.T) {
	srv := newTestServer(t, auth.Config{Enabled: true, Token: "tok"})
	if w := do(t, srv, http.MethodGet, "/api/v1/sites", nil, ""); w.Code != http.StatusOK {
		t.Errorf("sites = %d, want 200", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/catalogs", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("catalogs without token = %d, want 401", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalogs", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("catalogs with token = %d, want 200", w.Code)
	}

	snap, err := srv.deps.Handoff.Save(context.Background(), handoff.Snapshot{
		Target:    skygeom.Coordinate{RA: 270.904, Dec: -24.387},
		RadiusDeg: 0.4,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/handoff/latest", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("latest without token = %d, want 401", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/handoff/"+snap.ID, nil, ""); w.Code != http.StatusOK {
		t.Errorf("snapshot by id without token = %d, want 200", w.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/handoff/latest", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), snap.ID) {
		t.Errorf("latest with token = %d: %s", w.Code, w.Body.String())
	}
}

func TestLightCurveRoute(t *testing.T) {
	srv := newTestServer(t, auth.Config{})
	ctx := context.Background()
	src := lightcurve.Source{SourceID: "4089711203935494784", RA: 271.757, Dec: -20.087, AllWISEID: "J180701.68-200513.2"}
	if err := srv.deps.LightCurves.PutSource(ctx, src); err != nil {
		t.Fatal(err)
	}
	sky := 12.0
	var ms []lightcurve.Measurement
	for i := range 4 {
		ms = append(ms, lightcurve.Measurement{
			MJD: 57000 + float64(i), Band: "W1", Mag: 11, MagErr: 0.02,
			CCFlags: "00", PhQual: "AA", MoonMasked: "00", QIFact: 1, SAASep: 30, QualFrame: 10, Sky: &sky,
		})
	}
	ms[3].Sat = 0.2
	if err := srv.deps.LightCurves.AddMeasurements(ctx, src.SourceID, ms); err != nil {
		t.Fatal(err)
	}

	w, resp := doJSON(t, srv, http.MethodGet, "/api/v1/lightcurve?source_id="+src.SourceID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("by id = %d: %s", w.Code, w.Body.String())
	}
	if n := len(resp["observations"].([]any)); n != 3 {
		t.Errorf("observations = %d, want 3 after the saturation cut", n)
	}
	if _, resp = doJSON(t, srv, http.MethodGet, "/api/v1/lightcurve?source_id="+src.SourceID+"&skip=sat", ""); len(resp["observations"].([]any)) != 4 {
		t.Errorf("skip=sat observations = %v, want 4", resp["observations"])
	}

	// 271.7571 -20.0873 lies about 1.1 arcsec from the source.
	w, resp = doJSON(t, srv, http.MethodGet, "/api/v1/lightcurve?position=271.7571+-20.0873", "")
	if w.Code != http.StatusOK || resp["source_id"] != src.SourceID {
		t.Fatalf("by position = %d: %s", w.Code, w.Body.String())
	}
	if sep := resp["separation_arcsec"].(float64); sep > 3 {
		t.Errorf("separation = %.2f arcsec", sep)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"no selector", "", http.StatusBadRequest},
		{"unknown cut", "?source_id=1&skip=bogus", http.StatusBadRequest},
		{"unknown id", "?source_id=1", http.StatusNotFound},
		{"nothing within 3 arcsec", "?position=271.76+-20.087", http.StatusNotFound},
		{"unknown name", "?position=NGC+99999", http.StatusNotFound},
		{"guide index without search", "?guide_index=0", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, srv, http.MethodGet, "/api/v1/lightcurve"+tt.query, nil, ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	srv.deps.LightCurves = nil
	if w := do(t, srv, http.MethodGet, "/api/v1/lightcurve?source_id=1", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("without archive = %d, want 503", w.Code)
	}
}
