// Package resolve turns object names into coordinates through the CDS
// Sesame name resolver, and decides whether user input is a coordinate or
// a name.
package resolve

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/star/guidestar/internal/cache"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/skygeom"
)

const (
	sesameBaseURL = "https://cds.unistra.fr/cgi-bin/nph-sesame/-oI/SNV"

	// maxResponseBytes caps a single Sesame reply.
	maxResponseBytes = 1 << 20
)

// ErrNotFound means no resolver service knew the name.
var ErrNotFound = errors.New("name not resolved")

// Resolver looks up the J2000 position of a named object.
type Resolver interface {
	Resolve(ctx context.Context, name string) (skygeom.Coordinate, error)
}

// Sesame queries the CDS Sesame service (Simbad, then NED, then VizieR).
type Sesame struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	cache      *cache.TTL[string, skygeom.Coordinate]
}

// NewSesame creates a Sesame client with a 10 second timeout. A nil cache
// disables caching.
func NewSesame(logger *slog.Logger, c *cache.TTL[string, skygeom.Coordinate]) *Sesame {
	return &Sesame{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: sesameBaseURL,
		logger:  logger,
		cache:   c,
	}
}

// WithBaseURL points the client at another Sesame mirror.
func (s *Sesame) WithBaseURL(u string) *Sesame {
	s.baseURL = strings.TrimRight(u, "/")
	return s
}

// Resolve implements Resolver.
func (s *Sesame) Resolve(ctx context.Context, name string) (skygeom.Coordinate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return skygeom.Coordinate{}, fmt.Errorf("empty object name")
	}
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if s.cache != nil {
		if c, ok := s.cache.Get(key); ok {
			return c, nil
		}
	}

	reqURL := s.baseURL + "?" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return skygeom.Coordinate{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.IncResolve("error")
		return skygeom.Coordinate{}, fmt.Errorf("querying sesame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.IncResolve("error")
		return skygeom.Coordinate{}, fmt.Errorf("unexpected status code %d from sesame", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.IncResolve("error")
		return skygeom.Coordinate{}, fmt.Errorf("reading response body: %w", err)
	}

	c, err := parseSesame(body)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.IncResolve("not_found")
			return skygeom.Coordinate{}, fmt.Errorf("%q: %w", name, err)
		}
		metrics.IncResolve("error")
		return skygeom.Coordinate{}, err
	}

	metrics.IncResolve("ok")
	s.logger.Debug("name resolved", "name", name, "ra", c.RA, "dec", c.Dec)
	if s.cache != nil {
		s.cache.Put(key, c)
	}
	return c, nil
}

// parseSesame extracts the first "%J ra dec" line of a Sesame -oI reply.
func parseSesame(body []byte) (skygeom.Coordinate, error) {
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		rest, ok := strings.CutPrefix(line, "%J ")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			return skygeom.Coordinate{}, fmt.Errorf("malformed sesame position line %q", line)
		}
		ra, err1 := strconv.ParseFloat(fields[0], 64)
		dec, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			return skygeom.Coordinate{}, fmt.Errorf("malformed sesame position line %q", line)
		}
		c := skygeom.Coordinate{RA: skygeom.NormalizeDeg(ra), Dec: dec}
		if !c.Valid() {
			return skygeom.Coordinate{}, fmt.Errorf("sesame position out of range: %v", c)
		}
		return c, nil
	}
	if err := sc.Err(); err != nil {
		return skygeom.Coordinate{}, fmt.Errorf("reading sesame reply: %w", err)
	}
	return skygeom.Coordinate{}, ErrNotFound
}
