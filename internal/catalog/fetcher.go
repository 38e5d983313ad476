package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/star/guidestar/internal/skygeom"
)

const (
	vizierBaseURL = "https://vizier.cds.unistra.fr/viz-bin/asu-tsv"

	// maxFetchBytes caps a single remote catalog response.
	maxFetchBytes = 50 << 20
)

// Fetcher retrieves raw catalog data from remote services.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
	maxBytes   int64
}

// NewFetcher creates a Fetcher with a 30 second timeout.
func NewFetcher(logger *slog.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:   logger,
		maxBytes: maxFetchBytes,
	}
}

// Fetch performs an HTTP GET to retrieve raw catalog data from sourceURL.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", sourceURL, f.maxBytes)
	}

	f.logger.Debug("catalog fetched", "url", sourceURL, "bytes", len(body))
	return body, nil
}

// FetchCatalog fetches sourceURL and parses it as a delimited catalog.
func (f *Fetcher) FetchCatalog(ctx context.Context, name, sourceURL string) (*Catalog, []byte, error) {
	data, err := f.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, nil, err
	}
	cat, err := Parse(bytes.NewReader(data), name, f.logger)
	if err != nil {
		return nil, nil, err
	}
	cat.Source = sourceURL
	return cat, data, nil
}

// VizierURL builds a VizieR cone-search query returning TSV with computed
// J2000 positions in decimal degrees (_RAJ2000/_DEJ2000 columns).
func VizierURL(source string, center skygeom.Coordinate, radiusArcmin float64, maxRows int) string {
	q := url.Values{}
	q.Set("-source", source)
	q.Set("-c", strconv.FormatFloat(center.RA, 'f', 6, 64)+" "+strconv.FormatFloat(center.Dec, 'f', 6, 64))
	q.Set("-c.rm", strconv.FormatFloat(radiusArcmin, 'f', 3, 64))
	q.Set("-out.add", "_RAJ,_DEJ")
	q.Set("-oc.form", "d")
	if maxRows > 0 {
		q.Set("-out.max", strconv.Itoa(maxRows))
	}
	return vizierBaseURL + "?" + q.Encode()
}
