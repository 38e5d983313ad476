package observability

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/naoina/toml"
)

// Site is an observatory location. East longitude is positive.
type Site struct {
	Key          string  `json:"key"`
	Name         string  `json:"name"`
	LatitudeDeg  float64 `json:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg"`
	ElevationM   float64 `json:"elevation_m"`
	Timezone     string  `json:"timezone,omitempty"`
}

// Valid reports whether the site's coordinates are in range.
func (s Site) Valid() bool {
	return s.LatitudeDeg >= -90 && s.LatitudeDeg <= 90 &&
		s.LongitudeDeg >= -180 && s.LongitudeDeg <= 180 &&
		!math.IsNaN(s.LatitudeDeg) && !math.IsNaN(s.LongitudeDeg)
}

// Location returns the site's civil time zone. Without a usable IANA name
// it falls back to a fixed offset of longitude/15 hours.
func (s Site) Location() *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	offsetMin := int(math.Round(s.LongitudeDeg / 15 * 60))
	sign, m := "+", offsetMin
	if m < 0 {
		sign, m = "-", -m
	}
	return time.FixedZone(fmt.Sprintf("LMT%s%02d:%02d", sign, m/60, m%60), offsetMin*60)
}

var builtinSites = []Site{
	{Key: "subaru", Name: "Subaru Telescope, Maunakea", LatitudeDeg: 19.8255, LongitudeDeg: -155.4761, ElevationM: 4139, Timezone: "Pacific/Honolulu"},
	{Key: "seimei", Name: "Seimei Telescope, Okayama", LatitudeDeg: 34.5766, LongitudeDeg: 133.5967, ElevationM: 355, Timezone: "Asia/Tokyo"},
	{Key: "kiso", Name: "Kiso Observatory", LatitudeDeg: 35.7972, LongitudeDeg: 137.6253, ElevationM: 1130, Timezone: "Asia/Tokyo"},
	{Key: "lasilla", Name: "La Silla Observatory", LatitudeDeg: -29.2567, LongitudeDeg: -70.7346, ElevationM: 2400, Timezone: "America/Santiago"},
	{Key: "paranal", Name: "Paranal Observatory", LatitudeDeg: -24.6272, LongitudeDeg: -70.4042, ElevationM: 2635, Timezone: "America/Santiago"},
	{Key: "kittpeak", Name: "Kitt Peak National Observatory", LatitudeDeg: 31.9583, LongitudeDeg: -111.5967, ElevationM: 2096, Timezone: "America/Phoenix"},
}

// DefaultSiteKey is used when a request names no site.
const DefaultSiteKey = "subaru"

// Registry is a keyed set of observatory sites, safe for concurrent reads.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]Site
}

// NewRegistry returns a registry seeded with the built-in observatories.
func NewRegistry() *Registry {
	r := &Registry{sites: make(map[string]Site, len(builtinSites))}
	for _, s := range builtinSites {
		r.sites[s.Key] = s
	}
	return r
}

// Lookup returns the site registered under key.
func (r *Registry) Lookup(key string) (Site, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sites[key]
	return s, ok
}

// All returns every site sorted by key.
func (r *Registry) All() []Site {
	r.mu.RLock()
	out := make([]Site, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Add registers s, replacing any site with the same key.
func (r *Registry) Add(s Site) error {
	if s.Key == "" {
		return fmt.Errorf("site has no key")
	}
	if !s.Valid() {
		return fmt.Errorf("site %q: coordinates out of range (lat=%g lon=%g)", s.Key, s.LatitudeDeg, s.LongitudeDeg)
	}
	r.mu.Lock()
	r.sites[s.Key] = s
	r.mu.Unlock()
	return nil
}

// siteFile is the TOML layout:
//
//	[sites.kiso]
//	name = "Kiso Observatory"
//	latitude = 35.7972
//	longitude = 137.6253
//	elevation = 1130
//	timezone = "Asia/Tokyo"
type siteFile struct {
	Sites map[string]siteEntry `toml:"sites"`
}

type siteEntry struct {
	Name      string  `toml:"name"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
	Elevation float64 `toml:"elevation"`
	Timezone  string  `toml:"timezone"`
}

// LoadTOML merges sites from a TOML document into the registry. Invalid
// entries are skipped with a warning. Returns the number of sites merged.
func (r *Registry) LoadTOML(rd io.Reader, logger *slog.Logger) (int, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return 0, fmt.Errorf("read sites: %w", err)
	}
	var f siteFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse sites: %w", err)
	}

	keys := make([]string, 0, len(f.Sites))
	for k := range f.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := 0
	for _, k := range keys {
		e := f.Sites[k]
		s := Site{
			Key:          k,
			Name:         e.Name,
			LatitudeDeg:  e.Latitude,
			LongitudeDeg: e.Longitude,
			ElevationM:   e.Elevation,
			Timezone:     e.Timezone,
		}
		if s.Name == "" {
			s.Name = k
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				logger.Warn("unknown site timezone, using longitude offset",
					"site", k, "timezone", s.Timezone, "error", err)
				s.Timezone = ""
			}
		}
		if err := r.Add(s); err != nil {
			logger.Warn("skipping site", "site", k, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// LoadSitesFile builds a registry from the built-ins plus the TOML file at
// path. An empty path yields the built-ins alone.
func LoadSitesFile(path string, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sites file: %w", err)
	}
	defer f.Close()

	n, err := r.LoadTOML(f, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("sites loaded", "path", path, "count", n)
	return r, nil
}
