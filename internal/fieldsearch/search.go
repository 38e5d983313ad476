// Package fieldsearch turns raw catalog rows into a ranked, field-of-view
// bounded star list around a target, and re-filters that list by magnitude.
package fieldsearch

import (
	"errors"
	"math"
	"sort"

	"github.com/star/guidestar/internal/catalog"
	"github.com/star/guidestar/internal/skygeom"
)

const (
	// DefaultMaxResults caps the ranked list. Catalogs can hold far more rows
	// than are usable or renderable.
	DefaultMaxResults = 500

	// DefaultRadiusArcmin is the default field radius.
	DefaultRadiusArcmin = 25.0
)

var (
	// ErrNoCatalogsLoaded is returned when a search runs without any catalog rows.
	ErrNoCatalogsLoaded = errors.New("no catalogs loaded")

	// ErrNoTargetSet is returned when the search target is missing or invalid.
	ErrNoTargetSet = errors.New("no target set")
)

// Column aliases tried in order when resolving positions.
var (
	raAliases  = []string{"ra", "RA", "Ra", "_RAJ2000"}
	decAliases = []string{"dec", "Dec", "DEC", "_DEJ2000"}
)

// FieldStar is a catalog row admitted to the field, with its geometry
// relative to the target.
type FieldStar struct {
	Catalog          string      `json:"catalog"`
	RA               float64     `json:"ra"`
	Dec              float64     `json:"dec"`
	SeparationDeg    float64     `json:"separation_deg"`
	PositionAngleDeg float64     `json:"position_angle_deg"`
	Row              catalog.Row `json:"row"`
}

// Coordinate returns the star's position.
func (s FieldStar) Coordinate() skygeom.Coordinate {
	return skygeom.Coordinate{RA: s.RA, Dec: s.Dec}
}

// Options controls a search.
type Options struct {
	RadiusArcmin float64
	MaxResults   int
	Filter       MagnitudeFilter
}

func (o Options) withDefaults() Options {
	if o.RadiusArcmin <= 0 {
		o.RadiusArcmin = DefaultRadiusArcmin
	}
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	return o
}

// Result is an immutable search outcome. Ranked is the canonical list;
// Displayed is Ranked with Filter applied.
type Result struct {
	Target    skygeom.Coordinate `json:"target"`
	RadiusDeg float64            `json:"radius_deg"`
	Ranked    []FieldStar        `json:"ranked"`
	Displayed []FieldStar        `json:"displayed"`
	Filter    MagnitudeFilter    `json:"filter"`
	Columns   []string           `json:"columns"`
}

// WithFilter returns a new Result sharing r's ranked list, displaying the
// stars that pass f. The ranked list is not recomputed.
func (r *Result) WithFilter(f MagnitudeFilter) *Result {
	out := *r
	out.Filter = f
	out.Displayed = ApplyFilter(r.Ranked, f)
	return &out
}

// Search ranks the rows of catalogs around target.
func Search(target skygeom.Coordinate, catalogs []*catalog.Catalog, opts Options) (*Result, error) {
	if !target.Valid() {
		return nil, ErrNoTargetSet
	}
	total := 0
	for _, c := range catalogs {
		total += len(c.Rows)
	}
	if total == 0 {
		return nil, ErrNoCatalogsLoaded
	}

	opts = opts.withDefaults()
	radius := opts.RadiusArcmin / 60

	stars := []FieldStar{}
	for _, c := range catalogs {
		for _, row := range c.Rows {
			pos, ok := ResolvePosition(row)
			if !ok {
				continue
			}
			sep := skygeom.Separation(target, pos)
			if sep > radius {
				continue
			}
			stars = append(stars, FieldStar{
				Catalog:          c.Name,
				RA:               pos.RA,
				Dec:              pos.Dec,
				SeparationDeg:    sep,
				PositionAngleDeg: skygeom.PositionAngle(target, pos),
				Row:              row,
			})
		}
	}

	sort.SliceStable(stars, func(i, j int) bool {
		return stars[i].SeparationDeg < stars[j].SeparationDeg
	})
	if len(stars) > opts.MaxResults {
		stars = stars[:opts.MaxResults]
	}

	res := &Result{
		Target:    target,
		RadiusDeg: radius,
		Ranked:    stars,
		Columns:   numericColumns(stars),
	}
	return res.WithFilter(opts.Filter), nil
}

// ResolvePosition finds the RA/Dec of a row through the alias lists. RA values
// below 24 are taken to be hours. Rows without a finite position report false.
func ResolvePosition(row catalog.Row) (skygeom.Coordinate, bool) {
	ra, ok := firstFloat(row, raAliases)
	if !ok {
		return skygeom.Coordinate{}, false
	}
	dec, ok := firstFloat(row, decAliases)
	if !ok {
		return skygeom.Coordinate{}, false
	}
	if ra < 24 {
		ra *= 15
	}
	if math.IsNaN(ra) || math.IsInf(ra, 0) || math.IsNaN(dec) || math.IsInf(dec, 0) {
		return skygeom.Coordinate{}, false
	}
	return skygeom.Coordinate{RA: ra, Dec: dec}, true
}

// firstFloat returns the first alias holding a number. A present but
// non-numeric alias falls through to the next one.
func firstFloat(row catalog.Row, aliases []string) (float64, bool) {
	for _, a := range aliases {
		if f, ok := row.Float(a); ok {
			return f, true
		}
	}
	return 0, false
}

func numericColumns(stars []FieldStar) []string {
	seen := make(map[string]bool)
	for _, s := range stars {
		for col := range s.Row {
			if _, ok := s.Row.Float(col); ok {
				seen[col] = true
			}
		}
	}
	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
