package fieldsearch

import (
	"sync/atomic"

	"github.com/star/guidestar/internal/catalog"
	"github.com/star/guidestar/internal/skygeom"
)

// Session holds the current search result. Each successful search replaces
// it wholesale; a failed search leaves the previous result in place.
type Session struct {
	current    atomic.Pointer[Result]
	maxResults int
}

// NewSession creates a Session whose searches keep at most maxResults stars.
func NewSession(maxResults int) *Session {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Session{maxResults: maxResults}
}

// Current returns the current result, or nil before the first search.
func (s *Session) Current() *Result {
	return s.current.Load()
}

// Search runs a new search and makes it current on success.
func (s *Session) Search(target skygeom.Coordinate, catalogs []*catalog.Catalog, radiusArcmin float64, f MagnitudeFilter) (*Result, error) {
	res, err := Search(target, catalogs, Options{
		RadiusArcmin: radiusArcmin,
		MaxResults:   s.maxResults,
		Filter:       f,
	})
	if err != nil {
		return nil, err
	}
	s.current.Store(res)
	return res, nil
}

// Filter re-filters the current ranked list without searching again. If a
// search replaces the result meanwhile, the filter is applied to the new one.
func (s *Session) Filter(f MagnitudeFilter) (*Result, error) {
	for {
		cur := s.current.Load()
		if cur == nil {
			return nil, ErrNoTargetSet
		}
		next := cur.WithFilter(f)
		if s.current.CompareAndSwap(cur, next) {
			return next, nil
		}
	}
}
