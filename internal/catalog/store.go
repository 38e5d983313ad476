package catalog

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store provides thread-safe access to the loaded catalogs. Readers get an
// immutable Dataset; writers build a new one and swap it in.
type Store struct {
	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex // serializes writers
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if nothing has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Catalogs returns the currently loaded catalogs.
func (s *Store) Catalogs() []*Catalog {
	ds := s.dataset.Load()
	if ds == nil {
		return nil
	}
	return ds.Catalogs
}

// Put adds c, replacing any catalog with the same name.
func (s *Store) Put(c *Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next []*Catalog
	if ds := s.dataset.Load(); ds != nil {
		next = make([]*Catalog, 0, len(ds.Catalogs)+1)
		for _, existing := range ds.Catalogs {
			if existing.Name != c.Name {
				next = append(next, existing)
			}
		}
	}
	next = append(next, c)
	s.dataset.Store(&Dataset{UpdatedAt: time.Now(), Catalogs: next})
}

// Remove drops the catalog called name. Returns false if it was not loaded.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.dataset.Load()
	if ds == nil {
		return false
	}
	next := make([]*Catalog, 0, len(ds.Catalogs))
	for _, c := range ds.Catalogs {
		if c.Name != name {
			next = append(next, c)
		}
	}
	if len(next) == len(ds.Catalogs) {
		return false
	}
	s.dataset.Store(&Dataset{UpdatedAt: time.Now(), Catalogs: next})
	return true
}

// AgeSeconds returns seconds since the dataset last changed, or -1 if empty.
func (s *Store) AgeSeconds() float64 {
	ds := s.dataset.Load()
	if ds == nil {
		return -1
	}
	return time.Since(ds.UpdatedAt).Seconds()
}
