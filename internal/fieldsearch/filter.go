package fieldsearch

// MagnitudeFilter selects stars whose numeric Column lies within [Min, Max].
// A nil bound is unconstrained. An empty Column disables the filter.
type MagnitudeFilter struct {
	Column string   `json:"column"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// Active reports whether the filter constrains anything.
func (f MagnitudeFilter) Active() bool {
	return f.Column != ""
}

// Match reports whether s passes the filter. With an active filter, stars
// missing a numeric value in Column never match.
func (f MagnitudeFilter) Match(s FieldStar) bool {
	if !f.Active() {
		return true
	}
	v, ok := s.Row.Float(f.Column)
	if !ok {
		return false
	}
	if f.Min != nil && v < *f.Min {
		return false
	}
	if f.Max != nil && v > *f.Max {
		return false
	}
	return true
}

// ApplyFilter returns the stars of ranked that pass f, keeping order.
// An inactive filter returns ranked itself.
func ApplyFilter(ranked []FieldStar, f MagnitudeFilter) []FieldStar {
	if !f.Active() {
		return ranked
	}
	out := make([]FieldStar, 0, len(ranked))
	for _, s := range ranked {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	return out
}
