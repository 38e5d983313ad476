package catalog

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is one catalog record: column name to value. Numeric cells are float64,
// everything else is a trimmed string. Empty cells are absent.
type Row map[string]any

// Float returns the numeric value of column col. Numeric-looking strings are
// accepted so rows from loosely typed sources still filter correctly.
func (r Row) Float(col string) (float64, bool) {
	v, ok := r[col]
	if !ok {
		return 0, false
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Catalog is a named set of rows loaded from one source.
type Catalog struct {
	Name     string
	Source   string
	LoadedAt time.Time
	Columns  []string
	Rows     []Row
}

// NumericColumns returns the sorted set of columns holding at least one
// numeric value.
func (c *Catalog) NumericColumns() []string {
	seen := make(map[string]bool)
	for _, row := range c.Rows {
		for col, v := range row {
			if _, ok := v.(float64); ok {
				seen[col] = true
			}
		}
	}
	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Dataset is the immutable set of catalogs currently loaded.
type Dataset struct {
	UpdatedAt time.Time
	Catalogs  []*Catalog
}

// RowCount returns the total number of rows across all catalogs.
func (d *Dataset) RowCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, c := range d.Catalogs {
		n += len(c.Rows)
	}
	return n
}
