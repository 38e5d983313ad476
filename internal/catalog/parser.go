package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// maxCatalogBytes bounds how much of a single catalog file is read into memory.
const maxCatalogBytes = 64 << 20

// Parse reads a delimited catalog (CSV, TSV or '|'-separated) with a header
// row. Lines starting with '#' are comments. A VizieR units line followed by a
// dash line is skipped. Malformed rows are skipped with a warning log.
func Parse(r io.Reader, name string, logger *slog.Logger) (*Catalog, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxCatalogBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", name, err)
	}
	if len(data) > maxCatalogBytes {
		return nil, fmt.Errorf("catalog %s exceeds %d byte limit", name, maxCatalogBytes)
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = detectDelimiter(data)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", name, err)
	}

	return fromRecords(name, records, logger)
}

// xlsxMagic is the ZIP local file header that starts every XLSX workbook.
var xlsxMagic = []byte("PK\x03\x04")

// Decode parses data as an XLSX workbook when it carries the ZIP signature,
// and as a delimited catalog otherwise.
func Decode(data []byte, name string, logger *slog.Logger) (*Catalog, error) {
	if bytes.HasPrefix(data, xlsxMagic) {
		return ParseXLSX(bytes.NewReader(data), name, "", logger)
	}
	return Parse(bytes.NewReader(data), name, logger)
}

// fromRecords builds a catalog from a header record followed by data records.
func fromRecords(name string, records [][]string, logger *slog.Logger) (*Catalog, error) {
	if len(records) == 0 {
		return nil, errors.New("catalog has no header row")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	body := records[1:]

	// VizieR TSV: header, units, dashes.
	switch {
	case len(body) >= 2 && isDashLine(body[1]):
		body = body[2:]
	case len(body) >= 1 && isDashLine(body[0]):
		body = body[1:]
	}

	cat := &Catalog{
		Name:     name,
		LoadedAt: time.Now(),
		Columns:  header,
		Rows:     make([]Row, 0, len(body)),
	}

	var skipped int
	for i, rec := range body {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != len(header) {
			skipped++
			logger.Warn("skipping malformed catalog row",
				"catalog", name,
				"row_index", i,
				"fields", len(rec),
				"want_fields", len(header),
			)
			continue
		}
		row := make(Row, len(header))
		for j, cell := range rec {
			if v, ok := typedValue(cell); ok {
				row[header[j]] = v
			}
		}
		cat.Rows = append(cat.Rows, row)
	}

	logger.Debug("catalog parsed", "catalog", name, "rows", len(cat.Rows), "skipped", skipped)
	return cat, nil
}

// typedValue applies best-effort numeric typing to a cell.
func typedValue(cell string) (any, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return s, true
}

func detectDelimiter(data []byte) rune {
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || trimmed[0] == '#' {
			continue
		}
		switch {
		case bytes.ContainsRune(line, '\t'):
			return '\t'
		case bytes.ContainsRune(line, '|'):
			return '|'
		case bytes.ContainsRune(line, ';') && !bytes.ContainsRune(line, ','):
			return ';'
		}
		return ','
	}
	return ','
}

func isDashLine(rec []string) bool {
	nonEmpty := false
	for _, f := range rec {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if strings.Trim(f, "-") != "" {
			return false
		}
		nonEmpty = true
	}
	return nonEmpty
}
