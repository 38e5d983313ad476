// Package lightcurve serves archived NEOWISE photometry for stars picked in
// a field search. Sources are found by ID or as the nearest catalogued
// position within MatchRadiusArcsec, and their single-exposure measurements
// are quality-cut and merged into a W1/W2 light curve.
package lightcurve

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"

	_ "modernc.org/sqlite"

	"github.com/star/guidestar/internal/skygeom"
)

// MatchRadiusArcsec is the largest separation accepted for a positional match.
const MatchRadiusArcsec = 3.0

// ErrNotFound is returned when no source matches.
var ErrNotFound = errors.New("light curve source not found")

// Source is a catalogued object with archived photometry.
type Source struct {
	SourceID  string  `json:"source_id"`
	RA        float64 `json:"ra"`
	Dec       float64 `json:"dec"`
	AllWISEID string  `json:"allwise_id"`
}

// Coordinate returns the source position.
func (s Source) Coordinate() skygeom.Coordinate {
	return skygeom.Coordinate{RA: s.RA, Dec: s.Dec}
}

// Measurement is one single-exposure NEOWISE magnitude with the flags the
// quality cuts look at. Flag strings carry one character per band, W1 first.
type Measurement struct {
	MJD          float64  `json:"mjd"`
	Band         string   `json:"band"`
	Mag          float64  `json:"mag"`
	MagErr       float64  `json:"mag_err"`
	MagCorrected *float64 `json:"mag_corrected,omitempty"`
	CCFlags      string   `json:"cc_flags"`
	PhQual       string   `json:"ph_qual"`
	MoonMasked   string   `json:"moon_masked"`
	SSOFlag      int      `json:"sso_flg"`
	QIFact       float64  `json:"qi_fact"`
	SAASep       float64  `json:"saa_sep"`
	Sat          float64  `json:"sat"`
	RChi2        float64  `json:"rchi2"`
	QualFrame    float64  `json:"qual_frame"`
	Sky          *float64 `json:"sky,omitempty"`
}

// Store wraps the SQLite photometry archive.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the archive at path and ensures schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening light curve db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating light curve schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
            source_id TEXT PRIMARY KEY,
            ra REAL NOT NULL,
            dec REAL NOT NULL,
            allwise_id TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE INDEX IF NOT EXISTS idx_sources_dec ON sources(dec);`,
		`CREATE TABLE IF NOT EXISTS measurements (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            source_id TEXT NOT NULL REFERENCES sources(source_id),
            mjd REAL NOT NULL,
            band TEXT NOT NULL,
            mag REAL NOT NULL,
            mag_err REAL NOT NULL,
            mag_corrected REAL,
            cc_flags TEXT NOT NULL DEFAULT '',
            ph_qual TEXT NOT NULL DEFAULT '',
            moon_masked TEXT NOT NULL DEFAULT '',
            sso_flg INTEGER NOT NULL DEFAULT 0,
            qi_fact REAL NOT NULL DEFAULT 0,
            saa_sep REAL NOT NULL DEFAULT 0,
            sat REAL NOT NULL DEFAULT 0,
            rchi2 REAL NOT NULL DEFAULT 0,
            qual_frame REAL NOT NULL DEFAULT 0,
            sky REAL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_source ON measurements(source_id, mjd);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PutSource inserts src or replaces the source with the same ID.
func (s *Store) PutSource(ctx context.Context, src Source) error {
	if src.SourceID == "" {
		return errors.New("source_id is required")
	}
	if !src.Coordinate().Valid() {
		return fmt.Errorf("source %s: position out of range (ra=%g dec=%g)", src.SourceID, src.RA, src.Dec)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (source_id, ra, dec, allwise_id) VALUES (?, ?, ?, ?)
         ON CONFLICT(source_id) DO UPDATE SET ra = excluded.ra, dec = excluded.dec, allwise_id = excluded.allwise_id;`,
		src.SourceID, src.RA, src.Dec, src.AllWISEID,
	)
	if err != nil {
		return fmt.Errorf("storing source %s: %w", src.SourceID, err)
	}
	return nil
}

// AddMeasurements appends ms to sourceID's photometry in one transaction.
// The source must already exist.
func (s *Store) AddMeasurements(ctx context.Context, sourceID string, ms []Measurement) error {
	if _, err := s.Source(ctx, sourceID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO measurements (source_id, mjd, band, mag, mag_err, mag_corrected,
            cc_flags, ph_qual, moon_masked, sso_flg, qi_fact, saa_sep, sat, rchi2, qual_frame, sky)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range ms {
		if _, err := stmt.ExecContext(ctx, sourceID, m.MJD, m.Band, m.Mag, m.MagErr, m.MagCorrected,
			m.CCFlags, m.PhQual, m.MoonMasked, m.SSOFlag, m.QIFact, m.SAASep, m.Sat, m.RChi2, m.QualFrame, m.Sky,
		); err != nil {
			return fmt.Errorf("inserting measurement at MJD %g: %w", m.MJD, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("light curve measurements added", "source_id", sourceID, "count", len(ms))
	return nil
}

// Source returns the source with the given ID.
func (s *Store) Source(ctx context.Context, id string) (Source, error) {
	var src Source
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, ra, dec, allwise_id FROM sources WHERE source_id = ?;`, id,
	).Scan(&src.SourceID, &src.RA, &src.Dec, &src.AllWISEID)
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, ErrNotFound
	}
	if err != nil {
		return Source{}, fmt.Errorf("reading source: %w", err)
	}
	return src, nil
}

// Nearest returns the source closest to pos and its separation in arcsec,
// or ErrNotFound when none lies within MatchRadiusArcsec.
func (s *Store) Nearest(ctx context.Context, pos skygeom.Coordinate) (Source, float64, error) {
	radius := MatchRadiusArcsec / 3600
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, ra, dec, allwise_id FROM sources WHERE dec BETWEEN ? AND ?;`,
		pos.Dec-radius, pos.Dec+radius,
	)
	if err != nil {
		return Source{}, 0, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var (
		best    Source
		bestSep = math.Inf(1)
	)
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.SourceID, &src.RA, &src.Dec, &src.AllWISEID); err != nil {
			return Source{}, 0, fmt.Errorf("reading source: %w", err)
		}
		if sep := skygeom.Separation(pos, src.Coordinate()) * 3600; sep < bestSep {
			best, bestSep = src, sep
		}
	}
	if err := rows.Err(); err != nil {
		return Source{}, 0, fmt.Errorf("reading sources: %w", err)
	}
	if bestSep > MatchRadiusArcsec {
		return Source{}, 0, ErrNotFound
	}
	return best, bestSep, nil
}

// Measurements returns sourceID's photometry ordered by MJD.
func (s *Store) Measurements(ctx context.Context, sourceID string) ([]Measurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mjd, band, mag, mag_err, mag_corrected, cc_flags, ph_qual, moon_masked,
            sso_flg, qi_fact, saa_sep, sat, rchi2, qual_frame, sky
         FROM measurements WHERE source_id = ? ORDER BY mjd, seq;`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying measurements: %w", err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var (
			m         Measurement
			corrected sql.NullFloat64
			sky       sql.NullFloat64
		)
		if err := rows.Scan(&m.MJD, &m.Band, &m.Mag, &m.MagErr, &corrected, &m.CCFlags, &m.PhQual, &m.MoonMasked,
			&m.SSOFlag, &m.QIFact, &m.SAASep, &m.Sat, &m.RChi2, &m.QualFrame, &sky,
		); err != nil {
			return nil, fmt.Errorf("reading measurement: %w", err)
		}
		if corrected.Valid {
			m.MagCorrected = &corrected.Float64
		}
		if sky.Valid {
			m.Sky = &sky.Float64
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the number of stored sources.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources;`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
