// Package handoff persists size-bounded snapshots of a search session so a
// downstream detail view can pick up the ranked list, filter and PA settings
// without re-running the search.
package handoff

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/metrics"
	"github.com/star/guidestar/internal/parec"
	"github.com/star/guidestar/internal/skygeom"
)

const (
	DefaultMaxBytes     = 4 << 20
	DefaultMaxSnapshots = 50
)

var (
	// ErrStorageQuotaExceeded means the encoded snapshot is larger than the
	// store accepts. Narrowing the result with a magnitude filter usually helps.
	ErrStorageQuotaExceeded = errors.New("handoff snapshot exceeds storage quota")

	// ErrNotFound is returned when no snapshot matches.
	ErrNotFound = errors.New("handoff snapshot not found")
)

// Snapshot is the persisted state of a search session.
type Snapshot struct {
	ID        string                      `json:"id"`
	CreatedAt time.Time                   `json:"created_at"`
	Target    skygeom.Coordinate          `json:"target"`
	RadiusDeg float64                     `json:"radius_deg"`
	Ranked    []fieldsearch.FieldStar     `json:"ranked"`
	Displayed []fieldsearch.FieldStar     `json:"displayed"`
	PA        parec.Config                `json:"pa"`
	Filter    fieldsearch.MagnitudeFilter `json:"filter"`
	Columns   []string                    `json:"columns"`
}

// FromResult builds an unsaved snapshot of res with the given PA settings.
func FromResult(res *fieldsearch.Result, pa parec.Config) Snapshot {
	return Snapshot{
		Target:    res.Target,
		RadiusDeg: res.RadiusDeg,
		Ranked:    res.Ranked,
		Displayed: res.Displayed,
		PA:        pa,
		Filter:    res.Filter,
		Columns:   res.Columns,
	}
}

// Config bounds the store.
type Config struct {
	MaxBytes     int
	MaxSnapshots int
}

func (c Config) withDefaults() Config {
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = DefaultMaxSnapshots
	}
	return c
}

// Store wraps SQLite-backed snapshot persistence.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path and ensures schema.
// ":memory:" keeps snapshots for the life of the process.
func Open(path string, cfg Config, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening handoff db: %w", err)
	}
	// Each ":memory:" connection is a separate database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating handoff schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            created_at TEXT NOT NULL,
            size_bytes INTEGER NOT NULL,
            payload TEXT NOT NULL
        );`,
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

// Save assigns snap an ID and creation time and persists it. A snapshot
// larger than MaxBytes is rejected with ErrStorageQuotaExceeded and nothing
// already stored is touched. Older snapshots beyond MaxSnapshots are pruned.
func (s *Store) Save(ctx context.Context, snap Snapshot) (Snapshot, error) {
	snap.ID = uuid.NewString()
	snap.CreatedAt = s.now().UTC()

	payload, err := json.Marshal(snap)
	if err != nil {
		metrics.IncHandoffSave("error")
		return Snapshot{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	if len(payload) > s.cfg.MaxBytes {
		metrics.IncHandoffSave("quota")
		s.logger.Warn("handoff snapshot rejected",
			"size_bytes", len(payload),
			"max_bytes", s.cfg.MaxBytes,
			"ranked", len(snap.Ranked),
		)
		return Snapshot{}, fmt.Errorf("%w: %d bytes > %d", ErrStorageQuotaExceeded, len(payload), s.cfg.MaxBytes)
	}

	if err := s.insert(ctx, snap, payload); err != nil {
		metrics.IncHandoffSave("error")
		return Snapshot{}, err
	}
	metrics.IncHandoffSave("ok")
	s.logger.Debug("handoff snapshot saved", "id", snap.ID, "size_bytes", len(payload))
	return snap, nil
}

func (s *Store) insert(ctx context.Context, snap Snapshot, payload []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, created_at, size_bytes, payload) VALUES (?, ?, ?, ?);`,
		snap.ID, snap.CreatedAt.Format(time.RFC3339Nano), len(payload), string(payload),
	); err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE seq NOT IN (SELECT seq FROM snapshots ORDER BY seq DESC LIMIT ?);`,
		s.cfg.MaxSnapshots,
	); err != nil {
		return fmt.Errorf("pruning snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns the snapshot with the given ID.
func (s *Store) Load(ctx context.Context, id string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE id = ?;`, id)
	return scanSnapshot(row)
}

// Latest returns the most recently saved snapshot.
func (s *Store) Latest(ctx context.Context) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots ORDER BY seq DESC LIMIT 1;`)
	return scanSnapshot(row)
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots;`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanSnapshot(row *sql.Row) (Snapshot, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
