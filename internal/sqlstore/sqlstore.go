// Package sqlstore is the tabular sink: it records every snapshot as
// (path, digest, epoch) rows and every change set as one row per changed
// path, in an SQLite database opened with production-safe pragmas.
//
// Usage:
//
//	db, err := sqlstore.Open("fingerprints.db")
//	runID, err := db.WriteSnapshot(ctx, snap)
//	err = db.WriteChangeSet(ctx, runID, source, cs, epoch)
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"fingerprinter/internal/snapshot"
)

// Schema is applied on every Open; statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	run_id TEXT NOT NULL,
	source TEXT NOT NULL,
	path   TEXT NOT NULL,
	digest TEXT NOT NULL,
	epoch  INTEGER NOT NULL,
	PRIMARY KEY (run_id, path)
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_source ON fingerprints(source, epoch);

CREATE TABLE IF NOT EXISTS changes (
	run_id   TEXT NOT NULL,
	source   TEXT NOT NULL,
	path     TEXT NOT NULL,
	kind     TEXT NOT NULL CHECK (kind IN ('new', 'deleted', 'changed')),
	epoch    INTEGER NOT NULL,
	previous TEXT NOT NULL,
	current  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changes_run ON changes(run_id);
`

// Change kinds as stored in changes.kind; they match the diff file keys.
const (
	KindNew     = "new"
	KindDeleted = "deleted"
	KindChanged = "changed"
)

type config struct {
	busyTimeout int
	synchronous string
	logger      zerolog.Logger
}

func defaults() config {
	return config{busyTimeout: 10_000, synchronous: "NORMAL", logger: zerolog.Nop()}
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithLogger sets the logger used for row counts.
func WithLogger(l zerolog.Logger) Option { return func(c *config) { c.logger = l } }

// DB is an open sink.
type DB struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies Schema.
func Open(path string, opts ...Option) (*DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlstore: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: exec schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	return &DB{db: db, log: cfg.logger}, nil
}

// OpenMemory opens an in-memory sink for tests and closes it on cleanup.
func OpenMemory(t testing.TB) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("sqlstore.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// SQL exposes the handle for ad-hoc queries.
func (d *DB) SQL() *sql.DB { return d.db }

// WriteSnapshot inserts one row per entry of s under a fresh run ID and
// returns that ID.
func (d *DB) WriteSnapshot(ctx context.Context, s *snapshot.Snapshot) (string, error) {
	runID := uuid.NewString()
	epoch := s.CreatedAt().Epoch
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO fingerprints (run_id, source, path, digest, epoch) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range s.Paths() {
			digest, _ := s.Digest(p)
			if _, err := stmt.ExecContext(ctx, runID, s.Source(), p, digest, epoch); err != nil {
				return fmt.Errorf("insert %s: %w", p, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sqlstore: write snapshot: %w", err)
	}
	d.log.Debug().Str("run_id", runID).Int("rows", s.Len()).Msg("fingerprints stored")
	return runID, nil
}

// WriteChangeSet inserts one row per path of cs. prev and curr supply the
// before and after digests; either may be nil.
func (d *DB) WriteChangeSet(ctx context.Context, runID string, prev, curr *snapshot.Snapshot, cs snapshot.ChangeSet) error {
	source, epoch := "", int64(0)
	if curr != nil {
		source, epoch = curr.Source(), curr.CreatedAt().Epoch
	}
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO changes (run_id, source, path, kind, epoch, previous, current) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		groups := []struct {
			kind  string
			paths []string
		}{
			{KindNew, cs.Added},
			{KindDeleted, cs.Deleted},
			{KindChanged, cs.Changed},
		}
		for _, g := range groups {
			for _, p := range g.paths {
				before, after := digestOf(prev, p), digestOf(curr, p)
				if _, err := stmt.ExecContext(ctx, runID, source, p, g.kind, epoch, before, after); err != nil {
					return fmt.Errorf("insert %s: %w", p, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlstore: write changes: %w", err)
	}
	d.log.Debug().Str("run_id", runID).Int("rows", cs.Len()).Msg("changes stored")
	return nil
}

// Change is one stored change row.
type Change struct {
	Path     string
	Kind     string
	Epoch    int64
	Previous string
	Current  string
}

// Changes returns the change rows of a run ordered by kind then path.
func (d *DB) Changes(ctx context.Context, runID string) ([]Change, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT path, kind, epoch, previous, current FROM changes WHERE run_id = ? ORDER BY kind, path`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query changes: %w", err)
	}
	defer rows.Close()
	var out []Change
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.Path, &c.Kind, &c.Epoch, &c.Previous, &c.Current); err != nil {
			return nil, fmt.Errorf("sqlstore: scan change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Fingerprints returns the path to digest mapping stored for a run.
func (d *DB) Fingerprints(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT path, digest FROM fingerprints WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query fingerprints: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, digest string
		if err := rows.Scan(&p, &digest); err != nil {
			return nil, fmt.Errorf("sqlstore: scan fingerprint: %w", err)
		}
		out[p] = digest
	}
	return out, rows.Err()
}

func (d *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func digestOf(s *snapshot.Snapshot, p string) string {
	if s == nil {
		return ""
	}
	d, _ := s.Digest(p)
	return d
}
