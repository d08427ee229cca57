// Package db persists sweep runs and their per-point samples to SQLite.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/iv.report/internal/sweep"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the SQLite database at path and brings
// the schema up to the latest migration.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{conn}
	if err := db.migrateUp(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// migrateUp applies all pending embedded migrations.
func (db *DB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// Note: we don't close m because it would close the underlying DB
	// connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Run describes one persisted sweep run.
type Run struct {
	ID          string
	Port        string
	Points      int
	Repetitions int
	StartedAt   time.Time
}

// Sample is one persisted sweep point.
type Sample struct {
	Point       int
	MeasuredAt  time.Time
	Excitation  float64
	Response    float64
	ResponseStd float64
	Resistance  float64
	Power       float64
}

// CreateRun registers a new sweep run and returns its ID.
func (db *DB) CreateRun(port string, points, repetitions int) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sweep_runs (run_id, port, points, repetitions) VALUES (?, ?, ?, ?)`,
		id, port, points, repetitions,
	)
	if err != nil {
		return "", fmt.Errorf("create sweep run: %w", err)
	}
	return id, nil
}

// nullIfNaN maps NaN to SQL NULL. SQLite has no NaN: binding one silently
// stores NULL, so we make the mapping explicit and reverse it on read.
func nullIfNaN(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

// nanIfNull reverses nullIfNaN.
func nanIfNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// RecordRepetition stores a full snapshot as the samples of the given
// repetition. Re-recording the same repetition overwrites it. Degenerate
// derived values survive the round trip: NaN is stored as NULL, infinities
// as-is.
func (db *DB) RecordRepetition(runID string, repetition int, snap sweep.Snapshot) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("record repetition: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO sweep_samples
			(run_id, repetition, point, measured_at_ns, excitation, response, response_std, resistance, power)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("record repetition: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < snap.Len(); i++ {
		_, err := stmt.Exec(
			runID, repetition, i,
			snap.Time[i].UnixNano(),
			snap.Excitation[i], snap.Response[i], snap.ResponseStd[i],
			nullIfNaN(snap.Resistance[i]), nullIfNaN(snap.Power[i]),
		)
		if err != nil {
			return fmt.Errorf("record sample %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Samples returns the persisted samples of one repetition in point order.
func (db *DB) Samples(runID string, repetition int) ([]Sample, error) {
	rows, err := db.Query(`
		SELECT point, measured_at_ns, excitation, response, response_std, resistance, power
		FROM sweep_samples
		WHERE run_id = ? AND repetition = ?
		ORDER BY point`,
		runID, repetition,
	)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var measuredAtNs int64
		var resistance, power sql.NullFloat64
		if err := rows.Scan(&s.Point, &measuredAtNs, &s.Excitation, &s.Response, &s.ResponseStd, &resistance, &power); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Resistance = nanIfNull(resistance)
		s.Power = nanIfNull(power)
		s.MeasuredAt = time.Unix(0, measuredAtNs)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Runs lists every persisted sweep run, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`
		SELECT run_id, port, points, repetitions, started_at
		FROM sweep_runs
		ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Port, &r.Points, &r.Repetitions, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
