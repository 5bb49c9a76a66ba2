package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/storage"
	"github.com/yegors/fleetwatch/pkg/logger"
	_ "modernc.org/sqlite"
)

// tsLayout is fixed width so lexical order equals time order
const tsLayout = "2006-01-02T15:04:05.000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// Store is a SQLite-backed position and event log
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStore opens (and if needed creates) the database at dbPath
func NewStore(dbPath string, log *logger.Logger) (*Store, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: storageLogger,
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	statements := []struct {
		name string
		sql  string
	}{
		{"aircraft table", `
			CREATE TABLE IF NOT EXISTS aircraft (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				icao24 TEXT NOT NULL UNIQUE,
				tail_number TEXT NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`},
		{"positions table", `
			CREATE TABLE IF NOT EXISTS positions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				aircraft_id INTEGER NOT NULL,
				ts TEXT NOT NULL,
				lat REAL,
				lon REAL,
				altitude REAL,
				altitude_unit TEXT,
				velocity REAL,
				heading REAL,
				vertical_rate REAL,
				squawk TEXT,
				on_ground INTEGER,
				source TEXT,
				FOREIGN KEY (aircraft_id) REFERENCES aircraft(id) ON DELETE CASCADE
			)`},
		{"events table", `
			CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				aircraft_id INTEGER NOT NULL,
				ts TEXT NOT NULL,
				type TEXT NOT NULL,
				meta TEXT NOT NULL DEFAULT '{}',
				FOREIGN KEY (aircraft_id) REFERENCES aircraft(id) ON DELETE CASCADE
			)`},
		{"index on positions(aircraft_id, ts)", `CREATE INDEX IF NOT EXISTS idx_positions_aircraft_ts ON positions(aircraft_id, ts)`},
		{"index on positions(ts)", `CREATE INDEX IF NOT EXISTS idx_positions_ts ON positions(ts)`},
		{"index on events(aircraft_id, type, ts)", `CREATE INDEX IF NOT EXISTS idx_events_aircraft_type_ts ON events(aircraft_id, type, ts)`},
		{"index on events(ts)", `CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`},
	}

	for _, st := range statements {
		if _, err := db.Exec(st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}

	log.Info("Database schema initialized")
	return nil
}

// EnsureAircraft inserts any aircraft not yet provisioned and returns the full fleet.
// Existing rows are left untouched.
func (s *Store) EnsureAircraft(ctx context.Context, aircraft []fleet.Aircraft) ([]fleet.Aircraft, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO aircraft (icao24, tail_number) VALUES (?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare aircraft insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, a := range aircraft {
		res, err := stmt.ExecContext(ctx, a.ICAO24, a.TailNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to insert aircraft %s: %w", a.ICAO24, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit aircraft: %w", err)
	}

	if inserted > 0 {
		s.logger.Info("Provisioned aircraft", logger.Int("inserted", inserted))
	}
	return s.ListAircraft(ctx)
}

// ListAircraft returns every provisioned aircraft ordered by id
func (s *Store) ListAircraft(ctx context.Context) ([]fleet.Aircraft, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, icao24, tail_number FROM aircraft ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query aircraft: %w", err)
	}
	defer rows.Close()

	var out []fleet.Aircraft
	for rows.Next() {
		var a fleet.Aircraft
		if err := rows.Scan(&a.ID, &a.ICAO24, &a.TailNumber); err != nil {
			return nil, fmt.Errorf("failed to scan aircraft: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ storage.Store = (*Store)(nil)
