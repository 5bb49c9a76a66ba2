// Package postgres is the PostgreSQL backend for the fleet log.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/storage"
	"github.com/yegors/fleetwatch/pkg/logger"
)

var _ storage.Store = (*Store)(nil)

// Config holds connection settings
type Config struct {
	URL         string
	MaxConns    int32
	ConnTimeout time.Duration
}

// Store wraps a PostgreSQL connection pool
type Store struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// Open connects, pings and creates the schema
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	pgLogger := log.Named("postgres")

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	if cfg.ConnTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool, logger: pgLogger}
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	pgLogger.Info("Connected to PostgreSQL",
		logger.Int("max_conns", int(poolCfg.MaxConns)))
	return s, nil
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSchema creates the tables if they do not exist
func (s *Store) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS aircraft (
		id              BIGSERIAL PRIMARY KEY,
		icao24          TEXT NOT NULL UNIQUE,
		tail_number     TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS positions (
		id              BIGSERIAL PRIMARY KEY,
		aircraft_id     BIGINT NOT NULL REFERENCES aircraft(id) ON DELETE CASCADE,
		ts              TIMESTAMPTZ NOT NULL,
		lat             DOUBLE PRECISION,
		lon             DOUBLE PRECISION,
		altitude        DOUBLE PRECISION,
		altitude_unit   TEXT,
		velocity        DOUBLE PRECISION,
		heading         DOUBLE PRECISION,
		vertical_rate   DOUBLE PRECISION,
		squawk          TEXT,
		on_ground       BOOLEAN,
		source          TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_positions_aircraft_ts ON positions(aircraft_id, ts);
	CREATE INDEX IF NOT EXISTS idx_positions_ts ON positions(ts);

	CREATE TABLE IF NOT EXISTS events (
		id              BIGSERIAL PRIMARY KEY,
		aircraft_id     BIGINT NOT NULL REFERENCES aircraft(id) ON DELETE CASCADE,
		ts              TIMESTAMPTZ NOT NULL,
		type            TEXT NOT NULL,
		meta            JSONB NOT NULL DEFAULT '{}'::jsonb
	);

	CREATE INDEX IF NOT EXISTS idx_events_aircraft_type_ts ON events(aircraft_id, type, ts);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// EnsureAircraft inserts missing aircraft and returns the full fleet. Existing rows are left untouched.
func (s *Store) EnsureAircraft(ctx context.Context, aircraft []fleet.Aircraft) ([]fleet.Aircraft, error) {
	batch := &pgx.Batch{}
	for _, a := range aircraft {
		batch.Queue(`INSERT INTO aircraft (icao24, tail_number) VALUES ($1, $2) ON CONFLICT (icao24) DO NOTHING`,
			a.ICAO24, a.TailNumber)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert aircraft: %w", err)
	}
	return s.ListAircraft(ctx)
}

// ListAircraft returns every provisioned aircraft ordered by id
func (s *Store) ListAircraft(ctx context.Context) ([]fleet.Aircraft, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, icao24, tail_number FROM aircraft ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query aircraft: %w", err)
	}
	defer rows.Close()

	var out []fleet.Aircraft
	for rows.Next() {
		var a fleet.Aircraft
		if err := rows.Scan(&a.ID, &a.ICAO24, &a.TailNumber); err != nil {
			return nil, fmt.Errorf("scan aircraft: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const positionColumns = `p.aircraft_id, a.icao24, a.tail_number, p.ts, p.lat, p.lon, p.altitude, p.altitude_unit,
	p.velocity, p.heading, p.vertical_rate, p.squawk, p.on_ground, p.source`

// AppendPosition appends one sample to the log
func (s *Store) AppendPosition(ctx context.Context, p fleet.PositionSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (aircraft_id, ts, lat, lon, altitude, altitude_unit, velocity, heading, vertical_rate, squawk, on_ground, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.AircraftID, p.TS.UTC(), p.Lat, p.Lon, p.Altitude, string(p.AltitudeUnit),
		p.Velocity, p.Heading, p.VerticalRate, p.Squawk, p.OnGround, p.Source,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// LatestPositions returns, per aircraft, the newest sample with ts <= at
func (s *Store) LatestPositions(ctx context.Context, at time.Time, aircraftID int64) ([]fleet.PositionSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (p.aircraft_id) `+positionColumns+`
		FROM positions p
		JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.ts <= $1 AND ($2::bigint = 0 OR p.aircraft_id = $2)
		ORDER BY p.aircraft_id, p.ts DESC, p.id DESC`,
		at.UTC(), aircraftID,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest positions: %w", err)
	}
	return scanPositions(rows)
}

// PositionsBetween returns samples with from <= ts <= to in time order
func (s *Store) PositionsBetween(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.PositionSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions p
		JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.ts >= $1 AND p.ts <= $2 AND ($3::bigint = 0 OR p.aircraft_id = $3)
		ORDER BY p.ts, p.id`,
		from.UTC(), to.UTC(), aircraftID,
	)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	return scanPositions(rows)
}

// LatestFix returns the newest sample with a known position inside [from, to]
func (s *Store) LatestFix(ctx context.Context, aircraftID int64, from, to time.Time) (fleet.PositionSample, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions p
		JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.aircraft_id = $1 AND p.ts >= $2 AND p.ts <= $3
		  AND p.lat IS NOT NULL AND p.lon IS NOT NULL
		ORDER BY p.ts DESC, p.id DESC
		LIMIT 1`,
		aircraftID, from.UTC(), to.UTC(),
	)
	if err != nil {
		return fleet.PositionSample{}, false, fmt.Errorf("query latest fix: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil || len(out) == 0 {
		return fleet.PositionSample{}, false, err
	}
	return out[0], true, nil
}

func scanPositions(rows pgx.Rows) ([]fleet.PositionSample, error) {
	defer rows.Close()

	var out []fleet.PositionSample
	for rows.Next() {
		var (
			p                    fleet.PositionSample
			unit, squawk, source *string
		)
		if err := rows.Scan(&p.AircraftID, &p.ICAO24, &p.TailNumber, &p.TS, &p.Lat, &p.Lon, &p.Altitude, &unit,
			&p.Velocity, &p.Heading, &p.VerticalRate, &squawk, &p.OnGround, &source); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.TS = p.TS.UTC()
		p.AltitudeUnit = fleet.AltitudeUnit(deref(unit))
		p.Squawk = deref(squawk)
		p.Source = deref(source)
		out = append(out, p)
	}
	return out, rows.Err()
}

const eventColumns = `e.id, e.aircraft_id, a.icao24, a.tail_number, e.ts, e.type, e.meta`

// InsertEvent writes ev unless an event of the same kind for the same aircraft already
// lies within window of ev.TS. The aircraft row is locked for the check and the insert.
func (s *Store) InsertEvent(ctx context.Context, ev fleet.FlightEvent, window time.Duration) (int64, bool, error) {
	meta, err := fleet.EncodeMeta(ev.Kind, ev.Meta)
	if err != nil {
		return 0, false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT id FROM aircraft WHERE id = $1 FOR UPDATE`, ev.AircraftID); err != nil {
		return 0, false, fmt.Errorf("lock aircraft: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE aircraft_id = $1 AND type = $2 AND ts > $3 AND ts < $4
		)`,
		ev.AircraftID, string(ev.Kind), ev.TS.Add(-window).UTC(), ev.TS.Add(window).UTC(),
	).Scan(&exists)
	if err != nil {
		return 0, false, fmt.Errorf("check recent events: %w", err)
	}
	if exists {
		return 0, false, nil
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO events (aircraft_id, ts, type, meta) VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id`,
		ev.AircraftID, ev.TS.UTC(), string(ev.Kind), string(meta),
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit event: %w", err)
	}
	return id, true, nil
}

// LatestEvent returns the newest event of any of kinds with ts <= before
func (s *Store) LatestEvent(ctx context.Context, aircraftID int64, before time.Time, kinds ...fleet.EventKind) (fleet.FlightEvent, bool, error) {
	if len(kinds) == 0 {
		return fleet.FlightEvent{}, false, errors.New("at least one event kind is required")
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN aircraft a ON a.id = e.aircraft_id
		WHERE e.aircraft_id = $1 AND e.ts <= $2 AND e.type = ANY($3)
		ORDER BY e.ts DESC, e.id DESC
		LIMIT 1`,
		aircraftID, before.UTC(), names,
	)
	if err != nil {
		return fleet.FlightEvent{}, false, fmt.Errorf("query latest event: %w", err)
	}
	out, err := scanEvents(rows)
	if err != nil || len(out) == 0 {
		return fleet.FlightEvent{}, false, err
	}
	return out[0], true, nil
}

// EventsBetween returns events with from <= ts <= to in time order
func (s *Store) EventsBetween(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.FlightEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN aircraft a ON a.id = e.aircraft_id
		WHERE e.ts >= $1 AND e.ts <= $2 AND ($3::bigint = 0 OR e.aircraft_id = $3)
		ORDER BY e.ts, e.id`,
		from.UTC(), to.UTC(), aircraftID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEvents(rows)
}

// RecentEvents returns up to limit events with ts <= at, newest first
func (s *Store) RecentEvents(ctx context.Context, at time.Time, limit int, aircraftID int64) ([]fleet.FlightEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN aircraft a ON a.id = e.aircraft_id
		WHERE e.ts <= $1 AND ($2::bigint = 0 OR e.aircraft_id = $2)
		ORDER BY e.ts DESC, e.id DESC
		LIMIT $3`,
		at.UTC(), aircraftID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return scanEvents(rows)
}

// EventTimes returns the timestamps of kind events with from < ts <= to
func (s *Store) EventTimes(ctx context.Context, kind fleet.EventKind, from, to time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts FROM events
		WHERE type = $1 AND ts > $2 AND ts <= $3
		ORDER BY ts`,
		string(kind), from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query event times: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan event time: %w", err)
		}
		out = append(out, ts.UTC())
	}
	return out, rows.Err()
}

// MonthlyCounts groups takeoffs and landings by UTC month and counts aircraft that took off
func (s *Store) MonthlyCounts(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.MonthlyCount, int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(ts AT TIME ZONE 'UTC', 'YYYY-MM') AS month,
			COUNT(*) FILTER (WHERE type = 'TAKEOFF') AS takeoffs,
			COUNT(*) FILTER (WHERE type = 'LANDING') AS landings
		FROM events
		WHERE ts >= $1 AND ts <= $2 AND type IN ('TAKEOFF', 'LANDING')
		  AND ($3::bigint = 0 OR aircraft_id = $3)
		GROUP BY month
		ORDER BY month`,
		from.UTC(), to.UTC(), aircraftID,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query monthly counts: %w", err)
	}

	var months []fleet.MonthlyCount
	for rows.Next() {
		var m fleet.MonthlyCount
		if err := rows.Scan(&m.Month, &m.Takeoffs, &m.Landings); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan monthly count: %w", err)
		}
		months = append(months, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var active int
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT aircraft_id) FROM events
		WHERE ts >= $1 AND ts <= $2 AND type = 'TAKEOFF' AND ($3::bigint = 0 OR aircraft_id = $3)`,
		from.UTC(), to.UTC(), aircraftID,
	).Scan(&active)
	if err != nil {
		return nil, 0, fmt.Errorf("count active aircraft: %w", err)
	}
	return months, active, nil
}

// TopDestinations ranks known landing airports by count
func (s *Store) TopDestinations(ctx context.Context, from, to time.Time, aircraftID int64, limit int) ([]fleet.DestinationCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT meta->>'destination_airport' AS airport,
			COALESCE(MAX(meta->>'destination_name'), '') AS name,
			COUNT(*) AS cnt
		FROM events
		WHERE ts >= $1 AND ts <= $2 AND type = 'LANDING'
		  AND meta->>'destination_airport' IS NOT NULL
		  AND meta->>'destination_airport' <> 'UNKNOWN'
		  AND ($3::bigint = 0 OR aircraft_id = $3)
		GROUP BY airport
		ORDER BY cnt DESC, airport
		LIMIT $4`,
		from.UTC(), to.UTC(), aircraftID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top destinations: %w", err)
	}
	defer rows.Close()

	var out []fleet.DestinationCount
	for rows.Next() {
		var d fleet.DestinationCount
		if err := rows.Scan(&d.Airport, &d.Name, &d.Count); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		if d.Name == "" {
			d.Name = d.Airport
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanEvents(rows pgx.Rows) ([]fleet.FlightEvent, error) {
	defer rows.Close()

	var out []fleet.FlightEvent
	for rows.Next() {
		var (
			ev   fleet.FlightEvent
			kind string
			meta []byte
		)
		if err := rows.Scan(&ev.ID, &ev.AircraftID, &ev.ICAO24, &ev.TailNumber, &ev.TS, &kind, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.TS = ev.TS.UTC()
		ev.Kind = fleet.EventKind(kind)
		m, err := fleet.DecodeMeta(ev.Kind, meta)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.ID, err)
		}
		ev.Meta = m
		out = append(out, ev)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
