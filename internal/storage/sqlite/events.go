package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/pkg/logger"
)

const eventColumns = `e.id, e.aircraft_id, a.icao24, a.tail_number, e.ts, e.type, e.meta`

// InsertEvent writes ev unless an event of the same kind for the same aircraft
// already lies within window of ev.TS. The check and the insert share one transaction.
func (s *Store) InsertEvent(ctx context.Context, ev fleet.FlightEvent, window time.Duration) (int64, bool, error) {
	meta, err := fleet.EncodeMeta(ev.Kind, ev.Meta)
	if err != nil {
		return 0, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events
		WHERE aircraft_id = ? AND type = ? AND ts > ? AND ts < ?`,
		ev.AircraftID, string(ev.Kind), formatTS(ev.TS.Add(-window)), formatTS(ev.TS.Add(window)),
	).Scan(&existing)
	if err != nil {
		return 0, false, fmt.Errorf("failed to check recent events: %w", err)
	}
	if existing > 0 {
		return 0, false, nil
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO events (aircraft_id, ts, type, meta) VALUES (?, ?, ?, ?)`,
		ev.AircraftID, formatTS(ev.TS), string(ev.Kind), string(meta))
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read event id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit event: %w", err)
	}

	s.logger.Debug("Event stored",
		logger.Int64("id", id),
		logger.Int64("aircraft_id", ev.AircraftID),
		logger.String("type", string(ev.Kind)))
	return id, true, nil
}

// LatestEvent returns the newest event of any of kinds with ts <= before
func (s *Store) LatestEvent(ctx context.Context, aircraftID int64, before time.Time, kinds ...fleet.EventKind) (fleet.FlightEvent, bool, error) {
	if len(kinds) == 0 {
		return fleet.FlightEvent{}, false, fmt.Errorf("at least one event kind is required")
	}

	args := []any{aircraftID, formatTS(before)}
	marks := make([]string, len(kinds))
	for i, k := range kinds {
		marks[i] = "?"
		args = append(args, string(k))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN aircraft a ON a.id = e.aircraft_id
		WHERE e.aircraft_id = ? AND e.ts <= ? AND e.type IN (`+strings.Join(marks, ",")+`)
		ORDER BY e.ts DESC, e.id DESC
		LIMIT 1`, args...)
	if err != nil {
		return fleet.FlightEvent{}, false, fmt.Errorf("failed to query latest event: %w", err)
	}
	out, err := scanEvents(rows)
	if err != nil || len(out) == 0 {
		return fleet.FlightEvent{}, false, err
	}
	return out[0], true, nil
}

// EventsBetween returns events with from <= ts <= to in time order
func (s *Store) EventsBetween(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.FlightEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN aircraft a ON a.id = e.aircraft_id
		WHERE e.ts >= ? AND e.ts <= ? AND (? = 0 OR e.aircraft_id = ?)
		ORDER BY e.ts, e.id`,
		formatTS(from), formatTS(to), aircraftID, aircraftID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// RecentEvents returns up to limit events with ts <= at, newest first
func (s *Store) RecentEvents(ctx context.Context, at time.Time, limit int, aircraftID int64) ([]fleet.FlightEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events e
		JOIN aircraft a ON a.id = e.aircraft_id
		WHERE e.ts <= ? AND (? = 0 OR e.aircraft_id = ?)
		ORDER BY e.ts DESC, e.id DESC
		LIMIT ?`,
		formatTS(at), aircraftID, aircraftID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	return scanEvents(rows)
}

// EventTimes returns the timestamps of kind events with from < ts <= to
func (s *Store) EventTimes(ctx context.Context, kind fleet.EventKind, from, to time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts FROM events
		WHERE type = ? AND ts > ? AND ts <= ?
		ORDER BY ts`,
		string(kind), formatTS(from), formatTS(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query event times: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan event time: %w", err)
		}
		t, err := parseTS(ts)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MonthlyCounts groups takeoffs and landings by UTC month and counts aircraft that took off
func (s *Store) MonthlyCounts(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.MonthlyCount, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(ts, 1, 7) AS month,
			SUM(CASE WHEN type = 'TAKEOFF' THEN 1 ELSE 0 END) AS takeoffs,
			SUM(CASE WHEN type = 'LANDING' THEN 1 ELSE 0 END) AS landings
		FROM events
		WHERE ts >= ? AND ts <= ? AND type IN ('TAKEOFF', 'LANDING')
		  AND (? = 0 OR aircraft_id = ?)
		GROUP BY month
		ORDER BY month`,
		formatTS(from), formatTS(to), aircraftID, aircraftID,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query monthly counts: %w", err)
	}

	var months []fleet.MonthlyCount
	for rows.Next() {
		var m fleet.MonthlyCount
		if err := rows.Scan(&m.Month, &m.Takeoffs, &m.Landings); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan monthly count: %w", err)
		}
		months = append(months, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var active int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT aircraft_id) FROM events
		WHERE ts >= ? AND ts <= ? AND type = 'TAKEOFF' AND (? = 0 OR aircraft_id = ?)`,
		formatTS(from), formatTS(to), aircraftID, aircraftID,
	).Scan(&active)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count active aircraft: %w", err)
	}
	return months, active, nil
}

// TopDestinations ranks known landing airports by count
func (s *Store) TopDestinations(ctx context.Context, from, to time.Time, aircraftID int64, limit int) ([]fleet.DestinationCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(meta, '$.destination_airport') AS airport,
			COALESCE(MAX(json_extract(meta, '$.destination_name')), '') AS name,
			COUNT(*) AS cnt
		FROM events
		WHERE ts >= ? AND ts <= ? AND type = 'LANDING'
		  AND json_extract(meta, '$.destination_airport') IS NOT NULL
		  AND json_extract(meta, '$.destination_airport') <> 'UNKNOWN'
		  AND (? = 0 OR aircraft_id = ?)
		GROUP BY airport
		ORDER BY cnt DESC, airport
		LIMIT ?`,
		formatTS(from), formatTS(to), aircraftID, aircraftID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top destinations: %w", err)
	}
	defer rows.Close()

	var out []fleet.DestinationCount
	for rows.Next() {
		var d fleet.DestinationCount
		if err := rows.Scan(&d.Airport, &d.Name, &d.Count); err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		if d.Name == "" {
			d.Name = d.Airport
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]fleet.FlightEvent, error) {
	defer rows.Close()

	var out []fleet.FlightEvent
	for rows.Next() {
		var (
			ev   fleet.FlightEvent
			ts   string
			kind string
			meta string
		)
		if err := rows.Scan(&ev.ID, &ev.AircraftID, &ev.ICAO24, &ev.TailNumber, &ts, &kind, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		t, err := parseTS(ts)
		if err != nil {
			return nil, err
		}
		ev.TS = t
		ev.Kind = fleet.EventKind(kind)
		m, err := fleet.DecodeMeta(ev.Kind, []byte(meta))
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.ID, err)
		}
		ev.Meta = m
		out = append(out, ev)
	}
	return out, rows.Err()
}
