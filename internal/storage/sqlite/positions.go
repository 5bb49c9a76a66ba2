package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
)

const positionColumns = `p.aircraft_id, a.icao24, a.tail_number, p.ts, p.lat, p.lon, p.altitude, p.altitude_unit,
	p.velocity, p.heading, p.vertical_rate, p.squawk, p.on_ground, p.source`

// AppendPosition appends one sample to the log
func (s *Store) AppendPosition(ctx context.Context, p fleet.PositionSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (aircraft_id, ts, lat, lon, altitude, altitude_unit, velocity, heading, vertical_rate, squawk, on_ground, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AircraftID, formatTS(p.TS), p.Lat, p.Lon, p.Altitude, string(p.AltitudeUnit),
		p.Velocity, p.Heading, p.VerticalRate, p.Squawk, p.OnGround, p.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// LatestPositions returns, per aircraft, the newest sample with ts <= at.
// aircraftID 0 means the whole fleet.
func (s *Store) LatestPositions(ctx context.Context, at time.Time, aircraftID int64) ([]fleet.PositionSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM aircraft a
		JOIN positions p ON p.id = (
			SELECT p2.id FROM positions p2
			WHERE p2.aircraft_id = a.id AND p2.ts <= ?
			ORDER BY p2.ts DESC, p2.id DESC
			LIMIT 1
		)
		WHERE (? = 0 OR a.id = ?)
		ORDER BY a.id`,
		formatTS(at), aircraftID, aircraftID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest positions: %w", err)
	}
	return scanPositions(rows)
}

// PositionsBetween returns samples with from <= ts <= to in time order
func (s *Store) PositionsBetween(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.PositionSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM positions p
		JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.ts >= ? AND p.ts <= ? AND (? = 0 OR p.aircraft_id = ?)
		ORDER BY p.ts, p.id`,
		formatTS(from), formatTS(to), aircraftID, aircraftID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	return scanPositions(rows)
}

// LatestFix returns the newest sample with a known position inside [from, to]
func (s *Store) LatestFix(ctx context.Context, aircraftID int64, from, to time.Time) (fleet.PositionSample, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM positions p
		JOIN aircraft a ON a.id = p.aircraft_id
		WHERE p.aircraft_id = ? AND p.ts >= ? AND p.ts <= ?
		  AND p.lat IS NOT NULL AND p.lon IS NOT NULL
		ORDER BY p.ts DESC, p.id DESC
		LIMIT 1`,
		aircraftID, formatTS(from), formatTS(to),
	)
	if err != nil {
		return fleet.PositionSample{}, false, fmt.Errorf("failed to query latest fix: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil || len(out) == 0 {
		return fleet.PositionSample{}, false, err
	}
	return out[0], true, nil
}

func scanPositions(rows *sql.Rows) ([]fleet.PositionSample, error) {
	defer rows.Close()

	var out []fleet.PositionSample
	for rows.Next() {
		var (
			p      fleet.PositionSample
			ts     string
			unit   sql.NullString
			squawk sql.NullString
			source sql.NullString
		)
		if err := rows.Scan(&p.AircraftID, &p.ICAO24, &p.TailNumber, &ts, &p.Lat, &p.Lon, &p.Altitude, &unit,
			&p.Velocity, &p.Heading, &p.VerticalRate, &squawk, &p.OnGround, &source); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		t, err := parseTS(ts)
		if err != nil {
			return nil, err
		}
		p.TS = t
		p.AltitudeUnit = fleet.AltitudeUnit(unit.String)
		p.Squawk = squawk.String
		p.Source = source.String
		out = append(out, p)
	}
	return out, rows.Err()
}
