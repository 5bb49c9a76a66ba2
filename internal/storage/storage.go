// Package storage defines the persisted fleet log shared by the sqlite and postgres backends.
package storage

import (
	"context"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
)

// Store is the full method set of a fleet log backend. aircraftID 0 means the whole fleet.
type Store interface {
	EnsureAircraft(ctx context.Context, aircraft []fleet.Aircraft) ([]fleet.Aircraft, error)
	ListAircraft(ctx context.Context) ([]fleet.Aircraft, error)

	AppendPosition(ctx context.Context, p fleet.PositionSample) error
	LatestPositions(ctx context.Context, at time.Time, aircraftID int64) ([]fleet.PositionSample, error)
	PositionsBetween(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.PositionSample, error)
	LatestFix(ctx context.Context, aircraftID int64, from, to time.Time) (fleet.PositionSample, bool, error)

	InsertEvent(ctx context.Context, ev fleet.FlightEvent, window time.Duration) (int64, bool, error)
	LatestEvent(ctx context.Context, aircraftID int64, before time.Time, kinds ...fleet.EventKind) (fleet.FlightEvent, bool, error)
	EventsBetween(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.FlightEvent, error)
	RecentEvents(ctx context.Context, at time.Time, limit int, aircraftID int64) ([]fleet.FlightEvent, error)
	EventTimes(ctx context.Context, kind fleet.EventKind, from, to time.Time) ([]time.Time, error)
	MonthlyCounts(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.MonthlyCount, int, error)
	TopDestinations(ctx context.Context, from, to time.Time, aircraftID int64, limit int) ([]fleet.DestinationCount, error)

	Ping(ctx context.Context) error
	Close() error
}
