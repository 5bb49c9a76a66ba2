// Package events commits presence intents to the flight event log.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/yegors/fleetwatch/internal/airports"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/presence"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// Outcome of a commit
type Outcome int

const (
	Skipped Outcome = iota
	Written
)

func (o Outcome) String() string {
	if o == Written {
		return "written"
	}
	return "skipped"
}

// Store is the part of the fleet log the gate writes to
type Store interface {
	InsertEvent(ctx context.Context, ev fleet.FlightEvent, window time.Duration) (int64, bool, error)
	LatestEvent(ctx context.Context, aircraftID int64, before time.Time, kinds ...fleet.EventKind) (fleet.FlightEvent, bool, error)
	LatestFix(ctx context.Context, aircraftID int64, from, to time.Time) (fleet.PositionSample, bool, error)
}

// Resolver finds the airport nearest to a position
type Resolver interface {
	Nearest(lat, lon, radiusKm float64) (airports.Match, bool)
}

// Notifier receives committed events. Notify must not block.
type Notifier interface {
	Notify(ev fleet.FlightEvent)
}

// Config holds attribution and dedup settings
type Config struct {
	DedupWindow     time.Duration
	LandingLookback time.Duration
	AirportRadiusKm float64
}

// Gate deduplicates, attributes and writes events
type Gate struct {
	cfg      Config
	store    Store
	resolver Resolver
	notifier Notifier
	logger   *logger.Logger
}

// NewGate creates a gate. notifier may be nil.
func NewGate(cfg Config, store Store, resolver Resolver, notifier Notifier, log *logger.Logger) *Gate {
	return &Gate{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		notifier: notifier,
		logger:   log.Named("event-gate"),
	}
}

// Commit attributes and writes one intent. A duplicate inside the dedup window is Skipped.
func (g *Gate) Commit(ctx context.Context, in presence.Intent) (Outcome, error) {
	meta, err := g.buildMeta(ctx, in)
	if err != nil {
		return Skipped, err
	}

	ev := fleet.FlightEvent{
		AircraftID: in.Aircraft.ID,
		ICAO24:     in.Aircraft.ICAO24,
		TailNumber: in.Aircraft.TailNumber,
		TS:         in.TS,
		Kind:       in.Kind,
		Meta:       meta,
	}

	id, written, err := g.store.InsertEvent(ctx, ev, g.cfg.DedupWindow)
	if err != nil {
		return Skipped, fmt.Errorf("failed to write %s for %s: %w", in.Kind, in.Aircraft.TailNumber, err)
	}
	if !written {
		g.logger.Debug("Duplicate event skipped",
			logger.String("tail", in.Aircraft.TailNumber),
			logger.String("type", string(in.Kind)))
		return Skipped, nil
	}
	ev.ID = id

	g.logger.Info("Event committed",
		logger.Int64("id", id),
		logger.String("tail", in.Aircraft.TailNumber),
		logger.String("type", string(in.Kind)))

	if g.notifier != nil {
		g.notifier.Notify(ev)
	}
	return Written, nil
}

func (g *Gate) buildMeta(ctx context.Context, in presence.Intent) (fleet.Meta, error) {
	switch in.Kind {
	case fleet.EventTakeoff:
		code, name, err := g.origin(ctx, in)
		if err != nil {
			return nil, err
		}
		return fleet.FlightMeta{Telemetry: in.Report.Telemetry(), OriginAirport: code, OriginName: name}, nil

	case fleet.EventInProgress:
		return fleet.FlightMeta{Telemetry: in.Report.Telemetry()}, nil

	case fleet.EventLanding:
		return g.landing(ctx, in)

	case fleet.EventAppeared:
		return fleet.AppearedMeta{Telemetry: in.Report.Telemetry(), GapSeconds: int64(in.Gap.Seconds())}, nil

	case fleet.EventEmergency:
		return fleet.EmergencyMeta{
			Telemetry: in.Report.Telemetry(),
			Code:      in.Report.Squawk,
			Meaning:   fleet.EmergencyMeaning(in.Report.Squawk),
		}, nil
	}
	return nil, fmt.Errorf("unknown event kind %q", in.Kind)
}

// origin comes from the takeoff position, then the previous landing's destination
func (g *Gate) origin(ctx context.Context, in presence.Intent) (string, string, error) {
	if lat, lon := in.Report.Lat, in.Report.Lon; lat.Valid && lon.Valid {
		if m, ok := g.resolver.Nearest(lat.V, lon.V, g.cfg.AirportRadiusKm); ok {
			return m.Code, m.Name, nil
		}
	}

	prev, ok, err := g.store.LatestEvent(ctx, in.Aircraft.ID, in.TS, fleet.EventLanding)
	if err != nil {
		return "", "", fmt.Errorf("failed to look up previous landing: %w", err)
	}
	if ok {
		if lm, isLanding := prev.Meta.(fleet.LandingMeta); isLanding &&
			lm.DestinationAirport != "" && lm.DestinationAirport != airports.Unknown {
			return lm.DestinationAirport, lm.DestinationName, nil
		}
	}
	return airports.Unknown, "", nil
}

func (g *Gate) landing(ctx context.Context, in presence.Intent) (fleet.LandingMeta, error) {
	meta := fleet.LandingMeta{DestinationAirport: airports.Unknown}
	if !in.LastSeen.IsZero() {
		meta.MissingSeconds = int64(in.TS.Sub(in.LastSeen).Seconds())
	}

	fix, ok, err := g.store.LatestFix(ctx, in.Aircraft.ID, in.TS.Add(-g.cfg.LandingLookback), in.TS)
	if err != nil {
		return meta, fmt.Errorf("failed to look up last position: %w", err)
	}
	if !ok {
		return meta, nil
	}

	meta.LastLat, meta.LastLon = fix.Lat, fix.Lon
	if m, found := g.resolver.Nearest(fix.Lat.V, fix.Lon.V, g.cfg.AirportRadiusKm); found {
		meta.DestinationAirport = m.Code
		meta.DestinationName = m.Name
	}
	return meta, nil
}
