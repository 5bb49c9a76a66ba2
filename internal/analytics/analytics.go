// Package analytics aggregates the flight event log into monthly and destination reports.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
)

const (
	defaultLookback = 365 * 24 * time.Hour
	topLimit        = 20
)

// Store is the aggregate side of the fleet log
type Store interface {
	ListAircraft(ctx context.Context) ([]fleet.Aircraft, error)
	MonthlyCounts(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.MonthlyCount, int, error)
	TopDestinations(ctx context.Context, from, to time.Time, aircraftID int64, limit int) ([]fleet.DestinationCount, error)
}

// Filter narrows a report. Zero times mean the default range, the last 365 days.
type Filter struct {
	Start  time.Time
	End    time.Time
	ICAO24 string
}

// Applied echoes the effective filter back to the caller
type Applied struct {
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	AircraftID string    `json:"aircraft_id,omitempty"`
}

// MonthRow is one month of the series
type MonthRow struct {
	Month    string `json:"month"`
	Flights  int    `json:"flights"`
	Takeoffs int    `json:"takeoffs"`
	Landings int    `json:"landings"`
}

// KPIs are totals over the filtered range
type KPIs struct {
	TotalFlights   int `json:"total_flights"`
	Takeoffs       int `json:"takeoffs"`
	Landings       int `json:"landings"`
	ActiveAircraft int `json:"active_aircraft"`
}

// Monthly is the monthly report
type Monthly struct {
	FiltersApplied Applied    `json:"filters_applied"`
	KPIs           KPIs       `json:"kpis"`
	MonthlySeries  []MonthRow `json:"monthly_series"`
}

// Destinations is the top destinations report
type Destinations struct {
	FiltersApplied  Applied                  `json:"filters_applied"`
	TopDestinations []fleet.DestinationCount `json:"top_destinations"`
}

// UnknownAircraftError is returned when the filter names an aircraft outside the fleet
type UnknownAircraftError struct {
	ICAO24 string
}

func (e *UnknownAircraftError) Error() string {
	return fmt.Sprintf("unknown aircraft %q", e.ICAO24)
}

// Service builds reports
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a report service
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock replaces the wall clock used for default ranges
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Monthly counts takeoffs and landings per month. A flight is a takeoff.
func (s *Service) Monthly(ctx context.Context, f Filter) (Monthly, error) {
	applied, id, err := s.resolve(ctx, f)
	if err != nil {
		return Monthly{}, err
	}

	counts, active, err := s.store.MonthlyCounts(ctx, applied.StartDate, applied.EndDate, id)
	if err != nil {
		return Monthly{}, fmt.Errorf("failed to load monthly counts: %w", err)
	}

	out := Monthly{FiltersApplied: applied, MonthlySeries: make([]MonthRow, 0, len(counts))}
	for _, c := range counts {
		out.MonthlySeries = append(out.MonthlySeries, MonthRow{
			Month:    c.Month,
			Flights:  c.Takeoffs,
			Takeoffs: c.Takeoffs,
			Landings: c.Landings,
		})
		out.KPIs.Takeoffs += c.Takeoffs
		out.KPIs.Landings += c.Landings
	}
	out.KPIs.TotalFlights = out.KPIs.Takeoffs
	out.KPIs.ActiveAircraft = active
	return out, nil
}

// TopDestinations ranks the 20 most frequent known landing airports
func (s *Service) TopDestinations(ctx context.Context, f Filter) (Destinations, error) {
	applied, id, err := s.resolve(ctx, f)
	if err != nil {
		return Destinations{}, err
	}

	top, err := s.store.TopDestinations(ctx, applied.StartDate, applied.EndDate, id, topLimit)
	if err != nil {
		return Destinations{}, fmt.Errorf("failed to load destinations: %w", err)
	}
	if top == nil {
		top = []fleet.DestinationCount{}
	}
	return Destinations{FiltersApplied: applied, TopDestinations: top}, nil
}

func (s *Service) resolve(ctx context.Context, f Filter) (Applied, int64, error) {
	now := s.now().UTC()
	applied := Applied{StartDate: f.Start.UTC(), EndDate: f.End.UTC()}
	if f.End.IsZero() {
		applied.EndDate = now
	}
	if f.Start.IsZero() {
		applied.StartDate = now.Add(-defaultLookback)
	}

	icao := strings.ToLower(strings.TrimSpace(f.ICAO24))
	if icao == "" {
		return applied, 0, nil
	}
	applied.AircraftID = icao

	aircraft, err := s.store.ListAircraft(ctx)
	if err != nil {
		return Applied{}, 0, fmt.Errorf("failed to list aircraft: %w", err)
	}
	for _, a := range aircraft {
		if a.ICAO24 == icao {
			return applied, a.ID, nil
		}
	}
	return Applied{}, 0, &UnknownAircraftError{ICAO24: icao}
}
