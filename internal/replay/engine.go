// Package replay rebuilds fleet snapshots from the position and event log.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/pkg/logger"
)

const (
	seenWindow   = 15 * time.Minute
	eventsWindow = time.Hour
	// prefetch covers the longest trailing interval a step looks at
	prefetch = time.Hour
)

// ErrRangeTooLong is returned for a range wider than the configured span
var ErrRangeTooLong = errors.New("range exceeds 24 hours")

// ValidationError is a rejected query parameter
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// KPIs are fleet counters relative to a snapshot's instant
type KPIs struct {
	InAir          int `json:"in_air"`
	OnGround       int `json:"on_ground"`
	SeenLast15m    int `json:"seen_last_15m"`
	EventsLastHour int `json:"events_last_hour"`
}

// Snapshot is the fleet as it was at TS
type Snapshot struct {
	TS                   time.Time              `json:"ts"`
	FleetKPIs            KPIs                   `json:"fleet_kpis"`
	LatestPositions      []fleet.PositionSample `json:"latest_positions"`
	LastEvents           []fleet.FlightEvent    `json:"last_50_events"`
	DataFreshnessSeconds *int64                 `json:"data_freshness_seconds"`
}

// Store is the read side of the fleet log
type Store interface {
	ListAircraft(ctx context.Context) ([]fleet.Aircraft, error)
	LatestPositions(ctx context.Context, at time.Time, aircraftID int64) ([]fleet.PositionSample, error)
	PositionsBetween(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.PositionSample, error)
	EventsBetween(ctx context.Context, from, to time.Time, aircraftID int64) ([]fleet.FlightEvent, error)
	RecentEvents(ctx context.Context, at time.Time, limit int, aircraftID int64) ([]fleet.FlightEvent, error)
}

// Config holds replay limits
type Config struct {
	FeedSize    int
	MaxSpan     time.Duration
	MinStep     int // seconds
	MaxStep     int
	DefaultStep int
}

// Engine answers point-in-time and range queries
type Engine struct {
	cfg    Config
	store  Store
	now    func() time.Time
	logger *logger.Logger
}

// NewEngine creates an engine reading from store
func NewEngine(cfg Config, store Store, log *logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		now:    time.Now,
		logger: log.Named("replay"),
	}
}

// SetClock replaces the wall clock used by Snapshot
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Snapshot is SnapshotAt the current instant for the whole fleet
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	return e.SnapshotAt(ctx, e.now(), "")
}

// SnapshotAt rebuilds the fleet as of at. icao24 optionally restricts it to one aircraft.
func (e *Engine) SnapshotAt(ctx context.Context, at time.Time, icao24 string) (Snapshot, error) {
	at = at.UTC()
	id, size, err := e.scope(ctx, icao24)
	if err != nil {
		return Snapshot{}, err
	}

	latest, err := e.store.LatestPositions(ctx, at, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load latest positions: %w", err)
	}
	positions, err := e.store.PositionsBetween(ctx, at.Add(-seenWindow), at, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load recent positions: %w", err)
	}
	events, err := e.store.EventsBetween(ctx, at.Add(-eventsWindow), at, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load recent events: %w", err)
	}
	feed, err := e.store.RecentEvents(ctx, at, e.cfg.FeedSize, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load event feed: %w", err)
	}

	return build(at, size, latest, positions, events, feed), nil
}

// Range returns one snapshot per step from start to end inclusive. The log is read once
// over [start-1h, end] and every step filters that window for its own trailing intervals,
// which is O(steps x window) and only suited to small fleets and short spans.
func (e *Engine) Range(ctx context.Context, start, end time.Time, stepSeconds int, icao24 string) ([]Snapshot, error) {
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil, invalid("end", "end must not be before start")
	}
	if end.Sub(start) > e.cfg.MaxSpan {
		return nil, &ValidationError{Field: "end", Msg: ErrRangeTooLong.Error(), Err: ErrRangeTooLong}
	}
	step := time.Duration(e.clampStep(stepSeconds)) * time.Second

	id, size, err := e.scope(ctx, icao24)
	if err != nil {
		return nil, err
	}

	windowStart := start.Add(-prefetch)
	// seedAt sits just before the window so seed rows never repeat window rows
	seedAt := windowStart.Add(-time.Microsecond)

	seedLatest, err := e.store.LatestPositions(ctx, seedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load seed positions: %w", err)
	}
	seedFeed, err := e.store.RecentEvents(ctx, seedAt, e.cfg.FeedSize, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load seed events: %w", err)
	}
	positions, err := e.store.PositionsBetween(ctx, windowStart, end, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	events, err := e.store.EventsBetween(ctx, windowStart, end, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	var out []Snapshot
	for t := start; !t.After(end); t = t.Add(step) {
		latest := latestAt(t, seedLatest, positions)
		feed := feedAt(t, e.cfg.FeedSize, seedFeed, events)
		out = append(out, build(t, size, latest, positions, events, feed))
	}

	e.logger.Debug("Range replayed",
		logger.Time("start", start),
		logger.Time("end", end),
		logger.Duration("step", step),
		logger.Int("steps", len(out)),
		logger.Int("positions", len(positions)),
		logger.Int("events", len(events)))
	return out, nil
}

// FlightBoard returns the newest events, optionally for one aircraft
func (e *Engine) FlightBoard(ctx context.Context, limit int, icao24 string) ([]fleet.FlightEvent, error) {
	if limit <= 0 {
		limit = e.cfg.FeedSize
	}
	id, _, err := e.scope(ctx, icao24)
	if err != nil {
		return nil, err
	}
	events, err := e.store.RecentEvents(ctx, e.now(), limit, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load flight board: %w", err)
	}
	if events == nil {
		events = []fleet.FlightEvent{}
	}
	return events, nil
}

func (e *Engine) clampStep(s int) int {
	if s <= 0 {
		s = e.cfg.DefaultStep
	}
	return max(e.cfg.MinStep, min(e.cfg.MaxStep, s))
}

// scope resolves an optional icao24 filter to an aircraft id and the fleet size it covers
func (e *Engine) scope(ctx context.Context, icao24 string) (int64, int, error) {
	aircraft, err := e.store.ListAircraft(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list aircraft: %w", err)
	}
	icao24 = strings.ToLower(strings.TrimSpace(icao24))
	if icao24 == "" {
		return 0, len(aircraft), nil
	}
	for _, a := range aircraft {
		if a.ICAO24 == icao24 {
			return a.ID, 1, nil
		}
	}
	return 0, 0, invalid("aircraft_icao24", fmt.Sprintf("unknown aircraft %q", icao24))
}

// build assembles a snapshot at t. positions and events may extend before and after t;
// only rows inside the trailing KPI intervals are counted.
func build(t time.Time, fleetSize int, latest, positions []fleet.PositionSample, events, feed []fleet.FlightEvent) Snapshot {
	seen := make(map[int64]struct{})
	for _, p := range positions {
		if p.TS.After(t.Add(-seenWindow)) && !p.TS.After(t) {
			seen[p.AircraftID] = struct{}{}
		}
	}

	recent := 0
	for _, ev := range events {
		if ev.TS.After(t.Add(-eventsWindow)) && !ev.TS.After(t) {
			recent++
		}
	}

	sorted := make([]fleet.PositionSample, len(latest))
	copy(sorted, latest)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AircraftID < sorted[j].AircraftID })

	var freshness *int64
	for _, p := range sorted {
		age := int64(t.Sub(p.TS).Seconds())
		if freshness == nil || age < *freshness {
			freshness = &age
		}
	}

	if feed == nil {
		feed = []fleet.FlightEvent{}
	}

	return Snapshot{
		TS: t,
		FleetKPIs: KPIs{
			InAir:          len(seen),
			OnGround:       max(0, fleetSize-len(seen)),
			SeenLast15m:    len(seen),
			EventsLastHour: recent,
		},
		LatestPositions:      sorted,
		LastEvents:           feed,
		DataFreshnessSeconds: freshness,
	}
}

// latestAt picks per aircraft the newest window sample with ts <= t, falling back to the seed.
// window is in (ts, id) order.
func latestAt(t time.Time, seed, window []fleet.PositionSample) []fleet.PositionSample {
	byID := make(map[int64]fleet.PositionSample, len(seed))
	for _, p := range seed {
		byID[p.AircraftID] = p
	}
	for _, p := range window {
		if p.TS.After(t) {
			break
		}
		byID[p.AircraftID] = p
	}

	out := make([]fleet.PositionSample, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	return out
}

// feedAt returns the limit newest events with ts <= t. window is in (ts, id) order and seed
// is newest first, entirely older than window.
func feedAt(t time.Time, limit int, seed, window []fleet.FlightEvent) []fleet.FlightEvent {
	end := sort.Search(len(window), func(i int) bool { return window[i].TS.After(t) })

	out := make([]fleet.FlightEvent, 0, limit)
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, window[i])
	}
	for _, ev := range seed {
		if len(out) >= limit {
			break
		}
		out = append(out, ev)
	}
	return out
}
