// Package forecast estimates fleet takeoffs for the next 24 hours from an hour-of-week rate model.
package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/physics"
	"github.com/yegors/fleetwatch/pkg/logger"
)

const (
	horizonHours = 24
	hoursPerWeek = 7 * 24
	z95          = 1.96
)

// HourlyEntry is the expected takeoff count for one hour
type HourlyEntry struct {
	TSHourStart time.Time `json:"ts_hour_start"`
	Expected    float64   `json:"expected"`
}

// Forecast is the next-24h curve with a Poisson 95% interval on the total
type Forecast struct {
	ExpectedTotal float64       `json:"expected_total"`
	CILow         float64       `json:"ci_low"`
	CIHigh        float64       `json:"ci_high"`
	HourlySeries  []HourlyEntry `json:"hourly_series"`
}

// Store supplies historical takeoff times
type Store interface {
	EventTimes(ctx context.Context, kind fleet.EventKind, from, to time.Time) ([]time.Time, error)
}

// Config holds the model window
type Config struct {
	Location   *time.Location
	WindowDays int
	RecentDays int
}

// Engine computes forecasts on demand; it keeps no state between calls
type Engine struct {
	cfg    Config
	store  Store
	now    func() time.Time
	logger *logger.Logger
}

// NewEngine creates a forecast engine
func NewEngine(cfg Config, store Store, log *logger.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		now:    time.Now,
		logger: log.Named("forecast"),
	}
}

// SetClock replaces the wall clock
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// CurrentHour is the start of the local hour the next forecast will begin at
func (e *Engine) CurrentHour() time.Time {
	n := e.now().In(e.cfg.Location)
	return time.Date(n.Year(), n.Month(), n.Day(), n.Hour(), 0, 0, 0, e.cfg.Location)
}

// Forecast24h builds the expected-takeoff curve from the current local hour
func (e *Engine) Forecast24h(ctx context.Context) (Forecast, error) {
	now := e.now()
	window := time.Duration(e.cfg.WindowDays) * 24 * time.Hour
	recent := time.Duration(e.cfg.RecentDays) * 24 * time.Hour

	times, err := e.store.EventTimes(ctx, fleet.EventTakeoff, now.Add(-window), now)
	if err != nil {
		return Forecast{}, fmt.Errorf("failed to load takeoff history: %w", err)
	}

	var counts [hoursPerWeek]int
	lastRecent := 0
	for _, ts := range times {
		counts[hourOfWeek(ts.In(e.cfg.Location))]++
		if ts.After(now.Add(-recent)) {
			lastRecent++
		}
	}

	recency := recencyFactor(lastRecent, len(times))

	// each hour-of-week slot occurs about WindowDays/7 times in the window
	occurrences := float64(e.cfg.WindowDays) / 7.0

	start := e.CurrentHour()
	series := make([]HourlyEntry, horizonHours)
	total := 0.0
	for i := range series {
		slot := start.Add(time.Duration(i) * time.Hour).In(e.cfg.Location)
		expected := physics.RoundTo(float64(counts[hourOfWeek(slot)])/occurrences*recency, 4)
		series[i] = HourlyEntry{TSHourStart: slot, Expected: expected}
		total += expected
	}

	margin := 0.0
	if total > 0 {
		margin = z95 * math.Sqrt(total)
	}

	e.logger.Debug("Forecast computed",
		logger.Int("history", len(times)),
		logger.Int("recent", lastRecent),
		logger.Float64("recency", recency),
		logger.Float64("expected_total", total))

	return Forecast{
		ExpectedTotal: physics.RoundTo(total, 4),
		CILow:         physics.RoundTo(math.Max(0, total-margin), 4),
		CIHigh:        physics.RoundTo(total+margin, 4),
		HourlySeries:  series,
	}, nil
}

// recencyFactor scales rates by how busy the recent days were relative to the whole window
func recencyFactor(recent, window int) float64 {
	if window == 0 {
		return 1.0
	}
	return math.Max(0.5, math.Min(1.5, float64(recent)/float64(window)))
}

// hourOfWeek is 0..167 with Sunday 00:00 as 0
func hourOfWeek(t time.Time) int {
	return int(t.Weekday())*24 + t.Hour()
}
