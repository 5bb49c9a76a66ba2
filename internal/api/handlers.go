package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/fleetwatch/internal/analytics"
	"github.com/yegors/fleetwatch/internal/cache"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/forecast"
	"github.com/yegors/fleetwatch/internal/monitor"
	"github.com/yegors/fleetwatch/internal/replay"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// Replayer rebuilds fleet snapshots
type Replayer interface {
	Snapshot(ctx context.Context) (replay.Snapshot, error)
	SnapshotAt(ctx context.Context, at time.Time, icao24 string) (replay.Snapshot, error)
	Range(ctx context.Context, start, end time.Time, stepSeconds int, icao24 string) ([]replay.Snapshot, error)
	FlightBoard(ctx context.Context, limit int, icao24 string) ([]fleet.FlightEvent, error)
}

// Forecaster predicts takeoffs
type Forecaster interface {
	Forecast24h(ctx context.Context) (forecast.Forecast, error)
	CurrentHour() time.Time
}

// Reporter builds analytics reports
type Reporter interface {
	Monthly(ctx context.Context, f analytics.Filter) (analytics.Monthly, error)
	TopDestinations(ctx context.Context, f analytics.Filter) (analytics.Destinations, error)
}

// StatusProvider exposes the poller status
type StatusProvider interface {
	Status() monitor.Status
}

// Pinger checks the store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the API handlers
type Handler struct {
	replay    Replayer
	forecast  Forecaster
	analytics Reporter
	monitor   StatusProvider
	store     Pinger
	cache     *cache.RedisCache // nil disables caching
	now       func() time.Time
	logger    *logger.Logger
}

// NewHandler creates a new API handler. rc may be nil.
func NewHandler(rp Replayer, fc Forecaster, an Reporter, mon StatusProvider, store Pinger, rc *cache.RedisCache, log *logger.Logger) *Handler {
	return &Handler{
		replay:    rp,
		forecast:  fc,
		analytics: an,
		monitor:   mon,
		store:     store,
		cache:     rc,
		now:       time.Now,
		logger:    log.Named("api-handler"),
	}
}

// SetClock replaces the wall clock used for cache decisions and status stamps
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// GetDashboardSnapshot returns the live fleet snapshot
func (h *Handler) GetDashboardSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.replay.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// GetReplaySnapshot returns the fleet as it was at ?ts=
func (h *Handler) GetReplaySnapshot(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ts")
	if raw == "" {
		writeMessage(w, http.StatusBadRequest, "ts required")
		return
	}
	at, err := parseTimestamp(raw)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid ts")
		return
	}
	icao := r.URL.Query().Get("aircraft_icao24")

	snap, err := cache.Snapshot(r.Context(), h.cache, at, h.now(), icao, func(ctx context.Context) (replay.Snapshot, error) {
		return h.replay.SnapshotAt(ctx, at, icao)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// GetReplayRange returns one snapshot per step between ?start= and ?end=
func (h *Handler) GetReplayRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startRaw, endRaw := q.Get("start"), q.Get("end")
	if startRaw == "" || endRaw == "" {
		writeMessage(w, http.StatusBadRequest, "start and end required")
		return
	}
	start, err1 := parseTimestamp(startRaw)
	end, err2 := parseTimestamp(endRaw)
	if err1 != nil || err2 != nil {
		writeMessage(w, http.StatusBadRequest, "invalid date format")
		return
	}

	step := 0
	if raw := q.Get("step_seconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid step_seconds")
			return
		}
		step = n
	}

	steps, err := h.replay.Range(r.Context(), start, end, step, q.Get("aircraft_icao24"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if steps == nil {
		steps = []replay.Snapshot{}
	}
	WriteJSON(w, http.StatusOK, steps)
}

// GetForecast returns the next-24h takeoff forecast
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	fc, err := cache.Forecast(r.Context(), h.cache, h.forecast.CurrentHour(), h.forecast.Forecast24h)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, fc)
}

// GetHistory returns the newest flight events
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.replay.FlightBoard(r.Context(), limit, r.URL.Query().Get("aircraft_icao24"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"total":  len(events),
		"events": events,
	})
}

// GetMonthly returns monthly takeoff and landing counts
func (h *Handler) GetMonthly(w http.ResponseWriter, r *http.Request) {
	f, err := parseAnalyticsFilter(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.analytics.Monthly(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

// GetTopDestinations returns the most frequent landing airports
func (h *Handler) GetTopDestinations(w http.ResponseWriter, r *http.Request) {
	f, err := parseAnalyticsFilter(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.analytics.TopDestinations(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

type statusResponse struct {
	State string `json:"status"`
	monitor.Status
	Timestamp time.Time `json:"timestamp"`
}

// GetStatus returns the poller status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, statusResponse{
		State:     "running",
		Status:    h.monitor.Status(),
		Timestamp: h.now().UTC(),
	})
}

// GetHealth reports whether the store answers
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", logger.Error(err))
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeError maps rejected parameters to 400 and everything else to 500
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *replay.ValidationError
	var ua *analytics.UnknownAircraftError
	switch {
	case errors.As(err, &ve), errors.As(err, &ua):
		writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err))
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// parseTimestamp accepts RFC3339 and offset-less ISO timestamps, the latter as UTC
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// parseAnalyticsFilter reads start_date, end_date and the aircraft filter. A date-only
// end_date covers the whole day.
func parseAnalyticsFilter(r *http.Request) (analytics.Filter, error) {
	q := r.URL.Query()
	var f analytics.Filter

	if raw := q.Get("start_date"); raw != "" {
		t, err := parseDate(raw, false)
		if err != nil {
			return f, errors.New("invalid start_date")
		}
		f.Start = t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := parseDate(raw, true)
		if err != nil {
			return f, errors.New("invalid end_date")
		}
		f.End = t
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return f, errors.New("end_date must not be before start_date")
	}

	f.ICAO24 = q.Get("aircraft_icao24")
	if f.ICAO24 == "" {
		f.ICAO24 = q.Get("aircraft_id")
	}
	return f, nil
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if strings.ContainsAny(s, "T ") {
		return parseTimestamp(s)
	}
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return d, nil
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
