package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yegors/fleetwatch/internal/analytics"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/forecast"
	"github.com/yegors/fleetwatch/internal/monitor"
	"github.com/yegors/fleetwatch/internal/replay"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// MockReplayer is a mock implementation of Replayer
type MockReplayer struct {
	mock.Mock
}

func (m *MockReplayer) Snapshot(ctx context.Context) (replay.Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(replay.Snapshot), args.Error(1)
}

func (m *MockReplayer) SnapshotAt(ctx context.Context, at time.Time, icao24 string) (replay.Snapshot, error) {
	args := m.Called(ctx, at, icao24)
	return args.Get(0).(replay.Snapshot), args.Error(1)
}

func (m *MockReplayer) Range(ctx context.Context, start, end time.Time, stepSeconds int, icao24 string) ([]replay.Snapshot, error) {
	args := m.Called(ctx, start, end, stepSeconds, icao24)
	return args.Get(0).([]replay.Snapshot), args.Error(1)
}

func (m *MockReplayer) FlightBoard(ctx context.Context, limit int, icao24 string) ([]fleet.FlightEvent, error) {
	args := m.Called(ctx, limit, icao24)
	return args.Get(0).([]fleet.FlightEvent), args.Error(1)
}

// MockForecaster is a mock implementation of Forecaster
type MockForecaster struct {
	mock.Mock
}

func (m *MockForecaster) Forecast24h(ctx context.Context) (forecast.Forecast, error) {
	args := m.Called(ctx)
	return args.Get(0).(forecast.Forecast), args.Error(1)
}

func (m *MockForecaster) CurrentHour() time.Time {
	return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
}

// MockReporter is a mock implementation of Reporter
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Monthly(ctx context.Context, f analytics.Filter) (analytics.Monthly, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(analytics.Monthly), args.Error(1)
}

func (m *MockReporter) TopDestinations(ctx context.Context, f analytics.Filter) (analytics.Destinations, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(analytics.Destinations), args.Error(1)
}

type fixedStatus monitor.Status

func (s fixedStatus) Status() monitor.Status { return monitor.Status(s) }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

var now = time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

type fixture struct {
	replay   *MockReplayer
	forecast *MockForecaster
	reports  *MockReporter
	server   *httptest.Server
}

func newFixture(t *testing.T, storeErr error) *fixture {
	t.Helper()
	f := &fixture{replay: &MockReplayer{}, forecast: &MockForecaster{}, reports: &MockReporter{}}
	status := fixedStatus{
		Monitored:   []fleet.Aircraft{{ID: 1, ICAO24: "e0659a", TailNumber: "LV-KMA"}},
		Flying:      []fleet.Aircraft{},
		Sources:     []string{fleet.SourceOpenSky, fleet.SourceADSBOne},
		LastCycle:   now,
		LastCycleOK: true,
	}
	h := NewHandler(f.replay, f.forecast, f.reports, status, pinger{storeErr}, nil, logger.NewNop())
	h.SetClock(func() time.Time { return now })

	f.server = httptest.NewServer(NewRouter(h, nil, nil, 5*time.Second, logger.NewNop()).Routes())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestReplaySnapshotValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		path string
		want string
	}{
		{"/replay/snapshot", "ts required"},
		{"/replay/snapshot?ts=yesterday", "invalid ts"},
		{"/replay/range?start=2026-03-14T00:00:00Z", "start and end required"},
		{"/replay/range?start=2026-03-14T00:00:00Z&end=14/03/2026", "invalid date format"},
		{"/replay/range?start=2026-03-14T00:00:00Z&end=2026-03-14T01:00:00Z&step_seconds=ten", "invalid step_seconds"},
		{"/api/history?limit=-1", "invalid limit"},
		{"/analytics/monthly?start_date=2026-13-01", "invalid start_date"},
		{"/analytics/monthly?start_date=2026-03-01&end_date=2026-02-01", "end_date must not be before start_date"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := f.get(t, tt.path)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.want, body["error"])
		})
	}
	f.replay.AssertNotCalled(t, "SnapshotAt", mock.Anything, mock.Anything, mock.Anything)
	f.replay.AssertNotCalled(t, "Range", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReplaySnapshot(t *testing.T) {
	f := newFixture(t, nil)
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	fresh := int64(42)
	f.replay.On("SnapshotAt", mock.Anything, at, "e0659a").Return(replay.Snapshot{
		TS:                   at,
		FleetKPIs:            replay.KPIs{InAir: 1},
		LatestPositions:      []fleet.PositionSample{},
		LastEvents:           []fleet.FlightEvent{},
		DataFreshnessSeconds: &fresh,
	}, nil)

	code, body := f.get(t, "/replay/snapshot?ts=2026-03-14T09:00:00-03:00&aircraft_icao24=e0659a")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2026-03-14T12:00:00Z", body["ts"])
	assert.Equal(t, float64(42), body["data_freshness_seconds"])
	kpis := body["fleet_kpis"].(map[string]any)
	assert.Equal(t, float64(1), kpis["in_air"])
	f.replay.AssertExpectations(t)
}

func TestReplayRangeErrors(t *testing.T) {
	f := newFixture(t, nil)
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	f.replay.On("Range", mock.Anything, start, end, 0, "").
		Return([]replay.Snapshot(nil), &replay.ValidationError{Field: "end", Msg: replay.ErrRangeTooLong.Error(), Err: replay.ErrRangeTooLong})
	f.replay.On("Range", mock.Anything, start, start, 300, "").
		Return([]replay.Snapshot(nil), errors.New("database is locked"))

	code, body := f.get(t, "/replay/range?start=2026-03-14T00:00:00Z&end=2026-03-15T01:00:00Z")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "range exceeds 24 hours", body["error"])

	code, body = f.get(t, "/replay/range?start=2026-03-14T00:00:00Z&end=2026-03-14T00:00:00Z&step_seconds=300")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "database is locked", body["error"])
}

func TestReplayRangeReturnsArray(t *testing.T) {
	f := newFixture(t, nil)
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	f.replay.On("Range", mock.Anything, start, start.Add(time.Minute), 60, "").
		Return([]replay.Snapshot{{TS: start}, {TS: start.Add(time.Minute)}}, nil)

	resp, err := http.Get(f.server.URL + "/replay/range?start=2026-03-14T00:00:00Z&end=2026-03-14T00:01:00Z&step_seconds=60")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var steps []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&steps))
	require.Len(t, steps, 2)
	assert.Equal(t, "2026-03-14T00:01:00Z", steps[1]["ts"])
}

func TestAnalyticsFilterParsing(t *testing.T) {
	f := newFixture(t, nil)
	want := analytics.Filter{
		Start:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 1, 31, 23, 59, 59, 999999000, time.UTC),
		ICAO24: "e0b341",
	}
	f.reports.On("Monthly", mock.Anything, want).Return(analytics.Monthly{MonthlySeries: []analytics.MonthRow{}}, nil)
	f.reports.On("TopDestinations", mock.Anything, analytics.Filter{ICAO24: "ffffff"}).
		Return(analytics.Destinations{}, &analytics.UnknownAircraftError{ICAO24: "ffffff"})

	code, body := f.get(t, "/analytics/monthly?start_date=2026-01-01&end_date=2026-01-31&aircraft_id=e0b341")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "kpis")

	code, body = f.get(t, "/analytics/top-destinations?aircraft_icao24=ffffff")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, `unknown aircraft "ffffff"`, body["error"])
	f.reports.AssertExpectations(t)
}

func TestForecastWithoutCache(t *testing.T) {
	f := newFixture(t, nil)
	f.forecast.On("Forecast24h", mock.Anything).Return(forecast.Forecast{ExpectedTotal: 0.35, CIHigh: 1.5096, HourlySeries: []forecast.HourlyEntry{}}, nil).Twice()

	for i := 0; i < 2; i++ {
		code, body := f.get(t, "/forecast/24h")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 0.35, body["expected_total"])
	}
	f.forecast.AssertExpectations(t)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.replay.On("FlightBoard", mock.Anything, 10, "").Return([]fleet.FlightEvent{
		{ID: 2, TailNumber: "LV-KMA", Kind: fleet.EventLanding, TS: now, Meta: fleet.LandingMeta{DestinationAirport: "COR"}},
	}, nil)

	code, body := f.get(t, "/api/history?limit=10")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])
	events := body["events"].([]any)
	assert.Equal(t, "LANDING", events[0].(map[string]any)["type"])
}

func TestStatusAndHealth(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.get(t, "/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["status"])
	assert.Len(t, body["monitored"], 1)
	assert.Equal(t, []any{"OpenSky", "ADSB.one"}, body["sources"])
	assert.Equal(t, true, body["last_cycle_ok"])

	code, body = f.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	down := newFixture(t, errors.New("connection refused"))
	code, body = down.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "connection refused", body["error"])
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2026-03-14T12:00:00Z",
		"2026-03-14T09:00:00-03:00",
		"2026-03-14T12:00:00",
		"2026-03-14T12:00",
		"2026-03-14 12:00:00",
	} {
		got, err := parseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(want), in)
	}
	_, err := parseTimestamp("2026-03-14")
	assert.Error(t, err)
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>fleet</h1>"), 0o644))

	h := NewHandler(&MockReplayer{}, &MockForecaster{}, &MockReporter{}, fixedStatus{}, pinger{}, nil, logger.NewNop())
	srv := httptest.NewServer(NewRouter(h, nil, NewStaticFileHandler(dir, logger.NewNop()), 0, logger.NewNop()).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/missing.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
