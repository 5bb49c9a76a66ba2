package forecast

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) EventTimes(ctx context.Context, kind fleet.EventKind, from, to time.Time) ([]time.Time, error) {
	args := m.Called(ctx, kind, from, to)
	return args.Get(0).([]time.Time), args.Error(1)
}

// Saturday 12:30 in Buenos Aires
var now = time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

func newEngine(t *testing.T, history []time.Time, err error) *Engine {
	t.Helper()
	loc, lerr := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, lerr)

	store := &MockStore{}
	store.On("EventTimes", mock.Anything, fleet.EventTakeoff, now.Add(-30*24*time.Hour), now).Return(history, err)

	e := NewEngine(Config{Location: loc, WindowDays: 30, RecentDays: 7}, store, logger.NewNop())
	e.SetClock(func() time.Time { return now })
	return e
}

func TestZeroHistory(t *testing.T) {
	e := newEngine(t, nil, nil)

	f, err := e.Forecast24h(context.Background())
	require.NoError(t, err)

	require.Len(t, f.HourlySeries, 24)
	for _, h := range f.HourlySeries {
		assert.Zero(t, h.Expected)
	}
	assert.Zero(t, f.ExpectedTotal)
	assert.Zero(t, f.CILow)
	assert.Zero(t, f.CIHigh)
}

func TestSeriesStartsAtLocalHour(t *testing.T) {
	e := newEngine(t, nil, nil)
	f, err := e.Forecast24h(context.Background())
	require.NoError(t, err)

	first := f.HourlySeries[0].TSHourStart
	assert.Equal(t, 12, first.Hour())
	assert.Equal(t, time.Saturday, first.Weekday())
	assert.True(t, first.Equal(time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)))
	assert.True(t, f.HourlySeries[23].TSHourStart.Equal(first.Add(23*time.Hour)))

	b, err := first.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-14T12:00:00-03:00"`, string(b))
}

func TestRatesAndInterval(t *testing.T) {
	history := []time.Time{
		// Saturdays 12:10 local, three weeks running
		now.Add(-21*24*time.Hour - 20*time.Minute),
		now.Add(-14*24*time.Hour - 20*time.Minute),
		now.Add(-7*24*time.Hour - 20*time.Minute),
		// this morning, outside the horizon's hour-of-week slots
		now.Add(-2 * time.Hour),
	}
	e := newEngine(t, history, nil)

	f, err := e.Forecast24h(context.Background())
	require.NoError(t, err)

	// 3 / (30/7) x recency clamp(1/4) = 0.7 x 0.5
	assert.Equal(t, 0.35, f.HourlySeries[0].Expected)
	for _, h := range f.HourlySeries[1:] {
		assert.Zero(t, h.Expected)
	}
	assert.Equal(t, 0.35, f.ExpectedTotal)
	assert.Equal(t, 0.0, f.CILow)
	assert.Equal(t, 1.5096, f.CIHigh)
}

func TestRecencyFactor(t *testing.T) {
	tests := []struct {
		recent, window int
		want           float64
	}{
		{0, 0, 1.0},
		{0, 10, 0.5},
		{1, 10, 0.5},
		{7, 10, 0.7},
		{10, 10, 1.0},
		{30, 10, 1.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, recencyFactor(tt.recent, tt.window), 1e-9, "%d/%d", tt.recent, tt.window)
	}
}

func TestHourOfWeek(t *testing.T) {
	assert.Equal(t, 0, hourOfWeek(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))     // Sunday
	assert.Equal(t, 167, hourOfWeek(time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC))) // Saturday
}

func TestStoreErrorPropagates(t *testing.T) {
	e := newEngine(t, []time.Time(nil), errors.New("disk I/O error"))
	_, err := e.Forecast24h(context.Background())
	assert.ErrorContains(t, err, "takeoff history")
}
