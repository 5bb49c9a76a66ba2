package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yegors/fleetwatch/internal/airports"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/presence"
	"github.com/yegors/fleetwatch/internal/storage/sqlite"
	"github.com/yegors/fleetwatch/pkg/logger"
)

var t0 = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ev fleet.FlightEvent) {
	m.Called(ev)
}

type fixture struct {
	store    *sqlite.Store
	gate     *Gate
	notifier *MockNotifier
	aircraft fleet.Aircraft
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "gate.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fl, err := store.EnsureAircraft(context.Background(), []fleet.Aircraft{{ICAO24: "e0659a", TailNumber: "LV-FVZ"}})
	require.NoError(t, err)

	resolver, err := airports.Default()
	require.NoError(t, err)

	n := &MockNotifier{}
	cfg := Config{DedupWindow: 120 * time.Second, LandingLookback: 2 * time.Hour, AirportRadiusKm: 50}
	return &fixture{
		store:    store,
		gate:     NewGate(cfg, store, resolver, n, logger.NewNop()),
		notifier: n,
		aircraft: fl[0],
	}
}

func report(lat, lon fleet.OptFloat) fleet.Report {
	return fleet.Report{
		ICAO24: "e0659a", Lat: lat, Lon: lon,
		Altitude: fleet.Some(3000), AltitudeUnit: fleet.Meters, Velocity: fleet.Some(500), Source: fleet.SourceOpenSky,
	}
}

func kindIs(k fleet.EventKind) any {
	return mock.MatchedBy(func(ev fleet.FlightEvent) bool { return ev.Kind == k })
}

func TestTakeoffOriginFromPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.On("Notify", kindIs(fleet.EventTakeoff)).Once()

	out, err := f.gate.Commit(ctx, presence.Intent{
		Aircraft: f.aircraft, Kind: fleet.EventTakeoff, TS: t0,
		Report: report(fleet.Some(-34.8222), fleet.Some(-58.5358)),
	})
	require.NoError(t, err)
	assert.Equal(t, Written, out)
	f.notifier.AssertExpectations(t)

	ev, ok, err := f.store.LatestEvent(ctx, f.aircraft.ID, t0, fleet.EventTakeoff)
	require.NoError(t, err)
	require.True(t, ok)
	m := ev.Meta.(fleet.FlightMeta)
	assert.Equal(t, "EZE", m.OriginAirport)
	assert.Equal(t, "Ezeiza Ministro Pistarini", m.OriginName)
	assert.Equal(t, fleet.Some(3000), m.Altitude)
}

func TestDuplicateIsSkippedWithoutNotify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.On("Notify", kindIs(fleet.EventTakeoff)).Once()

	in := presence.Intent{Aircraft: f.aircraft, Kind: fleet.EventTakeoff, TS: t0, Report: report(fleet.None, fleet.None)}
	out, err := f.gate.Commit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Written, out)

	in.TS = t0.Add(30 * time.Second)
	out, err = f.gate.Commit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Skipped, out)
	assert.Equal(t, "skipped", out.String())

	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestTakeoffOriginChainsFromPreviousLanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything)

	require.NoError(t, f.store.AppendPosition(ctx, fleet.PositionSample{
		AircraftID: f.aircraft.ID, TS: t0.Add(-time.Hour), Lat: fleet.Some(-31.3236), Lon: fleet.Some(-64.2082),
	}))
	out, err := f.gate.Commit(ctx, presence.Intent{
		Aircraft: f.aircraft, Kind: fleet.EventLanding, TS: t0.Add(-50 * time.Minute), LastSeen: t0.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, Written, out)

	_, err = f.gate.Commit(ctx, presence.Intent{
		Aircraft: f.aircraft, Kind: fleet.EventTakeoff, TS: t0, Report: report(fleet.None, fleet.None),
	})
	require.NoError(t, err)

	ev, _, err := f.store.LatestEvent(ctx, f.aircraft.ID, t0, fleet.EventTakeoff)
	require.NoError(t, err)
	m := ev.Meta.(fleet.FlightMeta)
	assert.Equal(t, "COR", m.OriginAirport)
	assert.Equal(t, "Córdoba Ambrosio Taravella", m.OriginName)
}

func TestTakeoffOriginUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything)

	// Mid-ocean position and no landing history
	_, err := f.gate.Commit(ctx, presence.Intent{
		Aircraft: f.aircraft, Kind: fleet.EventTakeoff, TS: t0, Report: report(fleet.Some(-45), fleet.Some(-40)),
	})
	require.NoError(t, err)

	ev, _, err := f.store.LatestEvent(ctx, f.aircraft.ID, t0, fleet.EventTakeoff)
	require.NoError(t, err)
	assert.Equal(t, airports.Unknown, ev.Meta.(fleet.FlightMeta).OriginAirport)
}

func TestLandingDestination(t *testing.T) {
	tests := []struct {
		name     string
		fixAge   time.Duration
		wantCode string
		wantLast bool
	}{
		{"recent fix", 15 * time.Minute, "COR", true},
		{"fix outside lookback", 3 * time.Hour, airports.Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.notifier.On("Notify", kindIs(fleet.EventLanding)).Once()

			require.NoError(t, f.store.AppendPosition(ctx, fleet.PositionSample{
				AircraftID: f.aircraft.ID, TS: t0.Add(-tt.fixAge), Lat: fleet.Some(-31.30), Lon: fleet.Some(-64.20),
			}))
			// A later sample without position must not hide the fix
			require.NoError(t, f.store.AppendPosition(ctx, fleet.PositionSample{
				AircraftID: f.aircraft.ID, TS: t0.Add(-10 * time.Minute),
			}))

			out, err := f.gate.Commit(ctx, presence.Intent{
				Aircraft: f.aircraft, Kind: fleet.EventLanding, TS: t0, LastSeen: t0.Add(-10 * time.Minute),
			})
			require.NoError(t, err)
			assert.Equal(t, Written, out)

			ev, _, err := f.store.LatestEvent(ctx, f.aircraft.ID, t0, fleet.EventLanding)
			require.NoError(t, err)
			m := ev.Meta.(fleet.LandingMeta)
			assert.Equal(t, tt.wantCode, m.DestinationAirport)
			assert.Equal(t, int64(600), m.MissingSeconds)
			assert.Equal(t, tt.wantLast, m.LastLat.Valid)
		})
	}
}

func TestEmergencyAndAppearedMeta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything)

	r := report(fleet.Some(-34.6), fleet.Some(-58.4))
	r.Squawk = "7500"
	_, err := f.gate.Commit(ctx, presence.Intent{Aircraft: f.aircraft, Kind: fleet.EventEmergency, TS: t0, Report: r})
	require.NoError(t, err)
	_, err = f.gate.Commit(ctx, presence.Intent{Aircraft: f.aircraft, Kind: fleet.EventAppeared, TS: t0, Report: r, Gap: 3 * time.Hour})
	require.NoError(t, err)

	em, _, err := f.store.LatestEvent(ctx, f.aircraft.ID, t0, fleet.EventEmergency)
	require.NoError(t, err)
	assert.Equal(t, fleet.EmergencyMeta{Telemetry: r.Telemetry(), Code: "7500", Meaning: "HIJACK"}, em.Meta)

	ap, _, err := f.store.LatestEvent(ctx, f.aircraft.ID, t0, fleet.EventAppeared)
	require.NoError(t, err)
	assert.Equal(t, int64(10800), ap.Meta.(fleet.AppearedMeta).GapSeconds)
	f.notifier.AssertNumberOfCalls(t, "Notify", 2)
}
