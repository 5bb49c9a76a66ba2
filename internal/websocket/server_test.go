package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/notify"
	"github.com/yegors/fleetwatch/pkg/logger"
)

func startHub(t *testing.T) (*Server, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewServer(logger.NewNop())
	go s.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func envelope(icao, tail string) notify.Envelope {
	ev := fleet.FlightEvent{
		ID:         3,
		ICAO24:     icao,
		TailNumber: tail,
		TS:         time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC),
		Kind:       fleet.EventLanding,
		Meta:       fleet.LandingMeta{DestinationAirport: "COR"},
	}
	return notify.NewEnvelope(ev, "🛬 "+tail+" landed", ev.TS)
}

func TestPublishReachesClients(t *testing.T) {
	s, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	env := envelope("e0659a", "LV-KMA")
	require.NoError(t, s.Publish(context.Background(), env))

	var got Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, MessageTypeFlightEvent, got.Type)
	assert.Equal(t, env.ID, got.Data["id"])
	assert.Equal(t, "🛬 LV-KMA landed", got.Data["text"])
	event, ok := got.Data["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "LANDING", event["type"])
}

func TestAircraftFilter(t *testing.T) {
	s, url := startHub(t)
	conn := dial(t, url+"?aircraft_icao24=E0B341")
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Publish(context.Background(), envelope("e0659a", "LV-KMA")))
	require.NoError(t, s.Publish(context.Background(), envelope("e0b341", "LV-KJE")))

	var got Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "e0b341", got.Data["icao24"])
}

func TestDisconnectUnregisters(t *testing.T) {
	s, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
