package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/pkg/logger"
)

var ts = time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)

func takeoff() fleet.FlightEvent {
	return fleet.FlightEvent{
		ID:         1,
		AircraftID: 1,
		ICAO24:     "e0659a",
		TailNumber: "LV-KMA",
		TS:         ts,
		Kind:       fleet.EventTakeoff,
		Meta: fleet.FlightMeta{
			Telemetry: fleet.Telemetry{
				Lat:          fleet.Some(-34.82221),
				Lon:          fleet.Some(-58.53584),
				Altitude:     fleet.Some(1200),
				AltitudeUnit: fleet.Meters,
				Speed:        fleet.Some(310.44),
				Heading:      fleet.Some(92),
				VerticalRate: fleet.Some(1800),
				Source:       fleet.SourceOpenSky,
			},
			OriginAirport: "EZE",
			OriginName:    "Ministro Pistarini",
		},
	}
}

func TestFormatTakeoff(t *testing.T) {
	f := Formatter{TrackingURL: "https://www.flightradar24.com/%s", Location: time.UTC}
	text := f.Text(takeoff())

	for _, want := range []string{
		"✈️ LV-KMA took off\n",
		"ICAO24: e0659a\n",
		"🛫 From: EZE (Ministro Pistarini)\n",
		"📍 Position: -34.8222, -58.5358\n",
		"📊 Altitude: 1,200 m\n",
		"🚀 Speed: 310.4 km/h\n",
		"🧭 Heading: 92° (E)\n",
		"⬆️ Climbing +1800 ft/min\n",
		"🔗 Live: https://www.flightradar24.com/LV-KMA\n",
		"📡 Source: OpenSky\n",
		"🕐 2026-03-14 15:30:00 UTC",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "EMERGENCY")
}

func TestFormatUnknownValues(t *testing.T) {
	ev := takeoff()
	ev.Kind = fleet.EventInProgress
	ev.Meta = fleet.FlightMeta{Telemetry: fleet.Telemetry{Squawk: "7600", VerticalRate: fleet.Some(-20)}}

	text := Formatter{}.Text(ev)
	assert.Contains(t, text, "🔄 LV-KMA in flight\n")
	assert.Contains(t, text, "📻 Radio failure\n")
	assert.Contains(t, text, "📊 Altitude: N/A m\n")
	assert.Contains(t, text, "🚀 Speed: N/A km/h\n")
	assert.Contains(t, text, "➡️ Level\n")
	assert.NotContains(t, text, "Position")
	assert.NotContains(t, text, "Heading")
	assert.NotContains(t, text, "Live")
	assert.NotContains(t, text, "From")
}

func TestFormatOtherKinds(t *testing.T) {
	loc := time.FixedZone("ART", -3*3600)
	f := Formatter{Location: loc}

	tests := []struct {
		name string
		ev   fleet.FlightEvent
		want []string
	}{
		{
			name: "landing",
			ev: fleet.FlightEvent{TailNumber: "LV-KMA", TS: ts, Kind: fleet.EventLanding,
				Meta: fleet.LandingMeta{DestinationAirport: "COR", DestinationName: "Ingeniero Taravella"}},
			want: []string{"🛬 LV-KMA landed\n", "📍 At: COR (Ingeniero Taravella)\n", "🕐 2026-03-14 12:30:00 ART"},
		},
		{
			name: "landing unknown",
			ev: fleet.FlightEvent{TailNumber: "LV-KMA", TS: ts, Kind: fleet.EventLanding,
				Meta: fleet.LandingMeta{DestinationAirport: "UNKNOWN"}},
			want: []string{"🛬 LV-KMA landed\n🕐"},
		},
		{
			name: "appeared",
			ev: fleet.FlightEvent{TailNumber: "LV-KMA", TS: ts, Kind: fleet.EventAppeared,
				Meta: fleet.AppearedMeta{GapSeconds: 7300}},
			want: []string{"📶 LV-KMA reappeared after 2 hours without signal\n"},
		},
		{
			name: "emergency",
			ev: fleet.FlightEvent{TailNumber: "LV-KMA", TS: ts, Kind: fleet.EventEmergency,
				Meta: fleet.EmergencyMeta{Code: "7700", Meaning: "EMERGENCY"}},
			want: []string{"🆘 EMERGENCY LV-KMA squawking 7700\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := f.Text(tt.ev)
			for _, w := range tt.want {
				assert.Contains(t, text, w)
			}
		})
	}
}

func TestTelegramSend(t *testing.T) {
	var gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, r.ParseForm())
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sink := NewTelegramSink(srv.URL+"/", "TOKEN", "-100123", time.Second)
	require.NoError(t, sink.Send(context.Background(), "🛬 LV-KMA landed"))
	assert.Equal(t, "-100123", gotChat)
	assert.Equal(t, "🛬 LV-KMA landed", gotText)
}

func TestTelegramRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegramSink(srv.URL, "TOKEN", "1", time.Second).Send(context.Background(), "x")
	assert.ErrorContains(t, err, "status 400")
	assert.ErrorContains(t, err, "chat not found")
}

// MockPublisher is a mock implementation of Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Name() string { return "mock" }

func (m *MockPublisher) Publish(ctx context.Context, env Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockSink is a mock implementation of TextSink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Name() string { return "mock-text" }

func (m *MockSink) Send(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func TestDispatcherFansOut(t *testing.T) {
	ev := takeoff()

	failing := &MockSink{}
	failing.On("Send", mock.Anything, mock.MatchedBy(func(s string) bool {
		return len(s) > 0
	})).Return(errors.New("connection refused"))

	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(env Envelope) bool {
		return env.Type == EnvelopeType && env.ID != "" && env.Event.ID == ev.ID && env.Text != ""
	})).Return(nil)
	pub.On("Close").Return(nil)

	d := NewDispatcher(Formatter{}, time.Second, logger.NewNop())
	d.AddText(failing)
	d.AddPublisher(pub)
	assert.Equal(t, []string{"mock-text", "mock"}, d.Sinks())

	d.Notify(ev)
	d.Wait()

	failing.AssertNumberOfCalls(t, "Send", 1)
	pub.AssertNumberOfCalls(t, "Publish", 1)

	require.NoError(t, d.Close())
	pub.AssertExpectations(t)
}

func TestDispatcherSendsHaveDeadline(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("Publish", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything).Return(nil)

	d := NewDispatcher(Formatter{}, 50*time.Millisecond, logger.NewNop())
	d.AddPublisher(pub)
	d.Notify(takeoff())
	d.Wait()

	pub.AssertExpectations(t)
}

func TestEnvelopeIDsAreUnique(t *testing.T) {
	a := NewEnvelope(takeoff(), "", ts)
	b := NewEnvelope(takeoff(), "", ts)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, EnvelopeType, a.Type)
}

func TestKafkaKeepsAircraftOnOnePartition(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "fleet-events")
	defer p.Close()

	require.IsType(t, &kafka.Hash{}, p.writer.Balancer)

	partitions := []int{0, 1, 2, 3, 4, 5, 6, 7}
	first := p.writer.Balancer.Balance(kafka.Message{Key: []byte("e0659a"), Value: []byte("a")}, partitions...)
	for i := 0; i < 5; i++ {
		got := p.writer.Balancer.Balance(kafka.Message{Key: []byte("e0659a"), Value: []byte("b")}, partitions...)
		assert.Equal(t, first, got)
	}
}
