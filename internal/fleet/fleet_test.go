package fleet

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptFloatJSONKeepsAbsenceDistinctFromZero(t *testing.T) {
	out, err := json.Marshal(struct {
		A OptFloat `json:"a"`
		B OptFloat `json:"b"`
	}{A: Some(0), B: None})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":0,"b":null}`, string(out))

	var back struct {
		A OptFloat `json:"a"`
		B OptFloat `json:"b"`
	}
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, back.A.Valid)
	assert.False(t, back.B.Valid)
}

func TestOptFloatScan(t *testing.T) {
	var o OptFloat
	require.NoError(t, o.Scan(nil))
	assert.False(t, o.Valid)
	require.NoError(t, o.Scan(int64(3)))
	assert.Equal(t, Some(3), o)
	require.NoError(t, o.Scan([]byte("2.5")))
	assert.Equal(t, Some(2.5), o)
	assert.Error(t, o.Scan(true))

	v, err := None.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOptFloatMap(t *testing.T) {
	assert.Equal(t, Some(36), Some(10).Map(func(v float64) float64 { return v * 3.6 }))
	assert.False(t, None.Map(func(v float64) float64 { return v + 1 }).Valid)
	assert.Equal(t, "N/A", None.String())
}

func TestEncodeMetaRejectsWrongKind(t *testing.T) {
	_, err := EncodeMeta(EventLanding, FlightMeta{})
	assert.Error(t, err)
	_, err = EncodeMeta(EventTakeoff, nil)
	assert.Error(t, err)
}

func TestMetaStorageForm(t *testing.T) {
	data, err := EncodeMeta(EventLanding, LandingMeta{DestinationAirport: "EZE", DestinationName: "Ezeiza", LastLat: Some(-34.8)})
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "EZE", flat["destination_airport"])
	assert.Nil(t, flat["last_lon"])

	m, err := DecodeMeta(EventLanding, data)
	require.NoError(t, err)
	assert.Equal(t, "EZE", m.(LandingMeta).DestinationAirport)
}

func TestFlightEventJSON(t *testing.T) {
	ev := FlightEvent{
		ID:   7,
		TS:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Kind: EventEmergency,
		Meta: EmergencyMeta{Code: "7700", Meaning: EmergencyMeaning("7700"), Telemetry: Telemetry{Altitude: Some(3000)}},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var back FlightEvent
	require.NoError(t, json.Unmarshal(data, &back))
	em, ok := back.Meta.(EmergencyMeta)
	require.True(t, ok)
	assert.Equal(t, "7700", em.Code)
	assert.Equal(t, "EMERGENCY", em.Meaning)
	assert.Equal(t, Some(3000), em.Altitude)
}

func TestDecodeMetaEmpty(t *testing.T) {
	m, err := DecodeMeta(EventTakeoff, nil)
	require.NoError(t, err)
	assert.IsType(t, FlightMeta{}, m)

	_, err = DecodeMeta("BOGUS", nil)
	assert.Error(t, err)
}
