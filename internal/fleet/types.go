// Package fleet holds the domain types shared by the tracker, the event log and the read side.
package fleet

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the type of a derived flight event
type EventKind string

const (
	EventTakeoff    EventKind = "TAKEOFF"
	EventLanding    EventKind = "LANDING"
	EventAppeared   EventKind = "APPEARED"
	EventEmergency  EventKind = "EMERGENCY"
	EventInProgress EventKind = "IN_PROGRESS"
)

// Valid reports whether k is a known event kind
func (k EventKind) Valid() bool {
	switch k {
	case EventTakeoff, EventLanding, EventAppeared, EventEmergency, EventInProgress:
		return true
	}
	return false
}

// AltitudeUnit is the unit a feed reports altitude in
type AltitudeUnit string

const (
	Meters AltitudeUnit = "m"
	Feet   AltitudeUnit = "ft"
)

// Source tags
const (
	SourceOpenSky = "OpenSky"
	SourceADSBOne = "ADSB.one"
)

// Aircraft is a tracked airframe
type Aircraft struct {
	ID         int64  `json:"id"`
	ICAO24     string `json:"icao24"`
	TailNumber string `json:"tail_number"`
}

// Report is one normalized observation of an aircraft from a telemetry feed
type Report struct {
	ICAO24       string       `json:"icao24"`
	Callsign     string       `json:"callsign,omitempty"`
	Altitude     OptFloat     `json:"altitude"`
	AltitudeUnit AltitudeUnit `json:"altitude_unit"`
	Velocity     OptFloat     `json:"velocity"` // km/h
	Lat          OptFloat     `json:"lat"`
	Lon          OptFloat     `json:"lon"`
	Heading      OptFloat     `json:"heading"`       // degrees true
	VerticalRate OptFloat     `json:"vertical_rate"` // ft/min
	Squawk       string       `json:"squawk,omitempty"`
	OnGround     OptBool      `json:"on_ground"`
	Source       string       `json:"source"`
}

// HasPosition reports whether both coordinates are known
func (r Report) HasPosition() bool {
	return r.Lat.Valid && r.Lon.Valid
}

// Telemetry returns the event-facing subset of the report
func (r Report) Telemetry() Telemetry {
	return Telemetry{
		Lat:          r.Lat,
		Lon:          r.Lon,
		Altitude:     r.Altitude,
		AltitudeUnit: r.AltitudeUnit,
		Speed:        r.Velocity,
		Heading:      r.Heading,
		VerticalRate: r.VerticalRate,
		Squawk:       r.Squawk,
		Callsign:     r.Callsign,
		Source:       r.Source,
	}
}

// PositionSample is one persisted observation
type PositionSample struct {
	AircraftID   int64        `json:"aircraft_id"`
	ICAO24       string       `json:"icao24,omitempty"`
	TailNumber   string       `json:"tail_number,omitempty"`
	TS           time.Time    `json:"ts"`
	Lat          OptFloat     `json:"lat"`
	Lon          OptFloat     `json:"lon"`
	Altitude     OptFloat     `json:"altitude"`
	AltitudeUnit AltitudeUnit `json:"altitude_unit"`
	Velocity     OptFloat     `json:"velocity"`
	Heading      OptFloat     `json:"heading"`
	VerticalRate OptFloat     `json:"vertical_rate"`
	Squawk       string       `json:"squawk,omitempty"`
	OnGround     OptBool      `json:"on_ground"`
	Source       string       `json:"source"`
}

// HasPosition reports whether both coordinates are known
func (p PositionSample) HasPosition() bool {
	return p.Lat.Valid && p.Lon.Valid
}

// SampleFromReport builds the log row for a report
func SampleFromReport(aircraftID int64, ts time.Time, r Report) PositionSample {
	return PositionSample{
		AircraftID:   aircraftID,
		TS:           ts,
		Lat:          r.Lat,
		Lon:          r.Lon,
		Altitude:     r.Altitude,
		AltitudeUnit: r.AltitudeUnit,
		Velocity:     r.Velocity,
		Heading:      r.Heading,
		VerticalRate: r.VerticalRate,
		Squawk:       r.Squawk,
		OnGround:     r.OnGround,
		Source:       r.Source,
	}
}

// FlightEvent is one persisted event. ICAO24 and TailNumber are filled on reads.
type FlightEvent struct {
	ID         int64     `json:"id"`
	AircraftID int64     `json:"aircraft_id"`
	ICAO24     string    `json:"icao24,omitempty"`
	TailNumber string    `json:"tail_number,omitempty"`
	TS         time.Time `json:"ts"`
	Kind       EventKind `json:"type"`
	Meta       Meta      `json:"meta"`
}

func (e *FlightEvent) UnmarshalJSON(data []byte) error {
	type plain FlightEvent
	aux := struct {
		*plain
		Meta json.RawMessage `json:"meta"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	meta, err := DecodeMeta(e.Kind, aux.Meta)
	if err != nil {
		return fmt.Errorf("event %d: %w", e.ID, err)
	}
	e.Meta = meta
	return nil
}
