package fleet

import (
	"encoding/json"
	"fmt"
)

// Meta is the kind-specific payload of a flight event. The concrete types are
// FlightMeta, LandingMeta, AppearedMeta and EmergencyMeta.
type Meta interface {
	metaFor(EventKind) bool
}

// Telemetry is the observation that triggered an event
type Telemetry struct {
	Lat          OptFloat     `json:"lat"`
	Lon          OptFloat     `json:"lon"`
	Altitude     OptFloat     `json:"altitude"`
	AltitudeUnit AltitudeUnit `json:"altitude_unit,omitempty"`
	Speed        OptFloat     `json:"speed"`
	Heading      OptFloat     `json:"heading"`
	VerticalRate OptFloat     `json:"vertical_rate"`
	Squawk       string       `json:"squawk,omitempty"`
	Callsign     string       `json:"callsign,omitempty"`
	Source       string       `json:"source,omitempty"`
}

// FlightMeta is carried by TAKEOFF and IN_PROGRESS. Origin is only attributed on TAKEOFF.
type FlightMeta struct {
	Telemetry
	OriginAirport string `json:"origin_airport,omitempty"`
	OriginName    string `json:"origin_name,omitempty"`
}

func (FlightMeta) metaFor(k EventKind) bool {
	return k == EventTakeoff || k == EventInProgress
}

// LandingMeta is carried by LANDING
type LandingMeta struct {
	DestinationAirport string   `json:"destination_airport"`
	DestinationName    string   `json:"destination_name,omitempty"`
	LastLat            OptFloat `json:"last_lat"`
	LastLon            OptFloat `json:"last_lon"`
	MissingSeconds     int64    `json:"missing_seconds"`
}

func (LandingMeta) metaFor(k EventKind) bool {
	return k == EventLanding
}

// AppearedMeta is carried by APPEARED
type AppearedMeta struct {
	Telemetry
	GapSeconds int64 `json:"gap_seconds"`
}

func (AppearedMeta) metaFor(k EventKind) bool {
	return k == EventAppeared
}

// EmergencyMeta is carried by EMERGENCY
type EmergencyMeta struct {
	Telemetry
	Code    string `json:"emergency_squawk"`
	Meaning string `json:"meaning"`
}

func (EmergencyMeta) metaFor(k EventKind) bool {
	return k == EventEmergency
}

// MetaFits reports whether m is the payload type for kind k
func MetaFits(k EventKind, m Meta) bool {
	return m != nil && m.metaFor(k)
}

// EncodeMeta flattens a payload into its stored key/value form
func EncodeMeta(k EventKind, m Meta) ([]byte, error) {
	if !MetaFits(k, m) {
		return nil, fmt.Errorf("meta %T does not belong to %s", m, k)
	}
	return json.Marshal(m)
}

// DecodeMeta rebuilds the payload of a stored event
func DecodeMeta(k EventKind, data []byte) (Meta, error) {
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	switch k {
	case EventTakeoff, EventInProgress:
		var m FlightMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s meta: %w", k, err)
		}
		return m, nil
	case EventLanding:
		var m LandingMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s meta: %w", k, err)
		}
		return m, nil
	case EventAppeared:
		var m AppearedMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s meta: %w", k, err)
		}
		return m, nil
	case EventEmergency:
		var m EmergencyMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode %s meta: %w", k, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", k)
	}
}

// EmergencyMeaning names an emergency squawk
func EmergencyMeaning(squawk string) string {
	switch squawk {
	case "7500":
		return "HIJACK"
	case "7600":
		return "RADIO FAILURE"
	case "7700":
		return "EMERGENCY"
	default:
		return "SQUAWK " + squawk
	}
}
