package adsb

import (
	"context"
	"strings"

	"github.com/yegors/fleetwatch/internal/fleet"
)

// Adapter polls one telemetry feed for a set of tracked aircraft.
// Poll never fails: a broken feed yields an empty map and a logged warning.
type Adapter interface {
	Name() string
	Poll(ctx context.Context, hexes []string) map[string]fleet.Report
}

// openSkyResponse is the states/all payload; each state is a positional array
type openSkyResponse struct {
	Time   int64           `json:"time"`
	States [][]interface{} `json:"states"`
}

// OpenSky state vector indices
const (
	osIcao24       = 0
	osCallsign     = 1
	osLongitude    = 5
	osLatitude     = 6
	osBaroAltitude = 7
	osOnGround     = 8
	osVelocity     = 9
	osTrueTrack    = 10
	osVerticalRate = 11
	osGeoAltitude  = 13
	osSquawk       = 14

	osMinFields = osGeoAltitude + 1
)

// adsbOneResponse is the v2/hex payload
type adsbOneResponse struct {
	Total int             `json:"total"`
	AC    []adsbOneTarget `json:"ac"`
}

// adsbOneTarget is one aircraft entry. Numeric fields use FlexibleField because
// the feed mixes numbers and strings ("ground") in the same field.
type adsbOneTarget struct {
	Hex          string        `json:"hex"`
	Flight       string        `json:"flight"`
	Registration string        `json:"r"`
	AltBaro      FlexibleField `json:"alt_baro"`
	GS           FlexibleField `json:"gs"`
	Track        FlexibleField `json:"track"`
	BaroRate     FlexibleField `json:"baro_rate"`
	Squawk       string        `json:"squawk"`
	Lat          FlexibleField `json:"lat"`
	Lon          FlexibleField `json:"lon"`
}

// NormalizeHex lowercases and trims a transponder code
func NormalizeHex(hex string) string {
	return strings.ToLower(strings.TrimSpace(hex))
}

func hexSet(hexes []string) map[string]bool {
	set := make(map[string]bool, len(hexes))
	for _, h := range hexes {
		set[NormalizeHex(h)] = true
	}
	return set
}
