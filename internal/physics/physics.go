package physics

import (
	"math"
)

// Constants
const (
	EarthRadiusKm = 6371.0   // Mean Earth radius used for great-circle distances
	MsToKmh       = 3.6      // Conversion factor from m/s to km/h
	KnotsToKmh    = 1.852    // Conversion factor from knots to km/h
	MsToFpm       = 196.85   // Conversion factor from m/s to ft/min
	MetersToFeet  = 3.28084  // Conversion factor from metres to feet
	FeetToMeters  = 0.3048   // Conversion factor from feet to metres
	KmToNM        = 0.539957 // Conversion factor from kilometres to nautical miles

	// Vertical rate band (ft/min) inside which an aircraft is considered level
	LevelBandFpm = 64.0
)

// ------------------------------------------------------------------------------------------------
// NAVIGATION PHYSICS
// ------------------------------------------------------------------------------------------------

// HaversineKm returns the great-circle distance in kilometres between two points
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// NormalizeHeading folds any angle into [0, 360)
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	return h
}

var cardinals = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Cardinal returns the 8-point compass direction for a heading
func Cardinal(headingDeg float64) string {
	idx := int((NormalizeHeading(headingDeg)+22.5)/45) % 8
	return cardinals[idx]
}

// ------------------------------------------------------------------------------------------------
// VERTICAL PROFILE
// ------------------------------------------------------------------------------------------------

// VerticalTrend classifies a vertical rate in ft/min
type VerticalTrend string

const (
	Climbing   VerticalTrend = "climbing"
	Descending VerticalTrend = "descending"
	Level      VerticalTrend = "level"
)

// Trend classifies a vertical rate using the level band
func Trend(fpm float64) VerticalTrend {
	switch {
	case fpm > LevelBandFpm:
		return Climbing
	case fpm < -LevelBandFpm:
		return Descending
	default:
		return Level
	}
}

// RoundTo rounds v to the given number of decimal places
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
