// Package notify fans committed flight events out to text and broker sinks.
package notify

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yegors/fleetwatch/internal/airports"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/physics"
)

// Formatter renders events as chat messages
type Formatter struct {
	TrackingURL string // "%s" is replaced by the tail number
	Location    *time.Location
}

// Text renders ev as a plain text message
func (f Formatter) Text(ev fleet.FlightEvent) string {
	var b strings.Builder

	switch m := ev.Meta.(type) {
	case fleet.FlightMeta:
		if ev.Kind == fleet.EventInProgress {
			fmt.Fprintf(&b, "🔄 %s in flight\n", ev.TailNumber)
		} else {
			fmt.Fprintf(&b, "✈️ %s took off\n", ev.TailNumber)
		}
		fmt.Fprintf(&b, "ICAO24: %s\n", ev.ICAO24)
		if line := emergencyLine(m.Squawk); line != "" {
			b.WriteString(line + "\n")
		}
		if m.OriginAirport != "" && m.OriginAirport != airports.Unknown {
			fmt.Fprintf(&b, "🛫 From: %s (%s)\n", m.OriginAirport, m.OriginName)
		}
		f.telemetry(&b, m.Telemetry)
		f.footer(&b, ev, m.Source)

	case fleet.LandingMeta:
		fmt.Fprintf(&b, "🛬 %s landed\n", ev.TailNumber)
		if m.DestinationAirport != "" && m.DestinationAirport != airports.Unknown {
			fmt.Fprintf(&b, "📍 At: %s (%s)\n", m.DestinationAirport, m.DestinationName)
		}
		b.WriteString(f.stamp(ev.TS))

	case fleet.AppearedMeta:
		gap := ev.TS.Add(-time.Duration(m.GapSeconds) * time.Second)
		fmt.Fprintf(&b, "📶 %s reappeared after %s without signal\n", ev.TailNumber,
			strings.TrimSpace(humanize.RelTime(gap, ev.TS, "", "")))
		fmt.Fprintf(&b, "ICAO24: %s\n", ev.ICAO24)
		f.telemetry(&b, m.Telemetry)
		f.footer(&b, ev, m.Source)

	case fleet.EmergencyMeta:
		line := emergencyLine(m.Code)
		if line == "" {
			line = "⚠️ " + m.Meaning
		}
		fmt.Fprintf(&b, "%s %s squawking %s\n", line, ev.TailNumber, m.Code)
		fmt.Fprintf(&b, "ICAO24: %s\n", ev.ICAO24)
		f.telemetry(&b, m.Telemetry)
		f.footer(&b, ev, m.Source)

	default:
		fmt.Fprintf(&b, "%s %s\n", ev.TailNumber, ev.Kind)
		b.WriteString(f.stamp(ev.TS))
	}

	return b.String()
}

func (f Formatter) telemetry(b *strings.Builder, t fleet.Telemetry) {
	if t.Lat.Valid && t.Lon.Valid {
		fmt.Fprintf(b, "\n📍 Position: %.4f, %.4f\n", t.Lat.V, t.Lon.V)
	}

	unit := t.AltitudeUnit
	if unit == "" {
		unit = fleet.Meters
	}
	fmt.Fprintf(b, "📊 Altitude: %s %s\n", formatNumber(t.Altitude), unit)
	fmt.Fprintf(b, "🚀 Speed: %s km/h\n", formatNumber(t.Speed.Map(func(v float64) float64 { return physics.RoundTo(v, 1) })))

	if h, ok := t.Heading.Get(); ok {
		fmt.Fprintf(b, "🧭 Heading: %d° (%s)\n", int(h), physics.Cardinal(h))
	}
	if line := verticalLine(t.VerticalRate); line != "" {
		b.WriteString(line + "\n")
	}
}

func (f Formatter) footer(b *strings.Builder, ev fleet.FlightEvent, source string) {
	if f.TrackingURL != "" {
		fmt.Fprintf(b, "\n🔗 Live: %s\n", fmt.Sprintf(f.TrackingURL, ev.TailNumber))
	}
	if source != "" {
		fmt.Fprintf(b, "\n📡 Source: %s\n", source)
	}
	b.WriteString(f.stamp(ev.TS))
}

func (f Formatter) stamp(ts time.Time) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return "🕐 " + ts.In(loc).Format("2006-01-02 15:04:05 MST")
}

func verticalLine(rate fleet.OptFloat) string {
	fpm, ok := rate.Get()
	if !ok {
		return ""
	}
	switch physics.Trend(fpm) {
	case physics.Climbing:
		return fmt.Sprintf("⬆️ Climbing +%d ft/min", int(math.Round(fpm)))
	case physics.Descending:
		return fmt.Sprintf("⬇️ Descending %d ft/min", int(math.Round(fpm)))
	default:
		return "➡️ Level"
	}
}

func emergencyLine(squawk string) string {
	switch squawk {
	case "7700":
		return "🆘 EMERGENCY"
	case "7600":
		return "📻 Radio failure"
	case "7500":
		return "🚨 HIJACK"
	}
	return ""
}

func formatNumber(v fleet.OptFloat) string {
	n, ok := v.Get()
	if !ok {
		return "N/A"
	}
	return humanize.CommafWithDigits(n, 1)
}
