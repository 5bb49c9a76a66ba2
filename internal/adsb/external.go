package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/physics"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// FlexibleField can hold either a string or a number
type FlexibleField struct {
	value any
}

// UnmarshalJSON implements custom JSON unmarshaling for FlexibleField
func (f *FlexibleField) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		f.value = nil
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		f.value = num
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		f.value = str
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.value = b
		return nil
	}

	return fmt.Errorf("cannot unmarshal %s into FlexibleField", data)
}

// Opt returns the numeric value, or None when the field is missing or not a number
// (including the "ground" marker some feeds put in altitude)
func (f FlexibleField) Opt() fleet.OptFloat {
	switch v := f.value.(type) {
	case float64:
		return fleet.Some(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == "ground" {
			return fleet.None
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fleet.None
		}
		return fleet.Some(n)
	default:
		return fleet.None
	}
}

// IsGround reports whether the field carries the "ground" marker
func (f FlexibleField) IsGround() bool {
	s, ok := f.value.(string)
	return ok && strings.EqualFold(strings.TrimSpace(s), "ground")
}

// ADSBOneClient is the secondary per-aircraft feed, queried only for aircraft the bulk feed missed
type ADSBOneClient struct {
	httpClient  *http.Client
	urlTemplate string
	pause       time.Duration
	logger      *logger.Logger
}

// NewADSBOneClient creates the per-aircraft adapter. urlTemplate must contain %s for the hex code.
func NewADSBOneClient(urlTemplate string, timeout, pause time.Duration, log *logger.Logger) *ADSBOneClient {
	return &ADSBOneClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		urlTemplate: urlTemplate,
		pause:       pause,
		logger:      log.Named("adsb-adsbone"),
	}
}

// Name returns the source tag
func (c *ADSBOneClient) Name() string {
	return fleet.SourceADSBOne
}

// Poll queries each aircraft in turn with a pause between requests
func (c *ADSBOneClient) Poll(ctx context.Context, hexes []string) map[string]fleet.Report {
	reports := make(map[string]fleet.Report)
	for i, raw := range hexes {
		if i > 0 && c.pause > 0 {
			select {
			case <-time.After(c.pause):
			case <-ctx.Done():
				return reports
			}
		}

		hex := NormalizeHex(raw)
		r, ok, err := c.fetchOne(ctx, hex)
		if err != nil {
			c.logger.Warn("ADSB.one lookup failed", logger.String("hex", hex), logger.Error(err))
			continue
		}
		if ok {
			reports[hex] = r
		}
	}
	return reports
}

func (c *ADSBOneClient) fetchOne(ctx context.Context, hex string) (fleet.Report, bool, error) {
	urlStr := fmt.Sprintf(c.urlTemplate, hex)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return fleet.Report{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fleet.Report{}, false, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fleet.Report{}, false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var data adsbOneResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fleet.Report{}, false, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if data.Total <= 0 || len(data.AC) == 0 {
		return fleet.Report{}, false, nil
	}

	return convertADSBOne(hex, data.AC[0]), true, nil
}

// convertADSBOne normalizes an entry. Units arrive as feet, knots and ft/min.
// The feed has no trustworthy on-ground flag, so OnGround stays unknown.
func convertADSBOne(hex string, t adsbOneTarget) fleet.Report {
	callsign := strings.TrimSpace(t.Flight)
	if callsign == "" {
		callsign = strings.TrimSpace(t.Registration)
	}
	r := fleet.Report{
		ICAO24:       hex,
		Callsign:     callsign,
		Altitude:     t.AltBaro.Opt(),
		AltitudeUnit: fleet.Feet,
		Velocity:     t.GS.Opt().Map(func(v float64) float64 { return v * physics.KnotsToKmh }),
		Lat:          t.Lat.Opt(),
		Lon:          t.Lon.Opt(),
		Heading:      t.Track.Opt(),
		VerticalRate: t.BaroRate.Opt(),
		Squawk:       strings.TrimSpace(t.Squawk),
		Source:       fleet.SourceADSBOne,
	}
	// the feed has no on-ground flag; the "ground" altitude marker is the only signal
	if t.AltBaro.IsGround() {
		r.OnGround = fleet.KnownBool(true)
	}
	return r
}
