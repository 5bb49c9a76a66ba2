package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/physics"
	"github.com/yegors/fleetwatch/pkg/logger"
)

const defaultOpenSkyTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

// OpenSkyClient is the primary bulk feed: one request returns every visible aircraft
type OpenSkyClient struct {
	httpClient *http.Client
	url        string
	credsPath  string
	logger     *logger.Logger

	// Cached OAuth2 token when a credentials file is configured
	token       string
	tokenExpiry time.Time
	tokenMu     sync.Mutex
}

// NewOpenSkyClient creates the bulk feed adapter. credsPath is optional; without it
// requests are anonymous.
func NewOpenSkyClient(stateURL string, credsPath string, timeout time.Duration, log *logger.Logger) *OpenSkyClient {
	return &OpenSkyClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		url:       stateURL,
		credsPath: credsPath,
		logger:    log.Named("adsb-opensky"),
	}
}

// Name returns the source tag
func (c *OpenSkyClient) Name() string {
	return fleet.SourceOpenSky
}

// Poll fetches all state vectors and keeps the tracked ones
func (c *OpenSkyClient) Poll(ctx context.Context, hexes []string) map[string]fleet.Report {
	reports, err := c.fetch(ctx, hexSet(hexes))
	if err != nil {
		c.logger.Warn("OpenSky poll failed", logger.Error(err))
		return map[string]fleet.Report{}
	}
	c.logger.Debug("OpenSky poll complete",
		logger.Int("tracked", len(hexes)),
		logger.Int("found", len(reports)))
	return reports
}

func (c *OpenSkyClient) fetch(ctx context.Context, tracked map[string]bool) (map[string]fleet.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSky request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.bearerToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute opensky request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected opensky status code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var osResp openSkyResponse
	if err := json.NewDecoder(resp.Body).Decode(&osResp); err != nil {
		return nil, fmt.Errorf("failed to parse opensky JSON: %w", err)
	}

	reports := make(map[string]fleet.Report)
	for _, s := range osResp.States {
		if len(s) < osMinFields {
			continue
		}
		hex, _ := s[osIcao24].(string)
		hex = NormalizeHex(hex)
		if !tracked[hex] {
			continue
		}
		reports[hex] = parseOpenSkyState(hex, s)
	}
	return reports, nil
}

// parseOpenSkyState converts one state vector. Units arrive as metres, m/s and m/s.
func parseOpenSkyState(hex string, s []interface{}) fleet.Report {
	callsign, _ := s[osCallsign].(string)

	altitude := floatAt(s, osGeoAltitude)
	if !altitude.Valid {
		altitude = floatAt(s, osBaroAltitude)
	}

	r := fleet.Report{
		ICAO24:       hex,
		Callsign:     strings.TrimSpace(callsign),
		Altitude:     altitude,
		AltitudeUnit: fleet.Meters,
		Velocity:     floatAt(s, osVelocity).Map(func(v float64) float64 { return v * physics.MsToKmh }),
		Lat:          floatAt(s, osLatitude),
		Lon:          floatAt(s, osLongitude),
		Heading:      floatAt(s, osTrueTrack),
		VerticalRate: floatAt(s, osVerticalRate).Map(func(v float64) float64 { return v * physics.MsToFpm }),
		Source:       fleet.SourceOpenSky,
	}
	if v, ok := s[osOnGround].(bool); ok {
		r.OnGround = fleet.KnownBool(v)
	}
	if len(s) > osSquawk {
		if v, ok := s[osSquawk].(string); ok {
			r.Squawk = strings.TrimSpace(v)
		}
	}
	return r
}

func floatAt(s []interface{}, i int) fleet.OptFloat {
	if i >= len(s) {
		return fleet.None
	}
	if v, ok := s[i].(float64); ok {
		return fleet.Some(v)
	}
	return fleet.None
}

// bearerToken returns a cached OAuth2 token, requesting a new one when needed.
// Any failure falls back to anonymous access.
func (c *OpenSkyClient) bearerToken(ctx context.Context) string {
	if c.credsPath == "" {
		return ""
	}

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token
	}

	b, err := os.ReadFile(c.credsPath)
	if err != nil {
		c.logger.Warn("OpenSky credentials file not readable - proceeding as anonymous", logger.String("path", c.credsPath), logger.Error(err))
		return ""
	}
	var creds struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		TokenURL     string `json:"token_url"`
	}
	if err := json.Unmarshal(b, &creds); err != nil || creds.ClientID == "" || creds.ClientSecret == "" {
		c.logger.Warn("OpenSky credentials must contain client_id and client_secret - proceeding as anonymous")
		return ""
	}
	if creds.TokenURL == "" {
		creds.TokenURL = defaultOpenSkyTokenURL
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Failed to request OpenSky token", logger.Error(err))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("OpenSky token endpoint returned non-200", logger.Int("status", resp.StatusCode))
		return ""
	}

	var tokResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil || tokResp.AccessToken == "" {
		c.logger.Warn("OpenSky token response unusable")
		return ""
	}

	c.token = tokResp.AccessToken
	if tokResp.ExpiresIn > 60 {
		c.tokenExpiry = time.Now().Add(time.Duration(tokResp.ExpiresIn-30) * time.Second)
	} else {
		c.tokenExpiry = time.Now().Add(29 * time.Minute)
	}
	return c.token
}
