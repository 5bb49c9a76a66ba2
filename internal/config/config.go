package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // forecast zone must resolve on hosts without zoneinfo

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Storage  StorageConfig  `toml:"storage"`  // Data persistence settings
	Sources  SourcesConfig  `toml:"sources"`  // Telemetry feed settings
	Presence PresenceConfig `toml:"presence"` // Takeoff/landing detection thresholds
	Events   EventsConfig   `toml:"events"`   // Event gate and airport attribution settings
	Replay   ReplayConfig   `toml:"replay"`   // Snapshot and range replay limits
	Forecast ForecastConfig `toml:"forecast"` // Takeoff forecast settings
	Notify   NotifyConfig   `toml:"notify"`   // Outbound notification sinks
	Cache    CacheConfig    `toml:"cache"`    // Read-side cache
	Fleet    FleetConfig    `toml:"fleet"`    // Tracked aircraft
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the read API
	Host             string `toml:"host"`                  // Host address to bind to
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	StaticDir        string `toml:"static_dir"`            // Optional prebuilt dashboard served at /
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Type         string `toml:"type"`           // "sqlite" or "postgres"
	SQLitePath   string `toml:"sqlite_path"`    // Database file for the sqlite backend
	PostgresURL  string `toml:"postgres_url"`   // Connection string for the postgres backend (DATABASE_URL overrides)
	MaxConns     int32  `toml:"max_conns"`      // Postgres pool size
	ConnTimeoutS int    `toml:"conn_timeout_s"` // Postgres connect timeout in seconds
}

// SourcesConfig contains the two telemetry feeds
type SourcesConfig struct {
	OpenSkyURL         string `toml:"opensky_url"`             // Bulk state-vector endpoint
	OpenSkyTimeoutSecs int    `toml:"opensky_timeout_seconds"` // Bulk request timeout
	OpenSkyCredentials string `toml:"opensky_credentials_path"` // Optional OAuth2 client credentials JSON
	ADSBOneURL         string `toml:"adsbone_url"`             // Per-aircraft endpoint; "%s" is replaced by the hex code
	ADSBOneTimeoutSecs int    `toml:"adsbone_timeout_seconds"` // Per-aircraft request timeout
	ADSBOnePauseMs     int    `toml:"adsbone_pause_ms"`        // Pause between per-aircraft requests
	PollIntervalSecs   int    `toml:"poll_interval_seconds"`   // Polling cycle period
	DisableSecondary   bool   `toml:"disable_secondary"`       // Only use the bulk feed
}

// PresenceConfig contains the state machine thresholds
type PresenceConfig struct {
	LandingGraceSecs     int      `toml:"landing_grace_seconds"`      // Missing time before a flying aircraft is declared landed
	AppearedThresholdSec int      `toml:"appeared_threshold_seconds"` // Gap after which an observation also emits APPEARED
	GroundAltitudeM      float64  `toml:"ground_altitude_m"`          // Ground filter altitude cutoff for metre-reporting feeds
	GroundAltitudeFt     float64  `toml:"ground_altitude_ft"`         // Ground filter altitude cutoff for foot-reporting feeds
	GroundSpeedKmh       float64  `toml:"ground_speed_kmh"`           // Ground filter speed cutoff
	EmergencySquawks     []string `toml:"emergency_squawks"`          // Squawk codes that raise EMERGENCY
}

// EventsConfig contains event gate settings
type EventsConfig struct {
	DedupWindowSecs     int     `toml:"dedup_window_seconds"`     // Same-kind events inside this window are skipped
	LandingLookbackSecs int     `toml:"landing_lookback_seconds"` // How far back to look for a landing position
	AirportRadiusKm     float64 `toml:"airport_radius_km"`        // Nearest-airport match radius
	AirportsPath        string  `toml:"airports_path"`            // Optional YAML override for the airport table
	TrackingURL         string  `toml:"tracking_url"`             // Live link template; "%s" is replaced by the tail number
}

// ReplayConfig contains read-side limits
type ReplayConfig struct {
	FeedSize       int `toml:"feed_size"`        // Events included in a snapshot
	MaxSpanHours   int `toml:"max_span_hours"`   // Longest accepted range
	MinStepSeconds int `toml:"min_step_seconds"` // Range step lower clamp
	MaxStepSeconds int `toml:"max_step_seconds"` // Range step upper clamp
	DefaultStepSec int `toml:"default_step_seconds"`
}

// ForecastConfig contains forecast model settings
type ForecastConfig struct {
	TimeZone   string `toml:"time_zone"`   // Fleet home time zone (IANA)
	WindowDays int    `toml:"window_days"` // Trailing history used for rates
	RecentDays int    `toml:"recent_days"` // Trailing history used for the recency factor
}

// NotifyConfig contains outbound sinks; each is optional
type NotifyConfig struct {
	TimeoutSecs int            `toml:"timeout_seconds"` // Per-send timeout
	Telegram    TelegramConfig `toml:"telegram"`
	NATS        NATSConfig     `toml:"nats"`
	Kafka       KafkaConfig    `toml:"kafka"`
}

// TelegramConfig contains the text push sink
type TelegramConfig struct {
	Enabled bool   `toml:"enabled"`
	APIURL  string `toml:"api_url"` // Bot API base URL
	Token   string `toml:"token"`   // TELEGRAM_TOKEN overrides
	ChatID  string `toml:"chat_id"` // TELEGRAM_CHAT_ID overrides
}

// NATSConfig contains the NATS event publisher
type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Subject string `toml:"subject"` // Events go to <subject>.<kind>
}

// KafkaConfig contains the Kafka event publisher
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// CacheConfig contains the optional redis read cache
type CacheConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	ForecastTTLS  int    `toml:"forecast_ttl_seconds"`
	SnapshotTTLS  int    `toml:"snapshot_ttl_seconds"`
	ImmutableAgeS int    `toml:"immutable_age_seconds"` // Snapshots older than this are cacheable
}

// FleetConfig lists tracked aircraft
type FleetConfig struct {
	Aircraft []AircraftConfig `toml:"aircraft"`
}

// AircraftConfig is one tracked aircraft
type AircraftConfig struct {
	ICAO24     string `toml:"icao24"`
	TailNumber string `toml:"tail_number"`
}

// Load loads the configuration from a TOML file
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

// LoadWithFallback loads the configuration from the preferred path, then the
// conventional locations
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		c.Notify.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notify.Telegram.ChatID = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.PostgresURL = v
	}
}

// Validate fills defaults and validates the configuration
func (c *Config) Validate() error {
	// Server
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 15
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = 30
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	// Storage
	switch c.Storage.Type {
	case "":
		c.Storage.Type = "sqlite"
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid storage type: %s (must be sqlite or postgres)", c.Storage.Type)
	}
	if c.Storage.Type == "sqlite" && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/fleetwatch.db"
	}
	if c.Storage.Type == "postgres" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres storage requires postgres_url or DATABASE_URL")
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 5
	}
	if c.Storage.ConnTimeoutS <= 0 {
		c.Storage.ConnTimeoutS = 5
	}

	// Sources
	if c.Sources.OpenSkyURL == "" {
		c.Sources.OpenSkyURL = "https://opensky-network.org/api/states/all"
	}
	if c.Sources.OpenSkyTimeoutSecs <= 0 {
		c.Sources.OpenSkyTimeoutSecs = 30
	}
	if c.Sources.ADSBOneURL == "" {
		c.Sources.ADSBOneURL = "https://api.adsb.one/v2/hex/%s"
	}
	if !strings.Contains(c.Sources.ADSBOneURL, "%s") {
		return fmt.Errorf("adsbone_url must contain %%s for the hex code")
	}
	if c.Sources.ADSBOneTimeoutSecs <= 0 {
		c.Sources.ADSBOneTimeoutSecs = 5
	}
	if c.Sources.ADSBOnePauseMs < 0 {
		return fmt.Errorf("adsbone_pause_ms must not be negative")
	}
	if c.Sources.ADSBOnePauseMs == 0 {
		c.Sources.ADSBOnePauseMs = 500
	}
	if c.Sources.PollIntervalSecs <= 0 {
		c.Sources.PollIntervalSecs = 25
	}

	// Presence
	if c.Presence.LandingGraceSecs <= 0 {
		c.Presence.LandingGraceSecs = 600
	}
	if c.Presence.AppearedThresholdSec <= 0 {
		c.Presence.AppearedThresholdSec = 7200
	}
	if c.Presence.GroundAltitudeM <= 0 {
		c.Presence.GroundAltitudeM = 500
	}
	if c.Presence.GroundAltitudeFt <= 0 {
		c.Presence.GroundAltitudeFt = 500
	}
	if c.Presence.GroundSpeedKmh <= 0 {
		c.Presence.GroundSpeedKmh = 80
	}
	if len(c.Presence.EmergencySquawks) == 0 {
		c.Presence.EmergencySquawks = []string{"7500", "7600", "7700"}
	}

	// Events
	if c.Events.DedupWindowSecs <= 0 {
		c.Events.DedupWindowSecs = 120
	}
	if c.Events.LandingLookbackSecs <= 0 {
		c.Events.LandingLookbackSecs = 7200
	}
	if c.Events.AirportRadiusKm <= 0 {
		c.Events.AirportRadiusKm = 50
	}
	if c.Events.TrackingURL == "" {
		c.Events.TrackingURL = "https://www.flightradar24.com/%s"
	}

	// Replay
	if c.Replay.FeedSize <= 0 {
		c.Replay.FeedSize = 50
	}
	if c.Replay.MaxSpanHours <= 0 {
		c.Replay.MaxSpanHours = 24
	}
	if c.Replay.MinStepSeconds <= 0 {
		c.Replay.MinStepSeconds = 30
	}
	if c.Replay.MaxStepSeconds <= 0 {
		c.Replay.MaxStepSeconds = 3600
	}
	if c.Replay.MinStepSeconds > c.Replay.MaxStepSeconds {
		return fmt.Errorf("replay min_step_seconds (%d) exceeds max_step_seconds (%d)", c.Replay.MinStepSeconds, c.Replay.MaxStepSeconds)
	}
	if c.Replay.DefaultStepSec <= 0 {
		c.Replay.DefaultStepSec = 60
	}

	// Forecast
	if c.Forecast.TimeZone == "" {
		c.Forecast.TimeZone = "America/Argentina/Buenos_Aires"
	}
	if _, err := time.LoadLocation(c.Forecast.TimeZone); err != nil {
		return fmt.Errorf("invalid forecast time_zone %q: %w", c.Forecast.TimeZone, err)
	}
	if c.Forecast.WindowDays <= 0 {
		c.Forecast.WindowDays = 30
	}
	if c.Forecast.RecentDays <= 0 {
		c.Forecast.RecentDays = 7
	}
	if c.Forecast.RecentDays > c.Forecast.WindowDays {
		return fmt.Errorf("forecast recent_days (%d) exceeds window_days (%d)", c.Forecast.RecentDays, c.Forecast.WindowDays)
	}

	// Notify
	if c.Notify.TimeoutSecs <= 0 {
		c.Notify.TimeoutSecs = 10
	}
	if c.Notify.Telegram.APIURL == "" {
		c.Notify.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("telegram notifications require token and chat_id")
	}
	if c.Notify.NATS.Enabled {
		if c.Notify.NATS.URL == "" {
			c.Notify.NATS.URL = "nats://127.0.0.1:4222"
		}
		if c.Notify.NATS.Subject == "" {
			c.Notify.NATS.Subject = "fleet.events"
		}
	}
	if c.Notify.Kafka.Enabled {
		if len(c.Notify.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka notifications require at least one broker")
		}
		if c.Notify.Kafka.Topic == "" {
			c.Notify.Kafka.Topic = "fleet-events"
		}
	}

	// Cache
	if c.Cache.Enabled && c.Cache.Addr == "" {
		c.Cache.Addr = "127.0.0.1:6379"
	}
	if c.Cache.ForecastTTLS <= 0 {
		c.Cache.ForecastTTLS = 300
	}
	if c.Cache.SnapshotTTLS <= 0 {
		c.Cache.SnapshotTTLS = 3600
	}
	if c.Cache.ImmutableAgeS <= 0 {
		c.Cache.ImmutableAgeS = 300
	}

	// Fleet
	if len(c.Fleet.Aircraft) == 0 {
		return fmt.Errorf("fleet must list at least one aircraft")
	}
	seen := make(map[string]bool, len(c.Fleet.Aircraft))
	for i := range c.Fleet.Aircraft {
		a := &c.Fleet.Aircraft[i]
		a.ICAO24 = strings.ToLower(strings.TrimSpace(a.ICAO24))
		a.TailNumber = strings.ToUpper(strings.TrimSpace(a.TailNumber))
		if _, err := strconv.ParseUint(a.ICAO24, 16, 32); len(a.ICAO24) != 6 || err != nil {
			return fmt.Errorf("fleet aircraft %d: icao24 %q must be 6 hex digits", i, a.ICAO24)
		}
		if a.TailNumber == "" {
			return fmt.Errorf("fleet aircraft %s: tail_number is required", a.ICAO24)
		}
		if seen[a.ICAO24] {
			return fmt.Errorf("fleet aircraft %s listed twice", a.ICAO24)
		}
		seen[a.ICAO24] = true
	}

	return nil
}

// PollInterval returns the polling cycle period
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sources.PollIntervalSecs) * time.Second
}

// Location returns the forecast time zone. Validate must have succeeded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Forecast.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
