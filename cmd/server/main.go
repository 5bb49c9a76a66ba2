package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yegors/fleetwatch/internal/adsb"
	"github.com/yegors/fleetwatch/internal/airports"
	"github.com/yegors/fleetwatch/internal/analytics"
	"github.com/yegors/fleetwatch/internal/api"
	"github.com/yegors/fleetwatch/internal/cache"
	"github.com/yegors/fleetwatch/internal/config"
	"github.com/yegors/fleetwatch/internal/events"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/forecast"
	"github.com/yegors/fleetwatch/internal/monitor"
	"github.com/yegors/fleetwatch/internal/notify"
	"github.com/yegors/fleetwatch/internal/presence"
	"github.com/yegors/fleetwatch/internal/replay"
	"github.com/yegors/fleetwatch/internal/storage"
	"github.com/yegors/fleetwatch/internal/storage/postgres"
	"github.com/yegors/fleetwatch/internal/storage/sqlite"
	"github.com/yegors/fleetwatch/internal/websocket"
	"github.com/yegors/fleetwatch/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting fleetwatch",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.Int("aircraft", len(cfg.Fleet.Aircraft)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open storage", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	declared := make([]fleet.Aircraft, 0, len(cfg.Fleet.Aircraft))
	for _, a := range cfg.Fleet.Aircraft {
		declared = append(declared, fleet.Aircraft{ICAO24: a.ICAO24, TailNumber: a.TailNumber})
	}
	aircraft, err := store.EnsureAircraft(ctx, declared)
	if err != nil {
		log.Error("Failed to register fleet", logger.Error(err))
		os.Exit(1)
	}

	resolver, err := loadAirports(cfg.Events.AirportsPath)
	if err != nil {
		log.Error("Failed to load airports", logger.Error(err))
		os.Exit(1)
	}

	// Feeds
	primary := adsb.NewOpenSkyClient(
		cfg.Sources.OpenSkyURL,
		cfg.Sources.OpenSkyCredentials,
		time.Duration(cfg.Sources.OpenSkyTimeoutSecs)*time.Second,
		log,
	)
	var secondary adsb.Adapter
	if !cfg.Sources.DisableSecondary {
		secondary = adsb.NewADSBOneClient(
			cfg.Sources.ADSBOneURL,
			time.Duration(cfg.Sources.ADSBOneTimeoutSecs)*time.Second,
			time.Duration(cfg.Sources.ADSBOnePauseMs)*time.Millisecond,
			log,
		)
	}
	aggregator := adsb.NewAggregator(primary, secondary, log)

	// Notifications
	wsServer := websocket.NewServer(log)
	go wsServer.Run(ctx)

	dispatcher := notify.NewDispatcher(notify.Formatter{
		TrackingURL: cfg.Events.TrackingURL,
		Location:    cfg.Location(),
	}, time.Duration(cfg.Notify.TimeoutSecs)*time.Second, log)
	dispatcher.AddPublisher(wsServer)

	if tg := cfg.Notify.Telegram; tg.Enabled {
		dispatcher.AddText(notify.NewTelegramSink(tg.APIURL, tg.Token, tg.ChatID, time.Duration(cfg.Notify.TimeoutSecs)*time.Second))
	}
	if nc := cfg.Notify.NATS; nc.Enabled {
		pub, err := notify.NewNATSPublisher(nc.URL, nc.Subject, time.Duration(cfg.Notify.TimeoutSecs)*time.Second)
		if err != nil {
			// a broker outage at boot should not stop tracking
			log.Warn("NATS publisher disabled", logger.Error(err), logger.String("url", nc.URL))
		} else {
			dispatcher.AddPublisher(pub)
		}
	}
	if kc := cfg.Notify.Kafka; kc.Enabled {
		dispatcher.AddPublisher(notify.NewKafkaPublisher(kc.Brokers, kc.Topic))
	}
	log.Info("Notification sinks ready", logger.Any("sinks", dispatcher.Sinks()))

	// Detection
	tracker := presence.NewTracker(presence.Config{
		LandingGrace:      time.Duration(cfg.Presence.LandingGraceSecs) * time.Second,
		AppearedThreshold: time.Duration(cfg.Presence.AppearedThresholdSec) * time.Second,
		GroundAltitudeM:   cfg.Presence.GroundAltitudeM,
		GroundAltitudeFt:  cfg.Presence.GroundAltitudeFt,
		GroundSpeedKmh:    cfg.Presence.GroundSpeedKmh,
		EmergencySquawks:  cfg.Presence.EmergencySquawks,
	}, aircraft, log)

	gate := events.NewGate(events.Config{
		DedupWindow:     time.Duration(cfg.Events.DedupWindowSecs) * time.Second,
		LandingLookback: time.Duration(cfg.Events.LandingLookbackSecs) * time.Second,
		AirportRadiusKm: cfg.Events.AirportRadiusKm,
	}, store, resolver, dispatcher, log)

	monitorService := monitor.NewService(cfg.PollInterval(), tracker, aggregator, store, gate, log)
	if err := monitorService.Start(ctx); err != nil {
		log.Error("Failed to start monitor", logger.Error(err))
		os.Exit(1)
	}

	// Read side
	replayEngine := replay.NewEngine(replay.Config{
		FeedSize:    cfg.Replay.FeedSize,
		MaxSpan:     time.Duration(cfg.Replay.MaxSpanHours) * time.Hour,
		MinStep:     cfg.Replay.MinStepSeconds,
		MaxStep:     cfg.Replay.MaxStepSeconds,
		DefaultStep: cfg.Replay.DefaultStepSec,
	}, store, log)

	forecastEngine := forecast.NewEngine(forecast.Config{
		Location:   cfg.Location(),
		WindowDays: cfg.Forecast.WindowDays,
		RecentDays: cfg.Forecast.RecentDays,
	}, store, log)

	analyticsService := analytics.NewService(store)

	var readCache *cache.RedisCache
	if cc := cfg.Cache; cc.Enabled {
		readCache, err = cache.NewRedisCache(ctx, cache.Config{
			Addr:         cc.Addr,
			Password:     cc.Password,
			DB:           cc.DB,
			ForecastTTL:  time.Duration(cc.ForecastTTLS) * time.Second,
			SnapshotTTL:  time.Duration(cc.SnapshotTTLS) * time.Second,
			ImmutableAge: time.Duration(cc.ImmutableAgeS) * time.Second,
		}, log)
		if err != nil {
			log.Warn("Read cache disabled", logger.Error(err), logger.String("addr", cc.Addr))
			readCache = nil
		}
	}
	defer readCache.Close()

	handler := api.NewHandler(replayEngine, forecastEngine, analyticsService, monitorService, store, readCache, log)

	var static http.Handler
	if cfg.Server.StaticDir != "" {
		static = api.NewStaticFileHandler(cfg.Server.StaticDir, log)
	}
	router := api.NewRouter(handler, wsServer.HandleConnection, static,
		time.Duration(cfg.Server.WriteTimeoutSecs)*time.Second, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Poller first so no new events are produced, then drain the sinks
	monitorService.Stop()
	if err := dispatcher.Close(); err != nil {
		log.Warn("Failed to close notification sinks", logger.Error(err))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", logger.Error(err))
	}

	log.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return postgres.Open(ctx, postgres.Config{
			URL:         cfg.Storage.PostgresURL,
			MaxConns:    cfg.Storage.MaxConns,
			ConnTimeout: time.Duration(cfg.Storage.ConnTimeoutS) * time.Second,
		}, log)
	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.NewStore(cfg.Storage.SQLitePath, log)
	}
}

func loadAirports(path string) (*airports.Resolver, error) {
	if path == "" {
		return airports.Default()
	}
	return airports.Load(path)
}
