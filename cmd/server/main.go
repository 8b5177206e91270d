// Package main is the entry point for the rental occupancy server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"

	"github.com/rental-occupancy/backend/internal/api"
	"github.com/rental-occupancy/backend/internal/api/handlers"
	"github.com/rental-occupancy/backend/internal/calendar"
	"github.com/rental-occupancy/backend/internal/config"
	"github.com/rental-occupancy/backend/internal/homeassistant"
	"github.com/rental-occupancy/backend/internal/observability"
	"github.com/rental-occupancy/backend/internal/occupancy"
	"github.com/rental-occupancy/backend/internal/storage"
	"github.com/rental-occupancy/backend/internal/storage/models"
	"github.com/rental-occupancy/backend/internal/vacasa"
	"github.com/rental-occupancy/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	configPath := flag.String("config", "/data/config.yaml", "Config file (.yaml or .toml)")
	envFile := flag.String("env", ".env", "Optional .env file with credentials")
	addr := flag.String("addr", "", "HTTP server address (overrides config)")
	dataDir := flag.String("data", "", "Data directory (overrides config)")
	staticDir := flag.String("static", "", "Directory for static frontend files")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Listen); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	observability.InitLogger("rental-occupancy", cfg.LogLevel, cfg.LogPretty)
	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}
	log.Info().Str("version", version).Str("config", *configPath).Msg("starting rental occupancy server")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database
	db, err := storage.Open(ctx, cfg.DatabasePath())
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath()).Msg("failed to open database")
	}
	defer db.Close()
	log.Info().Str("path", db.Path()).Msg("database ready")

	propertyRepo := storage.NewPropertyRepository(db)
	eventRepo := storage.NewEventRepository(db)
	historyRepo := storage.NewOccupancyRepository(db)
	syncRunRepo := storage.NewSyncRunRepository(db)

	hub := websocket.NewHub()
	go hub.Run(ctx)

	// Vendor session and fetcher
	if err := os.MkdirAll(filepath.Dir(cfg.TokenCachePath()), 0o700); err != nil {
		log.Fatal().Err(err).Msg("failed to create token cache directory")
	}
	session := vacasa.NewSessionManager(vacasa.SessionConfig{
		Credentials: vacasa.Credentials{
			Username: cfg.Vacasa.Username,
			Password: cfg.Vacasa.Password,
		},
		OwnerID:         cfg.Vacasa.OwnerID,
		RefreshFraction: cfg.Vacasa.RefreshFraction,
		MaxAttempts:     cfg.Vacasa.MaxAttempts,
		Backoff:         cfg.Vacasa.Backoff,
		Timeout:         cfg.Vacasa.Timeout,
	}, vacasa.NewFileTokenCache(cfg.TokenCachePath()))
	client := vacasa.NewClient(session, vacasa.ClientConfig{PropertyTTL: cfg.Refresh.PropertyTTL}, propertyRepo)

	// Calendars
	fallback := cfg.Location()
	registry := calendar.NewRegistry()
	syncService := calendar.NewSyncService(
		client,
		calendar.NewSynthesizer(fallback),
		registry,
		eventRepo,
		syncRunRepo,
		calendar.Window{PastDays: cfg.Refresh.PastDays, FutureDays: cfg.Refresh.FutureDays},
	)

	if props, _, err := propertyRepo.CachedProperties(ctx); err != nil {
		log.Warn().Err(err).Msg("reading cached properties")
	} else if err := syncService.RestoreSnapshots(ctx, props); err != nil {
		log.Warn().Err(err).Msg("restoring calendar snapshots")
	}

	// Occupancy
	var publisher occupancy.Publisher
	var haChecker handlers.ConnectionChecker
	if cfg.HomeAssistant.Enabled() {
		ha := homeassistant.NewClient(cfg.HomeAssistant)
		publisher, haChecker = ha, ha
		syncService.SetPropertyPublisher(ha)
		log.Info().Bool("addon", cfg.HomeAssistant.IsAddonMode()).Msg("publishing to Home Assistant")
	}
	occupancyManager := occupancy.NewManager(registry, historyRepo, hub, publisher, occupancy.RealClock(), cfg.Occupancy, fallback)
	occupancyManager.Start()

	// Scheduler
	retention := time.Duration(cfg.Refresh.HistoryDays) * 24 * time.Hour
	scheduler := calendar.NewScheduler(syncService, hub, cfg.Refresh.IntervalHours, func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		var errs []error
		if _, err := historyRepo.Prune(ctx, cutoff); err != nil {
			errs = append(errs, err)
		}
		if _, err := syncRunRepo.Prune(ctx, cutoff); err != nil {
			errs = append(errs, err)
		}
		if _, err := propertyRepo.DeleteExpired(ctx, cutoff); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	if err := scheduler.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to start refresh scheduler")
	}

	router := api.NewRouter(api.Services{
		DB:               db,
		Hub:              hub,
		Registry:         registry,
		Occupancy:        occupancyManager,
		Session:          session,
		Cache:            client,
		Refresher:        refresher{scheduler: scheduler, occupancy: occupancyManager, events: websocket.NewEventBroadcaster(hub)},
		Scheduler:        scheduler,
		History:          historyRepo,
		SyncRuns:         syncRunRepo,
		HomeAssistant:    haChecker,
		Fallback:         fallback,
		AuthUsername:     cfg.API.Username,
		AuthPasswordHash: cfg.API.PasswordHash,
		StaticDir:        *staticDir,
	})

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Listen).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	scheduler.Stop()
	occupancyManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}

// refresher runs a manual refresh and re-evaluates occupancy afterwards,
// even when the calendars did not change.
type refresher struct {
	scheduler *calendar.Scheduler
	occupancy *occupancy.Manager
	events    *websocket.EventBroadcaster
}

func (r refresher) SyncNow(ctx context.Context) ([]models.SyncResult, error) {
	results, err := r.scheduler.SyncNow(ctx)
	r.occupancy.Refresh()
	if err == nil {
		r.events.BroadcastNotification("success", "Refresh complete",
			fmt.Sprintf("Refreshed %d properties", len(results)))
	}
	return results, err
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return nil
}
