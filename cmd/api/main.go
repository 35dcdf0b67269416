package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/samirrijal/flyover/internal/adapters/gazetteer"
	"github.com/samirrijal/flyover/internal/adapters/geocoder"
	"github.com/samirrijal/flyover/internal/adapters/http"
	"github.com/samirrijal/flyover/internal/adapters/hub"
	natsadapter "github.com/samirrijal/flyover/internal/adapters/nats"
	"github.com/samirrijal/flyover/internal/adapters/panorama"
	"github.com/samirrijal/flyover/internal/adapters/postgres"
	"github.com/samirrijal/flyover/internal/adapters/valkey"
	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/core/ports"
	"github.com/samirrijal/flyover/internal/core/usecases"
	"github.com/samirrijal/flyover/internal/pkg/config"
	"github.com/samirrijal/flyover/internal/pkg/logging"
	"github.com/samirrijal/flyover/internal/pkg/metrics"
	"github.com/samirrijal/flyover/internal/pkg/telemetry"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	cfg, err := config.Load("flyover-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup("flyover-api", os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database (required only for the postgres gazetteer)
	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		if cfg.Gazetteer.Source == "postgres" {
			log.Fatalf("database: %v", err)
		}
		slog.Warn("database unavailable", "error", err)
		db = nil
	} else {
		defer db.Close()
		go reportPoolStats(ctx, db)
	}

	// Gazetteer
	places, err := loadPlaces(ctx, cfg.Gazetteer, db)
	if err != nil {
		log.Fatalf("gazetteer: %v", err)
	}
	gaz := gazetteer.NewMemory(places)
	slog.Info("gazetteer loaded", "source", cfg.Gazetteer.Source, "places", gaz.Len())

	// Cache
	var geocodeCache ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
		cache = nil
	} else {
		defer cache.Close()
		geocodeCache = cache
	}

	// Events: JetStream when NATS is reachable, in-process hub otherwise
	var (
		publisher  ports.EventPublisher
		subscriber ports.EventSubscriber
	)
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, using in-process event hub", "error", err)
		h := hub.New()
		publisher, subscriber = h, h
	} else {
		defer pub.Close()
		sub, err := natsadapter.NewSubscriber(pub.Conn())
		if err != nil {
			log.Fatalf("nats subscriber: %v", err)
		}
		publisher, subscriber = pub, sub
	}

	// Remote services
	geo := geocoder.New(cfg.Geocoder.URL, cfg.Geocoder.APIKey, cfg.Geocoder.Timeout)
	pano := panorama.New(cfg.Panorama.URL, cfg.Panorama.APIKey, cfg.Panorama.Timeout)

	// Use cases
	resolver := usecases.NewResolver(gaz, geo, geocodeCache, usecases.ResolverConfigFrom(cfg.Flyover, cfg.Geocoder.CacheTTL))
	flyovers := usecases.NewFlyoverService(resolver, pano, publisher, cfg.Flyover, cfg.Panorama)
	defer flyovers.CloseAll()
	go sweepSessions(ctx, flyovers, cfg.Flyover.SessionTTL)

	deps := &http.Dependencies{
		Flyovers:  flyovers,
		Gazetteer: gaz,
		Events:    subscriber,
		DB:        db,
		Cache:     cache,
	}
	if pub != nil {
		deps.NATS = pub.Conn()
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Flyover API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// loadPlaces reads the gazetteer from its configured source.
func loadPlaces(ctx context.Context, cfg config.GazetteerConfig, db *postgres.DB) ([]domain.Place, error) {
	if cfg.Source == "postgres" {
		return postgres.NewPlaceRepo(db).List(ctx)
	}
	return gazetteer.LoadFile(cfg.Path)
}

// sweepSessions closes sessions idle for longer than ttl.
func sweepSessions(ctx context.Context, svc *usecases.FlyoverService, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := svc.Sweep(now); n > 0 {
				slog.Info("expired flyover sessions closed", "count", n)
			}
		}
	}
}

// reportPoolStats exports database pool gauges every 15s.
func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Pool.Stat())
		}
	}
}
