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

	"github.com/samirrijal/nearchat/internal/adapters/http"
	"github.com/samirrijal/nearchat/internal/adapters/memory"
	natsadapter "github.com/samirrijal/nearchat/internal/adapters/nats"
	"github.com/samirrijal/nearchat/internal/adapters/postgres"
	"github.com/samirrijal/nearchat/internal/adapters/valkey"
	"github.com/samirrijal/nearchat/internal/core/ports"
	"github.com/samirrijal/nearchat/internal/core/usecases"
	"github.com/samirrijal/nearchat/internal/pkg/config"
	"github.com/samirrijal/nearchat/internal/pkg/logging"
	"github.com/samirrijal/nearchat/internal/pkg/obfuscate"
	"github.com/samirrijal/nearchat/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("nearchat-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

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

	deps := &http.Dependencies{}

	var (
		geo      ports.GeoIndexStore
		profiles ports.ProfileRepository
		sessions ports.SessionStore
	)

	switch cfg.Location.StoreDriver {
	case config.StoreDriverMemory:
		slog.Warn("memory store driver: locations are lost on restart and sessions are never checked for revocation")
		repo := memory.NewProfileRepo()
		if path := cfg.Location.MemoryProfiles; path != "" {
			n, err := loadProfiles(repo, path)
			if err != nil {
				log.Fatalf("memory profiles: %v", err)
			}
			slog.Info("memory profiles loaded", "count", n, "path", path)
		}
		geo, profiles, sessions = memory.NewGeoIndex(), repo, memory.NewSessions()

	default:
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		go db.ReportPoolStats(ctx, 15*time.Second)

		client, err := valkey.New(cfg.Valkey.Addr)
		if err != nil {
			log.Fatalf("valkey: %v", err)
		}
		defer client.Close()

		mode := valkey.ScanIndexed
		if cfg.Location.ScanMode == config.ScanModeLinear {
			mode = valkey.ScanLinear
		}
		geo = valkey.NewGeoIndex(client, mode)
		profiles = postgres.NewProfileRepo(db)
		sessions = valkey.NewSessions(client)
		deps.DB, deps.Valkey = db, client
	}

	opts := []usecases.LocationOption{
		usecases.WithTTL(cfg.Location.DefaultTTLSeconds),
		usecases.WithSource(cfg.Location.Source),
		usecases.WithLogger(logging.Component("location")),
	}

	// NATS: location events are best effort, the API runs without them.
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, location events disabled", "error", err)
	} else {
		defer pub.Close()
		opts = append(opts, usecases.WithPublisher(pub))
		deps.NATS = pub.Conn()
	}

	deps.Locations = usecases.NewLocationService(
		usecases.NewLocationRepository(geo, cfg.Location.MaxTTLSeconds),
		profiles,
		obfuscate.New(cfg.Location.ObfuscationSalt, cfg.Location.ObfuscationRangeDeg),
		opts...,
	)
	deps.Auth = usecases.NewSessionService(sessions, cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    64 * 1024,
		AppName:      "nearchat location API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "store_driver", cfg.Location.StoreDriver, "scan_mode", cfg.Location.ScanMode)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func loadProfiles(repo *memory.ProfileRepo, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return repo.Load(f)
}
