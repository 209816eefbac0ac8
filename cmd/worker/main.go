package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsadapter "github.com/samirrijal/nearchat/internal/adapters/nats"
	"github.com/samirrijal/nearchat/internal/adapters/postgres"
	"github.com/samirrijal/nearchat/internal/adapters/valkey"
	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/core/usecases"
	"github.com/samirrijal/nearchat/internal/pkg/config"
	"github.com/samirrijal/nearchat/internal/pkg/logging"
	"github.com/samirrijal/nearchat/internal/pkg/obfuscate"
	"github.com/samirrijal/nearchat/internal/pkg/telemetry"
)

// The worker removes the live location of every deleted account.
func main() {
	cfg, err := config.Load("nearchat-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Location.StoreDriver == config.StoreDriverMemory {
		log.Fatal("worker requires the external store driver")
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format).With("component", "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			logger.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	client, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		log.Fatalf("valkey: %v", err)
	}
	defer client.Close()

	opts := []usecases.LocationOption{
		usecases.WithTTL(cfg.Location.DefaultTTLSeconds),
		usecases.WithLogger(logger),
	}
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		logger.Warn("nats publisher unavailable, removal events disabled", "error", err)
	} else {
		defer pub.Close()
		opts = append(opts, usecases.WithPublisher(pub))
	}

	locations := usecases.NewLocationService(
		usecases.NewLocationRepository(valkey.NewGeoIndex(client, valkey.ScanIndexed), cfg.Location.MaxTTLSeconds),
		postgres.NewProfileRepo(db),
		obfuscate.New(cfg.Location.ObfuscationSalt, cfg.Location.ObfuscationRangeDeg),
		opts...,
	)

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer sub.Close()

	// Handlers get a bounded context so a stuck store turns into a Nak and a
	// redelivery instead of a wedged consumer.
	err = sub.SubscribeAccountDeleted(ctx, func(ctx context.Context, ev *domain.AccountEvent) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return locations.HandleAccountDeleted(ctx, ev)
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	logger.Info("worker started", "subjects", natsadapter.AccountDeletedSubjects)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down worker", "signal", sig.String())
}
