package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/locations/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/locations/internal/adapter/kafka"
	"github.com/couchcryptid/locations/internal/adapter/memstore"
	"github.com/couchcryptid/locations/internal/adapter/postgres"
	"github.com/couchcryptid/locations/internal/adapter/providers"
	"github.com/couchcryptid/locations/internal/config"
	"github.com/couchcryptid/locations/internal/domain"
	"github.com/couchcryptid/locations/internal/geocode"
	"github.com/couchcryptid/locations/internal/locations"
	"github.com/couchcryptid/locations/internal/maplist"
	"github.com/couchcryptid/locations/internal/observability"
	"github.com/couchcryptid/locations/internal/pipeline"
)

// store is everything the service needs from persistence.
type store interface {
	locations.Store
	pipeline.Upserter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	ready := observability.NewReady()

	// Geocoding: every provider registered, the configured one activated.
	registry, err := providers.NewRegistry(cfg)
	if err != nil {
		logger.Error("failed to register geocoding providers", "error", err)
		os.Exit(1)
	}
	geocoder, err := geocode.NewService(registry, geocode.Options{
		DefaultProvider: config.DefaultProvider,
		Timeout:         cfg.GeocodeTimeout,
		CacheTTL:        cfg.GeocodeCacheTTL,
		CacheSize:       cfg.GeocodeCacheSize,
	}, metrics, logger)
	if err != nil {
		logger.Error("failed to create geocode service", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := geocoder.SetProvider(ctx, cfg.GeocodingProvider); err != nil {
		logger.Warn("configured geocoding provider unavailable, using default",
			"requested", cfg.GeocodingProvider, "active", geocoder.Active(), "error", err)
	}
	logger.Info("geocoding ready", "provider", geocoder.Active(), "available", geocoder.Providers())

	// Persistence.
	st, db, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	// Location events.
	var publisher locations.Publisher = locations.LogPublisher{Logger: logger}
	var writer *kafkaadapter.Writer
	if len(cfg.KafkaBrokers) > 0 {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("location events enabled", "topic", cfg.KafkaLocationTopic)
	} else {
		logger.Info("no kafka brokers configured, location events are only logged")
	}
	lifecycle := locations.NewService(st, publisher, metrics, logger)

	// Map list filters are registered before the ready signal and frozen by it.
	filters := maplist.NewRegistry()
	if err := maplist.RegisterDefaults(filters); err != nil {
		logger.Error("failed to register map filters", "error", err)
		os.Exit(1)
	}
	builder := maplist.NewBuilder(filters, st, cfg.MapPerPage, metrics, logger)

	ready.OnReady(filters.Seal)
	ready.OnReady(func() { lifecycle.AnnounceReady(ctx) })

	api := httpadapter.NewHandler(httpadapter.HandlerDeps{
		Geocoder:           geocoder,
		Locations:          lifecycle,
		Map:                builder,
		Countries:          domain.Countries(),
		FilterClosedGlobal: cfg.MapFilterClosed,
		Logger:             logger,
	})
	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, api, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Host change ingest keeps the topic store in step with the forum.
	var reader *kafkaadapter.Reader
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaIngestTopic != "" {
		reader = kafkaadapter.NewReader(cfg, logger)
		p := pipeline.New(reader, pipeline.NewTransformer(logger), pipeline.NewStoreLoader(st), logger, metrics, cfg.BatchSize)
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("ingest pipeline error", "error", err)
			}
		}()
	}

	ready.Fire()
	logger.Info("location system ready", "countries", domain.Countries().Len(), "map_filters", len(filters.Filters()))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// openStore selects postgres when DATABASE_URL is set, migrating it first,
// and the in-memory store otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (store, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no DATABASE_URL configured, using in-memory store")
		return memstore.New(), nil, nil
	}
	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		return nil, nil, err
	}
	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("postgres store ready")
	return postgres.NewStore(db), db, nil
}
