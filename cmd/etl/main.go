package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/cps-immigrant-etl/internal/adapter/cache"
	"github.com/couchcryptid/cps-immigrant-etl/internal/adapter/census"
	"github.com/couchcryptid/cps-immigrant-etl/internal/adapter/geo"
	httpadapter "github.com/couchcryptid/cps-immigrant-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/cps-immigrant-etl/internal/adapter/kafka"
	"github.com/couchcryptid/cps-immigrant-etl/internal/config"
	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
	"github.com/couchcryptid/cps-immigrant-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with errors", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	client := census.NewClient(census.Options{
		BaseURL:      cfg.CensusBaseURL,
		APIKey:       cfg.CensusAPIKey,
		Timeout:      cfg.CensusTimeout,
		RateLimit:    cfg.CensusRateLimit,
		MaxRetries:   cfg.CensusMaxRetries,
		RetryBackoff: cfg.CensusRetryBackoff,
	}, metrics, logger)

	p := pipeline.New(client, client, geo.File(cfg.GeoReferencePath), clock, metrics, logger)
	store := cache.NewStore(cfg.CacheDir, clock, logger)
	gateway := pipeline.NewGateway(p, store, metrics, logger)

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, metrics, logger)
		logger.Info("dataset publishing enabled", "topic", cfg.KafkaTopic, "batch_size", cfg.KafkaBatchSize)
	} else {
		logger.Info("dataset publishing disabled")
	}

	snapshots := pipeline.NewSnapshotHolder(metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, snapshots, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fatal := make(chan error, 2)

	// Start HTTP server. Query routes answer 503 until the snapshot is stored.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Build or load the dataset once.
	go func() {
		r := domain.YearRange{From: cfg.FromYear, To: cfg.ToYear}
		snap, err := pipeline.LoadSnapshot(ctx, gateway, clock, r, cfg.Month)
		if err != nil {
			if ctx.Err() == nil {
				fatal <- err
			}
			return
		}
		snapshots.Store(snap)
		logger.Info("dataset ready", "rows", len(snap.Dataset), "summary_rows", len(snap.Summary))

		if publisher != nil {
			if _, err := publisher.PublishDataset(ctx, snap.Dataset); err != nil {
				logger.Error("dataset publish failed", "error", err)
			}
		}
	}()

	var errs *multierror.Error
	select {
	case <-ctx.Done():
	case err := <-fatal:
		errs = multierror.Append(errs, err)
		stop()
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("kafka publisher close: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
