package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/agroclimate-severity-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/agroclimate-severity-service/internal/adapter/kafka"
	"github.com/couchcryptid/agroclimate-severity-service/internal/adapter/stiapi"
	"github.com/couchcryptid/agroclimate-severity-service/internal/config"
	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/observability"
	"github.com/couchcryptid/agroclimate-severity-service/internal/pipeline"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Grid source for the heatmap API: the live STI API behind a cache, or
	// the synthetic source when STI_API_URL is unset.
	var source domain.GridSource
	if cfg.UseMockSource() {
		source = stiapi.NewMockSource(nil)
		metrics.SourceMock.Set(1)
		logger.Warn("STI_API_URL not set, serving synthetic grids")
	} else {
		client := stiapi.NewClient(cfg.STIAPIURL, cfg.STIAPITimeout, metrics, logger)
		source = stiapi.NewCachedSource(client, cfg.STICacheSize, cfg.STICacheTTL, nil, metrics)
		logger.Info("sti api source enabled",
			"url", cfg.STIAPIURL,
			"timeout", cfg.STIAPITimeout,
			"cache_size", cfg.STICacheSize,
			"cache_ttl", cfg.STICacheTTL,
		)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(cfg.HeatmapMaxPoints, metrics, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, source, cfg.HeatmapMaxPoints, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return p.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service error", "error", err)
	}

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
