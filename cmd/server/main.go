// Package main is the entry point for the Skopos market analysis service.
// It serves OHLCV data, regime detection and multi-timeframe context over
// HTTP, backed by a Redis candle cache that is kept warm by a scheduled
// watchlist job and a live kline stream.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avramidis/skopos/internal/config"
	"github.com/avramidis/skopos/internal/di"
	"github.com/avramidis/skopos/internal/server"
	"github.com/avramidis/skopos/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().Msg("Starting Skopos")

	// Wire all dependencies: Redis cache, market data providers, analysis
	// engines, scheduler and stream. Fails fast when the cache is enabled
	// but Redis is unreachable.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background services: stats restore, cache feed, scheduler and
	// the kline stream. A stream that cannot connect keeps retrying on its
	// own, so startup never blocks on the exchange.
	container.Start(ctx)

	srv := server.New(server.Config{
		Log:         log,
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		Container:   container,
	})

	// Start server in goroutine so the main goroutine can wait for signals.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Drain in-flight requests first, then stop the background services and
	// flush cache stats so hit counters survive the restart.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := container.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Dependency shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
