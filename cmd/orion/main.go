package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/radiusdt/orion-attribution/internal/config"
	"github.com/radiusdt/orion-attribution/internal/database"
	"github.com/radiusdt/orion-attribution/internal/httpserver"
	"github.com/radiusdt/orion-attribution/internal/metrics"
	"github.com/radiusdt/orion-attribution/internal/middleware"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	format := cfg.Log.Format
	if cfg.IsDevelopment() && os.Getenv("ORION_LOG_FORMAT") == "" {
		format = "console"
	}
	logger, err := middleware.NewLogger(cfg.Log.Level, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting orion attribution service",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("orion", reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := &httpserver.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	}

	if cfg.Database.Enabled {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		db, err := database.NewPostgresDB(connCtx, cfg.Database, logger)
		cancel()
		if err != nil {
			logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		} else {
			defer db.Close()
			deps.DB = db
			go db.WatchStats(ctx, m, 15*time.Second)
		}
	}

	if cfg.ClickHouse.Enabled {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ch, err := database.NewClickHouseDB(connCtx, cfg.ClickHouse, logger)
		cancel()
		if err != nil {
			logger.Warn("ClickHouse not available, reading visits from primary store", zap.Error(err))
		} else {
			defer ch.Close()
			deps.ClickHouse = ch
		}
	}

	if cfg.Cache.Enabled {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err := database.NewRedisDB(connCtx, cfg.Redis, logger)
		cancel()
		if err != nil {
			logger.Warn("Redis not available, reference cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			deps.Redis = rdb
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpserver.NewServer(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
