// Package main runs the simulation sandbox service with HTTP and gRPC APIs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"backtest-sandbox/services/api"
	"backtest-sandbox/services/arrowpipeline"
	"backtest-sandbox/services/cache"
	"backtest-sandbox/services/clickhouse"
	"backtest-sandbox/services/config"
	"backtest-sandbox/services/monitoring"
	"backtest-sandbox/services/runner"
)

func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Service, error) {
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "none":
		return cache.Nop{}, nil
	default:
		return cache.NewMemoryCache(cache.WithMaxSize(cfg.MaxEntries)), nil
	}
}

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration (defaults when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting simulation sandbox",
		zap.String("version", cfg.Engine.Version),
		zap.String("environment", cfg.Environment),
	)

	ctx := context.Background()

	store, err := newCache(ctx, cfg.Cache)
	if err != nil {
		logger.Fatal("Failed to create cache", zap.String("backend", cfg.Cache.Backend), zap.Error(err))
	}
	defer store.Close()

	opts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithCache(store, cfg.Cache.TTL),
		runner.WithPipeline(arrowpipeline.NewPipeline(nil, arrowpipeline.WithCompression(cfg.Arrow.Compression))),
	}

	var metricsHandler http.Handler
	if cfg.Monitoring.Enabled {
		metrics := monitoring.NewMetrics()
		metricsHandler = metrics.Handler()
		opts = append(opts, runner.WithMetrics(metrics))
	}

	if cfg.ClickHouse.Enabled {
		archive, err := clickhouse.NewArchive(ctx, clickhouse.Config{
			Addr:        cfg.ClickHouse.Addr,
			Database:    cfg.ClickHouse.Database,
			Username:    cfg.ClickHouse.Username,
			Password:    cfg.ClickHouse.Password,
			DialTimeout: cfg.ClickHouse.DialTimeout,
		})
		if err != nil {
			logger.Fatal("Failed to create ClickHouse archive", zap.Error(err))
		}
		defer archive.Close()
		opts = append(opts, runner.WithArchive(archive))
		logger.Info("Archiving runs to ClickHouse", zap.String("addr", cfg.ClickHouse.Addr))
	}

	sim := runner.New(cfg.Engine, opts...)

	// Setup gRPC server
	grpcServer := api.NewGRPCServer(sim)

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(sim, cfg.Engine, metricsHandler, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: server.Router(cfg.Monitoring.Path),
	}

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
		}

		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("Servers stopped")
}
