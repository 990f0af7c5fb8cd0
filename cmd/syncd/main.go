package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Wing9897/StockenBoard-sub000/internal/config"
	"github.com/Wing9897/StockenBoard-sub000/internal/database"
	"github.com/Wing9897/StockenBoard-sub000/internal/feed"
	"github.com/Wing9897/StockenBoard-sub000/internal/history"
	"github.com/Wing9897/StockenBoard-sub000/internal/pricecache"
	"github.com/Wing9897/StockenBoard-sub000/internal/scheduler"
	"github.com/Wing9897/StockenBoard-sub000/internal/server"
	"github.com/Wing9897/StockenBoard-sub000/internal/store"
	"github.com/Wing9897/StockenBoard-sub000/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed_url", cfg.Feed.BaseURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	registry := store.New(pool, logger)
	if err := registry.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	client := feed.NewClient(
		cfg.Feed.BaseURL,
		feed.WithAPIKey(cfg.Feed.APIKey),
		feed.WithTimeout(cfg.Feed.Timeout),
		feed.WithRetries(cfg.Feed.MaxRetries, time.Second),
		feed.WithLogger(logger),
	)

	var streamer feed.Streamer
	if cfg.Feed.WSURL != "" {
		streamCfg := feed.DefaultStreamConfig(cfg.Feed.WSURL)
		streamCfg.APIKey = cfg.Feed.APIKey
		streamCfg.PingInterval = cfg.Feed.PingInterval
		streamCfg.MaxReconnectWait = cfg.Feed.ReconnectMaxDelay
		streamCfg.BufferSize = cfg.Feed.StreamBufferSize
		streamer = feed.NewStreamClient(streamCfg, logger)
	} else {
		logger.Warn("no feed.ws_url configured, streaming sources will poll")
	}

	cache := pricecache.New(logger)

	var recorder *history.Recorder
	var engineRecorder scheduler.Recorder
	if cfg.History.Enabled {
		recorder = history.New(history.Config{
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
			BufferSize:    cfg.History.BufferSize,
			DedupWindow:   cfg.History.DedupWindow,
		}, pool, registry, logger)
		if err := recorder.Start(ctx); err != nil {
			logger.Error("failed to start history recorder", "error", err)
			os.Exit(1)
		}
		engineRecorder = recorder
	}

	engine := scheduler.New(
		scheduler.Config{FetchTimeout: cfg.Scheduler.FetchTimeout},
		registry, client, streamer, cache, engineRecorder, logger,
	)
	if cfg.Scheduler.Unattended {
		// Set before Start so the first rebuild already polls everything.
		if err := engine.SetUnattended(ctx, true); err != nil {
			logger.Error("failed to enable unattended mode", "error", err)
			os.Exit(1)
		}
	}
	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start sync engine", "error", err)
		os.Exit(1)
	}

	httpServer := server.New(
		server.Config{Port: cfg.Server.Port},
		cache, engine, registry, client, logger,
	)
	if err := httpServer.Start(ctx); err != nil {
		logger.Error("failed to start http server", "error", err)
		os.Exit(1)
	}

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"api_port", cfg.Server.Port,
	)

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", "error", err)
	}
	if streamer != nil {
		if err := streamer.Close(); err != nil {
			logger.Warn("stream client shutdown", "error", err)
		}
	}
	if recorder != nil {
		if err := recorder.Stop(shutdownCtx); err != nil {
			logger.Warn("history recorder shutdown", "error", err)
		}
	}

	logger.Info("syncd stopped")
}
