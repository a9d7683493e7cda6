package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dandantas/tabwatch/internal/app"
	"github.com/dandantas/tabwatch/internal/bus"
	"github.com/dandantas/tabwatch/internal/config"
	"github.com/dandantas/tabwatch/internal/coordinator"
	"github.com/dandantas/tabwatch/internal/database"
	"github.com/dandantas/tabwatch/internal/handler"
	"github.com/dandantas/tabwatch/internal/poller"
	"github.com/dandantas/tabwatch/internal/recovery"
	"github.com/dandantas/tabwatch/internal/scheduler"
	"github.com/dandantas/tabwatch/internal/session"
	"github.com/dandantas/tabwatch/internal/statusclient"
	"github.com/dandantas/tabwatch/internal/watcher"
	"github.com/dandantas/tabwatch/pkg/middleware"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := config.InitLogger(cfg)

	appSession, err := app.Init(time.Now())
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting tabwatch", "version", version, "app_session", appSession.ID)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handler.HealthCheck{}

	// Connect to Redis when either the store or the bus lives there
	var rdb *redis.Client
	if cfg.StoreBackend == "redis" || cfg.BusBackend == "redis" {
		rdb, err = database.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				slog.Error("Failed to close Redis client", "error", err)
			}
		}()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Session store backend
	var backend session.Backend
	switch cfg.StoreBackend {
	case "redis":
		backend = database.NewRedisKV(rdb)
	case "mongo":
		db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
		if err != nil {
			slog.Error("Failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := db.Disconnect(context.Background()); err != nil {
				slog.Error("Failed to disconnect from MongoDB", "error", err)
			}
		}()

		if err := database.CreateIndexes(ctx, db.Sessions()); err != nil {
			slog.Error("Failed to create indexes", "error", err)
			os.Exit(1)
		}
		backend = database.NewMongoKV(db.Sessions())
		checks["mongodb"] = db.Ping
	default:
		backend = session.NewMemoryBackend()
	}

	store := session.NewStore(backend,
		session.WithTTL(cfg.SessionTTL),
		session.WithPrefix(cfg.KeyPrefix),
		session.WithLogger(logger),
	)

	// Broadcast bus; without one every watcher polls on its own
	var b bus.Bus
	switch cfg.BusBackend {
	case "redis":
		b = bus.NewRedisBus(rdb, cfg.KeyPrefix)
	case "memory":
		b = bus.NewMemoryBus()
	}

	// Status API client and watchers
	statusClient := statusclient.NewClient(cfg.StatusAPIBaseURL, cfg.StatusAPITimeout, cfg.Retry,
		statusclient.WithLogger(logger),
	)
	tracker := poller.NewSlogTracker(logger.With("app_session", appSession.ID))

	watchers := watcher.NewManager(store, b, statusClient,
		watcher.WithLogger(logger),
		watcher.WithTracker(tracker),
		watcher.WithPollerOptions(
			poller.WithInterval(cfg.PollInterval),
			poller.WithSampleRate(cfg.PollSampleRate),
		),
		watcher.WithCoordinatorOptions(
			coordinator.WithChannelName(cfg.ChannelName),
			coordinator.WithTimings(coordinator.Timings{
				ClaimTimeout:      cfg.ClaimTimeout,
				HeartbeatInterval: cfg.HeartbeatEvery,
				HeartbeatTimeout:  cfg.HeartbeatTimeout,
				ElectionCheck:     cfg.ElectionCheck,
				ResignReclaim:     coordinator.DefaultTimings().ResignReclaim,
			}),
		),
	)

	// Session recovery runs once at load, then the sweep keeps going
	recoveryController := recovery.NewController(store, logger)
	recoveryController.Run(ctx)

	// Watchers go after sessions so followers of swept jobs stop too
	sweeper, err := scheduler.NewSweeper(cfg.SweepSchedule, recoveryController, watchers)
	if err != nil {
		slog.Error("Failed to create session sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start(ctx)

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(store, recoveryController, watchers, logger)
	jobHandler := handler.NewJobHandler(store, watchers)
	healthHandler := handler.NewHealthHandler(version, checks)

	// Create CORS config
	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}

	router := handler.NewRouter(sessionHandler, jobHandler, healthHandler, corsConfig, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Resign leadership so another instance takes over polling right away
	slog.Info("Closing job watchers...", "count", watchers.Len())
	watchers.Close()

	sweeper.Stop(shutdownCtx)

	slog.Info("tabwatch stopped", "uptime", appSession.Uptime(time.Now()).String())
}
