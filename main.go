package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"campuswell/internal/api"
	"campuswell/internal/auth"
	"campuswell/internal/chat"
	"campuswell/internal/config"
	"campuswell/internal/hub"
	"campuswell/internal/redis"
	"campuswell/internal/service/peer"
	"campuswell/internal/storage"
	"campuswell/internal/worker"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env failed", "err", err)
	}

	cfgPath := os.Getenv("CAMPUSWELL_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal("load config", err)
	}

	var level slog.Level
	if cfg.BasicConfig.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.BasicConfig.LogLevel)); err != nil {
			fatal("parse log level", err)
		}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	dbType := os.Getenv("CAMPUSWELL_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", "dbType", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		fatal("open database", err)
	}

	// Create necessary tables: users, peer_rooms, peer_messages, audit_logs
	if err := storage.Migrate(db, dbType); err != nil {
		fatal("migrate database", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			fatal("create redis client", err)
		}
	}

	peerService, err := peer.NewService(db, dbType, rdb, time.Duration(cfg.Redis.RoomCacheTTL)*time.Second)
	if err != nil {
		fatal("init peer service", err)
	}
	if cfg.BasicConfig.SeedRooms {
		created, err := peerService.SeedRooms(context.Background())
		if err != nil {
			fatal("seed rooms", err)
		}
		logger.Info("rooms seeded", "created", created)
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTL)*time.Minute)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	})
	registry := hub.NewRegistry()
	pipeline := chat.NewPipeline(chat.PipelineDeps{
		Rooms:     peerService,
		Messages:  peerService,
		Audit:     peerService,
		Publisher: peerService,
		Jobs:      dispatcher,
		Registry:  registry,
		Logger:    logger,
	})
	sessions := chat.NewManager(authService, peerService, pipeline, registry, chat.ManagerConfig{
		MessagesPerSecond: cfg.Realtime.MessagesPerSecond,
		Burst:             cfg.Realtime.Burst,
	}, logger)

	handlers := api.NewHandler(peerService, authService, sessions, cfg)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: router,
	}
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server stopped", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			// one operation so the teardown order holds: stop accepting,
			// drop sockets, drain follow-up jobs, then close stores
			"campuswell": func(ctx context.Context) error {
				var errs []error
				if err := srv.Shutdown(ctx); err != nil {
					errs = append(errs, err)
				}
				sessions.Shutdown()
				if err := dispatcher.Stop(ctx); err != nil {
					errs = append(errs, err)
				}
				if rdb != nil {
					if err := rdb.Close(); err != nil {
						errs = append(errs, err)
					}
				}
				if err := db.Close(); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			},
		},
	)
	exitCode := <-wait
	logger.Info("exited", "code", exitCode)
	os.Exit(exitCode)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
