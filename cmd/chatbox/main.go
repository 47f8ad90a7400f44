package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/segmentio/ksuid"

	"github.com/manhdua1/chat-box-v2/internal/ai"
	"github.com/manhdua1/chat-box-v2/internal/auth"
	"github.com/manhdua1/chat-box-v2/internal/broadcast"
	"github.com/manhdua1/chat-box-v2/internal/call"
	"github.com/manhdua1/chat-box-v2/internal/otelutil"
	"github.com/manhdua1/chat-box-v2/internal/pubsub"
	"github.com/manhdua1/chat-box-v2/internal/registry"
	"github.com/manhdua1/chat-box-v2/internal/rooms"
	"github.com/manhdua1/chat-box-v2/internal/router"
	"github.com/manhdua1/chat-box-v2/internal/server"
	"github.com/manhdua1/chat-box-v2/internal/store"
	"github.com/manhdua1/chat-box-v2/internal/upload"
	"github.com/manhdua1/chat-box-v2/pkg/config"
	"github.com/manhdua1/chat-box-v2/pkg/logging"
)

func main() {
	bootLogger := logging.New(logging.LevelInfo)

	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	if err := otelutil.Init(); err != nil {
		logger.Info("Tracing disabled", slog.Any("reason", err))
	}
	defer otelutil.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := store.Open(cfg.Storage.DSN)
	if err != nil {
		logger.Error("Failed to open store", slog.Any("error", err))
		os.Exit(1)
	}

	var broker pubsub.Broker
	if cfg.Broker.RedisAddr != "" {
		redisBroker, err := pubsub.NewRedisBroker(ctx, cfg.Broker.RedisAddr, logger)
		if err != nil {
			logger.Error("Failed to connect broker", slog.Any("error", err))
			os.Exit(1)
		}
		broker = redisBroker
	} else {
		broker = pubsub.NewMemoryBroker(logger)
	}
	defer broker.Close()

	reg := registry.New(logger)
	dir := rooms.NewDirectory(st, logger)
	bcast := broadcast.New(reg, dir, logger)

	authMgr := auth.NewManager(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)
	uploads := upload.NewManager(upload.Config{
		Dir:           cfg.Upload.Dir,
		TempDir:       cfg.Upload.TempDir,
		MaxFileSize:   cfg.Upload.MaxFileSize,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}, bcast, st, logger)

	pool := ai.NewPool(
		ai.NewGeminiClient(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.Timeout),
		bcast.SendToConnection,
		cfg.AI.Workers,
		cfg.AI.Workers*4,
		logger,
	)
	pool.Start(ctx)

	nodeID := "node-" + ksuid.New().String()
	calls := call.NewManager(bcast.SendToUser, pubsub.OriginPublisher{Broker: broker, Origin: nodeID}, logger)

	rt := router.New(router.Deps{
		Registry:    reg,
		Broadcaster: bcast,
		Directory:   dir,
		Calls:       calls,
		Uploads:     uploads,
		Auth:        authMgr,
		Store:       st,
		AI:          pool,
		Broker:      broker,
		Logger:      logger,
		NodeID:      nodeID,
	})

	if err := rt.BindBroker(ctx); err != nil {
		logger.Error("Failed to bind broker subscriptions", slog.Any("error", err))
		os.Exit(1)
	}

	app := server.NewApp(ctx, logger, cfg, reg, rt)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	pool.Wait()
	logger.Info("Application shut down successfully.")
}
