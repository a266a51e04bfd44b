package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sparkchat/backend/internal/api/handler"
	"sparkchat/backend/internal/attachment"
	"sparkchat/backend/internal/calls"
	"sparkchat/backend/internal/chathub"
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/conversation"
	"sparkchat/backend/internal/localization"
	"sparkchat/backend/internal/logger"
	"sparkchat/backend/internal/matching"
	"sparkchat/backend/internal/presence"
	"sparkchat/backend/internal/quota"
	"sparkchat/backend/internal/realtime"
	"sparkchat/backend/internal/storage"
	"sparkchat/backend/internal/telegram"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func setupDependencies(ctx context.Context, cfg config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect Redis")
	}

	if err := storage.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	log.Info().Msg("database and redis connections established, migrations complete")
	return db, rdb
}

// setupNotifier returns the Telegram notifier, or nil when no bot token is configured.
func setupNotifier(cfg config.Config, s storage.Storage) (*telegram.BotService, conversation.Notifier) {
	if cfg.TelegramBotToken == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, offline notifications disabled")
		return nil, nil
	}
	l, err := localization.NewLocalizer(cfg.LocalizationDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load localization files")
	}
	bot, err := telegram.NewBotService(cfg.TelegramBotToken, s, l)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start telegram bot")
	}
	return bot, telegram.NewNotifier(bot.Sender, s, l)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Init(cfg.LogLevel, cfg.IsDev())
	log.Info().Str("env", cfg.Env).Msg("starting SparkChat backend")

	db, rdb := setupDependencies(ctx, cfg)
	s := storage.NewStorageService(db, rdb)
	clk := clock.Real{}

	feed, err := realtime.NewPGFeed(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen for database changes")
	}

	objects, err := attachment.NewDiskStore(cfg.UploadDir, cfg.PublicBaseURL+"/uploads")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare upload directory")
	}
	previews := attachment.NewMemoryPreviews()

	hub := chathub.NewManagerService()
	bot, telegramNotifier := setupNotifier(cfg, s)

	engine := conversation.NewEngine(conversation.Deps{
		Store:    s,
		Auth:     matching.NewMatchingService(s),
		Quota:    quota.NewQuotaService(s, clk),
		Notifier: chathub.NewOfflineNotifier(hub, telegramNotifier),
		Calls:    calls.NewRedisSignaler(s, clk),
		Feed:     feed,
		Presence: presence.NewRedisBroadcaster(s),
		Pipeline: attachment.NewPipeline(objects, previews, clk),
		Clock:    clk,
	})

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	handler.NewHandler(hub, engine, previews, []byte(cfg.JWTSecret), cfg.Origins()).Register(r, cfg.UploadDir)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		feed.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if bot != nil {
		g.Go(func() error {
			bot.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}

	<-hub.Done()
	engine.Wait()
	if err := feed.Close(); err != nil {
		log.Warn().Err(err).Msg("closing realtime feed")
	}
	log.Info().Msg("shutdown complete")
}
