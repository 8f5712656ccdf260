package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"chat-core/internal/auth"
	"chat-core/internal/chat"
	"chat-core/internal/config"
	"chat-core/internal/db"
	"chat-core/internal/handlers"
	"chat-core/internal/logging"
	"chat-core/internal/presence"
	"chat-core/internal/rooms"
	"chat-core/internal/store"
	"chat-core/internal/store/postgres"
	redisstore "chat-core/internal/store/redis"
)

// Run wires the process together and blocks until SIGINT/SIGTERM.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	chatStore := postgres.New(pool)
	if err := chatStore.EnsureSchema(ctx); err != nil {
		return err
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	defer rdb.Close()
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")

	guarded := store.WithBreaker(chatStore)
	typingStore := redisstore.NewTypingStore(rdb, cfg.Chat.TypingTTL)

	directory := auth.NewPGDirectory(pool)

	registry := presence.NewRegistry(cfg.Chat.PresenceGrace)
	defer registry.Stop()
	roomMgr := rooms.NewManager(guarded)
	chatSvc := chat.NewService(guarded, typingStore, roomMgr, registry, directory, chat.Config{
		MaxContentLength: cfg.Chat.MaxContentLength,
		HistoryLimit:     cfg.Chat.HistoryLimit,
		TypingTTL:        cfg.Chat.TypingTTL,
	})

	sweeper := chat.NewSweeper(typingStore, cfg.Chat.TypingTTL, cfg.Chat.SweepInterval)
	go sweeper.Run(ctx)

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, directory)

	deps := handlers.Deps{
		Auth:     authenticator,
		Presence: registry,
		Rooms:    roomMgr,
		Chat:     chatSvc,
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", handlers.AuthMiddleware(authenticator))
	api.Post("/chats/direct", handlers.DirectChatHandler(deps))
	api.Get("/chats", handlers.ChatListHandler(deps))
	api.Get("/chats/:chat_id/messages", handlers.HistoryHandler(deps))
	api.Get("/presence", handlers.PresenceHandler(deps))

	// Middleware order matters: check the upgrade first, then the token.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware(authenticator))
	app.Get("/ws", handlers.WebSocketHandler(deps))

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := app.Listen(cfg.Server.Addr); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()
	if err := app.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return nil
}
