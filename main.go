package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"schat-service/internal/aibridge"
	"schat-service/internal/auth"
	"schat-service/internal/config"
	"schat-service/internal/db"
	"schat-service/internal/delivery"
	"schat-service/internal/grpcserver"
	"schat-service/internal/handlers"
	"schat-service/internal/logging"
	"schat-service/internal/middleware"
	"schat-service/internal/observability"
	"schat-service/internal/presence"
	"schat-service/internal/rabbitmq"
	"schat-service/internal/realtime"
	"schat-service/internal/repositories"
	"schat-service/internal/telemetry"
	"schat-service/internal/ws"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	logging.Setup(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	database, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	userRepo := repositories.NewUserRepo(database)
	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit.schat", cfg.OTEL.ServiceName, cfg.Environment)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")

	registry := realtime.NewRegistry()

	deps := delivery.Deps{
		Users:    userRepo,
		Chats:    chatRepo,
		Messages: messageRepo,
		Conns:    registry,
	}
	var bridge *aibridge.Bridge
	if cfg.AI.Enabled {
		aiUser, err := userRepo.EnsureAIUser(ctx, cfg.AI.DisplayName, cfg.AI.Handle)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to provision ai user")
		}
		bridge = newBridge(cfg.AI, messageRepo)
		deps.Bridge = bridge
		deps.AIUser = aiUser
		log.Info().Int("ai_user_id", aiUser.ID).Strs("models", cfg.AI.Models).Msg("ai assistant enabled")
	}

	coordinator := delivery.New(deps)
	typing := presence.NewBroadcaster(chatRepo, registry)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	dispatcher := ws.NewDispatcher(verifier, registry, userRepo, coordinator, typing)
	wsHandler := ws.NewHandler(dispatcher, cfg.WS)

	chatHandler := handlers.NewChatHandler(userRepo, chatRepo, messageRepo, coordinator)
	adminHandler := handlers.NewAdminHandler(messageRepo, audit)
	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)

	router := gin.New()
	router.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", handlers.Healthz(registry, wsHandler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.Serve)

	api := router.Group("/", middleware.AuthMiddleware(verifier), limiter.Handler())
	{
		api.GET("/chats", chatHandler.ListChats)
		api.POST("/chats/start", chatHandler.StartChat)
		api.GET("/chats/:chat_id/messages", chatHandler.GetChatMessages)
		api.POST("/chats/:chat_id/messages", chatHandler.PostChatMessage)
		api.POST("/messages", chatHandler.PostMessage)
		api.GET("/ai/chat", chatHandler.AIChat)

		admin := api.Group("/admin", middleware.RequireAdmin(cfg.IsAdmin))
		admin.DELETE("/messages", adminHandler.DeleteOldMessages)
		admin.DELETE("/chats/:chat_id/messages", adminHandler.DeleteChatMessages)

		handlers.RegisterDebugRoutes(api, audit, cfg.DebugRoutes)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var health *grpcserver.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to listen for grpc")
		}
		health = grpcserver.New()
		g.Go(func() error { return health.Serve(lis) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if health != nil {
			health.Shutdown(shutdownCtx)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		wsHandler.CloseAll()

		if err := coordinator.Close(shutdownCtx); err != nil {
			// bridge calls are cancelled now; let the fallback replies land
			// before the deferred pool close
			log.Warn().Err(err).Msg("ai replies still running, waiting for them to persist")
			_ = coordinator.Wait(context.Background())
		}
		if bridge != nil {
			bridge.Wait()
		}
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("publisher close")
		}
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func newBridge(cfg config.AIConfig, history aibridge.HistoryStore) *aibridge.Bridge {
	var (
		responder aibridge.Responder
		images    aibridge.ImageGenerator
	)
	if cfg.APIKey != "" {
		client := aibridge.NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
		responder = aibridge.NewOpenAIResponder(client, cfg.Models)
		if len(cfg.ImageModels) > 0 {
			images = aibridge.NewOpenAIImageGenerator(client, cfg.ImageModels)
		}
	} else {
		log.Warn().Msg("AI_API_KEY not set, assistant will answer with the not-configured text")
	}

	opts := aibridge.DefaultOptions()
	opts.Timeout = cfg.Timeout
	opts.ImageTimeout = cfg.ImageTimeout
	opts.HistoryWindow = cfg.HistoryWindow
	opts.CallsPerMinute = cfg.CallsPerMinute
	return aibridge.New(responder, images, history, opts)
}
