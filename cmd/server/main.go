// Package main runs the quiz orchestrator HTTP server with WebSocket or Telegram transport and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-quiz/backend/config"
	"github.com/aura-quiz/backend/internal/auth"
	"github.com/aura-quiz/backend/internal/checkpoint"
	"github.com/aura-quiz/backend/internal/directory"
	"github.com/aura-quiz/backend/internal/middleware"
	"github.com/aura-quiz/backend/internal/quiz"
	"github.com/aura-quiz/backend/internal/quizzes"
	"github.com/aura-quiz/backend/internal/realtime"
	"github.com/aura-quiz/backend/internal/telegram"
	"github.com/aura-quiz/backend/internal/worker"
	"github.com/aura-quiz/backend/pkg/database"
	"github.com/aura-quiz/backend/pkg/queue"
	"github.com/aura-quiz/backend/pkg/redis"
	"github.com/aura-quiz/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Persistence
	quizRepo := quizzes.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger).WithMaxRetries(cfg.Queue.MaxRetries)
	store := quizzes.NewStore(quizRepo, jobQueue, logger)
	checkpoints := checkpoint.NewRedis(rdb.Client, cfg.Quiz.CleanupTTL, logger)
	names, err := directory.New(quizRepo, cfg.Telegram.DirectoryCache, logger)
	if err != nil {
		logger.Fatal("directory", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	defer redisPubSub.Close()
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Messaging transport
	var gateway quiz.Gateway
	var bot *tgbotapi.BotAPI
	switch cfg.Transport {
	case config.TransportTelegram:
		bot, err = tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal("telegram", zap.Error(err))
		}
		bot.Debug = cfg.Telegram.Debug
		gateway, err = telegram.NewGateway(bot, logger)
		if err != nil {
			logger.Fatal("telegram gateway", zap.Error(err))
		}
		logger.Info("telegram transport enabled", zap.String("bot", bot.Self.UserName))
	default:
		gateway = realtime.NewGateway(hub, true)
	}

	engine := quiz.NewEngine(quiz.Deps{
		Store:        store,
		Gateway:      gateway,
		Directory:    names,
		Checkpointer: checkpoints,
	}, quizPolicy(cfg.Quiz), logger)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()
	go engine.Run(engineCtx)
	if err := engine.Restore(ctx); err != nil {
		logger.Error("restore quiz state", zap.Error(err))
	}
	go engine.RunSweeper(engineCtx, cfg.Quiz.SweepInterval)

	if bot != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Telegram.UpdateTimeout
		u.AllowedUpdates = []string{"message", "poll_answer"}
		updates := bot.GetUpdatesChan(u)
		botHandler := telegram.NewHandler(bot, engine, names, cfg.Quiz.DefaultQuorum, logger)
		go botHandler.Run(engineCtx, updates)
	}

	// Background worker (result persistence)
	if cfg.Queue.InProcess {
		processor := worker.NewResultProcessor(quizRepo, jobQueue, cfg.Queue.RetryBackoff, logger)
		go processor.Run(engineCtx)
		logger.Info("result worker started")
	}

	authHandler := auth.NewHandler(quizRepo, jwtService, logger)
	quizHandler := quizzes.NewHandler(quizRepo, engine, cfg.Quiz.DefaultQuorum, logger)
	admin := middleware.AdminOnly()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Healthy(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok", "transport": cfg.Transport})
	})

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/auth/tokens", admin, authHandler.Issue)
		api.GET("/auth/me", authHandler.Me)

		api.POST("/quizzes", admin, quizHandler.Create)
		api.GET("/quizzes/:id", quizHandler.Get)
		api.GET("/quizzes/:id/results", quizHandler.Results)

		api.GET("/channels/:id/sessions", quizHandler.Sessions)
		api.POST("/channels/:id/quizzes", quizHandler.Start)
		api.POST("/channels/:id/stop", quizHandler.Stop)
		api.POST("/channels/:id/resume", quizHandler.Resume)
		api.POST("/channels/:id/votes", quizHandler.CreateVote)
		api.POST("/channels/:id/votes/:voteId", quizHandler.Ballot)
		api.POST("/channels/:id/championship", admin, quizHandler.ScheduleChampionship)
		api.DELETE("/channels/:id/championship", admin, quizHandler.StopChampionship)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, engine, names, jwtService, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("transport", cfg.Transport))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if bot != nil {
		bot.StopReceivingUpdates()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	engineCancel()
	logger.Info("server stopped")
}

func quizPolicy(c config.QuizConfig) quiz.Policy {
	return quiz.Policy{
		MaxPrivateSessions:     c.MaxPrivateSessions,
		MaxChannelSessions:     c.MaxChannelSessions,
		MaxUserChannelSessions: c.MaxUserChannelSessions,
		DefaultTimeBudget:      c.DefaultTimeBudget,
		DueGrace:               c.DueGrace,
		StuckTTL:               c.StuckTTL,
		CleanupTTL:             c.CleanupTTL,
		VoteTTL:                c.VoteTTL,
		PauseAfterMisses:       c.PauseAfterMisses,
		WarnOnFirstMiss:        c.WarnOnFirstMiss,
		OptionMaxLen:           c.OptionMaxLen,
		QuestionMaxLen:         c.QuestionMaxLen,
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
