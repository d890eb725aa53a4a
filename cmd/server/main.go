package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/database"
	"github.com/neftit/taskgate/internal/discord"
	"github.com/neftit/taskgate/internal/handlers"
	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/participant"
	"github.com/neftit/taskgate/internal/routes"
	"github.com/neftit/taskgate/internal/social"
	"github.com/neftit/taskgate/internal/statestore"
	"github.com/neftit/taskgate/internal/sweeper"
)

func main() {
	// Initialize configuration
	cfg := config.LoadConfig()

	if err := logger.Initialize(logger.Config{
		Debug:     cfg.Log.Debug,
		SentryDSN: cfg.Log.SentryDSN,
		Tags:      map[string]string{"service": "taskgate", "environment": cfg.Environment},
	}); err != nil {
		panic(err)
	}
	defer logger.Flush(2 * time.Second)

	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("credential presence", zap.Any("credentials", cfg.Presence()))
	if missing := cfg.Missing(); len(missing) > 0 {
		logger.Warn("missing credentials; the matching flows will report a setup error", zap.Strings("missing", missing))
	}

	// Initialize database and run migrations
	db, err := database.InitDB(cfg.Database, cfg.Log.Debug)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	ctx := context.Background()
	redisClient := newRedisClient(cfg.Redis)
	states := statestore.Select(ctx, redisClient, db, cfg.Verification.StateTTL)

	// Initialize services
	participants := participant.NewService(participant.NewRepository(db), cfg.Server.BaseURL)

	discordClient := discord.NewClient(discord.ClientOptions{
		BaseURL:    cfg.Discord.APIBaseURL,
		BotToken:   cfg.Discord.BotToken,
		Timeout:    cfg.Verification.UpstreamTimeout,
		MaxRetries: cfg.Verification.MaxRetries,
	})
	cache := discord.NewCache(cfg.Verification.CacheTTL)
	health := discord.NewHealth(time.Now())
	limiter := discord.NewLimiter(cfg.Verification.RateLimitRequests, cfg.Verification.RateLimitWindow)
	verifier := discord.NewVerifier(cfg.Discord, discordClient, cache, health, participants.Repository()).
		WithBudget(cfg.Verification.Budget)

	// Initialize handlers
	h := routes.Handlers{
		Auth:     handlers.NewAuthHandler(cfg, social.NewXProvider(cfg.X), social.NewDiscordProvider(cfg.Discord), states, participants),
		Session:  handlers.NewSessionHandler(cfg, participants),
		Discord:  handlers.NewDiscordHandler(verifier, limiter, discordClient),
		Referral: handlers.NewReferralHandler(participants),
		Partner:  handlers.NewPartnerHandler(participants),
	}
	router := routes.NewRouter(cfg, h, limiter, health)

	sweep := sweeper.New(states, cache, limiter, health, cfg.Verification.SweepInterval)
	if err := sweep.Start(); err != nil {
		logger.Fatal("failed to start sweeper", zap.Error(err))
	}

	// Start server
	srv := startServer(router, cfg.Server)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	sweep.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, zap.String("stage", "shutdown"))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("server exiting")
}

// newRedisClient returns nil when Redis is not configured or the URL is unusable
func newRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.URL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, oauth states will not use redis", zap.Error(err))
		return nil
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	return redis.NewClient(opts)
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("server started",
		zap.String("port", cfg.Port),
		zap.String("base_url", cfg.BaseURL))
	return srv
}
