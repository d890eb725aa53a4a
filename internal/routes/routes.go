package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/discord"
	"github.com/neftit/taskgate/internal/handlers"
	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/middleware"
)

// Handlers groups every HTTP handler of the service
type Handlers struct {
	Auth     *handlers.AuthHandler
	Session  *handlers.SessionHandler
	Discord  *handlers.DiscordHandler
	Referral *handlers.ReferralHandler
	Partner  *handlers.PartnerHandler
}

// NewRouter builds the engine with the global middleware and every route
func NewRouter(cfg *config.Config, h Handlers, limiter *discord.Limiter, health *discord.Health) *gin.Engine {
	router := gin.New()

	// ClientIP keys the verification rate limit; only listed proxies may rewrite it
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxy list, trusting none",
			zap.Strings("trusted_proxies", cfg.Server.TrustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	router.Use(gin.Recovery())
	router.Use(middleware.AccessLog())
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig()))
	router.Use(cors.New(corsConfig(cfg)))

	router.SetHTMLTemplate(handlers.Templates())

	RegisterAuthRoutes(router, h.Auth)
	RegisterSessionRoutes(router, h.Session)
	RegisterDiscordRoutes(router, h.Discord, limiter, health)
	RegisterReferralRoutes(router, h.Referral)
	RegisterPartnerRoutes(router, h.Partner, cfg.Partner.APIKey)

	return router
}

func corsConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 && cfg.Server.BaseURL != "" {
		origins = []string{cfg.Server.BaseURL}
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// RegisterAuthRoutes registers the OAuth redirect legs and the result claim
func RegisterAuthRoutes(router *gin.Engine, authHandler *handlers.AuthHandler) {
	authGroup := router.Group("/auth")
	{
		authGroup.GET("/x", authHandler.StartX)
		authGroup.GET("/x/callback", authHandler.XCallback)
		authGroup.GET("/discord", authHandler.StartDiscord)
		authGroup.GET("/discord/callback", authHandler.DiscordCallback)
		authGroup.GET("/result/:state", authHandler.ClaimResult)
	}
}

// RegisterSessionRoutes registers the task-gate session routes
func RegisterSessionRoutes(router *gin.Engine, sessionHandler *handlers.SessionHandler) {
	router.GET("/health", sessionHandler.Health)

	api := router.Group("/api")
	{
		api.GET("/config", sessionHandler.Config)
		api.GET("/session/:discordUserId", sessionHandler.GetSession)
		api.POST("/link-twitter-to-session", sessionHandler.LinkTwitter)
		api.POST("/verify-twitter-follow", sessionHandler.VerifyFollow)
		api.POST("/link-wallet-to-session", sessionHandler.LinkWallet)
		api.GET("/user-status-discord/:discordUserId", sessionHandler.UserStatus)
		api.GET("/stats", sessionHandler.Stats)
		api.GET("/participant-count", sessionHandler.ParticipantCount)
	}
}

// RegisterDiscordRoutes registers membership verification and its ops routes.
// Only the verification itself is rate limited.
func RegisterDiscordRoutes(router *gin.Engine, discordHandler *handlers.DiscordHandler, limiter *discord.Limiter, health *discord.Health) {
	api := router.Group("/api")
	{
		api.POST("/verify-discord-join", middleware.DiscordRateLimit(limiter, health), discordHandler.VerifyJoin)
		api.GET("/discord-health", discordHandler.Health)
		api.POST("/discord-clear-cache", discordHandler.ClearCache)
		api.GET("/debug/test-discord-bot", discordHandler.TestBot)
	}
}

// RegisterReferralRoutes registers the referral lifecycle routes
func RegisterReferralRoutes(router *gin.Engine, referralHandler *handlers.ReferralHandler) {
	api := router.Group("/api")
	{
		api.GET("/referral/:discordUserId", referralHandler.GetReferral)
		api.POST("/apply-referral", referralHandler.ApplyReferral)
		api.POST("/complete-referral", referralHandler.CompleteReferral)
	}
}

// RegisterPartnerRoutes registers the partner verification route behind the API key
func RegisterPartnerRoutes(router *gin.Engine, partnerHandler *handlers.PartnerHandler, apiKey string) {
	partner := router.Group("/api/neftit")
	partner.Use(middleware.APIKeyAuth(apiKey))
	{
		partner.POST("/verify-user", partnerHandler.VerifyUser)
	}
}
