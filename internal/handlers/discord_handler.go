package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/discord"
	"github.com/neftit/taskgate/internal/logger"
)

// GuildClient reads guild metadata for the bot diagnostics
type GuildClient interface {
	GetGuild(ctx context.Context, guildID string) (*discord.Guild, error)
}

// DiscordHandler serves membership verification and its ops endpoints
type DiscordHandler struct {
	verifier *discord.Verifier
	limiter  *discord.Limiter
	guilds   GuildClient
	now      func() time.Time
}

// NewDiscordHandler creates a new Discord handler
func NewDiscordHandler(verifier *discord.Verifier, limiter *discord.Limiter, guilds GuildClient) *DiscordHandler {
	return &DiscordHandler{verifier: verifier, limiter: limiter, guilds: guilds, now: time.Now}
}

// VerifyJoinRequest asks whether a user is a full member of the guild
type VerifyJoinRequest struct {
	DiscordUserID string `json:"discordUserId"`
	GuildID       string `json:"guildId"`
}

var validationMessages = map[string]string{
	"MISSING_USER_ID":   "Missing required parameter: discordUserId",
	"MISSING_GUILD_ID":  "Discord guild ID not configured on server",
	"INVALID_USER_ID":   "Invalid Discord user ID format",
	"MISSING_BOT_TOKEN": "Discord bot token not configured on server",
}

// VerifyJoin checks guild membership and records a verified join
func (h *DiscordHandler) VerifyJoin(c *gin.Context) {
	var req VerifyJoinRequest
	// an empty or malformed body is reported as a missing user id below
	_ = c.ShouldBindJSON(&req)

	result, err := h.verifier.Verify(c.Request.Context(), discord.VerifyRequest{
		UserID:  req.DiscordUserID,
		GuildID: req.GuildID,
	})
	if err != nil {
		if code := discord.Code(err); code != "" {
			status := http.StatusBadRequest
			body := gin.H{"success": false, "message": validationMessages[code], "error": code}
			if discord.NeedsSetup(err) {
				status = http.StatusInternalServerError
				body["needsSetup"] = true
				logger.Warn("discord verification not configured", zap.String("code", code))
			}
			c.JSON(status, body)
			return
		}

		logger.ErrorCtx(c.Request.Context(), err, zap.String("discord_user_id", req.DiscordUserID))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"message":   "Internal error during Discord membership verification",
			"error":     err.Error(),
			"timestamp": h.now().UTC(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Health reports the verification counters and configuration
func (h *DiscordHandler) Health(c *gin.Context) {
	now := h.now()
	snapshot := h.verifier.Health().Snapshot(now)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Discord verification service is running",
		"timestamp": now.UTC(),
		"uptime":    formatUptime(snapshot.UptimeSeconds),
		"stats":     snapshot,
		"memory": gin.H{
			"alloc":     fmt.Sprintf("%dMB", mem.Alloc/1024/1024),
			"heapInuse": fmt.Sprintf("%dMB", mem.HeapInuse/1024/1024),
			"sys":       fmt.Sprintf("%dMB", mem.Sys/1024/1024),
		},
		"config": gin.H{
			"configured":        h.verifier.Configured(),
			"guildIdConfigured": h.verifier.GuildID() != "",
			"rateLimit": gin.H{
				"windowMs":    h.limiter.Window().Milliseconds(),
				"maxRequests": h.limiter.Max(),
			},
			"cacheSize":          h.verifier.Cache().Len(),
			"rateLimitStoreSize": h.limiter.Len(),
		},
	})
}

// ClearCache drops every cached verdict and rate-limit window
func (h *DiscordHandler) ClearCache(c *gin.Context) {
	cleared := h.verifier.Cache().Clear()
	h.limiter.Reset()
	logger.Info("discord verification cache cleared", zap.Int("entries", cleared))

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Discord verification cache cleared successfully",
		"clearedEntries": cleared,
		"timestamp":      h.now().UTC(),
	})
}

// TestBot checks that the bot can read the configured guild
func (h *DiscordHandler) TestBot(c *gin.Context) {
	if !h.verifier.Configured() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Discord bot token or guild ID not configured",
			"message": "Please set DISCORD_BOT_TOKEN and DISCORD_GUILD_ID in your .env file",
		})
		return
	}

	guild, err := h.guilds.GetGuild(c.Request.Context(), h.verifier.GuildID())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("stage", "test_bot"))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Discord bot test failed",
			"details": err.Error(),
			"message": "Please check your Discord bot token and guild ID",
		})
		return
	}

	memberCount := guild.MemberCount
	if memberCount == 0 {
		memberCount = guild.ApproximateMemberCount
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"guild": gin.H{
			"id":           guild.ID,
			"name":         guild.Name,
			"member_count": memberCount,
		},
		"message": "Discord bot is working correctly!",
	})
}

func formatUptime(seconds int64) string {
	return fmt.Sprintf("%dh %dm %ds", seconds/3600, (seconds%3600)/60, seconds%60)
}
