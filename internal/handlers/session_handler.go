package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/participant"
	"github.com/neftit/taskgate/internal/social"
)

// SessionHandler serves the task-gate session and its link steps
type SessionHandler struct {
	participants *participant.Service
	cfg          *config.Config
	now          func() time.Time
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(cfg *config.Config, participants *participant.Service) *SessionHandler {
	return &SessionHandler{participants: participants, cfg: cfg, now: time.Now}
}

// LinkTwitterRequest carries the X identity resolved by the X callback
type LinkTwitterRequest struct {
	DiscordUserID   string `json:"discordUserId"`
	TwitterUserID   string `json:"twitterUserId"`
	TwitterUsername string `json:"twitterUsername"`
	TwitterEmail    string `json:"twitterEmail"`
}

// DiscordUserRequest names the Discord-anchored record to act on
type DiscordUserRequest struct {
	DiscordUserID string `json:"discordUserId"`
}

// LinkWalletRequest submits the final task
type LinkWalletRequest struct {
	DiscordUserID string `json:"discordUserId"`
	WalletAddress string `json:"walletAddress"`
}

// Health is the liveness probe
func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "timestamp": h.now().UTC()})
}

// Config returns the public client configuration
func (h *SessionHandler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"discordInviteLink": h.cfg.Discord.InviteLink,
		"neftitUsername":    h.cfg.X.BrandHandle,
		"discordGuildId":    h.cfg.Discord.GuildID,
		"baseUrl":           h.cfg.Server.BaseURL,
	})
}

// GetSession returns the authoritative task view of a Discord-anchored record
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.participants.Session(c.Request.Context(), c.Param("discordUserId"))
	if errors.Is(err, participant.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Session not found"})
		return
	}
	if err != nil {
		writeParticipantError(c, err, "Session not found", "Failed to get session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// LinkTwitter attaches the X identity from the X callback to the Discord record
func (h *SessionHandler) LinkTwitter(c *gin.Context) {
	var req LinkTwitterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DiscordUserID == "" || req.TwitterUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Discord and Twitter user IDs are required"})
		return
	}

	p, err := h.participants.LinkTwitter(c.Request.Context(), req.DiscordUserID, social.Profile{
		ID:       req.TwitterUserID,
		Username: req.TwitterUsername,
		Email:    strings.TrimSpace(req.TwitterEmail),
	})
	if err != nil {
		writeParticipantError(c, err, "Discord session not found", "Failed to link Twitter account")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "X/Twitter connected successfully",
		"userId":  p.ID,
	})
}

// VerifyFollow records the follow step
func (h *SessionHandler) VerifyFollow(c *gin.Context) {
	var req DiscordUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DiscordUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Discord user ID is required"})
		return
	}

	if err := h.participants.VerifyFollow(c.Request.Context(), req.DiscordUserID); err != nil {
		writeParticipantError(c, err, "User not found", "Failed to verify Twitter follow")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Twitter follow verified successfully"})
}

// LinkWallet submits the wallet and locks the record
func (h *SessionHandler) LinkWallet(c *gin.Context) {
	var req LinkWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DiscordUserID == "" || req.WalletAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Discord user ID and wallet address are required"})
		return
	}

	res, err := h.participants.LinkWallet(c.Request.Context(), req.DiscordUserID, req.WalletAddress)
	if err != nil {
		writeParticipantError(c, err, "Discord session not found", "Failed to save wallet address")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"message":          "Wallet address saved successfully",
		"userId":           res.Participant.ID,
		"referralCode":     res.ReferralCode,
		"referralCredited": res.Credited,
	})
}

// UserStatus returns the connection flags of a Discord-anchored record
func (h *SessionHandler) UserStatus(c *gin.Context) {
	p, err := h.participants.Status(c.Request.Context(), c.Param("discordUserId"))
	if errors.Is(err, participant.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		writeParticipantError(c, err, "User not found", "Failed to get user status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"id":                  p.ID,
			"twitter_username":    p.TwitterUsername,
			"twitter_connected":   p.HasTwitter(),
			"discord_connected":   p.HasDiscord(),
			"discord_provider_id": p.DiscordProviderID,
			"discord_joined":      p.DiscordJoined,
			"followed_neftit":     p.TwitterFollowed,
			"wallet_connected":    p.HasWallet(),
			"created_at":          p.CreatedAt,
			"updated_at":          p.UpdatedAt,
		},
	})
}

// Stats returns participation totals
func (h *SessionHandler) Stats(c *gin.Context) {
	stats, err := h.participants.Stats(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ParticipantCount counts records that started with Discord
func (h *SessionHandler) ParticipantCount(c *gin.Context) {
	count, err := h.participants.ParticipantCount(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get participant count",
			"count":   0,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}
