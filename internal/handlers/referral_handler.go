package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neftit/taskgate/internal/participant"
)

// ReferralHandler serves the referral lifecycle
type ReferralHandler struct {
	participants *participant.Service
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(participants *participant.Service) *ReferralHandler {
	return &ReferralHandler{participants: participants}
}

// ApplyReferralRequest records who referred the participant
type ApplyReferralRequest struct {
	DiscordUserID string `json:"discordUserId"`
	ReferralCode  string `json:"referralCode"`
}

// GetReferral returns the referral code, link and completed referral count
func (h *ReferralHandler) GetReferral(c *gin.Context) {
	discordUserID := c.Param("discordUserId")

	info, err := h.participants.ReferralInfo(c.Request.Context(), discordUserID)
	if errors.Is(err, participant.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found", "discordUserId": discordUserID})
		return
	}
	if err != nil {
		writeParticipantError(c, err, "User not found", "Failed to get referral info")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"referralCode":         info.ReferralCode,
		"referralCount":        info.ReferralCount,
		"hasCompletedAllTasks": info.HasCompletedAllTasks,
		"referralLink":         info.ReferralLink,
	})
}

// ApplyReferral sets the referrer of a participant once
func (h *ReferralHandler) ApplyReferral(c *gin.Context) {
	var req ApplyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DiscordUserID == "" || req.ReferralCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Discord user ID and referral code required"})
		return
	}

	if err := h.participants.ApplyReferral(c.Request.Context(), req.DiscordUserID, req.ReferralCode); err != nil {
		writeParticipantError(c, err, "User not found", "Failed to apply referral code")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Referral code applied successfully"})
}

// CompleteReferral credits the referrer of a participant who finished every
// task. Calling it again after the credit reports nothing to do.
func (h *ReferralHandler) CompleteReferral(c *gin.Context) {
	var req DiscordUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DiscordUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Discord user ID required"})
		return
	}

	credited, err := h.participants.CompleteReferral(c.Request.Context(), req.DiscordUserID)
	if err != nil {
		writeParticipantError(c, err, "User not found", "Failed to complete referral")
		return
	}

	if !credited {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "User not referred or tasks not completed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Referral completed"})
}
