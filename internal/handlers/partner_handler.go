package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/participant"
)

// PartnerHandler answers registration lookups for integration partners
type PartnerHandler struct {
	participants *participant.Service
}

// NewPartnerHandler creates a new partner handler
func NewPartnerHandler(participants *participant.Service) *PartnerHandler {
	return &PartnerHandler{participants: participants}
}

// VerifyUserRequest looks a participant up by wallet, or by email when no wallet is given
type VerifyUserRequest struct {
	Wallet string `json:"wallet"`
	Email  string `json:"email"`
}

// VerifyUser reports whether a wallet or email is registered
func (h *PartnerHandler) VerifyUser(c *gin.Context) {
	var req VerifyUserRequest
	_ = c.ShouldBindJSON(&req)

	res, err := h.participants.PartnerLookup(c.Request.Context(), req.Wallet, req.Email)
	if errors.Is(err, participant.ErrMissingLookupKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Wallet address or email required", "registered": false})
		return
	}
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), err, zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "registered": false})
		return
	}

	c.JSON(http.StatusOK, res)
}
