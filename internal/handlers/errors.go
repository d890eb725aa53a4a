package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/participant"
)

// apiError is the JSON body of a rejected participant operation
type apiError struct {
	status  int
	error   string
	message string
}

var participantErrors = []struct {
	target error
	resp   apiError
}{
	{participant.ErrTwitterTaken, apiError{http.StatusBadRequest,
		"This X/Twitter account is already connected to another account", "Please use a different X/Twitter account"}},
	{participant.ErrWalletTaken, apiError{http.StatusBadRequest,
		"This wallet address is already connected to another account", "Please use a different wallet address"}},
	{participant.ErrDiscordTaken, apiError{http.StatusBadRequest,
		"This Discord account is already connected to another account", "Please use a different Discord account"}},
	{participant.ErrAccountLocked, apiError{http.StatusBadRequest,
		"Account is locked", "Wallet already submitted, cannot modify connections"}},
	{participant.ErrDiscordNotJoined, apiError{http.StatusBadRequest,
		"Discord server not joined", "Please join the Discord server and verify before connecting X/Twitter"}},
	{participant.ErrTwitterNotConnected, apiError{http.StatusBadRequest,
		"X/Twitter not connected", "Please connect X/Twitter first"}},
	{participant.ErrTwitterNotFollowed, apiError{http.StatusBadRequest,
		"X/Twitter follow not verified", "Please follow NEFTIT on X/Twitter first"}},
	{participant.ErrInvalidWallet, apiError{http.StatusBadRequest,
		"Invalid wallet address format", "Wallet address must be 0x followed by 40 hexadecimal characters"}},
	{participant.ErrInvalidReferralCode, apiError{http.StatusNotFound, "Invalid referral code", ""}},
	{participant.ErrAlreadyReferred, apiError{http.StatusBadRequest, "User already has a referrer", ""}},
	{participant.ErrSelfReferral, apiError{http.StatusBadRequest, "Cannot refer yourself", ""}},
}

// writeParticipantError answers a failed participant operation. notFound is
// the error text for a missing record, fallback the text of a server error.
func writeParticipantError(c *gin.Context, err error, notFound, fallback string) {
	if errors.Is(err, participant.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   notFound,
			"message": "Please connect Discord first",
		})
		return
	}

	for _, e := range participantErrors {
		if errors.Is(err, e.target) {
			body := gin.H{"success": false, "error": e.resp.error}
			if e.resp.message != "" {
				body["message"] = e.resp.message
			}
			c.JSON(e.resp.status, body)
			return
		}
	}

	logger.ErrorCtx(c.Request.Context(), err, zap.String("path", c.FullPath()))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": fallback})
}
