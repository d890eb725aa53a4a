package handlers

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/participant"
	"github.com/neftit/taskgate/internal/social"
	"github.com/neftit/taskgate/internal/statestore"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the embedded HTML templates for gin's renderer
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// callbackPage is the data of templates/callback.html
type callbackPage struct {
	Heading    string
	Text       string
	Message    *statestore.Result
	Origin     string
	CloseDelay int
}

// AuthHandler drives the X and Discord OAuth handshakes
type AuthHandler struct {
	x            *social.XProvider
	discord      *social.DiscordProvider
	states       statestore.Store
	participants *participant.Service
	guildID      string
	origin       string
	now          func() time.Time
}

// NewAuthHandler creates a new auth handler. Results are posted to the
// configured base URL origin.
func NewAuthHandler(cfg *config.Config, x *social.XProvider, d *social.DiscordProvider, states statestore.Store, participants *participant.Service) *AuthHandler {
	return &AuthHandler{
		x:            x,
		discord:      d,
		states:       states,
		participants: participants,
		guildID:      cfg.Discord.GuildID,
		origin:       cfg.Server.BaseURL,
		now:          time.Now,
	}
}

// StartX redirects to the X consent screen with a fresh state and PKCE verifier
func (h *AuthHandler) StartX(c *gin.Context) {
	if !h.x.Configured() {
		h.configError(c, "X OAuth2 is not properly configured. Set X_CLIENT_ID and X_CLIENT_SECRET.")
		return
	}

	state, err := social.NewState()
	if err != nil {
		h.serverError(c, err, statestore.XAuthError)
		return
	}
	verifier := h.x.NewVerifier()

	if err := h.states.Set(c.Request.Context(), state, statestore.State{
		Provider:     social.ProviderX,
		CodeVerifier: verifier,
		CreatedAt:    h.now(),
	}); err != nil {
		h.serverError(c, err, statestore.XAuthError)
		return
	}

	logger.Info("x oauth started", zap.String("store", h.states.Name()))
	c.Redirect(http.StatusFound, h.x.AuthURL(state, verifier))
}

// XCallback finishes the X handshake. X never creates a record: an unknown
// identity is handed to the page for the client to link.
func (h *AuthHandler) XCallback(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Query("state")

	if reason := c.Query("error"); reason != "" {
		h.finish(c, key, nil, statestore.Result{Type: statestore.XAuthError, Error: reason})
		return
	}
	code := c.Query("code")
	if code == "" {
		h.finish(c, key, nil, statestore.Result{Type: statestore.XAuthError, Error: "No authorization code"})
		return
	}

	state, err := h.states.Get(ctx, key)
	if err != nil || state.Provider != social.ProviderX || state.CodeVerifier == "" {
		h.render(c, http.StatusBadRequest, &statestore.Result{Type: statestore.XAuthError, Error: "Invalid state"})
		return
	}

	token, err := h.x.Exchange(ctx, code, state.CodeVerifier)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("provider", social.ProviderX), zap.String("stage", "exchange"))
		h.finish(c, key, &state, statestore.Result{Type: statestore.XAuthError, Error: "Authentication failed"})
		return
	}

	profile, pseudo := h.x.ResolveProfile(ctx, token.AccessToken)
	if pseudo {
		logger.Warn("x callback continuing with pseudo identity",
			zap.String("provider", social.ProviderX),
			zap.String("stage", "profile"),
			zap.String("state", key),
			zap.String("twitter_user_id", profile.ID))
	}
	state.AccessToken = token.AccessToken
	state.ProviderUserID = profile.ID
	state.PseudoIdentity = pseudo

	res, err := h.participants.ConnectTwitter(ctx, profile)
	switch {
	case errors.Is(err, participant.ErrAccountLocked):
		h.finish(c, key, &state, statestore.Result{Type: statestore.XAuthError, Error: "Account already connected with wallet"})
		return
	case err != nil:
		logger.ErrorCtx(ctx, err, zap.String("provider", social.ProviderX), zap.String("stage", "connect"))
		h.finish(c, key, &state, statestore.Result{Type: statestore.XAuthError, Error: "Authentication failed"})
		return
	}

	result := statestore.Result{
		Type:     statestore.XAuthSuccess,
		UserID:   profile.ID,
		State:    key,
		Restored: res.Restored,
	}
	if !res.Restored {
		result.Username = profile.Username
		result.Email = profile.Email
	}
	h.finish(c, key, &state, result)
}

// StartDiscord redirects to the Discord consent screen
func (h *AuthHandler) StartDiscord(c *gin.Context) {
	if !h.discord.Configured() {
		h.configError(c, "Discord OAuth2 is not properly configured. Set DISCORD_CLIENT_ID and DISCORD_CLIENT_SECRET.")
		return
	}

	state, err := social.NewState()
	if err != nil {
		h.serverError(c, err, statestore.DiscordAuthError)
		return
	}
	if err := h.states.Set(c.Request.Context(), state, statestore.State{
		Provider:  social.ProviderDiscord,
		CreatedAt: h.now(),
	}); err != nil {
		h.serverError(c, err, statestore.DiscordAuthError)
		return
	}

	c.Redirect(http.StatusFound, h.discord.AuthURL(state))
}

// DiscordCallback finishes the Discord handshake. Discord anchors the record:
// an unknown identity creates one. The guild join attempt never fails the flow.
func (h *AuthHandler) DiscordCallback(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Query("state")

	state, err := h.states.Get(ctx, key)
	if err != nil || state.Provider != social.ProviderDiscord {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state parameter"})
		return
	}

	if reason := c.Query("error"); reason != "" {
		h.finish(c, key, &state, statestore.Result{Type: statestore.DiscordAuthError, Error: reason})
		return
	}

	token, err := h.discord.Exchange(ctx, c.Query("code"))
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("provider", social.ProviderDiscord), zap.String("stage", "exchange"))
		h.finish(c, key, &state, statestore.Result{Type: statestore.DiscordAuthError, Error: "Authentication failed"})
		return
	}

	profile, err := h.discord.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("provider", social.ProviderDiscord), zap.String("stage", "profile"))
		h.finish(c, key, &state, statestore.Result{Type: statestore.DiscordAuthError, Error: "Authentication failed"})
		return
	}
	state.ProviderUserID = profile.ID

	if err := h.discord.AddGuildMember(ctx, h.guildID, profile.ID, token.AccessToken); err != nil {
		logger.Warn("discord join attempt failed",
			zap.String("discord_user_id", profile.ID),
			zap.Error(err))
	}

	res, err := h.participants.ConnectDiscord(ctx, profile)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("provider", social.ProviderDiscord), zap.String("stage", "connect"))
		h.finish(c, key, &state, statestore.Result{Type: statestore.DiscordAuthError, Error: "Authentication failed"})
		return
	}

	result := statestore.Result{
		Type:     statestore.DiscordAuthSuccess,
		UserID:   profile.ID,
		State:    key,
		Restored: res.Restored,
	}
	if !res.Restored {
		result.Username = profile.Username
		result.Email = profile.Email
	}
	h.finish(c, key, &state, result)
}

// ClaimResult hands out the outcome of a finished handshake once, for clients
// that lost their popup window.
func (h *AuthHandler) ClaimResult(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("state")

	state, err := h.states.Get(ctx, key)
	if errors.Is(err, statestore.ErrStateNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Result not found"})
		return
	}
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("stage", "claim_result"))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load result"})
		return
	}
	if state.Result == nil {
		c.JSON(http.StatusAccepted, gin.H{"success": false, "pending": true})
		return
	}

	if err := h.states.Delete(ctx, key); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("stage", "claim_result"))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": state.Result})
}

// finish keeps the result under its state for a later claim and renders the callback page
func (h *AuthHandler) finish(c *gin.Context, key string, state *statestore.State, result statestore.Result) {
	if state != nil && key != "" {
		state.Result = &result
		if err := h.states.Set(c.Request.Context(), key, *state); err != nil {
			logger.ErrorCtx(c.Request.Context(), err, zap.String("stage", "store_result"))
		}
	}
	h.render(c, http.StatusOK, &result)
}

func (h *AuthHandler) render(c *gin.Context, status int, result *statestore.Result) {
	page := callbackPage{
		Message:    result,
		Origin:     h.origin,
		CloseDelay: 2000,
	}
	switch {
	case !result.Success():
		page.Heading = "Authentication Error"
		page.Text = "Error: " + result.Error
		page.CloseDelay = 0
	case result.Restored:
		page.Heading = "Session Restored"
		page.Text = "Session restored! You can close this window."
	case result.Type == statestore.XAuthSuccess:
		page.Heading = "X Connected"
		page.Text = "X connected! You can close this window."
	default:
		page.Heading = "Discord Connected"
		page.Text = "Discord connected! You can close this window."
	}
	c.HTML(status, "callback.html", page)
}

func (h *AuthHandler) configError(c *gin.Context, text string) {
	logger.Warn("oauth provider not configured", zap.String("path", c.FullPath()))
	c.HTML(http.StatusInternalServerError, "callback.html", callbackPage{
		Heading: "Configuration Error",
		Text:    text,
	})
}

func (h *AuthHandler) serverError(c *gin.Context, err error, resultType string) {
	logger.ErrorCtx(c.Request.Context(), err, zap.String("path", c.FullPath()))
	h.render(c, http.StatusInternalServerError, &statestore.Result{Type: resultType, Error: "Authentication failed"})
}
