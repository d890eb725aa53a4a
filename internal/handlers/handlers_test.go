package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/database"
	"github.com/neftit/taskgate/internal/database/migrations"
	"github.com/neftit/taskgate/internal/discord"
	"github.com/neftit/taskgate/internal/participant"
	"github.com/neftit/taskgate/internal/social"
	"github.com/neftit/taskgate/internal/statestore"
)

const testDiscordID = "111111111111111111"

func init() {
	gin.SetMode(gin.TestMode)
}

// MockMemberClient is a mock implementation of discord.MemberClient and GuildClient
type MockMemberClient struct {
	mock.Mock
}

func (m *MockMemberClient) GetGuildMember(ctx context.Context, guildID, userID string) (*discord.Member, error) {
	args := m.Called(guildID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discord.Member), args.Error(1)
}

func (m *MockMemberClient) GetGuild(ctx context.Context, guildID string) (*discord.Guild, error) {
	args := m.Called(guildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discord.Guild), args.Error(1)
}

func newService(t *testing.T) *participant.Service {
	db, err := database.Open(sqlite.Open("file::memory:"), false)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migrations.RunMigrations(db))
	return participant.NewService(participant.NewRepository(db), "http://localhost:3000")
}

func perform(r *gin.Engine, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func newDiscordEngine(t *testing.T, cfg config.DiscordConfig, client *MockMemberClient, participants *participant.Service) *gin.Engine {
	verifier := discord.NewVerifier(cfg, client, discord.NewCache(5*time.Minute), discord.NewHealth(time.Now()), participants.Repository())
	h := NewDiscordHandler(verifier, discord.NewLimiter(45, time.Minute), client)

	r := gin.New()
	r.POST("/api/verify-discord-join", h.VerifyJoin)
	r.GET("/api/discord-health", h.Health)
	r.GET("/api/debug/test-discord-bot", h.TestBot)
	return r
}

func TestVerifyJoinValidation(t *testing.T) {
	participants := newService(t)
	client := &MockMemberClient{}

	configured := config.DiscordConfig{GuildID: "999999999999999999", BotToken: "bot"}
	r := newDiscordEngine(t, configured, client, participants)

	w := perform(r, http.MethodPost, "/api/verify-discord-join", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_USER_ID", jsonBody(t, w)["error"])

	w = perform(r, http.MethodPost, "/api/verify-discord-join", gin.H{"discordUserId": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := jsonBody(t, w)
	assert.Equal(t, "INVALID_USER_ID", body["error"])
	assert.Nil(t, body["needsSetup"])

	unconfigured := newDiscordEngine(t, config.DiscordConfig{}, client, participants)
	w = perform(unconfigured, http.MethodPost, "/api/verify-discord-join", gin.H{"discordUserId": testDiscordID})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = jsonBody(t, w)
	assert.Equal(t, "MISSING_GUILD_ID", body["error"])
	assert.Equal(t, true, body["needsSetup"])

	noBot := newDiscordEngine(t, config.DiscordConfig{GuildID: "999999999999999999"}, client, participants)
	w = perform(noBot, http.MethodPost, "/api/verify-discord-join", gin.H{"discordUserId": testDiscordID})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "MISSING_BOT_TOKEN", jsonBody(t, w)["error"])

	client.AssertNotCalled(t, "GetGuildMember", mock.Anything, mock.Anything)
}

func TestVerifyJoinPendingDoesNotJoin(t *testing.T) {
	ctx := context.Background()
	participants := newService(t)
	_, err := participants.ConnectDiscord(ctx, social.Profile{ID: testDiscordID})
	require.NoError(t, err)

	client := &MockMemberClient{}
	member := &discord.Member{Pending: true}
	member.User.ID = testDiscordID
	member.User.Username = "alice"
	client.On("GetGuildMember", "999999999999999999", testDiscordID).Return(member, nil)

	r := newDiscordEngine(t, config.DiscordConfig{GuildID: "999999999999999999", BotToken: "bot"}, client, participants)

	w := perform(r, http.MethodPost, "/api/verify-discord-join", gin.H{"discordUserId": testDiscordID})
	require.Equal(t, http.StatusOK, w.Code)
	body := jsonBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["pending"])
	assert.NotNil(t, body["memberData"])

	p, err := participants.Status(ctx, testDiscordID)
	require.NoError(t, err)
	assert.False(t, p.DiscordJoined)
}

func TestVerifyJoinUpstreamFailureIsAResult(t *testing.T) {
	participants := newService(t)
	client := &MockMemberClient{}
	client.On("GetGuildMember", mock.Anything, mock.Anything).
		Return(nil, &discord.UpstreamError{StatusCode: http.StatusBadGateway})

	r := newDiscordEngine(t, config.DiscordConfig{GuildID: "999999999999999999", BotToken: "bot"}, client, participants)

	w := perform(r, http.MethodPost, "/api/verify-discord-join", gin.H{"discordUserId": testDiscordID})
	require.Equal(t, http.StatusOK, w.Code)
	body := jsonBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Failed to verify Discord membership", body["message"])
	assert.Equal(t, "Discord API returned status: 502", body["error"])

	w = perform(r, http.MethodGet, "/api/discord-health", nil)
	stats := jsonBody(t, w)["stats"].(map[string]interface{})
	assert.Equal(t, "degraded", stats["status"])
}

func TestTestBot(t *testing.T) {
	participants := newService(t)

	unconfigured := newDiscordEngine(t, config.DiscordConfig{}, &MockMemberClient{}, participants)
	assert.Equal(t, http.StatusBadRequest, perform(unconfigured, http.MethodGet, "/api/debug/test-discord-bot", nil).Code)

	client := &MockMemberClient{}
	client.On("GetGuild", "999999999999999999").Return(nil, errors.New("401 unauthorized"))
	r := newDiscordEngine(t, config.DiscordConfig{GuildID: "999999999999999999", BotToken: "bot"}, client, participants)

	w := perform(r, http.MethodGet, "/api/debug/test-discord-bot", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Discord bot test failed", jsonBody(t, w)["error"])
}

func newSessionEngine(participants *participant.Service) *gin.Engine {
	cfg := &config.Config{Server: config.ServerConfig{BaseURL: "http://localhost:3000"}}
	sessions := NewSessionHandler(cfg, participants)
	referrals := NewReferralHandler(participants)
	partner := NewPartnerHandler(participants)

	r := gin.New()
	r.GET("/api/session/:discordUserId", sessions.GetSession)
	r.GET("/api/user-status-discord/:discordUserId", sessions.UserStatus)
	r.POST("/api/link-twitter-to-session", sessions.LinkTwitter)
	r.POST("/api/verify-twitter-follow", sessions.VerifyFollow)
	r.POST("/api/link-wallet-to-session", sessions.LinkWallet)
	r.GET("/api/referral/:discordUserId", referrals.GetReferral)
	r.POST("/api/apply-referral", referrals.ApplyReferral)
	r.POST("/api/complete-referral", referrals.CompleteReferral)
	r.POST("/api/neftit/verify-user", partner.VerifyUser)
	return r
}

func TestSessionErrors(t *testing.T) {
	ctx := context.Background()
	participants := newService(t)
	r := newSessionEngine(participants)

	w := perform(r, http.MethodGet, "/api/session/"+testDiscordID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Session not found", jsonBody(t, w)["error"])

	w = perform(r, http.MethodGet, "/api/user-status-discord/"+testDiscordID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = perform(r, http.MethodPost, "/api/link-twitter-to-session", gin.H{"discordUserId": testDiscordID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Discord and Twitter user IDs are required", jsonBody(t, w)["error"])

	w = perform(r, http.MethodPost, "/api/link-twitter-to-session", gin.H{"discordUserId": testDiscordID, "twitterUserId": "42"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Discord session not found", jsonBody(t, w)["error"])

	w = perform(r, http.MethodPost, "/api/verify-twitter-follow", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodPost, "/api/link-wallet-to-session", gin.H{"discordUserId": testDiscordID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Discord user ID and wallet address are required", jsonBody(t, w)["error"])

	_, err := participants.ConnectDiscord(ctx, social.Profile{ID: testDiscordID, Username: "alice"})
	require.NoError(t, err)

	w = perform(r, http.MethodPost, "/api/verify-twitter-follow", gin.H{"discordUserId": testDiscordID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "X/Twitter not connected", jsonBody(t, w)["error"])

	w = perform(r, http.MethodGet, "/api/user-status-discord/"+testDiscordID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := jsonBody(t, w)["user"].(map[string]interface{})
	assert.Equal(t, true, user["discord_connected"])
	assert.Equal(t, false, user["discord_joined"])
	assert.Equal(t, testDiscordID, user["discord_provider_id"])
}

func TestReferralErrors(t *testing.T) {
	ctx := context.Background()
	participants := newService(t)
	r := newSessionEngine(participants)

	w := perform(r, http.MethodGet, "/api/referral/"+testDiscordID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, testDiscordID, jsonBody(t, w)["discordUserId"])

	w = perform(r, http.MethodPost, "/api/apply-referral", gin.H{"discordUserId": testDiscordID})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := participants.ConnectDiscord(ctx, social.Profile{ID: testDiscordID})
	require.NoError(t, err)

	w = perform(r, http.MethodPost, "/api/apply-referral", gin.H{"discordUserId": testDiscordID, "referralCode": "NOPE0000"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Invalid referral code", jsonBody(t, w)["error"])

	w = perform(r, http.MethodGet, "/api/referral/"+testDiscordID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := jsonBody(t, w)
	assert.Nil(t, body["referralCode"])
	assert.Nil(t, body["referralLink"])
	assert.Equal(t, false, body["hasCompletedAllTasks"])

	w = perform(r, http.MethodPost, "/api/complete-referral", gin.H{"discordUserId": testDiscordID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, jsonBody(t, w)["success"])

	w = perform(r, http.MethodPost, "/api/complete-referral", gin.H{"discordUserId": "222222222222222222"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReferralRejections(t *testing.T) {
	ctx := context.Background()
	participants := newService(t)
	r := newSessionEngine(participants)
	repo := participants.Repository()

	// referrer completes every task
	referrer := "333333333333333333"
	_, err := participants.ConnectDiscord(ctx, social.Profile{ID: referrer})
	require.NoError(t, err)
	require.NoError(t, repo.MarkDiscordJoined(ctx, referrer, time.Now()))
	_, err = participants.LinkTwitter(ctx, referrer, social.Profile{ID: "77"})
	require.NoError(t, err)
	require.NoError(t, participants.VerifyFollow(ctx, referrer))
	res, err := participants.LinkWallet(ctx, referrer, "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	_, err = participants.ConnectDiscord(ctx, social.Profile{ID: testDiscordID})
	require.NoError(t, err)

	apply := func(discordID string) *httptest.ResponseRecorder {
		return perform(r, http.MethodPost, "/api/apply-referral", gin.H{"discordUserId": discordID, "referralCode": res.ReferralCode})
	}

	assert.Equal(t, http.StatusOK, apply(testDiscordID).Code)

	w := apply(testDiscordID)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "User already has a referrer", jsonBody(t, w)["error"])

	w = apply(referrer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot refer yourself", jsonBody(t, w)["error"])

	p, err := participants.Status(ctx, testDiscordID)
	require.NoError(t, err)
	require.NotNil(t, p.ReferredBy)
	assert.Equal(t, res.ReferralCode, *p.ReferredBy)
}

func TestLinkWalletConflict(t *testing.T) {
	ctx := context.Background()
	participants := newService(t)
	r := newSessionEngine(participants)
	repo := participants.Repository()

	for i, id := range []string{testDiscordID, "222222222222222222"} {
		_, err := participants.ConnectDiscord(ctx, social.Profile{ID: id})
		require.NoError(t, err)
		require.NoError(t, repo.MarkDiscordJoined(ctx, id, time.Now()))
		_, err = participants.LinkTwitter(ctx, id, social.Profile{ID: fmt.Sprintf("x-%d", i)})
		require.NoError(t, err)
		require.NoError(t, participants.VerifyFollow(ctx, id))
	}

	wallet := "0xABCDEF0123456789ABCDEF0123456789ABCDEF01"
	w := perform(r, http.MethodPost, "/api/link-wallet-to-session", gin.H{"discordUserId": testDiscordID, "walletAddress": wallet})
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(r, http.MethodPost, "/api/link-wallet-to-session", gin.H{"discordUserId": "222222222222222222", "walletAddress": wallet})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "This wallet address is already connected to another account", jsonBody(t, w)["error"])

	w = perform(r, http.MethodPost, "/api/link-twitter-to-session", gin.H{"discordUserId": testDiscordID, "twitterUserId": "x-9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Account is locked", jsonBody(t, w)["error"])

	w = perform(r, http.MethodPost, "/api/link-twitter-to-session", gin.H{"discordUserId": "222222222222222222", "twitterUserId": "x-0"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "This X/Twitter account is already connected to another account", jsonBody(t, w)["error"])
}

func TestPartnerVerifyUser(t *testing.T) {
	participants := newService(t)
	r := newSessionEngine(participants)

	w := perform(r, http.MethodPost, "/api/neftit/verify-user", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, jsonBody(t, w)["registered"])

	w = perform(r, http.MethodPost, "/api/neftit/verify-user", gin.H{"email": "nobody@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"registered":false,"timestamp":null}`, w.Body.String())
}

func TestCallbackTemplateEscapesMessage(t *testing.T) {
	r := gin.New()
	r.SetHTMLTemplate(Templates())
	h := &AuthHandler{origin: "http://localhost:3000", now: time.Now}
	r.GET("/page", func(c *gin.Context) {
		h.render(c, http.StatusOK, &statestore.Result{
			Type:     statestore.XAuthSuccess,
			UserID:   "42",
			Username: "</script><script>alert(1)</script>",
		})
	})

	w := perform(r, http.MethodGet, "/page", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "<script>alert(1)")
	assert.Contains(t, w.Body.String(), "localhost:3000")
	assert.Contains(t, w.Body.String(), "X connected!")
}
