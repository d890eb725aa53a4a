// Package discord decides whether a Discord user is a full member of the
// configured guild. OAuth connection alone never counts as joining: only a
// positive verdict from the guild member API does.
package discord

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/logger"
)

// Validation errors, in the order they are checked
var (
	ErrMissingUserID   = errors.New("missing required parameter: discordUserId")
	ErrMissingGuildID  = errors.New("discord guild ID not configured on server")
	ErrInvalidUserID   = errors.New("invalid discord user ID format")
	ErrMissingBotToken = errors.New("discord bot token not configured on server")
)

var userIDPattern = regexp.MustCompile(`^\d{17,19}$`)

// defaultBudget bounds one upstream verification, retries included
const defaultBudget = 25 * time.Second

// Code is the machine-readable error code of a validation error
func Code(err error) string {
	switch {
	case errors.Is(err, ErrMissingUserID):
		return "MISSING_USER_ID"
	case errors.Is(err, ErrMissingGuildID):
		return "MISSING_GUILD_ID"
	case errors.Is(err, ErrInvalidUserID):
		return "INVALID_USER_ID"
	case errors.Is(err, ErrMissingBotToken):
		return "MISSING_BOT_TOKEN"
	}
	return ""
}

// NeedsSetup reports whether err is missing server configuration rather than bad input
func NeedsSetup(err error) bool {
	return errors.Is(err, ErrMissingGuildID) || errors.Is(err, ErrMissingBotToken)
}

// MemberClient looks up guild members
type MemberClient interface {
	GetGuildMember(ctx context.Context, guildID, userID string) (*Member, error)
}

// JoinRecorder persists a verified join. It is the only writer of the joined flag.
type JoinRecorder interface {
	MarkDiscordJoined(ctx context.Context, discordID string, at time.Time) error
}

// VerifyRequest names the user to check and, optionally, the guild
type VerifyRequest struct {
	UserID  string
	GuildID string
}

// MemberData is the member summary returned to the client
type MemberData struct {
	Username      string   `json:"username"`
	Discriminator string   `json:"discriminator"`
	JoinedAt      string   `json:"joinedAt"`
	Roles         []string `json:"roles"`
}

// VerifyResult is the verdict of one membership check
type VerifyResult struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	IsMember   bool        `json:"isMember"`
	Pending    bool        `json:"pending,omitempty"`
	GuildID    string      `json:"guildId"`
	UserID     string      `json:"userId"`
	MemberData *MemberData `json:"memberData,omitempty"`
	Error      string      `json:"error,omitempty"`
	Cached     bool        `json:"cached"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Verifier runs membership checks through the cache and the upstream API
type Verifier struct {
	client   MemberClient
	cache    *Cache
	health   *Health
	recorder JoinRecorder
	guildID  string
	botToken string
	budget   time.Duration
	now      func() time.Time
}

// NewVerifier creates a verifier for the configured guild
func NewVerifier(cfg config.DiscordConfig, client MemberClient, cache *Cache, health *Health, recorder JoinRecorder) *Verifier {
	return &Verifier{
		client:   client,
		cache:    cache,
		health:   health,
		recorder: recorder,
		guildID:  cfg.GuildID,
		botToken: cfg.BotToken,
		budget:   defaultBudget,
		now:      time.Now,
	}
}

// WithBudget bounds the total time spent on the upstream lookup
func (v *Verifier) WithBudget(budget time.Duration) *Verifier {
	if budget > 0 {
		v.budget = budget
	}
	return v
}

// WithClock replaces the clock used for timestamps
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Cache exposes the verdict cache for the ops endpoints
func (v *Verifier) Cache() *Cache { return v.cache }

// Health exposes the counters for the ops endpoints
func (v *Verifier) Health() *Health { return v.health }

// Configured reports whether a guild and a bot token are set
func (v *Verifier) Configured() bool {
	return v.guildID != "" && v.botToken != ""
}

// GuildID is the configured guild
func (v *Verifier) GuildID() string { return v.guildID }

func (v *Verifier) validate(req VerifyRequest) (string, error) {
	if req.UserID == "" {
		return "", ErrMissingUserID
	}
	guildID := strings.TrimSpace(req.GuildID)
	if guildID == "" || config.IsPlaceholder(guildID) {
		guildID = v.guildID
	}
	if guildID == "" {
		return "", ErrMissingGuildID
	}
	if !userIDPattern.MatchString(req.UserID) {
		return "", ErrInvalidUserID
	}
	if v.botToken == "" {
		return "", ErrMissingBotToken
	}
	return guildID, nil
}

// Verify checks guild membership of req.UserID. Validation failures are
// returned as errors; every upstream outcome is a result.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	v.health.RecordRequest()

	guildID, err := v.validate(req)
	if err != nil {
		message := ""
		if NeedsSetup(err) {
			message = err.Error()
		}
		v.health.RecordFailure(message, false, v.now())
		return nil, err
	}

	if cached, ok := v.cache.Get(req.UserID, guildID); ok {
		logger.Debug("using cached discord verdict", zap.String("discord_user_id", req.UserID))
		v.health.RecordSuccess()
		cached.Cached = true
		cached.Timestamp = v.now()
		return &cached, nil
	}

	result := VerifyResult{
		GuildID: guildID,
		UserID:  req.UserID,
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.budget)
	member, err := v.client.GetGuildMember(lookupCtx, guildID, req.UserID)
	cancel()
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = &UpstreamError{Message: "Discord verification timed out after " + v.budget.String()}
	}

	switch {
	case errors.Is(err, ErrMemberNotFound):
		result.Message = "User not found in Discord server. Please join the server first."
		v.health.RecordFailure("", false, v.now())

	case err != nil:
		logger.ErrorCtx(ctx, err, zap.String("discord_user_id", req.UserID), zap.String("guild_id", guildID))
		result.Message = "Failed to verify Discord membership"
		result.Error = err.Error()
		v.health.RecordFailure(err.Error(), true, v.now())

	case member.Pending:
		result.Message = "Please join the discord and try again!"
		result.Pending = true
		result.MemberData = memberData(member)
		v.health.RecordFailure("", false, v.now())

	default:
		result.Success = true
		result.IsMember = true
		result.Message = "Discord membership verified successfully!"
		result.MemberData = memberData(member)
		v.health.RecordSuccess()
		v.cache.Set(req.UserID, guildID, result)
		v.recordJoin(ctx, req.UserID)
	}

	result.Timestamp = v.now()
	return &result, nil
}

func (v *Verifier) recordJoin(ctx context.Context, userID string) {
	if v.recorder == nil {
		return
	}
	if err := v.recorder.MarkDiscordJoined(ctx, userID, v.now()); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("discord_user_id", userID), zap.String("stage", "record_join"))
		return
	}
	logger.Info("discord join recorded", zap.String("discord_user_id", userID))
}

func memberData(m *Member) *MemberData {
	roles := m.Roles
	if roles == nil {
		roles = []string{}
	}
	return &MemberData{
		Username:      m.User.Username,
		Discriminator: m.User.Discriminator,
		JoinedAt:      m.JoinedAt,
		Roles:         roles,
	}
}
