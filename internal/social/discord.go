package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/neftit/taskgate/internal/config"
)

// DiscordScopes are requested on every Discord authorization
var DiscordScopes = []string{"identify", "guilds.join"}

// DiscordProvider runs the Discord authorization-code flow
type DiscordProvider struct {
	oauth      oauth2.Config
	apiBaseURL string
	botToken   string
	client     *http.Client
	newBackOff BackOffFunc
}

// NewDiscordProvider creates the Discord provider from configuration
func NewDiscordProvider(cfg config.DiscordConfig) *DiscordProvider {
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	return &DiscordProvider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       DiscordScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBaseURL: base,
		botToken:   cfg.BotToken,
		client:     &http.Client{Timeout: 15 * time.Second},
		newBackOff: DefaultBackOff,
	}
}

// WithBackOff replaces the retry schedule of profile lookups
func (p *DiscordProvider) WithBackOff(fn BackOffFunc) *DiscordProvider {
	p.newBackOff = fn
	return p
}

// Configured reports whether client credentials are present
func (p *DiscordProvider) Configured() bool {
	return p.oauth.ClientID != "" && p.oauth.ClientSecret != ""
}

// AuthURL is the authorization redirect for state
func (p *DiscordProvider) AuthURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades the authorization code for a token
func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !p.Configured() {
		return nil, ErrNotConfigured
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("discord token exchange failed: %w", err)
	}
	return token, nil
}

// FetchProfile looks up the user the access token belongs to
func (p *DiscordProvider) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	var resp struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	url := p.apiBaseURL + "/users/@me"
	if err := getJSON(ctx, p.client, p.newBackOff, url, "Bearer "+accessToken, &resp); err != nil {
		return Profile{}, fmt.Errorf("discord profile lookup failed: %w", err)
	}
	if resp.ID == "" {
		return Profile{}, fmt.Errorf("discord profile lookup returned no id")
	}
	return Profile{ID: resp.ID, Username: resp.Username, Email: resp.Email}, nil
}

// AddGuildMember asks the bot to add the user to the guild. Joining through
// this call is a convenience: membership is still verified separately.
func (p *DiscordProvider) AddGuildMember(ctx context.Context, guildID, userID, accessToken string) error {
	if guildID == "" || p.botToken == "" {
		return fmt.Errorf("guild join skipped: guild id or bot token not configured")
	}

	body, err := json.Marshal(map[string]string{"access_token": accessToken})
	if err != nil {
		return fmt.Errorf("failed to marshal guild join: %w", err)
	}

	url := fmt.Sprintf("%s/guilds/%s/members/%s", p.apiBaseURL, guildID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+p.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("guild join request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return nil
}
