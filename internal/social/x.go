package social

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/logger"
)

// XScopes are requested on every X authorization
var XScopes = []string{"tweet.read", "users.read", "follows.read", "follows.write", "offline.access"}

// XProvider runs the X authorization-code + PKCE flow
type XProvider struct {
	oauth      oauth2.Config
	apiBaseURL string
	client     *http.Client
	newBackOff BackOffFunc
}

// NewXProvider creates the X provider from configuration
func NewXProvider(cfg config.XConfig) *XProvider {
	return &XProvider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       XScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:     &http.Client{Timeout: 15 * time.Second},
		newBackOff: DefaultBackOff,
	}
}

// WithBackOff replaces the retry schedule of profile lookups
func (p *XProvider) WithBackOff(fn BackOffFunc) *XProvider {
	p.newBackOff = fn
	return p
}

// Configured reports whether client credentials are present
func (p *XProvider) Configured() bool {
	return p.oauth.ClientID != "" && p.oauth.ClientSecret != ""
}

// NewVerifier returns a fresh PKCE code verifier
func (p *XProvider) NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthURL is the authorization redirect for state, carrying the S256 challenge of verifier
func (p *XProvider) AuthURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades the authorization code and its verifier for a token
func (p *XProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if !p.Configured() {
		return nil, ErrNotConfigured
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("x token exchange failed: %w", err)
	}
	return token, nil
}

// FetchProfile looks up the user the access token belongs to
func (p *XProvider) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	var resp struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"data"`
	}
	url := p.apiBaseURL + "/2/users/me"
	if err := getJSON(ctx, p.client, p.newBackOff, url, "Bearer "+accessToken, &resp); err != nil {
		return Profile{}, fmt.Errorf("x profile lookup failed: %w", err)
	}
	if resp.Data.ID == "" {
		return Profile{}, fmt.Errorf("x profile lookup returned no id")
	}
	return Profile{ID: resp.Data.ID, Username: resp.Data.Username}, nil
}

// ResolveProfile fetches the profile, falling back to PseudoProfile when the
// lookup keeps failing. The second return value reports the fallback.
func (p *XProvider) ResolveProfile(ctx context.Context, accessToken string) (Profile, bool) {
	profile, err := p.FetchProfile(ctx, accessToken)
	if err == nil {
		return profile, false
	}
	logger.Warn("x profile unavailable, using token-derived identity", zap.Error(err))
	return PseudoProfile(accessToken), true
}

// PseudoProfile derives a stable identity from an access token. The same
// token always yields the same id; a refreshed token yields a new one.
func PseudoProfile(accessToken string) Profile {
	sum := sha256.Sum256([]byte(accessToken))
	return Profile{
		ID:       "twitter_" + hex.EncodeToString(sum[:])[:16],
		Username: "twitter_user",
	}
}
