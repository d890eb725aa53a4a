package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/neftit/taskgate/internal/participant"
	"github.com/neftit/taskgate/internal/taskgate"
)

// ErrSessionNotFound is the server's answer for an unknown Discord id
var ErrSessionNotFound = errors.New("session not found")

// APIError is a rejected request; Message is the server's error text
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("taskgate api returned %d: %s", e.StatusCode, e.Message)
}

// LinkTwitterRequest attaches a freshly resolved X identity
type LinkTwitterRequest struct {
	DiscordUserID   string `json:"discordUserId"`
	TwitterUserID   string `json:"twitterUserId"`
	TwitterUsername string `json:"twitterUsername,omitempty"`
	TwitterEmail    string `json:"twitterEmail,omitempty"`
}

// API is the part of the server the reconciler talks to
type API interface {
	Session(ctx context.Context, discordUserID string) (taskgate.Session, error)
	Referral(ctx context.Context, discordUserID string) (participant.ReferralInfo, error)
	LinkTwitter(ctx context.Context, req LinkTwitterRequest) error
	ApplyReferral(ctx context.Context, discordUserID, code string) error
}

// Client calls the task-gate HTTP API
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		maxRetries: 2,
	}
}

func (c *Client) Session(ctx context.Context, discordUserID string) (taskgate.Session, error) {
	var out struct {
		Success bool             `json:"success"`
		Session taskgate.Session `json:"session"`
	}
	err := c.call(ctx, http.MethodGet, "/api/session/"+url.PathEscape(discordUserID), nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return taskgate.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return taskgate.Session{}, err
	}
	return out.Session, nil
}

func (c *Client) Referral(ctx context.Context, discordUserID string) (participant.ReferralInfo, error) {
	var out participant.ReferralInfo
	err := c.call(ctx, http.MethodGet, "/api/referral/"+url.PathEscape(discordUserID), nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return participant.ReferralInfo{}, ErrSessionNotFound
	}
	return out, err
}

func (c *Client) LinkTwitter(ctx context.Context, req LinkTwitterRequest) error {
	return c.call(ctx, http.MethodPost, "/api/link-twitter-to-session", req, nil)
}

func (c *Client) ApplyReferral(ctx context.Context, discordUserID, code string) error {
	body := map[string]string{"discordUserId": discordUserID, "referralCode": code}
	return c.call(ctx, http.MethodPost, "/api/apply-referral", body, nil)
}

// call sends one request, retrying transport failures and 5xx answers.
// 4xx answers are returned at once as *APIError.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

// errorMessage pulls the error text out of a JSON error body
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(body))
}
