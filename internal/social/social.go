// Package social drives the OAuth handshakes with X and Discord and performs
// the profile lookups that follow a token exchange.
package social

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/logger"
)

// Provider names, also used as the state store provider tag
const (
	ProviderX       = "x"
	ProviderDiscord = "discord"
)

// ErrNotConfigured is returned when a provider has no client credentials
var ErrNotConfigured = errors.New("oauth provider is not configured")

// Profile is the identity a provider resolved for an access token
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// StatusError is a non-2xx answer from a provider API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// NewState returns a random 32-character hex state token
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// BackOffFunc builds the retry schedule for one profile lookup
type BackOffFunc func() backoff.BackOff

// DefaultBackOff retries a profile lookup for at most 10 seconds
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 4 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	return backoff.WithMaxRetries(b, 3)
}

// getJSON performs an authenticated GET and decodes the body into out.
// Network errors, 429 and 5xx are retried; any other status is permanent.
func getJSON(ctx context.Context, client *http.Client, newBackOff BackOffFunc, url, authorization string, out interface{}) error {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", authorization)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logger.Warn("failed to close response body", zap.Error(err), zap.String("url", url))
			}
		}()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			logger.Warn("provider request failed, retrying",
				zap.String("url", url),
				zap.Int("status", resp.StatusCode))
			return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: string(data)})
		}

		body = data
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(newBackOff(), ctx)); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
