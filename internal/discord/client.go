package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/neftit/taskgate/internal/logger"
)

// ErrMemberNotFound is the upstream 404 for a guild member lookup
var ErrMemberNotFound = errors.New("user not found in discord server")

// maxRetryAfter bounds an upstream Retry-After hint
const maxRetryAfter = time.Minute

// defaultRequestsPerSecond stays under the bot's global Discord allowance
const defaultRequestsPerSecond = 50

// UpstreamError is a Discord API failure that survived the retry budget
type UpstreamError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("Discord API returned status: %d", e.StatusCode)
}

// Member is the subset of a guild member record the verifier reads
type Member struct {
	User struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
	} `json:"user"`
	JoinedAt string   `json:"joined_at"`
	Roles    []string `json:"roles"`
	Pending  bool     `json:"pending"`
}

// Guild is the subset of a guild record used for bot diagnostics
type Guild struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	MemberCount            int    `json:"member_count,omitempty"`
	ApproximateMemberCount int    `json:"approximate_member_count,omitempty"`
}

// ClientOptions tunes the upstream call
type ClientOptions struct {
	BaseURL    string
	BotToken   string
	Timeout    time.Duration
	MaxRetries int
	// RetryInterval is the first backoff step; later steps double it
	RetryInterval time.Duration
	// RequestsPerSecond paces every outbound attempt across callers
	RequestsPerSecond float64
}

// Client calls the Discord REST API with the bot credential
type Client struct {
	baseURL       string
	botToken      string
	timeout       time.Duration
	maxAttempts   int
	retryInterval time.Duration
	pace          *rate.Limiter
	http          *http.Client
}

// NewClient creates a bot-authenticated Discord client
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		botToken:      opts.BotToken,
		timeout:       opts.Timeout,
		maxAttempts:   opts.MaxRetries,
		retryInterval: opts.RetryInterval,
		pace:          rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond))),
		http:          &http.Client{},
	}
}

// GetGuildMember fetches the member record of userID in guildID
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID string) (*Member, error) {
	var member Member
	url := fmt.Sprintf("%s/guilds/%s/members/%s", c.baseURL, guildID, userID)
	if err := c.get(ctx, url, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// GetGuild fetches the guild record, used to check the bot can see the guild
func (c *Client) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var guild Guild
	url := fmt.Sprintf("%s/guilds/%s?with_counts=true", c.baseURL, guildID)
	if err := c.get(ctx, url, &guild); err != nil {
		return nil, err
	}
	return &guild, nil
}

// get runs one GET under the retry budget. Each attempt has its own timeout.
// 404 stops immediately; 429 waits for the upstream Retry-After hint.
func (c *Client) get(ctx context.Context, url string, out interface{}) error {
	b := newRetryAfterBackOff(c.retryInterval)
	attempt := 0
	var lastErr *UpstreamError

	operation := func() error {
		attempt++
		logger.Debug("discord api call",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts))

		if err := c.pace.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		body, status, header, err := c.do(ctx, url)
		if err != nil {
			lastErr = &UpstreamError{Message: err.Error()}
			return lastErr
		}

		switch {
		case status == http.StatusNotFound:
			return backoff.Permanent(ErrMemberNotFound)
		case status == http.StatusTooManyRequests:
			wait := parseRetryAfter(header.Get("Retry-After"))
			logger.Warn("rate limited by discord", zap.Duration("retry_after", wait))
			b.override(wait)
			lastErr = &UpstreamError{StatusCode: status, Message: "Rate limited by Discord API", RetryAfter: wait}
			return lastErr
		case status < 200 || status > 299:
			logger.Warn("discord api error", zap.Int("status", status))
			lastErr = &UpstreamError{StatusCode: status, Message: strings.TrimSpace(string(body))}
			return lastErr
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode discord response: %w", err))
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMemberNotFound) {
		return ErrMemberNotFound
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if lastErr != nil && errors.Is(err, lastErr) {
		return lastErr
	}
	return err
}

func (c *Client) do(ctx context.Context, url string) ([]byte, int, http.Header, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "NEFTIT-Discord-Bot/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to read discord response: %w", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

// parseRetryAfter reads a Retry-After value in seconds, defaulting to 5s
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 5 * time.Second
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return 5 * time.Second
	}
	wait := time.Duration(secs * float64(time.Second))
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	return wait
}

// retryAfterBackOff doubles from a base interval, but the next wait can be
// pinned to an upstream Retry-After hint.
type retryAfterBackOff struct {
	inner       *backoff.ExponentialBackOff
	next        time.Duration
	hasOverride bool
}

func newRetryAfterBackOff(initial time.Duration) *retryAfterBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 30 * initial
	b.MaxElapsedTime = 0
	b.Reset()
	return &retryAfterBackOff{inner: b}
}

func (b *retryAfterBackOff) override(wait time.Duration) {
	b.next = wait
	b.hasOverride = true
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.hasOverride {
		b.hasOverride = false
		// keep the exponential schedule moving
		b.inner.NextBackOff()
		return b.next
	}
	return b.inner.NextBackOff()
}

func (b *retryAfterBackOff) Reset() {
	b.inner.Reset()
	b.hasOverride = false
}
