// Package statestore keeps OAuth handshake state between the redirect to a
// provider and its callback. States are disposable: losing one only forces the
// user to start the handshake again.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/neftit/taskgate/internal/logger"
)

// DefaultTTL is how long a handshake state stays claimable
const DefaultTTL = time.Hour

// ErrStateNotFound is returned for unknown or expired state keys
var ErrStateNotFound = errors.New("oauth state not found")

// Message types posted to the opener window
const (
	DiscordAuthSuccess = "DISCORD_AUTH_SUCCESS"
	DiscordAuthError   = "DISCORD_AUTH_ERROR"
	XAuthSuccess       = "X_AUTH_SUCCESS"
	XAuthError         = "X_AUTH_ERROR"
)

// Result is the outcome of a finished handshake, as delivered to the opener window
type Result struct {
	Type     string `json:"type"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	State    string `json:"state,omitempty"`
	Restored bool   `json:"restored,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Success reports whether the handshake produced an identity
func (r Result) Success() bool {
	return r.Error == "" && r.UserID != ""
}

// State is one pending or finished OAuth handshake
type State struct {
	Provider       string    `json:"provider"`
	CodeVerifier   string    `json:"codeVerifier,omitempty"`
	CreatedAt      time.Time `json:"timestamp"`
	AccessToken    string    `json:"accessToken,omitempty"`
	ProviderUserID string    `json:"userId,omitempty"`
	// PseudoIdentity marks a ProviderUserID derived from the token because
	// the profile lookup failed
	PseudoIdentity bool      `json:"pseudoIdentity,omitempty"`
	Result         *Result   `json:"result,omitempty"`
}

// Expired reports whether s is older than ttl at now
func (s State) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// Store persists handshake states
type Store interface {
	Set(ctx context.Context, key string, state State) error
	Get(ctx context.Context, key string) (State, error)
	Delete(ctx context.Context, key string) error
	// Sweep drops states that expired at now and returns how many were removed
	Sweep(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
	Name() string
}

// Select picks the store once at startup: Redis when a client is given and
// answers, then the database table when the database answers, then memory.
func Select(ctx context.Context, rdb *redis.Client, db *gorm.DB, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if rdb != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.Info("oauth state store selected", zap.String("backend", "redis"))
			return NewRedisStore(rdb, ttl)
		}
		logger.Warn("redis unavailable for oauth states", zap.Error(err))
	}

	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err = sqlDB.PingContext(pingCtx)
			cancel()
			if err == nil {
				logger.Info("oauth state store selected", zap.String("backend", "database"))
				return NewDBStore(db, ttl)
			}
			logger.Warn("database unavailable for oauth states", zap.Error(err))
		}
	}

	logger.Warn("oauth state store selected", zap.String("backend", "memory"))
	return NewMemoryStore(ttl)
}
