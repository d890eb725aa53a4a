// Package reconciler keeps a client's cached task flags consistent with the
// server. The server is authoritative: after load and after every successful
// OAuth message the session is fetched again and replaces the local flags.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/participant"
	"github.com/neftit/taskgate/internal/statestore"
	"github.com/neftit/taskgate/internal/taskgate"
)

// alreadyReferred is the server's idempotency rejection of a second referral
const alreadyReferred = "User already has a referrer"

// ErrNoDiscordIdentity means an X identity arrived before any Discord identity
var ErrNoDiscordIdentity = errors.New("connect Discord before X")

// AuthError is an OAuth popup that reported a failure
type AuthError struct {
	Type   string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// View is what the client renders
type View struct {
	DiscordUserID   string                    `json:"discordUserId,omitempty"`
	TwitterUserID   string                    `json:"twitterUserId,omitempty"`
	Tasks           taskgate.Tasks            `json:"tasks"`
	Session         *taskgate.Session         `json:"session,omitempty"`
	Referral        *participant.ReferralInfo `json:"referral,omitempty"`
	PendingReferral string                    `json:"pendingReferral,omitempty"`
	// ReferralError is a rejected referral code; it never fails the load
	ReferralError string `json:"referralError,omitempty"`
}

// Reconciler merges server state into the local store
type Reconciler struct {
	api   API
	store LocalStore
}

// New creates a reconciler
func New(api API, store LocalStore) *Reconciler {
	return &Reconciler{api: api, store: store}
}

// Load runs on page load. refCode is the referral code from the landing URL,
// if any; without a Discord identity it is stashed for later.
func (r *Reconciler) Load(ctx context.Context, refCode string) (View, error) {
	discordID, err := r.get(KeyDiscordUserID)
	if err != nil {
		return View{}, err
	}

	referralErr := ""
	if refCode != "" {
		if discordID == "" {
			if err := r.store.Set(KeyPendingReferral, refCode); err != nil {
				return View{}, err
			}
			logger.Debug("referral code stashed", zap.String("referral_code", refCode))
		} else if referralErr, err = r.applyReferral(ctx, discordID, refCode); err != nil {
			return View{}, err
		}
	}

	if discordID == "" {
		return r.fresh()
	}

	view, err := r.refresh(ctx, discordID)
	if err != nil {
		return View{}, err
	}
	view.ReferralError = referralErr
	return view, nil
}

// HandleMessage applies one OAuth popup message. A failed handshake leaves
// the local state untouched and returns an *AuthError with the reason.
func (r *Reconciler) HandleMessage(ctx context.Context, msg statestore.Result) (View, error) {
	switch msg.Type {
	case statestore.DiscordAuthSuccess, statestore.XAuthSuccess, statestore.DiscordAuthError, statestore.XAuthError:
	default:
		return View{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	if !msg.Success() {
		view, err := r.cached()
		if err != nil {
			return View{}, err
		}
		return view, &AuthError{Type: msg.Type, Reason: reason(msg)}
	}

	if msg.Type == statestore.DiscordAuthSuccess {
		return r.discordConnected(ctx, msg)
	}
	return r.twitterConnected(ctx, msg)
}

func (r *Reconciler) discordConnected(ctx context.Context, msg statestore.Result) (View, error) {
	previous, err := r.get(KeyDiscordUserID)
	if err != nil {
		return View{}, err
	}
	if previous != "" && previous != msg.UserID {
		// another Discord account: the cached X identity belongs to the old one
		if err := r.store.Delete(KeyTwitterUserID); err != nil {
			return View{}, err
		}
	}
	if err := r.store.Set(KeyDiscordUserID, msg.UserID); err != nil {
		return View{}, err
	}

	referralErr := ""
	pending, err := r.get(KeyPendingReferral)
	if err != nil {
		return View{}, err
	}
	if pending != "" {
		if referralErr, err = r.applyReferral(ctx, msg.UserID, pending); err != nil {
			return View{}, err
		}
	}

	view, err := r.refresh(ctx, msg.UserID)
	if err != nil {
		return View{}, err
	}
	view.ReferralError = referralErr
	return view, nil
}

func (r *Reconciler) twitterConnected(ctx context.Context, msg statestore.Result) (View, error) {
	discordID, err := r.get(KeyDiscordUserID)
	if err != nil {
		return View{}, err
	}

	if !msg.Restored {
		// the popup payload is the only source of a fresh X identity
		if discordID == "" {
			return View{}, ErrNoDiscordIdentity
		}
		err := r.api.LinkTwitter(ctx, LinkTwitterRequest{
			DiscordUserID:   discordID,
			TwitterUserID:   msg.UserID,
			TwitterUsername: msg.Username,
			TwitterEmail:    msg.Email,
		})
		if err != nil {
			return View{}, err
		}
	}

	if err := r.store.Set(KeyTwitterUserID, msg.UserID); err != nil {
		return View{}, err
	}
	if discordID == "" {
		return r.cached()
	}
	return r.refresh(ctx, discordID)
}

// refresh replaces the local flags with the server's session. An unknown
// Discord id resets the client to a fresh visitor.
func (r *Reconciler) refresh(ctx context.Context, discordID string) (View, error) {
	session, err := r.api.Session(ctx, discordID)
	if errors.Is(err, ErrSessionNotFound) {
		logger.Info("cached discord identity unknown to server, resetting", zap.String("discord_user_id", discordID))
		for _, key := range []string{KeyDiscordUserID, KeyTwitterUserID, KeyTasks} {
			if err := r.store.Delete(key); err != nil {
				return View{}, err
			}
		}
		return r.fresh()
	}
	if err != nil {
		return View{}, err
	}

	if err := r.saveTasks(session.Tasks); err != nil {
		return View{}, err
	}

	view, err := r.cached()
	if err != nil {
		return View{}, err
	}
	view.Session = &session

	info, err := r.api.Referral(ctx, discordID)
	if err != nil {
		logger.Warn("failed to load referral info", zap.String("discord_user_id", discordID), zap.Error(err))
	} else {
		view.Referral = &info
	}
	return view, nil
}

// applyReferral returns the rejection text of a refused code. A code the
// server refuses is dropped from the stash; "already has a referrer" is not
// reported at all.
func (r *Reconciler) applyReferral(ctx context.Context, discordID, code string) (string, error) {
	err := r.api.ApplyReferral(ctx, discordID, code)

	var apiErr *APIError
	switch {
	case err == nil:
		logger.Info("referral code applied", zap.String("discord_user_id", discordID))
	case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
		if apiErr.Message != alreadyReferred {
			logger.Warn("referral code rejected", zap.String("discord_user_id", discordID), zap.String("reason", apiErr.Message))
			if delErr := r.store.Delete(KeyPendingReferral); delErr != nil {
				return "", delErr
			}
			return apiErr.Message, nil
		}
	default:
		// keep the stash for the next attempt
		logger.Warn("failed to apply referral code", zap.String("discord_user_id", discordID), zap.Error(err))
		return "", nil
	}
	return "", r.store.Delete(KeyPendingReferral)
}

func (r *Reconciler) fresh() (View, error) {
	if err := r.saveTasks(taskgate.Fresh()); err != nil {
		return View{}, err
	}
	return r.cached()
}

// cached builds the view from the local store alone
func (r *Reconciler) cached() (View, error) {
	var (
		view View
		err  error
	)
	if view.DiscordUserID, err = r.get(KeyDiscordUserID); err != nil {
		return View{}, err
	}
	if view.TwitterUserID, err = r.get(KeyTwitterUserID); err != nil {
		return View{}, err
	}
	if view.PendingReferral, err = r.get(KeyPendingReferral); err != nil {
		return View{}, err
	}

	raw, err := r.get(KeyTasks)
	if err != nil {
		return View{}, err
	}
	view.Tasks = taskgate.Fresh()
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &view.Tasks); err != nil {
			logger.Warn("discarding unreadable cached tasks", zap.Error(err))
			view.Tasks = taskgate.Fresh()
		}
	}
	return view, nil
}

func (r *Reconciler) saveTasks(tasks taskgate.Tasks) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to encode tasks: %w", err)
	}
	return r.store.Set(KeyTasks, string(data))
}

func (r *Reconciler) get(key string) (string, error) {
	v, _, err := r.store.Get(key)
	return v, err
}

func reason(msg statestore.Result) string {
	if msg.Error != "" {
		return msg.Error
	}
	return "authentication failed"
}
