// Package participant stores the participant records and enforces the task
// order, the identity uniqueness rules and the referral lifecycle.
package participant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/neftit/taskgate/internal/database"
	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/models"
	"github.com/neftit/taskgate/internal/social"
	"github.com/neftit/taskgate/internal/taskgate"
)

const (
	referralCodeLength         = 8
	referralCodeFallbackLength = 12
)

// Stats are the participation totals of the ops endpoint
type Stats struct {
	TotalUsers      int64 `json:"total_users"`
	XUsers          int64 `json:"x_users"`
	DiscordUsers    int64 `json:"discord_users"`
	FollowedNeftit  int64 `json:"followed_neftit"`
	WalletConnected int64 `json:"wallet_connected"`
}

// Repository reads and writes participant records
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository on db
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Participant, error) {
	var p models.Participant
	err := r.db.WithContext(ctx).Where(query, args...).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	return &p, nil
}

// FindByDiscordID finds the record anchored on a Discord identity
func (r *Repository) FindByDiscordID(ctx context.Context, discordID string) (*models.Participant, error) {
	return r.findOne(ctx, "discord_provider_id = ?", discordID)
}

// FindByTwitterID finds the record holding an X identity
func (r *Repository) FindByTwitterID(ctx context.Context, twitterID string) (*models.Participant, error) {
	return r.findOne(ctx, "twitter_provider_id = ?", twitterID)
}

// FindByWallet finds the record holding a wallet, ignoring case
func (r *Repository) FindByWallet(ctx context.Context, wallet string) (*models.Participant, error) {
	return r.findOne(ctx, "LOWER(wallet_address) = LOWER(?)", wallet)
}

// FindByEmail finds a record by either provider email, ignoring case
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.Participant, error) {
	return r.findOne(ctx, "LOWER(discord_email) = LOWER(?) OR LOWER(twitter_email) = LOWER(?)", email, email)
}

// FindByReferralCode finds the owner of a referral code
func (r *Repository) FindByReferralCode(ctx context.Context, code string) (*models.Participant, error) {
	return r.findOne(ctx, "referral_code = ?", code)
}

// CreateFromDiscord creates a record anchored on a Discord identity
func (r *Repository) CreateFromDiscord(ctx context.Context, profile social.Profile, now time.Time) (*models.Participant, error) {
	p := models.Participant{
		DiscordProviderID:    &profile.ID,
		DiscordUsername:      profile.Username,
		DiscordEmail:         optional(profile.Email),
		DiscordSocialAddress: "social:discord:" + profile.ID,
		DiscordConnectedAt:   &now,
	}
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDiscordTaken
		}
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return &p, nil
}

// RefreshDiscordProfile rewrites the cached Discord profile fields
func (r *Repository) RefreshDiscordProfile(ctx context.Context, id uuid.UUID, profile social.Profile, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Participant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"discord_username":       profile.Username,
		"discord_email":          optional(profile.Email),
		"discord_connected_at":   now,
		"discord_social_address": "social:discord:" + profile.ID,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to refresh discord profile: %w", err)
	}
	return nil
}

// RefreshTwitterProfile rewrites the cached X profile fields of an unlocked record
func (r *Repository) RefreshTwitterProfile(ctx context.Context, id uuid.UUID, profile social.Profile, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ? AND wallet_address IS NULL", id).
		Updates(map[string]interface{}{
			"twitter_username":       profile.Username,
			"twitter_email":          optional(profile.Email),
			"twitter_connected_at":   now,
			"twitter_social_address": "social:twitter:" + profile.ID,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to refresh x profile: %w", err)
	}
	return nil
}

// AttachTwitter binds an X identity to an unlocked record
func (r *Repository) AttachTwitter(ctx context.Context, id uuid.UUID, profile social.Profile, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ? AND wallet_address IS NULL", id).
		Updates(map[string]interface{}{
			"twitter_provider_id":    profile.ID,
			"twitter_username":       profile.Username,
			"twitter_email":          optional(profile.Email),
			"twitter_connected_at":   now,
			"twitter_social_address": "social:twitter:" + profile.ID,
		})
	if res.Error != nil {
		if database.IsUniqueViolation(res.Error) {
			return ErrTwitterTaken
		}
		return fmt.Errorf("failed to attach x account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountLocked
	}
	return nil
}

// MarkTwitterFollowed records the follow step
func (r *Repository) MarkTwitterFollowed(ctx context.Context, id uuid.UUID, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Participant{}).Where("id = ?", id).Updates(map[string]interface{}{
		"twitter_followed":    true,
		"twitter_followed_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to mark follow: %w", err)
	}
	return nil
}

// MarkDiscordJoined sets the joined flag of the record holding discordID.
// Verifying a user without a record is not an error.
func (r *Repository) MarkDiscordJoined(ctx context.Context, discordID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("discord_provider_id = ?", discordID).
		Updates(map[string]interface{}{
			"discord_joined":    true,
			"discord_joined_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record discord join: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logger.Debug("discord join verified without a record", zap.String("discord_user_id", discordID))
	}
	return nil
}

// AttachWallet locks the record with its wallet, assigns its referral code and
// credits its referrer, all in one transaction. When a concurrent attach took
// the short referral code first, it retries once with the wide code.
func (r *Repository) AttachWallet(ctx context.Context, p *models.Participant, wallet string, now time.Time) (string, bool, error) {
	code, credited, err := r.attachWallet(ctx, p, wallet, now, referralCodeLength)
	if errors.Is(err, ErrReferralCodeTaken) && code != ReferralCode(p.ID, referralCodeFallbackLength) {
		logger.Warn("referral code taken during wallet attach, widening",
			zap.String("participant_id", p.ID.String()), zap.String("referral_code", code))
		code, credited, err = r.attachWallet(ctx, p, wallet, now, referralCodeFallbackLength)
	}
	if err != nil {
		return "", false, err
	}
	return code, credited, nil
}

func (r *Repository) attachWallet(ctx context.Context, p *models.Participant, wallet string, now time.Time, length int) (string, bool, error) {
	var code string
	credited := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		code, err = r.assignableReferralCode(tx, p, length)
		if err != nil {
			return err
		}

		res := tx.Model(&models.Participant{}).
			Where("id = ? AND wallet_address IS NULL", p.ID).
			Updates(map[string]interface{}{
				"wallet_address":      wallet,
				"wallet_connected_at": now,
				"referral_code":       code,
			})
		if res.Error != nil {
			if database.IsUniqueViolation(res.Error) {
				return errUniqueViolation
			}
			return fmt.Errorf("failed to attach wallet: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountLocked
		}

		p.WalletAddress = &wallet
		p.WalletConnectedAt = &now
		p.ReferralCode = &code

		credited, err = creditReferral(tx, p, now)
		return err
	})
	if errors.Is(err, errUniqueViolation) {
		err = r.attachConflict(ctx, p, wallet, code)
	}
	return code, credited, err
}

// errUniqueViolation marks a failed attach until attachConflict names the column
var errUniqueViolation = errors.New("unique constraint violated")

// attachConflict finds which unique column an attach collided on. Drivers
// translate the violation without the constraint name, and a failed
// transaction cannot be queried on postgres, so this reads after rollback.
func (r *Repository) attachConflict(ctx context.Context, p *models.Participant, wallet, code string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Participant{}).Where("LOWER(wallet_address) = LOWER(?) AND id <> ?", wallet, p.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check wallet owner: %w", err)
	}
	if count > 0 {
		return ErrWalletTaken
	}

	if err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("referral_code = ? AND id <> ?", code, p.ID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check referral code owner: %w", err)
	}
	if count > 0 {
		return ErrReferralCodeTaken
	}
	return fmt.Errorf("failed to attach wallet: %w", errUniqueViolation)
}

// CreditReferral credits the referrer of the record holding discordID once it
// completed every task. It reports whether this call did the credit.
func (r *Repository) CreditReferral(ctx context.Context, discordID string, now time.Time) (bool, error) {
	credited := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Participant
		if err := tx.Where("discord_provider_id = ?", discordID).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load participant: %w", err)
		}
		var err error
		credited, err = creditReferral(tx, &p, now)
		return err
	})
	return credited, err
}

// creditReferral is the single place a referrer's completed count grows. The
// conditional update on referral_credited_at makes it fire once per referee.
func creditReferral(tx *gorm.DB, p *models.Participant, now time.Time) (bool, error) {
	if p.ReferredBy == nil || *p.ReferredBy == "" || !taskgate.AllCompleted(p) {
		return false, nil
	}

	res := tx.Model(&models.Participant{}).
		Where("id = ? AND referral_credited_at IS NULL", p.ID).
		Update("referral_credited_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark referral credited: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	res = tx.Model(&models.Participant{}).
		Where("referral_code = ?", *p.ReferredBy).
		UpdateColumn("referral_completed_count", gorm.Expr("referral_completed_count + ?", 1))
	if res.Error != nil {
		return false, fmt.Errorf("failed to credit referrer: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logger.Warn("referrer not found for code", zap.String("referral_code", *p.ReferredBy))
	}
	p.ReferralCreditedAt = &now
	return true, nil
}

// assignableReferralCode keeps an existing code, otherwise derives one from
// the id and widens it when the short form is already held by someone else.
func (r *Repository) assignableReferralCode(tx *gorm.DB, p *models.Participant, length int) (string, error) {
	if p.ReferralCode != nil && *p.ReferralCode != "" {
		return *p.ReferralCode, nil
	}
	code := ReferralCode(p.ID, length)
	if length >= referralCodeFallbackLength {
		return code, nil
	}

	var count int64
	if err := tx.Model(&models.Participant{}).
		Where("referral_code = ? AND id <> ?", code, p.ID).
		Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to check referral code: %w", err)
	}
	if count > 0 {
		code = ReferralCode(p.ID, referralCodeFallbackLength)
	}
	return code, nil
}

// SetReferralCode assigns a code to a completed record that has none
func (r *Repository) SetReferralCode(ctx context.Context, p *models.Participant) (string, error) {
	var code string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		code, err = r.assignableReferralCode(tx, p, referralCodeLength)
		if err != nil {
			return err
		}
		return tx.Model(&models.Participant{}).
			Where("id = ? AND referral_code IS NULL", p.ID).
			Update("referral_code", code).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to set referral code: %w", err)
	}
	p.ReferralCode = &code
	return code, nil
}

// ApplyReferral sets referred_by once and counts the referee on the referrer
func (r *Repository) ApplyReferral(ctx context.Context, referee, referrer *models.Participant, code string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Participant{}).
			Where("id = ? AND referred_by IS NULL", referee.ID).
			Update("referred_by", code)
		if res.Error != nil {
			return fmt.Errorf("failed to apply referral: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyReferred
		}

		if err := tx.Model(&models.Participant{}).
			Where("id = ?", referrer.ID).
			UpdateColumn("referral_count", gorm.Expr("referral_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("failed to count referral: %w", err)
		}
		referee.ReferredBy = &code
		return nil
	})
}

// CountParticipants counts records holding a Discord identity
func (r *Repository) CountParticipants(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("discord_provider_id IS NOT NULL").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

// Stats counts records per completed step
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	counts := []struct {
		dst   *int64
		where string
		args  []interface{}
	}{
		{&s.TotalUsers, "", nil},
		{&s.XUsers, "twitter_provider_id IS NOT NULL", nil},
		{&s.DiscordUsers, "discord_provider_id IS NOT NULL", nil},
		{&s.FollowedNeftit, "twitter_followed = ?", []interface{}{true}},
		{&s.WalletConnected, "wallet_address IS NOT NULL", nil},
	}
	for _, c := range counts {
		q := r.db.WithContext(ctx).Model(&models.Participant{})
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return Stats{}, fmt.Errorf("failed to compute stats: %w", err)
		}
	}
	return s, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
