package models

import (
	"time"
)

// Participant is one eligible user of the drop. A record is anchored on its
// Discord identity and collects the X identity and the wallet address in that
// order. Once WalletAddress is set the record is locked.
type Participant struct {
	Base

	DiscordProviderID    *string    `gorm:"type:varchar(32);uniqueIndex" json:"discord_provider_id"`
	DiscordUsername      string     `gorm:"type:varchar(100)" json:"discord_username"`
	DiscordEmail         *string    `gorm:"type:varchar(255)" json:"discord_email,omitempty"`
	DiscordSocialAddress string     `gorm:"type:varchar(100)" json:"discord_social_address"`
	DiscordConnectedAt   *time.Time `json:"discord_connected_at"`
	DiscordJoined        bool       `gorm:"default:false;not null" json:"discord_joined"`
	DiscordJoinedAt      *time.Time `json:"discord_joined_at"`

	TwitterProviderID    *string    `gorm:"type:varchar(64);uniqueIndex" json:"twitter_provider_id"`
	TwitterUsername      string     `gorm:"type:varchar(100)" json:"twitter_username"`
	TwitterEmail         *string    `gorm:"type:varchar(255)" json:"twitter_email,omitempty"`
	TwitterSocialAddress string     `gorm:"type:varchar(100)" json:"twitter_social_address"`
	TwitterConnectedAt   *time.Time `json:"twitter_connected_at"`
	TwitterFollowed      bool       `gorm:"default:false;not null" json:"twitter_followed"`
	TwitterFollowedAt    *time.Time `json:"twitter_followed_at"`

	WalletAddress     *string    `gorm:"type:varchar(42);uniqueIndex" json:"wallet_address"`
	WalletConnectedAt *time.Time `json:"wallet_connected_at"`

	ReferralCode           *string    `gorm:"type:varchar(16);uniqueIndex" json:"referral_code"`
	ReferredBy             *string    `gorm:"type:varchar(16);index" json:"referred_by"`
	ReferralCount          int        `gorm:"default:0;not null" json:"referral_count"`
	ReferralCompletedCount int        `gorm:"default:0;not null" json:"referral_completed_count"`
	ReferralCreditedAt     *time.Time `json:"referral_credited_at"`
}

// TableName keeps the users table shared with the landing page backend
func (Participant) TableName() string {
	return "users"
}

// HasDiscord reports whether a Discord identity is attached
func (p *Participant) HasDiscord() bool {
	return p.DiscordProviderID != nil && *p.DiscordProviderID != ""
}

// HasTwitter reports whether an X identity is attached
func (p *Participant) HasTwitter() bool {
	return p.TwitterProviderID != nil && *p.TwitterProviderID != ""
}

// HasWallet reports whether the record is wallet-locked
func (p *Participant) HasWallet() bool {
	return p.WalletAddress != nil && *p.WalletAddress != ""
}

// OAuthState is the durable form of an OAuth handshake state
type OAuthState struct {
	StateKey  string    `gorm:"type:varchar(64);primaryKey" json:"state_key"`
	Data      JSON      `json:"state_data"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

// TableName is the oauth_states table
func (OAuthState) TableName() string {
	return "oauth_states"
}
