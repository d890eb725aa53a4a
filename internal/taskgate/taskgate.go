// Package taskgate derives the Discord → X → Wallet task statuses from a
// participant record. Nothing here is stored: statuses are recomputed on every
// read so they cannot drift from the record.
package taskgate

import (
	"github.com/neftit/taskgate/internal/models"
)

// Status is the state of one task
type Status string

const (
	StatusLocked     Status = "locked"
	StatusUnlocked   Status = "unlocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Tasks holds the three task statuses
type Tasks struct {
	Discord Status `json:"discord"`
	Twitter Status `json:"twitter"`
	Wallet  Status `json:"wallet"`
}

// Session is the authoritative view a client reconciles against
type Session struct {
	ID               string `json:"id"`
	DiscordConnected bool   `json:"discord_connected"`
	DiscordJoined    bool   `json:"discord_joined"`
	TwitterConnected bool   `json:"twitter_connected"`
	TwitterFollowed  bool   `json:"twitter_followed"`
	WalletConnected  bool   `json:"wallet_connected"`
	WalletAddress    string `json:"wallet_address,omitempty"`
	Tasks            Tasks  `json:"tasks"`
}

// Fresh is the view of a visitor without any record: only Discord is reachable
func Fresh() Tasks {
	return Tasks{
		Discord: StatusUnlocked,
		Twitter: StatusLocked,
		Wallet:  StatusLocked,
	}
}

// Compute returns the task statuses of p. A nil record yields Fresh.
func Compute(p *models.Participant) Tasks {
	if p == nil {
		return Fresh()
	}

	discordDone := p.DiscordJoined
	walletDone := p.HasWallet()

	tasks := Tasks{
		Discord: StatusInProgress,
		Twitter: StatusLocked,
		Wallet:  StatusLocked,
	}
	if discordDone {
		tasks.Discord = StatusCompleted
	}

	switch {
	case walletDone:
		tasks.Twitter = StatusCompleted
	case p.TwitterFollowed || discordDone:
		tasks.Twitter = StatusUnlocked
	}

	switch {
	case walletDone:
		tasks.Wallet = StatusCompleted
	case p.TwitterFollowed:
		tasks.Wallet = StatusUnlocked
	}

	return tasks
}

// Project builds the session view of p
func Project(p *models.Participant) Session {
	s := Session{
		ID:               p.ID.String(),
		DiscordConnected: p.HasDiscord(),
		DiscordJoined:    p.DiscordJoined,
		TwitterConnected: p.HasTwitter(),
		TwitterFollowed:  p.TwitterFollowed,
		WalletConnected:  p.HasWallet(),
		Tasks:            Compute(p),
	}
	if p.HasWallet() {
		s.WalletAddress = *p.WalletAddress
	}
	return s
}

// AllCompleted reports whether p finished every task. This is the condition
// for a referral code and for crediting the referrer.
func AllCompleted(p *models.Participant) bool {
	return p != nil && p.DiscordJoined && p.HasTwitter() && p.HasWallet()
}
